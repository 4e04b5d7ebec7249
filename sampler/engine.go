// Package sampler 实现每个端口一个的 1ms 采样引擎。
//
// 每个引擎跑在自己独占的 OS 线程上，按绝对截止时间调度 (防漂移)，
// 在提交窗口内做峰值保持，只在窗口结束时非阻塞地写一次共享历史。
// 引擎没有取消信号，随进程退出而结束。
package sampler

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"rdmamon/counter"
	"rdmamon/history"
	"rdmamon/model"
)

const (
	DefaultSampleInterval = time.Millisecond
	DefaultCommitInterval = 50 * time.Millisecond

	// 两次采样间隔小于它就不计算速率，避免除以接近 0 的数
	minElapsed = time.Microsecond
)

// State 引擎状态机：Uninitialized -> Initialized -> Running，打开失败直接 Terminated
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config 在线程启动时按值拷贝，之后不再修改
type Config struct {
	SampleInterval time.Duration
	CommitInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = DefaultCommitInterval
	}
	return c
}

// Reader 一个可以反复读取的计数器，*counter.Source 实现了它
type Reader interface {
	Read() (uint64, error)
}

type Engine struct {
	name          string
	rx, tx        Reader
	history       *history.PortHistory
	bytesPerCount float64
	cfg           Config

	state   atomic.Int32
	skipped atomic.Uint64

	// 以下只由引擎自己的线程读写
	start       time.Time
	initialized bool
	prevRx      uint64
	prevTx      uint64
	prevSample  time.Time

	// 局部峰值保持器：窗口期内完全不碰锁
	peakRx     float64
	peakTx     float64
	lastCommit time.Time

	closers []*counter.Source
}

// New 打开 rx/tx 两个计数器文件，失败返回 counter.ErrOpen
func New(desc model.PortDescriptor, sysRoot string, h *history.PortHistory, cfg Config) (*Engine, error) {
	e := newEngine(desc, nil, nil, h, cfg, time.Now())
	if err := e.open(desc, sysRoot); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) open(desc model.PortDescriptor, sysRoot string) error {
	rxPath, txPath := desc.CounterPaths(sysRoot)
	rx, err := counter.Open(rxPath)
	if err != nil {
		e.state.Store(int32(StateTerminated))
		return fmt.Errorf("port %s: %w", desc.Name, err)
	}
	tx, err := counter.Open(txPath)
	if err != nil {
		rx.Close()
		e.state.Store(int32(StateTerminated))
		return fmt.Errorf("port %s: %w", desc.Name, err)
	}
	e.rx, e.tx = rx, tx
	e.closers = []*counter.Source{rx, tx}
	return nil
}

func newEngine(desc model.PortDescriptor, rx, tx Reader, h *history.PortHistory, cfg Config, start time.Time) *Engine {
	return &Engine{
		name:          desc.Name,
		rx:            rx,
		tx:            tx,
		history:       h,
		bytesPerCount: desc.Type.BytesPerCount(),
		cfg:           cfg.withDefaults(),
		start:         start,
		lastCommit:    start,
	}
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) State() State { return State(e.state.Load()) }

// SkippedCommits 因读者占锁而推迟的提交次数
func (e *Engine) SkippedCommits() uint64 { return e.skipped.Load() }

// Spawn 为端口启动一个独占 OS 线程的采样 goroutine，立即返回引擎句柄。
// 计数器在线程里打开；打不开时记一条日志、状态置为 Terminated 并退出这个线程，不影响其它端口。
func Spawn(desc model.PortDescriptor, sysRoot string, h *history.PortHistory, cfg Config) *Engine {
	e := newEngine(desc, nil, nil, h, cfg, time.Now())
	go func() {
		runtime.LockOSThread()
		if err := e.open(desc, sysRoot); err != nil {
			klog.Warningf("sampler stopped: %v", err)
			return
		}
		klog.V(2).Infof("sampler %s: started, sample=%v commit=%v", e.name, e.cfg.SampleInterval, e.cfg.CommitInterval)
		e.Run()
	}()
	return e
}

// Run 永远循环，直到进程退出
func (e *Engine) Run() {
	e.loop(nil)
}

// loop stop 为 nil 时永不返回，测试用它来结束循环
func (e *Engine) loop(stop <-chan struct{}) {
	defer e.close()

	deadline := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		// 绝对时间锚点：下一次 = 上一次截止时间 + 固定间隔，而不是 now + 间隔
		deadline = deadline.Add(e.cfg.SampleInterval)

		e.tick(time.Now())

		var wait time.Duration
		wait, deadline = pace(deadline, time.Now())
		if wait > 0 {
			time.Sleep(wait)
		}
	}
}

// pace 计算距离截止时间还要睡多久。
// 已经超时 (持续过载) 就把锚点重置到现在，不去补欠下的 tick，防止雪崩式追赶。
func pace(deadline, now time.Time) (time.Duration, time.Time) {
	if deadline.After(now) {
		return deadline.Sub(now), deadline
	}
	return 0, now
}

// tick 一次采样：读计数器、算速率、更新峰值、到点尝试提交
func (e *Engine) tick(now time.Time) {
	rx, rxErr := e.rx.Read()
	tx, txErr := e.tx.Read()
	ok := rxErr == nil && txErr == nil

	if !e.initialized {
		// 第一次成功读取只建立基准，不算速率；提交窗口也从这里开始
		if ok {
			e.prevRx, e.prevTx, e.prevSample = rx, tx, now
			e.lastCommit = now
			e.initialized = true
			e.state.Store(int32(StateInitialized))
		}
		return
	}
	e.state.Store(int32(StateRunning))

	// 读失败 (设备拔出 / 内容损坏)：保留旧基准，这一拍不贡献数据
	if ok {
		elapsed := now.Sub(e.prevSample)
		// 计数器变小说明溢出或被重置，这一帧作废，只更新基准
		if elapsed > minElapsed && rx >= e.prevRx && tx >= e.prevTx {
			secs := elapsed.Seconds()
			rxRate := float64(rx-e.prevRx) * e.bytesPerCount / secs
			txRate := float64(tx-e.prevTx) * e.bytesPerCount / secs
			if rxRate > e.peakRx {
				e.peakRx = rxRate
			}
			if txRate > e.peakTx {
				e.peakTx = txRate
			}
		}
		e.prevRx, e.prevTx, e.prevSample = rx, tx, now
	}

	if now.Sub(e.lastCommit) >= e.cfg.CommitInterval {
		e.commit(now)
	}
}

// commit 非阻塞提交峰值。拿不到锁就保留峰值，下一拍再试，
// 这一段的提交粒度变粗但不丢峰值。
func (e *Engine) commit(now time.Time) {
	t := now.Sub(e.start).Seconds()
	if !e.history.TryPush(t, e.peakRx, e.peakTx) {
		e.skipped.Add(1)
		return
	}
	e.peakRx, e.peakTx = 0, 0
	e.lastCommit = now
}

func (e *Engine) close() {
	for _, c := range e.closers {
		c.Close()
	}
}
