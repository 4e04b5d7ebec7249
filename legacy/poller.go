// Package legacy 是 1 秒一次的慢速轮询模式。
//
// 它一次读出端口的全部信息 (状态、字节数、错误数、可选的优先级队列)，
// 适合不需要毫秒级曲线、但想看端口状态和队列分布的场景。
package legacy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs/sysfs"
	psnet "github.com/shirou/gopsutil/v3/net"
	"k8s.io/klog/v2"

	"rdmamon/counter"
	"rdmamon/discovery"
	"rdmamon/history"
	"rdmamon/model"
)

// 例如 "rx_prio3_bytes: 12345"
var queueRegex = regexp.MustCompile(`^\s*(tx|rx)_prio(\d+)_bytes$`)

// ibSource RDMA 端口计数器按端口单独读，一个设备坏了只影响它自己的端口；
// 以太网口的运行状态来自 procfs
type ibSource interface {
	PortCounters(dev, port string) (counters, error)
	NetClassByIface(devicePath string) (*sysfs.NetClassIface, error)
}

// sysfsSource 真实实现：嵌入 procfs 的 sysfs.FS，RDMA 计数器直接读 ports/<n>/counters
type sysfsSource struct {
	sysfs.FS
	root string
}

// PortCounters port_rcv_data / port_xmit_data 必须有，以 4 字节为单位，这里换算成字节；
// port_rcv_errors 和 state 读不到时分别为 0 和 "N/A"
func (s sysfsSource) PortCounters(dev, port string) (counters, error) {
	dir := filepath.Join(s.root, "class", "infiniband", dev, "ports", port)
	rx, err := readCounter(filepath.Join(dir, "counters", "port_rcv_data"))
	if err != nil {
		return counters{}, err
	}
	tx, err := readCounter(filepath.Join(dir, "counters", "port_xmit_data"))
	if err != nil {
		return counters{}, err
	}
	c := counters{rx: rx * 4, tx: tx * 4, state: "N/A"}
	if errs, err := readCounter(filepath.Join(dir, "counters", "port_rcv_errors")); err == nil {
		c.errors = errs
	}
	if b, err := os.ReadFile(filepath.Join(dir, "state")); err == nil {
		if st := discovery.PortState(string(b)); st != "" {
			c.state = st
		}
	}
	return c, nil
}

func readCounter(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := counter.Parse(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ethSource 以太网字节 / 错误计数
type ethSource func(ctx context.Context) ([]psnet.IOCountersStat, error)

// QueueSource *ethtool.Ethtool 实现了它
type QueueSource interface {
	Stats(intf string) (map[string]uint64, error)
}

type counters struct {
	rx, tx uint64
	errors uint64
	state  string
}

type portState struct {
	desc    model.PortDescriptor
	history *history.PortHistory

	stats     model.PortStats
	prev      counters
	hasPrev   bool
	prevQueue map[string]uint64
}

type Poller struct {
	ib     ibSource
	eth    ethSource
	queues QueueSource // nil 表示不监控队列
	start  time.Time

	mu       sync.RWMutex
	ports    []*portState
	lastPoll time.Time
}

// New histories 与 descs 一一对应；queues 为 nil 时不采集队列
func New(sysRoot string, descs []model.PortDescriptor, histories []*history.PortHistory, queues QueueSource) (*Poller, error) {
	fs, err := sysfs.NewFS(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("legacy: %w", err)
	}
	return newPoller(sysfsSource{FS: fs, root: sysRoot}, psnet.IOCountersWithContext, queues, descs, histories), nil
}

func newPoller(ib ibSource, eth func(context.Context, bool) ([]psnet.IOCountersStat, error), queues QueueSource,
	descs []model.PortDescriptor, histories []*history.PortHistory) *Poller {
	p := &Poller{
		ib: ib,
		eth: func(ctx context.Context) ([]psnet.IOCountersStat, error) {
			return eth(ctx, true)
		},
		queues: queues,
		start:  time.Now(),
	}
	for i, d := range descs {
		ps := &portState{desc: d, stats: model.PortStats{Name: d.Name, Type: d.Type, State: "N/A"}}
		if i < len(histories) {
			ps.history = histories[i]
		}
		p.ports = append(p.ports, ps)
	}
	return p
}

// Run 按间隔轮询直到 ctx 取消
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	p.Poll(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Poll(ctx, now)
		}
	}
}

// Snapshot 拷贝出所有端口的最新状态
func (p *Poller) Snapshot() []model.PortStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.PortStats, len(p.ports))
	for i, ps := range p.ports {
		out[i] = ps.stats
		if ps.stats.Queues != nil {
			out[i].Queues = make(map[string]float64, len(ps.stats.Queues))
			for k, v := range ps.stats.Queues {
				out[i].Queues[k] = v
			}
		}
	}
	return out
}

// Poll 读一次全部端口。系统调用和 ethtool 都在锁外完成，只在最后写结果时加锁。
func (p *Poller) Poll(ctx context.Context, now time.Time) {
	current := p.readAll(ctx)
	queues := p.readQueues()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ps := range p.ports {
		elapsed := now.Sub(p.lastPoll).Seconds()
		if p.lastPoll.IsZero() {
			elapsed = 0
		}
		c, ok := current[ps.desc.Name]
		ps.update(c, ok, elapsed)
		if p.queues != nil && ps.desc.NetDev != "" {
			q, qok := queues[ps.desc.NetDev]
			ps.updateQueues(q, qok, elapsed)
		}
		if ps.history != nil && ok {
			ps.history.Push(now.Sub(p.start).Seconds(), ps.stats.RxRate, ps.stats.TxRate)
		}
	}
	p.lastPoll = now
}

func (p *Poller) readAll(ctx context.Context) map[string]counters {
	out := make(map[string]counters)

	needEth := false
	for _, ps := range p.ports {
		if ps.desc.Type != model.PortRdma {
			needEth = true
			continue
		}
		c, err := p.ib.PortCounters(ps.desc.DevicePath, ps.desc.PortNum)
		if err != nil {
			klog.V(1).Infof("legacy: read %s: %v", ps.desc.Name, err)
			continue
		}
		out[ps.desc.Name] = c
	}

	if needEth {
		stats, err := p.eth(ctx)
		if err != nil {
			klog.V(1).Infof("legacy: read net counters: %v", err)
		}
		byName := make(map[string]psnet.IOCountersStat, len(stats))
		for _, s := range stats {
			byName[s.Name] = s
		}
		for _, ps := range p.ports {
			if ps.desc.Type != model.PortEthernet {
				continue
			}
			s, ok := byName[ps.desc.DevicePath]
			if !ok {
				continue
			}
			state := "N/A"
			if iface, err := p.ib.NetClassByIface(ps.desc.DevicePath); err == nil {
				state = strings.ToUpper(iface.OperState)
			}
			out[ps.desc.Name] = counters{rx: s.BytesRecv, tx: s.BytesSent, errors: s.Errin + s.Errout, state: state}
		}
	}
	return out
}

// readQueues 每个网卡一次 ethtool 调用
func (p *Poller) readQueues() map[string]map[string]uint64 {
	if p.queues == nil {
		return nil
	}
	out := make(map[string]map[string]uint64)
	for _, ps := range p.ports {
		dev := ps.desc.NetDev
		if dev == "" {
			continue
		}
		if _, done := out[dev]; done {
			continue
		}
		stats, err := p.queues.Stats(dev)
		if err != nil {
			klog.V(1).Infof("legacy: ethtool %s: %v", dev, err)
			continue
		}
		out[dev] = parseQueues(stats)
	}
	return out
}

// parseQueues 只保留 (tx|rx)_prio<N>_bytes，键改成 "RX Prio3" 的形式
func parseQueues(stats map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64)
	for k, v := range stats {
		m := queueRegex.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		out[strings.ToUpper(m[1])+" Prio"+m[2]] = v
	}
	return out
}

func (ps *portState) update(c counters, ok bool, elapsed float64) {
	if !ok {
		ps.stats.ReadError = true
		ps.stats.RxRate, ps.stats.TxRate = 0, 0
		return
	}
	ps.stats.ReadError = false
	ps.stats.State = c.state
	ps.stats.Errors = c.errors

	if ps.hasPrev && elapsed > 0 {
		ps.stats.RxRate = float64(saturatingSub(c.rx, ps.prev.rx)) / elapsed
		ps.stats.TxRate = float64(saturatingSub(c.tx, ps.prev.tx)) / elapsed
	} else {
		ps.stats.RxRate, ps.stats.TxRate = 0, 0
	}
	ps.prev = c
	ps.hasPrev = true
}

func (ps *portState) updateQueues(q map[string]uint64, ok bool, elapsed float64) {
	if !ok {
		ps.stats.QueueError = true
		ps.stats.Queues = nil
		return
	}
	ps.stats.QueueError = false
	speeds := make(map[string]float64)
	if elapsed > 0 {
		for name, v := range q {
			if prev, seen := ps.prevQueue[name]; seen {
				speeds[name] = float64(saturatingSub(v, prev)) / elapsed
			}
		}
	}
	ps.stats.Queues = speeds
	ps.prevQueue = q
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
