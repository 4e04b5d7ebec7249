// Package history 是每个端口的有界时间序列，由采样引擎写、界面读。
//
// 锁的用法是不对称的：写端 (1ms 采样线程) 只用 TryLock，拿不到就放弃这一次；
// 读端 (100ms 刷新) 可以短暂阻塞，但必须把数据拷出来后立刻释放锁。
package history

import (
	"sync"

	"rdmamon/model"
)

// DefaultCapacity 与界面宽度匹配，50ms 一个点大约 10 秒的窗口
const DefaultCapacity = 200

// PortHistory 固定容量的环形缓冲区，满了之后按 FIFO 淘汰最旧的点
type PortHistory struct {
	name     string
	portType model.PortType

	mu     sync.RWMutex
	points []model.HistoryPoint // 环形存储，长度固定为容量
	head   int                  // 最旧的点
	count  int
}

func New(name string, portType model.PortType, capacity int) *PortHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PortHistory{
		name:     name,
		portType: portType,
		points:   make([]model.HistoryPoint, capacity),
	}
}

func (h *PortHistory) Name() string { return h.name }

func (h *PortHistory) Type() model.PortType { return h.portType }

func (h *PortHistory) Capacity() int { return len(h.points) }

// TryPush 非阻塞写：锁被读者占着就返回 false，调用方保留自己的峰值下次再试
func (h *PortHistory) TryPush(t, rx, tx float64) bool {
	if !h.mu.TryLock() {
		return false
	}
	h.push(t, rx, tx)
	h.mu.Unlock()
	return true
}

// Push 阻塞写，只给慢速轮询模式用
func (h *PortHistory) Push(t, rx, tx float64) {
	h.mu.Lock()
	h.push(t, rx, tx)
	h.mu.Unlock()
}

func (h *PortHistory) push(t, rx, tx float64) {
	capacity := len(h.points)
	p := model.HistoryPoint{Time: t, Rx: rx, Tx: tx}
	if h.count < capacity {
		h.points[(h.head+h.count)%capacity] = p
		h.count++
		return
	}
	// 满了：覆盖最旧的点，head 后移
	h.points[h.head] = p
	h.head = (h.head + 1) % capacity
}

func (h *PortHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// View 持读锁按时间顺序回调每个点。fn 只能做很轻的事，
// 写端在此期间的 TryPush 都会失败。
func (h *PortHistory) View(fn func(p model.HistoryPoint)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	capacity := len(h.points)
	for i := 0; i < h.count; i++ {
		fn(h.points[(h.head+i)%capacity])
	}
}

// Snapshot 按时间顺序拷贝出全部点，调用方拿到的是私有副本
func (h *PortHistory) Snapshot() Snapshot {
	h.mu.RLock()
	out := make([]model.HistoryPoint, h.count)
	n := copy(out, h.points[h.head:min(h.head+h.count, len(h.points))])
	copy(out[n:], h.points[:h.count-n])
	h.mu.RUnlock()

	return Snapshot{Name: h.name, Type: h.portType, Points: out}
}

// Snapshot 某一时刻的历史副本，读锁外使用
type Snapshot struct {
	Name   string
	Type   model.PortType
	Points []model.HistoryPoint
}

func (s Snapshot) Rx() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Rx
	}
	return out
}

func (s Snapshot) Tx() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Tx
	}
	return out
}

// Last 最新的点，没有数据时 ok 为 false
func (s Snapshot) Last() (model.HistoryPoint, bool) {
	if len(s.Points) == 0 {
		return model.HistoryPoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Peak 窗口内各方向的最大值
func (s Snapshot) Peak() (rx, tx float64) {
	for _, p := range s.Points {
		if p.Rx > rx {
			rx = p.Rx
		}
		if p.Tx > tx {
			tx = p.Tx
		}
	}
	return rx, tx
}
