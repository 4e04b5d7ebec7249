package model

import "path/filepath"

// PortType 区分计数器来源：RDMA (InfiniBand/RoCE) 或物理以太网口
type PortType int

const (
	PortRdma PortType = iota
	PortEthernet
)

func (t PortType) String() string {
	switch t {
	case PortRdma:
		return "RDMA"
	case PortEthernet:
		return "ETH"
	}
	return "?"
}

// BytesPerCount 计数器单位换算：
// RDMA 的 port_rcv_data / port_xmit_data 以 4 字节 (word) 为单位，以太网统计直接就是字节
func (t PortType) BytesPerCount() float64 {
	if t == PortRdma {
		return 4
	}
	return 1
}

// PortDescriptor 由端口发现产生，引擎构造时只读一次
type PortDescriptor struct {
	Name       string   // 显示名，例如 "mlx5_0-1" 或 "eth0"
	Type       PortType // RDMA / ETH，决定计数器路径和单位
	DevicePath string   // 设备名，例如 "mlx5_0" / "eth0"
	PortNum    string   // RDMA 端口号，以太网为空
	State      string   // 发现时的端口状态 (ACTIVE / up ...)，仅用于展示
	LinkLayer  string   // InfiniBand / Ethernet，RDMA 端口才有
	NetDev     string   // 对应的网卡名，队列监控 (ethtool) 用
}

// CounterPaths 返回 rx / tx 两个计数器文件的路径
func (d PortDescriptor) CounterPaths(sysRoot string) (rx, tx string) {
	if d.Type == PortRdma {
		base := filepath.Join(sysRoot, "class", "infiniband", d.DevicePath, "ports", d.PortNum, "counters")
		return filepath.Join(base, "port_rcv_data"), filepath.Join(base, "port_xmit_data")
	}
	base := filepath.Join(sysRoot, "class", "net", d.DevicePath, "statistics")
	return filepath.Join(base, "rx_bytes"), filepath.Join(base, "tx_bytes")
}

// HistoryPoint 一次提交的窗口峰值，rx / tx 成对写入，保证两条曲线时间轴对齐
type HistoryPoint struct {
	Time float64 // 相对引擎启动的秒数
	Rx   float64 // Bps
	Tx   float64 // Bps
}

// PortStats 慢速轮询模式 (legacy) 下每个端口的完整状态
type PortStats struct {
	Name   string
	Type   PortType
	State  string
	RxRate float64 // Bps
	TxRate float64 // Bps
	Errors uint64

	// "RX Prio3" -> Bps
	Queues map[string]float64

	ReadError  bool
	QueueError bool
}
