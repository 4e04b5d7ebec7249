// Package discovery 枚举 sysfs 下的 RDMA 端口和物理以太网口
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs/sysfs"
	"k8s.io/klog/v2"

	"rdmamon/model"
)

// ErrDiscovery sysfs 根目录本身读不了；没有设备不算错误
var ErrDiscovery = errors.New("discovery: device namespace unreadable")

type Options struct {
	SysRoot  string   // 一般是 /sys
	All      bool     // 监控全部端口
	Names    []string // All 为 false 时只要这些端口
	Ethernet bool     // 是否也发现物理以太网口
	NetDevs  bool     // 为 RDMA 端口查找对应网卡名 (队列监控用)
}

// Discover 返回按名字排序的端口描述
func Discover(opts Options) ([]model.PortDescriptor, error) {
	classRoot := filepath.Join(opts.SysRoot, "class")
	if _, err := os.ReadDir(classRoot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	fs, err := sysfs.NewFS(opts.SysRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	ports := rdmaPorts(opts)
	if opts.Ethernet {
		eth, err := ethernetPorts(fs, opts.SysRoot)
		if err != nil {
			return nil, err
		}
		ports = append(ports, eth...)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return filter(ports, opts), nil
}

// rdmaPorts 逐个设备列出 ports/<n>。state、link_layer 读不到就留空，
// 单个设备的目录不完整 (soft-RoCE、VF、老内核) 不影响其它设备
func rdmaPorts(opts Options) []model.PortDescriptor {
	ibRoot := filepath.Join(opts.SysRoot, "class", "infiniband")
	devs, err := os.ReadDir(ibRoot)
	if err != nil {
		return nil
	}

	var ports []model.PortDescriptor
	for _, dev := range devs {
		devName := dev.Name()
		nums, err := os.ReadDir(filepath.Join(ibRoot, devName, "ports"))
		if err != nil {
			klog.V(1).Infof("infiniband %s: no ports: %v", devName, err)
			continue
		}
		netDev := ""
		if opts.NetDevs {
			netDev = findNetDev(opts.SysRoot, devName)
		}
		for _, num := range nums {
			portNum := num.Name()
			if _, err := strconv.ParseUint(portNum, 10, 32); err != nil {
				continue
			}
			portDir := filepath.Join(ibRoot, devName, "ports", portNum)
			ports = append(ports, model.PortDescriptor{
				Name:       devName + "-" + portNum,
				Type:       model.PortRdma,
				DevicePath: devName,
				PortNum:    portNum,
				State:      PortState(readAttr(filepath.Join(portDir, "state"))),
				LinkLayer:  readAttr(filepath.Join(portDir, "link_layer")),
				NetDev:     netDev,
			})
		}
	}
	return ports
}

// PortState "4: ACTIVE" -> "ACTIVE"
func PortState(raw string) string {
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		return strings.TrimSpace(raw[i+1:])
	}
	return strings.TrimSpace(raw)
}

// ethernetPorts 只要带 device 链接的接口，lo / bridge / veth 之类的虚拟接口没有
func ethernetPorts(fs sysfs.FS, sysRoot string) ([]model.PortDescriptor, error) {
	netRoot := filepath.Join(sysRoot, "class", "net")
	if !isDir(netRoot) {
		return nil, nil
	}
	names, err := fs.NetClassDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: net: %v", ErrDiscovery, err)
	}

	var ports []model.PortDescriptor
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(netRoot, name, "device")); err != nil {
			continue
		}
		ports = append(ports, model.PortDescriptor{
			Name:       name,
			Type:       model.PortEthernet,
			DevicePath: name,
			State:      readAttr(filepath.Join(netRoot, name, "operstate")),
			NetDev:     name,
		})
	}
	return ports, nil
}

func filter(ports []model.PortDescriptor, opts Options) []model.PortDescriptor {
	if opts.All {
		return ports
	}
	want := make(map[string]bool, len(opts.Names))
	for _, n := range opts.Names {
		want[n] = true
	}
	var out []model.PortDescriptor
	for _, p := range ports {
		if want[p.Name] {
			out = append(out, p)
			delete(want, p.Name)
		}
	}
	for n := range want {
		klog.Warningf("port %q not found, skipping", n)
	}
	return out
}

// findNetDev RDMA 设备对应的第一个网卡，例如 mlx5_0 -> ens1f0np0
func findNetDev(sysRoot, devName string) string {
	entries, err := os.ReadDir(filepath.Join(sysRoot, "class", "infiniband", devName, "device", "net"))
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[0].Name()
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
