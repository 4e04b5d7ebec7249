// Package config 命令行参数和可选的 YAML 配置文件。
// 配置在启动时确定，按值传给各个采样线程，运行期间不再修改。
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	MinCommitInterval = 10 * time.Millisecond
	MaxCommitInterval = 50 * time.Millisecond
)

type Config struct {
	SysRoot  string   `yaml:"sys-root"`
	All      bool     `yaml:"all"`
	Ports    []string `yaml:"ports"`
	Ethernet bool     `yaml:"ethernet"`

	SampleInterval  time.Duration `yaml:"sample-interval"`
	CommitInterval  time.Duration `yaml:"commit-interval"`
	HistoryCapacity int           `yaml:"history-capacity"`
	RefreshInterval time.Duration `yaml:"refresh-interval"`

	// 慢速轮询模式 (1s)，可选按优先级队列统计
	Legacy         bool          `yaml:"legacy"`
	LegacyInterval time.Duration `yaml:"legacy-interval"`
	MonitorQueues  bool          `yaml:"monitor-queues"`

	// 非终端 / -batch 时逐行输出
	Batch         bool          `yaml:"batch"`
	BatchInterval time.Duration `yaml:"batch-interval"`
}

func Default() Config {
	return Config{
		SysRoot:         "/sys",
		Ethernet:        true,
		SampleInterval:  time.Millisecond,
		CommitInterval:  50 * time.Millisecond,
		HistoryCapacity: 200,
		RefreshInterval: 100 * time.Millisecond,
		LegacyInterval:  time.Second,
		BatchInterval:   time.Second,
	}
}

// Load 先读 -config 指定的 YAML，再用命令行上显式给出的参数覆盖
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	var (
		fc    = Default()
		ports string
	)
	path := fs.String("config", "", "path to a YAML config file")
	fs.BoolVar(&fc.All, "a", fc.All, "monitor all ports")
	fs.BoolVar(&fc.All, "all", fc.All, "monitor all ports")
	fs.StringVar(&ports, "i", "", "comma separated ports to monitor, e.g. mlx5_0-1,eth0")
	fs.StringVar(&fc.SysRoot, "sys", fc.SysRoot, "sysfs mount point")
	fs.BoolVar(&fc.Ethernet, "ethernet", fc.Ethernet, "also discover physical Ethernet ports")
	fs.DurationVar(&fc.SampleInterval, "sample", fc.SampleInterval, "counter sampling period")
	fs.DurationVar(&fc.CommitInterval, "commit", fc.CommitInterval, "peak commit window (10ms-50ms)")
	fs.IntVar(&fc.HistoryCapacity, "history", fc.HistoryCapacity, "points kept per port")
	fs.DurationVar(&fc.RefreshInterval, "refresh", fc.RefreshInterval, "dashboard redraw period")
	fs.BoolVar(&fc.Legacy, "legacy", fc.Legacy, "use the 1s polling mode instead of the 1ms samplers")
	fs.DurationVar(&fc.LegacyInterval, "legacy-interval", fc.LegacyInterval, "polling period in legacy mode")
	fs.BoolVar(&fc.MonitorQueues, "q", fc.MonitorQueues, "per-priority queue statistics via ethtool (legacy mode)")
	fs.BoolVar(&fc.Batch, "batch", fc.Batch, "print plain lines instead of the dashboard")
	fs.DurationVar(&fc.BatchInterval, "batch-interval", fc.BatchInterval, "line output period")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if ports != "" {
		fc.Ports = splitPorts(ports)
	}

	cfg := Default()
	if *path != "" {
		b, err := os.ReadFile(*path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", *path, err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a", "all":
			cfg.All = fc.All
		case "i":
			cfg.Ports = fc.Ports
		case "sys":
			cfg.SysRoot = fc.SysRoot
		case "ethernet":
			cfg.Ethernet = fc.Ethernet
		case "sample":
			cfg.SampleInterval = fc.SampleInterval
		case "commit":
			cfg.CommitInterval = fc.CommitInterval
		case "history":
			cfg.HistoryCapacity = fc.HistoryCapacity
		case "refresh":
			cfg.RefreshInterval = fc.RefreshInterval
		case "legacy":
			cfg.Legacy = fc.Legacy
		case "legacy-interval":
			cfg.LegacyInterval = fc.LegacyInterval
		case "q":
			cfg.MonitorQueues = fc.MonitorQueues
		case "batch":
			cfg.Batch = fc.Batch
		case "batch-interval":
			cfg.BatchInterval = fc.BatchInterval
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.All && len(c.Ports) > 0:
		return fmt.Errorf("%w: -a and -i are mutually exclusive", ErrInvalid)
	case !c.All && len(c.Ports) == 0:
		return fmt.Errorf("%w: need -a or -i <ports>", ErrInvalid)
	case c.CommitInterval < MinCommitInterval || c.CommitInterval > MaxCommitInterval:
		return fmt.Errorf("%w: commit interval %v outside [%v, %v]", ErrInvalid, c.CommitInterval, MinCommitInterval, MaxCommitInterval)
	case c.SampleInterval <= 0 || c.SampleInterval >= c.CommitInterval:
		return fmt.Errorf("%w: sample interval %v must be positive and below the commit interval", ErrInvalid, c.SampleInterval)
	case c.HistoryCapacity <= 0:
		return fmt.Errorf("%w: history capacity %d", ErrInvalid, c.HistoryCapacity)
	case c.RefreshInterval <= 0 || c.LegacyInterval <= 0 || c.BatchInterval <= 0:
		return fmt.Errorf("%w: refresh, legacy and batch intervals must be positive", ErrInvalid)
	case c.SysRoot == "":
		return fmt.Errorf("%w: empty sysfs root", ErrInvalid)
	}
	return nil
}

func splitPorts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
