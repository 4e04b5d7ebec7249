//go:build linux

package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
	"k8s.io/klog/v2"

	"rdmamon/config"
	"rdmamon/discovery"
	"rdmamon/history"
	"rdmamon/legacy"
	"rdmamon/sampler"
)

const version = "0.3.0"

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	// 1. 参数 + 可选配置文件
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		klog.Exitf("rdmamon: %v", err)
	}

	// 2. 扫描 sysfs 找端口
	ports, err := discovery.Discover(discovery.Options{
		SysRoot:  cfg.SysRoot,
		All:      cfg.All,
		Names:    cfg.Ports,
		Ethernet: cfg.Ethernet,
		NetDevs:  cfg.MonitorQueues,
	})
	if err != nil {
		klog.Exitf("rdmamon: %v", err)
	}
	if len(ports) == 0 {
		klog.Exit("rdmamon: no matching ports found")
	}

	// 全屏界面占用终端时，日志不能再写 stderr：有 -log_file 就写文件，否则丢弃
	tty := !cfg.Batch && term.IsTerminal(int(os.Stdout.Fd()))
	if tty {
		klog.LogToStderr(false)
		if f := flag.Lookup("log_file"); f == nil || f.Value.String() == "" {
			klog.SetOutput(io.Discard)
		}
	}

	// 3. 每个端口一份历史，然后启动数据来源
	mon := &monitor{ports: ports}
	for _, p := range ports {
		mon.hists = append(mon.hists, history.New(p.Name, p.Type, cfg.HistoryCapacity))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Legacy {
		var queues legacy.QueueSource
		if cfg.MonitorQueues {
			q, closeQueues, err := openQueueSource()
			if err != nil {
				klog.Warningf("queue monitoring disabled: %v", err)
			} else {
				defer closeQueues()
				queues = q
			}
		}
		poller, err := legacy.New(cfg.SysRoot, ports, mon.hists, queues)
		if err != nil {
			klog.Exitf("rdmamon: %v", err)
		}
		mon.poller = poller
		go poller.Run(ctx, cfg.LegacyInterval)
	} else {
		scfg := sampler.Config{SampleInterval: cfg.SampleInterval, CommitInterval: cfg.CommitInterval}
		for i, p := range ports {
			mon.engines = append(mon.engines, sampler.Spawn(p, cfg.SysRoot, mon.hists[i], scfg))
		}
	}
	klog.V(2).Infof("monitoring %d ports (legacy=%v)", len(ports), cfg.Legacy)

	// 4. 全屏仪表盘或逐行输出，直到退出键或信号
	if tty {
		if err := runDashboard(ctx, mon, cfg.RefreshInterval); err != nil {
			klog.Exitf("rdmamon: %v", err)
		}
	} else {
		runBatch(ctx, os.Stdout, mon, cfg.BatchInterval)
	}

	for _, e := range mon.engines {
		if n := e.SkippedCommits(); n > 0 {
			klog.V(2).Infof("sampler %s: %d commits deferred by readers", e.Name(), n)
		}
	}
}
