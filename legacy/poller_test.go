package legacy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/procfs/sysfs"
	psnet "github.com/shirou/gopsutil/v3/net"

	"rdmamon/counter"
	"rdmamon/history"
	"rdmamon/model"
)

type fakeIB struct {
	rx, tx, errs uint64
	state        string
	err          error
	failDev      string // 只有这个设备读失败
}

func (f *fakeIB) PortCounters(dev, port string) (counters, error) {
	if f.err != nil {
		return counters{}, f.err
	}
	if dev == f.failDev {
		return counters{}, errors.New("no such file or directory")
	}
	return counters{rx: f.rx, tx: f.tx, errors: f.errs, state: f.state}, nil
}

func (f *fakeIB) NetClassByIface(name string) (*sysfs.NetClassIface, error) {
	return &sysfs.NetClassIface{Name: name, OperState: "up"}, nil
}

type fakeEth struct {
	rx, tx uint64
}

func (f *fakeEth) read(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error) {
	if !pernic {
		return nil, errors.New("want per-nic counters")
	}
	return []psnet.IOCountersStat{
		{Name: "lo", BytesRecv: 1, BytesSent: 1},
		{Name: "eth0", BytesRecv: f.rx, BytesSent: f.tx, Errin: 2, Errout: 1},
	}, nil
}

type fakeQueues struct {
	stats map[string]uint64
	err   error
}

func (f *fakeQueues) Stats(intf string) (map[string]uint64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]uint64, len(f.stats))
	for k, v := range f.stats {
		out[k] = v
	}
	return out, nil
}

var (
	ibDesc  = model.PortDescriptor{Name: "mlx5_0-1", Type: model.PortRdma, DevicePath: "mlx5_0", PortNum: "1", NetDev: "ens1f0np0"}
	ethDesc = model.PortDescriptor{Name: "eth0", Type: model.PortEthernet, DevicePath: "eth0", NetDev: "eth0"}
	t0      = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestPollRates(t *testing.T) {
	ib := &fakeIB{rx: 1000, tx: 2000, state: "ACTIVE"}
	eth := &fakeEth{rx: 500, tx: 100}
	descs := []model.PortDescriptor{ibDesc, ethDesc}
	hists := []*history.PortHistory{
		history.New(ibDesc.Name, ibDesc.Type, 10),
		history.New(ethDesc.Name, ethDesc.Type, 10),
	}
	p := newPoller(ib, eth.read, nil, descs, hists)

	p.Poll(context.Background(), t0)
	stats := p.Snapshot()
	if stats[0].RxRate != 0 || stats[1].RxRate != 0 {
		t.Fatalf("first poll produced rates: %+v", stats)
	}
	if stats[0].State != "ACTIVE" || stats[1].State != "UP" {
		t.Fatalf("states = %q/%q", stats[0].State, stats[1].State)
	}

	ib.rx, ib.tx = 3000, 2000
	eth.rx, eth.tx = 1500, 50 // tx 变小：饱和为 0
	p.Poll(context.Background(), t0.Add(2*time.Second))
	stats = p.Snapshot()

	if stats[0].RxRate != 1000 || stats[0].TxRate != 0 {
		t.Errorf("rdma rates = %v/%v, want 1000/0", stats[0].RxRate, stats[0].TxRate)
	}
	if stats[1].RxRate != 500 || stats[1].TxRate != 0 {
		t.Errorf("eth rates = %v/%v, want 500/0", stats[1].RxRate, stats[1].TxRate)
	}
	if stats[1].Errors != 3 {
		t.Errorf("eth errors = %d, want 3", stats[1].Errors)
	}
	if hists[0].Len() != 2 || hists[1].Len() != 2 {
		t.Errorf("history lengths = %d/%d, want 2/2", hists[0].Len(), hists[1].Len())
	}
	last, _ := hists[0].Snapshot().Last()
	if last.Rx != 1000 {
		t.Errorf("history last rx = %v, want 1000", last.Rx)
	}
}

func TestPollReadError(t *testing.T) {
	ib := &fakeIB{err: errors.New("no such device")}
	p := newPoller(ib, (&fakeEth{}).read, nil, []model.PortDescriptor{ibDesc}, nil)

	p.Poll(context.Background(), t0)
	stats := p.Snapshot()
	if !stats[0].ReadError {
		t.Fatalf("ReadError not set: %+v", stats[0])
	}

	ib.err = nil
	ib.state = "ACTIVE"
	p.Poll(context.Background(), t0.Add(time.Second))
	if stats = p.Snapshot(); stats[0].ReadError {
		t.Fatalf("ReadError still set after recovery: %+v", stats[0])
	}
}

func TestPollQueues(t *testing.T) {
	q := &fakeQueues{stats: map[string]uint64{
		"rx_prio3_bytes":   1000,
		"tx_prio3_bytes":   0,
		"rx_prio3_packets": 10,
		"rx_bytes":         99999,
	}}
	p := newPoller(&fakeIB{state: "ACTIVE"}, (&fakeEth{}).read, q, []model.PortDescriptor{ibDesc}, nil)

	p.Poll(context.Background(), t0)
	if got := p.Snapshot()[0].Queues; len(got) != 0 {
		t.Fatalf("first poll queue speeds = %v, want none", got)
	}

	q.stats["rx_prio3_bytes"] = 5000
	q.stats["tx_prio3_bytes"] = 400
	p.Poll(context.Background(), t0.Add(2*time.Second))

	want := map[string]float64{"RX Prio3": 2000, "TX Prio3": 200}
	if got := p.Snapshot()[0].Queues; !reflect.DeepEqual(got, want) {
		t.Fatalf("queue speeds = %v, want %v", got, want)
	}

	q.err = errors.New("operation not permitted")
	p.Poll(context.Background(), t0.Add(3*time.Second))
	if s := p.Snapshot()[0]; !s.QueueError || s.Queues != nil {
		t.Fatalf("queue error not reported: %+v", s)
	}
}

func TestParseQueues(t *testing.T) {
	got := parseQueues(map[string]uint64{
		"tx_prio0_bytes":    1,
		"rx_prio7_bytes":    2,
		"tx_prio0_pause":    3,
		"rx_vport_bytes":    4,
		"ch0_rx_prio_bytes": 5,
	})
	want := map[string]uint64{"TX Prio0": 1, "RX Prio7": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseQueues = %v, want %v", got, want)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	q := &fakeQueues{stats: map[string]uint64{"rx_prio1_bytes": 0}}
	p := newPoller(&fakeIB{state: "ACTIVE"}, (&fakeEth{}).read, q, []model.PortDescriptor{ibDesc}, nil)
	p.Poll(context.Background(), t0)
	q.stats["rx_prio1_bytes"] = 10
	p.Poll(context.Background(), t0.Add(time.Second))

	snap := p.Snapshot()
	snap[0].Queues["RX Prio1"] = -1
	if p.Snapshot()[0].Queues["RX Prio1"] != 10 {
		t.Fatal("Snapshot shares the queue map with the poller")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newPoller(&fakeIB{state: "ACTIVE"}, (&fakeEth{}).read, nil, []model.PortDescriptor{ibDesc}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPollOneDeviceFails(t *testing.T) {
	other := model.PortDescriptor{Name: "rxe0-1", Type: model.PortRdma, DevicePath: "rxe0", PortNum: "1"}
	ib := &fakeIB{rx: 1000, tx: 1000, state: "ACTIVE", failDev: "rxe0"}
	p := newPoller(ib, (&fakeEth{}).read, nil, []model.PortDescriptor{ibDesc, other}, nil)

	p.Poll(context.Background(), t0)
	ib.rx = 3000
	p.Poll(context.Background(), t0.Add(time.Second))

	stats := p.Snapshot()
	if stats[0].ReadError || stats[0].RxRate != 2000 {
		t.Errorf("healthy port = %+v, want rx 2000 without read error", stats[0])
	}
	if !stats[1].ReadError {
		t.Errorf("failing port = %+v, want read error", stats[1])
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSysfsPortCounters(t *testing.T) {
	sys := t.TempDir()
	port := filepath.Join(sys, "class", "infiniband", "mlx5_0", "ports", "1")
	writeFile(t, filepath.Join(port, "counters", "port_rcv_data"), "100\n")
	writeFile(t, filepath.Join(port, "counters", "port_xmit_data"), "25\n")
	writeFile(t, filepath.Join(port, "counters", "port_rcv_errors"), "7\n")
	writeFile(t, filepath.Join(port, "state"), "4: ACTIVE\n")
	// 只有计数器、没有 state 和 port_rcv_errors 的设备
	bare := filepath.Join(sys, "class", "infiniband", "rxe0", "ports", "1")
	writeFile(t, filepath.Join(bare, "counters", "port_rcv_data"), "1\n")
	writeFile(t, filepath.Join(bare, "counters", "port_xmit_data"), "2\n")

	src := sysfsSource{root: sys}
	got, err := src.PortCounters("mlx5_0", "1")
	if err != nil {
		t.Fatal(err)
	}
	if want := (counters{rx: 400, tx: 100, errors: 7, state: "ACTIVE"}); got != want {
		t.Errorf("mlx5_0 = %+v, want %+v", got, want)
	}

	got, err = src.PortCounters("rxe0", "1")
	if err != nil {
		t.Fatal(err)
	}
	if want := (counters{rx: 4, tx: 8, state: "N/A"}); got != want {
		t.Errorf("rxe0 = %+v, want %+v", got, want)
	}

	if _, err := src.PortCounters("mlx5_9", "1"); err == nil {
		t.Error("missing device read without error")
	}
	writeFile(t, filepath.Join(port, "counters", "port_xmit_data"), "garbage\n")
	if _, err := src.PortCounters("mlx5_0", "1"); !errors.Is(err, counter.ErrParse) {
		t.Errorf("corrupted counter error = %v, want ErrParse", err)
	}
}
