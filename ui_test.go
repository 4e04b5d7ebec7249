package main

import (
	"reflect"
	"strings"
	"testing"

	"rdmamon/model"
)

func TestPlotDataPadsShortSeries(t *testing.T) {
	got := plotData(nil, nil, 10)
	if want := [][]float64{{0, 0}, {0, 0}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("empty = %v, want %v", got, want)
	}
	got = plotData([]float64{5}, []float64{6}, 10)
	if want := [][]float64{{0, 5}, {0, 6}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("single = %v, want %v", got, want)
	}
}

func TestPlotDataKeepsNewest(t *testing.T) {
	got := plotData([]float64{1, 2, 3, 4, 5}, []float64{5, 4, 3, 2, 1}, 3)
	if want := [][]float64{{3, 4, 5}, {3, 2, 1}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	// 宽度未知时不截断
	if got = plotData([]float64{1, 2, 3}, []float64{1, 2, 3}, 0); len(got[0]) != 3 {
		t.Fatalf("limit 0 truncated to %d points", len(got[0]))
	}
}

func TestTableRows(t *testing.T) {
	views := []portView{{
		desc:  model.PortDescriptor{Name: "mlx5_0-1", Type: model.PortRdma},
		state: "running",
		sum:   windowSummary{LastRx: 2048, PeakRx: 4096},
	}}

	rows := tableRows(views, false)
	if len(rows) != 2 || len(rows[0]) != 9 {
		t.Fatalf("rows = %v", rows)
	}
	want := []string{"mlx5_0-1", "RDMA", "running", "2.0 KiB/s", "0 B/s", "4.0 KiB/s", "0 B/s", "0 B/s / 0 B/s", "0 B/s / 0 B/s"}
	if !reflect.DeepEqual(rows[1], want) {
		t.Fatalf("row = %q, want %q", rows[1], want)
	}
}

func TestTableRowsLegacy(t *testing.T) {
	views := []portView{
		{
			desc:  model.PortDescriptor{Name: "eth0", Type: model.PortEthernet},
			state: "UP",
			stats: &model.PortStats{Errors: 3, Queues: map[string]float64{"TX Prio3": 0, "RX Prio3": 1024}},
		},
		{
			desc:  model.PortDescriptor{Name: "mlx5_0-1", Type: model.PortRdma},
			state: "READ ERROR",
			stats: &model.PortStats{ReadError: true, QueueError: true},
		},
	}
	rows := tableRows(views, true)
	if len(rows[0]) != 11 {
		t.Fatalf("header = %v", rows[0])
	}
	if got := rows[1][9:]; !reflect.DeepEqual(got, []string{"3", "RX Prio3 1.0 KiB/s, TX Prio3 0 B/s"}) {
		t.Errorf("eth0 extra columns = %q", got)
	}
	if got := rows[2][2:3]; got[0] != "READ ERROR" {
		t.Errorf("state = %q", got[0])
	}
	if got := rows[2][10]; got != "QUEUE ERROR" {
		t.Errorf("queues = %q", got)
	}
}

func TestClampOffset(t *testing.T) {
	tests := []struct{ offset, n, want int }{
		{-1, 3, 0},
		{0, 3, 0},
		{2, 3, 2},
		{5, 3, 2},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := clampOffset(tt.offset, tt.n); got != tt.want {
			t.Errorf("clampOffset(%d, %d) = %d, want %d", tt.offset, tt.n, got, tt.want)
		}
	}
}

func TestPageSizeAndScroll(t *testing.T) {
	d := newDashboard(&monitor{ports: make([]model.PortDescriptor, 5)})
	d.resize(120, 3+2*plotHeight)
	if got := d.pageSize(); got != 2 {
		t.Fatalf("chart page = %d, want 2", got)
	}
	d.mode = viewTable
	if got := d.pageSize(); got != 2*plotHeight-3 {
		t.Fatalf("table page = %d, want %d", got, 2*plotHeight-3)
	}

	for i := 0; i < 10; i++ {
		d.scroll(1)
	}
	if d.offset != 4 {
		t.Fatalf("offset = %d, want 4", d.offset)
	}
}

func TestFooterText(t *testing.T) {
	got := footerText(viewTable, 2, 3, 9)
	for _, part := range []string{"view: table", "ports 3-5 of 9", "Tab"} {
		if !strings.Contains(got, part) {
			t.Errorf("footer %q missing %q", got, part)
		}
	}
}

func TestFillPlotTrimsBeforeFirstDraw(t *testing.T) {
	rx := make([]float64, 50)
	tx := make([]float64, 50)
	for i := range rx {
		rx[i] = float64(i)
	}
	v := portView{
		desc: model.PortDescriptor{Name: "mlx5_0-1", Type: model.PortRdma},
		snap: snapshotOf(rx, tx),
	}

	// 刚建的 Plot 还没画过，Inner 为空；宽度只取自终端
	p := newPortPlot()
	fillPlot(p, v, plotWidth(12))
	if got := len(p.Data[0]); got != 20 {
		t.Fatalf("points = %d, want 20 (two per column of a 10-wide plot)", got)
	}
	if p.Data[0][19] != 49 {
		t.Fatalf("newest point = %v, want 49", p.Data[0][19])
	}
	if p.MaxVal < 1 {
		t.Fatalf("MaxVal = %v", p.MaxVal)
	}
}
