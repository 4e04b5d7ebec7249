package main

import (
	"github.com/HdrHistogram/hdrhistogram-go"

	"rdmamon/history"
)

const (
	histMin    = 1
	histMax    = 1 << 40 // 1 TiB/s，远超任何单端口速率
	histSigFig = 2
)

// windowSummary 当前保留窗口内的速率分布
type windowSummary struct {
	LastRx, LastTx float64
	PeakRx, PeakTx float64
	P50Rx, P50Tx   float64
	P99Rx, P99Tx   float64
	Points         int
}

// summarizer 复用两个直方图，避免每次刷新都重新分配
type summarizer struct {
	rx, tx *hdrhistogram.Histogram
}

func newSummarizer() *summarizer {
	return &summarizer{
		rx: hdrhistogram.New(histMin, histMax, histSigFig),
		tx: hdrhistogram.New(histMin, histMax, histSigFig),
	}
}

func (s *summarizer) summarize(snap history.Snapshot) windowSummary {
	s.rx.Reset()
	s.tx.Reset()

	var sum windowSummary
	sum.Points = len(snap.Points)
	if last, ok := snap.Last(); ok {
		sum.LastRx, sum.LastTx = last.Rx, last.Tx
	}
	sum.PeakRx, sum.PeakTx = snap.Peak()
	if sum.Points == 0 {
		return sum
	}

	for _, p := range snap.Points {
		s.rx.RecordValue(clamp(p.Rx))
		s.tx.RecordValue(clamp(p.Tx))
	}
	sum.P50Rx = float64(s.rx.ValueAtQuantile(50))
	sum.P50Tx = float64(s.tx.ValueAtQuantile(50))
	sum.P99Rx = float64(s.rx.ValueAtQuantile(99))
	sum.P99Tx = float64(s.tx.ValueAtQuantile(99))
	return sum
}

// clamp 0 记为 0 (RecordValue 对低于最小值的数同样接受 0)，超出上限截断
func clamp(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v >= histMax {
		return histMax
	}
	return int64(v)
}
