package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

var (
	nameColor  = color.New(color.Bold)
	rxColor    = color.New(color.FgGreen)
	txColor    = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

// runBatch 标准输出不是终端 (或 -batch) 时按行输出，每个周期每个端口一行
func runBatch(ctx context.Context, w io.Writer, mon *monitor, interval time.Duration) {
	sum := newSummarizer()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			writeLines(w, now, mon.collect(sum, 0, len(mon.ports)))
		}
	}
}

func writeLines(w io.Writer, now time.Time, views []portView) {
	ts := now.Format("15:04:05.000")
	for _, v := range views {
		state := v.state
		if state == "READ ERROR" || state == "terminated" {
			state = errorColor.Sprint(state)
		}
		fmt.Fprintf(w, "%s %s %-4s %-13s rx %s tx %s peak rx %s tx %s\n",
			ts,
			nameColor.Sprintf("%-16s", v.desc.Name),
			v.desc.Type,
			state,
			rxColor.Sprintf("%12s", formatRate(v.sum.LastRx)),
			txColor.Sprintf("%12s", formatRate(v.sum.LastTx)),
			formatRate(v.sum.PeakRx),
			formatRate(v.sum.PeakTx))
	}
}
