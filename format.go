package main

import (
	"github.com/dustin/go-humanize"
)

// formatRate 字节速率，1024 进制 (B/s -> KiB/s -> MiB/s ...)
func formatRate(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}
