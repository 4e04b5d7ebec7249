package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

const (
	footerHeight = 3
	plotHeight   = 9 // 每个端口一块曲线图
)

type viewMode int

const (
	viewChart viewMode = iota
	viewTable
)

func (v viewMode) String() string {
	if v == viewTable {
		return "table"
	}
	return "chart"
}

type dashboard struct {
	mon    *monitor
	sum    *summarizer
	mode   viewMode
	offset int // 第一个可见端口

	width, height int

	plots  []*widgets.Plot
	table  *widgets.Table
	footer *widgets.Paragraph
}

func newDashboard(mon *monitor) *dashboard {
	table := widgets.NewTable()
	table.Title = " Ports "
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.BorderStyle.Fg = ui.ColorCyan
	table.RowStyles[0] = ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold)

	footer := widgets.NewParagraph()
	footer.BorderStyle.Fg = ui.ColorBlue

	return &dashboard{mon: mon, sum: newSummarizer(), table: table, footer: footer}
}

// runDashboard 全屏界面。终端事件、刷新定时器和退出信号在同一个 select 里处理。
func runDashboard(ctx context.Context, mon *monitor, refresh time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to init termui: %w", err)
	}
	defer ui.Close()

	d := newDashboard(mon)
	d.resize(ui.TerminalDimensions())
	d.render()

	uiEvents := ui.PollEvents()
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<Escape>", "<C-c>":
				return nil
			case "<Tab>":
				d.toggle()
			case "<Up>", "k":
				d.scroll(-1)
			case "<Down>", "j":
				d.scroll(1)
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.resize(payload.Width, payload.Height)
				ui.Clear()
			}
			d.render()
		case <-ticker.C:
			d.render()
		}
	}
}

func (d *dashboard) resize(width, height int) {
	d.width, d.height = width, height
}

func (d *dashboard) toggle() {
	if d.mode == viewChart {
		d.mode = viewTable
	} else {
		d.mode = viewChart
	}
	ui.Clear()
}

func (d *dashboard) scroll(delta int) {
	d.offset = clampOffset(d.offset+delta, len(d.mon.ports))
}

// pageSize 当前视图一屏放得下的端口数
func (d *dashboard) pageSize() int {
	body := d.height - footerHeight
	if d.mode == viewTable {
		return max(1, body-3) // 边框 2 行 + 表头 1 行
	}
	return max(1, body/plotHeight)
}

func (d *dashboard) render() {
	per := d.pageSize()
	views := d.mon.collect(d.sum, d.offset, d.offset+per)

	grid := ui.NewGrid()
	grid.SetRect(0, 0, d.width, d.height-footerHeight)
	if d.mode == viewTable {
		d.table.Rows = tableRows(views, d.mon.legacyMode())
		grid.Set(ui.NewRow(1.0, ui.NewCol(1.0, d.table)))
	} else {
		for len(d.plots) < len(views) {
			d.plots = append(d.plots, newPortPlot())
		}
		rows := make([]interface{}, 0, len(views))
		for i := range views {
			rows = append(rows, ui.NewRow(1.0/float64(len(views)), ui.NewCol(1.0, d.plots[i])))
		}
		grid.Set(rows...)
		// 子组件的 Rect 要等 Grid.Draw 才设置，宽度按终端宽度减去左右边框算
		for i, v := range views {
			fillPlot(d.plots[i], v, plotWidth(d.width))
		}
	}

	d.footer.Text = footerText(d.mode, d.offset, len(views), len(d.mon.ports))
	d.footer.SetRect(0, d.height-footerHeight, d.width, d.height)
	ui.Render(grid, d.footer)
}

func newPortPlot() *widgets.Plot {
	p := widgets.NewPlot()
	p.Marker = widgets.MarkerBraille
	p.ShowAxes = false
	p.LineColors = []ui.Color{ui.ColorGreen, ui.ColorYellow}
	p.BorderStyle.Fg = ui.ColorGreen
	return p
}

// plotWidth 单列布局下曲线图的内部宽度
func plotWidth(termWidth int) int {
	return max(termWidth-2, 0)
}

func fillPlot(p *widgets.Plot, v portView, width int) {
	// braille 一个字符宽放两个点
	p.Data = plotData(v.snap.Rx(), v.snap.Tx(), 2*width)
	p.MaxVal = max(v.sum.PeakRx, v.sum.PeakTx, 1) * 1.1
	p.Title = fmt.Sprintf(" %s [%s] %s  RX %s (peak %s)  TX %s (peak %s) ",
		v.desc.Name, v.desc.Type, v.state,
		formatRate(v.sum.LastRx), formatRate(v.sum.PeakRx),
		formatRate(v.sum.LastTx), formatRate(v.sum.PeakTx))
}

// plotData 截取最近 limit 个点；不足两个点时补零，termui 画折线至少要两个点
func plotData(rx, tx []float64, limit int) [][]float64 {
	if limit > 0 && len(rx) > limit {
		rx, tx = rx[len(rx)-limit:], tx[len(tx)-limit:]
	}
	for len(rx) < 2 {
		rx = append([]float64{0}, rx...)
		tx = append([]float64{0}, tx...)
	}
	return [][]float64{rx, tx}
}

func tableRows(views []portView, legacyMode bool) [][]string {
	header := []string{"Port", "Type", "State", "RX", "TX", "Peak RX", "Peak TX", "p50 RX/TX", "p99 RX/TX"}
	if legacyMode {
		header = append(header, "Errors", "Queues")
	}
	rows := [][]string{header}
	for _, v := range views {
		row := []string{
			v.desc.Name,
			v.desc.Type.String(),
			v.state,
			formatRate(v.sum.LastRx),
			formatRate(v.sum.LastTx),
			formatRate(v.sum.PeakRx),
			formatRate(v.sum.PeakTx),
			formatRate(v.sum.P50Rx) + " / " + formatRate(v.sum.P50Tx),
			formatRate(v.sum.P99Rx) + " / " + formatRate(v.sum.P99Tx),
		}
		if legacyMode {
			errs, queues := "N/A", ""
			if v.stats != nil {
				errs = fmt.Sprintf("%d", v.stats.Errors)
				queues = formatQueues(v.stats.Queues, v.stats.QueueError)
			}
			row = append(row, errs, queues)
		}
		rows = append(rows, row)
	}
	return rows
}

// formatQueues 例如 "RX Prio3 1.2 MiB/s, TX Prio3 200 B/s"
func formatQueues(q map[string]float64, failed bool) string {
	if failed {
		return "QUEUE ERROR"
	}
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + formatRate(q[name])
	}
	return strings.Join(parts, ", ")
}

func footerText(mode viewMode, offset, shown, total int) string {
	first, last := 0, 0
	if shown > 0 {
		first, last = offset+1, offset+shown
	}
	return fmt.Sprintf("rdmamon %s | view: %s | ports %d-%d of %d | Tab: switch view  Up/Down k/j: scroll  q/Esc: quit",
		version, mode, first, last, total)
}

func clampOffset(offset, n int) int {
	if offset >= n {
		offset = n - 1
	}
	return max(offset, 0)
}
