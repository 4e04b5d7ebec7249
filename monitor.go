package main

import (
	"rdmamon/history"
	"rdmamon/legacy"
	"rdmamon/model"
	"rdmamon/sampler"
)

// monitor 把端口、历史和数据来源 (采样引擎或 legacy 轮询器) 绑在一起，供渲染层读取
type monitor struct {
	ports   []model.PortDescriptor
	hists   []*history.PortHistory
	engines []*sampler.Engine // legacy 模式下为 nil
	poller  *legacy.Poller    // 仅 legacy 模式
}

// portView 一个端口在某次刷新时的只读快照，渲染在锁外进行
type portView struct {
	desc  model.PortDescriptor
	state string
	snap  history.Snapshot
	sum   windowSummary
	stats *model.PortStats // 仅 legacy 模式
}

func (m *monitor) legacyMode() bool { return m.poller != nil }

// collect 拷贝 [from, to) 范围内端口的快照
func (m *monitor) collect(s *summarizer, from, to int) []portView {
	from = max(from, 0)
	to = min(to, len(m.ports))
	if from >= to {
		return nil
	}

	var stats []model.PortStats
	if m.poller != nil {
		stats = m.poller.Snapshot()
	}

	views := make([]portView, 0, to-from)
	for i := from; i < to; i++ {
		v := portView{desc: m.ports[i], state: "N/A"}
		v.snap = m.hists[i].Snapshot()
		v.sum = s.summarize(v.snap)

		switch {
		case i < len(stats):
			st := stats[i]
			v.stats = &st
			v.state = st.State
			if st.ReadError {
				v.state = "READ ERROR"
			}
		case i < len(m.engines) && m.engines[i] != nil:
			v.state = m.engines[i].State().String()
		}
		views = append(views, v)
	}
	return views
}
