//go:build linux

package main

import (
	"github.com/safchain/ethtool"

	"rdmamon/legacy"
)

// openQueueSource 一个 ethtool socket，所有网卡共用
func openQueueSource() (legacy.QueueSource, func(), error) {
	e, err := ethtool.NewEthtool()
	if err != nil {
		return nil, nil, err
	}
	return e, e.Close, nil
}
