package metrics

import (
	"time"

	"github.com/hashicorp/raft"
)

// RaftStatus is the subset of manager.Manager the collector polls.
// Declared locally (rather than imported) to avoid a metrics<->manager
// import cycle, since manager will eventually want to record metrics
// of its own.
type RaftStatus interface {
	IsLeader() bool
	Servers() ([]raft.Server, error)
}

// RaftCollector periodically samples raft leadership/membership state
// into the RaftLeader/RaftPeers gauges. RaftAppliedIndex and
// RaftCommitDuration are declared in this package but are not updated
// here or by any other package in this module.
type RaftCollector struct {
	status RaftStatus
	stopCh chan struct{}
}

// NewRaftCollector constructs a collector polling status every 15s
// once Start is called.
func NewRaftCollector(status RaftStatus) *RaftCollector {
	return &RaftCollector{
		status: status,
		stopCh: make(chan struct{}),
	}
}

// Start begins the background polling loop.
func (c *RaftCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the polling loop.
func (c *RaftCollector) Stop() {
	close(c.stopCh)
}

func (c *RaftCollector) collect() {
	if c.status.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	if servers, err := c.status.Servers(); err == nil {
		RaftPeers.Set(float64(len(servers)))
	}
}
