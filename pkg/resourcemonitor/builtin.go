package resourcemonitor

import (
	"sync"
	"time"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
)

// PoolLookup is the subset of poolregistry.Registry this package
// needs, declared locally to avoid a resourcemonitor<->poolregistry
// import cycle.
type PoolLookup interface {
	Get(id string) (*types.ResourcePool, error)
}

// UsageReader is the subset of quota.Ledger this package needs.
type UsageReader interface {
	Usage(poolID string) (types.ResourceUsage, error)
	RunningJobs(poolID string) (int, error)
}

// QueueDepthProvider reports how many jobs are queued (not yet
// dispatched) against a pool. No implementation ships in this module
// and cmd/orchestrator passes nil; a nil provider is treated as
// always-zero.
type QueueDepthProvider interface {
	QueuedJobs(poolID string) int
}

// ledgerMonitor answers utilization queries by reading live ledger
// state rather than calling a real container-runtime API — talking to
// an actual Kubernetes or Docker control plane is explicitly out of
// scope (spec §4.6, SPEC_FULL.md §5.10); both built-in pool types
// share this same reader.
type ledgerMonitor struct {
	pools  PoolLookup
	usage  UsageReader
	queues QueueDepthProvider

	mu   sync.Mutex
	subs map[string][]chan *types.ResourcePoolUtilization
}

func newLedgerMonitor(pools PoolLookup, usage UsageReader, queues QueueDepthProvider) *ledgerMonitor {
	return &ledgerMonitor{
		pools:  pools,
		usage:  usage,
		queues: queues,
		subs:   make(map[string][]chan *types.ResourcePoolUtilization),
	}
}

func (m *ledgerMonitor) GetUtilization(poolID string) (*types.ResourcePoolUtilization, error) {
	pool, err := m.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	usage, err := m.usage.Usage(poolID)
	if err != nil {
		return nil, orcherr.NotFoundf("pool %s not tracked by ledger", poolID)
	}
	running, err := m.usage.RunningJobs(poolID)
	if err != nil {
		running = 0
	}
	queued := 0
	if m.queues != nil {
		queued = m.queues.QueuedJobs(poolID)
	}

	return &types.ResourcePoolUtilization{
		PoolID:           poolID,
		TotalCPUMillis:   pool.Quotas.CPU.Limits,
		UsedCPUMillis:    usage.CPUUsed,
		TotalMemoryBytes: pool.Quotas.Memory.Limits,
		UsedMemoryBytes:  usage.MemoryUsed,
		TotalDiskBytes:   pool.Quotas.Storage.Limits,
		UsedDiskBytes:    usage.StorageUsed,
		RunningJobs:      running,
		QueuedJobs:       queued,
		Timestamp:        time.Now(),
	}, nil
}

// publish pushes a fresh snapshot to every live subscriber for poolID,
// dropping it for any subscriber whose channel is full (subscribers
// are expected to drain promptly; this is a point-in-time gauge, not
// an event log).
func (m *ledgerMonitor) publish(poolID string) {
	snapshot, err := m.GetUtilization(poolID)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[poolID] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (m *ledgerMonitor) SubscribeToResourceUpdates(poolID string) (<-chan *types.ResourcePoolUtilization, func()) {
	ch := make(chan *types.ResourcePoolUtilization, 8)
	m.mu.Lock()
	m.subs[poolID] = append(m.subs[poolID], ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[poolID]
		for i, c := range subs {
			if c == ch {
				m.subs[poolID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// NewKubernetesMonitor returns the "kubernetes"-keyed built-in
// monitor. The real adapter (talking to the Kubernetes API to read
// node/pod allocatable vs. requested resources) is out of scope; this
// reads the same live quota.Ledger every pool type uses.
func NewKubernetesMonitor(pools PoolLookup, usage UsageReader, queues QueueDepthProvider) Monitor {
	return newLedgerMonitor(pools, usage, queues)
}

// NewDockerMonitor returns the "docker"-keyed built-in monitor. Same
// ledger-backed reader as NewKubernetesMonitor; the two are kept as
// distinct constructors so a real per-runtime adapter can later
// replace either independently.
func NewDockerMonitor(pools PoolLookup, usage UsageReader, queues QueueDepthProvider) Monitor {
	return newLedgerMonitor(pools, usage, queues)
}
