// Package manager wraps the hashicorp/raft consensus group backing the
// orchestrator's control plane: bootstrap/join, cluster membership
// changes, and leader introspection. It is the Applier collaborator
// C7 and the reconciler apply committed mutations through — the actual
// command semantics live in pkg/orchfsm, not here.
package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/orchfsm"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures one cluster node's raft participation.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Manager owns this node's *raft.Raft instance and the FSM it drives.
// Bootstrap/Join establish raft; everything else (scheduling,
// execution, fanout) is wired against Manager only through the small
// Applier/RaftStatus interfaces its collaborators declare.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *orchfsm.FSM
	store  storage.Store
	logger zerolog.Logger
}

// New constructs a Manager over an already-open store, ready for
// either Bootstrap or Join.
func New(cfg Config, store storage.Store) *Manager {
	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      orchfsm.New(store),
		store:    store,
		logger:   log.WithComponent("manager"),
	}
}

// raftConfig returns timeouts tuned for LAN/edge deployment rather
// than raft's WAN-conservative defaults — a <10s failover target
// instead of the library's ~minute-scale one.
func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a brand-new single-node cluster with this
// node as its only voter.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()},
		},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	m.logger.Info().Str("node_id", m.nodeID).Msg("bootstrapped single-node cluster")
	return nil
}

// JoinLocal starts raft for this node without bootstrapping, so it's
// ready to be added as a voter by the cluster leader via AddVoter —
// the new-node-side half of a join. Getting this node's ID/address to
// the leader happens outside this module; no RPC for it exists here.
func (m *Manager) JoinLocal() error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r
	m.logger.Info().Str("node_id", m.nodeID).Msg("raft started, awaiting AddVoter from leader")
	return nil
}

// AddVoter admits nodeID at address as a full raft voter. Only the
// current leader can do this; raft itself enforces that by rejecting
// non-leader calls.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", nodeID, err)
	}
	m.logger.Info().Str("node_id", nodeID).Str("address", address).Msg("added raft voter")
	return nil
}

// RemoveServer evicts nodeID from the cluster's raft configuration.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server %s: %w", nodeID, err)
	}
	return nil
}

// Servers lists the current raft configuration.
func (m *Manager) Servers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get raft configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the known leader's raft transport address, or ""
// if none is currently known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// Apply submits cmd to the raft log and blocks until it is committed
// and applied to this node's FSM, satisfying the Applier interfaces
// pkg/execution and pkg/reconciler depend on.
func (m *Manager) Apply(cmd orchfsm.Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	future := m.raft.Apply(encoded, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	if result := future.Response(); result != nil {
		if err, ok := result.(error); ok && err != nil {
			return fmt.Errorf("fsm apply: %w", err)
		}
	}
	return nil
}

// Shutdown stops this node's raft instance and releases its local
// resources. It does not remove the node from the cluster
// configuration; RemoveServer does that.
func (m *Manager) Shutdown() error {
	if m.raft == nil {
		return nil
	}
	return m.raft.Shutdown().Error()
}
