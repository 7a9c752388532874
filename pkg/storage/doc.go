/*
Package storage provides BoltDB-backed state persistence for steelpipe's cluster data.

The storage package implements the Store interface using BoltDB as the underlying
database, providing ACID transactions for cluster state including jobs,
executions, resource pools, and the cluster certificate authority. All data is
serialized as JSON and stored in separate buckets for efficient querying and
isolation.

# Architecture

Steelpipe uses BoltDB (bbolt) for embedded, transactional storage with zero external
dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/steelpipe.db             │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ jobs          (Job ID)     │             │          │
	│  │  │ executions    (Exec ID)    │             │          │
	│  │  │ pools         (Pool ID)    │             │          │
	│  │  │ ca            (fixed key)  │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          JSON Serialization                  │          │
	│  │  - Marshal: Go struct → JSON bytes          │          │
	│  │  - Unmarshal: JSON bytes → Go struct        │          │
	│  │  - Validation: Type safety via Go types     │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │           BoltDB File                        │          │
	│  │  - Copy-on-write B+tree                      │          │
	│  │  - Page size: 4KB                            │          │
	│  │  - mmap for reads                            │          │
	│  │  - Atomic writes with fsync                  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per orchestrator node
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Buckets:
  - jobs: submitted job definitions and their current status
  - executions: individual placement/run attempts against a job
  - pools: resource pool definitions and capacity
  - ca: cluster certificate authority data (single entry)

Transaction Model:
  - Read transactions: db.View() - Concurrent, consistent snapshots
  - Write transactions: db.Update() - Serialized, atomic commits
  - Isolation: Snapshot isolation (MVCC)
  - Durability: fsync on commit ensures crash recovery

# CRUD Operations

Job Operations:

Create Job:
  - Insert job with ID as key
  - JSON serialization of types.Job
  - Atomic commit via transaction

Get Job:
  - Key lookup by job ID
  - Unmarshal JSON to types.Job
  - Returns error if not found

List Jobs:
  - Cursor iteration over jobs bucket
  - Deserialize all entries to []*types.Job
  - Used by the CLI's job dispatch loop and the reconciler

Update Job:
  - Upsert operation (same as Create)
  - Overwrites existing key with new value

Delete Job:
  - Remove key from bucket
  - No error if key doesn't exist (idempotent)

Execution Operations:

Create Execution:
  - Store execution with ID as key
  - Includes job ID, worker ID, status, attempt count

Get Execution:
  - Direct key lookup by execution ID

List Executions:
  - Full bucket scan and deserialization
  - Used by the reconciler for global state

List Executions By Job:
  - Filter executions by job ID
  - Used to compute a job's aggregate status

Update Execution:
  - Update status, timestamps, result
  - Called on every execution state transition

Delete Execution:
  - Remove a completed/failed execution record

Pool Operations:

Create Pool:
  - Store resource pool with ID as key
  - Includes backend type, capacity, max workers

Get Pool / Get Pool By Name:
  - Direct key lookup, or cursor scan matching name
  - Error if not found

List Pools:
  - Full bucket scan and deserialization
  - Used by the scheduler and poolregistry on startup

Update Pool / Delete Pool:
  - Upsert and idempotent remove, as above

Certificate Authority:

	// Save CA certificate and key
	caData := []byte("encrypted CA cert and key bundle")
	err := store.SaveCA(caData)

	// Get CA data
	caData, err := store.GetCA()

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/steelpipe/node-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Job Operations:

	job := &types.Job{
		ID:     "job-abc123",
		Name:   "nightly-etl",
		Status: types.JobPending,
	}
	err := store.CreateJob(job)

	job, err := store.GetJob("job-abc123")
	jobs, err := store.ListJobs()

	job.Status = types.JobRunning
	err = store.UpdateJob(job)

	err = store.DeleteJob("job-abc123")

Execution Operations:

	exec := &types.Execution{
		ID:     "exec-def456",
		JobID:  "job-abc123",
		Status: types.ExecPending,
	}
	err := store.CreateExecution(exec)

	execs, err := store.ListExecutionsByJob("job-abc123")

	exec.Status = types.ExecRunning
	err = store.UpdateExecution(exec)

Pool Operations:

	pool := &types.ResourcePool{
		ID:   "pool-ghi789",
		Name: "default",
		Type: "kubernetes",
	}
	err := store.CreatePool(pool)

	pool, err := store.GetPoolByName("default")
	pools, err := store.ListPools()

# Integration Points

This package integrates with:

  - pkg/orchfsm: the Raft FSM (driven by pkg/manager) reads/writes cluster state through this Store
  - pkg/scheduler: reads pools for placement decisions
  - pkg/reconciler: reads jobs/executions for failure recovery
  - pkg/poolregistry, pkg/quota: read/write pool definitions
  - pkg/security: stores encrypted CA data
  - pkg/types: all entity definitions

# Design Patterns

Upsert Pattern:
  - Create and Update use the same underlying put
  - No separate "exists" check needed
  - Atomic replacement

Idempotent Deletes:
  - Delete returns no error if key doesn't exist
  - Safe to call multiple times

Cursor Iteration:
  - ForEach pattern for full bucket scans
  - Memory efficient (streaming)
  - Consistent snapshot during iteration

Error Wrapping:
  - NewBoltStore wraps open/bucket errors with context: fmt.Errorf("open database: %w", err)
  - CRUD methods return BoltDB and JSON errors unwrapped; a missing key is an orcherr NotFound error

Filter Pattern:
  - List all, filter in memory (ListExecutionsByJob)
  - Simple implementation for small datasets

# Performance Characteristics

Read Operations:
  - Get by key: O(log n) via B+tree, typically < 1ms
  - List all: O(n) full scan, ~1ms per 1000 entries
  - Concurrent reads: Supported via MVCC snapshots

Write Operations:
  - Insert/Update: O(log n) for key, ~1-5ms with fsync
  - Delete: O(log n) for key, ~1-5ms with fsync
  - Serialized: Only one writer at a time (BoltDB limitation)

Database File Size:
  - Empty: 32KB (header + initial pages)
  - Typical cluster (hundreds of jobs/executions): a few MB
  - Growth: Linear with job/execution history

# Troubleshooting

Database Locked:
  - Symptom: "database is locked" error
  - Cause: Another process has exclusive lock
  - Solution: Ensure only one orchestrator node accesses the file

Database Corruption:
  - Symptom: "invalid database" or checksum errors
  - Cause: Unclean shutdown, disk failure, bug
  - Solution: Restore from Raft snapshot backup

Large Database File:
  - Symptom: Database file grows large over time
  - Cause: No compaction, old execution history retained
  - Solution: Manual compact or backup/restore

# Data Integrity

Transaction Guarantees:
  - Atomicity: All-or-nothing commits
  - Consistency: JSON validation before commit
  - Isolation: Snapshot reads, serialized writes
  - Durability: fsync ensures crash recovery

Backup and Restore:
  - Database is a single file (easy to copy)
  - Backup: Copy file while database is closed OR use db.View()
  - Raft handles replication across nodes

# Security

Encryption at Rest:
  - Database file not encrypted by default
  - Recommendation: Use disk encryption (LUKS, dm-crypt)
  - CA private key material encrypted before storage (AES-256-GCM, pkg/security)

File Permissions:
  - Database file: 0600 (owner read/write only)
  - Directory: 0700 (owner full access only)
  - Root or steelpipe user only

Access Control:
  - No authentication within the database itself
  - Rely on OS file permissions
  - Direct database access only for recovery

# See Also

  - pkg/manager for Raft FSM integration
  - pkg/types for all entity definitions
  - pkg/scheduler for read-heavy workloads
  - pkg/reconciler for state reconciliation
  - BoltDB documentation: https://github.com/etcd-io/bbolt
  - ACID properties: https://en.wikipedia.org/wiki/ACID
*/
package storage
