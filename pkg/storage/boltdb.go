package storage

import (
	"fmt"
	"path/filepath"

	"encoding/json"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs       = []byte("jobs")
	bucketExecutions = []byte("executions")
	bucketPools      = []byte("pools")
	bucketCA         = []byte("ca")
)

// caKey is the single fixed key the CA blob is stored under within
// bucketCA — there is exactly one cluster CA per orchestrator.
var caKey = []byte("root")

// BoltStore implements Store using a single BoltDB file, one bucket per
// aggregate, JSON-marshaled records keyed by ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the orchestrator's database
// file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "steelpipe.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketExecutions, bucketPools, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return orcherr.NotFoundf("job %s not found", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job) // upsert
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.Delete([]byte(id))
	})
}

// Execution operations

func (s *BoltStore) CreateExecution(exec *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		return b.Put([]byte(exec.ID), data)
	})
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var exec types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return orcherr.NotFoundf("execution %s not found", id)
		}
		return json.Unmarshal(data, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BoltStore) ListExecutions() ([]*types.Execution, error) {
	var execs []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return err
			}
			execs = append(execs, &exec)
			return nil
		})
	})
	return execs, err
}

func (s *BoltStore) ListExecutionsByJob(jobID string) ([]*types.Execution, error) {
	var execs []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return err
			}
			if exec.JobID == jobID {
				execs = append(execs, &exec)
			}
			return nil
		})
	})
	return execs, err
}

func (s *BoltStore) UpdateExecution(exec *types.Execution) error {
	return s.CreateExecution(exec) // upsert
}

func (s *BoltStore) DeleteExecution(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.Delete([]byte(id))
	})
}

// ResourcePool operations

func (s *BoltStore) CreatePool(pool *types.ResourcePool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		data, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		return b.Put([]byte(pool.ID), data)
	})
}

func (s *BoltStore) GetPool(id string) (*types.ResourcePool, error) {
	var pool types.ResourcePool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		data := b.Get([]byte(id))
		if data == nil {
			return orcherr.NotFoundf("pool %s not found", id)
		}
		return json.Unmarshal(data, &pool)
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *BoltStore) GetPoolByName(name string) (*types.ResourcePool, error) {
	var found *types.ResourcePool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.ForEach(func(k, v []byte) error {
			var pool types.ResourcePool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			if pool.Name == name {
				found = &pool
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, orcherr.NotFoundf("pool %q not found", name)
	}
	return found, nil
}

func (s *BoltStore) ListPools() ([]*types.ResourcePool, error) {
	var pools []*types.ResourcePool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.ForEach(func(k, v []byte) error {
			var pool types.ResourcePool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			pools = append(pools, &pool)
			return nil
		})
	})
	return pools, err
}

func (s *BoltStore) UpdatePool(pool *types.ResourcePool) error {
	return s.CreatePool(pool) // upsert
}

func (s *BoltStore) DeletePool(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.Delete([]byte(id))
	})
}

// Cluster CA

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get(caKey)
		if v == nil {
			return orcherr.NotFoundf("cluster CA not initialized")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put(caKey, data)
	})
}
