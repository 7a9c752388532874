package poolregistry

import (
	"testing"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	r, err := New(store)
	require.NoError(t, err)
	return r
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create(&types.ResourcePool{ID: "p1", Name: "gpu"}))

	err := r.Create(&types.ResourcePool{ID: "p2", Name: "gpu"})
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.Conflict))
}

func TestGetByName(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create(&types.ResourcePool{ID: "p1", Name: "gpu"}))

	pool, err := r.GetByName("gpu")
	require.NoError(t, err)
	assert.Equal(t, "p1", pool.ID)

	_, err = r.GetByName("missing")
	assert.True(t, orcherr.Is(err, orcherr.NotFound))
}

func TestListActiveFiltersStatus(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create(&types.ResourcePool{ID: "p1", Name: "a", Status: types.PoolActive}))
	require.NoError(t, r.Create(&types.ResourcePool{ID: "p2", Name: "b", Status: types.PoolSuspended}))

	assert.Len(t, r.ListActive(), 1)
	assert.Len(t, r.List(), 2)
}

func TestDeleteBusyPoolTwoPhase(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create(&types.ResourcePool{ID: "p1", Name: "gpu"}))

	err := r.Delete("p1", 2)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.BusinessRule))

	pool, err := r.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, types.PoolTerminating, pool.Status)

	require.NoError(t, r.Delete("p1", 0))
	_, err = r.Get("p1")
	assert.True(t, orcherr.Is(err, orcherr.NotFound))
}
