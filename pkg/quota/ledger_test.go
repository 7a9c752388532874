package quota

import (
	"testing"

	"github.com/cuemby/steelpipe/pkg/orcherr"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndRelease(t *testing.T) {
	l := New()
	l.RegisterPool("p1", types.Quotas{
		CPU:               types.ResourceLimits{Limits: 4000},
		Memory:            types.ResourceLimits{Limits: 8 << 30},
		MaxConcurrentJobs: 2,
	})

	require.NoError(t, l.Reserve("p1", "w1", Requirements{CPUMillis: 2000, MemoryBytes: 4 << 30}))

	usage, err := l.Usage("p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2000, usage.CPUUsed)

	require.NoError(t, l.Release("p1", "w1"))
	usage, err = l.Usage("p1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, usage.CPUUsed)
}

func TestReserveRejectsOverQuota(t *testing.T) {
	l := New()
	l.RegisterPool("p1", types.Quotas{CPU: types.ResourceLimits{Limits: 1000}})

	err := l.Reserve("p1", "w1", Requirements{CPUMillis: 2000})
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.InsufficientResources))
}

func TestReleaseUnknownReservationIsNoop(t *testing.T) {
	l := New()
	l.RegisterPool("p1", types.Quotas{})
	assert.NoError(t, l.Release("p1", "never-reserved"))
}

func TestCheckPartiallyAvailable(t *testing.T) {
	l := New()
	l.RegisterPool("p1", types.Quotas{
		CPU:        types.ResourceLimits{Limits: 1000},
		MaxWorkers: 1,
	})
	require.NoError(t, l.Reserve("p1", "w1", Requirements{CPUMillis: 500}))

	res, err := l.Check("p1", Requirements{CPUMillis: 600})
	require.NoError(t, err)
	assert.Equal(t, PartiallyAvailable, res.Outcome)
	assert.Contains(t, res.LimitingFactors, "cpu")
}

func TestCheckUnknownPool(t *testing.T) {
	l := New()
	_, err := l.Check("missing", Requirements{})
	assert.True(t, orcherr.Is(err, orcherr.NotFound))
}
