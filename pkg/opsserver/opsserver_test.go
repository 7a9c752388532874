package opsserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRaft struct {
	leader     bool
	leaderAddr string
}

func (f *fakeRaft) IsLeader() bool     { return f.leader }
func (f *fakeRaft) LeaderAddr() string { return f.leaderAddr }

func TestLivenessAlwaysReportsAlive(t *testing.T) {
	s := New(&fakeRaft{leader: false}, func() (int, error) { return 0, errors.New("store down") })

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyReportsReadyWhenLeaderAndStorageOK(t *testing.T) {
	s := New(&fakeRaft{leader: true}, func() (int, error) { return 3, nil })
	s.refresh()

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyReportsNotReadyWithoutKnownLeader(t *testing.T) {
	s := New(&fakeRaft{leader: false, leaderAddr: ""}, func() (int, error) { return 0, nil })
	s.refresh()

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyReportsNotReadyOnStorageFailure(t *testing.T) {
	s := New(&fakeRaft{leader: false, leaderAddr: "10.0.0.1:7000"}, func() (int, error) { return 0, errors.New("boom") })
	s.refresh()

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(&fakeRaft{leader: true}, func() (int, error) { return 0, nil })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
