// Package opsserver exposes the orchestrator's operational HTTP
// surface: liveness/readiness probes and a Prometheus /metrics
// endpoint (spec §5.13). It is deliberately NOT the REST business
// façade — /jobs, /executions and /pools are out of scope here and
// live, if anywhere, behind the CLI/gRPC surface instead.
//
// Readiness is reported through pkg/metrics's component-health
// registry (RegisterComponent/UpdateComponent/ReadyHandler), the same
// registry the rest of the process would use to report any other
// component's health — opsserver just keeps "raft" and "storage"
// current in it on a ticker and mounts the registry's handlers.
package opsserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/metrics"
	"github.com/rs/zerolog"
)

// RaftStatus is the subset of the manager's raft wrapper the
// readiness check needs.
type RaftStatus interface {
	IsLeader() bool
	LeaderAddr() string
}

// Server serves /health, /health/live, /health/ready and /metrics,
// refreshing the "raft" and "storage" entries in pkg/metrics's
// component registry on an interval.
type Server struct {
	raft         RaftStatus
	listJobsFunc func() (int, error)
	mux          *http.ServeMux
	logger       zerolog.Logger
	stopCh       chan struct{}
}

// New constructs a Server. listJobs counts the jobs currently in
// storage and returns an error if the store cannot be read; pass the
// orchestrator's storage.Store.ListJobs wrapped to return a count,
// e.g. `func() (int, error) { jobs, err := store.ListJobs(); return
// len(jobs), err }`.
func New(raft RaftStatus, listJobs func() (int, error)) *Server {
	mux := http.NewServeMux()
	s := &Server{
		raft:         raft,
		listJobsFunc: listJobs,
		mux:          mux,
		logger:       log.WithComponent("opsserver"),
		stopCh:       make(chan struct{}),
	}

	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/health/live", metrics.LivenessHandler())
	mux.Handle("/health/ready", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())

	s.refresh()
	return s
}

// Start begins the background component-health refresh and blocks
// serving addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.startRefreshLoop()
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("ops server listening")
	return server.ListenAndServe()
}

// Stop ends the background refresh loop. It does not close any
// listener started by Start; callers manage the http.Server's own
// lifecycle (e.g. via context cancellation around ListenAndServe).
func (s *Server) Stop() {
	close(s.stopCh)
}

// Handler exposes the mux directly, for embedding in a test server or
// a combined listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.refresh()
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// refresh updates the "raft" and "storage" entries in the shared
// component-health registry. "raft" is healthy once this node is
// either leader or knows who the leader is; "raft" with no leader at
// all, or a storage read failure, marks the process not-ready.
func (s *Server) refresh() {
	switch {
	case s.raft == nil:
		metrics.UpdateComponent("raft", false, "not initialized")
	case s.raft.IsLeader():
		metrics.UpdateComponent("raft", true, "leader")
	case s.raft.LeaderAddr() != "":
		metrics.UpdateComponent("raft", true, fmt.Sprintf("follower (leader: %s)", s.raft.LeaderAddr()))
	default:
		metrics.UpdateComponent("raft", false, "no leader elected")
	}

	if s.listJobsFunc == nil {
		metrics.UpdateComponent("storage", false, "not initialized")
		return
	}
	if _, err := s.listJobsFunc(); err != nil {
		metrics.UpdateComponent("storage", false, err.Error())
		return
	}
	metrics.UpdateComponent("storage", true, "")
}
