// Package status exposes the read-only health interface for the node.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fantine-org/fantine-agent/internal/metrics"
	"github.com/fantine-org/fantine-agent/internal/node"
	"go.uber.org/zap"
)

// Server serves health queries. It observes node and worker state but
// never mutates either and never triggers a lifecycle transition.
type Server struct {
	router    chi.Router
	record    *node.Record
	worker    *node.WorkerState
	clock     node.Clock
	bootstrap func() bool
	uptime    func() (time.Duration, error)
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. bootstrap
// reports whether the durable bootstrap marker exists; uptime reads
// host uptime (nil defaults to the gopsutil reader).
func NewServer(
	record *node.Record,
	worker *node.WorkerState,
	clock node.Clock,
	bootstrap func() bool,
	uptime func() (time.Duration, error),
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if uptime == nil {
		uptime = hostUptime
	}
	s := &Server{
		record:    record,
		worker:    worker,
		clock:     clock,
		bootstrap: bootstrap,
		uptime:    uptime,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.composeSnapshot()
	if err != nil {
		s.logger.Error("compose snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("compose snapshot: %v", err))
		metrics.StatusRequest(strconv.Itoa(http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, snap)
	metrics.StatusRequest(strconv.Itoa(http.StatusOK))
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.bootstrap() {
		writeError(w, http.StatusServiceUnavailable, "bootstrap incomplete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// composeSnapshot assembles the point-in-time projection. Everything is
// recomputed per query; nothing is cached or persisted.
func (s *Server) composeSnapshot() (node.StatusSnapshot, error) {
	phase := s.record.Phase()
	view := s.worker.View()
	bootstrapped := s.bootstrap()

	up, err := s.uptime()
	if err != nil {
		return node.StatusSnapshot{}, fmt.Errorf("read host uptime: %w", err)
	}

	snap := node.StatusSnapshot{
		Timestamp:         s.clock.Now(),
		NodeID:            s.record.ID,
		Phase:             node.HealthPhase(phase, bootstrapped, view.Active),
		WorkerActive:      view.Active,
		RestartCount:      view.RestartCount,
		Uptime:            up.Round(time.Second).String(),
		BootstrapComplete: bootstrapped,
	}
	if phase == node.PhaseFailed {
		if bootErr := s.record.BootstrapError(); bootErr != nil {
			snap.Error = bootErr.Error()
		}
	}
	return snap, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
