package node

import "time"

// Health phase values reported by the status endpoint. These are the
// caller-facing projection of the internal Phase plus worker activity.
const (
	HealthInitializing = "initializing"
	HealthHealthy      = "healthy"
	HealthStopped      = "stopped"
	HealthError        = "error"
)

// StatusSnapshot is a read-only projection assembled per status query,
// never persisted.
type StatusSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	NodeID            string    `json:"node_id"`
	Phase             string    `json:"phase"`
	WorkerActive      bool      `json:"worker_active"`
	RestartCount      int       `json:"restart_count"`
	Uptime            string    `json:"uptime"`
	BootstrapComplete bool      `json:"bootstrap_complete"`
	Error             string    `json:"error,omitempty"`
}

// HealthPhase maps node phase and worker activity onto the four
// caller-facing health values.
func HealthPhase(phase Phase, bootstrapped, workerActive bool) string {
	switch {
	case phase == PhaseFailed:
		return HealthError
	case !bootstrapped:
		return HealthInitializing
	case phase == PhaseCleaningUp || phase == PhaseTerminated:
		return HealthStopped
	case workerActive:
		return HealthHealthy
	default:
		return HealthStopped
	}
}

// CleanupOutcome is the immutable result of the single cleanup pass.
type CleanupOutcome struct {
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	SignalSent  bool      `json:"signal_sent"`
	Errors      []string  `json:"errors,omitempty"`
}
