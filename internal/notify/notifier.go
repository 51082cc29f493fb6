// Package notify emits the one-shot completion signal to the external
// orchestrator.
package notify

import (
	"context"
	"time"
)

// Event is the completion signal payload. EventType is the identifier
// the orchestrator dispatches on.
type Event struct {
	EventType string    `json:"event_type"`
	NodeID    string    `json:"node_id"`
	Phase     string    `json:"phase"`
	Success   bool      `json:"success"`
	SentAt    time.Time `json:"sent_at"`
}

// Notifier delivers a completion event. Delivery is best-effort and
// attempted at most once per cleanup invocation; the caller decides
// what a returned error means.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
