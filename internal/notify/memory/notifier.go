// Package memory provides an in-memory Notifier for tests.
package memory

import (
	"context"
	"sync"

	"github.com/fantine-org/fantine-agent/internal/notify"
)

// Notifier records events instead of delivering them.
type Notifier struct {
	mu     sync.Mutex
	events []notify.Event

	// Err, when set, is returned from Notify to simulate delivery failure.
	Err error
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the event.
func (n *Notifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (n *Notifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}
