// Package history records lifecycle events of managed services so operators
// can see what the controller did across invocations.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch   EventType = "launch"   // process spawned, pid recorded
	EventReady    EventType = "ready"    // readiness probe succeeded
	EventDegraded EventType = "degraded" // launched, probe budget exhausted
	EventFailed   EventType = "failed"   // launch error
	EventSkipped  EventType = "skipped"
	EventStop     EventType = "stop"
	EventReclaim  EventType = "reclaim" // foreign listener killed before launch
)

// Event is one lifecycle fact about a service.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader lists recorded events, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Nop discards events. Used when history is disabled.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
func (Nop) Recent(context.Context, int) ([]Event, error) {
	return nil, nil
}
