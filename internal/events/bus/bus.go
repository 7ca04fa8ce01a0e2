// Package bus provides the lifecycle event bus for the runtime: every
// session, command, PTY, and port transition is published here so external
// observers (dashboards, audit logs) can subscribe without coupling to the
// core components directly.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle notification published on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new Event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles a delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes and delivers lifecycle events. Subjects follow a
// dotted convention: "command.started", "command.completed", "pty.exited",
// "port.exposed", "interpreter.worker_died", etc.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}

const (
	SubjectCommandStarted       = "command.started"
	SubjectCommandCompleted     = "command.completed"
	SubjectCommandKilled        = "command.killed"
	SubjectSessionCreated       = "session.created"
	SubjectSessionDestroyed     = "session.destroyed"
	SubjectInterpreterWorkerDied = "interpreter.worker_died"
	SubjectPTYCreated           = "pty.created"
	SubjectPTYExited            = "pty.exited"
	SubjectPortExposed          = "port.exposed"
	SubjectPortReady            = "port.ready"
	SubjectPortUnexposed        = "port.unexposed"
)
