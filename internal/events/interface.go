package events

import (
	"context"
	"time"
)

// Kind classifies an operational event.
type Kind string

const (
	KindSessionOpened Kind = "session_opened"
	KindSessionClosed Kind = "session_closed"
	KindActuation     Kind = "actuation"
	KindFailsafe      Kind = "failsafe"
	KindTimeout       Kind = "timeout"
	KindReconnect     Kind = "reconnect"
	KindShutdown      Kind = "shutdown"
)

// Event is one operational occurrence worth keeping: a session coming
// and going, a fan actuation, a failsafe engagement. Temperature
// history as such is deliberately not stored.
type Event struct {
	Timestamp time.Time
	SessionID string
	Kind      Kind
	Fan       string
	Sensor    string
	Value     int
	Detail    string
}

// Recorder is the domain-facing event sink.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
	Close() error
}

// Repository stores events.
type Repository interface {
	Record(event *Event) error
	Close() error
}
