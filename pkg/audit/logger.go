package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// Searcher reads back recorded events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// NewEvent creates an event stamped with the current time and the request
// id carried by ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus, guildID, actorID string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		GuildID:   guildID,
		ActorID:   actorID,
		RequestID: observability.GetRequestID(ctx),
	}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

// NopLogger returns a Logger that drops every event
func NopLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(context.Context, *Event) error { return nil }

func (noOpLogger) Close() error { return nil }
