package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzRoleChange       EventType = "authz.role_change"
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"

	// Configuration events
	EventTypeConfigChange EventType = "config.change"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeRole           ResourceType = "role"
	ResourceTypeMemberOverride ResourceType = "member_override"
	ResourceTypeModule         ResourceType = "module"
	ResourceTypeCommand        ResourceType = "command"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	GuildID string `json:"guild_id"`
	ActorID string `json:"actor_id"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID    string `json:"request_id,omitempty"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails records what a change did. Added and Removed hold the
// permissions that entered or left the resource; Before and After hold the
// other fields that changed.
type ChangeDetails struct {
	Op      string                 `json:"op"`
	Added   []string               `json:"added,omitempty"`
	Removed []string               `json:"removed,omitempty"`
	Before  map[string]interface{} `json:"before,omitempty"`
	After   map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	GuildID      string
	ActorID      string
	EventTypes   []EventType
	Status       *EventStatus
	ResourceType ResourceType
	ResourceID   string

	StartTime *time.Time
	EndTime   *time.Time

	// Pagination; Limit defaults to DefaultSearchLimit
	Limit  int
	Offset int
}
