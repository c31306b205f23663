// Package overridehook asks a guild's external scripting worker whether it
// wants to override the static authorization decision.
//
// The worker answers allow, deny or no opinion. Anything else, including a
// timeout or transport failure, is a deny: the hook never fails open.
package overridehook

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Decision is the worker's verdict
type Decision int

const (
	// NoOpinion falls through to the static decision
	NoOpinion Decision = iota
	// Allow short-circuits to an allow
	Allow
	// Deny short-circuits to a deny
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "no_opinion"
	}
}

// Outcome is the worker's verdict plus, for denials, its reason
type Outcome struct {
	Decision Decision
	Reason   string
}

// Allowed returns an Allow outcome
func Allowed() Outcome { return Outcome{Decision: Allow} }

// Denied returns a Deny outcome carrying reason
func Denied(reason string) Outcome { return Outcome{Decision: Deny, Reason: reason} }

// Abstain returns a NoOpinion outcome
func Abstain() Outcome { return Outcome{Decision: NoOpinion} }

func (o Outcome) String() string {
	if o.Decision == Deny && o.Reason != "" {
		return fmt.Sprintf("deny: %s", o.Reason)
	}
	return o.Decision.String()
}

// Kind says what is being checked
type Kind string

const (
	KindCommand    Kind = "command"
	KindPermission Kind = "permission"
)

// Event is sent to the worker for every check
type Event struct {
	ID                  string   `json:"id"`
	Kind                Kind     `json:"kind"`
	GuildID             string   `json:"guild_id"`
	ActorID             string   `json:"actor_id"`
	IsOwner             bool     `json:"is_owner"`
	NativePermissions   uint64   `json:"native_permissions,string"`
	KittycatPermissions []string `json:"kittycat_permissions"`
	Command             string   `json:"command,omitempty"`
	Permission          string   `json:"permission,omitempty"`
	ChannelID           string   `json:"channel_id,omitempty"`
}

// NewEvent creates an event with a fresh id
func NewEvent(kind Kind, guildID, actorID string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		GuildID: guildID,
		ActorID: actorID,
	}
}

// Hook is consulted once per authorization check
type Hook interface {
	Ask(ctx context.Context, event Event) Outcome
}

// Func adapts a function to Hook
type Func func(ctx context.Context, event Event) Outcome

// Ask implements Hook
func (f Func) Ask(ctx context.Context, event Event) Outcome {
	return f(ctx, event)
}

// Disabled is a hook that never has an opinion
type Disabled struct{}

// Ask implements Hook
func (Disabled) Ask(context.Context, Event) Outcome {
	return Abstain()
}
