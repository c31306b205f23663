// Package guard stops actors from editing the permission hierarchy beyond
// their own authority.
//
// Every role and member override mutation passes through the guard first.
// The guard fails closed: missing data, unknown positions and lookup
// failures all deny.
//
// Role and member edits share one ranking rule. The actor must outrank the
// target in the guild's configured hierarchy (a strictly lower rank number)
// and in the platform's role ordering (a strictly higher position). Each
// permission added or removed must itself be held by the actor.
package guard

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/platform"
	"github.com/platinummonkey/gatekeeper/pkg/resolver"
)

var guardTracer = otel.Tracer("gatekeeper/guard")

// Op is the kind of mutation being guarded
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// RoleChange describes a RoleConfig mutation. Before is required for update
// and delete, After for create and update.
type RoleChange struct {
	GuildID string
	ActorID string
	Op      Op
	Before  *hierarchy.RoleConfig
	After   *hierarchy.RoleConfig
}

// OverrideChange describes a MemberOverride mutation of TargetUserID
type OverrideChange struct {
	GuildID      string
	ActorID      string
	TargetUserID string
	Op           Op
	Before       *hierarchy.MemberOverride
	After        *hierarchy.MemberOverride
}

// MemberSource looks up members on the chat platform. Refresh bypasses any
// cache that may only position the member's own roles.
type MemberSource interface {
	Member(ctx context.Context, guildID, userID string) (*platform.MemberInfo, error)
	Refresh(ctx context.Context, guildID, userID string) (*platform.MemberInfo, error)
}

// HierarchySource reads the guild hierarchy
type HierarchySource interface {
	RolesForGuild(ctx context.Context, guildID string) ([]hierarchy.RoleConfig, error)
	OverrideForMember(ctx context.Context, guildID, userID string) (*hierarchy.MemberOverride, error)
}

// Guard checks hierarchy mutations
type Guard struct {
	members   MemberSource
	hierarchy HierarchySource
	metrics   *observability.Metrics
	audit     audit.Logger
}

// New creates a guard. metrics may be nil. Denials are written to auditLog
// when it is not nil.
func New(members MemberSource, hier HierarchySource, metrics *observability.Metrics, auditLog audit.Logger) *Guard {
	if auditLog == nil {
		auditLog = audit.NopLogger()
	}
	return &Guard{
		members:   members,
		hierarchy: hier,
		metrics:   metrics,
		audit:     auditLog,
	}
}

// decision collects what finish reports about one guarded change
type decision struct {
	target       string
	guildID      string
	actorID      string
	op           Op
	resourceType audit.ResourceType
	resourceID   string
	added        kittycat.PermissionSet
	removed      kittycat.PermissionSet
}

// actor is the resolved authority of the acting user
type actor struct {
	roles []hierarchy.RoleConfig
	perms kittycat.PermissionSet
	rank  int
}

// GuardRoleChange returns nil when ActorID may apply change
func (g *Guard) GuardRoleChange(ctx context.Context, change RoleChange) (err error) {
	ctx, span := g.start(ctx, "guard.role", change.GuildID, change.ActorID, change.Op)
	d := &decision{
		target:       "role",
		guildID:      change.GuildID,
		actorID:      change.ActorID,
		op:           change.Op,
		resourceType: audit.ResourceTypeRole,
	}
	defer func() { g.finish(ctx, span, d, err) }()

	before, after, err := roleSides(change)
	if err != nil {
		return err
	}
	roleID := roleIDOf(before, after)
	span.SetAttributes(attribute.String("role.id", roleID))
	d.resourceID = roleID
	d.added, d.removed = kittycat.Diff(permsOfRole(before), permsOfRole(after))

	member, err := g.actorMember(ctx, change.GuildID, change.ActorID)
	if err != nil || member.IsOwner() {
		return err
	}
	a, err := g.resolveActor(ctx, change.GuildID, member)
	if err != nil {
		return err
	}

	if before != nil && a.rank >= before.Rank {
		return ErrRankTooLow
	}
	if after != nil && a.rank >= after.Rank {
		return ErrRankTooLow
	}

	targetPos, known := member.Positions[roleID]
	if !known {
		// gateway entries only position the member's own roles
		member, err = g.members.Refresh(ctx, change.GuildID, change.ActorID)
		if err != nil {
			return infraErr("refresh actor", err)
		}
		targetPos, known = member.Positions[roleID]
	}
	actorPos, ok := member.HighestPosition()
	if !ok || !known || actorPos <= targetPos {
		return ErrNativeHierarchy
	}

	return kittycat.DiffAllowed(a.perms, permsOfRole(before), permsOfRole(after))
}

// GuardMemberOverrideChange returns nil when ActorID may apply change. A
// member may always toggle the public flag of their own override; any
// permission change is ranked like a role edit, so members cannot grant
// themselves overrides.
func (g *Guard) GuardMemberOverrideChange(ctx context.Context, change OverrideChange) (err error) {
	ctx, span := g.start(ctx, "guard.member_override", change.GuildID, change.ActorID, change.Op)
	d := &decision{
		target:       "member_override",
		guildID:      change.GuildID,
		actorID:      change.ActorID,
		op:           change.Op,
		resourceType: audit.ResourceTypeMemberOverride,
		resourceID:   change.TargetUserID,
	}
	defer func() { g.finish(ctx, span, d, err) }()
	span.SetAttributes(attribute.String("target.id", change.TargetUserID))

	before, after, err := overrideSides(change)
	if err != nil {
		return err
	}
	d.added, d.removed = kittycat.Diff(permsOfOverride(before), permsOfOverride(after))

	member, err := g.actorMember(ctx, change.GuildID, change.ActorID)
	if err != nil || member.IsOwner() {
		return err
	}

	self := change.ActorID == change.TargetUserID
	if publicChanged(change.Op, before, after) && !self {
		return ErrPublicFlagSelfOnly
	}

	if self && len(d.added) == 0 && len(d.removed) == 0 {
		return nil
	}

	a, err := g.resolveActor(ctx, change.GuildID, member)
	if err != nil {
		return err
	}

	target, err := g.members.Member(ctx, change.GuildID, change.TargetUserID)
	if err != nil {
		return infraErr("look up target member", err)
	}
	if target.IsOwner() {
		return ErrRankTooLow
	}

	// targets holding no configured role are outranked by everyone
	if targetRank, ok := resolver.LowestRankOf(target.RoleIDs, a.roles); ok && a.rank >= targetRank {
		return ErrRankTooLow
	}

	actorPos, ok := member.HighestPosition()
	if !ok {
		return ErrNativeHierarchy
	}
	if targetPos, ok := target.HighestPosition(); ok && actorPos <= targetPos {
		return ErrNativeHierarchy
	}

	return kittycat.DiffAllowed(a.perms, permsOfOverride(before), permsOfOverride(after))
}

func (g *Guard) actorMember(ctx context.Context, guildID, actorID string) (*platform.MemberInfo, error) {
	member, err := g.members.Member(ctx, guildID, actorID)
	if err != nil {
		return nil, infraErr("look up actor", err)
	}
	if member.IsOwner() {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("actor.owner", true))
	}
	return member, nil
}

func (g *Guard) resolveActor(ctx context.Context, guildID string, member *platform.MemberInfo) (*actor, error) {
	roles, err := g.hierarchy.RolesForGuild(ctx, guildID)
	if err != nil {
		return nil, infraErr("load guild roles", err)
	}
	override, err := g.hierarchy.OverrideForMember(ctx, guildID, member.UserID)
	if err != nil {
		return nil, infraErr("load actor override", err)
	}

	res := resolver.Resolve(resolver.Input{
		OwnerID:     member.OwnerID,
		ActorID:     member.UserID,
		ActorRoles:  member.RoleIDs,
		RoleConfigs: roles,
		Override:    override,
	})
	rank, err := res.Rank()
	if err != nil {
		return nil, err
	}

	return &actor{roles: roles, perms: res.Permissions, rank: rank}, nil
}

func roleSides(c RoleChange) (before, after *hierarchy.RoleConfig, err error) {
	if c.GuildID == "" || c.ActorID == "" {
		return nil, nil, invalid("guild and actor are required")
	}
	switch c.Op {
	case OpCreate:
		if c.After == nil {
			return nil, nil, invalid("create needs the new role")
		}
		after = c.After
	case OpUpdate:
		if c.Before == nil || c.After == nil {
			return nil, nil, invalid("update needs the current and new role")
		}
		if c.Before.RoleID != c.After.RoleID {
			return nil, nil, invalid("update cannot change the role id from %s to %s", c.Before.RoleID, c.After.RoleID)
		}
		before, after = c.Before, c.After
	case OpDelete:
		if c.Before == nil {
			return nil, nil, invalid("delete needs the current role")
		}
		before = c.Before
	default:
		return nil, nil, invalid("unknown op %q", c.Op)
	}

	for _, r := range []*hierarchy.RoleConfig{before, after} {
		if r == nil {
			continue
		}
		if r.RoleID == "" {
			return nil, nil, invalid("role id is required")
		}
		if r.GuildID != c.GuildID {
			return nil, nil, invalid("role %s belongs to guild %s", r.RoleID, r.GuildID)
		}
	}
	return before, after, nil
}

func overrideSides(c OverrideChange) (before, after *hierarchy.MemberOverride, err error) {
	if c.GuildID == "" || c.ActorID == "" || c.TargetUserID == "" {
		return nil, nil, invalid("guild, actor and target are required")
	}
	switch c.Op {
	case OpCreate:
		if c.After == nil {
			return nil, nil, invalid("create needs the new override")
		}
		after = c.After
	case OpUpdate:
		if c.Before == nil || c.After == nil {
			return nil, nil, invalid("update needs the current and new override")
		}
		before, after = c.Before, c.After
	case OpDelete:
		if c.Before == nil {
			return nil, nil, invalid("delete needs the current override")
		}
		before = c.Before
	default:
		return nil, nil, invalid("unknown op %q", c.Op)
	}

	for _, o := range []*hierarchy.MemberOverride{before, after} {
		if o == nil {
			continue
		}
		if o.GuildID != c.GuildID || o.UserID != c.TargetUserID {
			return nil, nil, invalid("override does not belong to member %s", c.TargetUserID)
		}
	}
	return before, after, nil
}

func roleIDOf(before, after *hierarchy.RoleConfig) string {
	if after != nil {
		return after.RoleID
	}
	return before.RoleID
}

// publicChanged reports a change of the public flag. Deleting an override
// is not a change of the flag.
func publicChanged(op Op, before, after *hierarchy.MemberOverride) bool {
	switch op {
	case OpCreate:
		return after.Public
	case OpUpdate:
		return before.Public != after.Public
	default:
		return false
	}
}

func permsOfRole(r *hierarchy.RoleConfig) kittycat.PermissionSet {
	if r == nil {
		return nil
	}
	return r.Permissions
}

func permsOfOverride(o *hierarchy.MemberOverride) kittycat.PermissionSet {
	if o == nil {
		return nil
	}
	return o.PermOverrides
}

func (g *Guard) start(ctx context.Context, name, guildID, actorID string, op Op) (context.Context, trace.Span) {
	ctx, span := guardTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("guild.id", guildID),
		attribute.String("actor.id", actorID),
		attribute.String("op", string(op)),
	))
	return observability.WithGuild(ctx, guildID, actorID), span
}

func (g *Guard) finish(ctx context.Context, span trace.Span, d *decision, err error) {
	defer span.End()
	target := d.target

	result := "allow"
	switch {
	case err == nil:
	case IsDenial(err):
		result = "denied"
	case errors.Is(err, ErrValidation):
		result = "invalid"
	default:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	g.metrics.ObserveGuard(target, result)

	observability.FromContext(ctx).
		WithField("target", target).
		WithField("result", result).
		WithError(err).
		Debug("Guard decided")

	if result == "denied" {
		g.recordDenial(ctx, d, err)
	}
}

// recordDenial writes a denied change to the audit log. A failed write is
// logged and does not change the decision.
func (g *Guard) recordDenial(ctx context.Context, d *decision, err error) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied, d.guildID, d.actorID)
	event.ResourceType = d.resourceType
	event.ResourceID = d.resourceID
	event.Message = string(d.op) + " " + d.target + " " + d.resourceID
	event.ErrorMessage = err.Error()
	if len(d.added) > 0 || len(d.removed) > 0 {
		event.Changes = &audit.ChangeDetails{
			Op:      string(d.op),
			Added:   d.added.Strings(),
			Removed: d.removed.Strings(),
		}
	}

	if logErr := g.audit.Log(ctx, event); logErr != nil {
		observability.FromContext(ctx).
			WithError(logErr).
			Warn("Failed to record guard denial")
	}
}
