// Package engine is the entry point for hosts embedding the authorization
// engine. It wires the pipeline, the escalation guard and the stores, and
// exposes guarded mutations of the guild hierarchy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authz"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/overridehook"
	"github.com/platinummonkey/gatekeeper/pkg/platform"
)

const (
	// PermManageModules is required to enable or disable modules and commands
	PermManageModules = "settings.modules"
	// PermResync is required to trigger a resync of a guild's flagged members
	PermResync = "settings.resync"
	// PermViewAudit is required to read a guild's audit log
	PermViewAudit = "audit.view"
)

// ErrAuditDisabled is returned by AuditEvents when no audit store is configured
var ErrAuditDisabled = errors.New("audit log is not enabled")

const (
	defaultResyncWorkers = 8
	defaultResyncTimeout = 10 * time.Second
)

// HierarchyStore is the persistence the engine needs for roles and overrides
type HierarchyStore interface {
	RolesForGuild(ctx context.Context, guildID string) ([]hierarchy.RoleConfig, error)
	GetRole(ctx context.Context, guildID, roleID string) (*hierarchy.RoleConfig, error)
	CreateRole(ctx context.Context, role *hierarchy.RoleConfig) error
	UpdateRole(ctx context.Context, role *hierarchy.RoleConfig) error
	DeleteRole(ctx context.Context, guildID, roleID string) error
	OverrideForMember(ctx context.Context, guildID, userID string) (*hierarchy.MemberOverride, error)
	UpsertMemberOverride(ctx context.Context, o *hierarchy.MemberOverride) error
	DeleteMemberOverride(ctx context.Context, guildID, userID string) error
	SyncMemberRoles(ctx context.Context, guildID, userID string, roleIDs []string) error
	PendingResyncs(ctx context.Context, guildID string) ([]string, error)
	GuildsPendingResync(ctx context.Context) ([]string, error)
}

// ModuleConfigWriter persists module and command toggles
type ModuleConfigWriter interface {
	SetModuleDisabled(ctx context.Context, guildID, moduleID string, disabled bool, actorID string) error
	SetCommandDisabled(ctx context.Context, guildID, command string, disabled bool, actorID string) error
}

// MemberDirectory looks up platform members. Refresh skips every cache and
// remembers the fetched entry.
type MemberDirectory interface {
	Member(ctx context.Context, guildID, userID string) (*platform.MemberInfo, error)
	Refresh(ctx context.Context, guildID, userID string) (*platform.MemberInfo, error)
}

// Config wires an Engine
type Config struct {
	Registry    *modules.Registry
	Enablement  authz.Enablement
	Invalidator modules.Invalidator
	Hierarchy   HierarchyStore
	Modules     ModuleConfigWriter
	Members     MemberDirectory
	Hook        overridehook.Hook
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// Audit receives applied changes and guard denials. AuditSearch serves
	// AuditEvents; both are optional.
	Audit       audit.Logger
	AuditSearch audit.Searcher

	ResyncWorkers int
	ResyncTimeout time.Duration
}

// Engine authorizes actions and applies guarded hierarchy changes
type Engine struct {
	registry    *modules.Registry
	pipeline    *authz.Pipeline
	guard       *guard.Guard
	invalidator modules.Invalidator
	hierarchy   HierarchyStore
	modules     ModuleConfigWriter
	members     MemberDirectory
	logger      *observability.Logger
	audit       audit.Logger
	auditSearch audit.Searcher

	resyncWorkers int
	resyncTimeout time.Duration
}

// New creates an engine
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.ResyncWorkers <= 0 {
		cfg.ResyncWorkers = defaultResyncWorkers
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = defaultResyncTimeout
	}

	return &Engine{
		registry: cfg.Registry,
		pipeline: authz.NewPipeline(authz.Config{
			Members:    cfg.Members,
			Hierarchy:  cfg.Hierarchy,
			Enablement: cfg.Enablement,
			Registry:   cfg.Registry,
			Hook:       cfg.Hook,
			Metrics:    cfg.Metrics,
		}),
		guard:         guard.New(cfg.Members, cfg.Hierarchy, cfg.Metrics, cfg.Audit),
		invalidator:   cfg.Invalidator,
		hierarchy:     cfg.Hierarchy,
		modules:       cfg.Modules,
		members:       cfg.Members,
		logger:        cfg.Logger,
		audit:         cfg.Audit,
		auditSearch:   cfg.AuditSearch,
		resyncWorkers: cfg.ResyncWorkers,
		resyncTimeout: cfg.ResyncTimeout,
	}
}

// Registry returns the module registry the engine was built with
func (e *Engine) Registry() *modules.Registry {
	return e.registry
}

func (e *Engine) withLogger(ctx context.Context) context.Context {
	return observability.WithLogger(ctx, e.logger)
}

// Authorize checks whether actorID may run command in guildID
func (e *Engine) Authorize(ctx context.Context, guildID, actorID, command string, opts authz.Options) error {
	return e.pipeline.Authorize(e.withLogger(ctx), guildID, actorID, command, opts)
}

// AuthorizePermission checks whether actorID holds permission in guildID
func (e *Engine) AuthorizePermission(ctx context.Context, guildID, actorID, permission string, opts authz.Options) error {
	return e.pipeline.AuthorizePermission(e.withLogger(ctx), guildID, actorID, permission, opts)
}

// InvalidateEnablement drops cached enablement of one module, or of the
// whole guild when moduleID is nil
func (e *Engine) InvalidateEnablement(ctx context.Context, guildID string, moduleID *string) error {
	if moduleID == nil {
		return e.invalidator.InvalidateGuild(ctx, guildID)
	}
	return e.invalidator.Invalidate(ctx, guildID, *moduleID)
}

// InvalidateEnablementAll drops every cached enablement entry
func (e *Engine) InvalidateEnablementAll(ctx context.Context) error {
	return e.invalidator.InvalidateAll(ctx)
}

// GuardRoleChange checks a role mutation without applying it
func (e *Engine) GuardRoleChange(ctx context.Context, change guard.RoleChange) error {
	return e.guard.GuardRoleChange(e.withLogger(ctx), change)
}

// GuardMemberOverrideChange checks an override mutation without applying it
func (e *Engine) GuardMemberOverrideChange(ctx context.Context, change guard.OverrideChange) error {
	return e.guard.GuardMemberOverrideChange(e.withLogger(ctx), change)
}

// Roles lists a guild's role configs, most authoritative first. The actor
// must be a member of the guild.
func (e *Engine) Roles(ctx context.Context, guildID, actorID string) ([]hierarchy.RoleConfig, error) {
	if _, err := e.members.Member(ctx, guildID, actorID); err != nil {
		return nil, err
	}
	return e.hierarchy.RolesForGuild(ctx, guildID)
}

// CreateRole guards and stores a new role config on behalf of actorID
func (e *Engine) CreateRole(ctx context.Context, actorID string, role *hierarchy.RoleConfig) error {
	role.CreatedBy = actorID
	role.LastUpdatedBy = actorID

	err := e.GuardRoleChange(ctx, guard.RoleChange{
		GuildID: role.GuildID,
		ActorID: actorID,
		Op:      guard.OpCreate,
		After:   role,
	})
	if err != nil {
		return err
	}
	if err := e.hierarchy.CreateRole(ctx, role); err != nil {
		return err
	}
	e.recordRoleChange(ctx, actorID, guard.OpCreate, nil, role)
	return nil
}

// UpdateRole guards and stores a changed role config
func (e *Engine) UpdateRole(ctx context.Context, actorID string, role *hierarchy.RoleConfig) error {
	before, err := e.hierarchy.GetRole(ctx, role.GuildID, role.RoleID)
	if err != nil {
		return err
	}
	role.CreatedBy = before.CreatedBy
	role.CreatedAt = before.CreatedAt
	role.LastUpdatedBy = actorID

	err = e.GuardRoleChange(ctx, guard.RoleChange{
		GuildID: role.GuildID,
		ActorID: actorID,
		Op:      guard.OpUpdate,
		Before:  before,
		After:   role,
	})
	if err != nil {
		return err
	}
	if err := e.hierarchy.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.recordRoleChange(ctx, actorID, guard.OpUpdate, before, role)
	return nil
}

// DeleteRole guards and removes a role config
func (e *Engine) DeleteRole(ctx context.Context, guildID, actorID, roleID string) error {
	before, err := e.hierarchy.GetRole(ctx, guildID, roleID)
	if err != nil {
		return err
	}

	err = e.GuardRoleChange(ctx, guard.RoleChange{
		GuildID: guildID,
		ActorID: actorID,
		Op:      guard.OpDelete,
		Before:  before,
	})
	if err != nil {
		return err
	}
	if err := e.hierarchy.DeleteRole(ctx, guildID, roleID); err != nil {
		return err
	}
	e.recordRoleChange(ctx, actorID, guard.OpDelete, before, nil)
	return nil
}

// SetMemberOverride guards and stores a member override, creating it when
// the member has none
func (e *Engine) SetMemberOverride(ctx context.Context, actorID string, o *hierarchy.MemberOverride) error {
	before, err := e.hierarchy.OverrideForMember(ctx, o.GuildID, o.UserID)
	if err != nil {
		return err
	}

	change := guard.OverrideChange{
		GuildID:      o.GuildID,
		ActorID:      actorID,
		TargetUserID: o.UserID,
		Op:           guard.OpCreate,
		After:        o,
	}
	o.CreatedBy = actorID
	if before != nil {
		change.Op = guard.OpUpdate
		change.Before = before
		o.CreatedBy = before.CreatedBy
		o.CreatedAt = before.CreatedAt
	}
	o.LastUpdatedBy = actorID

	if err := e.GuardMemberOverrideChange(ctx, change); err != nil {
		return err
	}
	if err := e.hierarchy.UpsertMemberOverride(ctx, o); err != nil {
		return err
	}
	e.recordOverrideChange(ctx, actorID, change.Op, before, o)
	return nil
}

// DeleteMemberOverride guards and removes a member override
func (e *Engine) DeleteMemberOverride(ctx context.Context, guildID, actorID, userID string) error {
	before, err := e.hierarchy.OverrideForMember(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if before == nil {
		return fmt.Errorf("override for %s: %w", userID, hierarchy.ErrNotFound)
	}

	err = e.GuardMemberOverrideChange(ctx, guard.OverrideChange{
		GuildID:      guildID,
		ActorID:      actorID,
		TargetUserID: userID,
		Op:           guard.OpDelete,
		Before:       before,
	})
	if err != nil {
		return err
	}
	if err := e.hierarchy.DeleteMemberOverride(ctx, guildID, userID); err != nil {
		return err
	}
	e.recordOverrideChange(ctx, actorID, guard.OpDelete, before, nil)
	return nil
}

// SetModuleDisabled toggles a module for a guild. The actor needs
// PermManageModules; the toggle is applied even while the module is disabled.
func (e *Engine) SetModuleDisabled(ctx context.Context, guildID, actorID, moduleID string, disabled bool) error {
	if err := e.AuthorizePermission(ctx, guildID, actorID, PermManageModules, authz.Options{}); err != nil {
		return err
	}
	if err := e.modules.SetModuleDisabled(ctx, guildID, moduleID, disabled, actorID); err != nil {
		return err
	}
	e.recordToggle(ctx, guildID, actorID, audit.ResourceTypeModule, moduleID, disabled)
	return nil
}

// SetCommandDisabled toggles a single command for a guild
func (e *Engine) SetCommandDisabled(ctx context.Context, guildID, actorID, command string, disabled bool) error {
	if err := e.AuthorizePermission(ctx, guildID, actorID, PermManageModules, authz.Options{}); err != nil {
		return err
	}
	if err := e.modules.SetCommandDisabled(ctx, guildID, command, disabled, actorID); err != nil {
		return err
	}
	e.recordToggle(ctx, guildID, actorID, audit.ResourceTypeCommand, command, disabled)
	return nil
}

// ResyncGuild runs ResyncPending on behalf of actorID, who needs PermResync
func (e *Engine) ResyncGuild(ctx context.Context, guildID, actorID string) (int, error) {
	if err := e.AuthorizePermission(ctx, guildID, actorID, PermResync, authz.Options{}); err != nil {
		return 0, err
	}
	return e.ResyncPending(ctx, guildID)
}

// ResyncPending refreshes every member flagged by a hierarchy change. Each
// member is fetched from the platform past the gateway and fetch caches, so
// later authorizations see their current roles, and the fetched roles
// become the stored snapshot used to flag holders of the next role change.
// Authorization never reads the flag or the snapshot. It returns how many
// members were synced; failures leave the flag set for the next run.
func (e *Engine) ResyncPending(ctx context.Context, guildID string) (int, error) {
	users, err := e.hierarchy.PendingResyncs(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		return 0, nil
	}

	errs := async.Batch(ctx, users, e.resyncWorkers, e.resyncTimeout, func(ctx context.Context, userID string) error {
		member, err := e.members.Refresh(ctx, guildID, userID)
		if errors.Is(err, platform.ErrMemberNotFound) {
			// left the guild
			return e.hierarchy.SyncMemberRoles(ctx, guildID, userID, nil)
		}
		if err != nil {
			return fmt.Errorf("resync %s: %w", userID, err)
		}
		return e.hierarchy.SyncMemberRoles(ctx, guildID, userID, member.RoleIDs)
	})

	synced := len(users) - len(errs)
	e.logger.WithFields(map[string]interface{}{
		"guild_id": guildID,
		"synced":   synced,
		"failed":   len(errs),
	}).Info("Resynced flagged members")

	return synced, errors.Join(errs...)
}

// ResyncAll runs ResyncPending for every guild with flagged members and
// returns the total number of members synced
func (e *Engine) ResyncAll(ctx context.Context) (int, error) {
	guilds, err := e.hierarchy.GuildsPendingResync(ctx)
	if err != nil {
		return 0, err
	}

	var (
		total int
		errs  []error
	)
	for _, guildID := range guilds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := e.ResyncPending(ctx, guildID)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", guildID, err))
		}
	}
	return total, errors.Join(errs...)
}

// AuditEvents returns a guild's audit events, newest first. The actor needs
// PermViewAudit. The guild of filter is always guildID.
func (e *Engine) AuditEvents(ctx context.Context, guildID, actorID string, filter audit.SearchFilter) ([]*audit.Event, error) {
	if e.auditSearch == nil {
		return nil, ErrAuditDisabled
	}
	if err := e.AuthorizePermission(ctx, guildID, actorID, PermViewAudit, authz.Options{}); err != nil {
		return nil, err
	}
	filter.GuildID = guildID
	return e.auditSearch.Search(ctx, filter)
}

// record writes an applied change to the audit log. The change is already
// stored, so a failed write is only logged.
func (e *Engine) record(ctx context.Context, event *audit.Event) {
	if err := e.audit.Log(ctx, event); err != nil {
		e.logger.WithFields(map[string]interface{}{
			"guild_id":   event.GuildID,
			"event_type": event.EventType,
			"resource":   event.ResourceID,
		}).WithError(err).Warn("Failed to record audit event")
	}
}

func (e *Engine) recordRoleChange(ctx context.Context, actorID string, op guard.Op, before, after *hierarchy.RoleConfig) {
	role := after
	if role == nil {
		role = before
	}

	event := audit.NewEvent(ctx, audit.EventTypeAuthzRoleChange, audit.EventStatusSuccess, role.GuildID, actorID)
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = role.RoleID
	event.Message = fmt.Sprintf("%s role %s", op, role.RoleID)
	event.Changes = changeDetails(op, rolePerms(before), rolePerms(after))
	event.Changes.Before = roleState(before)
	event.Changes.After = roleState(after)
	e.record(ctx, event)
}

func (e *Engine) recordOverrideChange(ctx context.Context, actorID string, op guard.Op, before, after *hierarchy.MemberOverride) {
	o := after
	if o == nil {
		o = before
	}

	details := changeDetails(op, overridePerms(before), overridePerms(after))
	eventType := audit.EventTypeAuthzPermissionGrant
	if op == guard.OpDelete || (len(details.Added) == 0 && len(details.Removed) > 0) {
		eventType = audit.EventTypeAuthzPermissionRevoke
	}

	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess, o.GuildID, actorID)
	event.ResourceType = audit.ResourceTypeMemberOverride
	event.ResourceID = o.UserID
	event.Message = fmt.Sprintf("%s override of %s", op, o.UserID)
	event.Changes = details
	event.Changes.Before = overrideState(before)
	event.Changes.After = overrideState(after)
	e.record(ctx, event)
}

func (e *Engine) recordToggle(ctx context.Context, guildID, actorID string, resource audit.ResourceType, id string, disabled bool) {
	op := "enable"
	if disabled {
		op = "disable"
	}

	event := audit.NewEvent(ctx, audit.EventTypeConfigChange, audit.EventStatusSuccess, guildID, actorID)
	event.ResourceType = resource
	event.ResourceID = id
	event.Message = fmt.Sprintf("%s %s %s", op, resource, id)
	event.Changes = &audit.ChangeDetails{
		Op:    op,
		After: map[string]interface{}{"disabled": disabled},
	}
	e.record(ctx, event)
}

func changeDetails(op guard.Op, before, after kittycat.PermissionSet) *audit.ChangeDetails {
	added, removed := kittycat.Diff(before, after)
	return &audit.ChangeDetails{
		Op:      string(op),
		Added:   added.Strings(),
		Removed: removed.Strings(),
	}
}

func rolePerms(r *hierarchy.RoleConfig) kittycat.PermissionSet {
	if r == nil {
		return nil
	}
	return r.Permissions
}

func roleState(r *hierarchy.RoleConfig) map[string]interface{} {
	if r == nil {
		return nil
	}
	state := map[string]interface{}{"rank": r.Rank}
	if r.DisplayName != nil {
		state["display_name"] = *r.DisplayName
	}
	return state
}

func overridePerms(o *hierarchy.MemberOverride) kittycat.PermissionSet {
	if o == nil {
		return nil
	}
	return o.PermOverrides
}

func overrideState(o *hierarchy.MemberOverride) map[string]interface{} {
	if o == nil {
		return nil
	}
	return map[string]interface{}{"public": o.Public}
}
