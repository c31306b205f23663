// Package authz decides whether a guild member may run a command or use a
// permission.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/overridehook"
	"github.com/platinummonkey/gatekeeper/pkg/platform"
	"github.com/platinummonkey/gatekeeper/pkg/resolver"
)

var authzTracer = otel.Tracer("gatekeeper/authz")

// MemberSource looks up an actor on the chat platform
type MemberSource interface {
	Member(ctx context.Context, guildID, userID string) (*platform.MemberInfo, error)
}

// HierarchySource reads a guild's role configuration and member overrides
type HierarchySource interface {
	RolesForGuild(ctx context.Context, guildID string) ([]hierarchy.RoleConfig, error)
	OverrideForMember(ctx context.Context, guildID, userID string) (*hierarchy.MemberOverride, error)
}

// Enablement reports whether modules and commands are switched on
type Enablement interface {
	IsModuleEnabled(ctx context.Context, guildID, moduleID string) (bool, error)
	IsCommandEnabled(ctx context.Context, guildID, command string) (bool, error)
}

// Options tune a single check
type Options struct {
	IgnoreModuleDisabled  bool
	IgnoreCommandDisabled bool

	// CustomResolvedKittycatPerms, when set, replaces hierarchy resolution
	CustomResolvedKittycatPerms *kittycat.PermissionSet

	// ChannelID is passed to the override worker; resolution ignores it
	ChannelID string

	// RequiredNative adds native bits to a bare permission check
	RequiredNative modules.NativePermissions
}

// Pipeline runs the authorization stages in order: owner bypass,
// enablement, permission resolution, external override, requirement
// evaluation. It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	members    MemberSource
	hierarchy  HierarchySource
	enablement Enablement
	registry   *modules.Registry
	hook       overridehook.Hook
	metrics    *observability.Metrics
	now        func() time.Time
}

// Config wires a Pipeline
type Config struct {
	Members    MemberSource
	Hierarchy  HierarchySource
	Enablement Enablement
	Registry   *modules.Registry
	Hook       overridehook.Hook
	Metrics    *observability.Metrics
}

// NewPipeline creates a pipeline. A nil Hook behaves as overridehook.Disabled.
func NewPipeline(cfg Config) *Pipeline {
	hook := cfg.Hook
	if hook == nil {
		hook = overridehook.Disabled{}
	}
	return &Pipeline{
		members:    cfg.Members,
		hierarchy:  cfg.Hierarchy,
		enablement: cfg.Enablement,
		registry:   cfg.Registry,
		hook:       hook,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
}

// check is the state of one authorization call as it moves through the stages
type check struct {
	kind        overridehook.Kind
	guildID     string
	actorID     string
	command     *modules.CommandDescriptor
	permission  string
	requirement modules.PermissionRequirement
	opts        Options
}

// Authorize checks whether actorID may run command in guildID. nil means allow.
func (p *Pipeline) Authorize(ctx context.Context, guildID, actorID, command string, opts Options) error {
	c := &check{
		kind:    overridehook.KindCommand,
		guildID: guildID,
		actorID: actorID,
		opts:    opts,
	}

	cmd, err := p.registry.Resolve(command)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrUnknownCommand, command)
		p.finish(ctx, c, p.now(), err)
		return err
	}
	c.command = cmd
	c.requirement = cmd.Requirement

	return p.run(ctx, c)
}

// AuthorizePermission checks whether actorID holds permission in guildID,
// plus opts.RequiredNative. nil means allow.
func (p *Pipeline) AuthorizePermission(ctx context.Context, guildID, actorID, permission string, opts Options) error {
	c := &check{
		kind:       overridehook.KindPermission,
		guildID:    guildID,
		actorID:    actorID,
		permission: permission,
		opts:       opts,
	}

	perm, err := kittycat.Parse(permission)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrValidation, err)
		p.finish(ctx, c, p.now(), err)
		return err
	}
	c.permission = perm.String()
	c.requirement = modules.PermissionRequirement{
		Native:     opts.RequiredNative,
		Kittycat:   []string{c.permission},
		Combinator: modules.And,
	}

	return p.run(ctx, c)
}

func (p *Pipeline) run(ctx context.Context, c *check) error {
	start := p.now()

	ctx, span := authzTracer.Start(ctx, "authz."+string(c.kind),
		trace.WithAttributes(
			attribute.String("guild.id", c.guildID),
			attribute.String("actor.id", c.actorID),
		),
	)
	defer span.End()
	ctx = observability.WithGuild(ctx, c.guildID, c.actorID)

	err := p.evaluate(ctx, c)

	if err != nil && errors.Is(err, ErrInfrastructure) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.finish(ctx, c, start, err)
	return err
}

func (p *Pipeline) evaluate(ctx context.Context, c *check) error {
	member, err := p.members.Member(ctx, c.guildID, c.actorID)
	if err != nil {
		return infraErr("look up member", err)
	}
	if member.IsOwner() {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("actor.owner", true))
		return nil
	}

	if c.command != nil {
		if err := p.checkEnabled(ctx, c); err != nil {
			return err
		}
	}

	perms, err := p.resolve(ctx, c, member)
	if err != nil {
		return err
	}

	outcome := p.hook.Ask(ctx, p.event(c, member, perms))
	switch outcome.Decision {
	case overridehook.Allow:
		return nil
	case overridehook.Deny:
		return &PermissionDeniedError{HookReason: outcome.Reason}
	}

	eval := c.requirement.Evaluate(member.Native, perms)
	if eval.Allowed(c.requirement.Combinator) {
		return nil
	}
	return &PermissionDeniedError{
		Native:          !eval.NativeOK,
		Custom:          !eval.KittycatOK,
		Combinator:      c.requirement.Combinator,
		MissingNative:   eval.MissingNative,
		MissingKittycat: eval.MissingKittycat,
	}
}

func (p *Pipeline) checkEnabled(ctx context.Context, c *check) error {
	if !c.opts.IgnoreModuleDisabled {
		enabled, err := p.enablement.IsModuleEnabled(ctx, c.guildID, c.command.ModuleID)
		if err != nil {
			return infraErr("check module enablement", err)
		}
		if !enabled {
			return &DisabledError{Module: c.command.ModuleID}
		}
	}

	if !c.opts.IgnoreCommandDisabled {
		names := []string{c.command.QualifiedName}
		if root := c.command.Root(); root != c.command.QualifiedName {
			if _, err := p.registry.Command(root); err == nil {
				names = append([]string{root}, names...)
			}
		}
		for _, name := range names {
			enabled, err := p.enablement.IsCommandEnabled(ctx, c.guildID, name)
			if err != nil {
				return infraErr("check command enablement", err)
			}
			if !enabled {
				return &DisabledError{Command: name}
			}
		}
	}
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, c *check, member *platform.MemberInfo) (kittycat.PermissionSet, error) {
	if c.opts.CustomResolvedKittycatPerms != nil {
		return *c.opts.CustomResolvedKittycatPerms, nil
	}

	roles, err := p.hierarchy.RolesForGuild(ctx, c.guildID)
	if err != nil {
		return nil, infraErr("load guild roles", err)
	}
	override, err := p.hierarchy.OverrideForMember(ctx, c.guildID, c.actorID)
	if err != nil {
		return nil, infraErr("load member override", err)
	}

	res := resolver.Resolve(resolver.Input{
		OwnerID:     member.OwnerID,
		ActorID:     c.actorID,
		ActorRoles:  member.RoleIDs,
		RoleConfigs: roles,
		Override:    override,
	})
	return res.Permissions, nil
}

func (p *Pipeline) event(c *check, member *platform.MemberInfo, perms kittycat.PermissionSet) overridehook.Event {
	event := overridehook.NewEvent(c.kind, c.guildID, c.actorID)
	event.IsOwner = member.IsOwner()
	event.NativePermissions = uint64(member.Native)
	event.KittycatPermissions = perms.Strings()
	event.Permission = c.permission
	event.ChannelID = c.opts.ChannelID
	if c.command != nil {
		event.Command = c.command.QualifiedName
	}
	return event
}

func decisionLabel(err error) string {
	var denied *PermissionDeniedError
	switch {
	case err == nil:
		return "allow"
	case errors.As(err, &denied) && denied.HookReason != "":
		return "hook_denied"
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrInfrastructure):
		return "error"
	default:
		return "invalid"
	}
}

func (p *Pipeline) finish(ctx context.Context, c *check, start time.Time, err error) {
	result := decisionLabel(err)
	p.metrics.ObserveDecision(string(c.kind), result, p.now().Sub(start))

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"kind":   string(c.kind),
		"result": result,
	})
	if c.command != nil {
		logger = logger.WithField("command", c.command.QualifiedName)
	}
	if c.permission != "" {
		logger = logger.WithField("permission", c.permission)
	}
	logger.WithError(err).Debug("Authorization decided")
}
