package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authz"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
	"github.com/platinummonkey/gatekeeper/pkg/platform"
)

type memStore struct {
	mu        sync.Mutex
	roles     map[string]hierarchy.RoleConfig
	overrides map[string]hierarchy.MemberOverride
	synced    map[string][]string
	pending   []string
}

func newMemStore() *memStore {
	return &memStore{
		roles:     map[string]hierarchy.RoleConfig{},
		overrides: map[string]hierarchy.MemberOverride{},
		synced:    map[string][]string{},
	}
}

func (s *memStore) RolesForGuild(_ context.Context, guildID string) ([]hierarchy.RoleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hierarchy.RoleConfig
	for _, r := range s.roles {
		if r.GuildID == guildID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *memStore) GetRole(_ context.Context, _, roleID string) (*hierarchy.RoleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, hierarchy.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) CreateRole(_ context.Context, role *hierarchy.RoleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.RoleID]; ok {
		return hierarchy.ErrAlreadyExists
	}
	s.roles[role.RoleID] = *role
	return nil
}

func (s *memStore) UpdateRole(_ context.Context, role *hierarchy.RoleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.RoleID] = *role
	return nil
}

func (s *memStore) DeleteRole(_ context.Context, _, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, roleID)
	return nil
}

func (s *memStore) OverrideForMember(_ context.Context, _, userID string) (*hierarchy.MemberOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[userID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *memStore) UpsertMemberOverride(_ context.Context, o *hierarchy.MemberOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[o.UserID] = *o
	return nil
}

func (s *memStore) DeleteMemberOverride(_ context.Context, _, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, userID)
	return nil
}

func (s *memStore) SyncMemberRoles(_ context.Context, _, userID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[userID] = roleIDs
	return nil
}

func (s *memStore) PendingResyncs(context.Context, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}

func (s *memStore) GuildsPendingResync(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	return []string{"g1"}, nil
}

type fakeDirectory struct {
	mu        sync.Mutex
	members   map[string]*platform.MemberInfo
	fresh     map[string]*platform.MemberInfo
	refreshed []string
	failFor   string
}

func (d *fakeDirectory) Member(_ context.Context, _, userID string) (*platform.MemberInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if userID == d.failFor {
		return nil, errors.New("platform timeout")
	}
	m, ok := d.members[userID]
	if !ok {
		return nil, platform.ErrMemberNotFound
	}
	return m, nil
}

// Refresh returns the platform's current entry from fresh when set and
// remembers it for later lookups
func (d *fakeDirectory) Refresh(ctx context.Context, guildID, userID string) (*platform.MemberInfo, error) {
	d.mu.Lock()
	d.refreshed = append(d.refreshed, userID)
	if m, ok := d.fresh[userID]; ok {
		d.members[userID] = m
	}
	d.mu.Unlock()
	return d.Member(ctx, guildID, userID)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (r *recordingAudit) Log(_ context.Context, event *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) Search(_ context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.Event
	for _, ev := range r.events {
		if ev.GuildID == filter.GuildID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type toggle struct {
	target   string
	disabled bool
	actor    string
}

type fakeModuleWriter struct {
	toggles []toggle
}

func (w *fakeModuleWriter) SetModuleDisabled(_ context.Context, _, moduleID string, disabled bool, actorID string) error {
	w.toggles = append(w.toggles, toggle{moduleID, disabled, actorID})
	return nil
}

func (w *fakeModuleWriter) SetCommandDisabled(_ context.Context, _, command string, disabled bool, actorID string) error {
	w.toggles = append(w.toggles, toggle{command, disabled, actorID})
	return nil
}

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, guildID, moduleID string) error {
	r.calls = append(r.calls, "module:"+guildID+"/"+moduleID)
	return nil
}

func (r *recordingInvalidator) InvalidateGuild(_ context.Context, guildID string) error {
	r.calls = append(r.calls, "guild:"+guildID)
	return nil
}

func (r *recordingInvalidator) InvalidateAll(context.Context) error {
	r.calls = append(r.calls, "all")
	return nil
}

type alwaysEnabled struct{}

func (alwaysEnabled) IsModuleEnabled(context.Context, string, string) (bool, error)  { return true, nil }
func (alwaysEnabled) IsCommandEnabled(context.Context, string, string) (bool, error) { return true, nil }

type testEngine struct {
	*Engine
	store       *memStore
	directory   *fakeDirectory
	writer      *fakeModuleWriter
	invalidator *recordingInvalidator
	audit       *recordingAudit
}

func newTestEngine() *testEngine {
	positions := map[string]int{"admin-role": 30, "mod-role": 20, "R2": 10}
	store := newMemStore()
	store.roles["admin-role"] = hierarchy.RoleConfig{GuildID: "g1", RoleID: "admin-role", Rank: 0, Permissions: kittycat.MustParseSet("settings.*", "mod.*")}
	store.roles["mod-role"] = hierarchy.RoleConfig{GuildID: "g1", RoleID: "mod-role", Rank: 1, Permissions: kittycat.MustParseSet("mod.kick")}

	directory := &fakeDirectory{members: map[string]*platform.MemberInfo{
		"owner": {GuildID: "g1", UserID: "owner", OwnerID: "owner", Positions: positions},
		"admin": {GuildID: "g1", UserID: "admin", OwnerID: "owner", RoleIDs: []string{"admin-role"}, Positions: positions},
		"mod":   {GuildID: "g1", UserID: "mod", OwnerID: "owner", RoleIDs: []string{"mod-role"}, Positions: positions},
		"user":  {GuildID: "g1", UserID: "user", OwnerID: "owner", Positions: positions},
	}}
	writer := &fakeModuleWriter{}
	invalidator := &recordingInvalidator{}
	auditLog := &recordingAudit{}

	registry := modules.NewBuilder().Add(modules.ModuleDescriptor{
		ID: "mod", Name: "Moderation", Toggleable: true, CommandsToggleable: true, DefaultEnabled: true,
		Commands: []modules.CommandDescriptor{
			{QualifiedName: "kick", Requirement: modules.PermissionRequirement{Kittycat: []string{"mod.kick"}}},
		},
	}).MustBuild()

	e := New(Config{
		Registry:    registry,
		Enablement:  alwaysEnabled{},
		Invalidator: invalidator,
		Hierarchy:   store,
		Modules:     writer,
		Members:     directory,
		Audit:       auditLog,
		AuditSearch: auditLog,
	})
	return &testEngine{Engine: e, store: store, directory: directory, writer: writer, invalidator: invalidator, audit: auditLog}
}

func TestEngine_Authorize(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	assert.NoError(t, e.Authorize(ctx, "g1", "mod", "kick", authz.Options{}))
	assert.ErrorIs(t, e.Authorize(ctx, "g1", "user", "kick", authz.Options{}), authz.ErrPermissionDenied)
	assert.NoError(t, e.AuthorizePermission(ctx, "g1", "admin", "mod.ban", authz.Options{}))
}

func TestEngine_CreateRole(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	denied := &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, Permissions: kittycat.MustParseSet("mod.ban")}
	err := e.CreateRole(ctx, "mod", denied)
	assert.ErrorIs(t, err, guard.ErrPermissionsDenied)
	_, err = e.store.GetRole(ctx, "g1", "R2")
	assert.ErrorIs(t, err, hierarchy.ErrNotFound, "denied roles must not be stored")

	allowed := &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, Permissions: kittycat.MustParseSet("mod.kick")}
	require.NoError(t, e.CreateRole(ctx, "mod", allowed))

	stored, err := e.store.GetRole(ctx, "g1", "R2")
	require.NoError(t, err)
	assert.Equal(t, "mod", stored.CreatedBy)
	assert.Equal(t, "mod", stored.LastUpdatedBy)
}

func TestEngine_UpdateAndDeleteRole(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	e.store.roles["R2"] = hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, CreatedBy: "owner"}

	update := &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 6, Permissions: kittycat.MustParseSet("mod.kick")}
	require.NoError(t, e.UpdateRole(ctx, "mod", update))
	stored, _ := e.store.GetRole(ctx, "g1", "R2")
	assert.Equal(t, "owner", stored.CreatedBy)
	assert.Equal(t, "mod", stored.LastUpdatedBy)
	assert.Equal(t, 6, stored.Rank)

	err := e.UpdateRole(ctx, "mod", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "missing", Rank: 6})
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)

	assert.ErrorIs(t, e.DeleteRole(ctx, "g1", "mod", "admin-role"), guard.ErrRankTooLow)
	require.NoError(t, e.DeleteRole(ctx, "g1", "mod", "R2"))
	_, err = e.store.GetRole(ctx, "g1", "R2")
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestEngine_MemberOverrides(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	o := &hierarchy.MemberOverride{GuildID: "g1", UserID: "user", PermOverrides: kittycat.MustParseSet("mod.kick")}
	require.NoError(t, e.SetMemberOverride(ctx, "mod", o))

	stored, err := e.store.OverrideForMember(ctx, "g1", "user")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "mod", stored.CreatedBy)

	// the member may publish their own override
	public := &hierarchy.MemberOverride{GuildID: "g1", UserID: "user", Public: true, PermOverrides: kittycat.MustParseSet("mod.kick")}
	require.NoError(t, e.SetMemberOverride(ctx, "user", public))
	stored, _ = e.store.OverrideForMember(ctx, "g1", "user")
	assert.True(t, stored.Public)
	assert.Equal(t, "mod", stored.CreatedBy)
	assert.Equal(t, "user", stored.LastUpdatedBy)

	hidden := &hierarchy.MemberOverride{GuildID: "g1", UserID: "user", PermOverrides: kittycat.MustParseSet("mod.kick")}
	assert.ErrorIs(t, e.SetMemberOverride(ctx, "admin", hidden), guard.ErrPublicFlagSelfOnly)

	require.NoError(t, e.DeleteMemberOverride(ctx, "g1", "mod", "user"))
	assert.ErrorIs(t, e.DeleteMemberOverride(ctx, "g1", "mod", "user"), hierarchy.ErrNotFound)
}

func TestEngine_ModuleToggles(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	err := e.SetModuleDisabled(ctx, "g1", "mod", "mod", true)
	assert.ErrorIs(t, err, authz.ErrPermissionDenied)
	assert.Empty(t, e.writer.toggles)

	require.NoError(t, e.SetModuleDisabled(ctx, "g1", "admin", "mod", true))
	require.NoError(t, e.SetCommandDisabled(ctx, "g1", "owner", "kick", false))
	assert.Equal(t, []toggle{{"mod", true, "admin"}, {"kick", false, "owner"}}, e.writer.toggles)
}

func TestEngine_InvalidateEnablement(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	module := "mod"

	require.NoError(t, e.InvalidateEnablement(ctx, "g1", &module))
	require.NoError(t, e.InvalidateEnablement(ctx, "g1", nil))
	require.NoError(t, e.InvalidateEnablementAll(ctx))

	assert.Equal(t, []string{"module:g1/mod", "guild:g1", "all"}, e.invalidator.calls)
}

func TestEngine_ResyncPending(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.store.pending = []string{"mod", "gone", "flaky"}
	e.directory.failFor = "flaky"

	synced, err := e.ResyncPending(ctx, "g1")
	assert.Equal(t, 2, synced)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")

	assert.Equal(t, []string{"mod-role"}, e.store.synced["mod"])
	assert.Contains(t, e.store.synced, "gone")
	assert.NotContains(t, e.store.synced, "flaky")
	assert.ElementsMatch(t, []string{"mod", "gone", "flaky"}, e.directory.refreshed)
}

func TestEngine_ResyncUsesFreshPlatformRoles(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// mod was demoted on the platform after the cached entry was taken
	e.directory.fresh = map[string]*platform.MemberInfo{
		"mod": {GuildID: "g1", UserID: "mod", OwnerID: "owner", Positions: map[string]int{"mod-role": 20}},
	}
	require.NoError(t, e.Authorize(ctx, "g1", "mod", "kick", authz.Options{}))

	e.store.pending = []string{"mod"}
	synced, err := e.ResyncPending(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Empty(t, e.store.synced["mod"])

	assert.ErrorIs(t, e.Authorize(ctx, "g1", "mod", "kick", authz.Options{}), authz.ErrPermissionDenied)
}

func TestEngine_ResyncGuild(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.store.pending = []string{"mod"}

	_, err := e.ResyncGuild(ctx, "g1", "mod")
	assert.ErrorIs(t, err, authz.ErrPermissionDenied)
	assert.Empty(t, e.directory.refreshed)

	synced, err := e.ResyncGuild(ctx, "g1", "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
}

func TestEngine_Roles(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	roles, err := e.Roles(ctx, "g1", "user")
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	_, err = e.Roles(ctx, "g1", "stranger")
	assert.ErrorIs(t, err, platform.ErrMemberNotFound)
}

func TestEngine_AuditsAppliedChanges(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	name := "Helpers"

	require.NoError(t, e.CreateRole(ctx, "mod", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, Permissions: kittycat.MustParseSet("mod.kick")}))
	require.NoError(t, e.UpdateRole(ctx, "admin", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 5, DisplayName: &name, Permissions: kittycat.MustParseSet("mod.warn")}))
	require.NoError(t, e.DeleteRole(ctx, "g1", "admin", "R2"))
	require.Len(t, e.audit.events, 3)

	created := e.audit.events[0]
	assert.Equal(t, audit.EventTypeAuthzRoleChange, created.EventType)
	assert.Equal(t, audit.EventStatusSuccess, created.Status)
	assert.Equal(t, "mod", created.ActorID)
	assert.Equal(t, audit.ResourceTypeRole, created.ResourceType)
	assert.Equal(t, "R2", created.ResourceID)
	assert.Equal(t, "create", created.Changes.Op)
	assert.Equal(t, []string{"mod.kick"}, created.Changes.Added)
	assert.Empty(t, created.Changes.Removed)
	assert.Nil(t, created.Changes.Before)
	assert.Equal(t, map[string]interface{}{"rank": 4}, created.Changes.After)

	updated := e.audit.events[1]
	assert.Equal(t, "update", updated.Changes.Op)
	assert.Equal(t, []string{"mod.warn"}, updated.Changes.Added)
	assert.Equal(t, []string{"mod.kick"}, updated.Changes.Removed)
	assert.Equal(t, map[string]interface{}{"rank": 5, "display_name": "Helpers"}, updated.Changes.After)

	deleted := e.audit.events[2]
	assert.Equal(t, "delete", deleted.Changes.Op)
	assert.Equal(t, []string{"mod.warn"}, deleted.Changes.Removed)
	assert.Nil(t, deleted.Changes.After)

	require.NoError(t, e.SetMemberOverride(ctx, "mod", &hierarchy.MemberOverride{GuildID: "g1", UserID: "user", PermOverrides: kittycat.MustParseSet("mod.kick")}))
	require.NoError(t, e.DeleteMemberOverride(ctx, "g1", "mod", "user"))
	require.Len(t, e.audit.events, 5)

	granted := e.audit.events[3]
	assert.Equal(t, audit.EventTypeAuthzPermissionGrant, granted.EventType)
	assert.Equal(t, audit.ResourceTypeMemberOverride, granted.ResourceType)
	assert.Equal(t, "user", granted.ResourceID)
	assert.Equal(t, []string{"mod.kick"}, granted.Changes.Added)
	assert.Equal(t, map[string]interface{}{"public": false}, granted.Changes.After)

	revoked := e.audit.events[4]
	assert.Equal(t, audit.EventTypeAuthzPermissionRevoke, revoked.EventType)
	assert.Equal(t, []string{"mod.kick"}, revoked.Changes.Removed)

	require.NoError(t, e.SetModuleDisabled(ctx, "g1", "admin", "mod", true))
	require.Len(t, e.audit.events, 6)
	toggled := e.audit.events[5]
	assert.Equal(t, audit.EventTypeConfigChange, toggled.EventType)
	assert.Equal(t, audit.ResourceTypeModule, toggled.ResourceType)
	assert.Equal(t, "disable", toggled.Changes.Op)
}

func TestEngine_AuditsDenialsNotFailures(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	err := e.CreateRole(ctx, "mod", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, Permissions: kittycat.MustParseSet("mod.ban")})
	require.ErrorIs(t, err, guard.ErrPermissionsDenied)
	require.Len(t, e.audit.events, 1)
	assert.Equal(t, audit.EventTypeAuthzAccessDenied, e.audit.events[0].EventType)
	assert.Equal(t, []string{"mod.ban"}, e.audit.events[0].Changes.Added)

	// a store failure is neither applied nor denied
	err = e.UpdateRole(ctx, "mod", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "missing", Rank: 6})
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
	assert.Len(t, e.audit.events, 1)
}

func TestEngine_AuditWriteFailureKeepsChange(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.audit.err = errors.New("audit table missing")

	require.NoError(t, e.CreateRole(ctx, "mod", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, Permissions: kittycat.MustParseSet("mod.kick")}))
	_, err := e.store.GetRole(ctx, "g1", "R2")
	assert.NoError(t, err)
}

func TestEngine_AuditEvents(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	require.NoError(t, e.CreateRole(ctx, "mod", &hierarchy.RoleConfig{GuildID: "g1", RoleID: "R2", Rank: 4, Permissions: kittycat.MustParseSet("mod.kick")}))

	_, err := e.AuditEvents(ctx, "g1", "mod", audit.SearchFilter{})
	assert.ErrorIs(t, err, authz.ErrPermissionDenied)

	// the guild cannot be widened by the filter
	events, err := e.AuditEvents(ctx, "g1", "owner", audit.SearchFilter{GuildID: "g2"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "R2", events[0].ResourceID)

	e.auditSearch = nil
	_, err = e.AuditEvents(ctx, "g1", "owner", audit.SearchFilter{})
	assert.ErrorIs(t, err, ErrAuditDisabled)
}

func TestEngine_ResyncNothingPending(t *testing.T) {
	e := newTestEngine()
	synced, err := e.ResyncPending(context.Background(), "g1")
	assert.NoError(t, err)
	assert.Zero(t, synced)
}

func TestEngine_ResyncAll(t *testing.T) {
	e := newTestEngine()
	e.store.pending = []string{"mod", "gone"}

	synced, err := e.ResyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.Equal(t, []string{"mod-role"}, e.store.synced["mod"])

	e.directory.failFor = "mod"
	synced, err = e.ResyncAll(context.Background())
	assert.Equal(t, 1, synced)
	assert.ErrorContains(t, err, "guild g1")
}

func TestResyncScheduler(t *testing.T) {
	e := newTestEngine()

	_, err := NewResyncScheduler(e.Engine, "not a schedule")
	assert.Error(t, err)

	s, err := NewResyncScheduler(e.Engine, "")
	require.NoError(t, err)
	s.Start()

	e.store.pending = []string{"mod"}
	s.sweep()
	assert.Equal(t, []string{"mod-role"}, e.store.synced["mod"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, s.ctx.Err(), "stopping cancels in-flight sweeps")
}
