package api

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authz"
	"github.com/platinummonkey/gatekeeper/pkg/engine"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
)

// guildAndActor extracts the guild path parameter and the acting user
func guildAndActor(w http.ResponseWriter, r *http.Request) (guildID, actorID string, ok bool) {
	guildID, ok = httputil.PathStringOrError(w, r, "guild")
	if !ok {
		return "", "", false
	}
	actorID, ok = httputil.RequireHeader(w, r, ActorHeader)
	if !ok {
		return "", "", false
	}
	return guildID, actorID, true
}

func parseCustomPerms(w http.ResponseWriter, raw *[]string) (*kittycat.PermissionSet, bool) {
	if raw == nil {
		return nil, true
	}
	set, err := kittycat.ParseSet(*raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return &set, true
}

func parsePerms(w http.ResponseWriter, raw []string) (kittycat.PermissionSet, bool) {
	set, err := kittycat.ParseSet(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return set, true
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}

	var req AuthorizeRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if req.Command == "" {
		httputil.WriteBadRequest(w, "command is required")
		return
	}
	custom, ok := parseCustomPerms(w, req.CustomResolvedPerms)
	if !ok {
		return
	}

	err := s.engine.Authorize(r.Context(), guildID, actorID, req.Command, authz.Options{
		IgnoreModuleDisabled:        req.IgnoreModuleDisabled,
		IgnoreCommandDisabled:       req.IgnoreCommandDisabled,
		CustomResolvedKittycatPerms: custom,
		ChannelID:                   req.ChannelID,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, AuthorizeResponse{Allowed: true})
}

func (s *Server) authorizePermission(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}

	var req AuthorizePermissionRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}
	custom, ok := parseCustomPerms(w, req.CustomResolvedPerms)
	if !ok {
		return
	}

	var native modules.NativePermissions
	for _, name := range req.RequiredNative {
		bit, err := modules.ParseNative(name)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		native = native.Add(bit)
	}

	err := s.engine.AuthorizePermission(r.Context(), guildID, actorID, req.Permission, authz.Options{
		CustomResolvedKittycatPerms: custom,
		ChannelID:                   req.ChannelID,
		RequiredNative:              native,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, AuthorizeResponse{Allowed: true})
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}

	roles, err := s.engine.Roles(r.Context(), guildID, actorID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if roles == nil {
		roles = []hierarchy.RoleConfig{}
	}
	httputil.WriteSuccess(w, RolesResponse{Roles: roles})
}

func (s *Server) roleFromRequest(w http.ResponseWriter, r *http.Request, guildID, roleID string) (*hierarchy.RoleConfig, bool) {
	var req RoleRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return nil, false
	}
	if roleID == "" {
		roleID = req.RoleID
	}
	if roleID == "" {
		httputil.WriteBadRequest(w, "role_id is required")
		return nil, false
	}
	if req.Rank == nil {
		httputil.WriteBadRequest(w, "rank is required")
		return nil, false
	}
	perms, ok := parsePerms(w, req.Permissions)
	if !ok {
		return nil, false
	}

	return &hierarchy.RoleConfig{
		GuildID:     guildID,
		RoleID:      roleID,
		Rank:        *req.Rank,
		Permissions: perms,
		DisplayName: req.DisplayName,
	}, true
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	role, ok := s.roleFromRequest(w, r, guildID, "")
	if !ok {
		return
	}

	if err := s.engine.CreateRole(r.Context(), actorID, role); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.PathStringOrError(w, r, "role")
	if !ok {
		return
	}
	role, ok := s.roleFromRequest(w, r, guildID, roleID)
	if !ok {
		return
	}

	if err := s.engine.UpdateRole(r.Context(), actorID, role); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.PathStringOrError(w, r, "role")
	if !ok {
		return
	}

	if err := s.engine.DeleteRole(r.Context(), guildID, actorID, roleID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) setMemberOverride(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.PathStringOrError(w, r, "user")
	if !ok {
		return
	}

	var req OverrideRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	perms, ok := parsePerms(w, req.Permissions)
	if !ok {
		return
	}

	o := &hierarchy.MemberOverride{
		GuildID:       guildID,
		UserID:        userID,
		PermOverrides: perms,
		Public:        req.Public,
	}
	if err := s.engine.SetMemberOverride(r.Context(), actorID, o); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, o)
}

func (s *Server) deleteMemberOverride(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.PathStringOrError(w, r, "user")
	if !ok {
		return
	}

	if err := s.engine.DeleteMemberOverride(r.Context(), guildID, actorID, userID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func decodeToggle(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req ToggleRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return false, false
	}
	if req.Disabled == nil {
		httputil.WriteBadRequest(w, "disabled is required")
		return false, false
	}
	return *req.Disabled, true
}

func (s *Server) toggleModule(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	moduleID, ok := httputil.PathStringOrError(w, r, "module")
	if !ok {
		return
	}
	disabled, ok := decodeToggle(w, r)
	if !ok {
		return
	}

	if err := s.engine.SetModuleDisabled(r.Context(), guildID, actorID, moduleID, disabled); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) toggleCommand(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}
	command, ok := httputil.PathStringOrError(w, r, "command")
	if !ok {
		return
	}
	disabled, ok := decodeToggle(w, r)
	if !ok {
		return
	}

	if err := s.engine.SetCommandDisabled(r.Context(), guildID, actorID, command, disabled); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}

	var req InvalidateRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if req.All {
		httputil.WriteBadRequest(w, "all is only accepted on the operator route")
		return
	}

	ctx := r.Context()
	if err := s.engine.AuthorizePermission(ctx, guildID, actorID, engine.PermManageModules, authz.Options{}); err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := s.engine.InvalidateEnablement(ctx, guildID, req.Module); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) resync(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}

	synced, err := s.engine.ResyncGuild(r.Context(), guildID, actorID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ResyncResponse{Synced: synced})
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httputil.WriteBadRequest(w, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	guildID, actorID, ok := guildAndActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := audit.SearchFilter{
		ActorID:      q.Get("actor"),
		ResourceType: audit.ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
	}
	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
	}
	if filter.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, r, "offset"); !ok {
		return
	}

	events, err := s.engine.AuditEvents(r.Context(), guildID, actorID, filter)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, AuditResponse{Events: events})
}

// invalidateAll drops every guild's cached enablement. Operator only.
func (s *Server) invalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.InvalidateEnablementAll(r.Context()); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// resyncAll resyncs every guild with flagged members. Operator only.
func (s *Server) resyncAll(w http.ResponseWriter, r *http.Request) {
	synced, err := s.engine.ResyncAll(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ResyncResponse{Synced: synced})
}
