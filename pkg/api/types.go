package api

import (
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
)

// ActorHeader identifies the acting user
const ActorHeader = "X-Actor-ID"

// AuthorizeRequest asks whether the actor may run a command
type AuthorizeRequest struct {
	Command               string    `json:"command"`
	ChannelID             string    `json:"channel_id,omitempty"`
	IgnoreModuleDisabled  bool      `json:"ignore_module_disabled,omitempty"`
	IgnoreCommandDisabled bool      `json:"ignore_command_disabled,omitempty"`
	CustomResolvedPerms   *[]string `json:"custom_resolved_perms,omitempty"`
}

// AuthorizePermissionRequest asks whether the actor holds a permission
type AuthorizePermissionRequest struct {
	Permission          string    `json:"permission"`
	RequiredNative      []string  `json:"required_native,omitempty"`
	ChannelID           string    `json:"channel_id,omitempty"`
	CustomResolvedPerms *[]string `json:"custom_resolved_perms,omitempty"`
}

// AuthorizeResponse is returned when the check passes. Denials are errors.
type AuthorizeResponse struct {
	Allowed bool `json:"allowed"`
}

// RoleRequest creates or updates a role config. RoleID is only read on create.
type RoleRequest struct {
	RoleID      string   `json:"role_id,omitempty"`
	Rank        *int     `json:"rank"`
	Permissions []string `json:"perms"`
	DisplayName *string  `json:"display_name,omitempty"`
}

// RolesResponse lists role configs
type RolesResponse struct {
	Roles []hierarchy.RoleConfig `json:"roles"`
}

// OverrideRequest sets a member override
type OverrideRequest struct {
	Permissions []string `json:"perm_overrides"`
	Public      bool     `json:"public"`
}

// ToggleRequest enables or disables a module or command
type ToggleRequest struct {
	Disabled *bool `json:"disabled"`
}

// InvalidateRequest selects what to drop from a guild's enablement cache.
// With no module the whole guild is dropped. All is rejected; dropping every
// guild is the operator route /v1/admin/cache/invalidate.
type InvalidateRequest struct {
	Module *string `json:"module,omitempty"`
	All    bool    `json:"all,omitempty"`
}

// ResyncResponse reports a resync run
type ResyncResponse struct {
	Synced int `json:"synced"`
}

// AuditResponse lists audit events, newest first
type AuditResponse struct {
	Events []*audit.Event `json:"events"`
}
