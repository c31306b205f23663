package hierarchy

import (
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
)

// RoleConfig is the guild's configuration for one platform role: its rank in
// the guild hierarchy and the kittycat permissions it grants. Lower rank means
// more authority.
type RoleConfig struct {
	GuildID       string                 `json:"guild_id" validate:"required,max=64"`
	RoleID        string                 `json:"role_id" validate:"required,max=64"`
	Rank          int                    `json:"rank" validate:"gte=0"`
	Permissions   kittycat.PermissionSet `json:"perms"`
	DisplayName   *string                `json:"display_name,omitempty" validate:"omitempty,max=100"`
	CreatedAt     time.Time              `json:"created_at"`
	CreatedBy     string                 `json:"created_by" validate:"required"`
	LastUpdatedAt time.Time              `json:"last_updated_at"`
	LastUpdatedBy string                 `json:"last_updated_by" validate:"required"`
}

// MemberOverride grants permissions to one member independent of roles
type MemberOverride struct {
	GuildID       string                 `json:"guild_id" validate:"required,max=64"`
	UserID        string                 `json:"user_id" validate:"required,max=64"`
	PermOverrides kittycat.PermissionSet `json:"perm_overrides"`
	Public        bool                   `json:"public"`
	CreatedAt     time.Time              `json:"created_at"`
	CreatedBy     string                 `json:"created_by" validate:"required"`
	LastUpdatedAt time.Time              `json:"last_updated_at"`
	LastUpdatedBy string                 `json:"last_updated_by" validate:"required"`
}

// RoleIDs returns the role id of each config, in order
func RoleIDs(roles []RoleConfig) []string {
	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.RoleID
	}
	return ids
}

// FindRole returns the config for roleID, or nil
func FindRole(roles []RoleConfig, roleID string) *RoleConfig {
	for i := range roles {
		if roles[i].RoleID == roleID {
			return &roles[i]
		}
	}
	return nil
}
