// Package platform looks up who a guild member is on the chat platform:
// their native permission bits, the roles they hold and where those roles
// sit in the platform's own role ordering.
package platform

import (
	"context"
	"errors"

	"github.com/platinummonkey/gatekeeper/pkg/modules"
)

// ErrLookup wraps every failure to obtain member data
var ErrLookup = errors.New("member lookup failed")

// ErrMemberNotFound is returned when the platform does not know the member
var ErrMemberNotFound = errors.New("member not found in guild")

// MemberInfo is a guild member as seen by the chat platform
type MemberInfo struct {
	GuildID string                    `json:"guild_id"`
	UserID  string                    `json:"user_id"`
	OwnerID string                    `json:"owner_id"`
	Native  modules.NativePermissions `json:"native_permissions,string"`
	RoleIDs []string                  `json:"roles"`

	// Positions maps role id to its position in the platform hierarchy.
	// Larger is higher. It covers at least the member's roles; the platform
	// API returns every role of the guild.
	Positions map[string]int `json:"positions"`
}

// IsOwner reports whether the member owns the guild
func (m *MemberInfo) IsOwner() bool {
	return m.OwnerID != "" && m.UserID == m.OwnerID
}

// Complete reports whether the entry carries everything a permission check
// needs. Gateway caches may hold members without owner or role position data.
// A complete entry may still only position the member's own roles; callers
// needing another role's position use Resolver.Refresh.
func (m *MemberInfo) Complete() bool {
	if m == nil || m.OwnerID == "" || m.Positions == nil {
		return false
	}
	for _, id := range m.RoleIDs {
		if _, ok := m.Positions[id]; !ok {
			return false
		}
	}
	return true
}

// HighestPosition returns the highest platform position among the member's
// roles. ok is false for members holding no role with a known position.
func (m *MemberInfo) HighestPosition() (pos int, ok bool) {
	return HighestPosition(m.RoleIDs, m.Positions)
}

// HighestPosition returns the highest position in positions among roleIDs
func HighestPosition(roleIDs []string, positions map[string]int) (pos int, ok bool) {
	for _, id := range roleIDs {
		p, known := positions[id]
		if !known {
			continue
		}
		if !ok || p > pos {
			pos = p
			ok = true
		}
	}
	return pos, ok
}

// Client fetches members from the platform API
type Client interface {
	FetchMember(ctx context.Context, guildID, userID string) (*MemberInfo, error)
}

// Cache is a local, possibly partial, view of guild members such as a
// gateway event cache
type Cache interface {
	CachedMember(guildID, userID string) (*MemberInfo, bool)
}
