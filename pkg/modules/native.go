package modules

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// NativePermissions is the chat platform's own permission bitset. The engine
// treats the bits as opaque except for the names below, which only exist so
// manifests can be written by hand.
type NativePermissions uint64

const (
	NativeCreateInvite NativePermissions = 1 << iota
	NativeKickMembers
	NativeBanMembers
	NativeAdministrator
	NativeManageChannels
	NativeManageGuild
	NativeAddReactions
	NativeViewAuditLog
)

const (
	NativeManageMessages NativePermissions = 1 << (13 + iota)
	NativeEmbedLinks
	NativeAttachFiles
	NativeReadMessageHistory
	NativeMentionEveryone
)

const (
	NativeManageNicknames NativePermissions = 1 << (27 + iota)
	NativeManageRoles
	NativeManageWebhooks
)

const NativeModerateMembers NativePermissions = 1 << 40

var nativeNames = map[string]NativePermissions{
	"create_invite":        NativeCreateInvite,
	"kick_members":         NativeKickMembers,
	"ban_members":          NativeBanMembers,
	"administrator":        NativeAdministrator,
	"manage_channels":      NativeManageChannels,
	"manage_guild":         NativeManageGuild,
	"add_reactions":        NativeAddReactions,
	"view_audit_log":       NativeViewAuditLog,
	"manage_messages":      NativeManageMessages,
	"embed_links":          NativeEmbedLinks,
	"attach_files":         NativeAttachFiles,
	"read_message_history": NativeReadMessageHistory,
	"mention_everyone":     NativeMentionEveryone,
	"manage_nicknames":     NativeManageNicknames,
	"manage_roles":         NativeManageRoles,
	"manage_webhooks":      NativeManageWebhooks,
	"moderate_members":     NativeModerateMembers,
}

// Has reports whether every bit of other is set
func (n NativePermissions) Has(other NativePermissions) bool {
	return n&other == other
}

// Contains is Has for a required set; an empty requirement is always contained
func (n NativePermissions) Contains(required NativePermissions) bool {
	return n.Has(required)
}

// Add returns n with the bits of other set
func (n NativePermissions) Add(other NativePermissions) NativePermissions {
	return n | other
}

// Remove returns n with the bits of other cleared
func (n NativePermissions) Remove(other NativePermissions) NativePermissions {
	return n &^ other
}

// Missing returns the bits of required that n lacks
func (n NativePermissions) Missing(required NativePermissions) NativePermissions {
	return required &^ n
}

// IsEmpty reports whether no bit is set
func (n NativePermissions) IsEmpty() bool {
	return n == 0
}

// Names returns the known names of the set bits, sorted. Unnamed bits are
// rendered as bit_<index>.
func (n NativePermissions) Names() []string {
	names := make([]string, 0, bits.OnesCount64(uint64(n)))
	rest := n
	for name, bit := range nativeNames {
		if n.Has(bit) {
			names = append(names, name)
			rest = rest.Remove(bit)
		}
	}
	for rest != 0 {
		idx := bits.TrailingZeros64(uint64(rest))
		names = append(names, fmt.Sprintf("bit_%d", idx))
		rest = rest.Remove(1 << idx)
	}
	sort.Strings(names)
	return names
}

func (n NativePermissions) String() string {
	if n == 0 {
		return "none"
	}
	return strings.Join(n.Names(), ", ")
}

// ParseNative resolves a native permission name
func ParseNative(name string) (NativePermissions, error) {
	bit, ok := nativeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown native permission %q", ErrInvalidRequirement, name)
	}
	return bit, nil
}
