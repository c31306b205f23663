package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
)

func guildRoles() []hierarchy.RoleConfig {
	return []hierarchy.RoleConfig{
		{GuildID: "g", RoleID: "helpers", Rank: 5, Permissions: kittycat.MustParseSet("mod.kick")},
		{GuildID: "g", RoleID: "admins", Rank: 0, Permissions: kittycat.MustParseSet("mod.*", "backups.*")},
		{GuildID: "g", RoleID: "mods", Rank: 2, Permissions: kittycat.MustParseSet("mod.ban", "lockdown.create")},
	}
}

func TestResolve_OwnerBypass(t *testing.T) {
	res := Resolve(Input{
		OwnerID:     "owner",
		ActorID:     "owner",
		ActorRoles:  nil,
		RoleConfigs: guildRoles(),
	})

	assert.True(t, res.IsOwner)
	assert.Equal(t, kittycat.Universal(), res.Permissions)
	assert.True(t, res.Permissions.Has(kittycat.MustParse("anything.at_all")))
}

func TestResolve_EmptyActorIsNeverOwner(t *testing.T) {
	res := Resolve(Input{OwnerID: "", ActorID: ""})
	assert.False(t, res.IsOwner)
	assert.Empty(t, res.Permissions)
}

func TestResolve_RankOrderThenOverride(t *testing.T) {
	res := Resolve(Input{
		OwnerID:     "owner",
		ActorID:     "u1",
		ActorRoles:  []string{"helpers", "mods", "not-configured"},
		RoleConfigs: guildRoles(),
		Override: &hierarchy.MemberOverride{
			PermOverrides: kittycat.MustParseSet("backups.restore"),
		},
	})

	assert.False(t, res.IsOwner)
	assert.Equal(t,
		kittycat.MustParseSet("mod.ban", "lockdown.create", "mod.kick", "backups.restore"),
		res.Permissions,
	)
	assert.Equal(t, []string{"mods", "helpers"}, res.MatchedRoles)

	rank, err := res.Rank()
	require.NoError(t, err)
	assert.Equal(t, 2, rank)
}

func TestResolve_NoConfiguredRole(t *testing.T) {
	res := Resolve(Input{
		OwnerID:     "owner",
		ActorID:     "u1",
		ActorRoles:  []string{"unknown"},
		RoleConfigs: guildRoles(),
		Override: &hierarchy.MemberOverride{
			PermOverrides: kittycat.MustParseSet("mod.kick"),
		},
	})

	assert.False(t, res.HasConfiguredRole)
	_, err := res.Rank()
	assert.ErrorIs(t, err, ErrNoConfiguredRole)

	// Overrides still apply without a configured role
	assert.True(t, res.Permissions.Has(kittycat.MustParse("mod.kick")))
}

func TestResolve_ZeroRankIsConfigured(t *testing.T) {
	res := Resolve(Input{OwnerID: "o", ActorID: "u", ActorRoles: []string{"admins"}, RoleConfigs: guildRoles()})

	rank, err := res.Rank()
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
}

// Removing a held role never grants something that was not already reachable
// through the remaining roles or the override.
func TestResolve_MonotonicUnderRoleRemoval(t *testing.T) {
	all := []string{"helpers", "admins", "mods"}
	override := &hierarchy.MemberOverride{PermOverrides: kittycat.MustParseSet("lockdown.view")}
	requested := kittycat.MustParseSet("mod.ban", "mod.kick", "backups.create", "lockdown.create", "lockdown.view", "other.thing")

	full := Resolve(Input{OwnerID: "o", ActorID: "u", ActorRoles: all, RoleConfigs: guildRoles(), Override: override})

	for i := range all {
		reduced := make([]string, 0, len(all)-1)
		reduced = append(reduced, all[:i]...)
		reduced = append(reduced, all[i+1:]...)

		res := Resolve(Input{OwnerID: "o", ActorID: "u", ActorRoles: reduced, RoleConfigs: guildRoles(), Override: override})
		for _, p := range requested {
			if res.Permissions.Has(p) {
				assert.True(t, full.Permissions.Has(p), "removing %s granted %s", all[i], p)
			}
		}
	}
}

func TestResolve_TiesBrokenByRoleID(t *testing.T) {
	configs := []hierarchy.RoleConfig{
		{RoleID: "b", Rank: 1, Permissions: kittycat.MustParseSet("b.x")},
		{RoleID: "a", Rank: 1, Permissions: kittycat.MustParseSet("a.x")},
	}
	res := Resolve(Input{OwnerID: "o", ActorID: "u", ActorRoles: []string{"b", "a"}, RoleConfigs: configs})
	assert.Equal(t, kittycat.MustParseSet("a.x", "b.x"), res.Permissions)
}

func TestLowestRankOf(t *testing.T) {
	rank, ok := LowestRankOf([]string{"helpers", "mods"}, guildRoles())
	assert.True(t, ok)
	assert.Equal(t, 2, rank)

	_, ok = LowestRankOf([]string{"nobody"}, guildRoles())
	assert.False(t, ok)
}
