// Package resolver merges a member's ranked role configs and explicit
// override into one effective kittycat permission set.
package resolver

import (
	"errors"
	"sort"

	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
)

// ErrNoConfiguredRole is returned by Result.Rank when the member holds no role
// present in the guild hierarchy
var ErrNoConfiguredRole = errors.New("you do not have any roles configured in this server's permission hierarchy")

// Input is everything needed to resolve one member's permissions
type Input struct {
	OwnerID     string
	ActorID     string
	ActorRoles  []string
	RoleConfigs []hierarchy.RoleConfig
	Override    *hierarchy.MemberOverride
}

// Result is the effective permission set of a member
type Result struct {
	Permissions kittycat.PermissionSet
	IsOwner     bool

	// LowestRank is only meaningful when HasConfiguredRole is set
	LowestRank        int
	HasConfiguredRole bool

	// MatchedRoles lists the held, configured role ids, most authoritative first
	MatchedRoles []string
}

// Rank returns the member's most authoritative (numerically lowest) rank
func (r Result) Rank() (int, error) {
	if !r.HasConfiguredRole {
		return 0, ErrNoConfiguredRole
	}
	return r.LowestRank, nil
}

// Resolve computes the effective permission set. Owners short-circuit to the
// universal set. Otherwise the permissions of every held, configured role
// are concatenated in rank order and the member override is appended last.
// The merge is additive: nothing later removes an earlier grant.
func Resolve(in Input) Result {
	if in.ActorID != "" && in.ActorID == in.OwnerID {
		return Result{
			Permissions: kittycat.Universal(),
			IsOwner:     true,
		}
	}

	held := make(map[string]struct{}, len(in.ActorRoles))
	for _, id := range in.ActorRoles {
		held[id] = struct{}{}
	}

	matched := make([]hierarchy.RoleConfig, 0, len(in.ActorRoles))
	for _, rc := range in.RoleConfigs {
		if _, ok := held[rc.RoleID]; ok {
			matched = append(matched, rc)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Rank != matched[j].Rank {
			return matched[i].Rank < matched[j].Rank
		}
		return matched[i].RoleID < matched[j].RoleID
	})

	result := Result{MatchedRoles: hierarchy.RoleIDs(matched)}
	perms := kittycat.PermissionSet{}
	for _, rc := range matched {
		perms = append(perms, rc.Permissions...)
	}
	if in.Override != nil {
		perms = append(perms, in.Override.PermOverrides...)
	}
	result.Permissions = perms

	if len(matched) > 0 {
		result.HasConfiguredRole = true
		result.LowestRank = matched[0].Rank
	}

	return result
}

// LowestRankOf returns the lowest rank among the given roles that appear in
// configs. ok is false when none of them are configured.
func LowestRankOf(roleIDs []string, configs []hierarchy.RoleConfig) (rank int, ok bool) {
	held := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		held[id] = struct{}{}
	}
	for _, rc := range configs {
		if _, in := held[rc.RoleID]; !in {
			continue
		}
		if !ok || rc.Rank < rank {
			rank = rc.Rank
			ok = true
		}
	}
	return rank, ok
}
