package kittycat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPermissionsDenied is matched by DeniedPermissionsError
var ErrPermissionsDenied = errors.New("permission change not allowed")

// Matches reports whether set grants requested. A grant matches when it is
// the requested permission verbatim, the namespace wildcard for it, or the
// global wildcard.
func Matches(set PermissionSet, requested Permission) bool {
	for _, p := range set {
		if p.IsGlobal() || p == requested {
			return true
		}
		if p.Namespace == requested.Namespace && p.Action == Wildcard {
			return true
		}
	}
	return false
}

// MatchesString parses requested and checks it against set
func MatchesString(set PermissionSet, requested string) (bool, error) {
	p, err := Parse(requested)
	if err != nil {
		return false, err
	}
	return Matches(set, p), nil
}

// DeniedPermissionsError lists the permissions an actor tried to add or remove
// without holding them.
type DeniedPermissionsError struct {
	Added   PermissionSet
	Removed PermissionSet
}

func (e *DeniedPermissionsError) Error() string {
	var parts []string
	if len(e.Added) > 0 {
		parts = append(parts, "cannot add "+strings.Join(e.Added.Strings(), ", "))
	}
	if len(e.Removed) > 0 {
		parts = append(parts, "cannot remove "+strings.Join(e.Removed.Strings(), ", "))
	}
	return fmt.Sprintf("you do not have the permissions needed for this change: %s", strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrPermissionsDenied) succeed
func (e *DeniedPermissionsError) Is(target error) bool {
	return target == ErrPermissionsDenied
}

// Permissions returns every offending permission, added first
func (e *DeniedPermissionsError) Permissions() PermissionSet {
	out := make(PermissionSet, 0, len(e.Added)+len(e.Removed))
	out = append(out, e.Added...)
	return append(out, e.Removed...)
}

// Diff returns the permissions present in after but not before (added) and
// those present in before but not after (removed), in first-seen order.
func Diff(before, after PermissionSet) (added, removed PermissionSet) {
	inBefore := make(map[Permission]struct{}, len(before))
	for _, p := range before {
		inBefore[p] = struct{}{}
	}
	inAfter := make(map[Permission]struct{}, len(after))
	for _, p := range after {
		inAfter[p] = struct{}{}
	}

	for _, p := range after.Dedup() {
		if _, ok := inBefore[p]; !ok {
			added = append(added, p)
		}
	}
	for _, p := range before.Dedup() {
		if _, ok := inAfter[p]; !ok {
			removed = append(removed, p)
		}
	}
	return added, removed
}

// DiffAllowed checks that every permission being added or removed by the
// change before -> after is itself granted by actor. Returns a
// *DeniedPermissionsError naming the offenders otherwise.
func DiffAllowed(actor, before, after PermissionSet) error {
	added, removed := Diff(before, after)

	denied := &DeniedPermissionsError{}
	for _, p := range added {
		if !Matches(actor, p) {
			denied.Added = append(denied.Added, p)
		}
	}
	for _, p := range removed {
		if !Matches(actor, p) {
			denied.Removed = append(denied.Removed, p)
		}
	}

	if len(denied.Added) == 0 && len(denied.Removed) == 0 {
		return nil
	}
	return denied
}
