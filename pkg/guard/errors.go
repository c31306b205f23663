package guard

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/resolver"
)

var (
	// ErrNoConfiguredRole is returned when a non-owner actor holds no role
	// present in the guild hierarchy
	ErrNoConfiguredRole = resolver.ErrNoConfiguredRole

	// ErrRankTooLow is returned when the actor does not outrank the target
	// in the guild's configured hierarchy
	ErrRankTooLow = errors.New("your configured rank is not high enough to change this")

	// ErrNativeHierarchy is returned when the actor does not outrank the
	// target in the platform's own role ordering
	ErrNativeHierarchy = errors.New("your highest platform role is not above the target")

	// ErrPublicFlagSelfOnly is returned when anyone but the member changes
	// the public flag of their override
	ErrPublicFlagSelfOnly = errors.New("only the member themselves can change whether their override is public")

	// ErrPermissionsDenied matches diff failures; the concrete error is a
	// *kittycat.DeniedPermissionsError naming the permissions
	ErrPermissionsDenied = kittycat.ErrPermissionsDenied

	// ErrValidation is returned for changes missing the fields their op needs
	ErrValidation = errors.New("invalid change")

	// ErrInfrastructure wraps lookup failures
	ErrInfrastructure = errors.New("guard backend unavailable")
)

// IsDenial reports whether err is one of the guard's denials, as opposed to
// a validation or infrastructure failure
func IsDenial(err error) bool {
	return errors.Is(err, ErrNoConfiguredRole) ||
		errors.Is(err, ErrRankTooLow) ||
		errors.Is(err, ErrNativeHierarchy) ||
		errors.Is(err, ErrPublicFlagSelfOnly) ||
		errors.Is(err, ErrPermissionsDenied)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func infraErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
