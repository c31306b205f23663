package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
)

var (
	// ErrInfrastructure wraps storage and network failures. Callers may retry.
	ErrInfrastructure = errors.New("authorization backend unavailable")

	// ErrUnknownCommand is returned for commands missing from the registry
	ErrUnknownCommand = errors.New("unknown command")

	// ErrValidation is returned for malformed input such as bad permission text
	ErrValidation = errors.New("invalid authorization request")

	// ErrDisabled matches every *DisabledError
	ErrDisabled = errors.New("disabled in this server")

	// ErrPermissionDenied matches every *PermissionDeniedError
	ErrPermissionDenied = errors.New("permission denied")
)

// DisabledError reports a module or command switched off for the guild.
// Exactly one of Module and Command is set.
type DisabledError struct {
	Module  string
	Command string
}

func (e *DisabledError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("the command %q is disabled in this server", e.Command)
	}
	return fmt.Sprintf("the %q module is disabled in this server", e.Module)
}

func (e *DisabledError) Is(target error) bool {
	return target == ErrDisabled
}

// PermissionDeniedError explains a denial. Native and Custom say which half
// of the requirement failed; HookReason is set when the guild's override
// worker denied.
type PermissionDeniedError struct {
	Native          bool
	Custom          bool
	Combinator      modules.Combinator
	MissingNative   modules.NativePermissions
	MissingKittycat kittycat.PermissionSet
	HookReason      string
}

func (e *PermissionDeniedError) Error() string {
	if e.HookReason != "" {
		return "denied by this server's override script: " + e.HookReason
	}

	native := "platform permissions " + strings.Join(e.MissingNative.Names(), ", ")
	custom := "permissions " + strings.Join(e.MissingKittycat.Strings(), ", ")

	switch {
	case e.Native && e.Custom && e.Combinator == modules.Or:
		return fmt.Sprintf("you need either the %s or the %s", native, custom)
	case e.Native && e.Custom:
		return fmt.Sprintf("you are missing the %s and the %s", native, custom)
	case e.Native:
		return "you are missing the " + native
	case e.Custom:
		return "you are missing the " + custom
	default:
		return "you do not have permission to do this"
	}
}

func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

func infraErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
