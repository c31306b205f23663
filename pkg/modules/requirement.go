package modules

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
)

// Combinator joins the native and kittycat halves of a requirement
type Combinator int

const (
	// And requires both halves to pass
	And Combinator = iota
	// Or requires either half to pass
	Or
)

func (c Combinator) String() string {
	switch c {
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return fmt.Sprintf("combinator(%d)", int(c))
	}
}

// ParseCombinator parses "and" / "or"; empty means And
func ParseCombinator(s string) (Combinator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "and":
		return And, nil
	case "or":
		return Or, nil
	default:
		return And, fmt.Errorf("%w: unknown combinator %q", ErrInvalidRequirement, s)
	}
}

// PermissionRequirement is what a command demands of its caller
type PermissionRequirement struct {
	Native     NativePermissions
	Kittycat   []string
	Combinator Combinator
}

// Validate checks that every kittycat permission parses
func (r PermissionRequirement) Validate() error {
	if r.Combinator != And && r.Combinator != Or {
		return fmt.Errorf("%w: unknown combinator %d", ErrInvalidRequirement, int(r.Combinator))
	}
	if _, err := kittycat.ParseSet(r.Kittycat); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequirement, err)
	}
	return nil
}

// KittycatSet returns the parsed kittycat permissions. The requirement must
// have passed Validate.
func (r PermissionRequirement) KittycatSet() kittycat.PermissionSet {
	set, err := kittycat.ParseSet(r.Kittycat)
	if err != nil {
		return nil
	}
	return set
}

// IsEmpty reports whether the requirement demands nothing
func (r PermissionRequirement) IsEmpty() bool {
	return r.Native.IsEmpty() && len(r.Kittycat) == 0
}

// Evaluation is the outcome of checking a requirement against a caller
type Evaluation struct {
	NativeOK        bool
	KittycatOK      bool
	MissingNative   NativePermissions
	MissingKittycat kittycat.PermissionSet

	// set when the requirement declares that half at all
	nativeDeclared   bool
	kittycatDeclared bool
}

// Allowed applies the combinator. Under Or an undeclared half does not count
// as satisfied; a requirement declaring nothing always passes.
func (e Evaluation) Allowed(c Combinator) bool {
	if c != Or {
		return e.NativeOK && e.KittycatOK
	}
	if !e.nativeDeclared && !e.kittycatDeclared {
		return true
	}
	return (e.nativeDeclared && e.NativeOK) || (e.kittycatDeclared && e.KittycatOK)
}

// Evaluate checks native and kittycat permissions against the requirement.
// An empty half always passes.
func (r PermissionRequirement) Evaluate(native NativePermissions, perms kittycat.PermissionSet) Evaluation {
	eval := Evaluation{
		MissingNative:    native.Missing(r.Native),
		nativeDeclared:   !r.Native.IsEmpty(),
		kittycatDeclared: len(r.Kittycat) > 0,
	}
	eval.NativeOK = eval.MissingNative.IsEmpty()

	for _, p := range r.KittycatSet() {
		if !kittycat.Matches(perms, p) {
			eval.MissingKittycat = append(eval.MissingKittycat, p)
		}
	}
	eval.KittycatOK = len(eval.MissingKittycat) == 0

	return eval
}
