package kittycat

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Wildcard matches any action in a namespace, or everything when used alone
const Wildcard = "*"

// ErrInvalidPermission is returned when permission text cannot be parsed
var ErrInvalidPermission = errors.New("invalid permission")

// Permission is a single namespace.action grant
type Permission struct {
	Namespace string
	Action    string
}

// Global is the permission that matches everything
var Global = Permission{Namespace: Wildcard, Action: Wildcard}

// IsGlobal reports whether p is the "*" permission
func (p Permission) IsGlobal() bool {
	return p == Global
}

// String returns the canonical text form of the permission
func (p Permission) String() string {
	if p.IsGlobal() {
		return Wildcard
	}
	return p.Namespace + "." + p.Action
}

// Parse parses the canonical "namespace.action" form. The single token "*"
// parses to Global.
func Parse(text string) (Permission, error) {
	text = strings.TrimSpace(text)
	if text == Wildcard {
		return Global, nil
	}
	if text == "" {
		return Permission{}, fmt.Errorf("%w: empty permission", ErrInvalidPermission)
	}
	if strings.ContainsAny(text, " \t\r\n") {
		return Permission{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidPermission, text)
	}

	ns, action, ok := strings.Cut(text, ".")
	if !ok {
		return Permission{}, fmt.Errorf("%w: %q must be of the form namespace.action", ErrInvalidPermission, text)
	}
	if ns == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: %q has an empty namespace or action", ErrInvalidPermission, text)
	}
	if strings.Contains(action, ".") {
		return Permission{}, fmt.Errorf("%w: %q has more than one separator", ErrInvalidPermission, text)
	}
	if ns == Wildcard {
		return Permission{}, fmt.Errorf("%w: %q uses a wildcard namespace", ErrInvalidPermission, text)
	}

	return Permission{Namespace: ns, Action: action}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// package-level declarations and tests.
func MustParse(text string) Permission {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// MarshalText implements encoding.TextMarshaler
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PermissionSet is an ordered list of permissions. Duplicates are allowed and
// have no effect on matching.
type PermissionSet []Permission

// ParseSet parses every entry, failing on the first malformed one
func ParseSet(texts []string) (PermissionSet, error) {
	set := make(PermissionSet, 0, len(texts))
	for _, t := range texts {
		p, err := Parse(t)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// MustParseSet is like ParseSet but panics on malformed input
func MustParseSet(texts ...string) PermissionSet {
	set, err := ParseSet(texts)
	if err != nil {
		panic(err)
	}
	return set
}

// Universal returns the set granting everything
func Universal() PermissionSet {
	return PermissionSet{Global}
}

// Strings returns the canonical text form of each entry
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.String()
	}
	return out
}

// Has reports whether the set grants the requested permission
func (s PermissionSet) Has(requested Permission) bool {
	return Matches(s, requested)
}

// Dedup returns a copy with repeated entries removed, keeping first occurrence
func (s PermissionSet) Dedup() PermissionSet {
	seen := make(map[Permission]struct{}, len(s))
	out := make(PermissionSet, 0, len(s))
	for _, p := range s {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// MarshalJSON encodes the set as a list of strings
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of strings, validating each entry
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var texts []string
	if err := json.Unmarshal(data, &texts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPermission, err)
	}
	set, err := ParseSet(texts)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Value implements driver.Valuer; sets are stored as JSON text
func (s PermissionSet) Value() (driver.Value, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (s *PermissionSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = PermissionSet{}
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into PermissionSet", src)
	}
}
