package overridehook

// Workers written against the older protocol signal "no opinion" by raising
// one of these well-known error strings, one per kind of check. Any other
// raised error is a denial carrying the error text.
const (
	ErrCheckCommandSkip    = "SKIP_CHECK_COMMAND"
	ErrCheckPermissionSkip = "SKIP_CHECK_PERMISSION"
)

// legacyOutcome maps an error raised by a legacy worker. A sentinel only
// counts for its own kind of check.
func legacyOutcome(kind Kind, raised string) Outcome {
	switch {
	case kind == KindCommand && raised == ErrCheckCommandSkip:
		return Abstain()
	case kind == KindPermission && raised == ErrCheckPermissionSkip:
		return Abstain()
	default:
		return Denied(raised)
	}
}
