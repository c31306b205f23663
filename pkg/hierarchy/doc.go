// Package hierarchy persists a guild's ranked role configuration and
// per-member permission overrides.
//
// Every write that changes who holds which permission also flags the
// affected members in guild_members so their permissions can be
// re-derived; the write and the flagging share one transaction.
package hierarchy
