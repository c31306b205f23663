// Package api exposes the authorization engine over HTTP.
//
// # Overview
//
// The host bot and the guild settings dashboard call this API instead of
// embedding the engine. Every guild-scoped route lives under
// /v1/guilds/{guild} and identifies the acting user with the X-Actor-ID
// header.
//
// # Routes
//
//   - POST   /v1/guilds/{guild}/authorize             check a command
//   - POST   /v1/guilds/{guild}/authorize-permission  check a bare permission
//   - GET    /v1/guilds/{guild}/roles                 list role configs
//   - POST   /v1/guilds/{guild}/roles                 create a role config
//   - PUT    /v1/guilds/{guild}/roles/{role}          update a role config
//   - DELETE /v1/guilds/{guild}/roles/{role}          delete a role config
//   - PUT    /v1/guilds/{guild}/members/{user}/override
//   - DELETE /v1/guilds/{guild}/members/{user}/override
//   - PUT    /v1/guilds/{guild}/modules/{module}      enable or disable a module
//   - PUT    /v1/guilds/{guild}/commands/{command}    enable or disable a command
//   - POST   /v1/guilds/{guild}/cache/invalidate      drop the guild's cached enablement
//   - POST   /v1/guilds/{guild}/resync                refresh flagged members
//   - GET    /v1/guilds/{guild}/audit                 list audit events
//   - GET    /healthz, /readyz, /metrics
//
// Operator routes act on every guild. They are only served when OIDC is
// enabled, to token subjects listed as operators:
//
//   - POST   /v1/admin/cache/invalidate               drop all cached enablement
//   - POST   /v1/admin/resync                         resync every guild
//
// # Errors
//
// Errors are JSON objects with a human-readable "error" and a stable "code":
//
//	403 permission_denied, disabled, rank_too_low, native_hierarchy,
//	    no_configured_role, public_flag_self_only, forbidden
//	404 not_found, member_not_found, audit_disabled
//	409 already_exists
//	400 invalid_request
//	500 internal
package api
