// Package modules holds the static catalogue of feature modules and their
// commands, and the per-guild state that turns them on and off.
//
// The Registry is built once at startup and never changes. Enablement is
// read through an EnablementCache that only ever forgets entries when told
// to: every write to a guild's module or command configuration must be
// followed by an invalidation, which ConfigStore does after commit. With
// several worker processes the RedisInvalidator carries that invalidation
// to every other process.
package modules
