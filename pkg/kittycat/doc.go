// Package kittycat implements the string permission grammar used by guild
// role configuration.
//
// A permission is written "namespace.action", for example "mod.ban". The
// action "*" grants every action in its namespace ("mod.*") and the single
// token "*" grants everything.
//
//	set := kittycat.MustParseSet("mod.*", "backups.create")
//	kittycat.Matches(set, kittycat.MustParse("mod.ban"))       // true
//	kittycat.Matches(set, kittycat.MustParse("backups.restore")) // false
//
// DiffAllowed is the anti-escalation primitive: a change from one set to
// another is allowed only when the acting user holds every permission being
// added or removed.
package kittycat
