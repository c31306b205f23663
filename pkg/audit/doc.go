// Package audit keeps a durable trail of changes to a guild's permission
// hierarchy.
//
// Every successful role, member override and enablement change is recorded
// with the permissions it added and removed. Escalation attempts refused by
// the guard are recorded too, so a guild can see who tried to grant what.
//
// # Usage
//
//	logger, err := audit.NewDBLogger(db)
//	if err != nil {
//		return err
//	}
//	event := audit.NewEvent(ctx, audit.EventTypeAuthzRoleChange, audit.EventStatusSuccess, guildID, actorID)
//	event.ResourceType = audit.ResourceTypeRole
//	event.ResourceID = roleID
//	_ = logger.Log(ctx, event)
//
// The audit_logs table is created by the hierarchy migrations.
package audit
