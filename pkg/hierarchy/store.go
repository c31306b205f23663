package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store persists guild role configs and member overrides
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new hierarchy store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const roleColumns = `guild_id, role_id, rank, perms, display_name, created_at, created_by, last_updated_at, last_updated_by`

const overrideColumns = `guild_id, user_id, perm_overrides, public, created_at, created_by, last_updated_at, last_updated_by`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row scanner) (*RoleConfig, error) {
	var role RoleConfig
	var displayName sql.NullString

	err := row.Scan(
		&role.GuildID,
		&role.RoleID,
		&role.Rank,
		&role.Permissions,
		&displayName,
		&role.CreatedAt,
		&role.CreatedBy,
		&role.LastUpdatedAt,
		&role.LastUpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if displayName.Valid {
		name := displayName.String
		role.DisplayName = &name
	}
	return &role, nil
}

func scanOverride(row scanner) (*MemberOverride, error) {
	var o MemberOverride
	err := row.Scan(
		&o.GuildID,
		&o.UserID,
		&o.PermOverrides,
		&o.Public,
		&o.CreatedAt,
		&o.CreatedBy,
		&o.LastUpdatedAt,
		&o.LastUpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorage, op, err)
}

// withTx runs fn in a transaction, committing only if fn succeeds
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("start transaction for "+op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit "+op, err)
	}
	return nil
}

// RolesForGuild returns every role config of a guild ordered by rank
func (s *Store) RolesForGuild(ctx context.Context, guildID string) ([]RoleConfig, error) {
	query := `SELECT ` + roleColumns + `
		FROM guild_roles
		WHERE guild_id = $1
		ORDER BY rank ASC, role_id ASC`

	rows, err := s.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, storageErr("list roles", err)
	}
	defer rows.Close()

	var roles []RoleConfig
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storageErr("scan role", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list roles", err)
	}

	return roles, nil
}

// GetRole returns a single role config or ErrNotFound
func (s *Store) GetRole(ctx context.Context, guildID, roleID string) (*RoleConfig, error) {
	query := `SELECT ` + roleColumns + `
		FROM guild_roles
		WHERE guild_id = $1 AND role_id = $2`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, guildID, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get role", err)
	}
	return role, nil
}

// CreateRole inserts a role config and flags every member holding the role
// for permission re-derivation, in one transaction.
func (s *Store) CreateRole(ctx context.Context, role *RoleConfig) error {
	if err := ValidateRole(role); err != nil {
		return err
	}

	now := s.now()
	query := `
		INSERT INTO guild_roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	err := s.withTx(ctx, "create role", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			role.GuildID,
			role.RoleID,
			role.Rank,
			role.Permissions,
			role.DisplayName,
			now,
			role.CreatedBy,
			now,
			role.LastUpdatedBy,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("role %s: %w", role.RoleID, ErrAlreadyExists)
			}
			return storageErr("create role", err)
		}
		return flagRoleHolders(ctx, tx, role.GuildID, role.RoleID)
	})
	if err != nil {
		return err
	}

	role.CreatedAt = now
	role.LastUpdatedAt = now
	return nil
}

// UpdateRole updates rank, permissions and display name of a role config
func (s *Store) UpdateRole(ctx context.Context, role *RoleConfig) error {
	if err := ValidateRole(role); err != nil {
		return err
	}

	now := s.now()
	query := `
		UPDATE guild_roles
		SET rank = $1, perms = $2, display_name = $3, last_updated_at = $4, last_updated_by = $5
		WHERE guild_id = $6 AND role_id = $7
	`

	err := s.withTx(ctx, "update role", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			role.Rank,
			role.Permissions,
			role.DisplayName,
			now,
			role.LastUpdatedBy,
			role.GuildID,
			role.RoleID,
		)
		if err != nil {
			return storageErr("update role", err)
		}
		if err := requireAffected(result, "role "+role.RoleID); err != nil {
			return err
		}
		return flagRoleHolders(ctx, tx, role.GuildID, role.RoleID)
	})
	if err != nil {
		return err
	}

	role.LastUpdatedAt = now
	return nil
}

// DeleteRole removes a role config and flags its holders
func (s *Store) DeleteRole(ctx context.Context, guildID, roleID string) error {
	query := `DELETE FROM guild_roles WHERE guild_id = $1 AND role_id = $2`

	return s.withTx(ctx, "delete role", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, guildID, roleID)
		if err != nil {
			return storageErr("delete role", err)
		}
		if err := requireAffected(result, "role "+roleID); err != nil {
			return err
		}
		return flagRoleHolders(ctx, tx, guildID, roleID)
	})
}

// OverrideForMember returns the member's override, or nil when none exists
func (s *Store) OverrideForMember(ctx context.Context, guildID, userID string) (*MemberOverride, error) {
	query := `SELECT ` + overrideColumns + `
		FROM guild_member_overrides
		WHERE guild_id = $1 AND user_id = $2`

	o, err := scanOverride(s.db.QueryRowContext(ctx, query, guildID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get member override", err)
	}
	return o, nil
}

// UpsertMemberOverride creates or replaces a member override
func (s *Store) UpsertMemberOverride(ctx context.Context, o *MemberOverride) error {
	if err := ValidateOverride(o); err != nil {
		return err
	}

	now := s.now()
	query := `
		INSERT INTO guild_member_overrides (` + overrideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guild_id, user_id) DO UPDATE
		SET perm_overrides = EXCLUDED.perm_overrides,
		    public = EXCLUDED.public,
		    last_updated_at = EXCLUDED.last_updated_at,
		    last_updated_by = EXCLUDED.last_updated_by
	`

	err := s.withTx(ctx, "upsert member override", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			o.GuildID,
			o.UserID,
			o.PermOverrides,
			o.Public,
			now,
			o.CreatedBy,
			now,
			o.LastUpdatedBy,
		)
		if err != nil {
			return storageErr("upsert member override", err)
		}
		return flagMember(ctx, tx, o.GuildID, o.UserID)
	})
	if err != nil {
		return err
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.LastUpdatedAt = now
	return nil
}

// UpdateMemberOverride updates an existing member override
func (s *Store) UpdateMemberOverride(ctx context.Context, o *MemberOverride) error {
	if err := ValidateOverride(o); err != nil {
		return err
	}

	now := s.now()
	query := `
		UPDATE guild_member_overrides
		SET perm_overrides = $1, public = $2, last_updated_at = $3, last_updated_by = $4
		WHERE guild_id = $5 AND user_id = $6
	`

	err := s.withTx(ctx, "update member override", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			o.PermOverrides,
			o.Public,
			now,
			o.LastUpdatedBy,
			o.GuildID,
			o.UserID,
		)
		if err != nil {
			return storageErr("update member override", err)
		}
		if err := requireAffected(result, "member override for "+o.UserID); err != nil {
			return err
		}
		return flagMember(ctx, tx, o.GuildID, o.UserID)
	})
	if err != nil {
		return err
	}

	o.LastUpdatedAt = now
	return nil
}

// DeleteMemberOverride removes a member override
func (s *Store) DeleteMemberOverride(ctx context.Context, guildID, userID string) error {
	query := `DELETE FROM guild_member_overrides WHERE guild_id = $1 AND user_id = $2`

	return s.withTx(ctx, "delete member override", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, guildID, userID)
		if err != nil {
			return storageErr("delete member override", err)
		}
		if err := requireAffected(result, "member override for "+userID); err != nil {
			return err
		}
		return flagMember(ctx, tx, guildID, userID)
	})
}

// SyncMemberRoles records the member's current platform roles and clears the
// resync flag
func (s *Store) SyncMemberRoles(ctx context.Context, guildID, userID string, roleIDs []string) error {
	query := `
		INSERT INTO guild_members (guild_id, user_id, roles, needs_resync, synced_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (guild_id, user_id) DO UPDATE
		SET roles = EXCLUDED.roles, needs_resync = FALSE, synced_at = EXCLUDED.synced_at
	`

	if roleIDs == nil {
		roleIDs = []string{}
	}
	if _, err := s.db.ExecContext(ctx, query, guildID, userID, pq.Array(roleIDs), s.now()); err != nil {
		return storageErr("sync member roles", err)
	}
	return nil
}

// PendingResyncs lists members flagged for permission re-derivation
func (s *Store) PendingResyncs(ctx context.Context, guildID string) ([]string, error) {
	query := `SELECT user_id FROM guild_members WHERE guild_id = $1 AND needs_resync = TRUE ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, storageErr("list pending resyncs", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, storageErr("scan pending resync", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pending resyncs", err)
	}
	return users, nil
}

// GuildsPendingResync lists guilds with at least one flagged member
func (s *Store) GuildsPendingResync(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT guild_id FROM guild_members WHERE needs_resync = TRUE ORDER BY guild_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list guilds pending resync", err)
	}
	defer rows.Close()

	var guilds []string
	for rows.Next() {
		var guildID string
		if err := rows.Scan(&guildID); err != nil {
			return nil, storageErr("scan guild pending resync", err)
		}
		guilds = append(guilds, guildID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list guilds pending resync", err)
	}
	return guilds, nil
}

func flagRoleHolders(ctx context.Context, tx *sql.Tx, guildID, roleID string) error {
	query := `UPDATE guild_members SET needs_resync = TRUE WHERE guild_id = $1 AND $2 = ANY(roles)`
	if _, err := tx.ExecContext(ctx, query, guildID, roleID); err != nil {
		return storageErr("flag role holders", err)
	}
	return nil
}

func flagMember(ctx context.Context, tx *sql.Tx, guildID, userID string) error {
	query := `
		INSERT INTO guild_members (guild_id, user_id, roles, needs_resync)
		VALUES ($1, $2, '{}', TRUE)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET needs_resync = TRUE
	`
	if _, err := tx.ExecContext(ctx, query, guildID, userID); err != nil {
		return storageErr("flag member", err)
	}
	return nil
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
