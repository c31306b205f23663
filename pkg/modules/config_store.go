package modules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ModuleConfig is a guild's explicit enable/disable row for a module
type ModuleConfig struct {
	GuildID       string    `json:"guild_id"`
	Module        string    `json:"module"`
	Disabled      bool      `json:"disabled"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	LastUpdatedBy string    `json:"last_updated_by"`
}

// CommandConfig is a guild's explicit enable/disable row for a command
type CommandConfig struct {
	GuildID       string    `json:"guild_id"`
	Command       string    `json:"command"`
	Disabled      bool      `json:"disabled"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	LastUpdatedBy string    `json:"last_updated_by"`
}

// ConfigSource reads explicit enablement rows. A nil config means the
// guild has no row and the default applies.
type ConfigSource interface {
	GetModuleConfig(ctx context.Context, guildID, moduleID string) (*ModuleConfig, error)
	GetCommandConfig(ctx context.Context, guildID, command string) (*CommandConfig, error)
}

// ConfigStore persists guild module and command configuration. Every write
// invalidates the enablement cache after it commits.
type ConfigStore struct {
	db          *sql.DB
	registry    *Registry
	invalidator Invalidator
	now         func() time.Time
}

// NewConfigStore creates a config store. invalidator may be nil only in
// processes that never read enablement.
func NewConfigStore(db *sql.DB, registry *Registry, invalidator Invalidator) *ConfigStore {
	return &ConfigStore{
		db:          db,
		registry:    registry,
		invalidator: invalidator,
		now:         time.Now,
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorage, op, err)
}

// GetModuleConfig returns the module row, or nil if the guild has none
func (s *ConfigStore) GetModuleConfig(ctx context.Context, guildID, moduleID string) (*ModuleConfig, error) {
	var cfg ModuleConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT guild_id, module, disabled, created_at, created_by, last_updated_at, last_updated_by
		FROM guild_module_configurations
		WHERE guild_id = $1 AND module = $2
	`, guildID, moduleID).Scan(
		&cfg.GuildID, &cfg.Module, &cfg.Disabled,
		&cfg.CreatedAt, &cfg.CreatedBy, &cfg.LastUpdatedAt, &cfg.LastUpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get module config", err)
	}
	return &cfg, nil
}

// GetCommandConfig returns the command row, or nil if the guild has none
func (s *ConfigStore) GetCommandConfig(ctx context.Context, guildID, command string) (*CommandConfig, error) {
	var cfg CommandConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT guild_id, command, disabled, created_at, created_by, last_updated_at, last_updated_by
		FROM guild_command_configurations
		WHERE guild_id = $1 AND command = $2
	`, guildID, normalizeCommand(command)).Scan(
		&cfg.GuildID, &cfg.Command, &cfg.Disabled,
		&cfg.CreatedAt, &cfg.CreatedBy, &cfg.LastUpdatedAt, &cfg.LastUpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get command config", err)
	}
	return &cfg, nil
}

// SetModuleDisabled upserts the module row and invalidates the cached state
func (s *ConfigStore) SetModuleDisabled(ctx context.Context, guildID, moduleID string, disabled bool, actorID string) error {
	mod, err := s.registry.Descriptor(moduleID)
	if err != nil {
		return err
	}
	if !mod.Toggleable {
		return fmt.Errorf("module %s %w", moduleID, ErrNotToggleable)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guild_module_configurations (guild_id, module, disabled, created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $4, $5)
		ON CONFLICT (guild_id, module) DO UPDATE
		SET disabled = EXCLUDED.disabled, last_updated_at = EXCLUDED.last_updated_at, last_updated_by = EXCLUDED.last_updated_by
	`, guildID, moduleID, disabled, now, actorID)
	if err != nil {
		return storageErr("set module config", err)
	}

	return s.invalidate(ctx, guildID, moduleID)
}

// SetCommandDisabled upserts the command row and invalidates the cached
// state of the owning module
func (s *ConfigStore) SetCommandDisabled(ctx context.Context, guildID, command string, disabled bool, actorID string) error {
	cmd, err := s.registry.Command(command)
	if err != nil {
		return err
	}
	mod, err := s.registry.Descriptor(cmd.ModuleID)
	if err != nil {
		return err
	}
	if !mod.CommandsToggleable {
		return fmt.Errorf("commands of module %s %w", mod.ID, ErrNotToggleable)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guild_command_configurations (guild_id, command, disabled, created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $4, $5)
		ON CONFLICT (guild_id, command) DO UPDATE
		SET disabled = EXCLUDED.disabled, last_updated_at = EXCLUDED.last_updated_at, last_updated_by = EXCLUDED.last_updated_by
	`, guildID, cmd.QualifiedName, disabled, now, actorID)
	if err != nil {
		return storageErr("set command config", err)
	}

	return s.invalidate(ctx, guildID, mod.ID)
}

// DeleteModuleConfig removes the module row, restoring the default
func (s *ConfigStore) DeleteModuleConfig(ctx context.Context, guildID, moduleID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM guild_module_configurations WHERE guild_id = $1 AND module = $2",
		guildID, moduleID,
	)
	if err != nil {
		return storageErr("delete module config", err)
	}
	return s.invalidate(ctx, guildID, moduleID)
}

// DeleteCommandConfig removes the command row, restoring the default
func (s *ConfigStore) DeleteCommandConfig(ctx context.Context, guildID, command string) error {
	cmd, err := s.registry.Command(command)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM guild_command_configurations WHERE guild_id = $1 AND command = $2",
		guildID, cmd.QualifiedName,
	)
	if err != nil {
		return storageErr("delete command config", err)
	}
	return s.invalidate(ctx, guildID, cmd.ModuleID)
}

func (s *ConfigStore) invalidate(ctx context.Context, guildID, moduleID string) error {
	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.Invalidate(ctx, guildID, moduleID); err != nil {
		return fmt.Errorf("failed to invalidate enablement for %s/%s: %w", guildID, moduleID, err)
	}
	return nil
}
