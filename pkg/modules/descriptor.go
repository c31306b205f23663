package modules

import (
	"fmt"
	"strings"
)

// CommandDescriptor is a registered command. Subcommands use space separated
// qualified names such as "backups create".
type CommandDescriptor struct {
	QualifiedName string
	ModuleID      string
	Aliases       []string
	Requirement   PermissionRequirement
}

// Root returns the top level command of a qualified name
func (c CommandDescriptor) Root() string {
	return RootCommand(c.QualifiedName)
}

// ModuleDescriptor is a registered feature module
type ModuleDescriptor struct {
	ID                 string
	Name               string
	Toggleable         bool
	CommandsToggleable bool
	DefaultEnabled     bool
	Commands           []CommandDescriptor
	SettingIDs         []string
}

func (m ModuleDescriptor) validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: module id is required", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: module %s has no name", ErrInvalidDescriptor, m.ID)
	}

	settings := make(map[string]struct{}, len(m.SettingIDs))
	for _, id := range m.SettingIDs {
		if _, dup := settings[id]; dup {
			return fmt.Errorf("%w: %s in module %s", ErrDuplicateSetting, id, m.ID)
		}
		settings[id] = struct{}{}
	}

	for _, cmd := range m.Commands {
		if normalizeCommand(cmd.QualifiedName) == "" {
			return fmt.Errorf("%w: module %s has a command with no name", ErrInvalidDescriptor, m.ID)
		}
		if err := cmd.Requirement.Validate(); err != nil {
			return fmt.Errorf("command %s: %w", cmd.QualifiedName, err)
		}
	}
	return nil
}

// RootCommand returns the first word of a qualified command name
func RootCommand(name string) string {
	name = normalizeCommand(name)
	if i := strings.IndexByte(name, ' '); i >= 0 {
		return name[:i]
	}
	return name
}

func normalizeCommand(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
