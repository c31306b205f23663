package modules

import (
	"fmt"
	"sort"
)

// Builder collects module descriptors before the registry is frozen
type Builder struct {
	modules []ModuleDescriptor
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Add queues modules for registration. Validation happens in Build.
func (b *Builder) Add(mods ...ModuleDescriptor) *Builder {
	b.modules = append(b.modules, mods...)
	return b
}

// Build validates every queued module and returns the immutable registry
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		modules:  make(map[string]*ModuleDescriptor, len(b.modules)),
		commands: make(map[string]*CommandDescriptor),
		aliases:  make(map[string]string),
	}

	for i := range b.modules {
		mod := cloneModule(b.modules[i])
		if err := mod.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.modules[mod.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, mod.ID)
		}

		for j := range mod.Commands {
			cmd := &mod.Commands[j]
			cmd.ModuleID = mod.ID
			cmd.QualifiedName = normalizeCommand(cmd.QualifiedName)

			if err := r.claim(cmd.QualifiedName, mod.ID); err != nil {
				return nil, err
			}
			r.commands[cmd.QualifiedName] = cmd

			for k, alias := range cmd.Aliases {
				alias = normalizeCommand(alias)
				cmd.Aliases[k] = alias
				if err := r.claim(alias, mod.ID); err != nil {
					return nil, err
				}
				r.aliases[alias] = cmd.QualifiedName
			}
		}

		r.modules[mod.ID] = &mod
		r.order = append(r.order, mod.ID)
	}

	return r, nil
}

// MustBuild is Build for process startup; it panics on invalid input
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("modules: invalid registry: %v", err))
	}
	return r
}

// Registry is the read-only catalogue of modules and commands. It is never
// mutated after Build and needs no locking.
type Registry struct {
	modules  map[string]*ModuleDescriptor
	commands map[string]*CommandDescriptor
	aliases  map[string]string
	order    []string
}

func (r *Registry) claim(name, moduleID string) error {
	if _, taken := r.commands[name]; taken {
		return fmt.Errorf("%w: %s (module %s)", ErrDuplicateCommand, name, moduleID)
	}
	if _, taken := r.aliases[name]; taken {
		return fmt.Errorf("%w: %s (module %s)", ErrDuplicateCommand, name, moduleID)
	}
	return nil
}

// Command looks up a command by qualified name or alias
func (r *Registry) Command(name string) (*CommandDescriptor, error) {
	name = normalizeCommand(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd, nil
	}
	if target, ok := r.aliases[name]; ok {
		return r.commands[target], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

// Resolve is Command with a fallback: an unregistered subcommand resolves
// to its root command.
func (r *Registry) Resolve(name string) (*CommandDescriptor, error) {
	if cmd, err := r.Command(name); err == nil {
		return cmd, nil
	}
	if cmd, err := r.Command(RootCommand(name)); err == nil {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, normalizeCommand(name))
}

// ModuleForCommand returns the id of the module owning a command
func (r *Registry) ModuleForCommand(name string) (string, error) {
	cmd, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	return cmd.ModuleID, nil
}

// Descriptor returns a registered module
func (r *Registry) Descriptor(moduleID string) (*ModuleDescriptor, error) {
	mod, ok := r.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	return mod, nil
}

// Modules returns every module in registration order
func (r *Registry) Modules() []*ModuleDescriptor {
	mods := make([]*ModuleDescriptor, 0, len(r.order))
	for _, id := range r.order {
		mods = append(mods, r.modules[id])
	}
	return mods
}

// CommandNames returns every qualified command name, sorted
func (r *Registry) CommandNames() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cloneModule(m ModuleDescriptor) ModuleDescriptor {
	out := m
	out.SettingIDs = append([]string(nil), m.SettingIDs...)
	out.Commands = make([]CommandDescriptor, len(m.Commands))
	for i, cmd := range m.Commands {
		cmd.Aliases = append([]string(nil), cmd.Aliases...)
		cmd.Requirement.Kittycat = append([]string(nil), cmd.Requirement.Kittycat...)
		out.Commands[i] = cmd
	}
	return out
}
