package modules

import (
	"context"
	"sync"
)

func testRegistry() *Registry {
	return NewBuilder().Add(
		ModuleDescriptor{
			ID:                 "moderation",
			Name:               "Moderation",
			Toggleable:         true,
			CommandsToggleable: true,
			DefaultEnabled:     true,
			SettingIDs:         []string{"mod_logs"},
			Commands: []CommandDescriptor{
				{
					QualifiedName: "kick",
					Aliases:       []string{"boot"},
					Requirement: PermissionRequirement{
						Native:     NativeKickMembers,
						Kittycat:   []string{"moderation.kick"},
						Combinator: Or,
					},
				},
				{
					QualifiedName: "ban",
					Requirement: PermissionRequirement{
						Native:   NativeBanMembers,
						Kittycat: []string{"moderation.ban"},
					},
				},
			},
		},
		ModuleDescriptor{
			ID:             "backups",
			Name:           "Backups",
			Toggleable:     true,
			DefaultEnabled: false,
			Commands: []CommandDescriptor{
				{QualifiedName: "backups", Requirement: PermissionRequirement{Kittycat: []string{"backups.list"}}},
				{QualifiedName: "backups create", Requirement: PermissionRequirement{Kittycat: []string{"backups.create"}}},
			},
		},
		ModuleDescriptor{
			ID:             "core",
			Name:           "Core",
			Toggleable:     false,
			DefaultEnabled: true,
			Commands: []CommandDescriptor{
				{QualifiedName: "help"},
			},
		},
	).MustBuild()
}

// fakeSource is an in-memory ConfigSource that counts reads
type fakeSource struct {
	mu       sync.Mutex
	modules  map[string]bool
	commands map[string]bool
	reads    int
	err      error
	// gate, when set, blocks the next read until it is closed
	gate chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{modules: map[string]bool{}, commands: map[string]bool{}}
}

func (f *fakeSource) setModule(guild, module string, disabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[guild+"/"+module] = disabled
}

func (f *fakeSource) setCommand(guild, command string, disabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[guild+"/"+command] = disabled
}

func (f *fakeSource) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeSource) wait() {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeSource) GetModuleConfig(ctx context.Context, guildID, moduleID string) (*ModuleConfig, error) {
	f.mu.Lock()
	f.reads++
	disabled, ok := f.modules[guildID+"/"+moduleID]
	err := f.err
	f.mu.Unlock()

	f.wait()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &ModuleConfig{GuildID: guildID, Module: moduleID, Disabled: disabled}, nil
}

func (f *fakeSource) GetCommandConfig(ctx context.Context, guildID, command string) (*CommandConfig, error) {
	f.mu.Lock()
	f.reads++
	disabled, ok := f.commands[guildID+"/"+command]
	err := f.err
	f.mu.Unlock()

	f.wait()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &CommandConfig{GuildID: guildID, Command: command, Disabled: disabled}, nil
}
