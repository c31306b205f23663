package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookups(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name   string
		module string
	}{
		{"kick", "moderation"},
		{"boot", "moderation"},
		{"  KICK ", "moderation"},
		{"backups", "backups"},
		{"backups create", "backups"},
		{"backups   restore", "backups"},
		{"help", "core"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ModuleForCommand(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.module, got)
		})
	}

	_, err := r.ModuleForCommand("nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestRegistry_CommandAndResolve(t *testing.T) {
	r := testRegistry()

	cmd, err := r.Command("boot")
	require.NoError(t, err)
	assert.Equal(t, "kick", cmd.QualifiedName)

	_, err = r.Command("backups restore")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	cmd, err = r.Resolve("backups restore")
	require.NoError(t, err)
	assert.Equal(t, "backups", cmd.QualifiedName)

	mod, err := r.Descriptor("backups")
	require.NoError(t, err)
	assert.False(t, mod.DefaultEnabled)

	_, err = r.Descriptor("missing")
	assert.ErrorIs(t, err, ErrUnknownModule)

	ids := make([]string, 0)
	for _, m := range r.Modules() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"moderation", "backups", "core"}, ids)
	assert.Equal(t, []string{"backups", "backups create", "ban", "help", "kick"}, r.CommandNames())
}

func TestBuilder_Validation(t *testing.T) {
	mod := func(id string, cmds ...CommandDescriptor) ModuleDescriptor {
		return ModuleDescriptor{ID: id, Name: id, Commands: cmds}
	}

	tests := []struct {
		name    string
		modules []ModuleDescriptor
		wantErr error
	}{
		{
			name:    "duplicate module",
			modules: []ModuleDescriptor{mod("a"), mod("a")},
			wantErr: ErrDuplicateModule,
		},
		{
			name: "duplicate command across modules",
			modules: []ModuleDescriptor{
				mod("a", CommandDescriptor{QualifiedName: "ping"}),
				mod("b", CommandDescriptor{QualifiedName: "ping"}),
			},
			wantErr: ErrDuplicateCommand,
		},
		{
			name: "alias collides with command",
			modules: []ModuleDescriptor{
				mod("a", CommandDescriptor{QualifiedName: "ping"}),
				mod("b", CommandDescriptor{QualifiedName: "pong", Aliases: []string{"ping"}}),
			},
			wantErr: ErrDuplicateCommand,
		},
		{
			name: "duplicate setting",
			modules: []ModuleDescriptor{
				{ID: "a", Name: "A", SettingIDs: []string{"s", "s"}},
			},
			wantErr: ErrDuplicateSetting,
		},
		{
			name: "bad kittycat permission",
			modules: []ModuleDescriptor{
				mod("a", CommandDescriptor{QualifiedName: "ping", Requirement: PermissionRequirement{Kittycat: []string{"nodot"}}}),
			},
			wantErr: ErrInvalidRequirement,
		},
		{
			name:    "missing id",
			modules: []ModuleDescriptor{{Name: "x"}},
			wantErr: ErrInvalidDescriptor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder().Add(tt.modules...).Build()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuilder_MustBuildPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder().Add(ModuleDescriptor{ID: "a", Name: "a"}, ModuleDescriptor{ID: "a", Name: "a"}).MustBuild()
	})
}

func TestRegistry_IsolatedFromBuilderInput(t *testing.T) {
	cmds := []CommandDescriptor{{QualifiedName: "ping", Aliases: []string{"p"}}}
	r := NewBuilder().Add(ModuleDescriptor{ID: "a", Name: "A", Commands: cmds}).MustBuild()

	cmds[0].Aliases[0] = "changed"

	_, err := r.Command("p")
	assert.NoError(t, err)
}
