package modules

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML form of a set of module descriptors
type Manifest struct {
	Modules []ModuleManifest `yaml:"modules"`
}

// ModuleManifest describes one module. Omitted booleans default to true.
type ModuleManifest struct {
	ID                 string            `yaml:"id"`
	Name               string            `yaml:"name"`
	Toggleable         *bool             `yaml:"toggleable,omitempty"`
	CommandsToggleable *bool             `yaml:"commands_toggleable,omitempty"`
	DefaultEnabled     *bool             `yaml:"default_enabled,omitempty"`
	Settings           []string          `yaml:"settings,omitempty"`
	Commands           []CommandManifest `yaml:"commands"`
}

// CommandManifest describes one command and its permission requirement
type CommandManifest struct {
	Name       string   `yaml:"name"`
	Aliases    []string `yaml:"aliases,omitempty"`
	Native     []string `yaml:"native,omitempty"`
	Kittycat   []string `yaml:"kittycat,omitempty"`
	Combinator string   `yaml:"combinator,omitempty"`
}

// LoadManifest parses a YAML manifest into module descriptors
func LoadManifest(r io.Reader) ([]ModuleDescriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	mods := make([]ModuleDescriptor, 0, len(manifest.Modules))
	for _, mm := range manifest.Modules {
		mod, err := mm.descriptor()
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", mm.ID, err)
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// LoadManifestFile reads a manifest from disk and queues its modules on b
func (b *Builder) LoadManifestFile(path string, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	mods, err := LoadManifest(f)
	if err != nil {
		return err
	}

	for _, mod := range mods {
		log.Infof("Loaded module %s (%s) with %d commands", mod.Name, mod.ID, len(mod.Commands))
	}
	b.Add(mods...)
	return nil
}

func (mm ModuleManifest) descriptor() (ModuleDescriptor, error) {
	mod := ModuleDescriptor{
		ID:                 mm.ID,
		Name:               mm.Name,
		Toggleable:         boolOr(mm.Toggleable, true),
		CommandsToggleable: boolOr(mm.CommandsToggleable, true),
		DefaultEnabled:     boolOr(mm.DefaultEnabled, true),
		SettingIDs:         mm.Settings,
	}

	for _, cm := range mm.Commands {
		comb, err := ParseCombinator(cm.Combinator)
		if err != nil {
			return mod, fmt.Errorf("command %s: %w", cm.Name, err)
		}

		var native NativePermissions
		for _, name := range cm.Native {
			bit, err := ParseNative(name)
			if err != nil {
				return mod, fmt.Errorf("command %s: %w", cm.Name, err)
			}
			native = native.Add(bit)
		}

		mod.Commands = append(mod.Commands, CommandDescriptor{
			QualifiedName: cm.Name,
			ModuleID:      mm.ID,
			Aliases:       cm.Aliases,
			Requirement: PermissionRequirement{
				Native:     native,
				Kittycat:   cm.Kittycat,
				Combinator: comb,
			},
		})
	}
	return mod, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
