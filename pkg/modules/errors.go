package modules

import "errors"

var (
	// ErrDuplicateModule is returned when two modules share an id
	ErrDuplicateModule = errors.New("duplicate module id")

	// ErrDuplicateCommand is returned when a command name or alias is claimed twice
	ErrDuplicateCommand = errors.New("duplicate command name")

	// ErrDuplicateSetting is returned when a module declares a setting id twice
	ErrDuplicateSetting = errors.New("duplicate setting id")

	// ErrInvalidRequirement is returned when a permission requirement does not parse
	ErrInvalidRequirement = errors.New("invalid permission requirement")

	// ErrInvalidDescriptor is returned for descriptors missing required fields
	ErrInvalidDescriptor = errors.New("invalid module descriptor")

	// ErrUnknownModule is returned when a module id is not registered
	ErrUnknownModule = errors.New("unknown module")

	// ErrUnknownCommand is returned when a command name is not registered
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNotToggleable is returned when disabling a module or command that cannot be toggled
	ErrNotToggleable = errors.New("cannot be toggled")

	// ErrStorage wraps failures of the config store
	ErrStorage = errors.New("module config storage failure")
)
