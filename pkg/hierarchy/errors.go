package hierarchy

import "errors"

var (
	// ErrNotFound is returned when an update or delete targets a missing row
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a role config that already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrStorage wraps every failure coming from the database
	ErrStorage = errors.New("storage error")

	// ErrValidation is returned when a role config or override fails validation
	ErrValidation = errors.New("validation failed")
)
