package store

import "errors"

// Sentinel errors surfaced by label store operations. Callers match
// them with errors.Is.
var (
	// ErrDuplicateImage is returned when inserting an image path that
	// already has a row.
	ErrDuplicateImage = errors.New("image path already in database")

	// ErrDuplicateKeyBinding is returned when adding a label whose key
	// binding collides, case-insensitively, with an existing one.
	ErrDuplicateKeyBinding = errors.New("key binding already taken")

	// ErrEmptyLabelName and ErrEmptyKeyBinding reject blank label input.
	ErrEmptyLabelName  = errors.New("label name cannot be empty")
	ErrEmptyKeyBinding = errors.New("key binding cannot be empty")

	// ErrDatabaseExists is returned when initializing a database that
	// is already present without explicit confirmation to overwrite.
	ErrDatabaseExists = errors.New("database already exists")
)
