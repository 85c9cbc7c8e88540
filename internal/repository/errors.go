package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrVersionConflict indicates an optimistic-lock update lost the race.
var ErrVersionConflict = errors.New("repository: version conflict")
