package apperr

import "errors"

var (
	// ErrNotFound is returned by external collaborators when the addressed
	// item does not exist (or no longer exists).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating an item whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNoCalendar means the target calendar could not be resolved or created.
	ErrNoCalendar = errors.New("calendar unavailable")
)
