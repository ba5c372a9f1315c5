package storage

import "errors"

var (
	// ErrNotFound is returned when no state document has been saved yet.
	ErrNotFound = errors.New("state document not found")

	// ErrStaleVersion is returned when a save carries a version that is
	// not newer than the stored one.
	ErrStaleVersion = errors.New("state document version is not newer than the stored version")
)
