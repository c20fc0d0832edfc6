package store

import (
	"errors"
	"strings"
)

// Common errors returned by store operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, store.ErrStorageFull) {
//	    // Surface to the caller; the record was not saved.
//	}
var (
	// ErrStorageUnavailable is returned when the database cannot be opened.
	// Fatal until the caller retries initialization.
	ErrStorageUnavailable = errors.New("local store unavailable")

	// ErrStorageFull is returned when a write is rejected for lack of space.
	// The record remains unsaved and the error is reported synchronously.
	ErrStorageFull = errors.New("local store full")

	// ErrStorageCorrupt is returned when the database file is damaged.
	ErrStorageCorrupt = errors.New("local store corrupt")
)

// mapError wraps low-level sqlite failures into the store taxonomy.
// Unrecognized errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database or disk is full"):
		return errors.Join(ErrStorageFull, err)
	case strings.Contains(msg, "file is not a database"),
		strings.Contains(msg, "database disk image is malformed"):
		return errors.Join(ErrStorageCorrupt, err)
	}
	return err
}
