// Package engine provides the sync engine that reconciles the local store
// with the remote backend.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inkwell-app/inkwell/internal/record"
)

// Remote is the contract the remote backend collaborator must satisfy.
//
// All operations are idempotent and keyed by record id: retrying a call that
// already succeeded must not duplicate anything, and deleting a record that
// never existed must succeed. Implementations distinguish recoverable from
// terminal failures by returning a *RemoteError with the matching kind;
// plain transport errors are treated as recoverable.
type Remote interface {
	// Upsert creates or updates the record identified by (collection, id)
	// with the given payload snapshot. On success it returns the backend's
	// cloud id for the record (may be empty if the backend reuses the
	// local id).
	Upsert(ctx context.Context, collection record.Collection, id string, payload json.RawMessage) (cloudID string, err error)

	// Delete removes the record identified by (collection, id).
	// Deleting an unknown record succeeds.
	Delete(ctx context.Context, collection record.Collection, id string) error
}

// ErrorKind classifies remote failures.
type ErrorKind int

const (
	// KindRecoverable marks server errors and timeouts: the item stays
	// queued and is retried later, bounded.
	KindRecoverable ErrorKind = iota

	// KindTerminal marks validation rejections and explicit conflicts:
	// the item is never retried and the record is flagged for manual
	// reconciliation.
	KindTerminal
)

// String returns a human-readable representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// RemoteError is a structured failure from the remote backend.
type RemoteError struct {
	Kind   ErrorKind
	Status int // HTTP status, 0 for transport failures
	Msg    string
	Err    error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("remote %s failure: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote %s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s failure (status %d)", e.Kind, e.Status)
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a terminal remote failure.
func IsTerminal(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindTerminal
}

// IsRecoverable reports whether err should be retried. Errors that are not
// structured remote errors (raw network failures, deadline exceeded) count
// as recoverable: the safe default is to keep the item and try again.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return !IsTerminal(err)
}
