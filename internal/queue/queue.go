// Package queue provides the persisted sync queue: an ordered list of pending
// remote mutations that survives process restarts.
//
// The queue is strict FIFO with no priority lanes. Coalescing bounds its
// growth: rapid edits to the same record update the existing item's payload
// snapshot in place instead of appending, and a delete overwrites any pending
// create/update for the same id. Queue rows live in the same SQLite database
// as the records they describe, so a committed local write and its queue item
// share durability.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inkwell-app/inkwell/internal/record"
)

// Action is the remote operation a queue item carries.
type Action string

const (
	// ActionCreate asks the backend to create the record (idempotent upsert).
	ActionCreate Action = "create"
	// ActionUpdate asks the backend to update the record (idempotent upsert).
	ActionUpdate Action = "update"
	// ActionDelete asks the backend to delete the record (tombstone).
	ActionDelete Action = "delete"
)

// ErrDeletePending is returned when a create/update arrives for a record id
// that still has an unsynced delete in the queue. Resurrecting a deleted id
// is rejected; callers must allocate a fresh id instead.
var ErrDeletePending = errors.New("delete still pending for this id")

// Item is one pending remote mutation.
type Item struct {
	// Seq is the queue position, assigned at first enqueue and preserved
	// across coalescing so an edited record keeps its place in line.
	Seq int64

	// ID is the record id this item belongs to.
	ID string

	Collection record.Collection
	Action     Action

	// Payload is the snapshot taken at enqueue time (empty for deletes).
	Payload json.RawMessage

	// Version is the record version Payload was snapshotted at (zero for
	// deletes). The engine keys its acknowledgment writes on it so a save
	// landing mid-cycle can never be mistaken for the version that was
	// actually sent.
	Version int64

	EnqueuedAt time.Time
}

// Queue wraps the sync_queue table.
type Queue struct {
	conn *sql.DB
}

// New creates a Queue over an open store connection. The schema must already
// be initialized.
func New(conn *sql.DB) *Queue {
	return &Queue{conn: conn}
}

// Enqueue adds a pending mutation, applying the coalescing rules:
//
//   - No existing item for the id: insert at the tail.
//   - Existing create/update + new update: replace the payload snapshot in
//     place, keeping the item's position and original action.
//   - Existing item + new delete: overwrite the action to delete and drop the
//     payload, discarding any pending create/update.
//   - Existing delete + new create/update: rejected with ErrDeletePending.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := q.EnqueueTx(ctx, tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue for %s: %w", item.ID, err)
	}
	return nil
}

// EnqueueTx applies the enqueue (with coalescing) inside an open transaction.
// Callers use it to commit a record write and its queue item as one unit, so
// a crash can never leave a saved record without its pending item.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if !item.Collection.Valid() {
		return fmt.Errorf("unknown collection %q", item.Collection)
	}

	var existing Action
	err := tx.QueryRowContext(ctx, `SELECT action FROM sync_queue WHERE id = ?`, item.ID).Scan((*string)(&existing))
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_queue (id, collection, action, payload, version, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID,
			string(item.Collection),
			string(item.Action),
			string(item.Payload),
			item.Version,
			item.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue item for %s: %w", item.ID, err)
		}

	case err != nil:
		return fmt.Errorf("failed to inspect queue for %s: %w", item.ID, err)

	case item.Action == ActionDelete:
		// Delete wins over anything already queued for this id.
		_, err = tx.ExecContext(ctx,
			`UPDATE sync_queue SET action = ?, payload = '', version = 0 WHERE id = ?`,
			string(ActionDelete), item.ID)
		if err != nil {
			return fmt.Errorf("failed to coalesce delete for %s: %w", item.ID, err)
		}

	case existing == ActionDelete:
		return fmt.Errorf("cannot enqueue %s for %s: %w", item.Action, item.ID, ErrDeletePending)

	default:
		// create/update followed by update: refresh the snapshot and its
		// version, keep the original action so a never-created record
		// still creates remotely.
		_, err = tx.ExecContext(ctx,
			`UPDATE sync_queue SET payload = ?, version = ? WHERE id = ?`,
			string(item.Payload), item.Version, item.ID)
		if err != nil {
			return fmt.Errorf("failed to coalesce update for %s: %w", item.ID, err)
		}
	}

	return nil
}

// PeekOldest returns the head of the queue without removing it.
// Returns (nil, nil) when the queue is empty.
func (q *Queue) PeekOldest(ctx context.Context) (*Item, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT seq, id, collection, action, payload, version, enqueued_at
		FROM sync_queue
		ORDER BY seq ASC
		LIMIT 1`)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return item, nil
}

// Get returns the queued item for a record id, or (nil, nil) if none exists.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT seq, id, collection, action, payload, version, enqueued_at
		FROM sync_queue
		WHERE id = ?`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item for %s: %w", id, err)
	}
	return item, nil
}

// HasPendingDelete reports whether an unsynced delete is queued for id.
func (q *Queue) HasPendingDelete(ctx context.Context, id string) (bool, error) {
	item, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return item != nil && item.Action == ActionDelete, nil
}

// Remove deletes the item for a record id.
// Returns nil if no such item exists (idempotent).
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue item for %s: %w", id, err)
	}
	return nil
}

// RemoveIfVersion deletes the item for a record id only if it still carries
// the given snapshot version. An item coalesced to a newer version since the
// caller read it is left in place for the next send.
func (q *Queue) RemoveIfVersion(ctx context.Context, id string, version int64) error {
	if _, err := q.conn.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id = ? AND version = ?`, id, version); err != nil {
		return fmt.Errorf("failed to remove queue item for %s: %w", id, err)
	}
	return nil
}

// Size returns the number of pending items.
func (q *Queue) Size(ctx context.Context) (int, error) {
	var count int
	if err := q.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// List returns all pending items oldest first. Intended for inspection.
func (q *Queue) List(ctx context.Context) ([]*Item, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT seq, id, collection, action, payload, version, enqueued_at
		FROM sync_queue
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return items, nil
}

// Clear removes every pending item.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var collection, action, payload, enqueuedAt string

	if err := row.Scan(&item.Seq, &item.ID, &collection, &action, &payload, &item.Version, &enqueuedAt); err != nil {
		return nil, err
	}

	item.Collection = record.Collection(collection)
	item.Action = Action(action)
	if payload != "" {
		item.Payload = json.RawMessage(payload)
	}
	if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
		item.EnqueuedAt = t
	}
	return &item, nil
}
