// Package datalayer provides the public surface of the Inkwell offline-first
// data layer.
//
// A DataLayer is an explicit context object constructed once at application
// startup and passed by reference to collaborators; there are no package
// statics. Local writes commit synchronously relative to the caller, sync
// happens in the background, and sync outcomes are reported only via status
// queries and conflict events - save never fails because the network did.
//
// One mutex serializes all mutations of the queue and per-record metadata,
// which preserves the single-logical-thread model the engine assumes.
package datalayer

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-app/inkwell/internal/connectivity"
	"github.com/inkwell-app/inkwell/internal/engine"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/record"
	"github.com/inkwell-app/inkwell/internal/snapshot"
	"github.com/inkwell-app/inkwell/internal/store"
)

// ErrDeletePending mirrors queue.ErrDeletePending for callers of Save.
var ErrDeletePending = queue.ErrDeletePending

// childCollections are the collections cascaded when a project is removed.
var childCollections = []record.Collection{
	record.CollectionStory,
	record.CollectionImage,
	record.CollectionDrawing,
	record.CollectionExport,
}

// Filter narrows List results.
type Filter struct {
	// ProjectID limits results to children of one project (ignored for
	// the project collection itself).
	ProjectID string
}

// DataLayer is the facade consumed by the application.
type DataLayer struct {
	store   *store.Store
	queue   *queue.Queue
	tracker *record.Tracker
	engine  *engine.Engine
	monitor *connectivity.Monitor
	logger  *log.Logger

	// mu serializes every mutation of records, metadata, and the queue.
	mu sync.Mutex
}

// New creates a DataLayer over already-constructed collaborators.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, q *queue.Queue, tracker *record.Tracker, eng *engine.Engine, monitor *connectivity.Monitor, logger *log.Logger) (*DataLayer, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[datalayer] ", log.LstdFlags)
	}

	return &DataLayer{
		store:   st,
		queue:   q,
		tracker: tracker,
		engine:  eng,
		monitor: monitor,
		logger:  logger,
	}, nil
}

// Save persists a record locally and enqueues it for sync. If id is empty a
// fresh id is allocated. The returned record carries the stamped metadata.
//
// Save succeeds once the local write commits; it never waits on the network.
// Saving an id whose delete is still queued is rejected with ErrDeletePending
// (deleted ids are not resurrected; allocate a fresh one).
func (d *DataLayer) Save(ctx context.Context, collection record.Collection, id string, payload []byte) (*record.Record, error) {
	if id == "" {
		id = uuid.NewString()
	}

	rec := &record.Record{
		ID:         id,
		Collection: collection,
		Payload:    payload,
	}
	// Validate before taking the lock; the envelope check doesn't need it.
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pendingDelete, err := d.queue.HasPendingDelete(ctx, id)
	if err != nil {
		return nil, err
	}
	if pendingDelete {
		return nil, fmt.Errorf("save %s/%s: %w", collection, id, ErrDeletePending)
	}

	prior, err := d.store.GetRecordContext(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	var priorMeta *record.Metadata
	action := queue.ActionCreate
	if prior != nil {
		priorMeta = &prior.Meta
		action = queue.ActionUpdate
	}
	rec.Meta = d.tracker.Stamp(priorMeta)

	// The record row and its queue item commit as one transaction: a crash
	// can never leave a saved record that nothing will ever sync.
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := d.store.PutRecordTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := d.queue.EnqueueTx(ctx, tx, queue.Item{
		ID:         id,
		Collection: collection,
		Action:     action,
		Payload:    rec.Payload,
		Version:    rec.Meta.Version,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit save for %s/%s: %w", collection, id, err)
	}

	d.maybeDrain()
	return rec, nil
}

// Get retrieves a record, or nil if it does not exist.
func (d *DataLayer) Get(ctx context.Context, collection record.Collection, id string) (*record.Record, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return d.store.GetRecordContext(ctx, collection, id)
}

// List retrieves a collection's records, optionally filtered.
func (d *DataLayer) List(ctx context.Context, collection record.Collection, filter *Filter) ([]*record.Record, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if filter != nil && filter.ProjectID != "" && collection != record.CollectionProject {
		return d.store.ListByProjectContext(ctx, collection, filter.ProjectID)
	}
	return d.store.ListRecordsContext(ctx, collection)
}

// Remove deletes a record locally and queues a tombstone to propagate the
// deletion remotely. Removing a project cascades to all of its children,
// each with its own tombstone. Removing an unknown record is a no-op.
func (d *DataLayer) Remove(ctx context.Context, collection record.Collection, id string) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %q", collection)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.store.GetRecordContext(ctx, collection, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	// The whole cascade - child deletes, their tombstones, and the target
	// itself - commits as one transaction.
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if collection == record.CollectionProject {
		for _, child := range childCollections {
			children, err := d.store.ListByProjectContext(ctx, child, id)
			if err != nil {
				return err
			}
			for _, rec := range children {
				if err := d.removeOne(ctx, tx, child, rec.ID); err != nil {
					return err
				}
			}
		}
	}

	if err := d.removeOne(ctx, tx, collection, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remove for %s/%s: %w", collection, id, err)
	}

	d.maybeDrain()
	return nil
}

// removeOne deletes one record and enqueues its tombstone inside the caller's
// transaction. Caller holds mu.
func (d *DataLayer) removeOne(ctx context.Context, tx *sql.Tx, collection record.Collection, id string) error {
	if err := d.store.DeleteRecordTx(ctx, tx, collection, id); err != nil {
		return err
	}
	return d.queue.EnqueueTx(ctx, tx, queue.Item{
		ID:         id,
		Collection: collection,
		Action:     queue.ActionDelete,
		EnqueuedAt: time.Now().UTC(),
	})
}

// GetStats summarizes the local store contents.
func (d *DataLayer) GetStats(ctx context.Context) (*store.Stats, error) {
	return d.store.GetStatsContext(ctx)
}

// GetSyncStatus reports the engine's current sync state.
func (d *DataLayer) GetSyncStatus(ctx context.Context) (*engine.Status, error) {
	return d.engine.Status(ctx)
}

// ForceSyncAll drains the queue unconditionally, running to completion or to
// the first blocking failure.
func (d *DataLayer) ForceSyncAll(ctx context.Context) error {
	return d.engine.ForceSyncAll(ctx)
}

// ListConflicts returns all records flagged for manual reconciliation.
// Resolving one is explicit: the caller re-saves the record (resetting its
// status and re-enqueueing it) or removes it.
func (d *DataLayer) ListConflicts(ctx context.Context) ([]*record.Record, error) {
	return d.store.ListByStatusContext(ctx, record.StatusConflict)
}

// ExportSnapshot serializes every authored collection into one portable
// document. The queue is not exported.
func (d *DataLayer) ExportSnapshot(ctx context.Context) (*snapshot.Document, error) {
	records := make(map[record.Collection][]*record.Record)
	for _, c := range snapshot.Collections() {
		recs, err := d.store.ListRecordsContext(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", c, err)
		}
		records[c] = recs
	}
	return snapshot.Build(records), nil
}

// ImportSnapshot validates the document's format version, then re-applies
// each contained record through the normal save path, so imported data
// re-enters the sync queue and is re-uploaded. Every record is validated
// up front; a document that would fail partway through is rejected whole.
// Import is additive and overwriting by id; records absent from the
// snapshot are never deleted.
func (d *DataLayer) ImportSnapshot(ctx context.Context, doc *snapshot.Document) error {
	if doc == nil {
		return fmt.Errorf("snapshot document is nil")
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	// Check every record before applying any, so a bad entry midway through
	// the document can't leave a half-imported store behind.
	for _, rec := range doc.Records() {
		check := &record.Record{ID: rec.ID, Collection: rec.Collection, Payload: rec.Payload}
		if err := check.Validate(); err != nil {
			return fmt.Errorf("snapshot record %s/%s: %w", rec.Collection, rec.ID, err)
		}
		pendingDelete, err := d.queue.HasPendingDelete(ctx, rec.ID)
		if err != nil {
			return err
		}
		if pendingDelete {
			return fmt.Errorf("snapshot record %s/%s: %w", rec.Collection, rec.ID, ErrDeletePending)
		}
	}

	imported := 0
	for _, rec := range doc.Records() {
		if _, err := d.Save(ctx, rec.Collection, rec.ID, rec.Payload); err != nil {
			return fmt.Errorf("failed to import %s/%s: %w", rec.Collection, rec.ID, err)
		}
		imported++
	}

	d.logger.Printf("Imported %d records from snapshot exported at %s",
		imported, doc.ExportedAt.Format(time.RFC3339))
	return nil
}

// ClearAll wipes the local store, queue, and settings. Irreversible; used
// for account reset.
func (d *DataLayer) ClearAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.ClearAllContext(ctx)
}

// maybeDrain nudges the engine when we know the backend is reachable.
// Offline the queue just grows; the monitor triggers a drain on reconnect.
func (d *DataLayer) maybeDrain() {
	if d.monitor.IsOnline() {
		d.engine.RequestDrain()
	}
}
