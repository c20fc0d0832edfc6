// Package record defines the data model for the Inkwell local data layer.
//
// Every persisted entity is a Record: an opaque stable id, the collection it
// belongs to, a collection-specific JSON payload, and sync metadata. Payloads
// form a tagged union over the known collection kinds and are validated at
// the store boundary before anything is persisted.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection identifies a logical grouping of records of one kind.
type Collection string

const (
	// CollectionProject holds user projects (title, description, page order).
	CollectionProject Collection = "project"
	// CollectionStory holds narrative pages belonging to a project.
	CollectionStory Collection = "story"
	// CollectionImage holds image asset references belonging to a project.
	CollectionImage Collection = "image"
	// CollectionDrawing holds canvas snapshots belonging to a project.
	CollectionDrawing Collection = "drawing"
	// CollectionExport holds generated-artifact references for a project.
	CollectionExport Collection = "export"
)

// Collections returns all known collections in a stable order.
func Collections() []Collection {
	return []Collection{
		CollectionProject,
		CollectionStory,
		CollectionImage,
		CollectionDrawing,
		CollectionExport,
	}
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionProject, CollectionStory, CollectionImage, CollectionDrawing, CollectionExport:
		return true
	}
	return false
}

// SyncStatus describes where a record stands relative to the remote backend.
type SyncStatus string

const (
	// StatusLocal means the record has local changes not yet sent remotely.
	StatusLocal SyncStatus = "local"
	// StatusSyncing means the record's pending mutation is in flight.
	StatusSyncing SyncStatus = "syncing"
	// StatusSynced means the remote backend acknowledged the exact version sent.
	StatusSynced SyncStatus = "synced"
	// StatusConflict is terminal: the record requires explicit caller action.
	StatusConflict SyncStatus = "conflict"
)

// Metadata carries the lifecycle, version, and sync-state fields attached to
// every record. Version never decreases; SyncStatus is written only through
// the Tracker.
type Metadata struct {
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
	CloudID    string     `json:"cloud_id,omitempty"`
}

// Record is a single persisted domain entity plus its metadata.
type Record struct {
	ID         string          `json:"id"`
	Collection Collection      `json:"collection"`
	Payload    json.RawMessage `json:"payload"`
	Meta       Metadata        `json:"metadata"`
}

// Validate checks the record's envelope and its payload schema.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !r.Collection.Valid() {
		return fmt.Errorf("unknown collection %q", r.Collection)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if err := ValidatePayload(r.Collection, r.Payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Collection, err)
	}
	return nil
}

// ParentProject returns the id of the project this record belongs to, or ""
// for project records themselves.
func (r *Record) ParentProject() (string, error) {
	return ParentProjectID(r.Collection, r.Payload)
}
