// Package snapshot serializes the local store's collections into one
// portable, format-versioned document for backup and recovery.
//
// A snapshot covers the user-authored collections (project, story, image,
// drawing); generated export artifacts are reproducible and excluded. The
// sync queue is never part of a snapshot: imported records re-enter the queue
// through the normal save path instead.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inkwell-app/inkwell/internal/record"
)

// FormatVersion is the document format this build writes and accepts.
const FormatVersion = 1

// ErrUnsupportedFormat is returned when a document carries an unknown or
// newer format version. The import is rejected outright; nothing is applied.
var ErrUnsupportedFormat = errors.New("unsupported snapshot format version")

// Document is the portable snapshot format.
type Document struct {
	FormatVersion int                                     `json:"format_version"`
	ExportedAt    time.Time                               `json:"exported_at"`
	Collections   map[record.Collection][]*record.Record `json:"collections"`
}

// Collections lists the collections a snapshot covers, in export order.
func Collections() []record.Collection {
	return []record.Collection{
		record.CollectionProject,
		record.CollectionStory,
		record.CollectionImage,
		record.CollectionDrawing,
	}
}

// Build assembles a document from per-collection record lists.
func Build(records map[record.Collection][]*record.Record) *Document {
	doc := &Document{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		Collections:   make(map[record.Collection][]*record.Record),
	}
	for _, c := range Collections() {
		doc.Collections[c] = records[c]
	}
	return doc
}

// Validate checks the document's format version and collection keys.
func (d *Document) Validate() error {
	if d.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedFormat, d.FormatVersion, FormatVersion)
	}
	for c := range d.Collections {
		if !c.Valid() || c == record.CollectionExport {
			return fmt.Errorf("snapshot contains unknown collection %q", c)
		}
	}
	return nil
}

// Records returns the document's records in dependency order: projects
// first, then their children, so an import replays parents before the
// records that reference them.
func (d *Document) Records() []*record.Record {
	var recs []*record.Record
	for _, c := range Collections() {
		recs = append(recs, d.Collections[c]...)
	}
	return recs
}

// Marshal encodes the document as indented JSON.
func Marshal(d *Document) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a snapshot document. An unsupported format
// version is rejected before any record is examined.
func Unmarshal(data []byte) (*Document, error) {
	// Check the version alone first so a newer document with unknown
	// fields fails on the version, not on its contents.
	var header struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if header.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedFormat, header.FormatVersion, FormatVersion)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
