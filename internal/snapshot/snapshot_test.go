package snapshot

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell/internal/record"
)

func testRecord(t *testing.T, c record.Collection, id string, payload interface{}) *record.Record {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	now := time.Now().UTC()
	return &record.Record{
		ID:         id,
		Collection: c,
		Payload:    data,
		Meta: record.Metadata{
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: record.StatusSynced,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	doc := Build(map[record.Collection][]*record.Record{
		record.CollectionProject: {
			testRecord(t, record.CollectionProject, "p1", &record.Project{Title: "Book"}),
		},
		record.CollectionStory: {
			testRecord(t, record.CollectionStory, "s1", &record.Story{ProjectID: "p1", Text: "page"}),
			testRecord(t, record.CollectionStory, "s2", &record.Story{ProjectID: "p1", Text: "page two"}),
		},
	})

	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if got.FormatVersion != FormatVersion {
		t.Errorf("format version = %d, want %d", got.FormatVersion, FormatVersion)
	}
	if len(got.Collections[record.CollectionProject]) != 1 {
		t.Errorf("project count = %d, want 1", len(got.Collections[record.CollectionProject]))
	}
	if len(got.Collections[record.CollectionStory]) != 2 {
		t.Errorf("story count = %d, want 2", len(got.Collections[record.CollectionStory]))
	}
}

// TestRecords_DependencyOrder checks projects come before their children so an
// import replays parents first.
func TestRecords_DependencyOrder(t *testing.T) {
	doc := Build(map[record.Collection][]*record.Record{
		record.CollectionStory: {
			testRecord(t, record.CollectionStory, "s1", &record.Story{ProjectID: "p1", Text: "page"}),
		},
		record.CollectionProject: {
			testRecord(t, record.CollectionProject, "p1", &record.Project{Title: "Book"}),
		},
		record.CollectionDrawing: {
			testRecord(t, record.CollectionDrawing, "d1", &record.Drawing{ProjectID: "p1", Canvas: json.RawMessage(`{}`)}),
		},
	})

	recs := doc.Records()
	if len(recs) != 3 {
		t.Fatalf("record count = %d, want 3", len(recs))
	}
	if recs[0].Collection != record.CollectionProject {
		t.Errorf("first record collection = %s, want project", recs[0].Collection)
	}
}

func TestUnmarshal_RejectsNewerFormat(t *testing.T) {
	doc := Build(nil)
	doc.FormatVersion = FormatVersion + 1
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	_, err = Unmarshal(data)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Error("expected error for non-JSON input")
	}
	// Valid JSON with no version header fails the version check, version 0.
	if _, err := Unmarshal([]byte(`{"hello":"world"}`)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestValidate_RejectsExportCollection(t *testing.T) {
	doc := Build(nil)
	doc.Collections[record.CollectionExport] = []*record.Record{
		testRecord(t, record.CollectionExport, "e1", &record.Export{ProjectID: "p1", ArtifactRef: "a", Format: "pdf"}),
	}
	if err := doc.Validate(); err == nil {
		t.Error("expected error for export collection in snapshot")
	}
}
