package datalayer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell/internal/connectivity"
	"github.com/inkwell-app/inkwell/internal/engine"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/record"
	"github.com/inkwell-app/inkwell/internal/snapshot"
	"github.com/inkwell-app/inkwell/internal/store"
)

// fakeRemote is a scripted backend: every call succeeds unless an error is
// registered for the id.
type fakeRemote struct {
	mu      sync.Mutex
	fail    map[string]error
	upserts map[string][]string // id -> payloads sent, in order
	deletes []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		fail:    make(map[string]error),
		upserts: make(map[string][]string),
	}
}

func (r *fakeRemote) Upsert(ctx context.Context, collection record.Collection, id string, payload json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts[id] = append(r.upserts[id], string(payload))
	if err := r.fail[id]; err != nil {
		return "", err
	}
	return "cloud-" + id, nil
}

func (r *fakeRemote) Delete(ctx context.Context, collection record.Collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, id)
	return r.fail[id]
}

func (r *fakeRemote) sentPayloads(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.upserts[id]...)
}

func (r *fakeRemote) deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deletes...)
}

type neverReachable struct{}

func (neverReachable) Probe(ctx context.Context) bool { return false }

type fixture struct {
	layer   *DataLayer
	store   *store.Store
	queue   *queue.Queue
	remote  *fakeRemote
	monitor *connectivity.Monitor
}

// newFixture builds a full data layer over a temp database. The monitor is
// driven manually and starts offline, so nothing syncs until the test says so.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	discard := log.New(io.Discard, "", 0)

	path := filepath.Join(t.TempDir(), "inkwell.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	monitor, err := connectivity.New(neverReachable{}, &connectivity.Config{
		PollInterval: time.Hour,
		ProbeTimeout: time.Second,
		Logger:       discard,
	})
	if err != nil {
		t.Fatalf("connectivity.New() failed: %v", err)
	}

	remote := newFakeRemote()
	tracker := record.NewTracker()
	q := queue.New(s.RawDB())
	eng, err := engine.New(s, q, remote, monitor, tracker, &engine.Config{Logger: discard})
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}
	layer, err := New(s, q, tracker, eng, monitor, discard)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	return &fixture{layer: layer, store: s, queue: q, remote: remote, monitor: monitor}
}

func projectJSON(t *testing.T, title string) []byte {
	t.Helper()
	data, err := json.Marshal(&record.Project{Title: title})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

func storyJSON(t *testing.T, projectID, text string) []byte {
	t.Helper()
	data, err := json.Marshal(&record.Story{ProjectID: projectID, Text: text})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

func TestSave_AllocatesIDAndStampsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.layer.Save(ctx, record.CollectionProject, "", projectJSON(t, "Book"))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("no id allocated")
	}
	if rec.Meta.Version != 1 {
		t.Errorf("version = %d, want 1", rec.Meta.Version)
	}
	if rec.Meta.SyncStatus != record.StatusLocal {
		t.Errorf("status = %q, want local", rec.Meta.SyncStatus)
	}

	got, err := f.layer.Get(ctx, record.CollectionProject, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("saved record not readable")
	}
	if got.Meta.Version != 1 {
		t.Errorf("stored version = %d, want 1", got.Meta.Version)
	}
}

func TestSave_IncrementsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "v1"))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	rec, err = f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "v2"))
	if err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	if rec.Meta.Version != 2 {
		t.Errorf("version = %d, want 2", rec.Meta.Version)
	}
}

func TestSave_RejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "", []byte(`{"title":""}`)); err == nil {
		t.Error("expected error for empty title")
	}
	if _, err := f.layer.Save(ctx, "widget", "", []byte(`{}`)); err == nil {
		t.Error("expected error for unknown collection")
	}
}

// TestSave_OfflineNeverTouchesNetwork checks the offline guarantee: saves
// commit locally and queue up, with zero remote calls.
func TestSave_OfflineNeverTouchesNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.layer.Save(ctx, record.CollectionProject, "", projectJSON(t, "draft")); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	f.remote.mu.Lock()
	calls := len(f.remote.upserts)
	f.remote.mu.Unlock()
	if calls != 0 {
		t.Errorf("remote upserts = %d, want 0 while offline", calls)
	}

	size, err := f.queue.Size(ctx)
	if err != nil {
		t.Fatalf("Size() failed: %v", err)
	}
	if size != 3 {
		t.Errorf("queue size = %d, want 3", size)
	}
}

// TestRapidEdits_CoalesceAndSyncLatest checks N rapid edits produce one queue
// item, and the drain sends only the latest snapshot.
func TestRapidEdits_CoalesceAndSyncLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, title := range []string{"v1", "v2", "v3"} {
		if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, title)); err != nil {
			t.Fatalf("Save(%s) failed: %v", title, err)
		}
	}

	size, _ := f.queue.Size(ctx)
	if size != 1 {
		t.Errorf("queue size = %d, want 1 after coalescing", size)
	}

	if err := f.layer.ForceSyncAll(ctx); err != nil {
		t.Fatalf("ForceSyncAll() failed: %v", err)
	}

	sent := f.remote.sentPayloads("p1")
	if len(sent) != 1 {
		t.Fatalf("upserts = %d, want 1", len(sent))
	}
	var p record.Project
	if err := json.Unmarshal([]byte(sent[0]), &p); err != nil {
		t.Fatalf("unmarshal sent payload failed: %v", err)
	}
	if p.Title != "v3" {
		t.Errorf("sent title = %q, want v3 (latest snapshot)", p.Title)
	}

	got, _ := f.layer.Get(ctx, record.CollectionProject, "p1")
	if got.Meta.SyncStatus != record.StatusSynced {
		t.Errorf("status = %q, want synced", got.Meta.SyncStatus)
	}
	if got.Meta.Version != 3 {
		t.Errorf("version = %d, want 3", got.Meta.Version)
	}
}

// TestRemove_ProjectCascades checks removing a project tombstones all its
// children.
func TestRemove_ProjectCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s1", storyJSON(t, "p1", "page")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s2", storyJSON(t, "p1", "page two")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := f.layer.Remove(ctx, record.CollectionProject, "p1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	for _, id := range []string{"s1", "s2"} {
		got, err := f.layer.Get(ctx, record.CollectionStory, id)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got != nil {
			t.Errorf("child %s survived project removal", id)
		}
	}

	// Drain propagates every tombstone.
	if err := f.layer.ForceSyncAll(ctx); err != nil {
		t.Fatalf("ForceSyncAll() failed: %v", err)
	}
	deleted := f.remote.deleted()
	if len(deleted) != 3 {
		t.Errorf("remote deletes = %v, want 3 tombstones", deleted)
	}
}

// TestSave_RejectsResurrection checks saving an id with a pending delete fails
// with ErrDeletePending.
func TestSave_RejectsResurrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := f.layer.Remove(ctx, record.CollectionProject, "p1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	_, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Back"))
	if !errors.Is(err, ErrDeletePending) {
		t.Errorf("err = %v, want ErrDeletePending", err)
	}

	// Once the delete has synced, the id is free again.
	if err := f.layer.ForceSyncAll(ctx); err != nil {
		t.Fatalf("ForceSyncAll() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Back")); err != nil {
		t.Errorf("Save() after synced delete failed: %v", err)
	}
}

// TestOfflineThenOnline_DrainsQueue is the core offline-first scenario: work
// accumulates offline, reconnecting drains everything in order.
func TestOfflineThenOnline_DrainsQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s1", storyJSON(t, "p1", "page")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	eng := engineOf(t, f)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		eng.Run(runCtx)
		close(done)
	}()

	f.monitor.SetOnline(true)

	deadline := time.After(2 * time.Second)
	for {
		size, err := f.queue.Size(ctx)
		if err != nil {
			t.Fatalf("Size() failed: %v", err)
		}
		if size == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue never drained (size %d)", size)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	// The project was created before its dependent story.
	if sent := f.remote.sentPayloads("p1"); len(sent) != 1 {
		t.Errorf("p1 upserts = %d, want 1", len(sent))
	}
	if sent := f.remote.sentPayloads("s1"); len(sent) != 1 {
		t.Errorf("s1 upserts = %d, want 1", len(sent))
	}
	got, _ := f.layer.Get(ctx, record.CollectionStory, "s1")
	if got.Meta.SyncStatus != record.StatusSynced {
		t.Errorf("s1 status = %q, want synced", got.Meta.SyncStatus)
	}
}

// engineOf digs the engine back out of the fixture for Run-loop tests.
func engineOf(t *testing.T, f *fixture) *engine.Engine {
	t.Helper()
	return f.layer.engine
}

// TestConflict_SurfacedAndResolvedByResave checks the terminal-failure path
// end to end: conflict status, ListConflicts, and explicit resolution.
func TestConflict_SurfacedAndResolvedByResave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	f.remote.fail["p1"] = &engine.RemoteError{Kind: engine.KindTerminal, Status: 422, Msg: "rejected"}

	if err := f.layer.ForceSyncAll(ctx); err != nil {
		t.Fatalf("ForceSyncAll() failed: %v", err)
	}

	conflicts, err := f.layer.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts() failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ID != "p1" {
		t.Fatalf("conflicts = %v, want [p1]", conflicts)
	}

	// Re-saving is the explicit resolution: status resets and the record
	// re-enters the queue.
	f.remote.fail["p1"] = nil
	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book fixed")); err != nil {
		t.Fatalf("resolving Save() failed: %v", err)
	}
	if err := f.layer.ForceSyncAll(ctx); err != nil {
		t.Fatalf("ForceSyncAll() failed: %v", err)
	}
	got, _ := f.layer.Get(ctx, record.CollectionProject, "p1")
	if got.Meta.SyncStatus != record.StatusSynced {
		t.Errorf("status = %q, want synced after resolution", got.Meta.SyncStatus)
	}
	conflicts, _ = f.layer.ListConflicts(ctx)
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %v, want none after resolution", conflicts)
	}
}

func TestList_FilterByProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "A")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionProject, "p2", projectJSON(t, "B")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s1", storyJSON(t, "p1", "one")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s2", storyJSON(t, "p2", "two")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	stories, err := f.layer.List(ctx, record.CollectionStory, &Filter{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(stories) != 1 || stories[0].ID != "s1" {
		t.Errorf("filtered stories = %v, want [s1]", stories)
	}

	all, err := f.layer.List(ctx, record.CollectionStory, nil)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all stories = %d, want 2", len(all))
	}
}

// TestSnapshot_RoundTripThroughReset exports, wipes, imports, and checks the
// imported data re-enters the sync queue.
func TestSnapshot_RoundTripThroughReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s1", storyJSON(t, "p1", "page")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	doc, err := f.layer.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot() failed: %v", err)
	}

	if err := f.layer.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}
	recs, _ := f.layer.List(ctx, record.CollectionProject, nil)
	if len(recs) != 0 {
		t.Fatalf("records survived ClearAll")
	}

	if err := f.layer.ImportSnapshot(ctx, doc); err != nil {
		t.Fatalf("ImportSnapshot() failed: %v", err)
	}

	got, err := f.layer.Get(ctx, record.CollectionStory, "s1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("story lost through snapshot round trip")
	}
	if got.Meta.SyncStatus != record.StatusLocal {
		t.Errorf("status = %q, want local (import re-queues)", got.Meta.SyncStatus)
	}

	size, _ := f.queue.Size(ctx)
	if size != 2 {
		t.Errorf("queue size = %d, want 2 (imports re-enter the queue)", size)
	}
}

// TestRemove_UnknownIDIsNoOp checks removing a never-stored id queues no
// tombstone, so the backend is never asked to delete something it was never
// told about.
func TestRemove_UnknownIDIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.layer.Remove(ctx, record.CollectionProject, "never-stored"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	size, err := f.queue.Size(ctx)
	if err != nil {
		t.Fatalf("Size() failed: %v", err)
	}
	if size != 0 {
		t.Errorf("queue size = %d, want 0 (no tombstone for an unknown id)", size)
	}

	if err := engineOf(t, f).ForceSyncAll(ctx); err != nil {
		t.Fatalf("ForceSyncAll() failed: %v", err)
	}
	if deletes := f.remote.deleted(); len(deletes) != 0 {
		t.Errorf("remote deletes = %v, want none", deletes)
	}
}

// TestImportSnapshot_AllOrNothing checks a document with a record that would
// be rejected partway through applies nothing at all.
func TestImportSnapshot_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A pending delete for p1 makes any import of that id a resurrection.
	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := f.layer.Remove(ctx, record.CollectionProject, "p1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	doc := snapshot.Build(map[record.Collection][]*record.Record{
		record.CollectionProject: {
			{ID: "p2", Collection: record.CollectionProject, Payload: projectJSON(t, "Fresh")},
			{ID: "p1", Collection: record.CollectionProject, Payload: projectJSON(t, "Revived")},
		},
	})

	err := f.layer.ImportSnapshot(ctx, doc)
	if !errors.Is(err, ErrDeletePending) {
		t.Fatalf("ImportSnapshot() error = %v, want ErrDeletePending", err)
	}

	// The valid record listed ahead of the bad one must not have landed.
	got, err := f.layer.Get(ctx, record.CollectionProject, "p2")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("record applied from a rejected snapshot")
	}
	size, _ := f.queue.Size(ctx)
	if size != 1 {
		t.Errorf("queue size = %d, want 1 (only the pending tombstone)", size)
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := f.layer.Save(ctx, record.CollectionStory, "s1", storyJSON(t, "p1", "page")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	stats, err := f.layer.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.CountsPerCollection[record.CollectionProject] != 1 {
		t.Errorf("project count = %d, want 1", stats.CountsPerCollection[record.CollectionProject])
	}
	if stats.QueueSize != 2 {
		t.Errorf("queue size = %d, want 2", stats.QueueSize)
	}
}

func TestGetSyncStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.layer.Save(ctx, record.CollectionProject, "p1", projectJSON(t, "Book")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	st, err := f.layer.GetSyncStatus(ctx)
	if err != nil {
		t.Fatalf("GetSyncStatus() failed: %v", err)
	}
	if st.IsOnline {
		t.Error("IsOnline = true, want false before connect")
	}
	if st.QueueSize != 1 {
		t.Errorf("QueueSize = %d, want 1", st.QueueSize)
	}
}
