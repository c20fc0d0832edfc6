package record

import "time"

// Tracker is the sole authority for metadata transitions. It is pure: given
// the prior metadata (or none) it produces the next metadata, and performs no
// I/O. All other components only read SyncStatus; they never compute it.
type Tracker struct {
	now func() time.Time
}

// NewTracker creates a Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// NewTrackerWithClock creates a Tracker with an injected clock for tests.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// Stamp produces metadata for a caller-initiated mutation: the version
// increments (starting at 1 for a new record), updated_at moves forward, and
// the status resets to local. Any prior synced state is intentionally lost;
// the record must earn "synced" again for the new version.
func (t *Tracker) Stamp(prior *Metadata) Metadata {
	now := t.now().UTC()
	if prior == nil {
		return Metadata{
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: StatusLocal,
		}
	}
	return Metadata{
		Version:    prior.Version + 1,
		CreatedAt:  prior.CreatedAt,
		UpdatedAt:  now,
		SyncStatus: StatusLocal,
		CloudID:    prior.CloudID,
	}
}

// MarkSyncing transitions metadata to syncing when the engine takes the
// record's queue item in hand. Version and timestamps are untouched.
func (t *Tracker) MarkSyncing(m Metadata) Metadata {
	m.SyncStatus = StatusSyncing
	return m
}

// MarkSynced transitions metadata to synced after a confirmed acknowledgment,
// recording the cloud id returned by the backend. Callers must pair this with
// a version guard so the transition applies only to the exact version sent.
func (t *Tracker) MarkSynced(m Metadata, cloudID string) Metadata {
	m.SyncStatus = StatusSynced
	if cloudID != "" {
		m.CloudID = cloudID
	}
	return m
}

// MarkLocal reverts metadata to local after a failed sync attempt, so
// callers see accurate state while the item waits for its next try.
func (t *Tracker) MarkLocal(m Metadata) Metadata {
	m.SyncStatus = StatusLocal
	return m
}

// MarkConflict transitions metadata to the terminal conflict state. Conflicts
// are never auto-resolved; a later caller mutation (Stamp) is the only way
// out.
func (t *Tracker) MarkConflict(m Metadata) Metadata {
	m.SyncStatus = StatusConflict
	return m
}
