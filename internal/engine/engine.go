package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/inkwell-app/inkwell/internal/connectivity"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/record"
	"github.com/inkwell-app/inkwell/internal/store"
)

// lastSyncKey is the settings key recording the last completed drain.
const lastSyncKey = "inkwell.last_sync_at"

// Config holds engine configuration.
type Config struct {
	// MaxAttempts bounds retries per queue item before the failure is
	// treated as terminal (default: 5).
	MaxAttempts int

	// CallTimeout bounds each individual remote call (default: 30s).
	// A call that exceeds it counts as a recoverable failure.
	CallTimeout time.Duration

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		CallTimeout: 30 * time.Second,
		Logger:      log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// ConflictEvent is emitted when a queue item fails terminally and its record
// is flagged for manual reconciliation.
type ConflictEvent struct {
	ID         string            `json:"id"`
	Collection record.Collection `json:"collection"`
	Action     queue.Action      `json:"action"`
	Reason     string            `json:"reason"`
	At         time.Time         `json:"at"`
}

// Status is the sync state reported to callers.
type Status struct {
	IsOnline   bool      `json:"is_online"`
	InProgress bool      `json:"in_progress"`
	QueueSize  int       `json:"queue_size"`
	LastSync   time.Time `json:"last_sync"`
}

// Engine drains the sync queue against the remote backend, serially, with
// bounded retry and conflict detection.
//
// The state machine is Idle -> Draining -> Idle with at most one draining
// cycle active at a time. A drain request arriving mid-cycle is a no-op; the
// current cycle already runs until the queue is empty, blocked, or offline.
// A recoverable failure aborts the cycle at the failing item rather than
// skipping ahead, because younger items may depend on older ones (a story
// referencing a not-yet-created project). One stuck item therefore stalls
// everything behind it; that head-of-line blocking is the deliberate price
// of causal ordering.
type Engine struct {
	store   *store.Store
	queue   *queue.Queue
	remote  Remote
	monitor *connectivity.Monitor
	tracker *record.Tracker
	config  *Config
	retries *retryLedger

	mu         sync.Mutex
	inProgress bool
	onConflict []func(ConflictEvent)

	requests chan struct{}
}

// New creates an Engine. All collaborators are required; the schema must
// already be initialized on the store.
func New(st *store.Store, q *queue.Queue, remote Remote, monitor *connectivity.Monitor, tracker *record.Tracker, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	return &Engine{
		store:    st,
		queue:    q,
		remote:   remote,
		monitor:  monitor,
		tracker:  tracker,
		config:   config,
		retries:  newRetryLedger(),
		requests: make(chan struct{}, 1),
	}, nil
}

// Run consumes drain requests until ctx is cancelled. Requests come from the
// connectivity monitor (one per offline-to-online transition) and from
// RequestDrain. Run is the engine's single consumer; it never executes two
// drain cycles concurrently.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.monitor.Drains():
			if err := e.drain(ctx, false); err != nil {
				e.config.Logger.Printf("Drain failed: %v", err)
			}
		case <-e.requests:
			if err := e.drain(ctx, false); err != nil {
				e.config.Logger.Printf("Drain failed: %v", err)
			}
		}
	}
}

// RequestDrain asks the engine to drain soon. Non-blocking; a request that
// arrives while one is already pending collapses into it.
func (e *Engine) RequestDrain() {
	select {
	case e.requests <- struct{}{}:
	default:
	}
}

// ForceSyncAll triggers a drain unconditionally, ignoring the connectivity
// gate, and runs it to completion or to the first blocking failure. There is
// no cancellation beyond ctx.
func (e *Engine) ForceSyncAll(ctx context.Context) error {
	return e.drain(ctx, true)
}

// Status reports the current sync state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	size, err := e.queue.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue size: %w", err)
	}

	var lastSync time.Time
	if raw, ok, err := e.store.Settings().GetContext(ctx, lastSyncKey); err != nil {
		return nil, err
	} else if ok {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			lastSync = t
		}
	}

	e.mu.Lock()
	inProgress := e.inProgress
	e.mu.Unlock()

	return &Status{
		IsOnline:   e.monitor.IsOnline(),
		InProgress: inProgress,
		QueueSize:  size,
		LastSync:   lastSync,
	}, nil
}

// OnConflict registers a callback invoked for every terminal failure.
// Callbacks run on the draining goroutine and should return quickly.
func (e *Engine) OnConflict(fn func(ConflictEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConflict = append(e.onConflict, fn)
}

// drain runs one cycle: oldest item first, stop at the first unresolved item.
// Returns nil both on a clean drain and on a recoverable abort; sync failures
// are never surfaced synchronously, only via Status and conflict events.
func (e *Engine) drain(ctx context.Context, force bool) error {
	e.mu.Lock()
	if e.inProgress {
		e.mu.Unlock()
		return nil
	}
	e.inProgress = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inProgress = false
		e.mu.Unlock()
	}()

	drained := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !force && !e.monitor.IsOnline() {
			e.config.Logger.Printf("Offline, stopping drain after %d items", drained)
			return nil
		}

		item, err := e.queue.PeekOldest(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			break
		}

		proceed, err := e.processItem(ctx, item)
		if err != nil {
			return err
		}
		if !proceed {
			// Recoverable failure: the item stays at the head and
			// everything behind it waits.
			return nil
		}
		drained++
	}

	if drained > 0 {
		e.config.Logger.Printf("Drain complete: %d items", drained)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := e.store.Settings().SetContext(ctx, lastSyncKey, now); err != nil {
		e.config.Logger.Printf("Failed to record last sync time: %v", err)
	}
	return nil
}

// processItem sends one queue item to the backend. It returns proceed=false
// when the cycle must abort at this item (recoverable failure), and a non-nil
// error only for local storage failures.
func (e *Engine) processItem(ctx context.Context, item *queue.Item) (bool, error) {
	if item.Action == queue.ActionDelete {
		return e.processDelete(ctx, item)
	}
	return e.processUpsert(ctx, item)
}

// processUpsert sends one upsert item. Every write it performs is conditional
// on item.Version, the record version the payload snapshot was taken at: a
// save landing anywhere in this function coalesces the queue item to a newer
// version under its own transaction, so the conditional writes miss, the
// record stays local, and the newer snapshot is sent on the next pass.
func (e *Engine) processUpsert(ctx context.Context, item *queue.Item) (bool, error) {
	rec, err := e.store.GetRecordContext(ctx, item.Collection, item.ID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		// The record vanished locally without a tombstone. Nothing to
		// send; drop the orphaned item unless it was just coalesced.
		e.config.Logger.Printf("Dropping orphaned queue item for %s/%s", item.Collection, item.ID)
		if err := e.queue.RemoveIfVersion(ctx, item.ID, item.Version); err != nil {
			return false, err
		}
		e.retries.Forget(item.ID)
		return true, nil
	}

	if rec.Meta.Version != item.Version {
		// A save landed after the peek. Re-read the item so we send the
		// coalesced snapshot instead of burning a round trip on a stale one.
		cur, err := e.queue.Get(ctx, item.ID)
		if err != nil {
			return false, err
		}
		if cur != nil {
			item = cur
		}
	}
	sentVersion := item.Version

	syncing := e.tracker.MarkSyncing(rec.Meta)
	if _, err := e.store.UpdateMetadataIfVersionContext(ctx, item.Collection, item.ID, sentVersion, syncing); err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	cloudID, remoteErr := e.remote.Upsert(callCtx, item.Collection, item.ID, item.Payload)
	cancel()

	if remoteErr != nil {
		return e.handleFailure(ctx, item, sentVersion, rec.Meta, remoteErr)
	}

	synced := e.tracker.MarkSynced(rec.Meta, cloudID)
	ok, err := e.store.UpdateMetadataIfVersionContext(ctx, item.Collection, item.ID, sentVersion, synced)
	if err != nil {
		return false, err
	}
	if !ok {
		// The record was edited mid-flight; the coalesced item already
		// carries the newer snapshot. Leave it queued and send again.
		e.config.Logger.Printf("Record %s/%s changed during sync, re-sending", item.Collection, item.ID)
		return true, nil
	}

	if err := e.queue.RemoveIfVersion(ctx, item.ID, sentVersion); err != nil {
		return false, err
	}
	e.retries.Forget(item.ID)
	return true, nil
}

func (e *Engine) processDelete(ctx context.Context, item *queue.Item) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	remoteErr := e.remote.Delete(callCtx, item.Collection, item.ID)
	cancel()

	if remoteErr != nil {
		return e.handleFailure(ctx, item, 0, record.Metadata{}, remoteErr)
	}

	if err := e.queue.Remove(ctx, item.ID); err != nil {
		return false, err
	}
	e.retries.Forget(item.ID)
	return true, nil
}

// handleFailure applies the failure policy: terminal failures (including an
// exceeded retry bound) flag the record as conflict and drop the item;
// recoverable failures keep the item and abort the cycle.
func (e *Engine) handleFailure(ctx context.Context, item *queue.Item, sentVersion int64, meta record.Metadata, remoteErr error) (bool, error) {
	if IsTerminal(remoteErr) {
		return e.failTerminal(ctx, item, remoteErr.Error())
	}

	attempts := e.retries.Bump(item.ID)
	if attempts >= e.config.MaxAttempts {
		reason := fmt.Sprintf("retry bound exceeded after %d attempts: %v", attempts, remoteErr)
		return e.failTerminal(ctx, item, reason)
	}

	// Put the status back to local while the item waits for its next
	// attempt; a version guard keeps a mid-flight edit's metadata intact.
	if item.Action != queue.ActionDelete {
		local := e.tracker.MarkLocal(meta)
		if _, err := e.store.UpdateMetadataIfVersionContext(ctx, item.Collection, item.ID, sentVersion, local); err != nil {
			return false, err
		}
	}

	e.config.Logger.Printf("Recoverable failure for %s/%s (attempt %d/%d), aborting drain cycle: %v",
		item.Collection, item.ID, attempts, e.config.MaxAttempts, remoteErr)
	return false, nil
}

// failTerminal flags the record as conflict (when it still exists), removes
// the item, and notifies conflict subscribers. The conflict is inspectable;
// nothing is silently dropped.
func (e *Engine) failTerminal(ctx context.Context, item *queue.Item, reason string) (bool, error) {
	rec, err := e.store.GetRecordContext(ctx, item.Collection, item.ID)
	if err != nil {
		return false, err
	}
	if rec != nil {
		if err := e.store.UpdateMetadataContext(ctx, item.Collection, item.ID, e.tracker.MarkConflict(rec.Meta)); err != nil {
			return false, err
		}
	}

	if err := e.queue.Remove(ctx, item.ID); err != nil {
		return false, err
	}
	e.retries.Forget(item.ID)

	e.config.Logger.Printf("Terminal failure for %s/%s: %s", item.Collection, item.ID, reason)

	event := ConflictEvent{
		ID:         item.ID,
		Collection: item.Collection,
		Action:     item.Action,
		Reason:     reason,
		At:         time.Now().UTC(),
	}
	e.mu.Lock()
	subs := make([]func(ConflictEvent), len(e.onConflict))
	copy(subs, e.onConflict)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}

	return true, nil
}
