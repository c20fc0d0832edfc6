// Package daemon runs the long-lived sync process: it starts the
// connectivity monitor, consumes drain requests with the engine, nudges the
// engine periodically, and optionally watches a drop directory for snapshot
// files to auto-import.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/inkwell-app/inkwell/internal/connectivity"
	"github.com/inkwell-app/inkwell/internal/datalayer"
	"github.com/inkwell-app/inkwell/internal/engine"
	"github.com/inkwell-app/inkwell/internal/snapshot"
)

// Config holds configuration for the daemon.
type Config struct {
	// WatchDir is the snapshot drop directory. Empty disables watching.
	WatchDir string

	// DrainInterval is how often to nudge the engine regardless of
	// connectivity transitions (default: 1m).
	DrainInterval time.Duration

	// DebounceInterval is how long a dropped file must sit still before it
	// is imported; this batches partially-written files (default: 500ms).
	DebounceInterval time.Duration

	// Logger for daemon activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:    time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the monitor, engine, and snapshot watching.
type Daemon struct {
	layer   *datalayer.DataLayer
	eng     *engine.Engine
	monitor *connectivity.Monitor
	config  *Config

	watcher     *fsnotify.Watcher
	dropQueue   map[string]time.Time // filepath -> last event time
	dropQueueMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a Daemon.
func New(layer *datalayer.DataLayer, eng *engine.Engine, monitor *connectivity.Monitor, config *Config) (*Daemon, error) {
	if layer == nil {
		return nil, fmt.Errorf("data layer cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = time.Minute
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	return &Daemon{
		layer:     layer,
		eng:       eng,
		monitor:   monitor,
		config:    config,
		dropQueue: make(map[string]time.Time),
	}, nil
}

// Run starts everything and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start connectivity monitor: %w", err)
	}
	defer d.monitor.Stop()

	if d.config.WatchDir != "" {
		if err := d.startWatcher(ctx); err != nil {
			return err
		}
		defer d.watcher.Close()
	}

	d.wg.Add(2)
	go d.runEngine(ctx)
	go d.drainTicker(ctx)

	<-ctx.Done()
	d.config.Logger.Println("Shutdown signal received")
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

func (d *Daemon) runEngine(ctx context.Context) {
	defer d.wg.Done()
	d.eng.Run(ctx)
}

// drainTicker nudges the engine periodically so items stranded by a
// recoverable failure get another attempt without waiting for a
// connectivity transition.
func (d *Daemon) drainTicker(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.monitor.IsOnline() {
				d.eng.RequestDrain()
			}
		}
	}
}

// startWatcher begins watching the snapshot drop directory.
func (d *Daemon) startWatcher(ctx context.Context) error {
	if err := os.MkdirAll(d.config.WatchDir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	d.watcher = watcher

	if err := d.watcher.Add(d.config.WatchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.config.WatchDir, err)
	}
	d.config.Logger.Printf("Watching for snapshots: %s", d.config.WatchDir)

	d.wg.Add(2)
	go d.watchFileEvents(ctx)
	go d.processDropQueue(ctx)
	return nil
}

// watchFileEvents queues snapshot file events for debounced import.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.dropQueueMu.Lock()
			d.dropQueue[event.Name] = time.Now()
			d.dropQueueMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processDropQueue imports dropped files once they have settled.
func (d *Daemon) processDropQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.importSettled(ctx)
		}
	}
}

// importSettled imports every queued file whose last event is old enough.
func (d *Daemon) importSettled(ctx context.Context) {
	d.dropQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.dropQueue {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.dropQueue, path)
		}
	}
	d.dropQueueMu.Unlock()

	for _, path := range ready {
		if err := d.importFile(ctx, path); err != nil {
			d.config.Logger.Printf("Failed to import %s: %v", path, err)
			continue
		}
		// Imported snapshots are consumed so a restart doesn't replay them.
		if err := os.Remove(path); err != nil {
			d.config.Logger.Printf("Failed to remove imported snapshot %s: %v", path, err)
		}
	}
}

// importFile reads, validates, and applies one dropped snapshot.
func (d *Daemon) importFile(ctx context.Context, path string) error {
	// #nosec G304 - path comes from the configured watch directory
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	doc, err := snapshot.Unmarshal(data)
	if err != nil {
		return err
	}

	if err := d.layer.ImportSnapshot(ctx, doc); err != nil {
		return err
	}

	d.config.Logger.Printf("Imported snapshot %s", filepath.Base(path))
	return nil
}
