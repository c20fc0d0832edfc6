// Package connectivity observes network reachability for the sync engine.
//
// The Monitor polls a Prober and tracks online/offline state. On an
// offline-to-online transition it emits exactly one drain request on a
// capacity-one channel, preserving the engine's one-drain-at-a-time invariant
// without re-entrant callbacks. Subscribers may additionally register
// callbacks for UI-style state display; those callbacks never drive the
// engine.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Prober answers whether the remote backend is currently reachable.
type Prober interface {
	// Probe returns true if the backend responded within the context
	// deadline. Any response, including an error status, counts as
	// reachable; only transport failures count as offline.
	Probe(ctx context.Context) bool
}

// HTTPProber probes reachability with a GET against a health endpoint.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber creates a prober against the given URL.
// If client is nil, a client with a 5 second timeout is used.
func NewHTTPProber(client *http.Client, url string) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProber{client: client, url: url}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Config holds monitor configuration.
type Config struct {
	// PollInterval is how often to probe (default: 15s).
	PollInterval time.Duration

	// ProbeTimeout bounds each individual probe (default: 5s).
	ProbeTimeout time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 15 * time.Second,
		ProbeTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[monitor] ", log.LstdFlags),
	}
}

// Monitor tracks reachability transitions.
type Monitor struct {
	prober Prober
	config *Config

	mu      sync.Mutex
	online  bool
	subs    map[int]func(online bool)
	nextSub int
	running bool

	drains chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Monitor. The monitor starts offline; the first successful
// probe flips it online and triggers a drain request.
func New(prober Prober, config *Config) (*Monitor, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}

	return &Monitor{
		prober: prober,
		config: config,
		subs:   make(map[int]func(bool)),
		drains: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start begins polling. It probes once immediately so the initial state is
// known, then continues on the poll interval until Stop is called.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop()
	return nil
}

// Stop halts polling and waits for the poll goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// IsOnline reports the last observed reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Drains is the single-consumer channel carrying drain requests: one per
// offline-to-online transition, never more than one buffered.
func (m *Monitor) Drains() <-chan struct{} {
	return m.drains
}

// Subscribe registers a callback invoked on every state transition.
// The returned function unsubscribes it.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// SetOnline forces the reachability state, applying the same transition
// handling as a probe result. Used when a mid-flight network failure proves
// the backend unreachable before the next poll.
func (m *Monitor) SetOnline(online bool) {
	m.applyState(online)
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	m.probeOnce()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

func (m *Monitor) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
	defer cancel()
	m.applyState(m.prober.Probe(ctx))
}

// applyState records the new state and, on an offline-to-online transition,
// emits exactly one drain request.
func (m *Monitor) applyState(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online

	var subs []func(bool)
	if online != wasOnline {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if online == wasOnline {
		return
	}

	m.config.Logger.Printf("Connectivity changed: online=%v", online)

	if online {
		select {
		case m.drains <- struct{}{}:
		default:
			// A drain request is already pending.
		}
	}

	for _, fn := range subs {
		fn(online)
	}
}
