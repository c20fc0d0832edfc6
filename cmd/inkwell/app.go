package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/inkwell-app/inkwell/internal/config"
	"github.com/inkwell-app/inkwell/internal/connectivity"
	"github.com/inkwell-app/inkwell/internal/datalayer"
	"github.com/inkwell-app/inkwell/internal/engine"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/record"
	"github.com/inkwell-app/inkwell/internal/remote"
	"github.com/inkwell-app/inkwell/internal/store"
)

// app bundles the wired-up data layer for CLI commands.
type app struct {
	cfg     *config.Config
	store   *store.Store
	queue   *queue.Queue
	client  *remote.Client
	monitor *connectivity.Monitor
	engine  *engine.Engine
	layer   *datalayer.DataLayer
}

// openApp constructs the full stack from configuration. The caller must
// invoke close() when done.
func openApp(logger *log.Logger) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	q := queue.New(st.RawDB())
	tracker := record.NewTracker()

	httpClient := &http.Client{Timeout: cfg.Remote.Timeout}
	client := remote.NewClient(httpClient, cfg.Remote.BaseURL, cfg.Remote.Token)

	monitor, err := connectivity.New(client, &connectivity.Config{
		PollInterval: cfg.Sync.ProbeInterval,
		Logger:       logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	eng, err := engine.New(st, q, client, monitor, tracker, &engine.Config{
		MaxAttempts: cfg.Sync.MaxAttempts,
		CallTimeout: cfg.Remote.Timeout,
		Logger:      logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	layer, err := datalayer.New(st, q, tracker, eng, monitor, logger)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   st,
		queue:   q,
		client:  client,
		monitor: monitor,
		engine:  eng,
		layer:   layer,
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}
	return a, cleanup, nil
}
