package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/gofrs/flock"

	"github.com/casamocholi/organizer/internal/config"
	"github.com/casamocholi/organizer/internal/logging"
	"github.com/casamocholi/organizer/internal/metrics"
	"github.com/casamocholi/organizer/internal/notify"
	"github.com/casamocholi/organizer/internal/orchestrator"
	"github.com/casamocholi/organizer/internal/remote"
	"github.com/casamocholi/organizer/internal/store"
)

// app is the wired organizer: one store, one bus, one orchestrator.
type app struct {
	cfg     *config.Config
	logs    *logging.Factory
	bus     *notify.Bus
	store   *store.Store
	metrics *metrics.Collector
	remote  *remote.Client
	sync    *orchestrator.Orchestrator
}

// openApp loads configuration and wires every component. Local writes
// notify the bus, count toward metrics and schedule a debounced sync.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, err := logging.New(logging.Options{
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Quiet:     !verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logs:    logs,
		bus:     notify.NewBus(logs.Logger("notify")),
		metrics: metrics.NewCollector("organizer"),
	}

	a.store, err = store.Open(cfg.DatabasePath(),
		store.WithLogger(logs.Logger("store")),
		store.WithNotifier(a.bus),
		store.WithWriteObserver(a.metrics.ObserveWrite),
	)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.bus.Subscribe(a.metrics.ObserveNotify)

	rc := remote.DefaultConfig()
	rc.BaseURL = cfg.Remote.BaseURL
	rc.Timeout = cfg.Remote.Timeout
	rc.Logger = logs.Logger("remote")
	a.remote, err = remote.NewWithConfig(rc)
	if err != nil {
		a.Close()
		return nil, err
	}

	oc := orchestrator.DefaultConfig()
	oc.Debounce = cfg.Sync.Debounce
	oc.Lock = flock.New(cfg.LockPath())
	oc.Metrics = a.metrics
	oc.Logger = logs.Logger("sync")
	a.sync = orchestrator.NewWithConfig(a.store, a.remote, a.bus, oc)
	a.store.AddWriteObserver(a.sync.ScheduleAfterWrite)

	return a, nil
}

// exit is os.Exit, swapped out by tests.
var exit = os.Exit

// Close flushes pending work and releases the store. It is safe to call
// more than once.
func (a *app) Close() {
	if a.sync != nil {
		_ = a.sync.Close()
		a.sync = nil
	}
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

// fatalf prints an error, closes the app and exits with status 1. Deferred
// calls do not run after an exit, so the store is closed here.
func (a *app) fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	a.Close()
	exit(1)
}

// flush runs a sync scheduled by a local write without waiting out the
// debounce. Being disconnected is not an error here.
func (a *app) flush(ctx context.Context) error {
	if !a.sync.Pending() {
		return nil
	}
	err := a.sync.SyncNow(ctx)
	if errors.Is(err, orchestrator.ErrDisconnected) {
		return nil
	}
	return err
}

// documentURL returns the browser URL of a remote document id.
func documentURL(id string) string {
	return "https://gist.github.com/" + url.PathEscape(id)
}
