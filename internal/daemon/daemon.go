// Package daemon keeps a long-running organizer process in sync.
//
// The daemon:
// 1. Runs an initial sync on start
// 2. Watches the data directory for writes by other processes (the CLI)
// 3. Confirms them against the database's commit counter
// 4. Fires the change bus and schedules a debounced sync for each one
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/casamocholi/organizer/internal/notify"
	"github.com/casamocholi/organizer/internal/orchestrator"
)

// Store is the part of the local store the daemon watches.
type Store interface {
	Path() string
	ExternalChange(ctx context.Context) (bool, error)
}

// Syncer is the part of the orchestrator the daemon drives.
type Syncer interface {
	SyncNow(ctx context.Context) error
	Schedule()
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long file events settle before the database
	// is checked. Rapid writes are batched together.
	DebounceInterval time.Duration

	// PollInterval is how often the database is checked even without file
	// events, for filesystems that do not report them.
	PollInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		PollInterval:     5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches for external changes and keeps the sync going.
type Daemon struct {
	store    Store
	syncer   Syncer
	notifier notify.Notifier
	config   *Config

	watcher   *fsnotify.Watcher
	dbName    string
	pendingAt time.Time
	pendingMu sync.Mutex
	lastPoll  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a new Daemon instance.
//
// Use Start() to begin watching.
func New(st Store, syncer Syncer, n notify.Notifier) (*Daemon, error) {
	return NewWithConfig(st, syncer, n, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(st Store, syncer Syncer, n notify.Notifier, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:    st,
		syncer:   syncer,
		notifier: n,
		config:   config,
		watcher:  watcher,
		dbName:   filepath.Base(st.Path()),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.syncer.SyncNow(ctx); err != nil {
		if errors.Is(err, orchestrator.ErrDisconnected) {
			d.config.Logger.Println("Sync not configured; watching local changes only")
		} else {
			d.config.Logger.Printf("Initial sync failed: %v", err)
		}
	}

	// Baseline so that our own startup writes are not reported.
	if _, err := d.store.ExternalChange(ctx); err != nil {
		return fmt.Errorf("failed to read database version: %w", err)
	}
	d.lastPoll = time.Now()

	dir := filepath.Dir(d.store.Path())
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch data directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", dir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChanges()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.once.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.wg.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// watchFileEvents queues database file writes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// The database file and its -wal/-shm companions.
			if !strings.HasPrefix(filepath.Base(event.Name), d.dbName) {
				continue
			}
			d.queueChange()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pendingAt = time.Now()
}

// processChanges checks the database once file events settle, and on
// every poll interval.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case now := <-ticker.C:
			if d.due(now) {
				d.CheckNow()
			}
		}
	}
}

func (d *Daemon) due(now time.Time) bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	settled := !d.pendingAt.IsZero() && now.Sub(d.pendingAt) >= d.config.DebounceInterval
	poll := d.config.PollInterval > 0 && now.Sub(d.lastPoll) >= d.config.PollInterval
	if settled || poll {
		d.pendingAt = time.Time{}
		d.lastPoll = now
		return true
	}
	return false
}

// CheckNow looks for commits by other processes and, if there are any,
// notifies listeners and schedules a sync. It reports whether a change was
// found.
func (d *Daemon) CheckNow() bool {
	changed, err := d.store.ExternalChange(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error checking for changes: %v", err)
		return false
	}
	if !changed {
		return false
	}

	d.config.Logger.Println("External change detected")
	if d.notifier != nil {
		d.notifier.Notify()
	}
	d.syncer.Schedule()
	return true
}
