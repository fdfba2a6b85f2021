// Package orchestrator drives synchronization between the local store and
// the remote document.
//
// Local writes schedule a debounced attempt. An attempt downloads the
// remote snapshot, merges it with the local one, writes the result back
// locally without notifying, uploads it, and then fires the change bus
// once. Attempts never overlap: a trigger that fires while one is in
// flight waits for it to finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/casamocholi/organizer/internal/merge"
	"github.com/casamocholi/organizer/internal/notify"
	"github.com/casamocholi/organizer/internal/remote"
	"github.com/casamocholi/organizer/internal/schema"
	"github.com/casamocholi/organizer/internal/store"
)

var (
	// ErrDisconnected is returned when no credentials are configured.
	ErrDisconnected = errors.New("sync is not configured")

	// ErrUploadFailed wraps the message of a rejected Replace.
	ErrUploadFailed = errors.New("failed to upload snapshot")

	// ErrLocked is returned when another process holds the sync lock.
	ErrLocked = errors.New("another sync is running")
)

// LocalStore is the part of the local store the orchestrator uses.
type LocalStore interface {
	Snapshot(ctx context.Context) (schema.Snapshot, error)
	Restore(ctx context.Context, snap schema.Snapshot, opts ...store.WriteOption) error
	Credentials(ctx context.Context) (store.Credentials, error)
	SaveCredentials(ctx context.Context, c store.Credentials) error
}

// Locker guards attempts across processes. *flock.Flock satisfies it.
type Locker interface {
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)
	Unlock() error
}

// Metrics records attempt outcomes.
type Metrics interface {
	ObserveSync(outcome Status, duration time.Duration)
}

// Config holds configuration for the orchestrator.
type Config struct {
	// Debounce is how long to wait after the last write before syncing.
	Debounce time.Duration

	// Lock, when set, is held for the duration of every attempt.
	Lock Locker

	// LockRetry is how often a held lock is retried.
	LockRetry time.Duration

	// Metrics, when set, observes every attempt.
	Metrics Metrics

	// Logger for orchestrator activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:  3 * time.Second,
		LockRetry: 100 * time.Millisecond,
		Logger:    log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Orchestrator schedules and runs sync attempts.
type Orchestrator struct {
	store    LocalStore
	remote   remote.DocumentStore
	notifier notify.Notifier
	config   *Config

	// runMu serializes attempts.
	runMu sync.Mutex

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup

	statusMu  sync.RWMutex
	status    StatusEvent
	observers map[uint64]func(StatusEvent)
	nextObs   uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an orchestrator with default configuration.
func New(st LocalStore, rc remote.DocumentStore, n notify.Notifier) *Orchestrator {
	return NewWithConfig(st, rc, n, DefaultConfig())
}

// NewWithConfig creates an orchestrator with custom configuration.
func NewWithConfig(st LocalStore, rc remote.DocumentStore, n notify.Notifier, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.LockRetry <= 0 {
		config.LockRetry = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     st,
		remote:    rc,
		notifier:  n,
		config:    config,
		status:    StatusEvent{Status: StatusIdle, At: time.Now()},
		observers: make(map[uint64]func(StatusEvent)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule arms the debounce timer, replacing any pending trigger.
func (o *Orchestrator) Schedule() {
	o.timerMu.Lock()
	if o.closed {
		o.timerMu.Unlock()
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.config.Debounce, o.fire)
	o.timerMu.Unlock()

	if o.Status().Status != StatusInFlight {
		o.report(StatusEvent{Status: StatusDebouncing})
	}
}

// ScheduleAfterWrite adapts Schedule to store.WriteObserver.
func (o *Orchestrator) ScheduleAfterWrite(string) {
	o.Schedule()
}

func (o *Orchestrator) fire() {
	o.timerMu.Lock()
	if o.closed {
		o.timerMu.Unlock()
		return
	}
	o.timer = nil
	o.wg.Add(1)
	o.timerMu.Unlock()
	defer o.wg.Done()

	if err := o.SyncNow(o.ctx); err != nil && !errors.Is(err, ErrDisconnected) {
		o.config.Logger.Printf("Scheduled sync failed: %v", err)
	}
}

// disarm stops the debounce timer. The attempt about to run covers every
// write that armed it.
func (o *Orchestrator) disarm() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// Pending reports whether a debounced trigger is armed.
func (o *Orchestrator) Pending() bool {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	return o.timer != nil
}

// SyncNow runs one attempt immediately, waiting for any attempt already in
// flight. It replaces a pending debounced trigger. It returns
// ErrDisconnected when no credentials are configured.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	o.disarm()
	return o.run(ctx, func(ctx context.Context, creds store.Credentials) error {
		return o.attempt(ctx, creds)
	})
}

// Download overwrites local collections with the remote document's,
// without merging. Collections absent remotely are left alone.
func (o *Orchestrator) Download(ctx context.Context) error {
	return o.run(ctx, func(ctx context.Context, creds store.Credentials) error {
		snap, err := o.remote.Fetch(ctx, creds.Token, creds.DocumentID)
		if err != nil {
			return err
		}
		if err := o.store.Restore(ctx, snap, store.Silent()); err != nil {
			return fmt.Errorf("failed to apply remote snapshot: %w", err)
		}
		o.config.Logger.Printf("Downloaded %d records from %s", snap.Count(), creds.DocumentID)
		return nil
	})
}

// Connect stores token and links the store to a remote document. When no
// document id is configured yet, a new document is created from the local
// snapshot; otherwise the existing document is synced. Returns the
// document id.
func (o *Orchestrator) Connect(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is required")
	}

	creds, err := o.store.Credentials(ctx)
	if err != nil {
		return "", err
	}
	creds.Token = token

	if creds.DocumentID != "" {
		if err := o.store.SaveCredentials(ctx, creds); err != nil {
			return "", err
		}
		return creds.DocumentID, o.SyncNow(ctx)
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.report(StatusEvent{Status: StatusInFlight})
	start := time.Now()

	id, err := o.create(ctx, token)
	if err != nil {
		o.finish(StatusEvent{Status: StatusFailed, Err: err}, start)
		return "", err
	}

	creds.DocumentID = id
	if err := o.store.SaveCredentials(ctx, creds); err != nil {
		o.finish(StatusEvent{Status: StatusFailed, Err: err}, start)
		return "", err
	}

	o.config.Logger.Printf("Connected to new document %s", id)
	o.finish(StatusEvent{Status: StatusSucceeded}, start)
	return id, nil
}

func (o *Orchestrator) create(ctx context.Context, token string) (string, error) {
	snap, err := o.store.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read local snapshot: %w", err)
	}
	return o.remote.Create(ctx, token, snap)
}

// run serializes fn behind other attempts and reports its outcome.
func (o *Orchestrator) run(ctx context.Context, fn func(context.Context, store.Credentials) error) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	start := time.Now()

	creds, err := o.store.Credentials(ctx)
	if err != nil {
		o.finish(StatusEvent{Status: StatusFailed, Err: err}, start)
		return err
	}
	if !creds.Configured() {
		o.finish(StatusEvent{Status: StatusDisconnected}, start)
		return ErrDisconnected
	}

	if lock := o.config.Lock; lock != nil {
		locked, err := lock.TryLockContext(ctx, o.config.LockRetry)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrLocked, err)
			o.finish(StatusEvent{Status: StatusFailed, Err: err}, start)
			return err
		}
		if !locked {
			o.finish(StatusEvent{Status: StatusFailed, Err: ErrLocked}, start)
			return ErrLocked
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				o.config.Logger.Printf("Warning: failed to release sync lock: %v", err)
			}
		}()
	}

	o.report(StatusEvent{Status: StatusInFlight})

	if err := fn(ctx, creds); err != nil {
		o.finish(StatusEvent{Status: StatusFailed, Err: err}, start)
		return err
	}

	o.finish(StatusEvent{Status: StatusSucceeded}, start)
	return nil
}

// attempt runs one download, merge, apply, upload round trip.
func (o *Orchestrator) attempt(ctx context.Context, creds store.Credentials) error {
	remoteSnap, err := o.remote.Fetch(ctx, creds.Token, creds.DocumentID)
	notFound := errors.Is(err, remote.ErrNotFound)
	if err != nil && !notFound {
		return err
	}

	// Read after the download so writes made during it are merged.
	local, err := o.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read local snapshot: %w", err)
	}
	if notFound {
		o.config.Logger.Printf("Remote document empty, uploading local snapshot")
		return o.upload(ctx, creds, local)
	}

	merged := merge.Merge(local, remoteSnap)
	if err := o.store.Restore(ctx, merged, store.Silent()); err != nil {
		return fmt.Errorf("failed to apply merged snapshot: %w", err)
	}

	return o.upload(ctx, creds, merged)
}

func (o *Orchestrator) upload(ctx context.Context, creds store.Credentials, snap schema.Snapshot) error {
	res := o.remote.Replace(ctx, creds.Token, creds.DocumentID, snap)
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrUploadFailed, res.Error)
	}
	return nil
}

// finish reports the outcome of an attempt. Success fires the change bus
// once and returns the orchestrator to idle, or to debouncing when a write
// armed the timer during the attempt.
func (o *Orchestrator) finish(ev StatusEvent, start time.Time) {
	if o.config.Metrics != nil {
		o.config.Metrics.ObserveSync(ev.Status, time.Since(start))
	}

	if ev.Err != nil {
		o.config.Logger.Printf("Sync %s: %v", ev.Status, ev.Err)
	}
	o.report(ev)

	if ev.Status != StatusSucceeded {
		return
	}
	if o.notifier != nil {
		o.notifier.Notify()
	}
	if o.Pending() {
		o.report(StatusEvent{Status: StatusDebouncing})
		return
	}
	o.report(StatusEvent{Status: StatusIdle})
}

// Close cancels any pending trigger and waits for an attempt started by
// the timer to finish.
func (o *Orchestrator) Close() error {
	o.timerMu.Lock()
	if o.closed {
		o.timerMu.Unlock()
		return nil
	}
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerMu.Unlock()

	o.wg.Wait()
	o.cancel()
	return nil
}
