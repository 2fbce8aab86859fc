// Package locker provides keyed mutual exclusion for conversations.
//
// Each conversation ID maps to at most one holder at a time. TryAcquire
// rejects immediately when the key is held (no queuing), so a client that
// retries a generation request while one is in flight gets a fast, explicit
// "busy" instead of silently enqueuing a stale request. Acquire is the
// blocking variant for callers that prefer to wait.
//
// Entries unused for longer than the idle threshold and not currently held
// are reclaimed by a periodic sweep to bound memory. Reclamation is safe:
// the key is simply recreated on next use.
package locker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusy indicates the key is already held by another caller.
// Recoverable by caller retry; never retried internally.
var ErrBusy = errors.New("lock busy")

// Sweep defaults. Entries idle longer than DefaultIdleTTL and not held
// are removed every DefaultSweepInterval.
const (
	DefaultIdleTTL       = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// entry is the per-key exclusive primitive. The semaphore channel has
// capacity 1: a token in the channel means the key is held.
type entry struct {
	sem      chan struct{}
	lastUsed time.Time
	waiters  int
}

// Config holds Keyring construction parameters. The zero value uses defaults.
type Config struct {
	IdleTTL       time.Duration // entry reclamation threshold (default 10m)
	SweepInterval time.Duration // sweep period (default 5m)
	Logger        *slog.Logger  // nil = slog.Default()
}

// Keyring is a process-local lock table keyed by conversation ID.
//
// Keyring is safe for concurrent use. The internal map is the only shared
// mutable structure; all entry state transitions happen under mu, giving
// atomic get-or-create semantics (no duplicate entries for one key under
// a race).
type Keyring struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry

	idleTTL time.Duration
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Keyring and starts its background sweeper.
// Call Close to stop the sweeper.
func New(cfg Config) *Keyring {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	k := &Keyring{
		entries: make(map[uuid.UUID]*entry),
		idleTTL: cfg.IdleTTL,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}
	go k.sweepLoop(cfg.SweepInterval)
	return k
}

// Handle represents a held lock. Release is idempotent.
type Handle struct {
	keyring *Keyring
	key     uuid.UUID
	e       *entry
	once    sync.Once
}

// Key returns the key this handle holds.
func (h *Handle) Key() uuid.UUID {
	return h.key
}

// Release gives the lock back. Safe to call more than once; only the first
// call has an effect. Releasing touches the entry's last-access time so
// active conversations are never swept mid-use.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.keyring.release(h.e)
	})
}

// TryAcquire attempts to take the lock for key without blocking.
// Returns ErrBusy immediately when the key is held.
func (k *Keyring) TryAcquire(key uuid.UUID) (*Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e := k.getOrCreateLocked(key)
	select {
	case e.sem <- struct{}{}:
		e.lastUsed = time.Now()
		return &Handle{keyring: k, key: key, e: e}, nil
	default:
		return nil, ErrBusy
	}
}

// Acquire takes the lock for key, blocking until it is available or ctx is
// done. The entry is pinned (never swept) while a caller is waiting.
func (k *Keyring) Acquire(ctx context.Context, key uuid.UUID) (*Handle, error) {
	k.mu.Lock()
	e := k.getOrCreateLocked(key)
	e.waiters++
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		e.waiters--
		k.mu.Unlock()
	}()

	select {
	case e.sem <- struct{}{}:
		k.mu.Lock()
		e.lastUsed = time.Now()
		k.mu.Unlock()
		return &Handle{keyring: k, key: key, e: e}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsBusy reports whether the key is currently held.
// A key that was never locked (or has been swept) is not busy.
func (k *Keyring) IsBusy(key uuid.UUID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	return ok && len(e.sem) == 1
}

// Close stops the background sweeper. Held locks are unaffected.
func (k *Keyring) Close() {
	k.closeOnce.Do(func() {
		close(k.done)
	})
}

// release drains the semaphore and refreshes the idle clock.
// Draining with select-default makes unlocking a never-locked entry a no-op.
func (k *Keyring) release(e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	select {
	case <-e.sem:
	default:
	}
	e.lastUsed = time.Now()
}

// getOrCreateLocked returns the entry for key, creating it on first use.
// Caller must hold mu.
func (k *Keyring) getOrCreateLocked(key uuid.UUID) *entry {
	e, ok := k.entries[key]
	if !ok {
		e = &entry{
			sem:      make(chan struct{}, 1),
			lastUsed: time.Now(),
		}
		k.entries[key] = e
	}
	return e
}

// sweepLoop periodically reclaims idle entries until Close.
func (k *Keyring) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.sweep()
		case <-k.done:
			return
		}
	}
}

// sweep removes entries that are idle past the TTL and have no waiters,
// including entries still held. Reclaiming a stale held entry is how a
// holder that crashed without releasing is recovered: after the TTL the key
// is dropped and a fresh TryAcquire succeeds. The trade-off is that a
// stream legitimately running longer than the TTL loses its exclusivity to
// the sweep.
func (k *Keyring) sweep() {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := time.Now().Add(-k.idleTTL)
	removed := 0
	for key, e := range k.entries {
		if e.waiters > 0 {
			continue
		}
		if e.lastUsed.After(cutoff) {
			continue
		}
		delete(k.entries, key)
		removed++
	}
	if removed > 0 {
		k.logger.Debug("swept idle lock entries", "removed", removed, "remaining", len(k.entries))
	}
}

// size returns the number of live entries. Test helper.
func (k *Keyring) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
