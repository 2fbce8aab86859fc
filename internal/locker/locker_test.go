package locker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	k := New(Config{
		// Long interval so the background sweeper never fires during a test;
		// sweep behavior is exercised by calling sweep() directly.
		SweepInterval: time.Hour,
		IdleTTL:       DefaultIdleTTL,
	})
	t.Cleanup(k.Close)
	return k
}

func TestTryAcquire(t *testing.T) {
	t.Run("second caller gets ErrBusy immediately", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		h, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("first TryAcquire: %v", err)
		}

		if _, err := k.TryAcquire(key); !errors.Is(err, ErrBusy) {
			t.Fatalf("second TryAcquire: got %v, want ErrBusy", err)
		}

		h.Release()
		if _, err := k.TryAcquire(key); err != nil {
			t.Fatalf("TryAcquire after release: %v", err)
		}
	})

	t.Run("distinct keys are independent", func(t *testing.T) {
		k := newTestKeyring(t)

		h1, err := k.TryAcquire(uuid.New())
		if err != nil {
			t.Fatalf("TryAcquire key1: %v", err)
		}
		defer h1.Release()

		h2, err := k.TryAcquire(uuid.New())
		if err != nil {
			t.Fatalf("TryAcquire key2: %v", err)
		}
		h2.Release()
	})

	t.Run("mutual exclusion under contention", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		const goroutines = 32
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			holders int
			maxHeld int
			granted int
		)
		for range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := k.TryAcquire(key)
				if err != nil {
					return
				}
				mu.Lock()
				granted++
				holders++
				if holders > maxHeld {
					maxHeld = holders
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				h.Release()
			}()
		}
		wg.Wait()

		if maxHeld > 1 {
			t.Fatalf("observed %d concurrent holders, want at most 1", maxHeld)
		}
		if granted == 0 {
			t.Fatal("no goroutine acquired the lock")
		}
	})
}

func TestAcquire(t *testing.T) {
	t.Run("blocks until the holder releases", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		h, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}

		acquired := make(chan *Handle)
		go func() {
			h2, err := k.Acquire(context.Background(), key)
			if err != nil {
				t.Errorf("Acquire: %v", err)
			}
			acquired <- h2
		}()

		select {
		case <-acquired:
			t.Fatal("Acquire returned while lock was held")
		case <-time.After(20 * time.Millisecond):
		}

		h.Release()

		select {
		case h2 := <-acquired:
			h2.Release()
		case <-time.After(time.Second):
			t.Fatal("Acquire did not return after release")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		h, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		defer h.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		if _, err := k.Acquire(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Acquire: got %v, want DeadlineExceeded", err)
		}
	})
}

func TestRelease(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		h, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		h.Release()
		h.Release() // second release must be a no-op

		// Key must still behave as a fresh single-holder lock.
		h2, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("TryAcquire after double release: %v", err)
		}
		if _, err := k.TryAcquire(key); !errors.Is(err, ErrBusy) {
			t.Fatalf("expected ErrBusy while held, got %v", err)
		}
		h2.Release()
	})
}

func TestIsBusy(t *testing.T) {
	k := newTestKeyring(t)
	key := uuid.New()

	if k.IsBusy(key) {
		t.Fatal("never-locked key reported busy")
	}

	h, err := k.TryAcquire(key)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !k.IsBusy(key) {
		t.Fatal("held key not reported busy")
	}

	h.Release()
	if k.IsBusy(key) {
		t.Fatal("released key reported busy")
	}
}

func TestSweep(t *testing.T) {
	t.Run("reclaims idle entries", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		h, _ := k.TryAcquire(key)
		h.Release()

		k.sweep()
		if k.size() != 1 {
			t.Fatalf("fresh entry swept: size=%d", k.size())
		}

		// Age the entry past the TTL.
		k.mu.Lock()
		k.entries[key].lastUsed = time.Now().Add(-k.idleTTL - time.Minute)
		k.mu.Unlock()

		k.sweep()
		if k.size() != 0 {
			t.Fatalf("idle entry not swept: size=%d", k.size())
		}
	})

	t.Run("recovers a lock whose holder never released", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		// Simulated worker crash: acquired, never released.
		if _, err := k.TryAcquire(key); err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if _, err := k.TryAcquire(key); !errors.Is(err, ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", err)
		}

		k.mu.Lock()
		k.entries[key].lastUsed = time.Now().Add(-k.idleTTL - time.Minute)
		k.mu.Unlock()
		k.sweep()

		h, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("TryAcquire after sweep: %v", err)
		}
		h.Release()
	})

	t.Run("never removes entries with waiters", func(t *testing.T) {
		k := newTestKeyring(t)
		key := uuid.New()

		h, err := k.TryAcquire(key)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}

		waiting := make(chan *Handle)
		go func() {
			h2, err := k.Acquire(context.Background(), key)
			if err != nil {
				t.Errorf("Acquire: %v", err)
			}
			waiting <- h2
		}()

		// Let the waiter register, then age and sweep.
		time.Sleep(20 * time.Millisecond)
		k.mu.Lock()
		k.entries[key].lastUsed = time.Now().Add(-k.idleTTL - time.Minute)
		k.mu.Unlock()
		k.sweep()

		if k.size() != 1 {
			t.Fatalf("entry with waiter swept: size=%d", k.size())
		}

		h.Release()
		h2 := <-waiting
		h2.Release()
	})
}

func TestClose(t *testing.T) {
	k := New(Config{SweepInterval: time.Millisecond})
	k.Close()
	k.Close() // idempotent
}
