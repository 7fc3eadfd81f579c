package auth

import (
	"sync"
	"time"
)

type lockoutEntry struct {
	failures  int
	expiresAt time.Time // zero while not locked
}

// LockoutTracker locks an account after repeated failed logins. State is kept
// in memory and lost on restart.
type LockoutTracker struct {
	mu        sync.Mutex
	entries   map[string]*lockoutEntry
	threshold int
	duration  time.Duration
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewLockoutTracker creates a tracker that locks after threshold failures for
// duration. Call Close to stop its cleanup loop.
func NewLockoutTracker(threshold int, duration time.Duration) *LockoutTracker {
	t := &LockoutTracker{
		entries:   make(map[string]*lockoutEntry),
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// RecordFailure records a failed attempt and reports whether the key is now locked.
func (t *LockoutTracker) RecordFailure(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[key]
	if !ok {
		entry = &lockoutEntry{}
		t.entries[key] = entry
	}

	if !entry.expiresAt.IsZero() {
		if now.Before(entry.expiresAt) {
			return true
		}
		// Lock expired, start counting again.
		entry.failures = 0
		entry.expiresAt = time.Time{}
	}

	entry.failures++
	if entry.failures >= t.threshold {
		entry.expiresAt = now.Add(t.duration)
		return true
	}
	return false
}

// IsLocked reports whether key is currently locked.
func (t *LockoutTracker) IsLocked(key string) bool {
	return t.RemainingLockoutTime(key) > 0
}

// RemainingLockoutTime returns how long key stays locked.
func (t *LockoutTracker) RemainingLockoutTime(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok || entry.expiresAt.IsZero() {
		return 0
	}
	if remaining := entry.expiresAt.Sub(t.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// ClearFailures forgets key after a successful login.
func (t *LockoutTracker) ClearFailures(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Close stops the cleanup loop.
func (t *LockoutTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *LockoutTracker) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

func (t *LockoutTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, entry := range t.entries {
		if entry.failures == 0 || (!entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)) {
			delete(t.entries, key)
		}
	}
}
