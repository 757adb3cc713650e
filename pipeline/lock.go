package pipeline

import (
	"sync"
	"time"
)

// DefaultLockTTL is the age past which a held lock is considered
// abandoned and reclaimable by the next acquisition.
const DefaultLockTTL = 1 * time.Hour

// cleanupEvery is how many acquisitions pass between opportunistic
// cleanup sweeps. A maintenance heuristic, not a correctness
// requirement: stale entries are also reclaimed lazily on acquire.
const cleanupEvery = 100

// LockRegistry guarantees at-most-one concurrent run per task identity.
// Deliveries for a task already in flight fail acquisition; entries older
// than the TTL are treated as abandoned (a crashed or wedged run) and
// reclaimed. All map access is serialized through the registry's own
// mutex since acquire, release, and cleanup race freely across task
// pipelines.
//
// The registry never fails: Acquire only reports true or false, and
// Release is idempotent so the unconditional release on every run exit
// is always safe.
type LockRegistry struct {
	mu           sync.Mutex
	held         map[string]time.Time // task id -> acquired at
	ttl          time.Duration
	acquisitions int

	// now is injectable so TTL behavior is testable without real delays.
	now func() time.Time
}

// NewLockRegistry creates a registry with the given TTL. A zero or
// negative TTL falls back to DefaultLockTTL.
func NewLockRegistry(ttl time.Duration) *LockRegistry {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockRegistry{
		held: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Acquire attempts to take the lock for a task identity. Returns true
// when no entry exists or the existing entry is stale (older than the
// TTL, evicted and re-taken). Returns false when a fresh entry exists:
// the task is already processing, which is a legitimate outcome for a
// duplicate delivery, not an error.
func (r *LockRegistry) Acquire(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	r.acquisitions++
	if r.acquisitions%cleanupEvery == 0 {
		r.cleanupLocked(now)
	}

	if acquiredAt, exists := r.held[taskID]; exists {
		if now.Sub(acquiredAt) <= r.ttl {
			return false
		}
		// Stale entry: the previous holder is considered abandoned.
		delete(r.held, taskID)
	}

	r.held[taskID] = now
	return true
}

// Release drops the lock for a task identity. Idempotent: releasing an
// identity that is not held is a no-op, so callers can release
// unconditionally on every exit path.
func (r *LockRegistry) Release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, taskID)
}

// Held reports whether a fresh lock currently exists for the identity.
func (r *LockRegistry) Held(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	acquiredAt, exists := r.held[taskID]
	return exists && r.now().Sub(acquiredAt) <= r.ttl
}

// Len returns the number of entries currently in the registry,
// including any not-yet-reclaimed stale ones.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Cleanup removes every entry older than the TTL relative to now and
// returns how many were removed.
func (r *LockRegistry) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupLocked(now)
}

func (r *LockRegistry) cleanupLocked(now time.Time) int {
	removed := 0
	for id, acquiredAt := range r.held {
		if now.Sub(acquiredAt) > r.ttl {
			delete(r.held, id)
			removed++
		}
	}
	return removed
}
