// Package session keeps short-lived per-(user, chat) key/value data for
// multi-step interactions, with per-key expiry and a single-owner module
// claim per conversation. Data lives in memory only.
package session

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// ActiveModuleKey is the reserved key holding the module that currently
// owns a conversation.
const ActiveModuleKey = "module_active"

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 5 * time.Minute

// Key identifies a conversation. ChatID 0 means the data is not tied to a chat.
type Key struct {
	UserID int64
	ChatID int64
}

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type session struct {
	values       map[string]entry
	lastActiveAt time.Time
}

// Options configures a Manager.
type Options struct {
	// IdleTimeout drops whole sessions that saw no activity for this long.
	// Zero means DefaultIdleTimeout; negative disables idle pruning.
	IdleTimeout time.Duration
}

// Manager is a concurrency-safe in-memory session store. The `now` function
// is injectable for deterministic testing.
type Manager struct {
	mu          sync.Mutex
	sessions    map[Key]*session
	idleTimeout time.Duration

	now func() time.Time
}

// NewManager creates a ready-to-use session manager.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		sessions:    make(map[Key]*session),
		idleTimeout: opts.IdleTimeout,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Only for tests in other packages.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Set stores value under name. A ttl of zero keeps the value until it is
// deleted or the session goes idle.
func (m *Manager) Set(key Key, name string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, name, value, ttl)
}

func (m *Manager) setLocked(key Key, name string, value any, ttl time.Duration) {
	now := m.now()
	s, ok := m.sessions[key]
	if !ok {
		s = &session{values: make(map[string]entry)}
		m.sessions[key] = s
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.values[name] = e
	s.lastActiveAt = now
}

// Get returns the value stored under name. Expired values are reported as
// absent and removed.
func (m *Manager) Get(key Key, name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key, name, true)
}

func (m *Manager) getLocked(key Key, name string, touch bool) (any, bool) {
	s, ok := m.sessions[key]
	if !ok {
		return nil, false
	}
	now := m.now()
	e, ok := s.values[name]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.values, name)
		m.dropIfEmptyLocked(key, s)
		return nil, false
	}
	if touch {
		s.lastActiveAt = now
	}
	return e.value, true
}

// Has reports whether a live value is stored under name.
func (m *Manager) Has(key Key, name string) bool {
	_, ok := m.Get(key, name)
	return ok
}

// Delete removes name and reports whether a live value was removed.
func (m *Manager) Delete(key Key, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return false
	}
	e, ok := s.values[name]
	if !ok {
		return false
	}
	delete(s.values, name)
	m.dropIfEmptyLocked(key, s)
	return !e.expired(m.now())
}

// Keys returns the live keys of a session, sorted.
func (m *Manager) Keys(key Key) []string {
	return slices.Sorted(maps.Keys(m.All(key)))
}

// All returns a copy of the live values of a session.
func (m *Manager) All(key Key) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any)
	s, ok := m.sessions[key]
	if !ok {
		return out
	}
	now := m.now()
	for name, e := range s.values {
		if e.expired(now) {
			delete(s.values, name)
			continue
		}
		out[name] = e.value
	}
	m.dropIfEmptyLocked(key, s)
	return out
}

// Clear removes the whole session.
func (m *Manager) Clear(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// ClearUser removes every session of userID and returns how many were removed.
func (m *Manager) ClearUser(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.sessions {
		if key.UserID == userID {
			delete(m.sessions, key)
			n++
		}
	}
	return n
}

func (m *Manager) dropIfEmptyLocked(key Key, s *session) {
	if len(s.values) == 0 {
		delete(m.sessions, key)
	}
}

// Prune removes expired values and sessions idle past the idle timeout.
// An idle session survives while it holds a module claim acquired with a
// ttl that has not run out; a claim without ttl does not protect it. It
// returns the number of sessions removed. Intended to be called
// periodically by the scheduler.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := 0
	for key, s := range m.sessions {
		idle := m.idleTimeout > 0 && now.Sub(s.lastActiveAt) > m.idleTimeout
		if idle && !s.claimedUntilAfter(now) {
			delete(m.sessions, key)
			pruned++
			continue
		}
		for name, e := range s.values {
			if e.expired(now) {
				delete(s.values, name)
			}
		}
		if len(s.values) == 0 {
			delete(m.sessions, key)
			pruned++
		}
	}
	return pruned
}

// claimedUntilAfter reports whether the session holds a module claim with a
// deadline later than now.
func (s *session) claimedUntilAfter(now time.Time) bool {
	e, ok := s.values[ActiveModuleKey]
	return ok && !e.expiresAt.IsZero() && now.Before(e.expiresAt)
}

// Len returns the number of sessions currently held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
