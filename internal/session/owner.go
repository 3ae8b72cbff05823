package session

import "time"

// Acquire claims the conversation for module. It succeeds when nobody owns
// it or module already does, and refreshes the claim's ttl in that case.
// The claim is advisory: it only affects modules that check it.
func (m *Manager) Acquire(key Key, module string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.ownerLocked(key); ok && owner != module {
		return false
	}
	m.setLocked(key, ActiveModuleKey, module, ttl)
	return true
}

// Release drops module's claim. It returns false when module does not hold it.
func (m *Manager) Release(key Key, module string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.ownerLocked(key)
	if !ok || owner != module {
		return false
	}
	s := m.sessions[key]
	delete(s.values, ActiveModuleKey)
	m.dropIfEmptyLocked(key, s)
	return true
}

// Owner returns the module currently holding the conversation.
func (m *Manager) Owner(key Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownerLocked(key)
}

func (m *Manager) ownerLocked(key Key) (string, bool) {
	v, ok := m.getLocked(key, ActiveModuleKey, false)
	if !ok {
		return "", false
	}
	owner, ok := v.(string)
	if !ok || owner == "" {
		return "", false
	}
	return owner, true
}

// HasOtherModuleSession reports whether a module other than module holds
// the conversation. A module uses it to defer free-text input to whoever
// started the interaction.
func (m *Manager) HasOtherModuleSession(key Key, module string) bool {
	owner, ok := m.Owner(key)
	return ok && owner != module
}

// ReleaseModule drops every claim held by module, across all conversations.
// Used when a module is unloaded.
func (m *Manager) ReleaseModule(module string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, s := range m.sessions {
		e, ok := s.values[ActiveModuleKey]
		if !ok || e.value != module {
			continue
		}
		delete(s.values, ActiveModuleKey)
		m.dropIfEmptyLocked(key, s)
		n++
	}
	return n
}
