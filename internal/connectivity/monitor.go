// Package connectivity reports whether the remote store is reachable.
package connectivity

import (
	"sort"
	"sync"

	"github.com/kimhsiao/habitsync/internal/logging"
)

// Signal exposes the current online state and notifies on transitions.
type Signal interface {
	Online() bool
	// Subscribe registers fn to be called with the new state on every
	// transition. The returned func removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Monitor is a Signal whose state is set explicitly.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// Online implements Signal.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state. Subscribers run only when the state changes, in
// subscription order, on the caller's goroutine.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{
		"online": online,
	})

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe implements Signal.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
