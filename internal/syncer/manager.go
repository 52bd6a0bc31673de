package syncer

import (
	"context"
	"sync"
)

// Manager keeps one coordinator per authenticated user for the API
// server, constructing and signing in on first use.
type Manager struct {
	mu      sync.Mutex
	coords  map[string]*Coordinator
	factory func() (*Coordinator, error)
}

// NewManager builds a manager around a coordinator factory.
func NewManager(factory func() (*Coordinator, error)) *Manager {
	return &Manager{
		coords:  make(map[string]*Coordinator),
		factory: factory,
	}
}

// ForUser returns the user's coordinator, creating and signing it in on
// first use. A coordinator stuck offline is retried on access.
func (m *Manager) ForUser(ctx context.Context, userID string) (*Coordinator, error) {
	m.mu.Lock()
	c, ok := m.coords[userID]
	m.mu.Unlock()
	if ok {
		if c.State() == StateOffline {
			if err := c.Retry(ctx); err != nil {
				return nil, err
			}
		}
		return c, nil
	}

	c, err := m.factory()
	if err != nil {
		return nil, err
	}
	if err := c.SignIn(ctx, userID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if existing, ok := m.coords[userID]; ok {
		m.mu.Unlock()
		c.SignOut()
		return existing, nil
	}
	m.coords[userID] = c
	m.mu.Unlock()
	return c, nil
}

// Each calls fn for every active coordinator. The registry is copied
// first so fn may call back into the manager.
func (m *Manager) Each(fn func(userID string, c *Coordinator)) {
	m.mu.Lock()
	active := make(map[string]*Coordinator, len(m.coords))
	for id, c := range m.coords {
		active[id] = c
	}
	m.mu.Unlock()
	for id, c := range active {
		fn(id, c)
	}
}

// Drop signs out and forgets a user's coordinator.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	c, ok := m.coords[userID]
	delete(m.coords, userID)
	m.mu.Unlock()
	if ok {
		c.SignOut()
	}
}
