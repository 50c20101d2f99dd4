package session

import (
	"context"
	"sync"
	"time"
)

// Manager tracks the stores served by this process. Each store is owned
// by exactly one entry and closed when it expires or is removed.
type Manager struct {
	mu                sync.RWMutex
	stores            map[string]*Store
	base              Options
	inactivityTimeout time.Duration
	onExpire          func(*Store)
}

func NewManager(inactivityTimeout time.Duration, base Options) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		stores:            make(map[string]*Store),
		base:              base,
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) SetExpireHook(hook func(*Store)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new inactive store built from the base options.
func (m *Manager) Create() *Store {
	opts := m.base
	opts.ID = ""
	s := NewStore(opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[s.ID()] = s
	return s
}

func (m *Manager) Get(sessionID string) (*Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove stops the store and forgets it.
func (m *Manager) Remove(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.stores[sessionID]
	delete(m.stores, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	err := s.Stop(ctx)
	_ = s.Close()
	return err
}

// List returns snapshots of every tracked store.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	stores := make([]*Store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(stores))
	for _, s := range stores {
		out = append(out, s.Snapshot())
	}
	return out
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	stores := make([]*Store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.RUnlock()

	count := 0
	for _, s := range stores {
		if s.State() != StateInactive {
			count++
		}
	}
	return count
}

// CloseAll stops every store. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]*Store)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range stores {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			_ = s.Stop(ctx)
			_ = s.Close()
		}(s)
	}
	wg.Wait()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Store

	m.mu.Lock()
	for id, s := range m.stores {
		if now.Sub(s.LastActivity()) < m.inactivityTimeout {
			continue
		}
		delete(m.stores, id)
		expired = append(expired, s)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		wasLive := s.State() != StateInactive
		_ = s.Close()
		if hook != nil && wasLive {
			hook(s)
		}
	}
}
