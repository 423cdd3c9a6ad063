// Package presence mirrors which users have a live connection joined to a
// channel room. It is a read model only; the hub stays authoritative.
package presence

import (
	"context"
	"slices"
	"sync"
)

type Store interface {
	Add(ctx context.Context, channelID, userID string) error
	Remove(ctx context.Context, channelID, userID string) error
	Members(ctx context.Context, channelID string) ([]string, error)
	Close() error
}

func key(channelID string) string {
	return "channel:" + channelID + ":users"
}

// Memory keeps the mirror in process, for single-node runs and tests.
type Memory struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{sets: make(map[string]map[string]struct{})}
}

func (m *Memory) Add(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(channelID)
	if m.sets[k] == nil {
		m.sets[k] = make(map[string]struct{})
	}
	m.sets[k][userID] = struct{}{}
	return nil
}

func (m *Memory) Remove(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(channelID)
	delete(m.sets[k], userID)
	if len(m.sets[k]) == 0 {
		delete(m.sets, k)
	}
	return nil
}

func (m *Memory) Members(_ context.Context, channelID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[key(channelID)]))
	for u := range m.sets[key(channelID)] {
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
