package store

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Store. Its contents are lost on Close.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]map[string][]byte // subject → key → blob
	settings  *Settings
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{templates: make(map[string]map[string][]byte)}
}

func (m *Memory) PutTemplate(_ context.Context, subject, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subject = Subject(subject)
	byKey, ok := m.templates[subject]
	if !ok {
		byKey = make(map[string][]byte)
		m.templates[subject] = byKey
	}
	byKey[key] = slices.Clone(data)
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, subject, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.templates[Subject(subject)][key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *Memory) DeleteTemplates(_ context.Context, subject string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subject = Subject(subject)
	byKey := m.templates[subject]
	for _, k := range keys {
		delete(byKey, k)
	}
	if len(byKey) == 0 {
		delete(m.templates, subject)
	}
	return nil
}

func (m *Memory) ListTemplates(_ context.Context, subject string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byKey := m.templates[Subject(subject)]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) GetSettings(context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *Memory) PutSettings(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.templates)
	m.settings = nil
	return nil
}
