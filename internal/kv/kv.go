// Package kv provides the key-value substrate the prompt library persists to.
package kv

import "sync"

// Store is a synchronous string key-value store
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Close() error
}

// Memory is an in-process Store, used by tests and ephemeral sessions
type Memory struct {
	mu      sync.RWMutex
	data    map[string]string
	failGet error
	failSet error
	writes  int
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get returns the value for key
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failGet != nil {
		return "", false, m.failGet
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	m.writes++
	return nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

// FailReads makes subsequent Get calls return err (nil clears it)
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	m.failGet = err
	m.mu.Unlock()
}

// FailWrites makes subsequent Set calls return err (nil clears it)
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.failSet = err
	m.mu.Unlock()
}

// Writes returns the number of successful Set calls
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
