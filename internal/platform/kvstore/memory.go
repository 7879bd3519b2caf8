package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is the single-process backend: a mutex-guarded map with
// synchronous watcher fan-out. It is also the store used throughout tests.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[int]ChangeHandler
	nextID   int
	closed   bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		watchers: make(map[int]ChangeHandler),
	}
}

// Get returns the stored value for key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	value, ok := s.values[key]
	return value, ok, nil
}

// Set writes the value and notifies watchers.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.values[key] = value
	handlers := s.snapshotWatchers()
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(key, value, true)
	}
	return nil
}

// Delete removes the key and notifies watchers.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, existed := s.values[key]
	delete(s.values, key)
	handlers := s.snapshotWatchers()
	s.mu.Unlock()

	if existed {
		for _, fn := range handlers {
			fn(key, "", false)
		}
	}
	return nil
}

// Watch registers a change handler until the returned cancel runs.
func (s *MemoryStore) Watch(_ context.Context, fn ChangeHandler) (func(), error) {
	if fn == nil {
		return func() {}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

// Close drops all watchers and marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.watchers = make(map[int]ChangeHandler)
	return nil
}

func (s *MemoryStore) snapshotWatchers() []ChangeHandler {
	handlers := make([]ChangeHandler, 0, len(s.watchers))
	for _, fn := range s.watchers {
		handlers = append(handlers, fn)
	}
	return handlers
}
