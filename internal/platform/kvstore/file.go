package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const fileExt = ".json"

// FileStore persists each key as one JSON file inside a directory and uses a
// filesystem watcher to surface writes made by other processes on the same
// host. Writes go through a temp file rename so watchers never observe a
// partial payload.
type FileStore struct {
	dir string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watchers map[int]ChangeHandler
	nextID   int
	closed   bool
	done     chan struct{}
}

// NewFileStore creates the directory when needed and starts the change
// watcher loop.
func NewFileStore(dir string) (*FileStore, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("kvstore: file store directory is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("kvstore: filesystem watcher: %w", err)
	}
	if err := watcher.Add(trimmed); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("kvstore: watch directory: %w", err)
	}

	store := &FileStore{
		dir:      trimmed,
		watcher:  watcher,
		watchers: make(map[int]ChangeHandler),
		done:     make(chan struct{}),
	}
	go store.loop()
	return store, nil
}

// Get reads the file for key.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kvstore: read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes the value atomically via rename.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".write-*")
	if err != nil {
		return fmt.Errorf("kvstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: rename %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// Watch registers a change handler fed from filesystem events.
func (s *FileStore) Watch(_ context.Context, fn ChangeHandler) (func(), error) {
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

// Close stops the watcher loop.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.watchers = make(map[int]ChangeHandler)
	s.mu.Unlock()
	return s.watcher.Close()
}

func (s *FileStore) loop() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.dispatch(event)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are transient; the durable state on disk
			// remains authoritative on the next read.
		}
	}
}

func (s *FileStore) dispatch(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
		return
	}
	key := decodeKey(strings.TrimSuffix(name, fileExt))

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0:
		data, err := os.ReadFile(event.Name)
		if err != nil {
			if os.IsNotExist(err) {
				s.notify(key, "", false)
			}
			return
		}
		s.notify(key, string(data), true)
	case event.Op&fsnotify.Remove != 0:
		s.notify(key, "", false)
	}
}

func (s *FileStore) notify(key, value string, ok bool) {
	s.mu.Lock()
	handlers := make([]ChangeHandler, 0, len(s.watchers))
	for _, fn := range s.watchers {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(key, value, ok)
	}
}

func (s *FileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+fileExt)
}

// encodeKey keeps file names flat and predictable; cart owner keys are
// already filesystem-safe, anything else gets percent-escaped.
func encodeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "%%%02X", r)
		}
	}
	return b.String()
}

func decodeKey(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			var r rune
			if _, err := fmt.Sscanf(name[i+1:i+3], "%02X", &r); err == nil {
				b.WriteRune(r)
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}
