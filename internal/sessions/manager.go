// Package sessions tracks per-session cart and submission service instances.
// Each browser session gets its own cart store; the durable layer underneath
// is what carries state across sessions and processes.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/services"
)

const (
	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

var errFactoryRequired = errors.New("sessions: factory is required")

// Factory builds the cart and submission services for a new session scoped to
// the given owner.
type Factory func(owner domain.OwnerKey) (services.CartService, services.SubmissionService, error)

// Entry bundles the services of one live session.
type Entry struct {
	Cart       services.CartService
	Submission services.SubmissionService
}

type sessionEntry struct {
	Entry
	userID   string
	lastSeen time.Time
}

// ManagerDeps wires the service factory and lifecycle knobs.
type ManagerDeps struct {
	Factory Factory
	// TTL is the idle lifetime of a session entry; defaults to 30 minutes.
	TTL time.Duration
	// SweepInterval controls how often expired entries are reaped.
	SweepInterval time.Duration
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

// Manager owns the session id to service-instance mapping and reaps idle
// entries.
type Manager struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)

	mu      sync.Mutex
	entries map[string]*sessionEntry
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager constructs a Manager and starts the idle sweeper.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Factory == nil {
		return nil, errFactoryRequired
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	interval := deps.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	m := &Manager{
		factory: deps.Factory,
		ttl:     ttl,
		now:     clock,
		logger:  logger,
		entries: make(map[string]*sessionEntry),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop(interval)
	return m, nil
}

// Acquire returns the session's services, creating them on first sight. When
// the caller's identity differs from the one the session was last seen with,
// the cart transitions owner, which runs the guest merge on first login.
func (m *Manager) Acquire(ctx context.Context, sessionID, userID string) (Entry, error) {
	if sessionID == "" {
		return Entry{}, errors.New("sessions: session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, errors.New("sessions: manager is closed")
	}

	entry, ok := m.entries[sessionID]
	if !ok {
		owner := domain.GuestOwner()
		if userID != "" {
			owner = domain.UserOwner(userID)
		}
		cart, submission, err := m.factory(owner)
		if err != nil {
			return Entry{}, fmt.Errorf("sessions: build services: %w", err)
		}
		entry = &sessionEntry{
			Entry:    Entry{Cart: cart, Submission: submission},
			userID:   userID,
			lastSeen: m.now(),
		}
		m.entries[sessionID] = entry
		m.logger(ctx, "session.created", map[string]any{
			"sessionId": sessionID,
			"owner":     string(owner),
		})
	}

	if entry.userID != userID {
		if err := entry.Cart.TransitionIdentity(ctx, userID); err != nil {
			return Entry{}, fmt.Errorf("sessions: identity transition: %w", err)
		}
		entry.userID = userID
	}
	entry.lastSeen = m.now()
	return entry.Entry, nil
}

// Len reports the number of live session entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the sweeper and closes every session's cart.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := m.entries
	m.entries = make(map[string]*sessionEntry)
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()

	var errs []error
	for _, entry := range entries {
		if err := entry.Cart.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*sessionEntry
	for id, entry := range m.entries {
		if entry.lastSeen.Before(cutoff) {
			expired = append(expired, entry)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		if err := entry.Cart.Close(); err != nil {
			m.logger(context.Background(), "session.close.failed", map[string]any{"error": err.Error()})
		}
	}
	if len(expired) > 0 {
		m.logger(context.Background(), "session.swept", map[string]any{"count": len(expired)})
	}
}
