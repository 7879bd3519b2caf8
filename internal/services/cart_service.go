package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	domain "github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/repositories"
)

var errCartRepositoryRequired = errors.New("cart service: repository is required")

const defaultTaxRateBps = 1000

// CartServiceDeps wires the persistence and ambient dependencies for one
// session's cart.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	// Owner is the identity scoping the cart at construction time; the
	// zero value means guest.
	Owner domain.OwnerKey
	// TaxRateBps is the flat tax rate in basis points applied to the
	// subtotal; defaults to 1000 (10%).
	TaxRateBps int
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	repo       repositories.CartRepository
	logger     func(context.Context, string, map[string]any)
	taxRateBps int

	mu      sync.Mutex
	owner   domain.OwnerKey
	lines   map[domain.LineKey]domain.CartLine
	pending *pendingWrite
	dirty   bool
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	stopWatch func()
	wg        sync.WaitGroup
}

type pendingWrite struct {
	owner domain.OwnerKey
	lines []domain.CartLine
}

// NewCartService loads the owner's stored cart, starts the asynchronous
// persistence writer and subscribes to external cart changes.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}

	owner := deps.Owner
	if owner == "" {
		owner = domain.GuestOwner()
	}
	taxRate := deps.TaxRateBps
	if taxRate <= 0 {
		taxRate = defaultTaxRateBps
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	service := &cartService{
		repo:       deps.Repository,
		logger:     logger,
		taxRateBps: taxRate,
		owner:      owner,
		lines:      make(map[domain.LineKey]domain.CartLine),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	loaded, err := deps.Repository.Load(context.Background(), owner)
	if err != nil {
		// Unreachable storage degrades durability only; the session
		// starts from an empty cart.
		logger(context.Background(), "cart.load.failed", map[string]any{
			"owner": string(owner),
			"error": err.Error(),
		})
	}
	for _, line := range loaded {
		service.lines[line.Key()] = line
	}

	stop, err := deps.Repository.Watch(context.Background(), service.applyExternalChange)
	if err != nil {
		logger(context.Background(), "cart.watch.failed", map[string]any{"error": err.Error()})
		stop = func() {}
	}
	service.stopWatch = stop

	service.wg.Add(1)
	go service.persistLoop()
	return service, nil
}

func (s *cartService) Owner() domain.OwnerKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// AddOrIncrement adds a line or raises an existing line's quantity. The unit
// price of an existing line is never overwritten by later adds.
func (s *cartService) AddOrIncrement(ctx context.Context, cmd AddLineCommand) {
	if cmd.Quantity <= 0 || cmd.ProductID <= 0 || cmd.UnitPrice < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	key := domain.LineKey{ProductID: cmd.ProductID, Size: cmd.Size}
	if line, ok := s.lines[key]; ok {
		line.Quantity += cmd.Quantity
		line.TotalPrice = domain.LineTotal(line.UnitPrice, line.Quantity)
		s.lines[key] = line
	} else {
		s.lines[key] = domain.CartLine{
			ProductID:   cmd.ProductID,
			ProductCode: cmd.ProductCode,
			ProductName: cmd.ProductName,
			Size:        cmd.Size,
			Quantity:    cmd.Quantity,
			UnitPrice:   cmd.UnitPrice,
			TotalPrice:  domain.LineTotal(cmd.UnitPrice, cmd.Quantity),
		}
	}
	s.schedulePersistLocked()
}

// SetQuantity overwrites the quantity of an existing line; zero or negative
// removes it. Unknown keys are silent no-ops.
func (s *cartService) SetQuantity(ctx context.Context, key domain.LineKey, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	line, ok := s.lines[key]
	if !ok {
		return
	}
	if quantity <= 0 {
		delete(s.lines, key)
	} else {
		line.Quantity = quantity
		line.TotalPrice = domain.LineTotal(line.UnitPrice, quantity)
		s.lines[key] = line
	}
	s.schedulePersistLocked()
}

func (s *cartService) RemoveLine(ctx context.Context, key domain.LineKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.lines[key]; !ok {
		return
	}
	delete(s.lines, key)
	s.schedulePersistLocked()
}

func (s *cartService) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lines = make(map[domain.LineKey]domain.CartLine)
	s.schedulePersistLocked()
}

func (s *cartService) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLinesLocked()
}

func (s *cartService) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

func (s *cartService) TotalItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, line := range s.lines {
		count += line.Quantity
	}
	return count
}

func (s *cartService) TotalPrice() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, line := range s.lines {
		total += domain.LineTotal(line.UnitPrice, line.Quantity)
	}
	return total
}

func (s *cartService) Summary() domain.CartSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Summarize(s.sortedLinesLocked(), s.taxRateBps)
}

func (s *cartService) GroupedByProduct() []domain.ProductGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.GroupByProduct(s.sortedLinesLocked())
}

func (s *cartService) Snapshot() ([]domain.CartLine, domain.CartSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.sortedLinesLocked()
	return lines, domain.Summarize(lines, s.taxRateBps)
}

// TransitionIdentity switches the cart's owner. Guest to user merges the
// guest lines into the user's stored cart and removes the guest entry;
// repeated calls for the current owner are no-ops, so one login fires at most
// one merge. User to guest or user to another user simply loads that owner's
// stored cart.
func (s *cartService) TransitionIdentity(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	if userID == "" {
		if s.owner.IsGuest() {
			s.mu.Unlock()
			return nil
		}
		s.owner = domain.GuestOwner()
		s.reloadLocked(ctx)
		s.mu.Unlock()
		return nil
	}

	target := domain.UserOwner(userID)
	if s.owner == target {
		s.mu.Unlock()
		return nil
	}

	if !s.owner.IsGuest() {
		// User switch without an intermediate logout; nothing to merge.
		s.owner = target
		s.reloadLocked(ctx)
		s.mu.Unlock()
		return nil
	}

	guestLines := s.sortedLinesLocked()

	authLines, err := s.repo.Load(ctx, target)
	if err != nil {
		s.logger(ctx, "cart.load.failed", map[string]any{
			"owner": string(target),
			"error": err.Error(),
		})
		authLines = nil
	}

	merged := MergeLines(guestLines, authLines)
	s.owner = target
	s.lines = make(map[domain.LineKey]domain.CartLine, len(merged))
	for _, line := range merged {
		s.lines[line.Key()] = line
	}
	s.schedulePersistLocked()
	s.mu.Unlock()

	// Backends may fire watch handlers synchronously from Delete; the call
	// must not happen while s.mu is held or applyExternalChange re-enters
	// the locked section.
	if err := s.repo.Delete(ctx, domain.GuestOwner()); err != nil {
		s.logger(ctx, "cart.guest_cleanup.failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// Close flushes the last pending write and stops the watcher.
func (s *cartService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stopWatch
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	close(s.done)
	s.wg.Wait()
	return nil
}

// schedulePersistLocked records the state to mirror and wakes the writer.
// Only the most recent state is kept, so a slow write can never override a
// newer mutation.
func (s *cartService) schedulePersistLocked() {
	s.pending = &pendingWrite{owner: s.owner, lines: s.sortedLinesLocked()}
	s.dirty = true
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *cartService) persistLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case <-s.wake:
			s.flush()
		}
	}
}

func (s *cartService) flush() {
	for {
		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		if pending == nil {
			return
		}

		ctx := context.Background()
		if err := s.repo.Save(ctx, pending.owner, pending.lines); err != nil {
			s.logger(ctx, "cart.persist.failed", map[string]any{
				"owner": string(pending.owner),
				"error": err.Error(),
			})
		}

		s.mu.Lock()
		if s.pending == nil {
			s.dirty = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// applyExternalChange replaces the in-memory cart when another execution
// context rewrote the current owner's stored cart. Changes for other owners
// are ignored, as are changes arriving while this session still has an
// unflushed write of its own.
func (s *cartService) applyExternalChange(owner domain.OwnerKey, lines []domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || owner != s.owner || s.dirty {
		return
	}
	s.lines = make(map[domain.LineKey]domain.CartLine, len(lines))
	for _, line := range lines {
		s.lines[line.Key()] = line
	}
}

func (s *cartService) reloadLocked(ctx context.Context) {
	loaded, err := s.repo.Load(ctx, s.owner)
	if err != nil {
		s.logger(ctx, "cart.load.failed", map[string]any{
			"owner": string(s.owner),
			"error": err.Error(),
		})
		loaded = nil
	}
	s.lines = make(map[domain.LineKey]domain.CartLine, len(loaded))
	for _, line := range loaded {
		s.lines[line.Key()] = line
	}
	s.schedulePersistLocked()
}

func (s *cartService) sortedLinesLocked() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(s.lines))
	for _, line := range s.lines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].Size < lines[j].Size
	})
	return lines
}
