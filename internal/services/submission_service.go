package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orderfield/storefront/internal/domain"
)

var (
	errSubmissionCartRequired      = errors.New("submission service: cart is required")
	errSubmissionValidatorRequired = errors.New("submission service: stock validator is required")
	errSubmissionOrdersRequired    = errors.New("submission service: order placer is required")
)

// ErrSubmissionInFlight indicates a submission is already validating or
// submitting; concurrent submissions of the same cart are rejected.
var ErrSubmissionInFlight = errors.New("submission service: submission in flight")

// ErrSubmissionEmptyCart indicates there is nothing to submit.
var ErrSubmissionEmptyCart = errors.New("submission service: cart is empty")

// ErrSubmissionNoConflicts indicates Resolve was called without pending
// conflicts.
var ErrSubmissionNoConflicts = errors.New("submission service: no conflicts to resolve")

// ErrSubmissionRejected wraps a failure reported by the order collaborator;
// the cart is preserved for retry.
var ErrSubmissionRejected = errors.New("submission service: order rejected")

// SubmissionServiceDeps wires the cart, the validator and the external order
// collaborator.
type SubmissionServiceDeps struct {
	Cart        CartService
	Validator   StockValidator
	Orders      OrderPlacer
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
	Notify      NotifyFunc
}

type submissionService struct {
	cart      CartService
	validator StockValidator
	orders    OrderPlacer
	newID     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	notify    NotifyFunc

	mu        sync.Mutex
	state     SubmissionState
	conflicts []domain.StockConflict
}

// NewSubmissionService constructs a SubmissionService enforcing dependency validation.
func NewSubmissionService(deps SubmissionServiceDeps) (SubmissionService, error) {
	if deps.Cart == nil {
		return nil, errSubmissionCartRequired
	}
	if deps.Validator == nil {
		return nil, errSubmissionValidatorRequired
	}
	if deps.Orders == nil {
		return nil, errSubmissionOrdersRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notify := deps.Notify
	if notify == nil {
		notify = func(context.Context, string, string) {}
	}

	return &submissionService{
		cart:      deps.Cart,
		validator: deps.Validator,
		orders:    deps.Orders,
		newID:     idGen,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		notify:    notify,
		state:     SubmissionIdle,
	}, nil
}

// Submit runs one attempt of the validate, place order, clear cycle against a
// snapshot of the cart taken when the call starts. Mutations made to the cart
// while the attempt is in flight do not leak into the order; they surface in
// the next attempt.
func (s *submissionService) Submit(ctx context.Context) (SubmissionResult, error) {
	s.mu.Lock()
	if s.state == SubmissionValidating || s.state == SubmissionSubmitting {
		s.mu.Unlock()
		return SubmissionResult{State: s.state}, ErrSubmissionInFlight
	}

	lines, summary := s.cart.Snapshot()
	if len(lines) == 0 {
		s.state = SubmissionIdle
		s.conflicts = nil
		s.mu.Unlock()
		return SubmissionResult{State: SubmissionIdle}, ErrSubmissionEmptyCart
	}

	attemptID := s.newID()
	s.state = SubmissionValidating
	s.conflicts = nil
	s.mu.Unlock()

	s.logger(ctx, "submission.validating", map[string]any{
		"attemptId": attemptID,
		"lines":     len(lines),
	})

	validation, err := s.validator.Validate(ctx, lines)
	if err != nil {
		s.setState(SubmissionFailed, nil)
		s.notify(ctx, "error", "Stock could not be verified. Please try again.")
		return SubmissionResult{State: SubmissionFailed, AttemptID: attemptID}, err
	}
	if !validation.Valid {
		s.setState(SubmissionConflicted, validation.Conflicts)
		s.logger(ctx, "submission.conflicted", map[string]any{
			"attemptId": attemptID,
			"conflicts": len(validation.Conflicts),
		})
		return SubmissionResult{
			State:     SubmissionConflicted,
			AttemptID: attemptID,
			Conflicts: validation.Conflicts,
		}, nil
	}

	s.setState(SubmissionSubmitting, nil)
	confirmation, err := s.orders.PlaceOrder(ctx, PlaceOrderCommand{
		IdempotencyKey: attemptID,
		Owner:          s.cart.Owner(),
		Lines:          lines,
		Summary:        summary,
		PlacedAt:       s.now(),
	})
	if err != nil {
		s.setState(SubmissionFailed, nil)
		s.logger(ctx, "submission.failed", map[string]any{
			"attemptId": attemptID,
			"error":     err.Error(),
		})
		s.notify(ctx, "error", "Order could not be submitted. Your cart is unchanged.")
		return SubmissionResult{State: SubmissionFailed, AttemptID: attemptID},
			fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}

	s.cart.Clear(ctx)
	s.setState(SubmissionSucceeded, nil)
	s.logger(ctx, "submission.succeeded", map[string]any{
		"attemptId": attemptID,
		"orderId":   confirmation.OrderID,
	})
	s.notify(ctx, "success", "Order submitted.")
	return SubmissionResult{
		State:        SubmissionSucceeded,
		AttemptID:    attemptID,
		Confirmation: confirmation,
	}, nil
}

// Resolve applies the pending conflicts to the live cart and re-arms the
// machine so the caller can submit again.
func (s *submissionService) Resolve(ctx context.Context, mode ResolveMode) error {
	s.mu.Lock()
	if s.state != SubmissionConflicted {
		s.mu.Unlock()
		return ErrSubmissionNoConflicts
	}
	conflicts := s.conflicts
	s.conflicts = nil
	s.state = SubmissionIdle
	s.mu.Unlock()

	for _, conflict := range conflicts {
		key := domain.LineKey{ProductID: conflict.ProductID, Size: conflict.Size}
		switch mode {
		case ResolveRemove:
			s.cart.RemoveLine(ctx, key)
		default:
			// Clamp to availability; zero availability removes the line.
			s.cart.SetQuantity(ctx, key, conflict.Available)
		}
	}
	s.logger(ctx, "submission.resolved", map[string]any{
		"mode":      string(mode),
		"conflicts": len(conflicts),
	})
	return nil
}

func (s *submissionService) State() SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *submissionService) Conflicts() []domain.StockConflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StockConflict, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

func (s *submissionService) setState(state SubmissionState, conflicts []domain.StockConflict) {
	s.mu.Lock()
	s.state = state
	s.conflicts = conflicts
	s.mu.Unlock()
}
