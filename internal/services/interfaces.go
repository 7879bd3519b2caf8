// Package services implements the storefront cart core: the mutable cart
// store with durable mirroring, the guest to authenticated merge, stock
// validation, and the order submission state machine.
package services

import (
	"context"
	"time"

	domain "github.com/orderfield/storefront/internal/domain"
)

// AddLineCommand carries the input for adding a line to the cart. UnitPrice
// only applies when the (product, size) line does not exist yet; increments
// keep the price captured at first insertion.
type AddLineCommand struct {
	ProductID   int64
	ProductCode string
	ProductName string
	Size        int
	Quantity    int
	UnitPrice   int64
}

// CartService owns the line items of exactly one session's cart and mirrors
// every mutation to durable storage under the current owner key.
type CartService interface {
	// Owner returns the identity currently scoping the cart.
	Owner() domain.OwnerKey
	// AddOrIncrement adds a new line or increases an existing line's
	// quantity. Commands with a non-positive quantity are ignored.
	AddOrIncrement(ctx context.Context, cmd AddLineCommand)
	// SetQuantity overwrites a line's quantity; zero or negative removes
	// the line. Unknown keys are ignored.
	SetQuantity(ctx context.Context, key domain.LineKey, quantity int)
	// RemoveLine deletes the line if present.
	RemoveLine(ctx context.Context, key domain.LineKey)
	// Clear empties the cart.
	Clear(ctx context.Context)

	Lines() []domain.CartLine
	IsEmpty() bool
	TotalItemCount() int
	TotalPrice() int64
	Summary() domain.CartSummary
	GroupedByProduct() []domain.ProductGroup
	// Snapshot returns the lines and summary captured under one lock, so
	// both views describe the same cart state.
	Snapshot() ([]domain.CartLine, domain.CartSummary)

	// TransitionIdentity switches the cart owner. A guest to user
	// transition merges the guest cart into the user's stored cart exactly
	// once and deletes the guest entry.
	TransitionIdentity(ctx context.Context, userID string) error
	// Close stops the persistence writer and the external-change watcher.
	Close() error
}

// StockRequest asks the stock authority about one (product, size) pair.
type StockRequest struct {
	ProductID int64 `json:"productId"`
	Size      int   `json:"size"`
	Quantity  int   `json:"quantity"`
}

// StockAvailability is the authority's answer for one requested pair.
type StockAvailability struct {
	ProductID int64 `json:"productId"`
	Size      int   `json:"size"`
	Available int   `json:"available"`
}

// StockAuthority is the external source of truth for availability.
type StockAuthority interface {
	Availability(ctx context.Context, requests []StockRequest) ([]StockAvailability, error)
}

// StockValidation is the outcome of checking a cart against the authority.
type StockValidation struct {
	Valid     bool
	Conflicts []domain.StockConflict
}

// StockValidator checks whether every cart line is satisfiable.
type StockValidator interface {
	Validate(ctx context.Context, lines []domain.CartLine) (StockValidation, error)
}

// PlaceOrderCommand is the payload handed to the external order service.
type PlaceOrderCommand struct {
	IdempotencyKey string
	Owner          domain.OwnerKey
	Lines          []domain.CartLine
	Summary        domain.CartSummary
	PlacedAt       time.Time
}

// OrderPlacer is the external order creation collaborator.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.OrderConfirmation, error)
}

// SubmissionState names a position in the submission state machine.
type SubmissionState string

const (
	SubmissionIdle       SubmissionState = "idle"
	SubmissionValidating SubmissionState = "validating"
	SubmissionConflicted SubmissionState = "conflicted"
	SubmissionSubmitting SubmissionState = "submitting"
	SubmissionSucceeded  SubmissionState = "succeeded"
	SubmissionFailed     SubmissionState = "failed"
)

// ResolveMode selects how pending stock conflicts are applied to the cart.
type ResolveMode string

const (
	// ResolveClamp lowers each conflicted line to the reported
	// availability, removing lines whose availability is zero.
	ResolveClamp ResolveMode = "clamp"
	// ResolveRemove drops every conflicted line.
	ResolveRemove ResolveMode = "remove"
)

// SubmissionResult is the caller-facing outcome of one submission attempt.
// Exactly one of Conflicts or Confirmation is populated on a non-error
// return.
type SubmissionResult struct {
	State        SubmissionState
	AttemptID    string
	Conflicts    []domain.StockConflict
	Confirmation domain.OrderConfirmation
}

// SubmissionService sequences validate, submit and clear-on-success for one
// session's cart.
type SubmissionService interface {
	// Submit snapshots the cart, validates it against the stock authority
	// and, when clean, places the order and clears the cart.
	Submit(ctx context.Context) (SubmissionResult, error)
	// Resolve applies the pending conflicts to the cart using the given
	// mode and re-arms the state machine for another Submit.
	Resolve(ctx context.Context, mode ResolveMode) error
	// State returns the current machine state.
	State() SubmissionState
	// Conflicts returns the conflicts pending resolution, if any.
	Conflicts() []domain.StockConflict
}

// NotifyFunc receives user-facing notifications emitted around state
// transitions. The core never renders; callers decide what to show.
type NotifyFunc func(ctx context.Context, kind string, message string)
