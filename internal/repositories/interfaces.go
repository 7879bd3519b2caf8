package repositories

import (
	"context"

	domain "github.com/orderfield/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsCorrupt() bool
	IsUnavailable() bool
}

// CartWatchFunc receives a cart changed outside the current process for the
// given owner. lines is the decoded cart content; an empty slice means the
// cart was cleared or deleted.
type CartWatchFunc func(owner domain.OwnerKey, lines []domain.CartLine)

// CartRepository persists one cart per owner key.
type CartRepository interface {
	// Save overwrites the owner's cart with the given lines.
	Save(ctx context.Context, owner domain.OwnerKey, lines []domain.CartLine) error
	// Load returns the owner's cart. A missing or unreadable cart loads as
	// empty rather than failing; the caller starts fresh either way.
	Load(ctx context.Context, owner domain.OwnerKey) ([]domain.CartLine, error)
	// Delete removes the owner's cart. Deleting an absent cart is not an error.
	Delete(ctx context.Context, owner domain.OwnerKey) error
	// Watch registers fn for cart changes made by other execution contexts
	// and returns a cancel function.
	Watch(ctx context.Context, fn CartWatchFunc) (func(), error)
}
