package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	guestOwnerKey   = "guestCart"
	userOwnerPrefix = "userCart_"
)

// OwnerKey scopes a cart to either the guest marker or an authenticated user id.
// Its string form doubles as the durable storage key.
type OwnerKey string

// GuestOwner returns the owner key shared by all unauthenticated sessions
// within a single execution context.
func GuestOwner() OwnerKey {
	return OwnerKey(guestOwnerKey)
}

// UserOwner derives the owner key for an authenticated user id.
func UserOwner(userID string) OwnerKey {
	return OwnerKey(userOwnerPrefix + strings.TrimSpace(userID))
}

// IsGuest reports whether the key is the guest marker.
func (k OwnerKey) IsGuest() bool {
	return string(k) == guestOwnerKey
}

// UserID extracts the authenticated user id, or "" for the guest key.
func (k OwnerKey) UserID() string {
	if strings.HasPrefix(string(k), userOwnerPrefix) {
		return strings.TrimPrefix(string(k), userOwnerPrefix)
	}
	return ""
}

// ParseOwnerKey maps a raw storage key back to an OwnerKey, reporting whether
// the key belongs to the cart keyspace at all.
func ParseOwnerKey(raw string) (OwnerKey, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == guestOwnerKey || strings.HasPrefix(trimmed, userOwnerPrefix) {
		return OwnerKey(trimmed), true
	}
	return "", false
}

// LineKey is the composite identity of a cart line: one line per
// (product, size) pair within a cart.
type LineKey struct {
	ProductID int64
	Size      int
}

// String renders the key for log fields and conflict reporting.
func (k LineKey) String() string {
	return fmt.Sprintf("%d/%d", k.ProductID, k.Size)
}

// CartLine is a single (product, size) entry in a cart. UnitPrice is captured
// at first insertion and TotalPrice is always Quantity × UnitPrice; it is
// recomputed on every mutation and on load, never trusted from storage.
type CartLine struct {
	ProductID   int64
	ProductCode string
	ProductName string
	Size        int
	Quantity    int
	UnitPrice   int64
	TotalPrice  int64
}

// Key returns the composite line identity.
func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Size: l.Size}
}

// CartSummary carries the derived checkout totals; amounts are minor units.
type CartSummary struct {
	Subtotal  int64
	Tax       int64
	Shipping  int64
	Total     int64
	ItemCount int
}

// SizeLine is one size row inside a product bucket of the grouped view.
type SizeLine struct {
	Size       int
	Quantity   int
	TotalPrice int64
}

// ProductGroup buckets the cart lines of one product for display, with sizes
// sorted ascending and bucket-level aggregates.
type ProductGroup struct {
	ProductID     int64
	ProductCode   string
	ProductName   string
	Sizes         []SizeLine
	TotalQuantity int
	TotalPrice    int64
}

// StockConflict records a requested quantity exceeding the availability the
// stock authority reported at validation time. It exists only for the
// duration of a submission attempt.
type StockConflict struct {
	ProductID int64
	Size      int
	Requested int
	Available int
}

// OrderConfirmation is the opaque success outcome returned by the external
// order service; this core never owns order state.
type OrderConfirmation struct {
	OrderID          string
	PaymentReference string
	PlacedAt         time.Time
}
