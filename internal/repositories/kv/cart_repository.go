// Package kv implements cart persistence on top of the kvstore keyspace.
// Each owner key maps to one value holding a versioned JSON envelope of the
// cart lines.
package kv

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/platform/kvstore"
	"github.com/orderfield/storefront/internal/repositories"
)

const envelopeVersion = 1

type cartEnvelope struct {
	Version int          `json:"version"`
	Lines   []lineRecord `json:"lines"`
}

type lineRecord struct {
	ProductID   int64  `json:"productId"`
	ProductCode string `json:"productCode"`
	ProductName string `json:"productName"`
	Size        int    `json:"size"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

// CartRepository stores carts in a kvstore.Store keyed by owner key.
type CartRepository struct {
	store  kvstore.Store
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository wires the repository over the given store. logger may be
// nil.
func NewCartRepository(store kvstore.Store, logger func(ctx context.Context, event string, fields map[string]any)) (*CartRepository, error) {
	if store == nil {
		return nil, fmt.Errorf("kv cart repository: store is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartRepository{store: store, logger: logger}, nil
}

// Save overwrites the owner's cart with the given lines. An empty cart is
// persisted as an empty envelope rather than deleted, so a cleared cart stays
// distinguishable from a never-written one.
func (r *CartRepository) Save(ctx context.Context, owner domain.OwnerKey, lines []domain.CartLine) error {
	envelope := cartEnvelope{Version: envelopeVersion, Lines: make([]lineRecord, 0, len(lines))}
	for _, line := range lines {
		envelope.Lines = append(envelope.Lines, lineRecord{
			ProductID:   line.ProductID,
			ProductCode: line.ProductCode,
			ProductName: line.ProductName,
			Size:        line.Size,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return classify("encode cart", err, false)
	}
	if err := r.store.Set(ctx, string(owner), string(payload)); err != nil {
		return classify("persist cart", err, true)
	}
	return nil
}

// Load returns the owner's cart lines. Missing and malformed payloads load as
// an empty cart; malformed payloads are logged and left in place until the
// next save overwrites them.
func (r *CartRepository) Load(ctx context.Context, owner domain.OwnerKey) ([]domain.CartLine, error) {
	raw, ok, err := r.store.Get(ctx, string(owner))
	if err != nil {
		return nil, classify("load cart", err, true)
	}
	if !ok {
		return []domain.CartLine{}, nil
	}
	lines, decodeErr := decodeEnvelope(raw)
	if decodeErr != nil {
		r.logger(ctx, "cart.storage.corrupt", map[string]any{
			"owner": string(owner),
			"error": decodeErr.Error(),
		})
		return []domain.CartLine{}, nil
	}
	return lines, nil
}

// Delete removes the owner's cart.
func (r *CartRepository) Delete(ctx context.Context, owner domain.OwnerKey) error {
	if err := r.store.Delete(ctx, string(owner)); err != nil {
		return classify("delete cart", err, true)
	}
	return nil
}

// Watch surfaces cart changes made by other execution contexts. Keys outside
// the cart keyspace and payloads that fail to decode are dropped.
func (r *CartRepository) Watch(ctx context.Context, fn repositories.CartWatchFunc) (func(), error) {
	if fn == nil {
		return func() {}, nil
	}
	stop, err := r.store.Watch(ctx, func(key, value string, ok bool) {
		owner, isCart := domain.ParseOwnerKey(key)
		if !isCart {
			return
		}
		if !ok {
			fn(owner, []domain.CartLine{})
			return
		}
		lines, decodeErr := decodeEnvelope(value)
		if decodeErr != nil {
			r.logger(ctx, "cart.storage.corrupt", map[string]any{
				"owner": string(owner),
				"error": decodeErr.Error(),
			})
			return
		}
		fn(owner, lines)
	})
	if err != nil {
		return nil, classify("watch carts", err, true)
	}
	return stop, nil
}

// decodeEnvelope parses and sanitises a stored payload: totals are recomputed
// from quantity and unit price, non-positive quantities are dropped, and the
// first occurrence of a (product, size) key wins.
func decodeEnvelope(raw string) ([]domain.CartLine, error) {
	var envelope cartEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("decode cart envelope: %w", err)
	}
	if envelope.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported cart envelope version %d", envelope.Version)
	}

	lines := make([]domain.CartLine, 0, len(envelope.Lines))
	seen := make(map[domain.LineKey]struct{}, len(envelope.Lines))
	for _, record := range envelope.Lines {
		if record.Quantity <= 0 || record.UnitPrice < 0 || record.ProductID <= 0 {
			continue
		}
		key := domain.LineKey{ProductID: record.ProductID, Size: record.Size}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		lines = append(lines, domain.CartLine{
			ProductID:   record.ProductID,
			ProductCode: record.ProductCode,
			ProductName: record.ProductName,
			Size:        record.Size,
			Quantity:    record.Quantity,
			UnitPrice:   record.UnitPrice,
			TotalPrice:  domain.LineTotal(record.UnitPrice, record.Quantity),
		})
	}
	return lines, nil
}

type repoError struct {
	op          string
	err         error
	corrupt     bool
	unavailable bool
}

func classify(op string, err error, unavailable bool) repositories.RepositoryError {
	return &repoError{op: op, err: err, corrupt: !unavailable, unavailable: unavailable}
}

func (e *repoError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *repoError) Unwrap() error { return e.err }

func (e *repoError) IsNotFound() bool { return false }

func (e *repoError) IsCorrupt() bool { return e.corrupt }

func (e *repoError) IsUnavailable() bool { return e.unavailable }
