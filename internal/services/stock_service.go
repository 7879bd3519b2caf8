package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/orderfield/storefront/internal/domain"
)

var errStockAuthorityRequired = errors.New("stock validator: authority is required")

// ErrStockUnavailable indicates the stock authority could not be reached;
// distinct from a conflict, which is a regular result value.
var ErrStockUnavailable = errors.New("stock validator: authority unavailable")

// StockValidatorDeps wires the external availability source.
type StockValidatorDeps struct {
	Authority StockAuthority
	Logger    func(context.Context, string, map[string]any)
}

type stockValidator struct {
	authority StockAuthority
	logger    func(context.Context, string, map[string]any)
}

// NewStockValidator constructs a StockValidator enforcing dependency validation.
func NewStockValidator(deps StockValidatorDeps) (StockValidator, error) {
	if deps.Authority == nil {
		return nil, errStockAuthorityRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockValidator{authority: deps.Authority, logger: logger}, nil
}

// Validate asks the authority for availability of every line and reports the
// lines whose requested quantity exceeds it. A pair the authority omits from
// its answer counts as zero available.
func (v *stockValidator) Validate(ctx context.Context, lines []domain.CartLine) (StockValidation, error) {
	if len(lines) == 0 {
		return StockValidation{Valid: true}, nil
	}

	requests := make([]StockRequest, 0, len(lines))
	for _, line := range lines {
		requests = append(requests, StockRequest{
			ProductID: line.ProductID,
			Size:      line.Size,
			Quantity:  line.Quantity,
		})
	}

	availabilities, err := v.authority.Availability(ctx, requests)
	if err != nil {
		v.logger(ctx, "stock.check.failed", map[string]any{"error": err.Error()})
		return StockValidation{}, fmt.Errorf("%w: %v", ErrStockUnavailable, err)
	}

	available := make(map[domain.LineKey]int, len(availabilities))
	for _, answer := range availabilities {
		available[domain.LineKey{ProductID: answer.ProductID, Size: answer.Size}] = answer.Available
	}

	var conflicts []domain.StockConflict
	for _, line := range lines {
		have := available[line.Key()]
		if line.Quantity > have {
			conflicts = append(conflicts, domain.StockConflict{
				ProductID: line.ProductID,
				Size:      line.Size,
				Requested: line.Quantity,
				Available: have,
			})
		}
	}
	return StockValidation{Valid: len(conflicts) == 0, Conflicts: conflicts}, nil
}
