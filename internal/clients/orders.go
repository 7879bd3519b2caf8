package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/services"
)

const idempotencyHeader = "Idempotency-Key"

// OrderClient submits orders to the external order service.
type OrderClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

var _ services.OrderPlacer = (*OrderClient)(nil)

// NewOrderClient constructs a client. When baseURL is empty, the client
// accepts every order and fabricates a confirmation.
func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OrderClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type orderLine struct {
	ProductID   int64  `json:"productId"`
	ProductCode string `json:"productCode"`
	ProductName string `json:"productName"`
	Size        int    `json:"size"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	TotalPrice  int64  `json:"totalPrice"`
}

type orderSummary struct {
	Subtotal  int64 `json:"subtotal"`
	Tax       int64 `json:"tax"`
	Shipping  int64 `json:"shipping"`
	Total     int64 `json:"total"`
	ItemCount int   `json:"itemCount"`
}

type createOrderRequest struct {
	Owner    string       `json:"owner"`
	Lines    []orderLine  `json:"lines"`
	Summary  orderSummary `json:"summary"`
	PlacedAt time.Time    `json:"placedAt"`
}

type createOrderResponse struct {
	OrderID          string    `json:"orderId"`
	PaymentReference string    `json:"paymentReference"`
	PlacedAt         time.Time `json:"placedAt"`
}

// PlaceOrder implements services.OrderPlacer. The attempt's idempotency key
// travels as a header so a retried request cannot create a second order.
func (c *OrderClient) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (domain.OrderConfirmation, error) {
	if c == nil || c.baseURL == "" {
		return c.fakeConfirmation(cmd), nil
	}

	endpoint, err := url.JoinPath(c.baseURL, "orders")
	if err != nil {
		return domain.OrderConfirmation{}, err
	}

	body := createOrderRequest{
		Owner:    string(cmd.Owner),
		Lines:    make([]orderLine, 0, len(cmd.Lines)),
		PlacedAt: cmd.PlacedAt,
		Summary: orderSummary{
			Subtotal:  cmd.Summary.Subtotal,
			Tax:       cmd.Summary.Tax,
			Shipping:  cmd.Summary.Shipping,
			Total:     cmd.Summary.Total,
			ItemCount: cmd.Summary.ItemCount,
		},
	}
	for _, line := range cmd.Lines {
		body.Lines = append(body.Lines, orderLine{
			ProductID:   line.ProductID,
			ProductCode: line.ProductCode,
			ProductName: line.ProductName,
			Size:        line.Size,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(idempotencyHeader, ensureIdempotencyKey(cmd.IdempotencyKey))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.OrderConfirmation{}, fmt.Errorf("orders: create status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var decoded createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.OrderConfirmation{}, err
	}
	placedAt := decoded.PlacedAt
	if placedAt.IsZero() {
		placedAt = cmd.PlacedAt
	}
	return domain.OrderConfirmation{
		OrderID:          strings.TrimSpace(decoded.OrderID),
		PaymentReference: strings.TrimSpace(decoded.PaymentReference),
		PlacedAt:         placedAt,
	}, nil
}

func (c *OrderClient) fakeConfirmation(cmd services.PlaceOrderCommand) domain.OrderConfirmation {
	placedAt := cmd.PlacedAt
	if placedAt.IsZero() {
		placedAt = c.now().UTC()
	}
	return domain.OrderConfirmation{
		OrderID:          "ord_" + ulid.Make().String(),
		PaymentReference: "pay_" + ulid.Make().String(),
		PlacedAt:         placedAt,
	}
}

func ensureIdempotencyKey(key string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	return ulid.Make().String()
}
