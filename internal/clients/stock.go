// Package clients holds HTTP clients for the external stock authority and
// order service. Both fall back to deterministic fakes when constructed
// without a base URL, so local development needs no upstreams.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orderfield/storefront/internal/services"
)

const (
	defaultTimeout = 10 * time.Second

	// fakeAvailability is returned per pair by the built-in fake.
	fakeAvailability = 100
)

// StockClient resolves availability against the external stock authority.
type StockClient struct {
	baseURL string
	http    *http.Client
}

var _ services.StockAuthority = (*StockClient)(nil)

// NewStockClient constructs a client. When baseURL is empty, the client
// reports a fixed large availability for every requested pair.
func NewStockClient(baseURL string, timeout time.Duration) *StockClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &StockClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type stockCheckRequest struct {
	Items []services.StockRequest `json:"items"`
}

type stockCheckResponse struct {
	Items []services.StockAvailability `json:"items"`
}

// Availability implements services.StockAuthority.
func (c *StockClient) Availability(ctx context.Context, requests []services.StockRequest) ([]services.StockAvailability, error) {
	if c == nil || c.baseURL == "" {
		return fakeAvailabilities(requests), nil
	}

	endpoint, err := url.JoinPath(c.baseURL, "stock", "check")
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(stockCheckRequest{Items: requests})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stock: check status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var decoded stockCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded.Items, nil
}

func fakeAvailabilities(requests []services.StockRequest) []services.StockAvailability {
	answers := make([]services.StockAvailability, 0, len(requests))
	for _, req := range requests {
		answers = append(answers, services.StockAvailability{
			ProductID: req.ProductID,
			Size:      req.Size,
			Available: fakeAvailability,
		})
	}
	return answers
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
