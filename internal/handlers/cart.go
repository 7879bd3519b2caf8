package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/platform/auth"
	"github.com/orderfield/storefront/internal/platform/httpx"
	"github.com/orderfield/storefront/internal/services"
	"github.com/orderfield/storefront/internal/sessions"
)

const maxCartBodySize = 16 * 1024

var errNoSession = errors.New("handlers: no session on request")

// CartHandlers exposes the cart endpoints for the caller's session.
type CartHandlers struct {
	sessions *sessions.Manager
}

// NewCartHandlers constructs handlers backed by the session manager.
func NewCartHandlers(manager *sessions.Manager) *CartHandlers {
	return &CartHandlers{sessions: manager}
}

// Routes wires the cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/grouped", h.getGrouped)
	r.Get("/summary", h.getSummary)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}/{size}", h.setQuantity)
	r.Delete("/items/{productID}/{size}", h.removeItem)
}

func (h *CartHandlers) acquire(r *http.Request) (sessions.Entry, error) {
	return acquireEntry(h.sessions, r)
}

func acquireEntry(manager *sessions.Manager, r *http.Request) (sessions.Entry, error) {
	ctx := r.Context()
	sessionID := auth.SessionIDFromContext(ctx)
	if sessionID == "" {
		return sessions.Entry{}, errNoSession
	}
	identity := auth.IdentityFromContext(ctx)
	return manager.Acquire(ctx, sessionID, identity.UserID)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	lines, summary := entry.Cart.Snapshot()
	httpx.WriteJSON(w, http.StatusOK, cartResponse{
		Owner:   string(entry.Cart.Owner()),
		Lines:   linePayloads(lines),
		Summary: summaryPayload(summary),
	})
}

func (h *CartHandlers) getGrouped(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	groups := entry.Cart.GroupedByProduct()
	payload := make([]groupPayload, 0, len(groups))
	for _, group := range groups {
		sizes := make([]sizePayload, 0, len(group.Sizes))
		for _, size := range group.Sizes {
			sizes = append(sizes, sizePayload{Size: size.Size, Quantity: size.Quantity, TotalPrice: size.TotalPrice})
		}
		payload = append(payload, groupPayload{
			ProductID:     group.ProductID,
			ProductCode:   group.ProductCode,
			ProductName:   group.ProductName,
			Sizes:         sizes,
			TotalQuantity: group.TotalQuantity,
			TotalPrice:    group.TotalPrice,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": payload})
}

func (h *CartHandlers) getSummary(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summaryPayload(entry.Cart.Summary()))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	var body addItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		return
	}
	if body.ProductID <= 0 || body.Quantity <= 0 || body.UnitPrice < 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "productId and quantity must be positive and unitPrice non-negative", http.StatusBadRequest))
		return
	}

	entry.Cart.AddOrIncrement(r.Context(), services.AddLineCommand{
		ProductID:   body.ProductID,
		ProductCode: body.ProductCode,
		ProductName: body.ProductName,
		Size:        body.Size,
		Quantity:    body.Quantity,
		UnitPrice:   body.UnitPrice,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	key, ok := lineKeyFromRequest(r)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "product id and size must be integers", http.StatusBadRequest))
		return
	}

	var body setQuantityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		return
	}

	entry.Cart.SetQuantity(r.Context(), key, body.Quantity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	key, ok := lineKeyFromRequest(r)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "product id and size must be integers", http.StatusBadRequest))
		return
	}

	entry.Cart.RemoveLine(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	entry.Cart.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func lineKeyFromRequest(r *http.Request) (domain.LineKey, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		return domain.LineKey{}, false
	}
	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil {
		return domain.LineKey{}, false
	}
	return domain.LineKey{ProductID: productID, Size: size}, true
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNoSession) {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_required", "no session on request", http.StatusBadRequest))
		return
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("session_unavailable", "could not open cart session", http.StatusServiceUnavailable))
}

type addItemRequest struct {
	ProductID   int64  `json:"productId"`
	ProductCode string `json:"productCode"`
	ProductName string `json:"productName"`
	Size        int    `json:"size"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type cartLinePayload struct {
	ProductID   int64  `json:"productId"`
	ProductCode string `json:"productCode"`
	ProductName string `json:"productName"`
	Size        int    `json:"size"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	TotalPrice  int64  `json:"totalPrice"`
}

type cartSummaryPayload struct {
	Subtotal  int64 `json:"subtotal"`
	Tax       int64 `json:"tax"`
	Shipping  int64 `json:"shipping"`
	Total     int64 `json:"total"`
	ItemCount int   `json:"itemCount"`
}

type cartResponse struct {
	Owner   string             `json:"owner"`
	Lines   []cartLinePayload  `json:"lines"`
	Summary cartSummaryPayload `json:"summary"`
}

type sizePayload struct {
	Size       int   `json:"size"`
	Quantity   int   `json:"quantity"`
	TotalPrice int64 `json:"totalPrice"`
}

type groupPayload struct {
	ProductID     int64         `json:"productId"`
	ProductCode   string        `json:"productCode"`
	ProductName   string        `json:"productName"`
	Sizes         []sizePayload `json:"sizes"`
	TotalQuantity int           `json:"totalQuantity"`
	TotalPrice    int64         `json:"totalPrice"`
}

func linePayloads(lines []domain.CartLine) []cartLinePayload {
	payload := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		payload = append(payload, cartLinePayload{
			ProductID:   line.ProductID,
			ProductCode: line.ProductCode,
			ProductName: line.ProductName,
			Size:        line.Size,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
		})
	}
	return payload
}

func summaryPayload(summary domain.CartSummary) cartSummaryPayload {
	return cartSummaryPayload{
		Subtotal:  summary.Subtotal,
		Tax:       summary.Tax,
		Shipping:  summary.Shipping,
		Total:     summary.Total,
		ItemCount: summary.ItemCount,
	}
}
