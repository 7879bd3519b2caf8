package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/platform/auth"
	"github.com/orderfield/storefront/internal/platform/httpx"
	"github.com/orderfield/storefront/internal/services"
	"github.com/orderfield/storefront/internal/sessions"
)

const maxCheckoutBodySize = 8 * 1024

// CheckoutHandlers exposes the order submission endpoints.
type CheckoutHandlers struct {
	sessions *sessions.Manager
	limiter  *submitLimiter
}

// CheckoutOption customises checkout handler behaviour.
type CheckoutOption func(*CheckoutHandlers)

// WithSubmitRateLimit caps submissions per session within the window.
func WithSubmitRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSubmitLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers backed by the session manager.
func NewCheckoutHandlers(manager *sessions.Manager, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{sessions: manager}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires the checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.submit)
	r.Get("/checkout/state", h.state)
	r.Post("/checkout/resolve", h.resolve)
}

func (h *CheckoutHandlers) acquire(r *http.Request) (sessions.Entry, error) {
	return acquireEntry(h.sessions, r)
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(auth.SessionIDFromContext(r.Context())) {
		httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many submissions; retry later", http.StatusTooManyRequests))
		return
	}
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	var body checkoutRequest
	if err := decodeOptionalBody(w, r, &body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		return
	}
	mode, modeSet, ok := parseResolveMode(body.OnConflict)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "onConflict must be clamp or remove", http.StatusBadRequest))
		return
	}

	result, err := entry.Submission.Submit(r.Context())
	if err != nil {
		writeSubmissionError(w, r, err)
		return
	}
	if result.State == services.SubmissionConflicted && modeSet {
		if err := entry.Submission.Resolve(r.Context(), mode); err != nil {
			writeSubmissionError(w, r, err)
			return
		}
		result, err = entry.Submission.Submit(r.Context())
		if err != nil {
			writeSubmissionError(w, r, err)
			return
		}
	}
	writeSubmissionResult(w, r, result)
}

func (h *CheckoutHandlers) state(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutStateResponse{
		State:     string(entry.Submission.State()),
		Conflicts: conflictPayloads(entry.Submission.Conflicts()),
	})
}

func (h *CheckoutHandlers) resolve(w http.ResponseWriter, r *http.Request) {
	entry, err := h.acquire(r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	var body resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBodySize)).Decode(&body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		return
	}
	mode, modeSet, ok := parseResolveMode(body.Mode)
	if !ok || !modeSet {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "mode must be clamp or remove", http.StatusBadRequest))
		return
	}

	if err := entry.Submission.Resolve(r.Context(), mode); err != nil {
		writeSubmissionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBodySize)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseResolveMode(raw string) (mode services.ResolveMode, set bool, ok bool) {
	switch raw {
	case "":
		return "", false, true
	case string(services.ResolveClamp):
		return services.ResolveClamp, true, true
	case string(services.ResolveRemove):
		return services.ResolveRemove, true, true
	default:
		return "", false, false
	}
}

func writeSubmissionResult(w http.ResponseWriter, r *http.Request, result services.SubmissionResult) {
	switch result.State {
	case services.SubmissionSucceeded:
		httpx.WriteJSON(w, http.StatusOK, checkoutResponse{
			State:     string(result.State),
			AttemptID: result.AttemptID,
			Order: &orderConfirmationPayload{
				OrderID:          result.Confirmation.OrderID,
				PaymentReference: result.Confirmation.PaymentReference,
				PlacedAt:         result.Confirmation.PlacedAt,
			},
		})
	case services.SubmissionConflicted:
		httpx.WriteJSON(w, http.StatusConflict, checkoutResponse{
			State:     string(result.State),
			AttemptID: result.AttemptID,
			Conflicts: conflictPayloads(result.Conflicts),
		})
	default:
		httpx.WriteJSON(w, http.StatusOK, checkoutResponse{State: string(result.State), AttemptID: result.AttemptID})
	}
}

func writeSubmissionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrSubmissionInFlight):
		httpx.WriteError(r.Context(), w, httpx.NewError("submission_in_flight", "a submission is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionEmptyCart):
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_empty", "cannot submit an empty cart", http.StatusBadRequest))
	case errors.Is(err, services.ErrSubmissionNoConflicts):
		httpx.WriteError(r.Context(), w, httpx.NewError("no_conflicts", "no conflicts to resolve", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionRejected):
		httpx.WriteError(r.Context(), w, httpx.NewError("order_rejected", "order service rejected the submission", http.StatusBadGateway))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("submission_failed", "submission failed", http.StatusBadGateway))
	}
}

type checkoutRequest struct {
	OnConflict string `json:"onConflict"`
}

type resolveRequest struct {
	Mode string `json:"mode"`
}

type conflictPayload struct {
	ProductID int64 `json:"productId"`
	Size      int   `json:"size"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

func conflictPayloads(conflicts []domain.StockConflict) []conflictPayload {
	payload := make([]conflictPayload, 0, len(conflicts))
	for _, conflict := range conflicts {
		payload = append(payload, conflictPayload{
			ProductID: conflict.ProductID,
			Size:      conflict.Size,
			Requested: conflict.Requested,
			Available: conflict.Available,
		})
	}
	return payload
}

type orderConfirmationPayload struct {
	OrderID          string    `json:"orderId"`
	PaymentReference string    `json:"paymentReference"`
	PlacedAt         time.Time `json:"placedAt"`
}

type checkoutResponse struct {
	State     string                    `json:"state"`
	AttemptID string                    `json:"attemptId,omitempty"`
	Conflicts []conflictPayload         `json:"conflicts,omitempty"`
	Order     *orderConfirmationPayload `json:"order,omitempty"`
}

type checkoutStateResponse struct {
	State     string            `json:"state"`
	Conflicts []conflictPayload `json:"conflicts"`
}
