package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/commands"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/queries"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// SignatureHeader carries the provider's notification signature.
const SignatureHeader = "Stripe-Signature"

const maxNotificationBytes = 1 << 20

// Handler exposes HTTP endpoints for payment reconciliation and refund operations.
type Handler struct {
	service *app.Service
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// Register binds the payment handlers to the router.
func (h *Handler) Register(router chi.Router) {
	router.Post("/v1/payments/webhook", h.receiveNotification)
	router.Get("/v1/orders/refund-attention", h.listRefundAttention)
	router.Get("/v1/orders/{id}", h.getOrder)
	router.Post("/v1/orders/{id}/refund/retry", h.retryRefund)
}

func (h *Handler) receiveNotification(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	result, err := h.service.ReconcileNotification(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureInvalid):
			writeError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, domain.ErrMalformedNotification):
			writeError(w, http.StatusBadRequest, "malformed notification")
		default:
			writeError(w, http.StatusInternalServerError, "notification processing failed")
		}
		return
	}

	if result.Outcome == commands.OutcomeLockConflict {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusConflict, map[string]any{
			"received": true,
			"outcome":  result.Outcome,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"outcome":  result.Outcome,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) listRefundAttention(w http.ResponseWriter, r *http.Request) {
	query := queries.RefundAttentionQuery{
		IncludeInFlight: r.URL.Query().Get("include_in_flight") == "true",
	}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil {
			query.Page = page
		}
	}
	if pageSizeParam := r.URL.Query().Get("page_size"); pageSizeParam != "" {
		if pageSize, err := strconv.Atoi(pageSizeParam); err == nil {
			query.PageSize = pageSize
		}
	}

	items, err := h.service.ListRefundAttention(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": items})
}

type retryRefundRequest struct {
	Note string `json:"note"`
}

func (h *Handler) retryRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}
	storeKey := "refund-retry:" + orderID + ":" + idemKey

	if stored, err := h.service.GetIdempotentResponse(ctx, storeKey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	} else if stored != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.StatusCode)
		_, _ = w.Write(stored.Body)
		return
	}

	var payload retryRefundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	order, err := h.service.RetryRefund(ctx, orderID, idemKey, payload.Note)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrRefundProvider):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	body, err := json.Marshal(map[string]any{"order": order})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.service.SaveIdempotentResponse(ctx, storeKey, ports.StoredResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		OrderID:    order.ID,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
