package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/payments"
)

type Checkout interface {
	Packages() []payments.Package
	CreateSession(ctx context.Context, principalID uuid.UUID, packageID string) (string, error)
}

type WebhookReconciler interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (payments.Ack, error)
}

// maxWebhookBytes matches the size Stripe documents for event payloads.
const maxWebhookBytes = 64 << 10

// PaymentsHandler serves the package catalog, checkout and the provider webhook.
type PaymentsHandler struct {
	Checkout   Checkout
	Reconciler WebhookReconciler
	Logger     *slog.Logger
}

type packageResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	Price       string `json:"price"`
	Description string `json:"description"`
}

// Packages handles GET /api/v1/packages.
func (h *PaymentsHandler) Packages(w http.ResponseWriter, _ *http.Request) {
	pkgs := h.Checkout.Packages()
	out := make([]packageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, packageResponse{
			ID:          p.ID,
			Name:        p.Name,
			Credits:     p.Credits,
			Price:       p.Price.StringFixed(2),
			Description: p.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": out})
}

type checkoutRequest struct {
	PackageID string `json:"packageId"`
}

// CreateCheckout handles POST /api/v1/checkout.
func (h *PaymentsHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteHTTP(w, apperr.Validation("invalid JSON body"))
		return
	}
	url, err := h.Checkout.CreateSession(r.Context(), id, req.PackageID)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook handles POST /api/stripe/webhook. The raw body is needed for
// signature verification, so it is read before any decoding.
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		apperr.WriteHTTP(w, apperr.Validation("could not read body"))
		return
	}
	ack, err := h.Reconciler.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": ack.Duplicate})
}
