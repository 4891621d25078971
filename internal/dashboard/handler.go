// Package dashboard serves the signed-in principal's account view: profile,
// balance and credit ledger.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/middleware"
	"github.com/M-ajor19/quillify/internal/models"
)

// AccountLedger is the read side of ledger.Service.
type AccountLedger interface {
	ListTransactions(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.LedgerTransaction, error)
	Reconcile(ctx context.Context, principalID uuid.UUID) (balance, sum int64, err error)
}

type Handler struct {
	principals ledger.PrincipalStore
	ledger     AccountLedger
	log        *slog.Logger
}

func NewHandler(principals ledger.PrincipalStore, l AccountLedger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{principals: principals, ledger: l, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe handles GET /api/v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.PrincipalIDFromCtx(r.Context())
	if !ok {
		apperr.WriteHTTP(w, apperr.Unauthenticated("unauthorized"))
		return
	}
	p, err := h.principals.GetPrincipal(r.Context(), id)
	if errors.Is(err, ledger.ErrPrincipalNotFound) {
		apperr.WriteHTTP(w, apperr.NotFound("account not found"))
		return
	}
	if err != nil {
		h.log.Error("get principal failed", "principal_id", id, "error", err)
		apperr.WriteHTTP(w, err)
		return
	}
	balance, sum, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		h.log.Error("reconcile balance failed", "principal_id", id, "error", err)
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             p.ID,
		"email":          p.Email,
		"display_name":   p.DisplayName,
		"credit_balance": balance,
		"ledger_in_sync": balance == sum,
		"created_at":     p.CreatedAt,
	})
}

// ListCreditLedger handles GET /api/v1/credit-ledger.
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.PrincipalIDFromCtx(r.Context())
	if !ok {
		apperr.WriteHTTP(w, apperr.Unauthenticated("unauthorized"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledger.ListTransactions(r.Context(), id, limit)
	if err != nil {
		h.log.Error("list credit ledger failed", "principal_id", id, "error", err)
		apperr.WriteHTTP(w, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerTransaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}
