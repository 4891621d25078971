package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/generation"
	"github.com/M-ajor19/quillify/internal/models"
)

// Generator is the orchestrator as seen by HTTP.
type Generator interface {
	Generate(ctx context.Context, principalID uuid.UUID, inputText, tone, format string) (generation.Outcome, error)
	History(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.GenerationRecord, error)
}

// GenerationHandler serves /api/v1/generate and /api/v1/generations.
type GenerationHandler struct {
	Generator Generator
	Logger    *slog.Logger
}

type generateRequest struct {
	InputText string `json:"inputText"`
	Tone      string `json:"tone"`
	Format    string `json:"format"`
}

// Generate handles POST /api/v1/generate.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteHTTP(w, apperr.Validation("invalid JSON body"))
		return
	}

	out, err := h.Generator.Generate(r.Context(), id, req.InputText, req.Tone, req.Format)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInfrastructure {
			h.Logger.Error("generate", "principal_id", id, "error", err)
		}
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// History handles GET /api/v1/generations.
func (h *GenerationHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}
	list, err := h.Generator.History(r.Context(), id, queryLimit(r))
	if err != nil {
		h.Logger.Error("list generations", "principal_id", id, "error", err)
		apperr.WriteHTTP(w, err)
		return
	}
	if list == nil {
		list = []*models.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": list})
}
