// Package handlers serves the authenticated generation, extraction and
// payment endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// principal returns the authenticated principal or writes a 401.
func principal(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.PrincipalIDFromCtx(r.Context())
	if !ok {
		apperr.WriteHTTP(w, apperr.Unauthenticated("unauthorized"))
	}
	return id, ok
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}
