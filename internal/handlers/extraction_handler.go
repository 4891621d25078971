package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/extraction"
)

type Extractor interface {
	Extract(ctx context.Context, principalID uuid.UUID, image []byte, contentType string) (extraction.Extraction, error)
	MaxImageBytes() int64
}

// multipartOverhead is allowed on top of the image for form boundaries and headers.
const multipartOverhead = 1 << 20

// ExtractionHandler serves /api/v1/extract.
type ExtractionHandler struct {
	Extractor Extractor
	Logger    *slog.Logger
}

// Extract handles a multipart upload with the file in the "image" field.
func (h *ExtractionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	id, ok := principal(w, r)
	if !ok {
		return
	}
	limit := h.Extractor.MaxImageBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apperr.WriteHTTP(w, apperr.Validation("image exceeds the maximum upload size"))
		default:
			apperr.WriteHTTP(w, apperr.Validation("no image provided"))
		}
		return
	}
	defer file.Close()

	// Read one byte past the limit so oversized files are rejected by the service.
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		apperr.WriteHTTP(w, apperr.Validation("could not read image"))
		return
	}

	out, err := h.Extractor.Extract(r.Context(), id, data, header.Header.Get("Content-Type"))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInfrastructure {
			h.Logger.Error("extract", "principal_id", id, "error", err)
		}
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
