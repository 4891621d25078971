package apperr

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

type errorBody struct {
	Error struct {
		Kind              Kind   `json:"kind"`
		Message           string `json:"message"`
		RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	} `json:"error"`
}

// WriteHTTP writes err as a JSON error response. Only the Kind and the
// client-safe Message are exposed; the cause is never written.
func WriteHTTP(w http.ResponseWriter, err error) {
	e := As(err)

	var body errorBody
	body.Error.Kind = e.Kind
	body.Error.Message = e.Message
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		body.Error.RetryAfterSeconds = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
