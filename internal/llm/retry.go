package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retrying retries transient provider failures with exponential backoff.
type Retrying struct {
	next       ChatClient
	maxTries   uint
	newBackOff func() backoff.BackOff
}

var _ ChatClient = (*Retrying)(nil)

// NewRetrying wraps next. maxTries counts the first attempt.
func NewRetrying(next ChatClient, maxTries uint) *Retrying {
	if maxTries == 0 {
		maxTries = 3
	}
	return &Retrying{
		next:     next,
		maxTries: maxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 8 * time.Second
			return b
		},
	}
}

// WithBackOff replaces the backoff policy, mainly for tests.
func (r *Retrying) WithBackOff(f func() backoff.BackOff) *Retrying {
	r.newBackOff = f
	return r
}

func (r *Retrying) Complete(ctx context.Context, req ChatRequest) (string, error) {
	op := func() (string, error) {
		out, err := r.next.Complete(ctx, req)
		if err != nil && !Transient(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.maxTries),
	)
}

// Transient reports whether err is worth retrying: rate limiting, server
// errors and transport failures. Cancellation is never transient.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, ErrEmptyCompletion)
}
