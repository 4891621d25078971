// Package ratelimit implements fixed-window request limits per principal and
// operation. Limits are an abuse guard, not a billing control: the Limiter
// fails open when its store is unavailable.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/M-ajor19/quillify/internal/metrics"
)

// Operation names used as key prefixes.
const (
	OpGenerate = "generate"
	OpExtract  = "extract"
)

// Config is the window for one operation.
type Config struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// Result is the limiter's decision for one call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the window resets, never less than a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// Store defines the interface for rate limit storage backends.
// Implementations can be in-memory (single instance) or shared (Redis).
type Store interface {
	// Hit records one request for key and reports the window state after it.
	Hit(ctx context.Context, key string, cfg Config, now time.Time) (Result, error)

	// Close releases resources.
	Close() error
}

// Key builds the composite identifier for an operation and principal.
func Key(operation, principal string) string {
	return operation + ":" + principal
}

type Limiter struct {
	store   Store
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewLimiter wraps store. A nil store defaults to a MemoryStore.
func NewLimiter(store Store, m *metrics.Metrics, log *slog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{store: store, metrics: m, log: log, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Allow records a request for identifier. It never fails: store errors are
// logged and the request is allowed.
func (l *Limiter) Allow(ctx context.Context, identifier string, cfg Config) Result {
	now := l.now()
	op, _, _ := strings.Cut(identifier, ":")

	res, err := l.store.Hit(ctx, identifier, cfg, now)
	if err != nil {
		l.log.Warn("rate limiter store unavailable, allowing request", "operation", op, "error", err)
		l.metrics.RateLimitError()
		return Result{Allowed: true, Remaining: cfg.MaxRequests, ResetAt: now.Add(cfg.Window)}
	}
	l.metrics.RateLimitDecision(op, res.Allowed)
	return res
}

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
