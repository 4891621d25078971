// Package apperr defines the client-visible error kinds shared by the
// generation, extraction and payment flows. Callers branch on Kind instead of
// matching error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a stable, enumerable error category.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnauthenticated     Kind = "unauthenticated"
	KindRateLimited         Kind = "rate_limited"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindGenerationFailed    Kind = "generation_failed"
	KindPaymentVerification Kind = "payment_verification_failed"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInfrastructure      Kind = "infrastructure_error"
)

// HTTPStatus returns the status code used when an error of this kind reaches
// an HTTP client.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindPaymentVerification:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Kind, a message that is safe to show to the caller, and
// optionally the underlying cause (never shown).
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain. Unclassified
// errors are infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// As returns the first *Error in err's chain, wrapping unclassified errors as
// infrastructure errors with a generic message.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInfrastructure, Message: "internal error", Err: err}
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Unauthenticated(msg string) error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func RateLimited(retryAfter time.Duration) error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func InsufficientCredits() error {
	return &Error{Kind: KindInsufficientCredits, Message: "insufficient credits"}
}

func GenerationFailed(err error) error {
	return &Error{Kind: KindGenerationFailed, Message: "content generation failed, no credits were charged; please try again", Err: err}
}

func PaymentVerification(err error) error {
	return &Error{Kind: KindPaymentVerification, Message: "invalid signature", Err: err}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func Infrastructure(err error) error {
	return &Error{Kind: KindInfrastructure, Message: "internal error", Err: err}
}
