package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/metrics"
	"github.com/M-ajor19/quillify/internal/models"
)

const EventCheckoutCompleted = "checkout.session.completed"

// Event is a verified payment notification.
type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

type CheckoutSession struct {
	ID       string
	Paid     bool
	Metadata map[string]string
}

type Verifier interface {
	Verify(payload []byte, signature string) (Event, error)
}

// Ledger is the subset of ledger.Service the reconciler uses.
type Ledger interface {
	FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error)
	Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (ledger.CreditResult, error)
}

// Ack tells the provider the event was accepted. Only one of the flags is set
// for a given event; all of them mean "do not redeliver".
type Ack struct {
	Credited  bool
	Duplicate bool
	Ignored   bool
}

type Reconciler struct {
	verifier Verifier
	ledger   Ledger
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewReconciler(v Verifier, l Ledger, m *metrics.Metrics, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{verifier: v, ledger: l, metrics: m, log: log}
}

// HandleEvent verifies and applies one webhook delivery. Returned errors are
// apperr kinds: payment_verification_failed and validation_error are final,
// infrastructure_error asks the provider to redeliver.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) (Ack, error) {
	evt, err := r.verifier.Verify(payload, signature)
	if err != nil {
		r.metrics.WebhookEvent("invalid_signature")
		r.log.Warn("webhook signature verification failed", "error", err)
		return Ack{}, apperr.PaymentVerification(err)
	}

	if evt.Type != EventCheckoutCompleted || evt.Session == nil {
		r.metrics.WebhookEvent("ignored")
		return Ack{Ignored: true}, nil
	}
	sess := evt.Session
	if !sess.Paid {
		r.metrics.WebhookEvent("ignored")
		r.log.Info("checkout session not paid yet", "session_id", sess.ID)
		return Ack{Ignored: true}, nil
	}

	principalID, credits, err := parseMetadata(sess.Metadata)
	if err != nil {
		r.metrics.WebhookEvent("invalid_metadata")
		r.log.Error("checkout session metadata invalid", "session_id", sess.ID, "error", err)
		return Ack{}, apperr.Validation("invalid checkout session metadata")
	}

	existing, err := r.ledger.FindByExternalRef(ctx, sess.ID)
	if err != nil {
		r.metrics.WebhookEvent("error")
		return Ack{}, apperr.Infrastructure(err)
	}
	if existing != nil {
		r.metrics.WebhookEvent("duplicate")
		r.log.Info("checkout session already credited", "session_id", sess.ID, "transaction_id", existing.ID)
		return Ack{Duplicate: true}, nil
	}

	ref := sess.ID
	res, err := r.ledger.Credit(ctx, principalID, credits, models.TransactionPurchase, &ref)
	switch {
	case errors.Is(err, ledger.ErrPrincipalNotFound):
		// Redelivery cannot fix a session for a principal that no longer exists.
		r.metrics.WebhookEvent("ignored")
		r.log.Error("checkout session for unknown principal", "session_id", sess.ID, "principal_id", principalID)
		return Ack{Ignored: true}, nil
	case err != nil:
		r.metrics.WebhookEvent("error")
		r.log.Error("credit purchase failed", "session_id", sess.ID, "principal_id", principalID, "error", err)
		return Ack{}, apperr.Infrastructure(err)
	case !res.Applied:
		r.metrics.WebhookEvent("duplicate")
		return Ack{Duplicate: true}, nil
	}

	r.metrics.WebhookEvent("credited")
	r.log.Info("credits purchased",
		"session_id", sess.ID,
		"principal_id", principalID,
		"credits", credits,
		"package_id", sess.Metadata[MetaPackageID],
		"balance_after", res.Transaction.BalanceAfter,
	)
	return Ack{Credited: true}, nil
}

func parseMetadata(md map[string]string) (uuid.UUID, int64, error) {
	principalID, err := uuid.Parse(md[MetaPrincipalID])
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", MetaPrincipalID, err)
	}
	credits, err := strconv.ParseInt(md[MetaCredits], 10, 64)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", MetaCredits, err)
	}
	if credits <= 0 {
		return uuid.Nil, 0, fmt.Errorf("%s: must be positive, got %d", MetaCredits, credits)
	}
	return principalID, credits, nil
}
