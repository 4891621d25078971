package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/M-ajor19/quillify/internal/ledger"
)

// RefundJobArgs asks for a generation's usage transaction to be refunded.
// Refunds are idempotent in the ledger, so duplicate jobs are harmless.
type RefundJobArgs struct {
	PrincipalID   uuid.UUID `json:"principal_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

func (RefundJobArgs) Kind() string { return "refund_generation" }

func (RefundJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 25,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Refunder is the ledger operation the worker needs.
type Refunder interface {
	Refund(ctx context.Context, principalID, usageTxID uuid.UUID) (ledger.CreditResult, error)
}

type RefundWorker struct {
	river.WorkerDefaults[RefundJobArgs]
	ledger Refunder
	log    *slog.Logger
}

func NewRefundWorker(l Refunder, log *slog.Logger) *RefundWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RefundWorker{ledger: l, log: log}
}

func (w *RefundWorker) Work(ctx context.Context, job *river.Job[RefundJobArgs]) error {
	args := job.Args

	res, err := w.ledger.Refund(ctx, args.PrincipalID, args.TransactionID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return river.JobCancel(fmt.Errorf("refund %s: %w", args.TransactionID, err))
	}
	if err != nil {
		return fmt.Errorf("refund %s: %w", args.TransactionID, err)
	}

	w.log.Info("refund job completed",
		"principal_id", args.PrincipalID,
		"usage_tx_id", args.TransactionID,
		"applied", res.Applied,
	)
	return nil
}

// InsertRefundFunc enqueues a refund job, normally through river.Client.Insert.
type InsertRefundFunc func(ctx context.Context, args RefundJobArgs) error

type RefundScheduler struct {
	insert InsertRefundFunc
}

func NewRefundScheduler(insert InsertRefundFunc) *RefundScheduler {
	return &RefundScheduler{insert: insert}
}

func (s *RefundScheduler) ScheduleRefund(ctx context.Context, principalID, usageTxID uuid.UUID) error {
	return s.insert(ctx, RefundJobArgs{PrincipalID: principalID, TransactionID: usageTxID})
}
