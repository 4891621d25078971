package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/metrics"
	"github.com/M-ajor19/quillify/internal/models"
)

const defaultListLimit = 50

type Service interface {
	DebitIfAvailable(ctx context.Context, principalID uuid.UUID, amount int64) (DebitResult, error)
	Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (CreditResult, error)
	// Refund credits back a usage transaction. Repeated calls for the same
	// transaction apply once.
	Refund(ctx context.Context, principalID, usageTxID uuid.UUID) (CreditResult, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error)
	Balance(ctx context.Context, principalID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.LedgerTransaction, error)
	// Reconcile reports whether the cached balance equals the transaction sum.
	Reconcile(ctx context.Context, principalID uuid.UUID) (balance, sum int64, err error)
}

type service struct {
	store   Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewService(store Store, m *metrics.Metrics, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, metrics: m, log: log}
}

var _ Service = (*service)(nil)

func (s *service) DebitIfAvailable(ctx context.Context, principalID uuid.UUID, amount int64) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, apperr.Validation(ErrInvalidAmount.Error())
	}
	res, err := s.store.DebitIfAvailable(ctx, principalID, amount)
	if err != nil {
		s.metrics.LedgerOp("debit", "error")
		return DebitResult{}, s.storageErr("debit", err)
	}
	if !res.Granted {
		s.metrics.LedgerOp("debit", "denied")
		return res, nil
	}
	s.metrics.LedgerOp("debit", "granted")
	return res, nil
}

func (s *service) Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, apperr.Validation(ErrInvalidAmount.Error())
	}
	if !kind.Valid() || kind == models.TransactionUsage {
		return CreditResult{}, apperr.Validation(ErrInvalidKind.Error())
	}
	res, err := s.store.Credit(ctx, principalID, amount, kind, externalRef)
	if err != nil {
		s.metrics.LedgerOp("credit", "error")
		return CreditResult{}, s.storageErr("credit", err)
	}
	if res.Applied {
		s.metrics.LedgerOp("credit", "applied")
	} else {
		s.metrics.LedgerOp("credit", "duplicate")
	}
	return res, nil
}

func (s *service) Refund(ctx context.Context, principalID, usageTxID uuid.UUID) (CreditResult, error) {
	usage, err := s.store.GetTransaction(ctx, usageTxID)
	if err != nil {
		s.metrics.LedgerOp("refund", "error")
		return CreditResult{}, s.storageErr("refund", err)
	}
	if usage.PrincipalID != principalID || usage.Kind != models.TransactionUsage {
		s.metrics.LedgerOp("refund", "error")
		return CreditResult{}, fmt.Errorf("refund %s: %w", usageTxID, ErrTransactionNotFound)
	}
	ref := RefundRef(usageTxID)
	res, err := s.store.Credit(ctx, principalID, -usage.Amount, models.TransactionRefund, &ref)
	if err != nil {
		s.metrics.LedgerOp("refund", "error")
		return CreditResult{}, s.storageErr("refund", err)
	}
	if res.Applied {
		s.metrics.LedgerOp("refund", "applied")
	} else {
		s.metrics.LedgerOp("refund", "duplicate")
	}
	return res, nil
}

func (s *service) FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error) {
	tx, err := s.store.FindByExternalRef(ctx, ref)
	if err != nil {
		return nil, s.storageErr("find external ref", err)
	}
	return tx, nil
}

func (s *service) Balance(ctx context.Context, principalID uuid.UUID) (int64, error) {
	p, err := s.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return 0, s.storageErr("balance", err)
	}
	return p.CreditBalance, nil
}

func (s *service) ListTransactions(ctx context.Context, principalID uuid.UUID, limit int) ([]*models.LedgerTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	list, err := s.store.ListTransactions(ctx, principalID, limit)
	if err != nil {
		return nil, s.storageErr("list transactions", err)
	}
	return list, nil
}

func (s *service) Reconcile(ctx context.Context, principalID uuid.UUID) (int64, int64, error) {
	balance, err := s.Balance(ctx, principalID)
	if err != nil {
		return 0, 0, err
	}
	sum, err := s.store.SumTransactions(ctx, principalID)
	if err != nil {
		return 0, 0, s.storageErr("sum transactions", err)
	}
	if balance != sum {
		s.log.Error("ledger drift", "principal_id", principalID, "balance", balance, "sum", sum)
	}
	return balance, sum, nil
}

// storageErr keeps the ledger sentinels matchable and classifies everything
// else as an infrastructure failure.
func (s *service) storageErr(op string, err error) error {
	if errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrTransactionNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Error("ledger storage error", "op", op, "error", err)
	return apperr.Infrastructure(fmt.Errorf("ledger %s: %w", op, err))
}
