package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/ledger"
)

var ErrSchedulerClosed = errors.New("refund scheduler closed")

// LocalRefundScheduler retries refunds in background goroutines for
// deployments without a job queue. Retries still pending at shutdown or
// restart are lost and only logged.
type LocalRefundScheduler struct {
	ledger     Refunder
	log        *slog.Logger
	maxTries   uint
	newBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalRefundScheduler(l Refunder, log *slog.Logger) *LocalRefundScheduler {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalRefundScheduler{
		ledger:   l,
		log:      log,
		maxTries: 10,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			return b
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithBackOff replaces the retry policy, mainly for tests.
func (s *LocalRefundScheduler) WithBackOff(maxTries uint, f func() backoff.BackOff) *LocalRefundScheduler {
	s.maxTries = maxTries
	s.newBackOff = f
	return s
}

// ScheduleRefund starts a background retry and returns immediately. The
// caller's context only bounds the hand-off.
func (s *LocalRefundScheduler) ScheduleRefund(ctx context.Context, principalID, usageTxID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.retry(principalID, usageTxID)
	}()
	return nil
}

func (s *LocalRefundScheduler) retry(principalID, usageTxID uuid.UUID) {
	op := func() (ledger.CreditResult, error) {
		res, err := s.ledger.Refund(s.ctx, principalID, usageTxID)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	res, err := backoff.Retry(s.ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		s.log.Error("refund retry abandoned, credit not returned",
			"principal_id", principalID,
			"usage_tx_id", usageTxID,
			"error", err,
		)
		return
	}
	s.log.Info("refund retry completed",
		"principal_id", principalID,
		"usage_tx_id", usageTxID,
		"applied", res.Applied,
	)
}

// Close stops accepting refunds, cancels pending retries and waits for them
// to return.
func (s *LocalRefundScheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return nil
}
