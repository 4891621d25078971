package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/models"
)

type mockRefunder struct {
	mu    sync.Mutex
	err   error
	calls []uuid.UUID
}

func (m *mockRefunder) Refund(_ context.Context, _ uuid.UUID, txID uuid.UUID) (ledger.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, txID)
	if m.err != nil {
		return ledger.CreditResult{}, m.err
	}
	return ledger.CreditResult{Applied: true, Transaction: &models.LedgerTransaction{ID: uuid.New()}}, nil
}

func job(args RefundJobArgs) *river.Job[RefundJobArgs] {
	return &river.Job[RefundJobArgs]{JobRow: &rivertype.JobRow{ID: 1, Attempt: 1}, Args: args}
}

func TestRefundWorker_Success(t *testing.T) {
	m := &mockRefunder{}
	w := NewRefundWorker(m, nil)
	args := RefundJobArgs{PrincipalID: uuid.New(), TransactionID: uuid.New()}

	require.NoError(t, w.Work(context.Background(), job(args)))
	assert.Equal(t, []uuid.UUID{args.TransactionID}, m.calls)
}

func TestRefundWorker_TransientErrorRetries(t *testing.T) {
	m := &mockRefunder{err: errors.New("connection refused")}
	w := NewRefundWorker(m, nil)

	err := w.Work(context.Background(), job(RefundJobArgs{PrincipalID: uuid.New(), TransactionID: uuid.New()}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRefundWorker_UnknownTransactionCancels(t *testing.T) {
	m := &mockRefunder{err: ledger.ErrTransactionNotFound}
	w := NewRefundWorker(m, nil)

	err := w.Work(context.Background(), job(RefundJobArgs{PrincipalID: uuid.New(), TransactionID: uuid.New()}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger transaction not found")
}

func TestRefundJobArgs(t *testing.T) {
	args := RefundJobArgs{}
	assert.Equal(t, "refund_generation", args.Kind())
	assert.Equal(t, 25, args.InsertOpts().MaxAttempts)
	assert.True(t, args.InsertOpts().UniqueOpts.ByArgs)
}

func TestRefundScheduler_Inserts(t *testing.T) {
	var got RefundJobArgs
	s := NewRefundScheduler(func(_ context.Context, args RefundJobArgs) error {
		got = args
		return nil
	})
	principal, tx := uuid.New(), uuid.New()

	require.NoError(t, s.ScheduleRefund(context.Background(), principal, tx))
	assert.Equal(t, RefundJobArgs{PrincipalID: principal, TransactionID: tx}, got)
}
