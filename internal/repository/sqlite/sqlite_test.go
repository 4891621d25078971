package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "quillify.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPrincipalLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := &models.Principal{Email: "ada@example.com", DisplayName: "Ada", PasswordHash: "hash", CreditBalance: 99}
	require.NoError(t, s.CreatePrincipal(ctx, p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, int64(0), p.CreditBalance, "principals start empty")

	got, err := s.GetPrincipal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, "hash", got.PasswordHash)

	byEmail, err := s.GetPrincipalByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byEmail.ID)

	err = s.CreatePrincipal(ctx, &models.Principal{Email: "ada@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateEmail)

	_, err = s.GetPrincipal(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrPrincipalNotFound)
}

func TestCreditAndDebitTrackBalanceAfter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := &models.Principal{Email: "b@example.com", PasswordHash: "x"}
	require.NoError(t, s.CreatePrincipal(ctx, p))

	credit, err := s.Credit(ctx, p.ID, 3, models.TransactionPurchase, nil)
	require.NoError(t, err)
	assert.True(t, credit.Applied)
	assert.Equal(t, int64(3), credit.Transaction.BalanceAfter)

	debit, err := s.DebitIfAvailable(ctx, p.ID, 2)
	require.NoError(t, err)
	require.True(t, debit.Granted)
	assert.Equal(t, int64(1), debit.RemainingBalance)
	assert.Equal(t, int64(-2), debit.Transaction.Amount)

	denied, err := s.DebitIfAvailable(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, denied.Granted)
	assert.Equal(t, int64(1), denied.RemainingBalance)

	got, err := s.GetTransaction(ctx, debit.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionUsage, got.Kind)
	assert.Nil(t, got.ExternalRef)

	list, err := s.ListTransactions(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, debit.Transaction.ID, list[0].ID, "newest first")

	sum, err := s.SumTransactions(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum)
}

func TestSumTransactions_Empty(t *testing.T) {
	s := newStore(t)

	sum, err := s.SumTransactions(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
}

func TestGenerationRecords(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := &models.Principal{Email: "c@example.com", PasswordHash: "x"}
	require.NoError(t, s.CreatePrincipal(ctx, p))
	_, err := s.Credit(ctx, p.ID, 1, models.TransactionPurchase, nil)
	require.NoError(t, err)
	debit, err := s.DebitIfAvailable(ctx, p.ID, 1)
	require.NoError(t, err)

	rec := &models.GenerationRecord{
		PrincipalID:        p.ID,
		InputText:          "great tool",
		OutputText:         "one",
		Variations:         []string{"one", "two"},
		Format:             "tweet",
		Tone:               "witty",
		CreditsCharged:     1,
		UsageTransactionID: &debit.Transaction.ID,
	}
	require.NoError(t, s.CreateRecord(ctx, rec))

	list, err := s.ListRecords(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
	assert.Equal(t, []string{"one", "two"}, list[0].Variations)
	require.NotNil(t, list[0].UsageTransactionID)
	assert.Equal(t, debit.Transaction.ID, *list[0].UsageTransactionID)
}
