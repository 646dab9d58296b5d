package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/ledger/internal/core/lock"
	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/repository/memory"
	"github.com/Nzyazin/ledger/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositThenWithdraw(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "0")

	res, err := f.uc.Deposit(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("100"), Counterparty: "bank"})
	require.NoError(t, err)
	requireDecimal(t, "100", res.BalanceAfter)
	assert.Equal(t, models.TransactionDeposit, res.Transaction.Type)
	assert.Equal(t, models.TransactionCompleted, res.Transaction.Status)
	requireDecimal(t, "0", res.Transaction.BalanceBefore)
	assert.Equal(t, "bank", res.Transaction.Counterparty)
	assert.Equal(t, "u1", res.Transaction.UserID)

	res, err = f.uc.Withdraw(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("30.5"), Counterparty: "iban"})
	require.NoError(t, err)
	requireDecimal(t, "69.5", res.BalanceAfter)
	assert.Equal(t, models.Debit, res.Transaction.Direction)

	requireDecimal(t, "69.5", f.balance(t, w))
	f.requireConsistent(t, w)

	changed := f.sink.ofType(models.EventBalanceChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, w.ID, changed[1].WalletID)
	requireDecimal(t, "69.5", *changed[1].BalanceAfter)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "10")

	_, err := f.uc.Withdraw(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("10.01"), Reference: "w-1"})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	var insufficient *models.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	requireDecimal(t, "10.01", insufficient.Requested)
	requireDecimal(t, "10", insufficient.Available)

	requireDecimal(t, "10", f.balance(t, w))

	failed, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{Status: models.TransactionFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.TransactionWithdraw, failed[0].Type)
	assert.True(t, failed[0].BalanceBefore.Equal(failed[0].BalanceAfter))

	events := f.sink.ofType(models.EventInsufficientFunds)
	require.Len(t, events, 1)
	requireDecimal(t, "10.01", *events[0].RequestedAmount)
	requireDecimal(t, "10", *events[0].AvailableBalance)

	// A failed attempt does not burn the reference.
	res, err := f.uc.Withdraw(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("4"), Reference: "w-1"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	requireDecimal(t, "6", res.BalanceAfter)
	f.requireConsistent(t, w)
}

func TestFailedAttemptsNotRecordedWhenDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.RecordFailed = false
	f := newFixture(t, cfg)
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "1")

	_, err := f.uc.Consume(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("2"), Counterparty: "gpu", Description: "training"})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	txs, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Len(t, f.sink.ofType(models.EventInsufficientFunds), 1)
}

func TestConsumeRecordsService(t *testing.T) {
	f := newFixture(t, defaultConfig())
	w := f.wallet(t, "u1", "TOKEN", "5")

	res, err := f.uc.Consume(context.Background(), models.OperationRequest{
		WalletID: w.ID, Amount: dec("1.25"), Counterparty: "inference", Description: "job 42",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionConsume, res.Transaction.Type)
	assert.Equal(t, "inference", res.Transaction.Counterparty)
	assert.Equal(t, "job 42", res.Transaction.Description)
	requireDecimal(t, "3.75", res.BalanceAfter)
}

func TestConsumeRequiresServiceAndReason(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "TOKEN", "50")

	cases := map[string]models.OperationRequest{
		"no service":    {WalletID: w.ID, Amount: dec("15"), Description: "render"},
		"blank service": {WalletID: w.ID, Amount: dec("15"), Counterparty: " ", Description: "render"},
		"no reason":     {WalletID: w.ID, Amount: dec("15"), Counterparty: "gpu"},
		"neither":       {WalletID: w.ID, Amount: dec("15")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.uc.Consume(ctx, req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	requireDecimal(t, "50", f.balance(t, w))
	txs, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestOperationValidation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "10")

	cases := map[string]models.OperationRequest{
		"zero amount":     {WalletID: w.ID, Amount: decimal.Zero},
		"negative amount": {WalletID: w.ID, Amount: dec("-1")},
		"too precise":     {WalletID: w.ID, Amount: dec("0.0000000000000000001")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.uc.Deposit(ctx, req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	_, err := f.uc.Deposit(ctx, models.OperationRequest{WalletID: uuid.New(), Amount: dec("1")})
	assert.ErrorIs(t, err, models.ErrNotFound)

	requireDecimal(t, "10", f.balance(t, w))
}

func TestDepositIdempotentByReference(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "0")

	req := models.OperationRequest{WalletID: w.ID, Amount: dec("25"), Reference: "dep-1"}
	first, err := f.uc.Deposit(ctx, req)
	require.NoError(t, err)
	second, err := f.uc.Deposit(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	requireDecimal(t, "25", second.BalanceAfter)
	requireDecimal(t, "25", f.balance(t, w))

	txs, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Len(t, f.sink.ofType(models.EventBalanceChanged), 1)
}

func TestConcurrentDepositsWithSameReferenceApplyOnce(t *testing.T) {
	f := newFixture(t, defaultConfig())
	w := f.wallet(t, "u1", "USD", "0")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.uc.Deposit(context.Background(), models.OperationRequest{
				WalletID: w.ID, Amount: dec("5"), Reference: "same",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	requireDecimal(t, "5", f.balance(t, w))
}

func TestReferenceReusedForOtherTypeIsRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "50")

	_, err := f.uc.Deposit(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("1"), Reference: "r"})
	require.NoError(t, err)
	_, err = f.uc.Withdraw(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("1"), Reference: "r"})
	assert.ErrorIs(t, err, models.ErrValidation)
	requireDecimal(t, "51", f.balance(t, w))
}

func TestConcurrentDeposits(t *testing.T) {
	f := newFixture(t, defaultConfig())
	w := f.wallet(t, "u1", "USD", "0")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.uc.Deposit(context.Background(), models.OperationRequest{WalletID: w.ID, Amount: dec("1")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	requireDecimal(t, "100", f.balance(t, w))
	f.requireConsistent(t, w)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t, defaultConfig())
	w := f.wallet(t, "u1", "USD", "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.uc.Withdraw(context.Background(), models.OperationRequest{WalletID: w.ID, Amount: dec("1")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	requireDecimal(t, "0", f.balance(t, w))
	f.requireConsistent(t, w)
}

func TestLockTimeoutLeavesStateUntouched(t *testing.T) {
	store := memory.NewStore()
	locks := lock.NewMemoryManager(20*time.Millisecond, logger.NewNop())
	uc := usecase.NewWalletUsecase(store, locks, &recordingSink{}, defaultConfig(), logger.NewNop())
	ctx := context.Background()

	w, err := uc.CreateWallet(ctx, models.CreateWalletRequest{UserID: "u1", Currency: "USD", Type: models.WalletFiat})
	require.NoError(t, err)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locks.WithWalletLock(ctx, w.ID, func() error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	_, err = uc.Deposit(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("1")})
	close(done)
	require.ErrorIs(t, err, models.ErrConcurrencyConflict)

	got, err := uc.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func TestListTransactionsFilters(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	w := f.wallet(t, "u1", "USD", "0")

	for i := 0; i < 3; i++ {
		_, err := f.uc.Deposit(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("10")})
		require.NoError(t, err)
	}
	_, err := f.uc.Withdraw(ctx, models.OperationRequest{WalletID: w.ID, Amount: dec("5")})
	require.NoError(t, err)

	all, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, models.TransactionWithdraw, all[0].Type, "newest first")

	deposits, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{Types: []models.TransactionType{models.TransactionDeposit}})
	require.NoError(t, err)
	assert.Len(t, deposits, 3)

	page, err := f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)

	now := time.Now()
	_, err = f.uc.ListTransactions(ctx, w.ID, models.TransactionFilter{From: now, To: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.uc.ListTransactions(ctx, uuid.New(), models.TransactionFilter{})
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := f.uc.GetTransaction(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, got.ID)

	_, err = f.uc.GetTransaction(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
