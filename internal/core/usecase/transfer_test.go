package usecase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferWithBurnedFee(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a := f.wallet(t, "alice", "USD", "100")
	b := f.wallet(t, "bob", "USD", "0")

	res, err := f.uc.Transfer(ctx, models.TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("30"), Fee: dec("1.5"), Reference: "t-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TransactionTransferOut, res.Out.Type)
	assert.Equal(t, models.TransactionTransferIn, res.In.Type)
	requireDecimal(t, "30", res.Out.Amount)
	requireDecimal(t, "1.5", res.Out.Fee)
	requireDecimal(t, "28.5", res.In.Amount)
	require.NotNil(t, res.Out.LinkedTransactionID)
	require.NotNil(t, res.In.LinkedTransactionID)
	assert.Equal(t, res.In.ID, *res.Out.LinkedTransactionID)
	assert.Equal(t, res.Out.ID, *res.In.LinkedTransactionID)
	assert.Nil(t, res.FeeCredit)

	requireDecimal(t, "70", f.balance(t, a))
	requireDecimal(t, "28.5", f.balance(t, b))
	f.requireConsistent(t, a)
	f.requireConsistent(t, b)
	assert.Len(t, f.sink.ofType(models.EventBalanceChanged), 4)
}

func TestTransferWithPlatformFee(t *testing.T) {
	base := newFixture(t, defaultConfig())
	platform := base.wallet(t, "platform", "USD", "0")

	cfg := defaultConfig()
	cfg.FeePolicy = usecase.FeePlatform
	cfg.PlatformWalletID = platform.ID
	f := &fixture{store: base.store, locks: base.locks, sink: base.sink}
	f.uc = usecase.NewWalletUsecase(base.store, base.locks, base.sink, cfg, nopLogger())

	ctx := context.Background()
	a := f.wallet(t, "alice", "USD", "10")
	b := f.wallet(t, "bob", "USD", "0")

	res, err := f.uc.Transfer(ctx, models.TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("10"), Fee: dec("0.25"), Reference: "t-fee",
	})
	require.NoError(t, err)
	require.NotNil(t, res.FeeCredit)
	assert.Equal(t, platform.ID, res.FeeCredit.WalletID)
	assert.Equal(t, res.Out.ID, *res.FeeCredit.LinkedTransactionID)

	requireDecimal(t, "0", f.balance(t, a))
	requireDecimal(t, "9.75", f.balance(t, b))
	requireDecimal(t, "0.25", f.balance(t, platform))
	f.requireConsistent(t, platform)

	replay, err := f.uc.Transfer(ctx, models.TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("10"), Fee: dec("0.25"), Reference: "t-fee",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	require.NotNil(t, replay.FeeCredit)
	assert.Equal(t, res.FeeCredit.ID, replay.FeeCredit.ID)
	assert.Equal(t, res.In.ID, replay.In.ID)
}

func TestTransferPlatformWalletCurrencyMismatch(t *testing.T) {
	base := newFixture(t, defaultConfig())
	platform := base.wallet(t, "platform", "EUR", "0")

	cfg := defaultConfig()
	cfg.FeePolicy = usecase.FeePlatform
	cfg.PlatformWalletID = platform.ID
	uc := usecase.NewWalletUsecase(base.store, base.locks, base.sink, cfg, nopLogger())

	a := base.wallet(t, "alice", "USD", "10")
	b := base.wallet(t, "bob", "USD", "0")

	_, err := uc.Transfer(context.Background(), models.TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("5"), Fee: dec("1"),
	})
	assert.ErrorIs(t, err, models.ErrValidation)
	requireDecimal(t, "10", base.balance(t, a))
}

func TestTransferInsufficientBalanceIsAtomic(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a := f.wallet(t, "alice", "USD", "5")
	b := f.wallet(t, "bob", "USD", "1")

	_, err := f.uc.Transfer(ctx, models.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("6")})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	requireDecimal(t, "5", f.balance(t, a))
	requireDecimal(t, "1", f.balance(t, b))

	failed, err := f.uc.ListTransactions(ctx, a.ID, models.TransactionFilter{Status: models.TransactionFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.TransactionTransferOut, failed[0].Type)
	assert.Nil(t, failed[0].LinkedTransactionID)

	inbound, err := f.uc.ListTransactions(ctx, b.ID, models.TransactionFilter{Types: []models.TransactionType{models.TransactionTransferIn}})
	require.NoError(t, err)
	assert.Empty(t, inbound)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	a := f.wallet(t, "alice", "USD", "100")
	b := f.wallet(t, "bob", "USD", "0")
	eur := f.wallet(t, "carol", "EUR", "0")

	cases := map[string]models.TransferRequest{
		"same wallet":       {FromWalletID: a.ID, ToWalletID: a.ID, Amount: dec("1")},
		"currency mismatch": {FromWalletID: a.ID, ToWalletID: eur.ID, Amount: dec("1")},
		"fee equals amount": {FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("1"), Fee: dec("1")},
		"negative fee":      {FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("1"), Fee: dec("-0.1")},
		"zero amount":       {FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("0")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.uc.Transfer(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	_, err := f.uc.Transfer(context.Background(), models.TransferRequest{FromWalletID: a.ID, ToWalletID: uuid.New(), Amount: dec("1")})
	assert.ErrorIs(t, err, models.ErrNotFound)

	requireDecimal(t, "100", f.balance(t, a))
}

func TestTransferReplayReturnsStoredPair(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a := f.wallet(t, "alice", "USD", "100")
	b := f.wallet(t, "bob", "USD", "0")

	req := models.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("40"), Reference: "pay-7"}
	first, err := f.uc.Transfer(ctx, req)
	require.NoError(t, err)
	second, err := f.uc.Transfer(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Out.ID, second.Out.ID)
	assert.Equal(t, first.In.ID, second.In.ID)
	requireDecimal(t, "60", f.balance(t, a))
	requireDecimal(t, "40", f.balance(t, b))
}

func TestOpposingTransfersConserveTotal(t *testing.T) {
	f := newFixture(t, defaultConfig())
	a := f.wallet(t, "alice", "USD", "500")
	b := f.wallet(t, "bob", "USD", "500")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.uc.Transfer(context.Background(), models.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("3")})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.uc.Transfer(context.Background(), models.TransferRequest{FromWalletID: b.ID, ToWalletID: a.ID, Amount: dec("2")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := f.balance(t, a).Add(f.balance(t, b))
	requireDecimal(t, "1000", total)
	requireDecimal(t, "450", f.balance(t, a))
	f.requireConsistent(t, a)
	f.requireConsistent(t, b)
}
