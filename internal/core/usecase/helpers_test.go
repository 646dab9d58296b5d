package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/ledger/internal/core/lock"
	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/repository/memory"
	"github.com/Nzyazin/ledger/internal/core/usecase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Submit(e models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *recordingSink) ofType(typ models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	uc    usecase.WalletUsecase
	store *memory.Store
	locks lock.Manager
	sink  *recordingSink
}

func newFixture(t *testing.T, cfg usecase.Config) *fixture {
	t.Helper()
	store := memory.NewStore()
	locks := lock.NewMemoryManager(2*time.Second, logger.NewNop())
	sink := &recordingSink{}
	return &fixture{
		uc:    usecase.NewWalletUsecase(store, locks, sink, cfg, logger.NewNop()),
		store: store,
		locks: locks,
		sink:  sink,
	}
}

func defaultConfig() usecase.Config {
	return usecase.Config{FeePolicy: usecase.FeeBurn, UniqueWallets: true, RecordFailed: true}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) wallet(t *testing.T, user, currency, initial string) *models.Wallet {
	t.Helper()
	w, err := f.uc.CreateWallet(context.Background(), models.CreateWalletRequest{
		UserID:         user,
		Currency:       currency,
		Type:           models.WalletFiat,
		InitialBalance: dec(initial),
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) balance(t *testing.T, w *models.Wallet) decimal.Decimal {
	t.Helper()
	got, err := f.uc.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	return got.Balance
}

func (f *fixture) requireConsistent(t *testing.T, w *models.Wallet) {
	t.Helper()
	audit, err := f.uc.Audit(context.Background(), w.ID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "balance %s, ledger %s", audit.Balance, audit.LedgerSum)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func nopLogger() logger.Logger {
	return logger.NewNop()
}
