// Package memory is a process-local implementation of repository.Store. Units
// of work are serialized by a single mutex and staged until they succeed.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]models.Wallet
	transactions map[uuid.UUID]models.Transaction
	byWallet     map[uuid.UUID][]uuid.UUID
	seq          map[uuid.UUID]int64
	next         int64
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		wallets:      make(map[uuid.UUID]models.Wallet),
		transactions: make(map[uuid.UUID]models.Transaction),
		byWallet:     make(map[uuid.UUID][]uuid.UUID),
		seq:          make(map[uuid.UUID]int64),
		now:          time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, models.NotFoundError("wallet", id)
	}
	return &w, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Wallet{}
	for _, w := range s.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, models.NotFoundError("transaction", id)
	}
	return &t, nil
}

func (s *Store) FindByReference(_ context.Context, walletID uuid.UUID, reference string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByReference(walletID, reference), nil
}

func (s *Store) findByReference(walletID uuid.UUID, reference string) *models.Transaction {
	if reference == "" {
		return nil
	}
	for _, id := range s.byWallet[walletID] {
		t := s.transactions[id]
		if t.Reference == reference && t.Status == models.TransactionCompleted {
			return &t
		}
	}
	return nil
}

// ListTransactions returns newest first.
func (s *Store) ListTransactions(_ context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWallet[walletID]
	out := []models.Transaction{}
	skipped := 0
	for i := len(ids) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		t := s.transactions[ids[i]]
		if !filter.Matches(&t) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) SumSignedEffects(_ context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	var count int64
	for _, id := range s.byWallet[walletID] {
		t := s.transactions[id]
		if t.Status != models.TransactionCompleted {
			continue
		}
		sum = sum.Add(t.SignedEffect())
		count++
	}
	return sum, count, nil
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:        s,
		wallets:      make(map[uuid.UUID]models.Wallet),
		transactions: make(map[uuid.UUID]models.Transaction),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages writes over the store; the store mutex is held for its lifetime.
type memTx struct {
	store        *Store
	wallets      map[uuid.UUID]models.Wallet
	transactions map[uuid.UUID]models.Transaction
	appended     []uuid.UUID
}

func (tx *memTx) wallet(id uuid.UUID) (models.Wallet, bool) {
	if w, ok := tx.wallets[id]; ok {
		return w, true
	}
	w, ok := tx.store.wallets[id]
	return w, ok
}

func (tx *memTx) transaction(id uuid.UUID) (models.Transaction, bool) {
	if t, ok := tx.transactions[id]; ok {
		return t, true
	}
	t, ok := tx.store.transactions[id]
	return t, ok
}

func (tx *memTx) InsertWallet(_ context.Context, w *models.Wallet, unique bool) error {
	if _, exists := tx.wallet(w.ID); exists {
		return models.ErrDuplicateWallet
	}
	if unique {
		for _, existing := range tx.allWallets() {
			if existing.UserID == w.UserID && existing.Currency == w.Currency && existing.Type == w.Type {
				return models.ErrDuplicateWallet
			}
		}
	}
	now := tx.store.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	tx.wallets[w.ID] = *w
	return nil
}

func (tx *memTx) allWallets() []models.Wallet {
	out := make([]models.Wallet, 0, len(tx.store.wallets)+len(tx.wallets))
	for id, w := range tx.store.wallets {
		if _, staged := tx.wallets[id]; !staged {
			out = append(out, w)
		}
	}
	for _, w := range tx.wallets {
		out = append(out, w)
	}
	return out
}

func (tx *memTx) GetWalletForUpdate(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, ok := tx.wallet(id)
	if !ok {
		return nil, models.NotFoundError("wallet", id)
	}
	return &w, nil
}

func (tx *memTx) UpdateWalletBalance(_ context.Context, w *models.Wallet) error {
	current, ok := tx.wallet(w.ID)
	if !ok {
		return models.NotFoundError("wallet", w.ID)
	}
	current.Balance = w.Balance
	current.LockedBalance = w.LockedBalance
	current.UpdatedAt = tx.store.now()
	tx.wallets[w.ID] = current
	w.UpdatedAt = current.UpdatedAt
	return nil
}

func (tx *memTx) AppendTransaction(_ context.Context, t *models.Transaction) error {
	if _, exists := tx.transaction(t.ID); exists {
		return models.ValidationError("transaction %s already recorded", t.ID)
	}
	if _, ok := tx.wallet(t.WalletID); !ok {
		return models.NotFoundError("wallet", t.WalletID)
	}
	if t.Reference != "" && t.Status == models.TransactionCompleted {
		if existing, _ := tx.FindByReference(context.Background(), t.WalletID, t.Reference); existing != nil {
			return models.ErrConcurrencyConflict
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.store.now()
	}
	tx.transactions[t.ID] = *t
	tx.appended = append(tx.appended, t.ID)
	return nil
}

func (tx *memTx) GetTransactionForUpdate(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, ok := tx.transaction(id)
	if !ok {
		return nil, models.NotFoundError("transaction", id)
	}
	return &t, nil
}

func (tx *memTx) FindByReference(_ context.Context, walletID uuid.UUID, reference string) (*models.Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	for _, id := range tx.appended {
		t := tx.transactions[id]
		if t.WalletID == walletID && t.Reference == reference && t.Status == models.TransactionCompleted {
			return &t, nil
		}
	}
	return tx.store.findByReference(walletID, reference), nil
}

func (tx *memTx) ListLinked(_ context.Context, id uuid.UUID) ([]models.Transaction, error) {
	out := []models.Transaction{}
	seen := make(map[uuid.UUID]bool)
	for _, staged := range tx.appended {
		t := tx.transactions[staged]
		if t.LinkedTransactionID != nil && *t.LinkedTransactionID == id {
			out = append(out, t)
			seen[t.ID] = true
		}
	}
	for tid, t := range tx.store.transactions {
		if seen[tid] {
			continue
		}
		if t.LinkedTransactionID != nil && *t.LinkedTransactionID == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tx.order(out[i].ID) < tx.order(out[j].ID) })
	return out, nil
}

func (tx *memTx) order(id uuid.UUID) int64 {
	if n, ok := tx.store.seq[id]; ok {
		return n
	}
	for i, staged := range tx.appended {
		if staged == id {
			return tx.store.next + int64(i) + 1
		}
	}
	return 0
}

func (tx *memTx) AddRefundedAmount(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	t, ok := tx.transaction(id)
	if !ok {
		return models.NotFoundError("transaction", id)
	}
	refunded := t.RefundedAmount.Add(amount)
	if refunded.GreaterThan(t.Amount) {
		return models.ErrAlreadyRefunded
	}
	t.RefundedAmount = refunded
	tx.transactions[id] = t
	return nil
}

func (tx *memTx) commit() {
	s := tx.store
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for id, t := range tx.transactions {
		s.transactions[id] = t
	}
	for _, id := range tx.appended {
		t := tx.transactions[id]
		s.next++
		s.seq[id] = s.next
		s.byWallet[t.WalletID] = append(s.byWallet[t.WalletID], id)
	}
}
