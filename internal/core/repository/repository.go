package repository

import (
	"context"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletRepository is the read side of the wallet store. Balances are only
// written through Tx.
type WalletRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]models.Wallet, error)
}

// TransactionRepository is the read side of the transaction log.
type TransactionRepository interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// FindByReference returns nil, nil when no completed transaction on the
	// wallet carries the reference.
	FindByReference(ctx context.Context, walletID uuid.UUID, reference string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error)
	// SumSignedEffects folds every completed transaction on the wallet.
	SumSignedEffects(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error)
}

// Tx is one atomic unit of work. Everything written through it commits
// together or not at all.
type Tx interface {
	InsertWallet(ctx context.Context, w *models.Wallet, unique bool) error
	// GetWalletForUpdate reads the wallet and, where the store supports it,
	// row-locks it until the unit of work ends.
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, w *models.Wallet) error

	AppendTransaction(ctx context.Context, t *models.Transaction) error
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByReference(ctx context.Context, walletID uuid.UUID, reference string) (*models.Transaction, error)
	// ListLinked returns the transactions whose linked_transaction_id is id.
	ListLinked(ctx context.Context, id uuid.UUID) ([]models.Transaction, error)
	AddRefundedAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

type Store interface {
	WalletRepository
	TransactionRepository
	ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
