package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a per-user balance container for one currency or token.
type Wallet struct {
	ID            uuid.UUID       `json:"wallet_id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Currency      string          `json:"currency" db:"currency"`
	Type          WalletType      `json:"wallet_type" db:"wallet_type"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance" db:"locked_balance"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableBalance is never persisted.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

type WalletType string

const (
	WalletFiat   WalletType = "fiat"
	WalletCrypto WalletType = "crypto"
	WalletHybrid WalletType = "hybrid"
)

func (t WalletType) Valid() bool {
	switch t {
	case WalletFiat, WalletCrypto, WalletHybrid:
		return true
	}
	return false
}

// CreateWalletRequest describes a wallet to open.
type CreateWalletRequest struct {
	UserID         string
	Currency       string
	Type           WalletType
	InitialBalance decimal.Decimal
}

// WalletAudit compares a wallet's stored balance with the sum of its ledger.
type WalletAudit struct {
	WalletID         uuid.UUID       `json:"wallet_id"`
	Balance          decimal.Decimal `json:"balance"`
	LedgerSum        decimal.Decimal `json:"ledger_sum"`
	TransactionCount int64           `json:"transaction_count"`
	Consistent       bool            `json:"consistent"`
}
