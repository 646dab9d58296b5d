package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBalanceChanged    EventType = "wallet.balance_changed"
	EventInsufficientFunds EventType = "wallet.insufficient_funds"
)

// Event is published to other services after a ledger mutation commits.
type Event struct {
	ID               uuid.UUID        `json:"event_id"`
	Type             EventType        `json:"type"`
	WalletID         uuid.UUID        `json:"wallet_id"`
	TransactionID    *uuid.UUID       `json:"transaction_id,omitempty"`
	BalanceAfter     *decimal.Decimal `json:"balance_after,omitempty"`
	RequestedAmount  *decimal.Decimal `json:"requested_amount,omitempty"`
	AvailableBalance *decimal.Decimal `json:"available_balance,omitempty"`
	OccurredAt       time.Time        `json:"occurred_at"`
}

func NewBalanceChangedEvent(t *Transaction, at time.Time) Event {
	txID := t.ID
	after := t.BalanceAfter
	return Event{
		ID:            uuid.New(),
		Type:          EventBalanceChanged,
		WalletID:      t.WalletID,
		TransactionID: &txID,
		BalanceAfter:  &after,
		OccurredAt:    at,
	}
}

func NewInsufficientFundsEvent(walletID uuid.UUID, requested, available decimal.Decimal, at time.Time) Event {
	return Event{
		ID:               uuid.New(),
		Type:             EventInsufficientFunds,
		WalletID:         walletID,
		RequestedAmount:  &requested,
		AvailableBalance: &available,
		OccurredAt:       at,
	}
}
