package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit     TransactionType = "deposit"
	TransactionWithdraw    TransactionType = "withdraw"
	TransactionConsume     TransactionType = "consume"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionTransferIn  TransactionType = "transfer_in"
	TransactionRefund      TransactionType = "refund"
)

// TransactionTypes lists every type the ledger records.
var TransactionTypes = []TransactionType{
	TransactionDeposit,
	TransactionWithdraw,
	TransactionConsume,
	TransactionTransferOut,
	TransactionTransferIn,
	TransactionRefund,
}

// Direction is the sign a transaction applies to its wallet balance.
type Direction int

const (
	Debit  Direction = -1
	Credit Direction = 1
)

func (d Direction) Reverse() Direction { return -d }

func (d Direction) String() string {
	switch d {
	case Debit:
		return "debit"
	case Credit:
		return "credit"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// typeDirections is the handler table for fixed-sign types. A refund takes the
// reverse direction of the transaction it refunds, so it has no entry.
var typeDirections = map[TransactionType]Direction{
	TransactionDeposit:     Credit,
	TransactionWithdraw:    Debit,
	TransactionConsume:     Debit,
	TransactionTransferOut: Debit,
	TransactionTransferIn:  Credit,
}

// Direction reports the fixed direction of t. ok is false for refunds and
// unknown types.
func (t TransactionType) Direction() (dir Direction, ok bool) {
	dir, ok = typeDirections[t]
	return dir, ok
}

func (t TransactionType) Valid() bool {
	if t == TransactionRefund {
		return true
	}
	_, ok := typeDirections[t]
	return ok
}

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", ValidationError("unknown transaction type %q", s)
	}
	return t, nil
}

type TransactionStatus string

const (
	// TransactionPending only exists while an operation is in flight.
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(s); st {
	case TransactionCompleted, TransactionFailed:
		return st, nil
	}
	return "", ValidationError("unknown transaction status %q", s)
}

type Transaction struct {
	ID                  uuid.UUID         `json:"transaction_id" db:"id"`
	WalletID            uuid.UUID         `json:"wallet_id" db:"wallet_id"`
	UserID              string            `json:"user_id" db:"user_id"`
	Type                TransactionType   `json:"type" db:"type"`
	Direction           Direction         `json:"direction" db:"direction"`
	Amount              decimal.Decimal   `json:"amount" db:"amount"`
	Fee                 decimal.Decimal   `json:"fee" db:"fee"`
	BalanceBefore       decimal.Decimal   `json:"balance_before" db:"balance_before"`
	BalanceAfter        decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Status              TransactionStatus `json:"status" db:"status"`
	Reference           string            `json:"reference,omitempty" db:"reference"`
	Counterparty        string            `json:"counterparty,omitempty" db:"counterparty"`
	Description         string            `json:"description,omitempty" db:"description"`
	LinkedTransactionID *uuid.UUID        `json:"linked_transaction_id,omitempty" db:"linked_transaction_id"`
	RefundedAmount      decimal.Decimal   `json:"refunded_amount" db:"refunded_amount"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// SignedEffect is the change this transaction makes to its wallet balance.
// Failed transactions change nothing.
func (t *Transaction) SignedEffect() decimal.Decimal {
	if t.Status != TransactionCompleted {
		return decimal.Zero
	}
	return t.Amount.Mul(decimal.NewFromInt(int64(t.Direction)))
}

// Balanced reports whether balance_after - balance_before equals the signed effect.
func (t *Transaction) Balanced() bool {
	return t.BalanceAfter.Sub(t.BalanceBefore).Equal(t.SignedEffect())
}

// RefundableAmount is what is left to refund on an original transaction.
func (t *Transaction) RefundableAmount() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	Types  []TransactionType
	Status TransactionStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalize clamps the page window.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches applies every filter except pagination.
func (f TransactionFilter) Matches(t *Transaction) bool {
	if len(f.Types) > 0 {
		found := false
		for _, typ := range f.Types {
			if typ == t.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && f.Status != t.Status {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// OperationRequest is a single-wallet deposit, withdraw or consume.
// Counterparty carries the deposit source, the withdraw destination or the
// consuming service.
type OperationRequest struct {
	WalletID     uuid.UUID
	Amount       decimal.Decimal
	Counterparty string
	Reference    string
	Description  string
}

type TransferRequest struct {
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       decimal.Decimal
	Fee          decimal.Decimal
	Reference    string
	Description  string
}

type RefundRequest struct {
	TransactionID uuid.UUID
	Reason        string
	// Amount defaults to the remaining refundable amount when nil.
	Amount *decimal.Decimal
}

type OperationResult struct {
	Transaction  Transaction     `json:"transaction"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	// Replayed is set when the result was loaded by reference instead of applied.
	Replayed bool `json:"replayed"`
}

type TransferResult struct {
	Out Transaction `json:"transfer_out"`
	In  Transaction `json:"transfer_in"`
	// FeeCredit is the platform wallet credit when fees are not burned.
	FeeCredit *Transaction `json:"fee_credit,omitempty"`
	Replayed  bool         `json:"replayed"`
}
