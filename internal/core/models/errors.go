package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyRefunded     = errors.New("refund exceeds refundable amount")
	// ErrConcurrencyConflict is safe to retry with the same reference.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateWallet     = errors.New("wallet already exists")
)

func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundError(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// InsufficientBalanceError carries the amounts behind a rejected debit.
type InsufficientBalanceError struct {
	WalletID  uuid.UUID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: wallet %s requested %s, available %s",
		ErrInsufficientBalance, e.WalletID, e.Requested.String(), e.Available.String())
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
