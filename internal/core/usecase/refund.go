package usecase

import (
	"context"
	"fmt"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Refund reverses all or part of a completed transaction on the wallet it
// touched. The refunded total never exceeds the original amount.
func (uc *walletUsecase) Refund(ctx context.Context, req models.RefundRequest) (*models.OperationResult, error) {
	amount := decimal.Zero
	if req.Amount != nil {
		amount = *req.Amount
	}
	uc.logStart(models.TransactionRefund, uuid.Nil, amount, req.TransactionID.String())

	if err := validateRefund(req); err != nil {
		uc.finish(models.TransactionRefund, uuid.Nil, err)
		return nil, err
	}

	original, err := uc.store.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		err = fmt.Errorf("get transaction: %w", err)
		uc.finish(models.TransactionRefund, uuid.Nil, err)
		return nil, err
	}
	if err := refundable(original); err != nil {
		uc.finish(models.TransactionRefund, original.WalletID, err)
		return nil, err
	}

	var result *models.OperationResult
	err = uc.run(ctx, []uuid.UUID{original.WalletID}, func(ctx context.Context, tx repository.Tx, u *unit) error {
		wallet, err := tx.GetWalletForUpdate(ctx, original.WalletID)
		if err != nil {
			return err
		}
		// Re-read under the lock: the refunded amount may have moved.
		orig, err := tx.GetTransactionForUpdate(ctx, req.TransactionID)
		if err != nil {
			return err
		}

		remaining := orig.RefundableAmount()
		if !remaining.IsPositive() {
			return fmt.Errorf("transaction %s fully refunded: %w", orig.ID, models.ErrAlreadyRefunded)
		}
		refundAmount := remaining
		if req.Amount != nil {
			if req.Amount.GreaterThan(remaining) {
				return fmt.Errorf("transaction %s: requested %s, refundable %s: %w",
					orig.ID, req.Amount.String(), remaining.String(), models.ErrAlreadyRefunded)
			}
			refundAmount = *req.Amount
		}

		origID := orig.ID
		t := &models.Transaction{
			ID:                  uuid.New(),
			Type:                models.TransactionRefund,
			Direction:           orig.Direction.Reverse(),
			Amount:              refundAmount,
			Fee:                 decimal.Zero,
			Counterparty:        orig.Counterparty,
			Description:         req.Reason,
			LinkedTransactionID: &origID,
		}
		if err := uc.post(ctx, tx, wallet, t, u); err != nil {
			return err
		}
		if err := tx.AddRefundedAmount(ctx, orig.ID, refundAmount); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		result = &models.OperationResult{Transaction: *t, BalanceAfter: t.BalanceAfter}
		return nil
	})
	if err != nil {
		uc.finish(models.TransactionRefund, original.WalletID, err)
		return nil, err
	}

	uc.succeed(models.TransactionRefund, result.Transaction, false)
	return result, nil
}

func refundable(t *models.Transaction) error {
	if t.Type == models.TransactionRefund {
		return models.ValidationError("transaction %s is a refund and cannot be refunded", t.ID)
	}
	if t.Status != models.TransactionCompleted {
		return models.ValidationError("transaction %s is %s, only completed transactions can be refunded", t.ID, t.Status)
	}
	return nil
}
