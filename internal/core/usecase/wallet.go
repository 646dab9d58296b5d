package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (uc *walletUsecase) CreateWallet(ctx context.Context, req models.CreateWalletRequest) (*models.Wallet, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, models.ValidationError("user_id is required")
	}
	if err := validateText("user_id", userID, maxReferenceLen); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, models.ValidationError("unknown wallet type %q", req.Type)
	}
	currency, err := models.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.InitialBalance.IsNegative() {
		return nil, models.ValidationError("initial_balance must not be negative")
	}
	if err := validateScale("initial_balance", req.InitialBalance); err != nil {
		return nil, err
	}

	wallet := &models.Wallet{
		ID:            uuid.New(),
		UserID:        userID,
		Currency:      currency,
		Type:          req.Type,
		Balance:       decimal.Zero,
		LockedBalance: decimal.Zero,
	}

	err = uc.run(ctx, []uuid.UUID{wallet.ID}, func(ctx context.Context, tx repository.Tx, u *unit) error {
		if err := tx.InsertWallet(ctx, wallet, uc.cfg.UniqueWallets); err != nil {
			return err
		}
		if !req.InitialBalance.IsPositive() {
			return nil
		}
		return uc.post(ctx, tx, wallet, &models.Transaction{
			ID:          uuid.New(),
			Type:        models.TransactionDeposit,
			Direction:   models.Credit,
			Amount:      req.InitialBalance,
			Fee:         decimal.Zero,
			Description: "opening balance",
		}, u)
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateWallet) {
			uc.log.Warn("Duplicate wallet",
				logger.StringField("user_id", userID),
				logger.StringField("currency", currency),
				logger.StringField("wallet_type", string(req.Type)))
			return nil, fmt.Errorf("user %s %s %s: %w", userID, currency, req.Type, models.ErrDuplicateWallet)
		}
		uc.log.Error("Create wallet failed",
			logger.StringField("user_id", userID),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	uc.log.Info("Wallet created",
		logger.StringField("wallet_id", wallet.ID.String()),
		logger.StringField("user_id", userID),
		logger.StringField("currency", currency),
		logger.StringField("balance", wallet.Balance.String()))
	return wallet, nil
}

// GetWallet reads the last committed balance without taking the wallet lock.
func (uc *walletUsecase) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, err := uc.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (uc *walletUsecase) ListWallets(ctx context.Context, userID string) ([]models.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ValidationError("user_id is required")
	}
	wallets, err := uc.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return wallets, nil
}

// Audit replays the wallet's completed transactions and compares the sum with
// the stored balance. It holds the wallet lock so no operation lands between
// the two reads; with row locking the reads are two separate snapshots.
func (uc *walletUsecase) Audit(ctx context.Context, id uuid.UUID) (*models.WalletAudit, error) {
	var audit *models.WalletAudit
	err := uc.locks.WithWalletLock(ctx, id, func() error {
		w, err := uc.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("get wallet: %w", err)
		}
		sum, count, err := uc.store.SumSignedEffects(ctx, id)
		if err != nil {
			return fmt.Errorf("sum transactions: %w", err)
		}
		audit = &models.WalletAudit{
			WalletID:         id,
			Balance:          w.Balance,
			LedgerSum:        sum,
			TransactionCount: count,
			Consistent:       sum.Equal(w.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !audit.Consistent {
		uc.log.Error("Wallet balance does not match ledger",
			logger.StringField("wallet_id", id.String()),
			logger.StringField("balance", audit.Balance.String()),
			logger.StringField("ledger_sum", audit.LedgerSum.String()))
	}
	return audit, nil
}
