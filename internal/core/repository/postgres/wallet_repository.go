package postgres

import (
	"context"
	"fmt"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const walletColumns = `id, user_id, currency, wallet_type, balance, locked_balance, created_at, updated_at`

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return getWallet(ctx, s.db, id, false)
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &wallets, query, userID); err != nil {
		return nil, mapError("list wallets", err)
	}
	return wallets, nil
}

func getWallet(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, forUpdate bool) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, q, &wallet, query, id); err != nil {
		if isNoRows(err) {
			return nil, models.NotFoundError("wallet", id)
		}
		return nil, mapError("get wallet", err)
	}
	return &wallet, nil
}

func (t *pgTx) InsertWallet(ctx context.Context, w *models.Wallet, unique bool) error {
	if unique {
		// Serializes concurrent creates for the same (user, currency, type) key.
		key := fmt.Sprintf("wallet:%s:%s:%s", w.UserID, w.Currency, w.Type)
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return mapError("lock wallet key", err)
		}
		var exists bool
		err := t.tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1 AND currency = $2 AND wallet_type = $3)`,
			w.UserID, w.Currency, w.Type)
		if err != nil {
			return mapError("check wallet key", err)
		}
		if exists {
			return models.ErrDuplicateWallet
		}
	}

	const query = `
        INSERT INTO wallets (id, user_id, currency, wallet_type, balance, locked_balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING created_at, updated_at`
	err := t.tx.QueryRowxContext(ctx, query,
		w.ID, w.UserID, w.Currency, w.Type, w.Balance, w.LockedBalance,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		t.log.Error("Insert wallet failed",
			logger.StringField("wallet_id", w.ID.String()),
			logger.ErrorField("error", err))
		return mapError("insert wallet", err)
	}
	return nil
}

func (t *pgTx) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return getWallet(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, w *models.Wallet) error {
	const query = `
        UPDATE wallets
        SET balance = $1, locked_balance = $2, updated_at = NOW()
        WHERE id = $3
        RETURNING updated_at`
	err := t.tx.GetContext(ctx, &w.UpdatedAt, query, w.Balance, w.LockedBalance, w.ID)
	if err != nil {
		if isNoRows(err) {
			return models.NotFoundError("wallet", w.ID)
		}
		return mapError("update balance", err)
	}
	return nil
}
