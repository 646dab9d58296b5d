package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, wallet_id, user_id, type, direction, amount, fee,
    balance_before, balance_after, status, COALESCE(reference, '') AS reference,
    counterparty, description, linked_transaction_id, refunded_amount, created_at`

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, s.db, id, false)
}

func (s *Store) FindByReference(ctx context.Context, walletID uuid.UUID, reference string) (*models.Transaction, error) {
	return findByReference(ctx, s.db, walletID, reference)
}

func (s *Store) ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error) {
	filter = filter.Normalize()

	where := []string{"wallet_id = $1"}
	args := []any{walletID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, "type = ANY("+arg(pq.Array(types))+")")
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < "+arg(filter.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, seq DESC LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset)

	txs := []models.Transaction{}
	if err := s.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, mapError("list transactions", err)
	}
	return txs, nil
}

func (s *Store) SumSignedEffects(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error) {
	var row struct {
		Sum   decimal.Decimal `db:"sum"`
		Count int64           `db:"count"`
	}
	const query = `
        SELECT COALESCE(SUM(amount * direction), 0) AS sum, COUNT(*) AS count
        FROM transactions
        WHERE wallet_id = $1 AND status = 'completed'`
	if err := s.db.GetContext(ctx, &row, query, walletID); err != nil {
		return decimal.Zero, 0, mapError("sum transactions", err)
	}
	return row.Sum, row.Count, nil
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var t models.Transaction
	if err := sqlx.GetContext(ctx, q, &t, query, id); err != nil {
		if isNoRows(err) {
			return nil, models.NotFoundError("transaction", id)
		}
		return nil, mapError("get transaction", err)
	}
	return &t, nil
}

func findByReference(ctx context.Context, q sqlx.QueryerContext, walletID uuid.UUID, reference string) (*models.Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
        WHERE wallet_id = $1 AND reference = $2 AND status = 'completed'`
	var t models.Transaction
	if err := sqlx.GetContext(ctx, q, &t, query, walletID, reference); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, mapError("find by reference", err)
	}
	return &t, nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	const query = `
        INSERT INTO transactions (
            id, wallet_id, user_id, type, direction, amount, fee,
            balance_before, balance_after, status, reference, counterparty,
            description, linked_transaction_id, refunded_amount, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
        RETURNING created_at`

	err := t.tx.GetContext(ctx, &txn.CreatedAt, query,
		txn.ID,
		txn.WalletID,
		txn.UserID,
		txn.Type,
		txn.Direction,
		txn.Amount,
		txn.Fee,
		txn.BalanceBefore,
		txn.BalanceAfter,
		txn.Status,
		nullString(txn.Reference),
		txn.Counterparty,
		txn.Description,
		txn.LinkedTransactionID,
		txn.RefundedAmount,
	)
	if err != nil {
		return mapError("create transaction", err)
	}
	return nil
}

func (t *pgTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, id, true)
}

func (t *pgTx) FindByReference(ctx context.Context, walletID uuid.UUID, reference string) (*models.Transaction, error) {
	return findByReference(ctx, t.tx, walletID, reference)
}

func (t *pgTx) ListLinked(ctx context.Context, id uuid.UUID) ([]models.Transaction, error) {
	txs := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE linked_transaction_id = $1 ORDER BY seq`
	if err := t.tx.SelectContext(ctx, &txs, query, id); err != nil {
		return nil, mapError("list linked transactions", err)
	}
	return txs, nil
}

func (t *pgTx) AddRefundedAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	const query = `
        UPDATE transactions
        SET refunded_amount = refunded_amount + $1
        WHERE id = $2 AND refunded_amount + $1 <= amount`
	res, err := t.tx.ExecContext(ctx, query, amount, id)
	if err != nil {
		return mapError("add refunded amount", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("add refunded amount", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, models.ErrAlreadyRefunded)
	}
	return nil
}
