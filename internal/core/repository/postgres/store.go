package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/repository"
	"github.com/jmoiron/sqlx"
)

// Store keeps wallets and the transaction log in Postgres. Each unit of work is
// one READ COMMITTED transaction; rows read for update are locked with
// SELECT ... FOR UPDATE and waits are bounded by lock_timeout.
type Store struct {
	db          *sqlx.DB
	log         logger.Logger
	lockTimeout time.Duration
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, log logger.Logger, lockTimeout time.Duration) *Store {
	return &Store{
		db:          db,
		log:         log,
		lockTimeout: lockTimeout,
	}
}

type pgTx struct {
	tx  *sqlx.Tx
	log logger.Logger
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	var isCommitted bool
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return mapError("begin transaction", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			} else {
				s.log.Debug("Transaction rolled back", logger.ErrorField("error", err))
			}
		}
	}()

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return mapError("set lock timeout", err)
		}
	}

	if err = fn(ctx, &pgTx{tx: tx, log: s.log}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		s.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return mapError("commit", err)
	}

	isCommitted = true
	return nil
}
