package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/ledger/internal/core/events"
	"github.com/Nzyazin/ledger/internal/core/lock"
	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/metrics"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletUsecase is the transaction processor. Every mutating call runs under
// the wallet locks in a single store transaction.
type WalletUsecase interface {
	CreateWallet(ctx context.Context, req models.CreateWalletRequest) (*models.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]models.Wallet, error)
	Audit(ctx context.Context, id uuid.UUID) (*models.WalletAudit, error)

	Deposit(ctx context.Context, req models.OperationRequest) (*models.OperationResult, error)
	Withdraw(ctx context.Context, req models.OperationRequest) (*models.OperationResult, error)
	Consume(ctx context.Context, req models.OperationRequest) (*models.OperationResult, error)
	Transfer(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error)
	Refund(ctx context.Context, req models.RefundRequest) (*models.OperationResult, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error)
}

// FeePolicy decides where the fee of a transfer ends up.
type FeePolicy string

const (
	// FeeBurn removes transfer fees from circulation.
	FeeBurn FeePolicy = "burn"
	// FeePlatform credits transfer fees to Config.PlatformWalletID.
	FeePlatform FeePolicy = "platform"
)

type Config struct {
	// FeePolicy defaults to FeeBurn.
	FeePolicy FeePolicy
	// PlatformWalletID receives transfer fees under FeePlatform.
	PlatformWalletID uuid.UUID
	// UniqueWallets allows one wallet per user, currency and type.
	UniqueWallets bool
	// RecordFailed keeps a failed record for every debit rejected for
	// insufficient balance. The record never moves the balance.
	RecordFailed bool
}

type walletUsecase struct {
	store  repository.Store
	locks  lock.Manager
	events events.Sink
	cfg    Config
	log    logger.Logger
	now    func() time.Time
}

func NewWalletUsecase(store repository.Store, locks lock.Manager, sink events.Sink, cfg Config, log logger.Logger) WalletUsecase {
	if cfg.FeePolicy == "" {
		cfg.FeePolicy = FeeBurn
	}
	return &walletUsecase{
		store:  store,
		locks:  locks,
		events: sink,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

func (uc *walletUsecase) Deposit(ctx context.Context, req models.OperationRequest) (*models.OperationResult, error) {
	return uc.operate(ctx, models.TransactionDeposit, req)
}

func (uc *walletUsecase) Withdraw(ctx context.Context, req models.OperationRequest) (*models.OperationResult, error) {
	return uc.operate(ctx, models.TransactionWithdraw, req)
}

func (uc *walletUsecase) Consume(ctx context.Context, req models.OperationRequest) (*models.OperationResult, error) {
	return uc.operate(ctx, models.TransactionConsume, req)
}

// operate runs a single-wallet operation whose direction is fixed by typ.
func (uc *walletUsecase) operate(ctx context.Context, typ models.TransactionType, req models.OperationRequest) (*models.OperationResult, error) {
	uc.logStart(typ, req.WalletID, req.Amount, req.Reference)

	dir, ok := typ.Direction()
	if !ok {
		return nil, models.ValidationError("unsupported operation %q", typ)
	}
	if err := validateOperation(typ, req); err != nil {
		uc.finish(typ, req.WalletID, err)
		return nil, err
	}

	var result *models.OperationResult
	err := uc.run(ctx, []uuid.UUID{req.WalletID}, func(ctx context.Context, tx repository.Tx, u *unit) error {
		wallet, err := tx.GetWalletForUpdate(ctx, req.WalletID)
		if err != nil {
			return err
		}

		prior, err := uc.findPrior(ctx, tx, req.WalletID, req.Reference, typ)
		if err != nil {
			return err
		}
		if prior != nil {
			result = &models.OperationResult{Transaction: *prior, BalanceAfter: prior.BalanceAfter, Replayed: true}
			return nil
		}

		t := &models.Transaction{
			ID:           uuid.New(),
			Type:         typ,
			Direction:    dir,
			Amount:       req.Amount,
			Fee:          decimal.Zero,
			Reference:    req.Reference,
			Counterparty: req.Counterparty,
			Description:  req.Description,
		}
		if err := uc.post(ctx, tx, wallet, t, u); err != nil {
			return err
		}
		result = &models.OperationResult{Transaction: *t, BalanceAfter: t.BalanceAfter}
		return nil
	})
	if err != nil {
		uc.finish(typ, req.WalletID, err)
		return nil, err
	}

	uc.succeed(typ, result.Transaction, result.Replayed)
	return result, nil
}

func (uc *walletUsecase) Transfer(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error) {
	uc.logStart(models.TransactionTransferOut, req.FromWalletID, req.Amount, req.Reference)

	if err := validateTransfer(req); err != nil {
		uc.finish(models.TransactionTransferOut, req.FromWalletID, err)
		return nil, err
	}

	ids := []uuid.UUID{req.FromWalletID, req.ToWalletID}
	creditFee := uc.cfg.FeePolicy == FeePlatform && req.Fee.IsPositive()
	if creditFee {
		ids = append(ids, uc.cfg.PlatformWalletID)
	}

	var result *models.TransferResult
	err := uc.run(ctx, ids, func(ctx context.Context, tx repository.Tx, u *unit) error {
		wallets := make(map[uuid.UUID]*models.Wallet, len(ids))
		for _, id := range lock.OrderIDs(ids) {
			w, err := tx.GetWalletForUpdate(ctx, id)
			if err != nil {
				return err
			}
			wallets[id] = w
		}
		from, to := wallets[req.FromWalletID], wallets[req.ToWalletID]
		if from.Currency != to.Currency {
			return models.ValidationError("currency mismatch: %s -> %s", from.Currency, to.Currency)
		}
		if creditFee && wallets[uc.cfg.PlatformWalletID].Currency != from.Currency {
			return models.ValidationError("platform wallet holds %s, transfer is in %s",
				wallets[uc.cfg.PlatformWalletID].Currency, from.Currency)
		}

		prior, err := uc.findPrior(ctx, tx, from.ID, req.Reference, models.TransactionTransferOut)
		if err != nil {
			return err
		}
		if prior != nil {
			result, err = uc.loadTransfer(ctx, tx, prior)
			return err
		}

		out := &models.Transaction{
			ID:           uuid.New(),
			Type:         models.TransactionTransferOut,
			Direction:    models.Debit,
			Amount:       req.Amount,
			Fee:          req.Fee,
			Reference:    req.Reference,
			Counterparty: to.ID.String(),
			Description:  req.Description,
		}
		in := &models.Transaction{
			ID:           uuid.New(),
			Type:         models.TransactionTransferIn,
			Direction:    models.Credit,
			Amount:       req.Amount.Sub(req.Fee),
			Fee:          decimal.Zero,
			Counterparty: from.ID.String(),
			Description:  req.Description,
		}
		out.LinkedTransactionID = &in.ID
		in.LinkedTransactionID = &out.ID

		if err := uc.post(ctx, tx, from, out, u); err != nil {
			return err
		}
		if err := uc.post(ctx, tx, to, in, u); err != nil {
			return err
		}
		result = &models.TransferResult{Out: *out, In: *in}

		if creditFee {
			platform := wallets[uc.cfg.PlatformWalletID]
			fee := &models.Transaction{
				ID:                  uuid.New(),
				Type:                models.TransactionTransferIn,
				Direction:           models.Credit,
				Amount:              req.Fee,
				Fee:                 decimal.Zero,
				Counterparty:        from.ID.String(),
				Description:         "transfer fee",
				LinkedTransactionID: &out.ID,
			}
			if err := uc.post(ctx, tx, platform, fee, u); err != nil {
				return err
			}
			result.FeeCredit = fee
		}
		return nil
	})
	if err != nil {
		uc.finish(models.TransactionTransferOut, req.FromWalletID, err)
		return nil, err
	}

	uc.succeed(models.TransactionTransferOut, result.Out, result.Replayed)
	return result, nil
}

// loadTransfer rebuilds the result of an already applied transfer from its
// transfer_out record.
func (uc *walletUsecase) loadTransfer(ctx context.Context, tx repository.Tx, out *models.Transaction) (*models.TransferResult, error) {
	linked, err := tx.ListLinked(ctx, out.ID)
	if err != nil {
		return nil, fmt.Errorf("load transfer %s: %w", out.ID, err)
	}
	result := &models.TransferResult{Out: *out, Replayed: true}
	found := false
	for i := range linked {
		t := linked[i]
		if t.Type != models.TransactionTransferIn {
			continue
		}
		if out.LinkedTransactionID != nil && t.ID == *out.LinkedTransactionID {
			result.In = t
			found = true
			continue
		}
		result.FeeCredit = &t
	}
	if !found {
		return nil, fmt.Errorf("transfer %s has no transfer_in record", out.ID)
	}
	return result, nil
}

func (uc *walletUsecase) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := uc.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (uc *walletUsecase) ListTransactions(ctx context.Context, walletID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error) {
	if _, err := uc.store.GetByID(ctx, walletID); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, models.ValidationError("created_to is before created_from")
	}
	txs, err := uc.store.ListTransactions(ctx, walletID, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// unit collects what one locked unit of work produced. events are published
// only when the unit commits; failed attempts and their events only when it
// is rejected for insufficient balance.
type unit struct {
	events   []models.Event
	failed   []models.Transaction
	rejected []models.Event
}

// run executes fn as one atomic unit of work while holding the locks of every
// wallet in walletIDs. Once the locks are held the work no longer observes
// caller cancellation. Events go out after the locks are released.
func (uc *walletUsecase) run(ctx context.Context, walletIDs []uuid.UUID, fn func(ctx context.Context, tx repository.Tx, u *unit) error) error {
	u := &unit{}
	err := uc.locks.WithWalletsLock(ctx, walletIDs, func() error {
		work := context.WithoutCancel(ctx)
		err := uc.store.ExecuteTx(work, func(ctx context.Context, tx repository.Tx) error {
			return fn(ctx, tx, u)
		})
		if errors.Is(err, models.ErrInsufficientBalance) && uc.cfg.RecordFailed && len(u.failed) > 0 {
			uc.recordFailed(work, u.failed)
		}
		return err
	})

	switch {
	case err == nil:
		uc.publish(u.events)
	case errors.Is(err, models.ErrInsufficientBalance):
		uc.publish(u.rejected)
	}
	return err
}

func (uc *walletUsecase) recordFailed(ctx context.Context, failed []models.Transaction) {
	err := uc.store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for i := range failed {
			if err := tx.AppendTransaction(ctx, &failed[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		uc.log.Error("Failed to record rejected transaction",
			logger.StringField("wallet_id", failed[0].WalletID.String()),
			logger.ErrorField("error", err))
	}
}

func (uc *walletUsecase) publish(evts []models.Event) {
	for _, e := range evts {
		uc.events.Submit(e)
	}
}

// findPrior returns the completed transaction already recorded under
// reference, or nil. A reference reused for a different type is rejected.
func (uc *walletUsecase) findPrior(ctx context.Context, tx repository.Tx, walletID uuid.UUID, reference string, typ models.TransactionType) (*models.Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	prior, err := tx.FindByReference(ctx, walletID, reference)
	if err != nil {
		return nil, fmt.Errorf("find by reference: %w", err)
	}
	if prior == nil {
		return nil, nil
	}
	if prior.Type != typ {
		return nil, models.ValidationError("reference %q already used by a %s transaction", reference, prior.Type)
	}
	uc.log.Info("Replaying operation by reference",
		logger.StringField("wallet_id", walletID.String()),
		logger.StringField("reference", reference),
		logger.StringField("transaction_id", prior.ID.String()))
	return prior, nil
}

// post applies t to w within the unit of work. A debit above the available
// balance is staged on u as a failed attempt and returned as
// *models.InsufficientBalanceError.
func (uc *walletUsecase) post(ctx context.Context, tx repository.Tx, w *models.Wallet, t *models.Transaction, u *unit) error {
	t.WalletID = w.ID
	t.UserID = w.UserID
	t.BalanceBefore = w.Balance

	if t.Direction == models.Debit {
		available := w.AvailableBalance()
		if available.LessThan(t.Amount) {
			failed := *t
			failed.Status = models.TransactionFailed
			failed.BalanceAfter = w.Balance
			if failed.Type == models.TransactionTransferOut {
				failed.LinkedTransactionID = nil
			}
			u.failed = append(u.failed, failed)
			u.rejected = append(u.rejected, models.NewInsufficientFundsEvent(w.ID, t.Amount, available, uc.now()))
			return &models.InsufficientBalanceError{WalletID: w.ID, Requested: t.Amount, Available: available}
		}
	}

	t.Status = models.TransactionCompleted
	t.BalanceAfter = w.Balance.Add(t.SignedEffect())
	if !t.Balanced() || t.BalanceAfter.IsNegative() || t.BalanceAfter.LessThan(w.LockedBalance) {
		return fmt.Errorf("transaction %s on wallet %s does not balance", t.ID, w.ID)
	}

	w.Balance = t.BalanceAfter
	if err := tx.UpdateWalletBalance(ctx, w); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if err := tx.AppendTransaction(ctx, t); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	u.events = append(u.events, models.NewBalanceChangedEvent(t, uc.now()))
	return nil
}

func (uc *walletUsecase) logStart(typ models.TransactionType, walletID uuid.UUID, amount decimal.Decimal, reference string) {
	uc.log.Info("Starting operation",
		logger.StringField("type", string(typ)),
		logger.StringField("wallet_id", walletID.String()),
		logger.StringField("amount", amount.String()),
		logger.StringField("reference", reference))
}

func (uc *walletUsecase) succeed(typ models.TransactionType, t models.Transaction, replayed bool) {
	status := "completed"
	if replayed {
		status = "replayed"
	}
	metrics.OperationsTotal.WithLabelValues(string(typ), status).Inc()
	uc.log.Info("Operation completed",
		logger.StringField("type", string(typ)),
		logger.StringField("wallet_id", t.WalletID.String()),
		logger.StringField("transaction_id", t.ID.String()),
		logger.StringField("balance_after", t.BalanceAfter.String()),
		logger.BoolField("replayed", replayed))
}

func (uc *walletUsecase) finish(typ models.TransactionType, walletID uuid.UUID, err error) {
	fields := []logger.Field{
		logger.StringField("type", string(typ)),
		logger.StringField("wallet_id", walletID.String()),
		logger.ErrorField("error", err),
	}
	switch {
	case errors.Is(err, models.ErrInsufficientBalance):
		metrics.OperationsTotal.WithLabelValues(string(typ), "failed").Inc()
		uc.log.Warn("Operation rejected", fields...)
	case isDomainError(err):
		metrics.OperationsTotal.WithLabelValues(string(typ), "rejected").Inc()
		uc.log.Warn("Operation rejected", fields...)
	default:
		metrics.OperationsTotal.WithLabelValues(string(typ), "error").Inc()
		uc.log.Error("Operation failed", fields...)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		models.ErrValidation,
		models.ErrNotFound,
		models.ErrAlreadyRefunded,
		models.ErrConcurrencyConflict,
		models.ErrDuplicateWallet,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
