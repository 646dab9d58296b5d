package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/metrics"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/google/uuid"
)

// Manager serializes work on wallets. Locks on several wallets are always
// taken in ascending id order, so two callers locking the same set in
// different orders cannot deadlock.
type Manager interface {
	WithWalletLock(ctx context.Context, id uuid.UUID, fn func() error) error
	WithWalletPairLock(ctx context.Context, a, b uuid.UUID, fn func() error) error
	WithWalletsLock(ctx context.Context, ids []uuid.UUID, fn func() error) error
}

type backend interface {
	acquire(ctx context.Context, id uuid.UUID) (release func(), err error)
	name() string
}

type manager struct {
	backend backend
	timeout time.Duration
	log     logger.Logger
}

func newManager(b backend, timeout time.Duration, log logger.Logger) *manager {
	return &manager{backend: b, timeout: timeout, log: log}
}

func (m *manager) WithWalletLock(ctx context.Context, id uuid.UUID, fn func() error) error {
	return m.WithWalletsLock(ctx, []uuid.UUID{id}, fn)
}

func (m *manager) WithWalletPairLock(ctx context.Context, a, b uuid.UUID, fn func() error) error {
	return m.WithWalletsLock(ctx, []uuid.UUID{a, b}, fn)
}

func (m *manager) WithWalletsLock(ctx context.Context, ids []uuid.UUID, fn func() error) error {
	ordered := OrderIDs(ids)

	lockCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	releases := make([]func(), 0, len(ordered))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	for _, id := range ordered {
		release, err := m.backend.acquire(lockCtx, id)
		if err != nil {
			return m.acquireError(ctx, id, err)
		}
		releases = append(releases, release)
	}
	metrics.LockWaitSeconds.WithLabelValues(m.backend.name()).Observe(time.Since(start).Seconds())

	return fn()
}

func (m *manager) acquireError(ctx context.Context, id uuid.UUID, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.LockTimeoutsTotal.WithLabelValues(m.backend.name()).Inc()
		m.log.Warn("Wallet lock timed out",
			logger.StringField("wallet_id", id.String()),
			logger.StringField("strategy", m.backend.name()),
			logger.DurationField("timeout", m.timeout))
		return fmt.Errorf("lock wallet %s: %w", id, models.ErrConcurrencyConflict)
	}
	m.log.Error("Wallet lock failed",
		logger.StringField("wallet_id", id.String()),
		logger.ErrorField("error", err))
	return fmt.Errorf("lock wallet %s: %w", id, err)
}

// OrderIDs returns the distinct ids in ascending order.
func OrderIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
