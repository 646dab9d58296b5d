package lock

import (
	"context"
	"sync"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/google/uuid"
)

type walletMutex struct {
	ch   chan struct{}
	refs int
}

// memoryBackend keeps one channel-based mutex per wallet in use. Entries are
// dropped once nobody holds or waits for them.
type memoryBackend struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*walletMutex
}

// NewMemoryManager locks wallets inside this process only.
func NewMemoryManager(timeout time.Duration, log logger.Logger) Manager {
	return newManager(&memoryBackend{locks: make(map[uuid.UUID]*walletMutex)}, timeout, log)
}

func (b *memoryBackend) name() string { return "memory" }

func (b *memoryBackend) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	b.mu.Lock()
	wm, ok := b.locks[id]
	if !ok {
		wm = &walletMutex{ch: make(chan struct{}, 1)}
		b.locks[id] = wm
	}
	wm.refs++
	b.mu.Unlock()

	select {
	case wm.ch <- struct{}{}:
		return func() {
			<-wm.ch
			b.unref(id, wm)
		}, nil
	case <-ctx.Done():
		b.unref(id, wm)
		return nil, ctx.Err()
	}
}

func (b *memoryBackend) unref(id uuid.UUID, wm *walletMutex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wm.refs--
	if wm.refs == 0 {
		delete(b.locks, id)
	}
}

func (b *memoryBackend) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locks)
}
