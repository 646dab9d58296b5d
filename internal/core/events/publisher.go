package events

import (
	"context"

	"github.com/Nzyazin/ledger/internal/core/models"
)

// Publisher delivers one event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
	Close() error
}

// Sink accepts events without blocking the caller. Submit reports whether the
// event was queued.
type Sink interface {
	Submit(event models.Event) bool
}
