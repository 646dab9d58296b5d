package events

import (
	"context"
	"sync"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/metrics"
	"github.com/Nzyazin/ledger/internal/core/models"
)

const publishTimeout = 5 * time.Second

// Dispatcher hands events to a Publisher from a fixed pool of workers. A full
// queue drops the event: ledger state is already committed and never waits on
// delivery.
type Dispatcher struct {
	publisher Publisher
	log       logger.Logger

	jobs chan models.Event
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ Sink = (*Dispatcher)(nil)

func NewDispatcher(publisher Publisher, workers, queueSize int, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		log:       log,
		jobs:      make(chan models.Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for event := range d.jobs {
				metrics.EventQueueDepth.Dec()
				d.publish(event)
			}
		}()
	}
	return d
}

func (d *Dispatcher) Submit(event models.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, "dispatcher closed")
		return false
	}
	// Counted before the send so a worker's Dec never runs ahead of it.
	metrics.EventQueueDepth.Inc()
	select {
	case d.jobs <- event:
		return true
	default:
		metrics.EventQueueDepth.Dec()
		d.drop(event, "queue full")
		return false
	}
}

// Close stops accepting events, waits for queued ones to be published and
// closes the publisher. Events still queued when ctx ends are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.log.Info("Event queue drained")
	case <-ctx.Done():
		d.log.Warn("Event queue not drained before shutdown",
			logger.IntField("pending", len(d.jobs)))
	}
	return d.publisher.Close()
}

func (d *Dispatcher) publish(event models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		d.log.Error("Event publish failed",
			logger.StringField("event_id", event.ID.String()),
			logger.StringField("type", string(event.Type)),
			logger.StringField("wallet_id", event.WalletID.String()),
			logger.ErrorField("error", err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "ok").Inc()
}

func (d *Dispatcher) drop(event models.Event, reason string) {
	metrics.EventsPublished.WithLabelValues(string(event.Type), "dropped").Inc()
	d.log.Warn("Event dropped",
		logger.StringField("reason", reason),
		logger.StringField("event_id", event.ID.String()),
		logger.StringField("type", string(event.Type)),
		logger.StringField("wallet_id", event.WalletID.String()))
}
