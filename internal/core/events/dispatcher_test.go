package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/metrics"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

func testEvent() models.Event {
	return models.NewInsufficientFundsEvent(uuid.New(), decimal.NewFromInt(10), decimal.NewFromInt(1), time.Now())
}

func TestDispatcherPublishesAndDrainsOnClose(t *testing.T) {
	pub := &mockPublisher{}
	events := []models.Event{testEvent(), testEvent(), testEvent()}
	for _, e := range events {
		pub.On("Publish", mock.Anything, e).Return(nil).Once()
	}
	pub.On("Close").Return(nil).Once()

	d := NewDispatcher(pub, 2, 10, logger.NewNop())
	for _, e := range events {
		assert.True(t, d.Submit(e))
	}

	require.NoError(t, d.Close(context.Background()))
	pub.AssertExpectations(t)
}

func TestDispatcherPublishErrorIsNotFatal(t *testing.T) {
	pub := &mockPublisher{}
	failing, ok := testEvent(), testEvent()
	pub.On("Publish", mock.Anything, failing).Return(errors.New("broker down")).Once()
	pub.On("Publish", mock.Anything, ok).Return(nil).Once()
	pub.On("Close").Return(nil)

	d := NewDispatcher(pub, 1, 10, logger.NewNop())
	assert.True(t, d.Submit(failing))
	assert.True(t, d.Submit(ok))
	require.NoError(t, d.Close(context.Background()))

	pub.AssertExpectations(t)
}

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []models.Event
}

func (p *blockingPublisher) Publish(_ context.Context, event models.Event) error {
	<-p.release
	p.mu.Lock()
	p.got = append(p.got, event)
	p.mu.Unlock()
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := NewDispatcher(pub, 1, 1, logger.NewNop())
	depth := testutil.ToFloat64(metrics.EventQueueDepth)

	// The worker takes the first event and blocks; the second fills the queue.
	require.True(t, d.Submit(testEvent()))
	require.Eventually(t, func() bool {
		return len(d.jobs) == 0 && testutil.ToFloat64(metrics.EventQueueDepth) == depth
	}, time.Second, time.Millisecond)
	require.True(t, d.Submit(testEvent()))

	assert.False(t, d.Submit(testEvent()))
	assert.Equal(t, depth+1, testutil.ToFloat64(metrics.EventQueueDepth))

	close(pub.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, pub.got, 2)
	assert.Equal(t, depth, testutil.ToFloat64(metrics.EventQueueDepth))
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Close").Return(nil).Once()

	d := NewDispatcher(pub, 1, 1, logger.NewNop())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Submit(testEvent()))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestDispatcherCloseRespectsContext(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	defer close(pub.release)

	d := NewDispatcher(pub, 1, 1, logger.NewNop())
	require.True(t, d.Submit(testEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, d.Close(ctx))
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(context.Background(), "wallet_events")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	event := testEvent()
	pub := NewRedisPublisher(client, "wallet_events")
	require.NoError(t, pub.Publish(context.Background(), event))

	select {
	case msg := <-sub.Channel():
		var got models.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, models.EventInsufficientFunds, got.Type)
		assert.True(t, event.RequestedAmount.Equal(*got.RequestedAmount))
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
	assert.NoError(t, pub.Close())
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByWallet(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w, log: logger.NewNop()}

	event := testEvent()
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, event.WalletID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, string(models.EventInsufficientFunds), string(w.msgs[0].Headers[0].Value))

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWriteError(t *testing.T) {
	pub := &KafkaPublisher{writer: &fakeWriter{err: errors.New("no leader")}, log: logger.NewNop()}
	assert.ErrorContains(t, pub.Publish(context.Background(), testEvent()), "no leader")
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(logger.NewNop())
	tx := &models.Transaction{ID: uuid.New(), WalletID: uuid.New(), BalanceAfter: decimal.NewFromInt(5)}
	assert.NoError(t, pub.Publish(context.Background(), models.NewBalanceChangedEvent(tx, time.Now())))
	assert.NoError(t, pub.Close())
}
