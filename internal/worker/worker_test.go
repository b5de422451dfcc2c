package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/service"
)

type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

type stubAuditor struct {
	mu       sync.Mutex
	orders   []int64
	products []int64
	drift    []service.Drift
	err      error
}

func (s *stubAuditor) AuditOrder(_ context.Context, orderID int64, _ string) ([]service.Drift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orderID)
	return s.drift, s.err
}

func (s *stubAuditor) AuditProduct(_ context.Context, productID int64) ([]service.Drift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, productID)
	return nil, s.err
}

func newAuditor(t *testing.T, auditor Auditor) (*MirrorAuditor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMirrorAuditor(nil, auditor, client, log), mr
}

func delivery(t *testing.T, ack *ackRecorder, event model.OrderEvent) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestProcessMessage_AuditsOrderAndProduct(t *testing.T) {
	stub := &stubAuditor{drift: []service.Drift{{OrderID: 7, View: service.ViewMirror, Detail: "order missing from owner's orders"}}}
	w, mr := newAuditor(t, stub)
	event := model.OrderEvent{ID: uuid.New(), Type: model.EventOrderProductAttached, OrderID: 7, UserID: "auth0|alice", ProductID: 3}

	ack := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, ack, event))

	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, []int64{7}, stub.orders)
	assert.Equal(t, []int64{3}, stub.products)
	assert.True(t, mr.Exists("event_processed:"+event.ID.String()))
	assert.InDelta(t, idempotencyTTL.Seconds(), mr.TTL("event_processed:"+event.ID.String()).Seconds(), 1)
}

func TestProcessMessage_SkipsDuplicate(t *testing.T) {
	stub := &stubAuditor{}
	w, mr := newAuditor(t, stub)
	event := model.OrderEvent{ID: uuid.New(), Type: model.EventOrderCreated, OrderID: 1}
	require.NoError(t, mr.Set("event_processed:"+event.ID.String(), "1"))

	ack := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, ack, event))

	assert.Equal(t, 1, ack.acked)
	assert.Empty(t, stub.orders)
}

func TestProcessMessage_ProductOnlyEvent(t *testing.T) {
	stub := &stubAuditor{}
	w, _ := newAuditor(t, stub)

	ack := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, ack, model.OrderEvent{ID: uuid.New(), Type: model.EventProductUpdated, ProductID: 9}))

	assert.Equal(t, 1, ack.acked)
	assert.Empty(t, stub.orders)
	assert.Equal(t, []int64{9}, stub.products)
}

func TestProcessMessage_DeadLetters(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		w, _ := newAuditor(t, &stubAuditor{})
		ack := &ackRecorder{}
		w.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")})
		assert.Equal(t, 1, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("audit error", func(t *testing.T) {
		w, mr := newAuditor(t, &stubAuditor{err: errors.New("store down")})
		event := model.OrderEvent{ID: uuid.New(), Type: model.EventOrderUpdated, OrderID: 2}
		ack := &ackRecorder{}
		w.processMessage(context.Background(), delivery(t, ack, event))
		assert.Equal(t, 1, ack.nacked)
		assert.False(t, ack.requeue)
		assert.False(t, mr.Exists("event_processed:"+event.ID.String()))
	})
}

func TestProcessMessage_RequeuesWhenRedisDown(t *testing.T) {
	stub := &stubAuditor{}
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	w := NewMirrorAuditor(nil, stub, client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mr.Close()

	ack := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, ack, model.OrderEvent{ID: uuid.New(), OrderID: 1}))

	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
	assert.Empty(t, stub.orders)
}

func TestProcessMessage_WithoutRedis(t *testing.T) {
	stub := &stubAuditor{}
	w := NewMirrorAuditor(nil, stub, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ack := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, ack, model.OrderEvent{ID: uuid.New(), OrderID: 4}))

	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, []int64{4}, stub.orders)
}

type recordingChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func TestPublisher(t *testing.T) {
	ch := &recordingChannel{}
	p := &Publisher{channel: ch}
	event := model.OrderEvent{
		ID:         uuid.New(),
		Type:       model.EventOrderCreated,
		OrderID:    11,
		UserID:     "auth0|alice",
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), event))
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, EventQueue, ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, event.ID.String(), ch.msg.MessageId)

	var got model.OrderEvent
	require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
	assert.Equal(t, event, got)

	ch.err = errors.New("channel closed")
	assert.ErrorContains(t, p.Publish(context.Background(), event), "channel closed")
}
