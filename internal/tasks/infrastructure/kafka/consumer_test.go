package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/idempotency"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
)

// fakeReader fails commits on a cancelled context, as kafka-go does.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// memClaims mirrors the Redis store; like a network client it refuses a cancelled context.
type memClaims struct {
	mu      sync.Mutex
	state   map[string]idempotency.State
	forgot  []string
	pending map[string]int
}

func newMemClaims() *memClaims {
	return &memClaims{state: map[string]idempotency.State{}, pending: map[string]int{}}
}

func (m *memClaims) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

func (m *memClaims) EventKey(id string) string { return "idem:event:" + id }

func (m *memClaims) Begin(ctx context.Context, key string) (idempotency.State, []byte, error) {
	if err := ctx.Err(); err != nil {
		return idempotency.StateNew, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[key] > 0 {
		m.pending[key]--
		return idempotency.StatePending, nil, nil
	}
	st, ok := m.state[key]
	if !ok {
		m.state[key] = idempotency.StatePending
		return idempotency.StateNew, nil, nil
	}
	return st, nil, nil
}

func (m *memClaims) Complete(ctx context.Context, key string, _ []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = idempotency.StateDone
	return nil
}

func (m *memClaims) Forget(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	m.forgot = append(m.forgot, key)
	return nil
}

func (m *memClaims) get(key string) (idempotency.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[key]
	return st, ok
}

type memOutbox struct {
	mu       sync.Mutex
	requeued []outbox.Message
	parked   []outbox.Message
	err      error
}

func (o *memOutbox) Requeue(_ context.Context, m outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.requeued = append(o.requeued, m)
	return nil
}

func (o *memOutbox) Park(_ context.Context, m outbox.Message, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.parked = append(o.parked, m)
	return nil
}

type countingHandler struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int
	// onCall runs inside Handle before the outcome is decided.
	onCall func(eventID string, call int) error
}

func newHandler() *countingHandler {
	return &countingHandler{calls: map[string]int{}, fail: map[string]int{}}
}

func (h *countingHandler) Handle(_ context.Context, eventID, _ string, _ []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[eventID]++
	if h.onCall != nil {
		if err := h.onCall(eventID, h.calls[eventID]); err != nil {
			return err
		}
	}
	if h.fail[eventID] > 0 {
		h.fail[eventID]--
		return errors.New("boom")
	}
	return nil
}

func event(id string, offset int64, extra ...kafka.Header) kafka.Message {
	return kafka.Message{
		Topic:  "checkout.events",
		Offset: offset,
		Key:    []byte("41"),
		Value:  []byte(`{"orderId":41}`),
		Headers: append([]kafka.Header{
			{Key: outbox.HeaderEventID, Value: []byte(id)},
			{Key: outbox.HeaderEventType, Value: []byte("OrderConfirmed")},
			{Key: outbox.HeaderAggregateType, Value: []byte("order")},
			{Key: "traceparent", Value: []byte("00-abc-def-01")},
		}, extra...),
	}
}

func newConsumer(r Reader, h Handler, claims Claims, box Requeuer) *Consumer {
	c := NewConsumer(logging.Discard(), r, h, claims, box)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func run(t *testing.T, c *Consumer, r *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return len(r.commits()) == want }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, r.closed)
}

func TestConsumerSkipsRedeliveredEvent(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{event("7", 1), event("7", 2), event("8", 3)}}
	claims := newMemClaims()
	h := newHandler()
	c := newConsumer(r, h, claims, &memOutbox{})

	run(t, c, r, 3)
	assert.Equal(t, 1, h.calls["7"])
	assert.Equal(t, 1, h.calls["8"])
	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	st, _ := claims.get("idem:event:7")
	assert.Equal(t, idempotency.StateDone, st)
}

func TestConsumerRetriesThenHandsEventBackToOutbox(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{event("1", 1), event("2", 2, kafka.Header{Key: "source", Value: []byte("webhook")})}}
	claims := newMemClaims()
	box := &memOutbox{}
	h := newHandler()
	h.fail = map[string]int{"1": 1, "2": 5}
	c := newConsumer(r, h, claims, box)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	run(t, c, r, 2)
	assert.Equal(t, 2, h.calls["1"])
	assert.Equal(t, 3, h.calls["2"])
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, slept)

	require.Len(t, box.requeued, 1)
	m := box.requeued[0]
	assert.Equal(t, "order", m.AggregateType)
	assert.Equal(t, "41", m.AggregateID)
	assert.Equal(t, "OrderConfirmed", m.Type)
	assert.JSONEq(t, `{"orderId":41}`, string(m.Payload))
	assert.Equal(t, "00-abc-def-01", m.Traceparent)
	assert.Equal(t, map[string]string{"source": "webhook", outbox.HeaderRedelivery: "1"}, m.Headers)

	_, held := claims.get("idem:event:2")
	assert.False(t, held, "a handed-back event must not stay marked")
	st, _ := claims.get("idem:event:1")
	assert.Equal(t, idempotency.StateDone, st)
}

func TestConsumerParksEventAfterRepeatedHandBacks(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{event("9", 1, kafka.Header{Key: outbox.HeaderRedelivery, Value: []byte("5")})}}
	box := &memOutbox{}
	h := newHandler()
	h.fail = map[string]int{"9": 10}
	c := newConsumer(r, h, newMemClaims(), box)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	run(t, c, r, 1)
	assert.Empty(t, box.requeued)
	require.Len(t, box.parked, 1)
	assert.Equal(t, "6", box.parked[0].Headers[outbox.HeaderRedelivery])
}

func TestConsumerKeepsOffsetWhenOutboxIsUnavailable(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{event("3", 4)}}
	claims := newMemClaims()
	h := newHandler()
	h.fail = map[string]int{"3": 10}
	c := newConsumer(r, h, claims, &memOutbox{err: errors.New("pg down")})
	c.sleep = func(context.Context, time.Duration) error { return nil }

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, r.commits())
	_, held := claims.get("idem:event:3")
	assert.False(t, held)
}

func TestConsumerRedeliversEventInterruptedByShutdown(t *testing.T) {
	claims := newMemClaims()
	h := newHandler()

	// first process: shutdown lands while the handler is running
	ctx, cancel := context.WithCancel(context.Background())
	h.onCall = func(_ string, call int) error {
		if call == 1 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	first := &fakeReader{msgs: []kafka.Message{event("5", 10)}}
	require.NoError(t, newConsumer(first, h, claims, &memOutbox{}).Run(ctx))
	assert.Empty(t, first.commits())
	_, held := claims.get("idem:event:5")
	assert.False(t, held, "claim released on the way out")

	// second process: kafka redelivers the uncommitted message
	second := &fakeReader{msgs: []kafka.Message{event("5", 10)}}
	run(t, newConsumer(second, h, claims, &memOutbox{}), second, 1)
	assert.Equal(t, 2, h.calls["5"])
	assert.Equal(t, []int64{10}, second.commits())
}

func TestConsumerCompletesEventFinishedDuringShutdown(t *testing.T) {
	claims := newMemClaims()
	h := newHandler()
	ctx, cancel := context.WithCancel(context.Background())
	h.onCall = func(string, int) error {
		cancel()
		return nil
	}
	r := &fakeReader{msgs: []kafka.Message{event("6", 11)}}

	require.NoError(t, newConsumer(r, h, claims, &memOutbox{}).Run(ctx))
	assert.Equal(t, []int64{11}, r.commits())
	st, _ := claims.get("idem:event:6")
	assert.Equal(t, idempotency.StateDone, st)
}

func TestConsumerWaitsForLeaseHeldElsewhere(t *testing.T) {
	claims := newMemClaims()
	claims.pending["idem:event:4"] = 2
	h := newHandler()
	r := &fakeReader{msgs: []kafka.Message{event("4", 1)}}
	c := newConsumer(r, h, claims, &memOutbox{})
	waits := 0
	c.sleep = func(context.Context, time.Duration) error {
		waits++
		return nil
	}

	run(t, c, r, 1)
	assert.Equal(t, 2, waits)
	assert.Equal(t, 1, h.calls["4"])
}

func TestConsumerFallsBackToOffsetKey(t *testing.T) {
	msg := kafka.Message{Topic: "checkout.events", Partition: 2, Offset: 9}
	r := &fakeReader{msgs: []kafka.Message{msg, msg}}
	claims := newMemClaims()
	h := newHandler()
	c := newConsumer(r, h, claims, &memOutbox{})

	run(t, c, r, 2)
	assert.Equal(t, 1, h.calls[""])
	st, _ := claims.get("idem:checkout.events:2:9")
	assert.Equal(t, idempotency.StateDone, st)
}
