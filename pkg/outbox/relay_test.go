package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
)

type fakeStore struct {
	mu     sync.Mutex
	batch  []Event
	sent   []int64
	failed map[int64]string
}

func (s *fakeStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.batch
	s.batch = nil
	return out, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = errMsg
	return nil
}

type fakeProducer struct {
	msgs   []kafka.Message
	failOn string
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == p.failOn {
			return errors.New("broker unavailable")
		}
		p.msgs = append(p.msgs, m)
	}
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestFlushPublishesAndMarksSent(t *testing.T) {
	store := &fakeStore{batch: []Event{
		{ID: 7, AggregateType: "order", AggregateID: "41", Type: "OrderConfirmed", Payload: []byte(`{"orderId":41}`), Traceparent: "00-abc-def-01"},
	}}
	producer := &fakeProducer{}
	relay := NewRelay(logging.Discard(), store, NewDispatcher(logging.Discard(), producer, "checkout.events"), "test")

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{7}, store.sent)

	require.Len(t, producer.msgs, 1)
	msg := producer.msgs[0]
	assert.Equal(t, "checkout.events", msg.Topic)
	assert.Equal(t, "41", string(msg.Key))
	assert.Equal(t, "OrderConfirmed", header(msg, HeaderEventType))
	assert.Equal(t, "7", header(msg, HeaderEventID))
	assert.Equal(t, "order", header(msg, HeaderAggregateType))
	assert.Equal(t, "00-abc-def-01", header(msg, "traceparent"))
}

func TestFlushMarksFailedEventsOnly(t *testing.T) {
	store := &fakeStore{batch: []Event{
		{ID: 1, AggregateID: "1", Type: "OrderConfirmed"},
		{ID: 2, AggregateID: "2", Type: "OrderConfirmed"},
	}}
	producer := &fakeProducer{failOn: "2"}
	relay := NewRelay(logging.Discard(), store, NewDispatcher(logging.Discard(), producer, "t"), "test")

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Contains(t, store.failed[2], "broker unavailable")
}

func TestFlushEmptyBatch(t *testing.T) {
	relay := NewRelay(logging.Discard(), &fakeStore{}, NewDispatcher(logging.Discard(), &fakeProducer{}, "t"), "test")
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
