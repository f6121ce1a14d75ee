package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/idempotency"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/tracing"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Claims is the subset of idempotency.Store the consumer needs.
type Claims interface {
	Key(topic string, partition int, offset int64) string
	EventKey(eventID string) string
	Begin(ctx context.Context, key string) (idempotency.State, []byte, error)
	Complete(ctx context.Context, key string, result []byte) error
	Forget(ctx context.Context, key string) error
}

// Requeuer takes back events the consumer gave up on, so a committed offset
// never drops one.
type Requeuer interface {
	Requeue(ctx context.Context, m outbox.Message) error
	Park(ctx context.Context, m outbox.Message, reason string) error
}

type Handler interface {
	Handle(ctx context.Context, eventID, eventType string, payload []byte) error
}

type Consumer struct {
	log             *slog.Logger
	reader          Reader
	handler         Handler
	idem            Claims
	requeue         Requeuer
	tracer          trace.Tracer
	attempts        int
	maxRedeliveries int
	backoff         time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func NewConsumer(log *slog.Logger, reader Reader, handler Handler, idem Claims, requeue Requeuer) *Consumer {
	return &Consumer{
		log:             log,
		reader:          reader,
		handler:         handler,
		idem:            idem,
		requeue:         requeue,
		tracer:          otel.Tracer("tasks-consumer"),
		attempts:        3,
		maxRedeliveries: 5,
		backoff:         time.Second,
		sleep:           sleepCtx,
	}
}

// Run returns nil on shutdown. It returns an error only when an event could be
// neither handled nor handed back to the outbox; its offset stays uncommitted.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	eventID := tracing.HeaderValue(msg.Headers, outbox.HeaderEventID)
	eventType := tracing.HeaderValue(msg.Headers, outbox.HeaderEventType)
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	if eventID != "" {
		key = c.idem.EventKey(eventID)
	}
	// bookkeeping after the handler must survive shutdown
	bg := context.WithoutCancel(ctx)

	state, held := c.claim(ctx, key)
	if ctx.Err() != nil {
		return nil
	}
	if state == idempotency.StateDone {
		c.log.Info("duplicate event skipped", "event_id", eventID, "type", eventType)
		c.commit(bg, msg)
		return nil
	}
	release := func() {
		if !held {
			return
		}
		if err := c.idem.Forget(bg, key); err != nil {
			c.log.Warn("idempotency release failed", "key", key, "err", err)
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "Consume"+eventType)
	defer span.End()

	var err error
	for attempt := 1; ; attempt++ {
		err = c.handler.Handle(msgCtx, eventID, eventType, msg.Value)
		if err == nil {
			break
		}
		span.RecordError(err)
		if ctx.Err() != nil {
			c.log.Warn("event interrupted by shutdown, left for redelivery", "event_id", eventID, "type", eventType, "err", err)
			release()
			return nil
		}
		if attempt >= c.attempts {
			break
		}
		c.log.Warn("event handling failed, retrying", "event_id", eventID, "type", eventType, "attempt", attempt, "err", err)
		if c.sleep(ctx, c.backoff*time.Duration(attempt)) != nil {
			release()
			return nil
		}
	}

	if err != nil {
		c.log.Error("event handling failed, handing back to outbox", "event_id", eventID, "type", eventType, "attempts", c.attempts, "err", err)
		if rErr := c.handBack(bg, msg, eventType, err); rErr != nil {
			release()
			return fmt.Errorf("requeue event %s: %w", eventID, rErr)
		}
		release()
		c.commit(bg, msg)
		return nil
	}

	if held {
		if cErr := c.idem.Complete(bg, key, nil); cErr != nil {
			c.log.Warn("idempotency mark failed", "key", key, "err", cErr)
		}
	}
	c.log.Info("event processed", "event_id", eventID, "type", eventType)
	c.commit(bg, msg)
	return nil
}

// claim waits out another worker's lease. held is false when the store is
// unreachable; handlers are idempotent, so the event still runs.
func (c *Consumer) claim(ctx context.Context, key string) (idempotency.State, bool) {
	for {
		state, _, err := c.idem.Begin(ctx, key)
		if err != nil {
			c.log.Warn("idempotency check failed", "key", key, "err", err)
			return idempotency.StateNew, false
		}
		if state != idempotency.StatePending {
			return state, state == idempotency.StateNew
		}
		c.log.Info("event in flight elsewhere, waiting", "key", key)
		if c.sleep(ctx, c.backoff) != nil {
			return idempotency.StatePending, false
		}
	}
}

// handBack writes the event into the outbox again as a new event, or parks it
// as failed once it has been handed back maxRedeliveries times.
func (c *Consumer) handBack(ctx context.Context, msg kafka.Message, eventType string, cause error) error {
	m := outbox.Message{
		AggregateType: tracing.HeaderValue(msg.Headers, outbox.HeaderAggregateType),
		AggregateID:   string(msg.Key),
		Type:          eventType,
		Payload:       msg.Value,
		Headers:       map[string]string{},
		Traceparent:   tracing.HeaderValue(msg.Headers, tracing.TraceparentHeader),
	}
	redeliveries := 0
	for _, h := range msg.Headers {
		switch h.Key {
		case outbox.HeaderEventID, outbox.HeaderEventType, outbox.HeaderAggregateType, tracing.TraceparentHeader:
		case outbox.HeaderRedelivery:
			redeliveries, _ = strconv.Atoi(string(h.Value))
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	m.Headers[outbox.HeaderRedelivery] = strconv.Itoa(redeliveries + 1)

	if redeliveries+1 > c.maxRedeliveries {
		return c.requeue.Park(ctx, m, cause.Error())
	}
	return c.requeue.Requeue(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.Error("commit failed", "offset", msg.Offset, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
