// Package realtime pushes order status changes to browsers waiting on a
// checkout page. Updates travel over Redis pub/sub so any API replica can
// serve the stream.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Update struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

func Channel(orderID int64) string {
	return fmt.Sprintf("checkout:orders:%d", orderID)
}

type Publisher struct {
	log *slog.Logger
	rdb *redis.Client
}

func NewPublisher(log *slog.Logger, rdb *redis.Client) *Publisher {
	return &Publisher{log: log, rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, orderID int64, status string) error {
	b, err := json.Marshal(Update{OrderID: orderID, Status: status})
	if err != nil {
		return err
	}
	n, err := p.rdb.Publish(ctx, Channel(orderID), b).Result()
	if err != nil {
		return fmt.Errorf("publish order %d: %w", orderID, err)
	}
	p.log.Debug("order update published", "order_id", orderID, "status", status, "receivers", n)
	return nil
}

// Subscribe returns updates for one order until ctx ends or stop is called.
func (p *Publisher) Subscribe(ctx context.Context, orderID int64) (<-chan Update, func(), error) {
	ps := p.rdb.Subscribe(ctx, Channel(orderID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe order %d: %w", orderID, err)
	}

	out := make(chan Update, 4)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var u Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				p.log.Warn("bad realtime payload", "channel", msg.Channel, "err", err)
				continue
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}
