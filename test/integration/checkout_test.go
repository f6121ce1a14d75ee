//go:build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/db"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway/stub"
	invapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/application"
	invdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
	invpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/infrastructure/postgres"
	notifydomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
	orderapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	orderpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/infrastructure/postgres"
	payoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/application"
	payoutdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
	payoutpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/infrastructure/postgres"
	taskskafka "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/tasks/infrastructure/kafka"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
)

var (
	env  *Env
	pool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error
	env, err = Setup(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "containers:", err)
		os.Exit(1)
	}
	pool, err = db.Connect(ctx, env.PGURL)
	if err == nil {
		err = db.Apply(ctx, logging.Discard(), pool)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "schema:", err)
		env.Teardown(ctx)
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	env.Teardown(ctx)
	os.Exit(code)
}

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, orderID int64, kind notifydomain.Kind, data map[string]any) error {
	return nil
}

func seedBook(t *testing.T, id string, stock int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO books (id, title, price_cents, stock) VALUES ($1, $1, 10000, $2)
		 ON CONFLICT (id) DO UPDATE SET stock = EXCLUDED.stock`, id, stock)
	require.NoError(t, err)
}

func stock(t *testing.T, id string) int {
	t.Helper()
	n, err := invpg.NewRepository(logging.Discard(), pool).Stock(context.Background(), id)
	require.NoError(t, err)
	return n
}

// placeWaiting reserves one copy of book and opens a PIX order for it.
func placeWaiting(t *testing.T, orders *orderapp.Service, book, txid string) int64 {
	t.Helper()
	ctx := context.Background()
	inv := invapp.NewService(logging.Discard(), invpg.NewRepository(logging.Discard(), pool))
	require.NoError(t, inv.ReserveAll(ctx, []invdomain.Line{{BookID: book, Quantity: 1}}))

	id, err := orders.Place(ctx, orderdomain.Order{
		Method:   orderdomain.MethodPix,
		Customer: orderdomain.Customer{FirstName: "Ana", Email: "ana@example.com"},
		Items:    []orderdomain.OrderItem{{BookID: book, Quantity: 1, Price: decimal.NewFromInt(100)}},
		Total:    decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	_, err = orders.OpenReservation(ctx, id, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, orders.AttachReference(ctx, id, orderdomain.PixRef(txid)))
	return id
}

func outboxCount(t *testing.T, orderID int64, eventType string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM outbox WHERE aggregate_id = $1 AND type = $2`,
		strconv.FormatInt(orderID, 10), eventType).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestPaymentConfirmsOnceAndQueuesEvent(t *testing.T) {
	ctx := context.Background()
	seedBook(t, "it-confirm", 2)
	orders := orderapp.NewService(logging.Discard(), orderpg.NewRepository(logging.Discard(), pool))
	id := placeWaiting(t, orders, "it-confirm", "txITconfirm")
	assert.Equal(t, 1, stock(t, "it-confirm"))

	out, err := orders.MarkPaidIfNeeded(ctx, orderdomain.PixRef("txITconfirm"), "webhook")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeConfirmed, out)

	out, err = orders.MarkPaidIfNeeded(ctx, orderdomain.PixRef("txITconfirm"), "watcher")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeAlreadyPaid, out)

	o, err := orders.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, o.Paid)
	assert.Equal(t, orderdomain.StatusConfirmed, o.Status)
	assert.Equal(t, 1, outboxCount(t, id, orderdomain.EventOrderConfirmed))
	assert.Equal(t, 1, stock(t, "it-confirm"), "stock stays reserved for a paid order")
}

func TestExpiryReleasesStockOnce(t *testing.T) {
	ctx := context.Background()
	seedBook(t, "it-expire", 1)
	orders := orderapp.NewService(logging.Discard(), orderpg.NewRepository(logging.Discard(), pool))
	id := placeWaiting(t, orders, "it-expire", "txITexpire")
	assert.Equal(t, 0, stock(t, "it-expire"))

	later := orders.WithClock(func() time.Time { return time.Now().Add(time.Hour) })
	ok, err := later.ExpireIfUnpaid(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = later.ExpireIfUnpaid(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, stock(t, "it-expire"))
	o, err := orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusExpired, o.Status)
}

func TestPayoutIsSentOnce(t *testing.T) {
	ctx := context.Background()
	seedBook(t, "it-payout", 1)
	_, err := pool.Exec(ctx, `INSERT INTO sellers (name, pix_key) VALUES ('Seller', 'seller@example.com')`)
	require.NoError(t, err)

	orders := orderapp.NewService(logging.Discard(), orderpg.NewRepository(logging.Discard(), pool))
	id := placeWaiting(t, orders, "it-payout", "txITpayout")
	_, err = orders.MarkPaidIfNeeded(ctx, orderdomain.PixRef("txITpayout"), "webhook")
	require.NoError(t, err)

	gw := stub.New()
	svc := payoutapp.NewService(logging.Discard(), payoutapp.Config{
		Policy: payoutdomain.Policy{
			FeePercent:    decimal.RequireFromString("1.19"),
			FeesIncluded:  true,
			MarginPercent: decimal.RequireFromString("5"),
			AbsoluteMin:   decimal.RequireFromString("1.00"),
		},
		Synchronous: true,
	}, payoutpg.NewRepository(logging.Discard(), pool), gw, nopNotifier{})

	ref := strconv.FormatInt(id, 10)
	res, err := svc.TryTrigger(ctx, payoutapp.Request{OrderRef: ref, Source: "it"})
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.ResultSuccess, res.Status, res.Message)
	assert.Equal(t, "93.81", res.Net.StringFixed(2))

	res, err = svc.TryTrigger(ctx, payoutapp.Request{OrderRef: payoutdomain.SendID(id), Source: "it"})
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.ResultSuccess, res.Status)
	assert.Equal(t, 1, gw.SendCalls)

	p, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusConfirmed, p.Status)
	assert.Equal(t, "seller@example.com", p.PixKey)
}

func createTopic(t *testing.T, topic string) {
	t.Helper()
	conn, err := kafka.Dial("tcp", env.KAddr[0])
	require.NoError(t, err)
	defer conn.Close()
	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()
	require.NoError(t, cc.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func TestRelayPublishesConfirmation(t *testing.T) {
	ctx := context.Background()
	const topic = "checkout.events.it"
	createTopic(t, topic)

	seedBook(t, "it-relay", 1)
	orders := orderapp.NewService(logging.Discard(), orderpg.NewRepository(logging.Discard(), pool))
	id := placeWaiting(t, orders, "it-relay", "txITrelay")
	_, err := orders.MarkPaidIfNeeded(ctx, orderdomain.PixRef("txITrelay"), "webhook")
	require.NoError(t, err)

	writer := taskskafka.NewWriter(env.KAddr)
	defer writer.Close()
	relay := outbox.NewRelay(logging.Discard(), outbox.NewPgStore(logging.Discard(), pool, 5),
		outbox.NewDispatcher(logging.Discard(), writer, topic), "it-relay")

	sent := 0
	require.Eventually(t, func() bool {
		n, err := relay.Flush(ctx)
		if err != nil {
			return false
		}
		sent += n
		return sent > 0
	}, 30*time.Second, 500*time.Millisecond)

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: env.KAddr, Topic: topic, Partition: 0, MinBytes: 1, MaxBytes: 1e6})
	defer reader.Close()
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	want := strconv.FormatInt(id, 10)
	for {
		msg, err := reader.ReadMessage(rctx)
		require.NoError(t, err)
		if string(msg.Key) != want {
			continue
		}
		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, orderdomain.EventOrderConfirmed, headers[outbox.HeaderEventType])
		assert.NotEmpty(t, headers[outbox.HeaderEventID])
		return
	}
}

func TestParkedEventRetriesThroughRelayQueue(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewPgStore(logging.Discard(), pool, 5)
	m := outbox.Message{
		AggregateType: "order",
		AggregateID:   "parked-1",
		Type:          orderdomain.EventOrderConfirmed,
		Payload:       []byte(`{"orderId":1}`),
		Headers:       map[string]string{outbox.HeaderRedelivery: "6"},
	}
	require.NoError(t, store.Park(ctx, m, "handler kept failing"))

	var id int64
	var status string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT id, status FROM outbox WHERE aggregate_id = 'parked-1'`).Scan(&id, &status))
	assert.Equal(t, "failed", status)

	ok, err := store.Retry(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Retry(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "only failed rows are retried")

	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM outbox WHERE id = $1`, id).Scan(&status))
	assert.Equal(t, "pending", status)
}
