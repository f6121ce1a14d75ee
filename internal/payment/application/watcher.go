package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

const sourceWatcher = "pix-watcher"

// DefaultOffsets are poll times measured from when the collection was created.
var DefaultOffsets = []time.Duration{
	10 * time.Second, 20 * time.Second, 30 * time.Second, 60 * time.Second,
	120 * time.Second, 180 * time.Second, 240 * time.Second, 270 * time.Second,
	285 * time.Second, 295 * time.Second, 300 * time.Second,
}

type PixStatusSource interface {
	PixStatus(ctx context.Context, txid string) (string, error)
}

type Applier interface {
	Apply(ctx context.Context, n domain.Notice, source string) (orderdomain.Outcome, error)
}

type WatcherConfig struct {
	Offsets   []time.Duration
	Margin    time.Duration
	MaxActive int
	Queue     int
}

type watchJob struct {
	orderID   int64
	txid      string
	start     time.Time
	expiresAt time.Time
}

// Watcher polls PIX collections because the gateway's push is not guaranteed.
// Schedule never blocks; Run owns the goroutines.
type Watcher struct {
	log     *slog.Logger
	applier Applier
	gw      PixStatusSource
	cfg     WatcherConfig
	jobs    chan watchJob
	sem     chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWatcher(log *slog.Logger, applier Applier, gw PixStatusSource, cfg WatcherConfig) *Watcher {
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = DefaultOffsets
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 64
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 4 * cfg.MaxActive
	}
	return &Watcher{
		log:     log,
		applier: applier,
		gw:      gw,
		cfg:     cfg,
		jobs:    make(chan watchJob, cfg.Queue),
		sem:     make(chan struct{}, cfg.MaxActive),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
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

func (w *Watcher) Schedule(orderID int64, txid string, expiresAt time.Time) {
	job := watchJob{orderID: orderID, txid: txid, start: w.now(), expiresAt: expiresAt}
	select {
	case w.jobs <- job:
	default:
		w.log.Warn("pix watcher queue full, relying on webhook", "order_id", orderID, "txid", txid)
	}
}

// Run starts watchers until ctx is cancelled, then waits for them to return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.jobs:
			select {
			case w.sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-w.sem }()
				metrics.ActiveWatchers.Inc()
				defer metrics.ActiveWatchers.Dec()
				w.watch(ctx, job)
			}()
		}
	}
}

func (w *Watcher) watch(ctx context.Context, job watchJob) {
	log := w.log.With("order_id", job.orderID, "txid", job.txid)
	deadline := job.expiresAt.Add(-w.cfg.Margin)

	for i, off := range w.cfg.Offsets {
		at := job.start.Add(off)
		if at.After(deadline) {
			log.Info("pix watcher stopped near expiry", "attempts", i)
			return
		}
		if d := at.Sub(w.now()); d > 0 {
			if err := w.sleep(ctx, d); err != nil {
				return
			}
		}

		status, err := w.gw.PixStatus(ctx, job.txid)
		if err != nil {
			log.Warn("pix status poll failed", "attempt", i+1, "err", err)
			continue
		}
		outcome, err := w.applier.Apply(ctx, domain.Notice{Reference: orderdomain.PixRef(job.txid), Status: status}, sourceWatcher)
		if err != nil {
			log.Error("pix watcher apply failed", "attempt", i+1, "status", status, "err", err)
			continue
		}
		if outcome != orderdomain.OutcomeUnchanged || domain.Terminal(status) {
			log.Info("pix watcher done", "attempt", i+1, "status", status, "outcome", outcome)
			return
		}
	}
}
