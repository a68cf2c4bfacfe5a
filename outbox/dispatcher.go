package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/commercekit/conduct/backoff"
)

// Publisher delivers a dispatched event to downstream consumers. Publish
// must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt *Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// Dispatcher polls the outbox for pending events and publishes them.
// Delivery is at-least-once: an event is marked dispatched only after a
// successful publish, so a crash between publish and mark replays it.
// Consumers must tolerate duplicates; the event ID is stable for
// deduplication.
type Dispatcher struct {
	store       Store
	publisher   Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
	strategy    backoff.Strategy

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the dispatcher polls for pending
// events.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.interval = d }
}

// WithBatchSize sets how many pending events one poll claims.
func WithBatchSize(n int) DispatcherOption {
	return func(dp *Dispatcher) { dp.batchSize = n }
}

// WithConcurrency sets how many events publish in parallel per batch.
func WithConcurrency(n int) DispatcherOption {
	return func(dp *Dispatcher) { dp.concurrency = n }
}

// WithBackoff sets the delay strategy applied after consecutive poll or
// publish failures.
func WithBackoff(s backoff.Strategy) DispatcherOption {
	return func(dp *Dispatcher) { dp.strategy = s }
}

// NewDispatcher creates a dispatcher over the given store and publisher.
func NewDispatcher(store Store, publisher Publisher, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		interval:    time.Second,
		batchSize:   100,
		concurrency: 4,
		strategy:    backoff.DefaultStrategy(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch loop. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	d.running = true

	d.logger.Info("outbox dispatcher starting",
		slog.Duration("poll_interval", d.interval),
		slog.Int("batch_size", d.batchSize),
		slog.Int("concurrency", d.concurrency),
	)

	d.wg.Add(1)
	go d.loop()
	return nil
}

// Stop signals the loop to stop and waits for the in-flight batch to
// finish, or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("outbox dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("outbox dispatcher shutdown timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	failures := 0
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		n, err := d.DispatchPending(context.Background())
		if err != nil {
			failures++
			d.logger.Error("outbox dispatch error",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			d.sleep(d.strategy.Delay(failures))
			continue
		}
		failures = 0

		if n == 0 {
			d.sleep(d.interval)
		}
	}
}

// DispatchPending publishes one batch of pending events and returns how
// many were dispatched. Exported so tests and one-shot callers can drain
// the outbox without the loop.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	events, err := d.store.ListPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, evt := range events {
		g.Go(func() error {
			if err := d.publisher.Publish(ctx, evt); err != nil {
				d.logger.Warn("publish failed",
					slog.String("event_id", evt.ID.String()),
					slog.String("event", evt.Name),
					slog.String("error", err.Error()),
				)
				return err
			}
			if err := d.store.MarkDispatched(ctx, evt.ID, time.Now().UTC()); err != nil {
				return err
			}
			d.logger.Debug("event dispatched",
				slog.String("event_id", evt.ID.String()),
				slog.String("event", evt.Name),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return len(events), err
	}
	return len(events), nil
}

func (d *Dispatcher) sleep(delay time.Duration) {
	select {
	case <-time.After(delay):
	case <-d.stopCh:
	}
}
