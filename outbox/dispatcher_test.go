package outbox_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
	"github.com/commercekit/conduct/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, st *memory.Store, n int) []*outbox.Event {
	t.Helper()
	ctx := context.Background()
	events := make([]*outbox.Event, 0, n)
	err := st.Update(ctx, func(tx order.Tx) error {
		for i := 0; i < n; i++ {
			evt, err := outbox.New(fmt.Sprintf("test.event_%d", i), map[string]int{"seq": i}, "corr-1")
			if err != nil {
				return err
			}
			if err := tx.EnqueueEvent(ctx, evt); err != nil {
				return err
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return events
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*outbox.Event
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, evt *outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, evt)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func TestDispatchPending_PublishesAndMarks(t *testing.T) {
	st := memory.New()
	enqueue(t, st, 3)
	pub := &recordingPublisher{}
	d := outbox.NewDispatcher(st, pub, discardLogger())

	n, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("DispatchPending() = %d, want 3", n)
	}
	if pub.count() != 3 {
		t.Fatalf("published %d events, want 3", pub.count())
	}

	pending, err := st.ListPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("ListPending() returned %d events, want 0", len(pending))
	}
}

func TestDispatchPending_FailureLeavesEventsPending(t *testing.T) {
	st := memory.New()
	enqueue(t, st, 2)
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := outbox.NewDispatcher(st, pub, discardLogger())

	_, err := d.DispatchPending(context.Background())
	if err == nil {
		t.Fatal("DispatchPending() expected error")
	}

	// Undelivered events stay in the outbox for the next pass.
	pending, err := st.ListPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ListPending() returned %d events, want 2", len(pending))
	}

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	n, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending() retry error = %v", err)
	}
	if n != 2 {
		t.Fatalf("DispatchPending() retry = %d, want 2", n)
	}
}

func TestDispatchPending_RespectsBatchSize(t *testing.T) {
	st := memory.New()
	enqueue(t, st, 5)
	pub := &recordingPublisher{}
	d := outbox.NewDispatcher(st, pub, discardLogger(), outbox.WithBatchSize(2))

	n, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("DispatchPending() = %d, want 2", n)
	}
}

func TestPublisherFunc(t *testing.T) {
	var got *outbox.Event
	fn := outbox.PublisherFunc(func(_ context.Context, evt *outbox.Event) error {
		got = evt
		return nil
	})

	evt, err := outbox.New("test.ping", nil, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := fn.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got != evt {
		t.Fatal("PublisherFunc did not forward the event")
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	st := memory.New()
	enqueue(t, st, 1)
	pub := &recordingPublisher{}
	d := outbox.NewDispatcher(st, pub, discardLogger(), outbox.WithPollInterval(5*time.Millisecond))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Start is idempotent while running.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for pub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher never published the pending event")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
