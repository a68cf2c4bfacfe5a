package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
	"github.com/commercekit/conduct/store/memory"
	"github.com/commercekit/conduct/workflow"
)

func seedOrder(t *testing.T, st *memory.Store) id.OrderID {
	t.Helper()
	ctx := context.Background()
	orderID := id.NewOrderID()
	err := st.Update(ctx, func(tx order.Tx) error {
		return tx.CreateOrder(ctx, &order.Order{
			ID:        orderID,
			Status:    order.StatusProcessing,
			LineItems: []*order.LineItem{{ID: id.NewLineItemID(), Quantity: 1}},
		})
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return orderID
}

func TestSaveOrder_VersionConflict(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	orderID := seedOrder(t, st)

	// Two readers load the same version.
	var a, b *order.Order
	err := st.View(ctx, func(tx order.ReadTx) error {
		var err error
		if a, err = tx.Order(ctx, orderID); err != nil {
			return err
		}
		b, err = tx.Order(ctx, orderID)
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	err = st.Update(ctx, func(tx order.Tx) error { return tx.SaveOrder(ctx, a) })
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	err = st.Update(ctx, func(tx order.Tx) error { return tx.SaveOrder(ctx, b) })
	if !errors.Is(err, conduct.ErrVersionConflict) {
		t.Fatalf("second save error = %v, want ErrVersionConflict", err)
	}
	if conduct.KindOf(err) != conduct.KindConflict {
		t.Errorf("KindOf = %v, want KindConflict", conduct.KindOf(err))
	}
}

func TestSaveOrder_BumpsCallerVersion(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	orderID := seedOrder(t, st)

	err := st.Update(ctx, func(tx order.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		before := o.Version
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		if o.Version != before+1 {
			t.Errorf("Version = %d, want %d", o.Version, before+1)
		}
		// The bumped version lets a second save in the same tx succeed.
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	orderID := seedOrder(t, st)
	boom := errors.New("boom")

	err := st.Update(ctx, func(tx order.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		o.Status = order.StatusCanceled
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		evt, err := outbox.New("test.discarded", nil, "")
		if err != nil {
			return err
		}
		if err := tx.EnqueueEvent(ctx, evt); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want boom", err)
	}

	// Neither the save nor the enqueue survived.
	err = st.View(ctx, func(tx order.ReadTx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != order.StatusProcessing {
			t.Errorf("Status = %q, rollback failed", o.Status)
		}
		if o.Version != 1 {
			t.Errorf("Version = %d, rollback failed", o.Version)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	pending, err := st.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ListPending returned %d events, want 0", len(pending))
	}
}

func TestUpdate_ReadYourWrites(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	orderID := seedOrder(t, st)

	err := st.Update(ctx, func(tx order.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		o.Status = order.StatusCompleted
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}

		again, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if again.Status != order.StatusCompleted {
			t.Errorf("in-tx read Status = %q, want staged write", again.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestReads_ReturnClones(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	orderID := seedOrder(t, st)

	var o *order.Order
	err := st.View(ctx, func(tx order.ReadTx) error {
		var err error
		o, err = tx.Order(ctx, orderID)
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	o.Status = order.StatusCanceled
	o.LineItems[0].ShippedQuantity = 99

	err = st.View(ctx, func(tx order.ReadTx) error {
		fresh, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if fresh.Status != order.StatusProcessing || fresh.LineItems[0].ShippedQuantity != 0 {
			t.Error("mutating a read result leaked into the store")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestMarkDispatched(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	evt, err := outbox.New("test.event", nil, "")
	if err != nil {
		t.Fatalf("outbox.New: %v", err)
	}
	err = st.Update(ctx, func(tx order.Tx) error { return tx.EnqueueEvent(ctx, evt) })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := st.MarkDispatched(ctx, evt.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}
	pending, err := st.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ListPending returned %d events, want 0", len(pending))
	}

	err = st.MarkDispatched(ctx, id.NewEventID(), time.Now().UTC())
	if !errors.Is(err, conduct.ErrEventNotFound) {
		t.Errorf("MarkDispatched unknown = %v, want ErrEventNotFound", err)
	}
}

func TestListRuns_Filters(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	mk := func(name string, state workflow.RunState) {
		run := &workflow.Run{
			ID:    id.NewRunID(),
			Name:  name,
			State: state,
		}
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	mk("fulfillment.ship", workflow.RunStateCompleted)
	mk("fulfillment.ship", workflow.RunStateFailed)
	mk("fulfillment.void_label", workflow.RunStateCompleted)

	runs, err := st.ListRuns(ctx, workflow.ListOpts{Name: "fulfillment.ship"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("name filter returned %d runs, want 2", len(runs))
	}

	runs, err = st.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateCompleted})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("state filter returned %d runs, want 2", len(runs))
	}

	runs, err = st.ListRuns(ctx, workflow.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("limit returned %d runs, want 1", len(runs))
	}
}
