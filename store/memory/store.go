// Package memory is a fully in-memory store implementation. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/event"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
	"github.com/commercekit/conduct/workflow"
)

// Ensure Store implements every subsystem contract at compile time.
var (
	_ workflow.RunStore = (*Store)(nil)
	_ order.Store       = (*Store)(nil)
	_ outbox.Store      = (*Store)(nil)
	_ event.Store       = (*Store)(nil)
)

// Store holds all state in maps guarded by one RWMutex. Update
// transactions stage their writes and apply them only when the
// transaction function returns nil, so a failed transaction leaves no
// partial state behind.
type Store struct {
	mu sync.RWMutex

	orders       map[string]*order.Order
	fulfillments map[string]*order.Fulfillment
	runs         map[string]*workflow.Run
	outbox       []*outbox.Event
	events       map[string]*event.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		orders:       make(map[string]*order.Order),
		fulfillments: make(map[string]*order.Fulfillment),
		runs:         make(map[string]*workflow.Run),
		events:       make(map[string]*event.Event),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Order Store — View / Update
// ──────────────────────────────────────────────────

// View runs fn under the read lock. Loads return deep copies.
func (m *Store) View(_ context.Context, fn func(tx order.ReadTx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&readTx{s: m})
}

// Update runs fn under the write lock with staged writes. The staged
// orders, fulfillments, and outbox events apply atomically when fn
// returns nil; any error discards them all.
func (m *Store) Update(_ context.Context, fn func(tx order.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &writeTx{
		s:            m,
		orders:       make(map[string]*order.Order),
		fulfillments: make(map[string]*order.Fulfillment),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for key, o := range tx.orders {
		m.orders[key] = o
	}
	for key, f := range tx.fulfillments {
		m.fulfillments[key] = f
	}
	m.outbox = append(m.outbox, tx.events...)
	return nil
}

// readTx reads the canonical maps. The store lock is held by View for
// the transaction's whole lifetime.
type readTx struct {
	s *Store
}

func (t *readTx) Order(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	o, ok := t.s.orders[orderID.String()]
	if !ok {
		return nil, conduct.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (t *readTx) Fulfillment(_ context.Context, fulfillmentID id.FulfillmentID) (*order.Fulfillment, error) {
	f, ok := t.s.fulfillments[fulfillmentID.String()]
	if !ok {
		return nil, conduct.ErrFulfillmentNotFound
	}
	return f.Clone(), nil
}

// writeTx stages writes until commit. Reads see staged writes first so
// a transaction observes its own mutations.
type writeTx struct {
	s            *Store
	orders       map[string]*order.Order
	fulfillments map[string]*order.Fulfillment
	events       []*outbox.Event
}

func (t *writeTx) Order(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	key := orderID.String()
	if o, ok := t.orders[key]; ok {
		return o.Clone(), nil
	}
	o, ok := t.s.orders[key]
	if !ok {
		return nil, conduct.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (t *writeTx) Fulfillment(_ context.Context, fulfillmentID id.FulfillmentID) (*order.Fulfillment, error) {
	key := fulfillmentID.String()
	if f, ok := t.fulfillments[key]; ok {
		return f.Clone(), nil
	}
	f, ok := t.s.fulfillments[key]
	if !ok {
		return nil, conduct.ErrFulfillmentNotFound
	}
	return f.Clone(), nil
}

func (t *writeTx) CreateOrder(_ context.Context, o *order.Order) error {
	key := o.ID.String()
	if _, ok := t.s.orders[key]; ok {
		return conduct.Errorf(conduct.KindConflict, "order %s already exists", o.ID)
	}
	if _, ok := t.orders[key]; ok {
		return conduct.Errorf(conduct.KindConflict, "order %s already exists", o.ID)
	}
	cp := o.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	t.orders[key] = cp
	return nil
}

func (t *writeTx) CreateFulfillment(_ context.Context, f *order.Fulfillment) error {
	key := f.ID.String()
	if _, ok := t.s.fulfillments[key]; ok {
		return conduct.Errorf(conduct.KindConflict, "fulfillment %s already exists", f.ID)
	}
	if _, ok := t.fulfillments[key]; ok {
		return conduct.Errorf(conduct.KindConflict, "fulfillment %s already exists", f.ID)
	}
	cp := f.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	t.fulfillments[key] = cp
	return nil
}

// SaveOrder persists o, bumping its version. The caller's copy must
// carry the version it was loaded with; a mismatch means a concurrent
// writer committed first and fails with ErrVersionConflict.
func (t *writeTx) SaveOrder(_ context.Context, o *order.Order) error {
	key := o.ID.String()
	current, ok := t.orders[key]
	if !ok {
		current, ok = t.s.orders[key]
	}
	if !ok {
		return conduct.ErrOrderNotFound
	}
	if o.Version != current.Version {
		return conduct.ErrVersionConflict
	}

	cp := o.Clone()
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	t.orders[key] = cp

	o.Version = cp.Version
	return nil
}

// SaveFulfillment persists f with the same optimistic-locking rule as
// SaveOrder.
func (t *writeTx) SaveFulfillment(_ context.Context, f *order.Fulfillment) error {
	key := f.ID.String()
	current, ok := t.fulfillments[key]
	if !ok {
		current, ok = t.s.fulfillments[key]
	}
	if !ok {
		return conduct.ErrFulfillmentNotFound
	}
	if f.Version != current.Version {
		return conduct.ErrVersionConflict
	}

	cp := f.Clone()
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	t.fulfillments[key] = cp

	f.Version = cp.Version
	return nil
}

// EnqueueEvent stages an outbox event; it becomes visible to the
// dispatcher only when the transaction commits.
func (t *writeTx) EnqueueEvent(_ context.Context, evt *outbox.Event) error {
	cp := *evt
	cp.Payload = append([]byte(nil), evt.Payload...)
	t.events = append(t.events, &cp)
	return nil
}

// ──────────────────────────────────────────────────
// Outbox Store
// ──────────────────────────────────────────────────

// ListPending returns up to limit undispatched events in enqueue order.
func (m *Store) ListPending(_ context.Context, limit int) ([]*outbox.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*outbox.Event, 0, limit)
	for _, evt := range m.outbox {
		if evt.Dispatched() {
			continue
		}
		cp := *evt
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// MarkDispatched records the dispatch time for an event.
func (m *Store) MarkDispatched(_ context.Context, eventID id.EventID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, evt := range m.outbox {
		if evt.ID == eventID {
			evt.DispatchedAt = &at
			return nil
		}
	}
	return conduct.ErrEventNotFound
}

// ──────────────────────────────────────────────────
// Workflow Run Store
// ──────────────────────────────────────────────────

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return conduct.Errorf(conduct.KindConflict, "run %s already exists", run.ID)
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, conduct.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing workflow run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return conduct.ErrRunNotFound
	}
	cp := *run
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// ListRuns returns workflow runs matching the given options.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Poll-based: loops with 10ms sleep until an event is available or timeout.
func (m *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		m.mu.RLock()
		for _, evt := range m.events {
			if evt.Name == name && !evt.Acked {
				cp := *evt
				m.mu.RUnlock()
				return &cp, nil
			}
		}
		m.mu.RUnlock()

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return conduct.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}
