package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
)

// View runs fn in a read-only database transaction.
func (s *Store) View(ctx context.Context, fn func(tx order.ReadTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("conduct/postgres: begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn in a read-write transaction, committing if fn returns
// nil and rolling back otherwise.
func (s *Store) Update(ctx context.Context, fn func(tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("conduct/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTx implements order.Tx over one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Order(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	o := &order.Order{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, status, fulfillment_status, version, created_at, updated_at
		FROM conduct_orders
		WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &o.Status, &o.FulfillmentStatus, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrOrderNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get order: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, quantity, shipped_quantity, status
		FROM conduct_line_items
		WHERE order_id = $1
		ORDER BY position ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: get line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		li := &order.LineItem{}
		if err := rows.Scan(&li.ID, &li.Quantity, &li.ShippedQuantity, &li.Status); err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan line item: %w", err)
		}
		o.LineItems = append(o.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/postgres: iterate line items: %w", err)
	}

	return o, nil
}

func (t *pgTx) Fulfillment(ctx context.Context, fulfillmentID id.FulfillmentID) (*order.Fulfillment, error) {
	f := &order.Fulfillment{}
	var (
		itemsJSON []byte
		labelJSON []byte
		idemKey   *string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, order_id, items, label_state, idempotency_key, label,
		       provider, shipped_at, canceled_at, version, created_at, updated_at
		FROM conduct_fulfillments
		WHERE id = $1`,
		fulfillmentID,
	).Scan(
		&f.ID, &f.OrderID, &itemsJSON, &f.LabelState, &idemKey, &labelJSON,
		&f.Provider, &f.ShippedAt, &f.CanceledAt, &f.Version, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrFulfillmentNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get fulfillment: %w", err)
	}

	if idemKey != nil {
		f.IdempotencyKey = *idemKey
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &f.Items); err != nil {
			return nil, fmt.Errorf("conduct/postgres: decode fulfillment items: %w", err)
		}
	}
	if len(labelJSON) > 0 {
		f.Label = &order.Label{}
		if err := json.Unmarshal(labelJSON, f.Label); err != nil {
			return nil, fmt.Errorf("conduct/postgres: decode fulfillment label: %w", err)
		}
	}

	return f, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *order.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
		o.UpdatedAt = now
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO conduct_orders (id, status, fulfillment_status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.Status, o.FulfillmentStatus, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.Errorf(conduct.KindConflict, "order %s already exists", o.ID)
		}
		return fmt.Errorf("conduct/postgres: create order: %w", err)
	}

	for pos, li := range o.LineItems {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO conduct_line_items (id, order_id, position, quantity, shipped_quantity, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			li.ID, o.ID, pos, li.Quantity, li.ShippedQuantity, li.Status,
		)
		if err != nil {
			return fmt.Errorf("conduct/postgres: create line item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) CreateFulfillment(ctx context.Context, f *order.Fulfillment) error {
	if f.Version == 0 {
		f.Version = 1
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
		f.UpdatedAt = now
	}

	itemsJSON, labelJSON, idemKey, err := fulfillmentColumns(f)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO conduct_fulfillments (
			id, order_id, items, label_state, idempotency_key, label,
			provider, shipped_at, canceled_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.OrderID, itemsJSON, f.LabelState, idemKey, labelJSON,
		f.Provider, f.ShippedAt, f.CanceledAt, f.Version, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.Errorf(conduct.KindConflict, "fulfillment %s already exists", f.ID)
		}
		return fmt.Errorf("conduct/postgres: create fulfillment: %w", err)
	}
	return nil
}

// SaveOrder persists o with the optimistic-lock check in the UPDATE
// predicate: zero rows affected with an existing row means a concurrent
// writer bumped the version first.
func (t *pgTx) SaveOrder(ctx context.Context, o *order.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE conduct_orders
		SET status = $2, fulfillment_status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $4`,
		o.ID, o.Status, o.FulfillmentStatus, o.Version,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: save order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduct_orders WHERE id = $1)`, o.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conduct/postgres: save order existence check: %w", err)
		}
		if !exists {
			return conduct.ErrOrderNotFound
		}
		return conduct.ErrVersionConflict
	}
	o.Version++

	for _, li := range o.LineItems {
		_, err := t.tx.Exec(ctx, `
			UPDATE conduct_line_items
			SET quantity = $2, shipped_quantity = $3, status = $4
			WHERE id = $1`,
			li.ID, li.Quantity, li.ShippedQuantity, li.Status,
		)
		if err != nil {
			return fmt.Errorf("conduct/postgres: save line item: %w", err)
		}
	}
	return nil
}

// SaveFulfillment persists f with the same optimistic-lock rule as
// SaveOrder.
func (t *pgTx) SaveFulfillment(ctx context.Context, f *order.Fulfillment) error {
	itemsJSON, labelJSON, idemKey, err := fulfillmentColumns(f)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE conduct_fulfillments
		SET items = $2, label_state = $3, idempotency_key = $4, label = $5,
		    provider = $6, shipped_at = $7, canceled_at = $8,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $9`,
		f.ID, itemsJSON, f.LabelState, idemKey, labelJSON,
		f.Provider, f.ShippedAt, f.CanceledAt, f.Version,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: save fulfillment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduct_fulfillments WHERE id = $1)`, f.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conduct/postgres: save fulfillment existence check: %w", err)
		}
		if !exists {
			return conduct.ErrFulfillmentNotFound
		}
		return conduct.ErrVersionConflict
	}
	f.Version++
	return nil
}

// EnqueueEvent inserts an outbox row in this transaction, so the event
// commits if and only if the state change does.
func (t *pgTx) EnqueueEvent(ctx context.Context, evt *outbox.Event) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO conduct_outbox (id, name, payload, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.Name, evt.Payload, evt.CorrelationID, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: enqueue event: %w", err)
	}
	return nil
}

// fulfillmentColumns encodes the JSON columns and nullable key.
func fulfillmentColumns(f *order.Fulfillment) (items, label []byte, idemKey *string, err error) {
	items, err = json.Marshal(f.Items)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("conduct/postgres: encode fulfillment items: %w", err)
	}
	if f.Label != nil {
		label, err = json.Marshal(f.Label)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("conduct/postgres: encode fulfillment label: %w", err)
		}
	}
	if f.IdempotencyKey != "" {
		idemKey = &f.IdempotencyKey
	}
	return items, label, idemKey, nil
}
