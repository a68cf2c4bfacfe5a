package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
)

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx order.ReadTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("conduct/sqlite: begin read tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Update runs fn in a read-write transaction, committing if fn returns
// nil and rolling back otherwise.
func (s *Store) Update(ctx context.Context, fn func(tx order.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlTx implements order.Tx over one database/sql transaction.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Order(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	o := &order.Order{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, status, fulfillment_status, version, created_at, updated_at
		FROM conduct_orders
		WHERE id = ?`,
		orderID,
	).Scan(&o.ID, &o.Status, &o.FulfillmentStatus, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrOrderNotFound
		}
		return nil, fmt.Errorf("conduct/sqlite: get order: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, quantity, shipped_quantity, status
		FROM conduct_line_items
		WHERE order_id = ?
		ORDER BY position ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/sqlite: get line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		li := &order.LineItem{}
		if err := rows.Scan(&li.ID, &li.Quantity, &li.ShippedQuantity, &li.Status); err != nil {
			return nil, fmt.Errorf("conduct/sqlite: scan line item: %w", err)
		}
		o.LineItems = append(o.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/sqlite: iterate line items: %w", err)
	}

	return o, nil
}

func (t *sqlTx) Fulfillment(ctx context.Context, fulfillmentID id.FulfillmentID) (*order.Fulfillment, error) {
	f := &order.Fulfillment{}
	var (
		itemsJSON string
		labelJSON sql.NullString
		idemKey   sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, order_id, items, label_state, idempotency_key, label,
		       provider, shipped_at, canceled_at, version, created_at, updated_at
		FROM conduct_fulfillments
		WHERE id = ?`,
		fulfillmentID,
	).Scan(
		&f.ID, &f.OrderID, &itemsJSON, &f.LabelState, &idemKey, &labelJSON,
		&f.Provider, &f.ShippedAt, &f.CanceledAt, &f.Version, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrFulfillmentNotFound
		}
		return nil, fmt.Errorf("conduct/sqlite: get fulfillment: %w", err)
	}

	f.IdempotencyKey = idemKey.String
	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &f.Items); err != nil {
			return nil, fmt.Errorf("conduct/sqlite: decode fulfillment items: %w", err)
		}
	}
	if labelJSON.Valid && labelJSON.String != "" {
		f.Label = &order.Label{}
		if err := json.Unmarshal([]byte(labelJSON.String), f.Label); err != nil {
			return nil, fmt.Errorf("conduct/sqlite: decode fulfillment label: %w", err)
		}
	}

	return f, nil
}

func (t *sqlTx) CreateOrder(ctx context.Context, o *order.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
		o.UpdatedAt = now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conduct_orders (id, status, fulfillment_status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Status, o.FulfillmentStatus, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.Errorf(conduct.KindConflict, "order %s already exists", o.ID)
		}
		return fmt.Errorf("conduct/sqlite: create order: %w", err)
	}

	for pos, li := range o.LineItems {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO conduct_line_items (id, order_id, position, quantity, shipped_quantity, status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			li.ID, o.ID, pos, li.Quantity, li.ShippedQuantity, li.Status,
		)
		if err != nil {
			return fmt.Errorf("conduct/sqlite: create line item: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) CreateFulfillment(ctx context.Context, f *order.Fulfillment) error {
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

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO conduct_fulfillments (
			id, order_id, items, label_state, idempotency_key, label,
			provider, shipped_at, canceled_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, itemsJSON, f.LabelState, idemKey, labelJSON,
		f.Provider, f.ShippedAt, f.CanceledAt, f.Version, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.Errorf(conduct.KindConflict, "fulfillment %s already exists", f.ID)
		}
		return fmt.Errorf("conduct/sqlite: create fulfillment: %w", err)
	}
	return nil
}

func (t *sqlTx) SaveOrder(ctx context.Context, o *order.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE conduct_orders
		SET status = ?, fulfillment_status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		o.Status, o.FulfillmentStatus, time.Now().UTC(), o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: save order: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		var exists bool
		if err := t.tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduct_orders WHERE id = ?)`, o.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conduct/sqlite: save order existence check: %w", err)
		}
		if !exists {
			return conduct.ErrOrderNotFound
		}
		return conduct.ErrVersionConflict
	}
	o.Version++

	for _, li := range o.LineItems {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE conduct_line_items
			SET quantity = ?, shipped_quantity = ?, status = ?
			WHERE id = ?`,
			li.Quantity, li.ShippedQuantity, li.Status, li.ID,
		)
		if err != nil {
			return fmt.Errorf("conduct/sqlite: save line item: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) SaveFulfillment(ctx context.Context, f *order.Fulfillment) error {
	itemsJSON, labelJSON, idemKey, err := fulfillmentColumns(f)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE conduct_fulfillments
		SET items = ?, label_state = ?, idempotency_key = ?, label = ?,
		    provider = ?, shipped_at = ?, canceled_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		itemsJSON, f.LabelState, idemKey, labelJSON,
		f.Provider, f.ShippedAt, f.CanceledAt, time.Now().UTC(),
		f.ID, f.Version,
	)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: save fulfillment: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		var exists bool
		if err := t.tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conduct_fulfillments WHERE id = ?)`, f.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conduct/sqlite: save fulfillment existence check: %w", err)
		}
		if !exists {
			return conduct.ErrFulfillmentNotFound
		}
		return conduct.ErrVersionConflict
	}
	f.Version++
	return nil
}

func (t *sqlTx) EnqueueEvent(ctx context.Context, evt *outbox.Event) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conduct_outbox (id, name, payload, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		evt.ID, evt.Name, evt.Payload, evt.CorrelationID, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: enqueue event: %w", err)
	}
	return nil
}

// fulfillmentColumns encodes the JSON columns and nullable key.
func fulfillmentColumns(f *order.Fulfillment) (items string, label, idemKey any, err error) {
	data, err := json.Marshal(f.Items)
	if err != nil {
		return "", nil, nil, fmt.Errorf("conduct/sqlite: encode fulfillment items: %w", err)
	}
	items = string(data)

	if f.Label != nil {
		data, err := json.Marshal(f.Label)
		if err != nil {
			return "", nil, nil, fmt.Errorf("conduct/sqlite: encode fulfillment label: %w", err)
		}
		label = string(data)
	}
	if f.IdempotencyKey != "" {
		idemKey = f.IdempotencyKey
	}
	return items, label, idemKey, nil
}
