// Package sqlite provides the SQLite-backed implementation of orders.Store.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa — the stats endpoint reads while webhook handlers write.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/orders"

	// Register the pure-Go SQLite driver. modernc.org/sqlite avoids CGO,
	// which keeps Docker builds on Alpine straightforward.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. Amounts are stored as TEXT in
// decimal string form; SQLite REAL would reintroduce the float rounding the
// decimal type exists to avoid. Timestamps are RFC3339 TEXT, the SQLite idiom.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    customer_name    TEXT    NOT NULL,
    customer_email   TEXT    NOT NULL,
    customer_phone   TEXT    NOT NULL DEFAULT '',
    shipping_address TEXT    NOT NULL DEFAULT '',
    city             TEXT    NOT NULL DEFAULT '',
    country          TEXT    NOT NULL DEFAULT '',
    total            TEXT    NOT NULL,
    currency         TEXT    NOT NULL,
    order_status     TEXT    NOT NULL,
    payment_status   TEXT    NOT NULL,
    payment_method   TEXT    NOT NULL DEFAULT '',
    gateway_ref      TEXT    NOT NULL DEFAULT '',
    capture_ref      TEXT    NOT NULL DEFAULT '',
    refund_id        TEXT    NOT NULL DEFAULT '',
    cancel_reason    TEXT    NOT NULL DEFAULT '',
    notes            TEXT    NOT NULL DEFAULT '',

    -- Optimistic concurrency: every UPDATE is conditional on this value.
    version          INTEGER NOT NULL DEFAULT 1,

    created_at       TEXT    NOT NULL,
    updated_at       TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    TEXT    NOT NULL REFERENCES orders(id),
    product_id  TEXT    NOT NULL,
    name_en     TEXT    NOT NULL,
    name_ar     TEXT    NOT NULL DEFAULT '',
    unit_price  TEXT    NOT NULL,
    quantity    INTEGER NOT NULL
);

-- Webhooks are matched by the provider-assigned reference, not the order id.
CREATE INDEX IF NOT EXISTS idx_orders_gateway_ref ON orders(payment_method, gateway_ref);
CREATE INDEX IF NOT EXISTS idx_orders_created_at  ON orders(created_at);
CREATE INDEX IF NOT EXISTS idx_order_items_order  ON order_items(order_id);
`

// Repository is the SQLite implementation of orders.Store.
type Repository struct {
	db *sql.DB
}

var _ orders.Store = (*Repository)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Insert(ctx context.Context, o *orders.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO orders
			(id, customer_name, customer_email, customer_phone, shipping_address,
			 city, country, total, currency, order_status, payment_status,
			 payment_method, gateway_ref, capture_ref, refund_id, cancel_reason,
			 notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, q,
		o.ID,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.Customer.Address, o.Customer.City, o.Customer.Country,
		o.Total.String(), o.Currency,
		string(o.OrderStatus), string(o.PaymentStatus),
		o.PaymentMethod, o.GatewayRef, o.CaptureRef, o.RefundID,
		o.CancelReason, o.Notes, o.Version,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}

	const itemQ = `
		INSERT INTO order_items (order_id, product_id, name_en, name_ar, unit_price, quantity)
		VALUES (?, ?, ?, ?, ?, ?)`
	for _, it := range o.Items {
		if _, err := tx.ExecContext(ctx, itemQ,
			o.ID, it.ProductID, it.NameEN, it.NameAR, it.UnitPrice.String(), it.Quantity,
		); err != nil {
			return fmt.Errorf("sqlite: insert item for order %q: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit insert: %w", err)
	}
	return nil
}

const orderColumns = `
	id, customer_name, customer_email, customer_phone, shipping_address,
	city, country, total, currency, order_status, payment_status,
	payment_method, gateway_ref, capture_ref, refund_id, cancel_reason,
	notes, version, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id string) (*orders.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, orders.NotFoundError("order %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %q: %w", id, err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) GetByGatewayRef(ctx context.Context, method, ref string) (*orders.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_method = ? AND gateway_ref = ?`,
		method, ref)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, orders.NotFoundError("no %s order with reference %s", method, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order by ref %q: %w", ref, err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]*orders.Order, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: count orders: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: list orders: %w", err)
	}

	for _, o := range out {
		if err := r.loadItems(ctx, o); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// Update writes the full mutable state back, conditional on the version the
// caller read. Zero rows affected means a concurrent writer won the race.
func (r *Repository) Update(ctx context.Context, o *orders.Order) error {
	const q = `
		UPDATE orders SET
			order_status = ?, payment_status = ?, payment_method = ?,
			gateway_ref = ?, capture_ref = ?, refund_id = ?, cancel_reason = ?,
			notes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	res, err := r.db.ExecContext(ctx, q,
		string(o.OrderStatus), string(o.PaymentStatus), o.PaymentMethod,
		o.GatewayRef, o.CaptureRef, o.RefundID, o.CancelReason,
		o.Notes, formatTime(o.UpdatedAt),
		o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update order %q: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update order %q: %w", o.ID, err)
	}
	if n == 0 {
		return orders.ErrVersionConflict
	}
	o.Version++
	return nil
}

func (r *Repository) Stats(ctx context.Context) (*orders.Stats, error) {
	st := &orders.Stats{
		ByOrderStatus:   make(map[orders.OrderStatus]int),
		ByPaymentStatus: make(map[orders.PaymentStatus]int),
		Revenue:         decimal.Zero,
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT order_status, payment_status, total FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var os, ps, total string
		if err := rows.Scan(&os, &ps, &total); err != nil {
			return nil, fmt.Errorf("sqlite: stats scan: %w", err)
		}
		st.Total++
		st.ByOrderStatus[orders.OrderStatus(os)]++
		st.ByPaymentStatus[orders.PaymentStatus(ps)]++
		if orders.PaymentStatus(ps) == orders.PaymentCompleted {
			if v, err := decimal.NewFromString(total); err == nil {
				st.Revenue = st.Revenue.Add(v)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: stats: %w", err)
	}
	return st, nil
}

func (r *Repository) loadItems(ctx context.Context, o *orders.Order) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, name_en, name_ar, unit_price, quantity
		 FROM order_items WHERE order_id = ? ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("sqlite: load items for %q: %w", o.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it orders.OrderItem
		var price string
		if err := rows.Scan(&it.ProductID, &it.NameEN, &it.NameAR, &price, &it.Quantity); err != nil {
			return fmt.Errorf("sqlite: scan item for %q: %w", o.ID, err)
		}
		it.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("sqlite: parse price %q: %w", price, err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*orders.Order, error) {
	var o orders.Order
	var total, createdAt, updatedAt string
	var os, ps string
	err := s.Scan(
		&o.ID,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.Address, &o.Customer.City, &o.Customer.Country,
		&total, &o.Currency, &os, &ps,
		&o.PaymentMethod, &o.GatewayRef, &o.CaptureRef, &o.RefundID,
		&o.CancelReason, &o.Notes, &o.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.OrderStatus = orders.OrderStatus(os)
	o.PaymentStatus = orders.PaymentStatus(ps)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total %q: %w", total, err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
