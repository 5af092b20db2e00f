package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the port for order persistence. The service depends on this
// abstraction, not on SQLite directly, so the implementation can be swapped
// for Postgres or an in-memory fake in tests.
type Store interface {
	// Insert persists a new order together with its line items.
	Insert(ctx context.Context, o *Order) error

	// Get fetches an order by its internal id.
	Get(ctx context.Context, id string) (*Order, error)

	// GetByGatewayRef fetches an order by the provider-assigned reference
	// recorded when the payment was created. Webhooks carry this reference,
	// not the internal id.
	GetByGatewayRef(ctx context.Context, method, ref string) (*Order, error)

	// List returns a page of orders, newest first, plus the total count.
	List(ctx context.Context, limit, offset int) ([]*Order, int, error)

	// Update writes the order back conditionally on its version: the row is
	// only written if the stored version equals o.Version, and o.Version is
	// bumped on success. A concurrent writer surfaces as ErrVersionConflict.
	Update(ctx context.Context, o *Order) error

	// Stats aggregates order counts per status axis and completed revenue.
	Stats(ctx context.Context) (*Stats, error)
}

// ErrVersionConflict is returned by Update when the conditional write matched
// no row, meaning another writer got there first.
var ErrVersionConflict = ConflictError("order was modified concurrently")

// Stats is the admin dashboard aggregate.
type Stats struct {
	Total           int                   `json:"total"`
	ByOrderStatus   map[OrderStatus]int   `json:"by_order_status"`
	ByPaymentStatus map[PaymentStatus]int `json:"by_payment_status"`
	Revenue         decimal.Decimal       `json:"revenue"`
}
