package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment axis of an order's lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// PaymentStatus is the payment axis, independent of fulfilment.
// An order can be confirmed while its payment is still pending.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// orderTransitions is the authoritative legal-transition table for the
// fulfilment axis. States may not be skipped: pending→shipped is rejected
// even for admin updates. cancelled is reachable from any pre-shipment state.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
	OrderDelivered:  {},
	OrderCancelled:  {},
}

// paymentTransitions mirrors the table above for the payment axis.
// refunded is absorbing. failed is not: the customer may retry the payment,
// and a late completion notice for an attempt we gave up on still applies.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentCompleted, PaymentFailed},
	PaymentProcessing: {PaymentCompleted, PaymentFailed},
	PaymentCompleted:  {PaymentRefunded},
	PaymentFailed:     {PaymentProcessing, PaymentCompleted},
	PaymentRefunded:   {},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// OrderItem is a line item with the product name snapshotted in both store
// languages at purchase time, so later catalogue edits don't rewrite history.
type OrderItem struct {
	ProductID string
	NameEN    string
	NameAR    string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal is unit price times quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Customer holds the contact and shipping fields captured at checkout.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
	Country string
}

// Order is the aggregate persisted by the store. Rows are never deleted;
// terminal outcomes are expressed through the two status axes.
//
// Version implements optimistic concurrency: every mutation is a conditional
// write on (ID, Version), so a concurrent webhook and admin action on the
// same order cannot silently overwrite each other.
type Order struct {
	ID            string
	Customer      Customer
	Items         []OrderItem
	Total         decimal.Decimal
	Currency      string
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod string
	GatewayRef    string
	CaptureRef    string
	RefundID      string
	CancelReason  string
	Notes         string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ComputeTotal sums the line-item subtotals. The service always persists this
// value and ignores any client-supplied total.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Refundable reports whether the order is in a state a refund may be issued
// from. Pure predicate, no side effects.
func (o *Order) Refundable() bool {
	return o.PaymentStatus == PaymentCompleted
}

// Cancellable reports whether the order may still be cancelled.
// Once goods are on the way the cancel path is closed; only refund remains.
func (o *Order) Cancellable() bool {
	return o.OrderStatus.CanTransitionTo(OrderCancelled)
}
