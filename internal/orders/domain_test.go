package orders

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderPending, OrderConfirmed, true},
		{OrderPending, OrderCancelled, true},
		{OrderConfirmed, OrderProcessing, true},
		{OrderConfirmed, OrderCancelled, true},
		{OrderProcessing, OrderShipped, true},
		{OrderProcessing, OrderCancelled, true},
		{OrderShipped, OrderDelivered, true},

		{OrderPending, OrderShipped, false},
		{OrderPending, OrderProcessing, false},
		{OrderConfirmed, OrderShipped, false},
		{OrderShipped, OrderCancelled, false},
		{OrderDelivered, OrderShipped, false},
		{OrderDelivered, OrderCancelled, false},
		{OrderCancelled, OrderConfirmed, false},
		{OrderCancelled, OrderPending, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.allowed {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		allowed  bool
	}{
		{PaymentPending, PaymentProcessing, true},
		{PaymentPending, PaymentCompleted, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentProcessing, PaymentCompleted, true},
		{PaymentProcessing, PaymentFailed, true},
		{PaymentCompleted, PaymentRefunded, true},
		// A failed payment may be retried, and a late completion from the
		// provider still counts.
		{PaymentFailed, PaymentProcessing, true},
		{PaymentFailed, PaymentCompleted, true},

		{PaymentPending, PaymentRefunded, false},
		{PaymentProcessing, PaymentRefunded, false},
		{PaymentCompleted, PaymentFailed, false},
		{PaymentFailed, PaymentRefunded, false},
		{PaymentRefunded, PaymentCompleted, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.allowed {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if OrderStatus("archived").Valid() {
		t.Error("archived should not be a valid order status")
	}
	if PaymentStatus("chargeback").Valid() {
		t.Error("chargeback should not be a valid payment status")
	}
}

func TestComputeTotal(t *testing.T) {
	items := []OrderItem{
		{ProductID: "p1", UnitPrice: decimal.RequireFromString("50.00"), Quantity: 2},
		{ProductID: "p2", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 1},
	}
	total := ComputeTotal(items)
	if want := decimal.RequireFromString("125.00"); !total.Equal(want) {
		t.Errorf("total = %s, want %s", total, want)
	}
}

func TestComputeTotalDecimalPrecision(t *testing.T) {
	// 0.1 + 0.2 style inputs must not drift the way floats do.
	items := []OrderItem{
		{ProductID: "p1", UnitPrice: decimal.RequireFromString("0.10"), Quantity: 3},
		{ProductID: "p2", UnitPrice: decimal.RequireFromString("0.20"), Quantity: 1},
	}
	if total := ComputeTotal(items); !total.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("total = %s, want 0.50", total)
	}
}

func TestRefundable(t *testing.T) {
	o := &Order{PaymentStatus: PaymentCompleted}
	if !o.Refundable() {
		t.Error("completed payment should be refundable")
	}
	for _, st := range []PaymentStatus{PaymentPending, PaymentProcessing, PaymentFailed, PaymentRefunded} {
		o := &Order{PaymentStatus: st}
		if o.Refundable() {
			t.Errorf("payment %s should not be refundable", st)
		}
	}
}

func TestCancellable(t *testing.T) {
	for _, st := range []OrderStatus{OrderPending, OrderConfirmed, OrderProcessing} {
		o := &Order{OrderStatus: st}
		if !o.Cancellable() {
			t.Errorf("order %s should be cancellable", st)
		}
	}
	for _, st := range []OrderStatus{OrderShipped, OrderDelivered, OrderCancelled} {
		o := &Order{OrderStatus: st}
		if o.Cancellable() {
			t.Errorf("order %s should not be cancellable", st)
		}
	}
}
