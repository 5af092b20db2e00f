package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/pkg/cache"
)

// CreateOrderInput is the checkout submission. Any client-supplied total is
// absent by design: the service always computes it from the items.
type CreateOrderInput struct {
	Customer Customer
	Items    []OrderItem
	Notes    string
}

// Service orchestrates order creation, status transitions, payment and
// refunds. It is constructed once in main and injected into handlers; the
// only cross-request state it touches lives in the store and the cache.
type Service struct {
	store    Store
	gateways map[string]gateway.Gateway
	cache    cache.Cache
	statsTTL time.Duration
	currency string
	log      *slog.Logger
}

func NewService(store Store, gateways map[string]gateway.Gateway, c cache.Cache, statsTTL time.Duration, currency string) *Service {
	if currency == "" {
		currency = "EGP"
	}
	return &Service{
		store:    store,
		gateways: gateways,
		cache:    c,
		statsTTL: statsTTL,
		currency: currency,
		log:      slog.Default(),
	}
}

// CreateOrder validates the submission, computes the total server-side and
// persists the order as pending on both axes.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &Order{
		ID:            uuid.NewString(),
		Customer:      in.Customer,
		Items:         in.Items,
		Total:         ComputeTotal(in.Items),
		Currency:      s.currency,
		OrderStatus:   OrderPending,
		PaymentStatus: PaymentPending,
		Notes:         in.Notes,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Insert(ctx, o); err != nil {
		return nil, InternalError("persist order", err)
	}

	s.invalidateStats(ctx)
	s.log.InfoContext(ctx, "order created", "order_id", o.ID, "total", o.Total.String(), "items", len(o.Items))
	return o, nil
}

func validateInput(in CreateOrderInput) error {
	if strings.TrimSpace(in.Customer.Name) == "" {
		return ValidationError("customer name is required")
	}
	if strings.TrimSpace(in.Customer.Email) == "" {
		return ValidationError("customer email is required")
	}
	if len(in.Items) == 0 {
		return ValidationError("order must have at least one item")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			return ValidationError("item %d: product id is required", i)
		}
		if it.Quantity <= 0 {
			return ValidationError("item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() || it.UnitPrice.IsZero() {
			return ValidationError("item %d: unit price must be positive", i)
		}
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// NormalizeListPage clamps a raw page request to the bounds the store is
// queried with. The HTTP layer uses it too, so responses echo the values
// the query actually ran with.
func NormalizeListPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]*Order, int, error) {
	limit, offset = NormalizeListPage(limit, offset)
	return s.store.List(ctx, limit, offset)
}

// ConfirmOrder advances pending → confirmed; any other starting state is a
// conflict.
func (s *Service) ConfirmOrder(ctx context.Context, id string) (*Order, error) {
	return s.transitionOrder(ctx, id, OrderConfirmed, "")
}

// CancelOrder marks the order cancelled with a reason. Shipped and delivered
// orders can no longer be cancelled; the only remaining path is a refund.
func (s *Service) CancelOrder(ctx context.Context, id, reason string) (*Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ValidationError("cancel reason is required")
	}
	return s.transitionOrder(ctx, id, OrderCancelled, reason)
}

// UpdateOrderStatus is the admin mutation for either axis. Transitions are
// table-guarded: skipping a gate (pending → shipped) is rejected.
func (s *Service) UpdateOrderStatus(ctx context.Context, id, status, axis string) (*Order, error) {
	switch axis {
	case "order", "":
		st := OrderStatus(status)
		if !st.Valid() {
			return nil, ValidationError("unknown order status %q", status)
		}
		return s.transitionOrder(ctx, id, st, "")
	case "payment":
		st := PaymentStatus(status)
		if !st.Valid() {
			return nil, ValidationError("unknown payment status %q", status)
		}
		return s.transitionPayment(ctx, id, st)
	default:
		return nil, ValidationError("status_type must be \"order\" or \"payment\"")
	}
}

func (s *Service) transitionOrder(ctx context.Context, id string, next OrderStatus, reason string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OrderStatus == next {
		return o, nil
	}
	if !o.OrderStatus.CanTransitionTo(next) {
		return nil, ConflictError("cannot move order from %s to %s", o.OrderStatus, next)
	}

	o.OrderStatus = next
	if reason != "" {
		o.CancelReason = reason
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.InfoContext(ctx, "order status changed", "order_id", o.ID, "status", next)
	return o, nil
}

func (s *Service) transitionPayment(ctx context.Context, id string, next PaymentStatus) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == next {
		return o, nil
	}
	if !o.PaymentStatus.CanTransitionTo(next) {
		return nil, ConflictError("cannot move payment from %s to %s", o.PaymentStatus, next)
	}

	o.PaymentStatus = next
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	return o, nil
}

// StartPayment creates the provider charge for an order through the named
// gateway. On a structured gateway failure the order keeps its state and the
// result is returned so the caller can relay the provider's error code.
func (s *Service) StartPayment(ctx context.Context, id, method, returnURL string) (*Order, *gateway.ChargeResult, error) {
	gw, ok := s.gateways[method]
	if !ok {
		return nil, nil, ValidationError("unknown payment method %q", method)
	}

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	// The transition table admits processing only from pending and failed,
	// which is exactly the set of states a new attempt may start from.
	if !o.PaymentStatus.CanTransitionTo(PaymentProcessing) {
		return nil, nil, ConflictError("payment already %s", o.PaymentStatus)
	}
	if o.OrderStatus == OrderCancelled {
		return nil, nil, ConflictError("order is cancelled")
	}

	res, err := gw.CreatePayment(ctx, gateway.PaymentRequest{
		OrderID:     o.ID,
		Amount:      o.Total,
		Currency:    o.Currency,
		Description: paymentDescription(o),
		Customer: gateway.CustomerInfo{
			Name:  o.Customer.Name,
			Email: o.Customer.Email,
			Phone: o.Customer.Phone,
		},
		ReturnURL: returnURL,
	})
	if err != nil {
		return nil, nil, InternalError("create payment", err)
	}
	if !res.Success {
		s.log.WarnContext(ctx, "payment creation failed", "order_id", o.ID, "gateway", method, "code", res.ErrorCode)
		return o, res, nil
	}

	// A payment may be retried with a different method after a failure, so
	// the method tag and reference are (re)recorded here.
	o.PaymentStatus = PaymentProcessing
	o.PaymentMethod = method
	o.GatewayRef = res.ProviderRef
	if res.CaptureRef != "" {
		o.CaptureRef = res.CaptureRef
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, nil, err
	}

	s.invalidateStats(ctx)
	s.log.InfoContext(ctx, "payment started", "order_id", o.ID, "gateway", method, "provider_ref", res.ProviderRef)
	return o, res, nil
}

func paymentDescription(o *Order) string {
	if len(o.Items) == 1 {
		return o.Items[0].NameEN
	}
	return "Order " + o.ID
}

// CapturePayment finalises (or, for redirect providers, polls) the gateway
// payment and applies the mapped status.
func (s *Service) CapturePayment(ctx context.Context, id string) (*Order, *gateway.ChargeResult, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	gw, ok := s.gateways[o.PaymentMethod]
	if !ok {
		return nil, nil, ConflictError("order has no payment in progress")
	}
	if o.GatewayRef == "" {
		return nil, nil, ConflictError("order has no gateway reference")
	}

	res, err := gw.CapturePayment(ctx, o.GatewayRef)
	if err != nil {
		return nil, nil, InternalError("capture payment", err)
	}
	if !res.Success {
		return o, res, nil
	}

	if res.CaptureRef != "" {
		o.CaptureRef = res.CaptureRef
	}
	if err := s.applyPaymentStatus(ctx, o, res.Status); err != nil {
		return nil, nil, err
	}
	return o, res, nil
}

// CanOrderBeRefunded is the pure eligibility predicate exposed to the admin
// UI.
func (s *Service) CanOrderBeRefunded(ctx context.Context, id string) (bool, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return o.Refundable(), nil
}

// RefundOrder issues a full refund through the originating gateway. The
// order is marked refunded only after the adapter confirms success; any
// failure leaves the order untouched and surfaces the gateway's error.
func (s *Service) RefundOrder(ctx context.Context, id, reason string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Refundable() {
		return nil, ConflictError("order payment is %s, only completed payments can be refunded", o.PaymentStatus)
	}

	gw, ok := s.gateways[o.PaymentMethod]
	if !ok {
		return nil, InternalError("originating gateway "+o.PaymentMethod+" is not configured", nil)
	}

	ref := o.CaptureRef
	if ref == "" {
		ref = o.GatewayRef
	}
	res, err := gw.Refund(ctx, ref, o.Total, reason)
	if err != nil {
		return nil, InternalError("refund", err)
	}
	if !res.Success {
		return nil, GatewayError("gateway refused the refund: "+res.ErrorMessage, nil)
	}

	o.PaymentStatus = PaymentRefunded
	o.RefundID = res.RefundID
	if o.RefundID == "" {
		o.RefundID = uuid.NewString()
	}
	if reason != "" {
		o.CancelReason = reason
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.log.InfoContext(ctx, "order refunded", "order_id", o.ID, "refund_id", o.RefundID)
	return o, nil
}

// ApplyWebhook applies a verified, deduplicated gateway notification to the
// order it references. Transitions the table forbids (a stale or replayed
// status) are dropped without touching the order; an identical status is a
// no-op, which keeps webhook application idempotent even without the ledger.
func (s *Service) ApplyWebhook(ctx context.Context, ev *gateway.WebhookEvent) error {
	o, err := s.store.GetByGatewayRef(ctx, ev.Provider, ev.ProviderRef)
	if err != nil {
		return err
	}

	next := paymentStatusFromGateway(ev.Status)
	if o.PaymentStatus == next {
		return nil
	}
	if !o.PaymentStatus.CanTransitionTo(next) {
		s.log.WarnContext(ctx, "dropping stale webhook transition",
			"order_id", o.ID, "from", o.PaymentStatus, "to", next, "event_id", ev.EventID)
		return nil
	}

	o.PaymentStatus = next
	if ev.CaptureRef != "" && o.CaptureRef == "" {
		o.CaptureRef = ev.CaptureRef
	}
	// A completed payment confirms a still-pending order automatically.
	if next == PaymentCompleted && o.OrderStatus == OrderPending {
		o.OrderStatus = OrderConfirmed
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return err
	}

	s.invalidateStats(ctx)
	s.log.InfoContext(ctx, "webhook applied",
		"order_id", o.ID, "provider", ev.Provider, "event_id", ev.EventID, "payment_status", next)
	return nil
}

func (s *Service) applyPaymentStatus(ctx context.Context, o *Order, st gateway.Status) error {
	next := paymentStatusFromGateway(st)
	if o.PaymentStatus == next {
		return s.store.Update(ctx, o)
	}
	if !o.PaymentStatus.CanTransitionTo(next) {
		return ConflictError("cannot move payment from %s to %s", o.PaymentStatus, next)
	}
	o.PaymentStatus = next
	if next == PaymentCompleted && o.OrderStatus == OrderPending {
		o.OrderStatus = OrderConfirmed
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return err
	}
	s.invalidateStats(ctx)
	return nil
}

// paymentStatusFromGateway maps the gateway vocabulary onto the payment
// axis. A gateway-side cancellation means the shopper abandoned or voided
// the charge, which the order records as a failed payment.
func paymentStatusFromGateway(st gateway.Status) PaymentStatus {
	switch st {
	case gateway.StatusProcessing:
		return PaymentProcessing
	case gateway.StatusCompleted:
		return PaymentCompleted
	case gateway.StatusFailed, gateway.StatusCancelled:
		return PaymentFailed
	case gateway.StatusRefunded:
		return PaymentRefunded
	default:
		return PaymentPending
	}
}

const statsKeySuffix = "dashboard"

// Stats returns the dashboard aggregate, served from the cache inside the
// TTL window and recomputed from the store otherwise.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	key := s.cache.GenerateKey("stats", statsKeySuffix)
	if raw, err := s.cache.Get(ctx, key); err == nil && raw != "" {
		var st Stats
		if err := json.Unmarshal([]byte(raw), &st); err == nil {
			return &st, nil
		}
	}

	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, InternalError("compute stats", err)
	}
	if raw, err := json.Marshal(st); err == nil {
		// Cache failures only cost a recomputation.
		_ = s.cache.Set(ctx, key, string(raw), s.statsTTL)
	}
	return st, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	_ = s.cache.Del(ctx, s.cache.GenerateKey("stats", statsKeySuffix))
}
