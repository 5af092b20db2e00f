// Package gateway defines the uniform contract every payment provider
// adapter implements. Adapters translate one provider's REST API into the
// internal status vocabulary and never leak provider error shapes upward:
// expected provider failures come back as a structured ChargeResult, not as
// a Go error. Errors are reserved for configuration and programming faults.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the internal payment vocabulary every provider status maps into.
// Mapping tables are total: any value an adapter does not recognise maps to
// StatusPending, never to StatusCompleted.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Error codes carried inside structured results.
const (
	ErrCodeGateway = "GATEWAY_ERROR"
	ErrCodeAuth    = "AUTH_ERROR"
)

// PaymentRequest is the outbound payment intent, denominated in the store
// currency. Adapters convert to the provider's currency and minor unit.
type PaymentRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    CustomerInfo
	ReturnURL   string
}

// CustomerInfo is the billing data subset providers require. Empty fields
// are substituted with provider-specific defaults.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// ChargeResult is the transient outcome of a gateway call. Success false with
// a populated ErrorCode means the provider (or the transport) rejected the
// call; the order keeps its last known good state.
type ChargeResult struct {
	Success      bool
	ProviderRef  string
	CaptureRef   string
	ApprovalURL  string
	Status       Status
	Amount       decimal.Decimal
	Currency     string
	ErrorCode    string
	ErrorMessage string
}

// RefundResult is the outcome of a refund call.
type RefundResult struct {
	Success      bool
	RefundID     string
	ErrorCode    string
	ErrorMessage string
}

// WebhookEvent is a provider notification normalised into the internal
// vocabulary. ProviderRef is the same reference stored on the order when the
// payment was created, so the receiver can find the order without knowing
// internal ids.
type WebhookEvent struct {
	Provider    string
	EventID     string
	EventType   string
	ProviderRef string
	// CaptureRef, when present, is the provider's transaction/capture id —
	// the reference refunds must be issued against.
	CaptureRef string
	Amount     decimal.Decimal
	Currency   string
	Status     Status
}

// Gateway wraps one external payment provider.
type Gateway interface {
	Name() string

	// CreatePayment constructs and sends the provider charge request.
	// Transport and provider failures return a structured result, never an
	// error. CreatePayment is never retried: a duplicate call can mean a
	// duplicate charge.
	CreatePayment(ctx context.Context, req PaymentRequest) (*ChargeResult, error)

	// CapturePayment finalises a previously created provider order.
	CapturePayment(ctx context.Context, providerRef string) (*ChargeResult, error)

	// CheckStatus polls the provider for the current transaction status.
	// This is an idempotent read and the only call callers may retry.
	CheckStatus(ctx context.Context, providerRef string) (*ChargeResult, error)

	// Refund issues a full or partial refund against a prior transaction.
	Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*RefundResult, error)

	// VerifyWebhook authenticates an inbound notification. Implementations
	// use constant-time comparison; a false return must cause the caller to
	// drop the payload with no state change.
	VerifyWebhook(body []byte, header http.Header) bool

	// ParseWebhook maps a verified payload into a WebhookEvent. Pure
	// function, no persistence.
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// MinorUnits converts a decimal amount to the provider's minor currency unit
// (cents/piastres), rounding to the nearest integer.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts a minor-unit integer back to a decimal amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Shift(-2)
}

// GatewayUnavailable builds the generic structured failure returned when the
// provider could not be reached or answered with garbage.
func GatewayUnavailable(err error) *ChargeResult {
	return &ChargeResult{
		Success:      false,
		Status:       StatusPending,
		ErrorCode:    ErrCodeGateway,
		ErrorMessage: err.Error(),
	}
}

// AuthFailure builds the structured failure for credential/token problems.
func AuthFailure(err error) *ChargeResult {
	return &ChargeResult{
		Success:      false,
		Status:       StatusPending,
		ErrorCode:    ErrCodeAuth,
		ErrorMessage: err.Error(),
	}
}

// RetryStatus runs fn up to attempts times with doubling backoff, stopping
// early on success or context cancellation. Only safe for idempotent reads
// (CheckStatus); charge creation must never go through here.
func RetryStatus(ctx context.Context, attempts int, fn func() (*ChargeResult, error)) (*ChargeResult, error) {
	backoff := 200 * time.Millisecond
	var res *ChargeResult
	var err error
	for i := 0; i < attempts; i++ {
		res, err = fn()
		if err == nil && res.Success {
			return res, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return res, err
}
