// Package fawry wraps FawryPay's payments API. Fawry authenticates requests
// with a SHA-256 signature over concatenated fields rather than a bearer
// token, so there is no token cache here.
package fawry

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/gateway"
)

const (
	DefaultBaseURL = "https://atfawry.fawrystaging.com"

	// Bound on status-poll attempts per capture.
	statusRetryAttempts = 3
)

// statusMap is the fixed lookup from Fawry's order statuses. PARTIAL means a
// partially paid instalment order, which the store treats as still in
// flight. Anything unrecognised maps to pending, never completed.
var statusMap = map[string]gateway.Status{
	"NEW":       gateway.StatusPending,
	"UNPAID":    gateway.StatusPending,
	"PARTIAL":   gateway.StatusProcessing,
	"PAID":      gateway.StatusCompleted,
	"CANCELLED": gateway.StatusCancelled,
	"CANCELED":  gateway.StatusCancelled,
	"EXPIRED":   gateway.StatusFailed,
	"FAILED":    gateway.StatusFailed,
	"REFUNDED":  gateway.StatusRefunded,
}

func mapStatus(s string) gateway.Status {
	if st, ok := statusMap[s]; ok {
		return st
	}
	return gateway.StatusPending
}

// Config carries the merchant credentials.
type Config struct {
	MerchantCode string
	SecureKey    string
	BaseURL      string
}

// Adapter implements gateway.Gateway for FawryPay.
type Adapter struct {
	cfg  Config
	http *http.Client
}

var _ gateway.Gateway = (*Adapter)(nil)

func New(cfg Config, timeout time.Duration) (*Adapter, error) {
	if cfg.MerchantCode == "" || cfg.SecureKey == "" {
		return nil, fmt.Errorf("fawry: merchant code and secure key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

func (a *Adapter) Name() string { return "fawry" }

// signature is SHA-256 over the concatenation of the given fields with the
// secure key appended, hex encoded — Fawry's request signing scheme.
func (a *Adapter) signature(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
	}
	h.Write([]byte(a.cfg.SecureKey))
	return hex.EncodeToString(h.Sum(nil))
}

// CreatePayment submits a charge request. The merchant reference is our
// order id; the Fawry reference number that comes back is what status polls,
// refunds and webhooks are keyed by.
func (a *Adapter) CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.ChargeResult, error) {
	amount := req.Amount.StringFixed(2)
	payload := map[string]any{
		"merchantCode":   a.cfg.MerchantCode,
		"merchantRefNum": req.OrderID,
		"customerName":   req.Customer.Name,
		"customerMobile": req.Customer.Phone,
		"customerEmail":  req.Customer.Email,
		"amount":         amount,
		"currencyCode":   req.Currency,
		"description":    req.Description,
		"paymentMethod":  "PAYATFAWRY",
		"chargeItems": []map[string]any{{
			"itemId":   req.OrderID,
			"price":    amount,
			"quantity": 1,
		}},
		"signature": a.signature(a.cfg.MerchantCode, req.OrderID, amount),
	}

	var out struct {
		ReferenceNumber   string `json:"referenceNumber"`
		StatusCode        int    `json:"statusCode"`
		StatusDescription string `json:"statusDescription"`
	}
	if err := a.call(ctx, http.MethodPost, "/fawrypay-api/api/payments/charge", payload, &out); err != nil {
		return gateway.GatewayUnavailable(err), nil
	}
	if out.StatusCode != 200 {
		return &gateway.ChargeResult{
			Success:      false,
			Status:       gateway.StatusPending,
			ErrorCode:    gateway.ErrCodeGateway,
			ErrorMessage: fmt.Sprintf("fawry: charge rejected (%d): %s", out.StatusCode, out.StatusDescription),
		}, nil
	}

	// Everything downstream keys on the merchant reference (our order id):
	// it is what the status endpoint accepts and what webhooks echo back.
	// The Fawry-side reference number rides along for support lookups.
	return &gateway.ChargeResult{
		Success:     true,
		ProviderRef: req.OrderID,
		CaptureRef:  out.ReferenceNumber,
		Status:      gateway.StatusPending,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}, nil
}

// CapturePayment polls the current status: Fawry collects cash at kiosks, so
// there is no merchant-side capture step to finalise. Being a pure read it is
// retried on transient provider errors.
func (a *Adapter) CapturePayment(ctx context.Context, providerRef string) (*gateway.ChargeResult, error) {
	return gateway.RetryStatus(ctx, statusRetryAttempts, func() (*gateway.ChargeResult, error) {
		return a.CheckStatus(ctx, providerRef)
	})
}

func (a *Adapter) CheckStatus(ctx context.Context, providerRef string) (*gateway.ChargeResult, error) {
	q := url.Values{}
	q.Set("merchantCode", a.cfg.MerchantCode)
	q.Set("merchantRefNumber", providerRef)
	q.Set("signature", a.signature(a.cfg.MerchantCode, providerRef))

	var out struct {
		OrderStatus    string          `json:"orderStatus"`
		PaymentAmount  decimal.Decimal `json:"paymentAmount"`
		FawryRefNumber string          `json:"fawryRefNumber"`
	}
	path := "/ECommerceWeb/Fawry/payments/status/v2?" + q.Encode()
	if err := a.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return gateway.GatewayUnavailable(err), nil
	}

	return &gateway.ChargeResult{
		Success:     true,
		ProviderRef: providerRef,
		Status:      mapStatus(out.OrderStatus),
		Amount:      out.PaymentAmount,
		Currency:    "EGP",
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*gateway.RefundResult, error) {
	refundAmount := amount.StringFixed(2)
	payload := map[string]any{
		"merchantCode":    a.cfg.MerchantCode,
		"referenceNumber": providerRef,
		"refundAmount":    refundAmount,
		"reason":          reason,
		"signature":       a.signature(a.cfg.MerchantCode, providerRef, refundAmount),
	}

	var out struct {
		StatusCode        int    `json:"statusCode"`
		StatusDescription string `json:"statusDescription"`
	}
	if err := a.call(ctx, http.MethodPost, "/ECommerceWeb/Fawry/payments/refund", payload, &out); err != nil {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeGateway, ErrorMessage: err.Error()}, nil
	}
	if out.StatusCode != 200 {
		return &gateway.RefundResult{
			ErrorCode:    gateway.ErrCodeGateway,
			ErrorMessage: fmt.Sprintf("fawry: refund rejected (%d): %s", out.StatusCode, out.StatusDescription),
		}, nil
	}
	return &gateway.RefundResult{Success: true, RefundID: providerRef}, nil
}

// VerifyWebhook recomputes HMAC-SHA256 over the raw body with the secure key
// and compares against the hex signature header in constant time.
func (a *Adapter) VerifyWebhook(body []byte, header http.Header) bool {
	sig := header.Get("X-Fawry-Signature")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.SecureKey))
	mac.Write(body)
	expect := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expect), []byte(sig))
}

func (a *Adapter) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var payload struct {
		RequestID         string          `json:"requestId"`
		FawryRefNumber    string          `json:"fawryRefNumber"`
		MerchantRefNumber string          `json:"merchantRefNumber"`
		OrderStatus       string          `json:"orderStatus"`
		PaymentAmount     decimal.Decimal `json:"paymentAmount"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("fawry: parse webhook: %w", err)
	}
	if payload.RequestID == "" {
		return nil, fmt.Errorf("fawry: webhook missing requestId")
	}

	return &gateway.WebhookEvent{
		Provider:    a.Name(),
		EventID:     payload.RequestID,
		EventType:   payload.OrderStatus,
		ProviderRef: payload.MerchantRefNumber,
		CaptureRef:  payload.FawryRefNumber,
		Amount:      payload.PaymentAmount,
		Currency:    "EGP",
		Status:      mapStatus(payload.OrderStatus),
	}, nil
}

func (a *Adapter) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("fawry: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("fawry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("fawry: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("fawry: %s %s returned %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("fawry: decode response: %w", err)
		}
	}
	return nil
}
