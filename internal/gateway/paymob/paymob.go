// Package paymob wraps Paymob's Accept API: auth token, order registration,
// payment key, iframe redirect, and HMAC-verified transaction webhooks.
package paymob

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
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/pkg/cache"
)

const (
	DefaultBaseURL = "https://accept.paymob.com"

	// Paymob auth tokens live for one hour; refresh well before that.
	tokenTTL = 50 * time.Minute

	// Bound on transaction-inquiry attempts per capture poll.
	statusRetryAttempts = 3
)

// Config carries the Accept portal credentials.
type Config struct {
	APIKey        string
	IntegrationID string
	IframeID      string
	HMACSecret    string
	BaseURL       string
}

// Adapter implements gateway.Gateway for Paymob.
type Adapter struct {
	cfg    Config
	http   *http.Client
	tokens cache.Cache
}

var _ gateway.Gateway = (*Adapter)(nil)

func New(cfg Config, tokens cache.Cache, timeout time.Duration) (*Adapter, error) {
	if cfg.APIKey == "" || cfg.IntegrationID == "" || cfg.HMACSecret == "" {
		return nil, fmt.Errorf("paymob: api key, integration id and hmac secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}, nil
}

func (a *Adapter) Name() string { return "paymob" }

func (a *Adapter) token(ctx context.Context) (string, error) {
	key := a.tokens.GenerateKey("token", "paymob")
	if tok, err := a.tokens.Get(ctx, key); err == nil && tok != "" {
		return tok, nil
	}

	var out struct {
		Token string `json:"token"`
	}
	err := a.call(ctx, "", http.MethodPost, "/api/auth/tokens",
		map[string]string{"api_key": a.cfg.APIKey}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("paymob: auth response carried no token")
	}
	_ = a.tokens.Set(ctx, key, out.Token, tokenTTL)
	return out.Token, nil
}

// CreatePayment registers the order with Paymob, requests a payment key, and
// returns the hosted iframe URL the shopper completes the card entry in.
// The Paymob order id is the provider reference webhooks are matched by.
func (a *Adapter) CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.ChargeResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return gateway.AuthFailure(err), nil
	}

	cents := gateway.MinorUnits(req.Amount)

	var reg struct {
		ID int64 `json:"id"`
	}
	err = a.call(ctx, "", http.MethodPost, "/api/ecommerce/orders", map[string]any{
		"auth_token":        tok,
		"amount_cents":      strconv.FormatInt(cents, 10),
		"currency":          req.Currency,
		"merchant_order_id": req.OrderID,
		"delivery_needed":   false,
	}, &reg)
	if err != nil {
		return gateway.GatewayUnavailable(err), nil
	}

	var keyResp struct {
		Token string `json:"token"`
	}
	err = a.call(ctx, "", http.MethodPost, "/api/acceptance/payment_keys", map[string]any{
		"auth_token":     tok,
		"amount_cents":   strconv.FormatInt(cents, 10),
		"currency":       req.Currency,
		"order_id":       reg.ID,
		"integration_id": a.cfg.IntegrationID,
		"expiration":     3600,
		"billing_data":   billingData(req.Customer),
	}, &keyResp)
	if err != nil {
		return gateway.GatewayUnavailable(err), nil
	}

	res := &gateway.ChargeResult{
		Success:     true,
		ProviderRef: strconv.FormatInt(reg.ID, 10),
		Status:      gateway.StatusPending,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}
	if a.cfg.IframeID != "" {
		res.ApprovalURL = fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s",
			a.cfg.BaseURL, a.cfg.IframeID, keyResp.Token)
	}
	return res, nil
}

// billingData fills Paymob's mandatory billing fields, substituting the
// provider's documented "NA" placeholder for anything the checkout form
// didn't collect.
func billingData(c gateway.CustomerInfo) map[string]string {
	na := func(s string) string {
		if s == "" {
			return "NA"
		}
		return s
	}
	return map[string]string{
		"first_name":   na(c.Name),
		"last_name":    "NA",
		"email":        na(c.Email),
		"phone_number": na(c.Phone),
		"street":       "NA",
		"building":     "NA",
		"floor":        "NA",
		"apartment":    "NA",
		"city":         "NA",
		"country":      "EG",
	}
}

// CapturePayment is a status read for Paymob: the hosted iframe flow captures
// funds at card entry, there is no separate capture call. Being a pure read
// it is retried on transient provider errors.
func (a *Adapter) CapturePayment(ctx context.Context, providerRef string) (*gateway.ChargeResult, error) {
	return gateway.RetryStatus(ctx, statusRetryAttempts, func() (*gateway.ChargeResult, error) {
		return a.CheckStatus(ctx, providerRef)
	})
}

func (a *Adapter) CheckStatus(ctx context.Context, providerRef string) (*gateway.ChargeResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return gateway.AuthFailure(err), nil
	}

	var out struct {
		ID            int64  `json:"id"`
		PaymentStatus string `json:"payment_status"`
	}
	err = a.call(ctx, "", http.MethodPost, "/api/ecommerce/orders/transaction_inquiry",
		map[string]any{"auth_token": tok, "order_id": providerRef}, &out)
	if err != nil {
		return gateway.GatewayUnavailable(err), nil
	}
	return &gateway.ChargeResult{
		Success:     true,
		ProviderRef: providerRef,
		Status:      mapPaymentStatus(out.PaymentStatus),
	}, nil
}

// mapPaymentStatus translates the inquiry endpoint's status strings.
var inquiryStatusMap = map[string]gateway.Status{
	"PAID":     gateway.StatusCompleted,
	"UNPAID":   gateway.StatusPending,
	"PENDING":  gateway.StatusProcessing,
	"DECLINED": gateway.StatusFailed,
	"VOIDED":   gateway.StatusCancelled,
	"REFUNDED": gateway.StatusRefunded,
}

func mapPaymentStatus(s string) gateway.Status {
	if st, ok := inquiryStatusMap[s]; ok {
		return st
	}
	return gateway.StatusPending
}

// Refund voids or refunds a transaction. providerRef is the Paymob
// transaction id delivered by the success webhook.
func (a *Adapter) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*gateway.RefundResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeAuth, ErrorMessage: err.Error()}, nil
	}

	var out struct {
		ID      int64 `json:"id"`
		Success bool  `json:"success"`
	}
	err = a.call(ctx, "", http.MethodPost, "/api/acceptance/void_refund/refund", map[string]any{
		"auth_token":     tok,
		"transaction_id": providerRef,
		"amount_cents":   strconv.FormatInt(gateway.MinorUnits(amount), 10),
	}, &out)
	if err != nil {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeGateway, ErrorMessage: err.Error()}, nil
	}
	if !out.Success {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeGateway, ErrorMessage: "paymob refused the refund"}, nil
	}
	return &gateway.RefundResult{Success: true, RefundID: strconv.FormatInt(out.ID, 10)}, nil
}

// VerifyWebhook recomputes HMAC-SHA256 over the raw body with the portal's
// HMAC secret and compares it to the hex signature Paymob sends.
func (a *Adapter) VerifyWebhook(body []byte, header http.Header) bool {
	sig := header.Get("X-Paymob-Signature")
	if sig == "" {
		sig = header.Get("Hmac")
	}
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.HMACSecret))
	mac.Write(body)
	expect := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expect), []byte(sig))
}

// ParseWebhook maps a TRANSACTION callback. The boolean flags are checked in
// refund → void → success → pending order so a refunded transaction is not
// misread as merely successful.
func (a *Adapter) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var payload struct {
		Type string `json:"type"`
		Obj  struct {
			ID          int64  `json:"id"`
			Success     bool   `json:"success"`
			Pending     bool   `json:"pending"`
			IsRefunded  bool   `json:"is_refunded"`
			IsVoided    bool   `json:"is_voided"`
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
			Order       struct {
				ID int64 `json:"id"`
			} `json:"order"`
		} `json:"obj"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("paymob: parse webhook: %w", err)
	}
	if payload.Type != "TRANSACTION" {
		return nil, fmt.Errorf("paymob: unsupported webhook type %q", payload.Type)
	}
	if payload.Obj.ID == 0 {
		return nil, fmt.Errorf("paymob: webhook missing transaction id")
	}

	var status gateway.Status
	switch {
	case payload.Obj.IsRefunded:
		status = gateway.StatusRefunded
	case payload.Obj.IsVoided:
		status = gateway.StatusCancelled
	case payload.Obj.Success:
		status = gateway.StatusCompleted
	case payload.Obj.Pending:
		status = gateway.StatusProcessing
	default:
		status = gateway.StatusFailed
	}

	return &gateway.WebhookEvent{
		Provider:    a.Name(),
		EventID:     strconv.FormatInt(payload.Obj.ID, 10),
		EventType:   payload.Type,
		ProviderRef: strconv.FormatInt(payload.Obj.Order.ID, 10),
		CaptureRef:  strconv.FormatInt(payload.Obj.ID, 10),
		Amount:      gateway.FromMinorUnits(payload.Obj.AmountCents),
		Currency:    payload.Obj.Currency,
		Status:      status,
	}, nil
}

// call sends one JSON request. Paymob authenticates via in-body tokens, so
// the bearer argument stays empty for every current endpoint.
func (a *Adapter) call(ctx context.Context, bearer, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("paymob: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("paymob: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("paymob: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("paymob: %s %s returned %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("paymob: decode response: %w", err)
		}
	}
	return nil
}
