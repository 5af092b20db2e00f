// Package paypal wraps the PayPal Orders v2 REST API.
//
// PayPal settles in USD, so amounts arrive in the store currency and are
// converted through the rates provider before the charge request is built.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/gateway/rates"
	"github.com/maisonarome/orders-service/internal/pkg/cache"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"

	settleCurrency = "USD"
	storeCurrency  = "EGP"

	// Tokens are refreshed this long before PayPal says they expire, so an
	// in-flight request never races token expiry.
	tokenSafetyBuffer = 60 * time.Second
)

// statusMap translates PayPal order/capture statuses into the internal
// vocabulary. Unknown values fall through to pending.
var statusMap = map[string]gateway.Status{
	"CREATED":               gateway.StatusPending,
	"SAVED":                 gateway.StatusPending,
	"PAYER_ACTION_REQUIRED": gateway.StatusPending,
	"APPROVED":              gateway.StatusProcessing,
	"COMPLETED":             gateway.StatusCompleted,
	"DECLINED":              gateway.StatusFailed,
	"FAILED":                gateway.StatusFailed,
	"VOIDED":                gateway.StatusCancelled,
	"REFUNDED":              gateway.StatusRefunded,
	"PARTIALLY_REFUNDED":    gateway.StatusRefunded,
}

func mapStatus(s string) gateway.Status {
	if st, ok := statusMap[s]; ok {
		return st
	}
	return gateway.StatusPending
}

// Config carries the REST application credentials.
type Config struct {
	ClientID string
	Secret   string
	BaseURL  string
}

// Adapter implements gateway.Gateway for PayPal.
type Adapter struct {
	cfg    Config
	http   *http.Client
	tokens cache.Cache
	rates  rates.Provider
}

var _ gateway.Gateway = (*Adapter)(nil)

// New validates the configuration and returns the adapter. Missing
// credentials are a configuration fault, reported as an error.
func New(cfg Config, tokens cache.Cache, rp rates.Provider, timeout time.Duration) (*Adapter, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("paypal: client id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	return &Adapter{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		rates:  rp,
	}, nil
}

func (a *Adapter) Name() string { return "paypal" }

// token returns a cached bearer token or fetches a fresh one via the
// client-credentials grant. Auth failures are not retried here.
func (a *Adapter) token(ctx context.Context) (string, error) {
	key := a.tokens.GenerateKey("token", "paypal")
	if tok, err := a.tokens.Get(ctx, key); err == nil && tok != "" {
		return tok, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token request returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("paypal: decode token response: %w", err)
	}

	ttl := time.Duration(body.ExpiresIn)*time.Second - tokenSafetyBuffer
	if ttl > 0 {
		_ = a.tokens.Set(ctx, key, body.AccessToken, ttl)
	}
	return body.AccessToken, nil
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreatePayment creates a CAPTURE-intent order and returns the approval URL
// the shopper is redirected to.
func (a *Adapter) CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.ChargeResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return gateway.AuthFailure(err), nil
	}

	usd, err := rates.Convert(a.rates, req.Amount, req.Currency, settleCurrency)
	if err != nil {
		return gateway.GatewayUnavailable(err), nil
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": settleCurrency,
				"value":         usd.StringFixed(2),
			},
		}},
	}
	if req.ReturnURL != "" {
		payload["application_context"] = map[string]string{"return_url": req.ReturnURL}
	}

	var out orderResponse
	if err := a.call(ctx, tok, http.MethodPost, "/v2/checkout/orders", payload, &out); err != nil {
		return gateway.GatewayUnavailable(err), nil
	}

	res := &gateway.ChargeResult{
		Success:     true,
		ProviderRef: out.ID,
		Status:      mapStatus(out.Status),
		Amount:      usd,
		Currency:    settleCurrency,
	}
	for _, l := range out.Links {
		if l.Rel == "approve" {
			res.ApprovalURL = l.Href
		}
	}
	return res, nil
}

// CapturePayment finalises an approved order and records the capture id,
// which later refunds are issued against.
func (a *Adapter) CapturePayment(ctx context.Context, providerRef string) (*gateway.ChargeResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return gateway.AuthFailure(err), nil
	}

	var out orderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", providerRef)
	if err := a.call(ctx, tok, http.MethodPost, path, map[string]any{}, &out); err != nil {
		return gateway.GatewayUnavailable(err), nil
	}

	res := &gateway.ChargeResult{
		Success:     true,
		ProviderRef: out.ID,
		Status:      mapStatus(out.Status),
	}
	for _, pu := range out.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			res.CaptureRef = c.ID
			if v, err := decimal.NewFromString(c.Amount.Value); err == nil {
				res.Amount = v
				res.Currency = c.Amount.CurrencyCode
			}
		}
	}
	return res, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, providerRef string) (*gateway.ChargeResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return gateway.AuthFailure(err), nil
	}

	var out orderResponse
	if err := a.call(ctx, tok, http.MethodGet, "/v2/checkout/orders/"+providerRef, nil, &out); err != nil {
		return gateway.GatewayUnavailable(err), nil
	}
	return &gateway.ChargeResult{
		Success:     true,
		ProviderRef: out.ID,
		Status:      mapStatus(out.Status),
	}, nil
}

// Refund refunds a captured payment. providerRef here is the capture id
// recorded by CapturePayment, not the checkout order id.
func (a *Adapter) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, reason string) (*gateway.RefundResult, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeAuth, ErrorMessage: err.Error()}, nil
	}

	usd, err := rates.Convert(a.rates, amount, storeCurrency, settleCurrency)
	if err != nil {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeGateway, ErrorMessage: err.Error()}, nil
	}

	payload := map[string]any{
		"amount": map[string]string{
			"currency_code": settleCurrency,
			"value":         usd.StringFixed(2),
		},
		"note_to_payer": reason,
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", providerRef)
	if err := a.call(ctx, tok, http.MethodPost, path, payload, &out); err != nil {
		return &gateway.RefundResult{ErrorCode: gateway.ErrCodeGateway, ErrorMessage: err.Error()}, nil
	}
	return &gateway.RefundResult{Success: true, RefundID: out.ID}, nil
}

// VerifyWebhook checks that the signed transmission headers PayPal attaches
// to every notification are present. This is a stand-in for the full
// certificate-chain verification the provider SDK performs; production
// deployments must verify the signature cryptographically.
func (a *Adapter) VerifyWebhook(body []byte, header http.Header) bool {
	for _, h := range []string{
		"Paypal-Transmission-Id",
		"Paypal-Transmission-Sig",
		"Paypal-Transmission-Time",
		"Paypal-Cert-Url",
	} {
		if header.Get(h) == "" {
			return false
		}
	}
	return true
}

// eventStatusMap translates webhook event types. Unknown events map to
// pending so a new provider event can never flip an order to completed.
var eventStatusMap = map[string]gateway.Status{
	"CHECKOUT.ORDER.APPROVED":   gateway.StatusProcessing,
	"PAYMENT.CAPTURE.PENDING":   gateway.StatusProcessing,
	"PAYMENT.CAPTURE.COMPLETED": gateway.StatusCompleted,
	"PAYMENT.CAPTURE.DENIED":    gateway.StatusFailed,
	"PAYMENT.CAPTURE.REVERSED":  gateway.StatusRefunded,
	"PAYMENT.CAPTURE.REFUNDED":  gateway.StatusRefunded,
}

func (a *Adapter) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var payload struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID                string `json:"id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("paypal: parse webhook: %w", err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("paypal: webhook missing event id")
	}

	status, ok := eventStatusMap[payload.EventType]
	if !ok {
		status = gateway.StatusPending
	}

	// Capture events reference the checkout order through supplementary
	// data; order-level events carry it directly.
	ref := payload.Resource.SupplementaryData.RelatedIDs.OrderID
	if ref == "" {
		ref = payload.Resource.ID
	}

	ev := &gateway.WebhookEvent{
		Provider:    a.Name(),
		EventID:     payload.ID,
		EventType:   payload.EventType,
		ProviderRef: ref,
		Currency:    payload.Resource.Amount.CurrencyCode,
		Status:      status,
	}
	if ref != payload.Resource.ID {
		ev.CaptureRef = payload.Resource.ID
	}
	if v, err := decimal.NewFromString(payload.Resource.Amount.Value); err == nil {
		ev.Amount = v
	}
	return ev, nil
}

// call sends one authenticated JSON request and decodes the response.
func (a *Adapter) call(ctx context.Context, token, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("paypal: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("paypal: %s %s returned %s: %s", method, path, strconv.Itoa(resp.StatusCode), raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("paypal: decode response: %w", err)
		}
	}
	return nil
}
