package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/gateway/rates"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value.(string)
	return nil
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) GenerateKey(operation, key string) string {
	return "test:" + operation + ":" + key
}

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(Config{ClientID: "cid", Secret: "sec", BaseURL: srv.URL}, newMemCache(), rates.NewStatic(), 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, srv
}

func tokenResponse(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{}, newMemCache(), rates.NewStatic(), time.Second); err == nil {
		t.Error("expected an error without credentials")
	}
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	var tokenCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cid" || pass != "sec" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		tokenResponse(w)
	})
	mux.HandleFunc("/v2/checkout/orders/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "ord-1", "status": "CREATED"})
	})
	a, _ := newTestAdapter(t, mux)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := a.CheckStatus(ctx, "ord-1"); err != nil {
			t.Fatalf("CheckStatus: %v", err)
		}
	}
	if tokenCalls != 1 {
		t.Errorf("token endpoint hit %d times, want 1", tokenCalls)
	}
}

func TestCreatePaymentConvertsCurrency(t *testing.T) {
	var gotValue, gotCurrency string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, _ *http.Request) { tokenResponse(w) })
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			PurchaseUnits []struct {
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"purchase_units"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		gotValue = payload.PurchaseUnits[0].Amount.Value
		gotCurrency = payload.PurchaseUnits[0].Amount.CurrencyCode
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ord-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"rel": "self", "href": "https://example.com/self"},
				{"rel": "approve", "href": "https://example.com/approve"},
			},
		})
	})
	a, _ := newTestAdapter(t, mux)

	res, err := a.CreatePayment(context.Background(), gateway.PaymentRequest{
		OrderID:  "o-1",
		Amount:   decimal.RequireFromString("1000.00"),
		Currency: "EGP",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if gotCurrency != "USD" || gotValue != "20.50" {
		t.Errorf("sent %s %s, want USD 20.50", gotCurrency, gotValue)
	}
	if res.ApprovalURL != "https://example.com/approve" {
		t.Errorf("approval url = %q", res.ApprovalURL)
	}
	if res.ProviderRef != "ord-1" || res.Status != gateway.StatusPending {
		t.Errorf("ref=%q status=%q", res.ProviderRef, res.Status)
	}
}

func TestCreatePaymentProviderDown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, _ *http.Request) { tokenResponse(w) })
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"name":"INTERNAL_SERVER_ERROR"}`, http.StatusInternalServerError)
	})
	a, _ := newTestAdapter(t, mux)

	res, err := a.CreatePayment(context.Background(), gateway.PaymentRequest{
		OrderID: "o-1", Amount: decimal.RequireFromString("10"), Currency: "EGP",
	})
	if err != nil {
		t.Fatalf("provider failure must be a structured result, got error %v", err)
	}
	if res.Success || res.ErrorCode != gateway.ErrCodeGateway {
		t.Errorf("result = %+v", res)
	}
}

func TestCreatePaymentAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})
	a, _ := newTestAdapter(t, mux)

	res, err := a.CreatePayment(context.Background(), gateway.PaymentRequest{
		OrderID: "o-1", Amount: decimal.RequireFromString("10"), Currency: "EGP",
	})
	if err != nil {
		t.Fatalf("auth failure must be a structured result, got error %v", err)
	}
	if res.Success || res.ErrorCode != gateway.ErrCodeAuth {
		t.Errorf("result = %+v", res)
	}
}

func TestCapturePaymentExtractsCaptureRef(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, _ *http.Request) { tokenResponse(w) })
	mux.HandleFunc("/v2/checkout/orders/ord-1/capture", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ord-1",
			"status": "COMPLETED",
			"purchase_units": []map[string]any{{
				"payments": map[string]any{
					"captures": []map[string]any{{
						"id":     "cap-9",
						"status": "COMPLETED",
						"amount": map[string]string{"currency_code": "USD", "value": "20.50"},
					}},
				},
			}},
		})
	})
	a, _ := newTestAdapter(t, mux)

	res, err := a.CapturePayment(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if res.CaptureRef != "cap-9" || res.Status != gateway.StatusCompleted {
		t.Errorf("capture=%q status=%q", res.CaptureRef, res.Status)
	}
	if !res.Amount.Equal(decimal.RequireFromString("20.50")) || res.Currency != "USD" {
		t.Errorf("amount = %s %s", res.Amount, res.Currency)
	}
}

func TestStatusMapDefaultsToPending(t *testing.T) {
	if got := mapStatus("SOMETHING_NEW"); got != gateway.StatusPending {
		t.Errorf("unknown status mapped to %s, want pending", got)
	}
	if got := mapStatus("COMPLETED"); got != gateway.StatusCompleted {
		t.Errorf("COMPLETED mapped to %s", got)
	}
	if got := mapStatus("VOIDED"); got != gateway.StatusCancelled {
		t.Errorf("VOIDED mapped to %s", got)
	}
}

func TestVerifyWebhookRequiresTransmissionHeaders(t *testing.T) {
	a, err := New(Config{ClientID: "cid", Secret: "sec"}, newMemCache(), rates.NewStatic(), time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := http.Header{}
	h.Set("Paypal-Transmission-Id", "t1")
	h.Set("Paypal-Transmission-Sig", "sig")
	h.Set("Paypal-Transmission-Time", "now")
	h.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	if !a.VerifyWebhook(nil, h) {
		t.Error("complete headers should verify")
	}

	h.Del("Paypal-Transmission-Sig")
	if a.VerifyWebhook(nil, h) {
		t.Error("missing signature header should fail verification")
	}
}

func TestParseWebhookCaptureCompleted(t *testing.T) {
	a, _ := New(Config{ClientID: "cid", Secret: "sec"}, newMemCache(), rates.NewStatic(), time.Second)

	body := []byte(`{
		"id": "WH-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "cap-9",
			"supplementary_data": {"related_ids": {"order_id": "ord-1"}},
			"amount": {"currency_code": "USD", "value": "20.50"}
		}
	}`)
	ev, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.EventID != "WH-1" || ev.Status != gateway.StatusCompleted {
		t.Errorf("event = %+v", ev)
	}
	if ev.ProviderRef != "ord-1" {
		t.Errorf("provider ref = %q, want the checkout order id", ev.ProviderRef)
	}
	if ev.CaptureRef != "cap-9" {
		t.Errorf("capture ref = %q", ev.CaptureRef)
	}
}

func TestParseWebhookUnknownEventIsPending(t *testing.T) {
	a, _ := New(Config{ClientID: "cid", Secret: "sec"}, newMemCache(), rates.NewStatic(), time.Second)

	ev, err := a.ParseWebhook([]byte(`{"id":"WH-2","event_type":"BILLING.PLAN.CREATED","resource":{"id":"x"}}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Status != gateway.StatusPending {
		t.Errorf("unknown event mapped to %s, want pending", ev.Status)
	}
}

func TestParseWebhookRejectsMissingEventID(t *testing.T) {
	a, _ := New(Config{ClientID: "cid", Secret: "sec"}, newMemCache(), rates.NewStatic(), time.Second)
	if _, err := a.ParseWebhook([]byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`)); err == nil {
		t.Error("expected an error for a payload without an event id")
	}
	if _, err := a.ParseWebhook([]byte(`not json`)); err == nil {
		t.Error("expected an error for malformed json")
	}
}
