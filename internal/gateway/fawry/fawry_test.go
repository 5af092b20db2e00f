package fawry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/gateway"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(Config{MerchantCode: "MC1", SecureKey: "sk", BaseURL: srv.URL}, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{MerchantCode: "MC1"}, time.Second); err == nil {
		t.Error("expected an error without a secure key")
	}
}

func TestStatusMapTotal(t *testing.T) {
	cases := map[string]gateway.Status{
		"NEW":       gateway.StatusPending,
		"UNPAID":    gateway.StatusPending,
		"PARTIAL":   gateway.StatusProcessing,
		"PAID":      gateway.StatusCompleted,
		"CANCELLED": gateway.StatusCancelled,
		"CANCELED":  gateway.StatusCancelled,
		"EXPIRED":   gateway.StatusFailed,
		"FAILED":    gateway.StatusFailed,
		"REFUNDED":  gateway.StatusRefunded,
		"WAT":       gateway.StatusPending,
		"":          gateway.StatusPending,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSignatureIsDeterministic(t *testing.T) {
	a, _ := New(Config{MerchantCode: "MC1", SecureKey: "sk"}, time.Second)

	h := sha256.Sum256([]byte("MC1" + "order-1" + "125.00" + "sk"))
	want := hex.EncodeToString(h[:])
	if got := a.signature("MC1", "order-1", "125.00"); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func TestCreatePaymentKeysOnMerchantRef(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		json.NewDecoder(r.Body).Decode(&in)
		if in["merchantRefNum"] != "order-1" {
			t.Errorf("merchantRefNum = %v", in["merchantRefNum"])
		}
		if in["signature"] == "" {
			t.Error("charge request is unsigned")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"referenceNumber": "9990001",
			"statusCode":      200,
		})
	}))

	res, err := a.CreatePayment(context.Background(), gateway.PaymentRequest{
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("125.00"),
		Currency: "EGP",
		Customer: gateway.CustomerInfo{Name: "Nour", Phone: "+2010"},
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.ProviderRef != "order-1" {
		t.Errorf("provider ref = %q, want the merchant reference", res.ProviderRef)
	}
	if res.CaptureRef != "9990001" {
		t.Errorf("capture ref = %q, want the fawry reference", res.CaptureRef)
	}
}

func TestCreatePaymentRejection(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"statusCode":        9946,
			"statusDescription": "invalid signature",
		})
	}))

	res, err := a.CreatePayment(context.Background(), gateway.PaymentRequest{
		OrderID: "order-1", Amount: decimal.RequireFromString("10"), Currency: "EGP",
	})
	if err != nil {
		t.Fatalf("rejection must be a structured result, got error %v", err)
	}
	if res.Success || res.ErrorCode != gateway.ErrCodeGateway {
		t.Errorf("result = %+v", res)
	}
}

func TestCheckStatus(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("merchantRefNumber"); got != "order-1" {
			t.Errorf("merchantRefNumber = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"orderStatus":    "PAID",
			"paymentAmount":  125.00,
			"fawryRefNumber": "9990001",
		})
	}))

	res, err := a.CheckStatus(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.Status != gateway.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
}

func TestCapturePaymentRetriesTransientFailure(t *testing.T) {
	var calls int
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"orderStatus":    "PAID",
			"fawryRefNumber": "9990001",
		})
	}))

	res, err := a.CapturePayment(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if !res.Success || res.Status != gateway.StatusCompleted {
		t.Fatalf("result = %+v", res)
	}
	if calls != 2 {
		t.Errorf("status endpoint hit %d times, want 2 (one failure, one retry)", calls)
	}
}

func webhookSig(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	a, _ := New(Config{MerchantCode: "MC1", SecureKey: "sk"}, time.Second)
	body := []byte(`{"requestId":"r1"}`)

	h := http.Header{}
	h.Set("X-Fawry-Signature", webhookSig("sk", body))
	if !a.VerifyWebhook(body, h) {
		t.Error("valid signature should verify")
	}

	h.Set("X-Fawry-Signature", webhookSig("other", body))
	if a.VerifyWebhook(body, h) {
		t.Error("wrong key should fail")
	}

	if a.VerifyWebhook(body, http.Header{}) {
		t.Error("missing header should fail")
	}
}

func TestParseWebhook(t *testing.T) {
	a, _ := New(Config{MerchantCode: "MC1", SecureKey: "sk"}, time.Second)

	ev, err := a.ParseWebhook([]byte(`{
		"requestId": "req-1",
		"fawryRefNumber": "9990001",
		"merchantRefNumber": "order-1",
		"orderStatus": "PAID",
		"paymentAmount": 125.00
	}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.EventID != "req-1" || ev.ProviderRef != "order-1" || ev.CaptureRef != "9990001" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Status != gateway.StatusCompleted {
		t.Errorf("status = %s, want completed", ev.Status)
	}

	if _, err := a.ParseWebhook([]byte(`{"orderStatus":"PAID"}`)); err == nil {
		t.Error("expected an error without a requestId")
	}
}
