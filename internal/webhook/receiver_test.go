package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/orders"
)

// stubGateway verifies against a fixed header value and parses a minimal
// JSON body.
type stubGateway struct {
	name string
}

func (s *stubGateway) Name() string { return s.name }

func (s *stubGateway) CreatePayment(context.Context, gateway.PaymentRequest) (*gateway.ChargeResult, error) {
	return nil, nil
}

func (s *stubGateway) CapturePayment(context.Context, string) (*gateway.ChargeResult, error) {
	return nil, nil
}

func (s *stubGateway) CheckStatus(context.Context, string) (*gateway.ChargeResult, error) {
	return nil, nil
}

func (s *stubGateway) Refund(context.Context, string, decimal.Decimal, string) (*gateway.RefundResult, error) {
	return nil, nil
}

func (s *stubGateway) VerifyWebhook(_ []byte, header http.Header) bool {
	return header.Get("X-Test-Signature") == "good"
}

func (s *stubGateway) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var p struct {
		EventID string `json:"event_id"`
		Ref     string `json:"ref"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &p); err != nil || p.EventID == "" {
		return nil, errInvalid
	}
	return &gateway.WebhookEvent{
		Provider:    s.name,
		EventID:     p.EventID,
		ProviderRef: p.Ref,
		Status:      gateway.Status(p.Status),
	}, nil
}

var errInvalid = &json.SyntaxError{}

// memLedger mirrors the SQLite ledger's insert-or-ignore semantics.
type memLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemLedger() *memLedger { return &memLedger{seen: make(map[string]bool)} }

func (l *memLedger) Record(_ context.Context, provider, eventID, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := provider + "/" + eventID
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

type recordingApplier struct {
	mu       sync.Mutex
	events   []*gateway.WebhookEvent
	err      error
	failures int // transient errors returned before applies succeed
}

func (a *recordingApplier) ApplyWebhook(_ context.Context, ev *gateway.WebhookEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return orders.InternalError("store unavailable", nil)
	}
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func newTestRouter(applier *recordingApplier) http.Handler {
	recv := NewReceiver(
		map[string]gateway.Gateway{"stub": &stubGateway{name: "stub"}},
		newMemLedger(),
		applier,
	)
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", recv.Handle)
	return r
}

func post(t *testing.T, h http.Handler, path, body, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if sig != "" {
		req.Header.Set("X-Test-Signature", sig)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleAppliesFreshEvent(t *testing.T) {
	applier := &recordingApplier{}
	h := newTestRouter(applier)

	w := post(t, h, "/webhooks/stub", `{"event_id":"e1","ref":"r1","status":"completed"}`, "good")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if applier.count() != 1 {
		t.Fatalf("applied %d events, want 1", applier.count())
	}
	if got := applier.events[0]; got.EventID != "e1" || got.ProviderRef != "r1" {
		t.Errorf("event = %+v", got)
	}
}

func TestHandleReplayAcknowledged(t *testing.T) {
	applier := &recordingApplier{}
	h := newTestRouter(applier)
	body := `{"event_id":"e1","ref":"r1","status":"completed"}`

	if w := post(t, h, "/webhooks/stub", body, "good"); w.Code != http.StatusOK {
		t.Fatalf("first delivery: %d", w.Code)
	}
	// The replay passes through the order service again, where an identical
	// status is a no-op, and is acknowledged so the provider stops sending.
	if w := post(t, h, "/webhooks/stub", body, "good"); w.Code != http.StatusOK {
		t.Fatalf("replay must be acknowledged with 200, got %d", w.Code)
	}
}

func TestHandleRedeliveryAfterTransientApplyFailure(t *testing.T) {
	applier := &recordingApplier{failures: 1}
	h := newTestRouter(applier)
	body := `{"event_id":"e1","ref":"r1","status":"completed"}`

	// The first delivery hits a transient store error. It must surface as a
	// 5xx with the event left out of the ledger, so the provider redelivers.
	if w := post(t, h, "/webhooks/stub", body, "good"); w.Code != http.StatusInternalServerError {
		t.Fatalf("failed delivery: status = %d, want 500", w.Code)
	}
	if applier.count() != 0 {
		t.Fatalf("applied %d events during the failure, want 0", applier.count())
	}

	// The redelivery carries the same event id and must actually apply.
	if w := post(t, h, "/webhooks/stub", body, "good"); w.Code != http.StatusOK {
		t.Fatalf("redelivery: status = %d, want 200", w.Code)
	}
	if applier.count() != 1 {
		t.Errorf("applied %d events after redelivery, want 1", applier.count())
	}
}

func TestHandleRejectsBadSignature(t *testing.T) {
	applier := &recordingApplier{}
	h := newTestRouter(applier)

	w := post(t, h, "/webhooks/stub", `{"event_id":"e1"}`, "forged")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if applier.count() != 0 {
		t.Error("rejected webhook must not reach the order service")
	}

	// The event id was never recorded, so a later legitimate delivery works.
	w = post(t, h, "/webhooks/stub", `{"event_id":"e1","ref":"r1","status":"completed"}`, "good")
	if w.Code != http.StatusOK || applier.count() != 1 {
		t.Errorf("legitimate retry: status=%d applied=%d", w.Code, applier.count())
	}
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	applier := &recordingApplier{}
	h := newTestRouter(applier)

	w := post(t, h, "/webhooks/stub", `{{{`, "good")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleUnknownProvider(t *testing.T) {
	h := newTestRouter(&recordingApplier{})

	w := post(t, h, "/webhooks/stripe", `{"event_id":"e1"}`, "good")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleUnknownOrder(t *testing.T) {
	applier := &recordingApplier{err: orders.NotFoundError("no such order")}
	h := newTestRouter(applier)

	w := post(t, h, "/webhooks/stub", `{"event_id":"e1","ref":"ghost","status":"completed"}`, "good")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleApplyFailure(t *testing.T) {
	applier := &recordingApplier{err: orders.InternalError("db down", nil)}
	h := newTestRouter(applier)

	w := post(t, h, "/webhooks/stub", `{"event_id":"e1","ref":"r1","status":"completed"}`, "good")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
