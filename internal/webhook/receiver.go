// Package webhook receives provider notifications, authenticates them,
// deduplicates replays through a persisted event ledger, and hands the
// normalised event to the order service.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/orders"
)

// maxBodySize bounds webhook payloads; provider notifications are small.
const maxBodySize = 1 << 20

// Ledger is the port for the processed-event record. Record returns false
// when the (provider, event id) pair was already seen, which is how replays
// are detected without re-running any business logic.
type Ledger interface {
	Record(ctx context.Context, provider, eventID, eventType string) (fresh bool, err error)
}

// OrderApplier is the slice of the order service the receiver needs.
type OrderApplier interface {
	ApplyWebhook(ctx context.Context, ev *gateway.WebhookEvent) error
}

// Receiver is the stateless per-provider webhook entry point.
type Receiver struct {
	gateways map[string]gateway.Gateway
	ledger   Ledger
	orders   OrderApplier
	log      *slog.Logger
}

func NewReceiver(gateways map[string]gateway.Gateway, ledger Ledger, applier OrderApplier) *Receiver {
	return &Receiver{
		gateways: gateways,
		ledger:   ledger,
		orders:   applier,
		log:      slog.Default(),
	}
}

// Handle is the chi handler for POST /webhooks/{provider}.
//
// Pipeline: verify signature → reject with no state change if invalid →
// normalise → apply → ledger. The event id is recorded only after a
// successful apply: a transient apply failure returns 5xx with the id
// unledgered, so the provider's redelivery is processed instead of being
// swallowed as a replay. Re-applying is safe because the order service
// treats an identical status as a no-op and drops illegal transitions.
// Replays and stale transitions are acknowledged with 200 so the provider
// stops redelivering.
func (r *Receiver) Handle(w http.ResponseWriter, req *http.Request) {
	provider := chi.URLParam(req, "provider")
	gw, ok := r.gateways[provider]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !gw.VerifyWebhook(body, req.Header) {
		r.log.WarnContext(req.Context(), "webhook signature rejected", "provider", provider)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	ev, err := gw.ParseWebhook(body)
	if err != nil {
		r.log.WarnContext(req.Context(), "webhook payload rejected", "provider", provider, "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := r.orders.ApplyWebhook(req.Context(), ev); err != nil {
		var de *orders.Error
		if errors.As(err, &de) && de.Code == orders.CodeNotFound {
			// The order may belong to another environment (sandbox vs
			// production webhooks share endpoints at some providers).
			r.log.WarnContext(req.Context(), "webhook for unknown order",
				"provider", provider, "provider_ref", ev.ProviderRef)
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		r.log.ErrorContext(req.Context(), "webhook apply failed",
			"provider", provider, "event_id", ev.EventID, "error", err)
		http.Error(w, "apply failed", http.StatusInternalServerError)
		return
	}

	fresh, err := r.ledger.Record(req.Context(), ev.Provider, ev.EventID, ev.EventType)
	if err != nil {
		// The order is already updated. Failing here makes the provider
		// redeliver, which re-applies as a no-op and retries the write.
		r.log.ErrorContext(req.Context(), "webhook ledger write failed", "provider", provider, "error", err)
		http.Error(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}
	if !fresh {
		r.log.InfoContext(req.Context(), "webhook replay ignored",
			"provider", provider, "event_id", ev.EventID)
	}

	w.WriteHeader(http.StatusOK)
}
