package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maisonarome/orders-service/internal/webhook"
)

func NewRouter(handler *Handler, webhooks *webhook.Receiver) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/stats", handler.Stats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetOrder)
			r.Patch("/status", handler.UpdateStatus)
			r.Post("/confirm", handler.Confirm)
			r.Post("/cancel", handler.Cancel)
			r.Post("/pay", handler.Pay)
			r.Post("/capture", handler.Capture)
			r.Post("/refund", handler.Refund)
			r.Get("/refund-eligibility", handler.RefundEligibility)
		})
	})

	r.Post("/webhooks/{provider}", webhooks.Handle)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
