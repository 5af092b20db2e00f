package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/maisonarome/orders-service/internal/orders"
)

// Handler exposes the order service over REST.
type Handler struct {
	orders *orders.Service
}

func NewHandler(svc *orders.Service) *Handler {
	return &Handler{orders: svc}
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(orders.CodeValidation), "invalid JSON: "+err.Error())
		return
	}

	items := make([]orders.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.OrderItem{
			ProductID: it.ProductID,
			NameEN:    it.NameEN,
			NameAR:    it.NameAR,
			UnitPrice: decimal.NewFromFloat(it.Price),
			Quantity:  it.Quantity,
		})
	}

	slog.InfoContext(r.Context(), "creating order",
		"request_id", middleware.GetReqID(r.Context()), "items", len(items))

	o, err := h.orders.CreateOrder(r.Context(), orders.CreateOrderInput{
		Customer: orders.Customer{
			Name:    req.Customer.Name,
			Email:   req.Customer.Email,
			Phone:   req.Customer.Phone,
			Address: req.Customer.Address,
			City:    req.Customer.City,
			Country: req.Customer.Country,
		},
		Items: items,
		Notes: req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: toOrderResponse(o), Message: "order created"})
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toOrderResponse(o)})
}

// ListOrders handles GET /orders?limit=&offset=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, offset = orders.NormalizeListPage(limit, offset)

	list, total, err := h.orders.ListOrders(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := ListOrdersResponse{Orders: make([]OrderResponse, 0, len(list)), Total: total, Limit: limit, Offset: offset}
	for _, o := range list {
		out.Orders = append(out.Orders, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: out})
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(orders.CodeValidation), "invalid JSON: "+err.Error())
		return
	}
	o, err := h.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.StatusType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toOrderResponse(o), Message: "status updated"})
}

// Confirm handles POST /orders/{id}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ConfirmOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toOrderResponse(o), Message: "order confirmed"})
}

// Cancel handles POST /orders/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(orders.CodeValidation), "invalid JSON: "+err.Error())
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toOrderResponse(o), Message: "order cancelled"})
}

// Pay handles POST /orders/{id}/pay.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(orders.CodeValidation), "invalid JSON: "+err.Error())
		return
	}

	o, res, err := h.orders.StartPayment(r.Context(), chi.URLParam(r, "id"), req.Method, req.ReturnURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !res.Success {
		writeError(w, http.StatusBadGateway, res.ErrorCode, res.ErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Data: PaymentResponse{
			Order:       toOrderResponse(o),
			ApprovalURL: res.ApprovalURL,
			ProviderRef: res.ProviderRef,
		},
		Message: "payment started",
	})
}

// Capture handles POST /orders/{id}/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	o, res, err := h.orders.CapturePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !res.Success {
		writeError(w, http.StatusBadGateway, res.ErrorCode, res.ErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Data: PaymentResponse{
			Order:       toOrderResponse(o),
			ProviderRef: res.ProviderRef,
		},
		Message: "payment captured",
	})
}

// Refund handles POST /orders/{id}/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(orders.CodeValidation), "invalid JSON: "+err.Error())
		return
	}
	o, err := h.orders.RefundOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: toOrderResponse(o), Message: "order refunded"})
}

// RefundEligibility handles GET /orders/{id}/refund-eligibility.
func (h *Handler) RefundEligibility(w http.ResponseWriter, r *http.Request) {
	ok, err := h.orders.CanOrderBeRefunded(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: RefundEligibilityResponse{Refundable: ok}})
}

// Stats handles GET /orders/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: st})
}

func toOrderResponse(o *orders.Order) OrderResponse {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID: it.ProductID,
			NameEN:    it.NameEN,
			NameAR:    it.NameAR,
			Price:     it.UnitPrice.InexactFloat64(),
			Quantity:  it.Quantity,
		})
	}
	return OrderResponse{
		ID: o.ID,
		Customer: CustomerDTO{
			Name:    o.Customer.Name,
			Email:   o.Customer.Email,
			Phone:   o.Customer.Phone,
			Address: o.Customer.Address,
			City:    o.Customer.City,
			Country: o.Customer.Country,
		},
		Items:         items,
		Total:         o.Total.InexactFloat64(),
		Currency:      o.Currency,
		OrderStatus:   string(o.OrderStatus),
		PaymentStatus: string(o.PaymentStatus),
		PaymentMethod: o.PaymentMethod,
		GatewayRef:    o.GatewayRef,
		RefundID:      o.RefundID,
		CancelReason:  o.CancelReason,
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// statusFor maps domain error codes onto HTTP statuses.
func statusFor(code orders.Code) int {
	switch code {
	case orders.CodeValidation:
		return http.StatusBadRequest
	case orders.CodeNotFound:
		return http.StatusNotFound
	case orders.CodeStateConflict:
		return http.StatusConflict
	case orders.CodeGateway, orders.CodeAuth:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := orders.CodeOf(err)
	msg := err.Error()
	var de *orders.Error
	if errors.As(err, &de) {
		msg = de.Message
	}
	writeError(w, statusFor(code), string(code), msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorEnvelope{
		Success: false,
		Error:   ErrorBody{Code: code, Message: msg},
	})
}
