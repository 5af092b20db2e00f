package httpx

// Request/response DTOs. Amounts cross the JSON boundary as float64 and are
// converted to decimals at the edge; any client-supplied total is ignored.

type CreateOrderRequest struct {
	Customer CustomerDTO    `json:"customer"`
	Items    []OrderItemDTO `json:"items"`
	Notes    string         `json:"notes,omitempty"`
}

type CustomerDTO struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type OrderItemDTO struct {
	ProductID string  `json:"product_id"`
	NameEN    string  `json:"name_en"`
	NameAR    string  `json:"name_ar,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type UpdateStatusRequest struct {
	Status     string `json:"status"`
	StatusType string `json:"status_type,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PayRequest struct {
	Method    string `json:"method"`
	ReturnURL string `json:"return_url,omitempty"`
}

type OrderResponse struct {
	ID            string         `json:"id"`
	Customer      CustomerDTO    `json:"customer"`
	Items         []OrderItemDTO `json:"items"`
	Total         float64        `json:"total"`
	Currency      string         `json:"currency"`
	OrderStatus   string         `json:"order_status"`
	PaymentStatus string         `json:"payment_status"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	GatewayRef    string         `json:"gateway_ref,omitempty"`
	RefundID      string         `json:"refund_id,omitempty"`
	CancelReason  string         `json:"cancel_reason,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

type PaymentResponse struct {
	Order       OrderResponse `json:"order"`
	ApprovalURL string        `json:"approval_url,omitempty"`
	ProviderRef string        `json:"provider_ref,omitempty"`
}

type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type RefundEligibilityResponse struct {
	Refundable bool `json:"refundable"`
}

// Envelope is the uniform success wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorEnvelope is the uniform failure wrapper.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
