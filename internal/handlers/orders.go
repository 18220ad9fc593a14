package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/platform/httpx"
	"github.com/registry-certs/api/internal/services"
)

const maxOrderRequestBody = 64 * 1024

// Causes surfaced to the purchaser. USER_PAYMENT means the card was declined
// and the purchaser can correct it; INTERNAL means retrying later is the only
// option.
const (
	orderCauseUserPayment = "USER_PAYMENT"
	orderCauseInternal    = "INTERNAL"
	orderCauseValidation  = "VALIDATION"
)

// OrderHandlers exposes the public order submission and lookup endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	limiter rateLimiter
}

// OrderHandlersOption customises the handlers.
type OrderHandlersOption func(*OrderHandlers)

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithOrderRateLimiter applies a per-client submission rate limit.
func WithOrderRateLimiter(limiter rateLimiter) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = limiter
	}
}

// WithOrderSubmitLimit caps submissions per client address to limit within window.
func WithOrderSubmitLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, time.Now)
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.submitOrder)
	r.Get("/{orderID}", h.getOrder)
}

type submitOrderItemRequest struct {
	CertificateID string `json:"certificateId"`
	Quantity      int    `json:"quantity"`
	FullName1     string `json:"fullName1"`
	FullName2     string `json:"fullName2"`
	DateOfEvent   string `json:"dateOfEvent"`
	Details       string `json:"details"`
}

type submitOrderRequest struct {
	Type string `json:"type"`

	Contact struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"contact"`

	Shipping struct {
		Name         string `json:"name"`
		CompanyName  string `json:"companyName"`
		AddressLine1 string `json:"addressLine1"`
		AddressLine2 string `json:"addressLine2"`
		City         string `json:"city"`
		State        string `json:"state"`
		Zip          string `json:"zip"`
	} `json:"shipping"`

	Billing struct {
		CardholderName string `json:"cardholderName"`
		AddressLine1   string `json:"addressLine1"`
		AddressLine2   string `json:"addressLine2"`
		City           string `json:"city"`
		State          string `json:"state"`
		Zip            string `json:"zip"`
	} `json:"billing"`

	Items           []submitOrderItemRequest `json:"items"`
	CardToken       string                   `json:"cardToken"`
	UploadSessionID string                   `json:"uploadSessionId"`
	IdempotencyKey  string                   `json:"idempotencyKey"`
}

type orderPayload struct {
	ID           string `json:"id"`
	ContactEmail string `json:"contactEmail"`
}

type submitOrderResponse struct {
	Order orderPayload `json:"order"`
}

type orderErrorPayload struct {
	Message string              `json:"message"`
	Cause   string              `json:"cause"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

type orderErrorResponse struct {
	Error orderErrorPayload `json:"error"`
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many submissions; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req submitOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd, fieldErrs := buildSubmitCommand(r, req)
	if len(fieldErrs) > 0 {
		writeJSONResponse(w, http.StatusBadRequest, orderErrorResponse{Error: orderErrorPayload{
			Message: "order validation failed",
			Cause:   orderCauseValidation,
			Fields:  fieldErrs,
		}})
		return
	}

	confirmation, err := h.orders.Submit(ctx, cmd)
	if err != nil {
		h.writeSubmitError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, submitOrderResponse{Order: orderPayload{
		ID:           confirmation.OrderID,
		ContactEmail: confirmation.ContactEmail,
	}})
}

func buildSubmitCommand(r *http.Request, req submitOrderRequest) (services.SubmitOrderCommand, map[string][]string) {
	fieldErrs := map[string][]string{}

	items := make([]services.SubmitOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		parsed := services.SubmitOrderItem{
			CertificateID: strings.TrimSpace(item.CertificateID),
			Quantity:      item.Quantity,
			FullName1:     strings.TrimSpace(item.FullName1),
			FullName2:     strings.TrimSpace(item.FullName2),
			Details:       strings.TrimSpace(item.Details),
		}
		if raw := strings.TrimSpace(item.DateOfEvent); raw != "" {
			date, err := time.Parse("2006-01-02", raw)
			if err != nil {
				fieldErrs["items"] = append(fieldErrs["items"], "dateOfEvent must use YYYY-MM-DD format")
				continue
			}
			parsed.DateOfEvent = &date
		}
		items = append(items, parsed)
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	cmd := services.SubmitOrderCommand{
		Type: strings.TrimSpace(req.Type),
		Contact: domain.ContactInfo{
			Name:  req.Contact.Name,
			Email: req.Contact.Email,
			Phone: req.Contact.Phone,
		},
		Shipping: domain.ShippingInfo{
			Name:         req.Shipping.Name,
			CompanyName:  req.Shipping.CompanyName,
			AddressLine1: req.Shipping.AddressLine1,
			AddressLine2: req.Shipping.AddressLine2,
			City:         req.Shipping.City,
			State:        req.Shipping.State,
			Zip:          req.Shipping.Zip,
		},
		Billing: domain.BillingInfo{
			CardholderName: req.Billing.CardholderName,
			AddressLine1:   req.Billing.AddressLine1,
			AddressLine2:   req.Billing.AddressLine2,
			City:           req.Billing.City,
			State:          req.Billing.State,
			Zip:            req.Billing.Zip,
		},
		Items:           items,
		CardToken:       strings.TrimSpace(req.CardToken),
		UploadSessionID: strings.TrimSpace(req.UploadSessionID),
		IdempotencyKey:  idempotencyKey,
	}

	return cmd, fieldErrs
}

func (h *OrderHandlers) writeSubmitError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		writeJSONResponse(w, http.StatusBadRequest, orderErrorResponse{Error: orderErrorPayload{
			Message: "order validation failed",
			Cause:   orderCauseValidation,
			Fields:  validationErr.Fields,
		}})
		return
	}

	var declinedErr *services.DeclinedError
	if errors.As(err, &declinedErr) {
		message := declinedErr.Message
		if message == "" {
			message = "your card was declined"
		}
		writeJSONResponse(w, http.StatusPaymentRequired, orderErrorResponse{Error: orderErrorPayload{
			Message: message,
			Cause:   orderCauseUserPayment,
		}})
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		writeJSONResponse(w, http.StatusBadRequest, orderErrorResponse{Error: orderErrorPayload{
			Message: err.Error(),
			Cause:   orderCauseValidation,
		}})
	default:
		writeJSONResponse(w, http.StatusInternalServerError, orderErrorResponse{Error: orderErrorPayload{
			Message: "we could not process your order; you have not been charged, please try again",
			Cause:   orderCauseInternal,
		}})
	}
}

type orderStatusResponse struct {
	Order orderStatusPayload `json:"order"`
}

type orderStatusPayload struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	ContactEmail string `json:"contactEmail"`
	Subtotal     int64  `json:"subtotal"`
	ServiceFee   int64  `json:"serviceFee"`
	Total        int64  `json:"total"`
	CreatedAt    string `json:"createdAt"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_lookup_failed", "failed to load order", http.StatusInternalServerError))
		return
	}

	payload := orderStatusPayload{
		ID:           order.ID,
		Type:         string(order.Type),
		Status:       string(order.Status),
		ContactEmail: order.Contact.Email,
		Subtotal:     order.Subtotal,
		ServiceFee:   order.ServiceFee,
		Total:        order.Total,
	}
	if !order.CreatedAt.IsZero() {
		payload.CreatedAt = order.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	writeJSONResponse(w, http.StatusOK, orderStatusResponse{Order: payload})
}
