package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/services"
)

type stubOrderService struct {
	submitFunc func(context.Context, services.SubmitOrderCommand) (services.OrderConfirmation, error)
	getFunc    func(context.Context, string) (services.Order, error)
}

func (s *stubOrderService) Submit(ctx context.Context, cmd services.SubmitOrderCommand) (services.OrderConfirmation, error) {
	if s.submitFunc == nil {
		return services.OrderConfirmation{}, fmt.Errorf("unexpected Submit")
	}
	return s.submitFunc(ctx, cmd)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, fmt.Errorf("unexpected Get")
	}
	return s.getFunc(ctx, orderID)
}

var _ services.OrderService = (*stubOrderService)(nil)

func newOrdersRouter(h *OrderHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

const submitBody = `{
	"type": "death",
	"contact": {"name": "Pat Doyle", "email": "pat@example.com", "phone": "617-555-0101"},
	"shipping": {"name": "Pat Doyle", "addressLine1": "1 City Hall Sq", "city": "Boston", "state": "MA", "zip": "02201"},
	"billing": {"cardholderName": "Pat Doyle", "addressLine1": "1 City Hall Sq", "city": "Boston", "state": "MA", "zip": "02201"},
	"items": [{"certificateId": "cert-100", "quantity": 2}],
	"cardToken": "tok_visa",
	"idempotencyKey": "submit-1"
}`

func TestSubmitOrderSuccess(t *testing.T) {
	var gotCmd services.SubmitOrderCommand
	svc := &stubOrderService{
		submitFunc: func(_ context.Context, cmd services.SubmitOrderCommand) (services.OrderConfirmation, error) {
			gotCmd = cmd
			return services.OrderConfirmation{OrderID: "RG-DC202608-1234567", ContactEmail: "pat@example.com"}, nil
		},
	}

	router := newOrdersRouter(NewOrderHandlers(svc))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(submitBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Order struct {
			ID           string `json:"id"`
			ContactEmail string `json:"contactEmail"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "RG-DC202608-1234567" {
		t.Fatalf("unexpected order id %s", resp.Order.ID)
	}
	if resp.Order.ContactEmail != "pat@example.com" {
		t.Fatalf("unexpected contact email %s", resp.Order.ContactEmail)
	}

	if gotCmd.Type != "death" || gotCmd.CardToken != "tok_visa" || gotCmd.IdempotencyKey != "submit-1" {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
	if len(gotCmd.Items) != 1 || gotCmd.Items[0].CertificateID != "cert-100" || gotCmd.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", gotCmd.Items)
	}
}

func TestSubmitOrderIdempotencyKeyFromHeader(t *testing.T) {
	var gotKey string
	svc := &stubOrderService{
		submitFunc: func(_ context.Context, cmd services.SubmitOrderCommand) (services.OrderConfirmation, error) {
			gotKey = cmd.IdempotencyKey
			return services.OrderConfirmation{OrderID: "RG-DC202608-1234567"}, nil
		},
	}

	body := strings.Replace(submitBody, `"idempotencyKey": "submit-1"`, `"idempotencyKey": ""`, 1)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "header-key-9")
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotKey != "header-key-9" {
		t.Fatalf("expected header idempotency key, got %q", gotKey)
	}
}

func TestSubmitOrderValidationFailure(t *testing.T) {
	svc := &stubOrderService{
		submitFunc: func(context.Context, services.SubmitOrderCommand) (services.OrderConfirmation, error) {
			return services.OrderConfirmation{}, &services.ValidationError{Fields: domain.ValidationErrors{
				"contactEmail": {"Please enter a valid email address"},
			}}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(submitBody))
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp struct {
		Error struct {
			Cause  string              `json:"cause"`
			Fields map[string][]string `json:"fields"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error.Cause != "VALIDATION" {
		t.Fatalf("expected VALIDATION cause, got %s", resp.Error.Cause)
	}
	if len(resp.Error.Fields["contactEmail"]) != 1 {
		t.Fatalf("expected per-field messages, got %+v", resp.Error.Fields)
	}
}

func TestSubmitOrderCardDeclined(t *testing.T) {
	svc := &stubOrderService{
		submitFunc: func(context.Context, services.SubmitOrderCommand) (services.OrderConfirmation, error) {
			return services.OrderConfirmation{}, &services.DeclinedError{
				Code:    "card_declined",
				Message: "Your card was declined.",
				OrderID: "RG-DC202608-1234567",
			}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(submitBody))
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}

	var resp struct {
		Error struct {
			Message string `json:"message"`
			Cause   string `json:"cause"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error.Cause != "USER_PAYMENT" {
		t.Fatalf("expected USER_PAYMENT cause, got %s", resp.Error.Cause)
	}
	if resp.Error.Message != "Your card was declined." {
		t.Fatalf("expected processor message, got %q", resp.Error.Message)
	}
}

func TestSubmitOrderInfrastructureFailure(t *testing.T) {
	svc := &stubOrderService{
		submitFunc: func(context.Context, services.SubmitOrderCommand) (services.OrderConfirmation, error) {
			return services.OrderConfirmation{}, fmt.Errorf("wrapped: %w", services.ErrOrderChargeFailed)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(submitBody))
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	var resp struct {
		Error struct {
			Cause string `json:"cause"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error.Cause != "INTERNAL" {
		t.Fatalf("expected INTERNAL cause, got %s", resp.Error.Cause)
	}
}

func TestSubmitOrderMalformedJSON(t *testing.T) {
	svc := &stubOrderService{}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSubmitOrderRateLimited(t *testing.T) {
	svc := &stubOrderService{
		submitFunc: func(context.Context, services.SubmitOrderCommand) (services.OrderConfirmation, error) {
			return services.OrderConfirmation{OrderID: "RG-DC202608-1234567"}, nil
		},
	}

	limiter := newSimpleRateLimiter(1, time.Minute, nil)
	router := newOrdersRouter(NewOrderHandlers(svc, WithOrderRateLimiter(limiter)))

	first := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(submitBody))
	first.RemoteAddr = "203.0.113.9:4123"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first submission to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(submitBody))
	second.RemoteAddr = "203.0.113.9:4123"
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestGetOrderReturnsSummary(t *testing.T) {
	created := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		getFunc: func(_ context.Context, orderID string) (services.Order, error) {
			if orderID != "RG-DC202602-1234567" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return services.Order{
				ID:         "RG-DC202602-1234567",
				Type:       domain.OrderTypeDeath,
				Status:     domain.OrderStatusCaptured,
				Contact:    domain.ContactInfo{Email: "pat@example.com"},
				Subtotal:   14000,
				ServiceFee: 327,
				Total:      14327,
				CreatedAt:  created,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/RG-DC202602-1234567", nil)
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Total  int64  `json:"total"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "captured" || resp.Order.Total != 14327 {
		t.Fatalf("unexpected payload %+v", resp.Order)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFunc: func(context.Context, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/RG-DC209901-0000000", nil)
	rr := httptest.NewRecorder()
	newOrdersRouter(NewOrderHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
