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

type stubFulfillmentService struct {
	captureFunc      func(context.Context, services.FulfillmentCommand) (services.FulfillmentResult, error)
	cancelFunc       func(context.Context, services.FulfillmentCommand) (services.FulfillmentResult, error)
	deleteUploadFunc func(context.Context, services.DeleteUploadCommand) (services.FulfillmentResult, error)
	listQueueFunc    func(context.Context, services.ReviewQueueFilter) (domain.CursorPage[services.Order], error)
	listAuditFunc    func(context.Context, string, services.Pagination) (domain.CursorPage[services.FulfillmentAuditEntry], error)
}

func (s *stubFulfillmentService) CaptureCharge(ctx context.Context, cmd services.FulfillmentCommand) (services.FulfillmentResult, error) {
	if s.captureFunc == nil {
		return services.FulfillmentResult{}, fmt.Errorf("unexpected CaptureCharge")
	}
	return s.captureFunc(ctx, cmd)
}

func (s *stubFulfillmentService) CancelCharge(ctx context.Context, cmd services.FulfillmentCommand) (services.FulfillmentResult, error) {
	if s.cancelFunc == nil {
		return services.FulfillmentResult{}, fmt.Errorf("unexpected CancelCharge")
	}
	return s.cancelFunc(ctx, cmd)
}

func (s *stubFulfillmentService) DeleteUpload(ctx context.Context, cmd services.DeleteUploadCommand) (services.FulfillmentResult, error) {
	if s.deleteUploadFunc == nil {
		return services.FulfillmentResult{}, fmt.Errorf("unexpected DeleteUpload")
	}
	return s.deleteUploadFunc(ctx, cmd)
}

func (s *stubFulfillmentService) ListReviewQueue(ctx context.Context, filter services.ReviewQueueFilter) (domain.CursorPage[services.Order], error) {
	if s.listQueueFunc == nil {
		return domain.CursorPage[services.Order]{}, fmt.Errorf("unexpected ListReviewQueue")
	}
	return s.listQueueFunc(ctx, filter)
}

func (s *stubFulfillmentService) ListAuditTrail(ctx context.Context, orderKey string, pager services.Pagination) (domain.CursorPage[services.FulfillmentAuditEntry], error) {
	if s.listAuditFunc == nil {
		return domain.CursorPage[services.FulfillmentAuditEntry]{}, fmt.Errorf("unexpected ListAuditTrail")
	}
	return s.listAuditFunc(ctx, orderKey, pager)
}

var _ services.FulfillmentService = (*stubFulfillmentService)(nil)

func newFulfillmentRouter(h *FulfillmentHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestCaptureChargeRoute(t *testing.T) {
	var gotCmd services.FulfillmentCommand
	svc := &stubFulfillmentService{
		captureFunc: func(_ context.Context, cmd services.FulfillmentCommand) (services.FulfillmentResult, error) {
			gotCmd = cmd
			return services.FulfillmentResult{Status: services.FulfillmentSuccess, OrderID: "RG-BC202602-7654321"}, nil
		},
	}

	body := `{"operator": "registry-ops"}`
	req := httptest.NewRequest(http.MethodPost, "/fulfillment/charges/ch_auth:capture", strings.NewReader(body))
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.TransactionID != "ch_auth" || gotCmd.Operator != "registry-ops" {
		t.Fatalf("unexpected command %+v", gotCmd)
	}

	var resp struct {
		Status  string `json:"status"`
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "SUCCESS" || resp.OrderID != "RG-BC202602-7654321" {
		t.Fatalf("unexpected payload %+v", resp)
	}
}

func TestCancelChargeRouteStructuredOutcome(t *testing.T) {
	svc := &stubFulfillmentService{
		cancelFunc: func(_ context.Context, cmd services.FulfillmentCommand) (services.FulfillmentResult, error) {
			if cmd.Reason != "identity documents rejected" {
				t.Fatalf("unexpected reason %q", cmd.Reason)
			}
			return services.FulfillmentResult{
				Status: services.FulfillmentChargeCaptured,
				Detail: "charge already captured; reversal requires the dispute process",
			}, nil
		},
	}

	body := `{"operator": "registry-ops", "reason": "identity documents rejected"}`
	req := httptest.NewRequest(http.MethodPost, "/fulfillment/charges/ch_auth:cancel", strings.NewReader(body))
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for operational outcome, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "CHARGE_CAPTURED") {
		t.Fatalf("expected CHARGE_CAPTURED outcome, got %s", rr.Body.String())
	}
}

func TestCaptureChargeRouteWithoutBody(t *testing.T) {
	svc := &stubFulfillmentService{
		captureFunc: func(_ context.Context, cmd services.FulfillmentCommand) (services.FulfillmentResult, error) {
			if cmd.Operator != "" {
				t.Fatalf("expected empty operator, got %q", cmd.Operator)
			}
			return services.FulfillmentResult{Status: services.FulfillmentSuccess}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/fulfillment/charges/ch_auth:capture", nil)
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestDeleteUploadRoute(t *testing.T) {
	var gotCmd services.DeleteUploadCommand
	svc := &stubFulfillmentService{
		deleteUploadFunc: func(_ context.Context, cmd services.DeleteUploadCommand) (services.FulfillmentResult, error) {
			gotCmd = cmd
			return services.FulfillmentResult{Status: services.FulfillmentSuccess}, nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/fulfillment/uploads/sess-1/att-1", nil)
	req.Header.Set("X-Operator", "registry-ops")
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotCmd.SessionID != "sess-1" || gotCmd.AttachmentID != "att-1" || gotCmd.Operator != "registry-ops" {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
}

func TestDeleteUploadRouteNotFound(t *testing.T) {
	svc := &stubFulfillmentService{
		deleteUploadFunc: func(context.Context, services.DeleteUploadCommand) (services.FulfillmentResult, error) {
			return services.FulfillmentResult{}, fmt.Errorf("%w: attachment att-9", services.ErrUploadNotFound)
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/fulfillment/uploads/sess-1/att-9", nil)
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListReviewQueueRoute(t *testing.T) {
	created := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	svc := &stubFulfillmentService{
		listQueueFunc: func(_ context.Context, filter services.ReviewQueueFilter) (domain.CursorPage[services.Order], error) {
			if filter.Status != "authorized" || filter.Type != "birth" {
				t.Fatalf("unexpected filter %+v", filter)
			}
			if filter.Pager.PageSize != 25 {
				t.Fatalf("unexpected page size %d", filter.Pager.PageSize)
			}
			return domain.CursorPage[services.Order]{
				Items: []services.Order{{
					ID:            "RG-BC202602-7654321",
					Type:          domain.OrderTypeBirth,
					Status:        domain.OrderStatusAuthorized,
					Contact:       domain.ContactInfo{Name: "Pat Doyle", Email: "pat@example.com"},
					Total:         1456,
					TransactionID: "ch_auth",
					CreatedAt:     created,
				}},
				NextPageToken: "next-token",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/fulfillment/orders?status=authorized&type=birth&pageSize=25", nil)
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Orders []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"orders"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].Status != "authorized" {
		t.Fatalf("unexpected payload %+v", resp)
	}
	if resp.NextPageToken != "next-token" {
		t.Fatalf("expected continuation token, got %q", resp.NextPageToken)
	}
}

func TestListReviewQueueRouteRejectsBadStatus(t *testing.T) {
	svc := &stubFulfillmentService{
		listQueueFunc: func(context.Context, services.ReviewQueueFilter) (domain.CursorPage[services.Order], error) {
			return domain.CursorPage[services.Order]{}, fmt.Errorf("%w: unknown status", services.ErrFulfillmentInvalidInput)
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/fulfillment/orders?status=shipped", nil)
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListAuditTrailRoute(t *testing.T) {
	svc := &stubFulfillmentService{
		listAuditFunc: func(_ context.Context, orderKey string, _ services.Pagination) (domain.CursorPage[services.FulfillmentAuditEntry], error) {
			if orderKey != "ord_B" {
				t.Fatalf("unexpected order key %s", orderKey)
			}
			return domain.CursorPage[services.FulfillmentAuditEntry]{
				Items: []services.FulfillmentAuditEntry{{
					ID:       "01J0001",
					OrderID:  "RG-BC202602-7654321",
					Action:   domain.FulfillmentActionCapture,
					Operator: "registry-ops",
					Outcome:  "SUCCESS",
				}},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/fulfillment/orders/ord_B/audit", nil)
	rr := httptest.NewRecorder()
	newFulfillmentRouter(NewFulfillmentHandlers(svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Entries []struct {
			Action  string `json:"action"`
			Outcome string `json:"outcome"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Action != "capture" {
		t.Fatalf("unexpected payload %+v", resp)
	}
}
