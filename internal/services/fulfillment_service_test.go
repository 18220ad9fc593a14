package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/payments"
	"github.com/registry-certs/api/internal/repositories"
)

type stubAuditRepository struct {
	appendFunc func(context.Context, domain.FulfillmentAuditEntry) (domain.FulfillmentAuditEntry, error)
	listFunc   func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.FulfillmentAuditEntry], error)
}

func (s *stubAuditRepository) Append(ctx context.Context, entry domain.FulfillmentAuditEntry) (domain.FulfillmentAuditEntry, error) {
	if s.appendFunc == nil {
		return entry, nil
	}
	return s.appendFunc(ctx, entry)
}

func (s *stubAuditRepository) ListByOrder(ctx context.Context, orderKey string, pager domain.Pagination) (domain.CursorPage[domain.FulfillmentAuditEntry], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.FulfillmentAuditEntry]{}, errors.New("unexpected ListByOrder")
	}
	return s.listFunc(ctx, orderKey, pager)
}

var _ repositories.FulfillmentAuditRepository = (*stubAuditRepository)(nil)

type stubObjectDeleter struct {
	deleteFunc func(context.Context, string, string) error
}

func (s *stubObjectDeleter) DeleteObject(ctx context.Context, bucket, object string) error {
	if s.deleteFunc == nil {
		return errors.New("unexpected DeleteObject")
	}
	return s.deleteFunc(ctx, bucket, object)
}

func authorizedOrder() domain.Order {
	return domain.Order{
		Key:           "ord_B",
		ID:            "RG-BC202602-7654321",
		Type:          domain.OrderTypeBirth,
		Status:        domain.OrderStatusAuthorized,
		Total:         1456,
		TransactionID: "ch_auth",
	}
}

func newTestFulfillmentService(t *testing.T, deps FulfillmentServiceDeps) FulfillmentService {
	t.Helper()
	service, err := NewFulfillmentService(deps)
	if err != nil {
		t.Fatalf("new fulfillment service: %v", err)
	}
	return service
}

func TestCaptureChargeSuccess(t *testing.T) {
	ctx := context.Background()

	order := authorizedOrder()
	var capturedStatus domain.OrderStatus
	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(_ context.Context, transactionID string) (domain.Order, error) {
			if transactionID != "ch_auth" {
				t.Fatalf("unexpected transaction id %s", transactionID)
			}
			return order, nil
		},
		updateStatusFunc: func(_ context.Context, key string, status domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			capturedStatus = status
			if update.CapturedAmount == nil || *update.CapturedAmount != 1456 {
				t.Fatalf("expected captured amount recorded, got %+v", update)
			}
			updated := order
			updated.Status = status
			return updated, nil
		},
	}
	gateway := &stubGateway{
		captureChargeFunc: func(_ context.Context, chargeID string) (payments.Charge, error) {
			return payments.Charge{ID: chargeID, Amount: 1456, Captured: true}, nil
		},
	}
	var audited []domain.FulfillmentAuditEntry
	audit := &stubAuditRepository{
		appendFunc: func(_ context.Context, entry domain.FulfillmentAuditEntry) (domain.FulfillmentAuditEntry, error) {
			audited = append(audited, entry)
			return entry, nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: gateway, Audit: audit})

	result, err := service.CaptureCharge(ctx, FulfillmentCommand{TransactionID: "ch_auth", Operator: "registry-ops"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !result.Success() || result.OrderID != order.ID {
		t.Fatalf("unexpected result %+v", result)
	}
	if capturedStatus != domain.OrderStatusCaptured {
		t.Fatalf("expected captured status, got %s", capturedStatus)
	}
	if len(audited) != 1 || audited[0].Action != domain.FulfillmentActionCapture || audited[0].Operator != "registry-ops" {
		t.Fatalf("unexpected audit trail %+v", audited)
	}
}

func TestCaptureChargeExpired(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return authorizedOrder(), nil
		},
	}
	gateway := &stubGateway{
		captureChargeFunc: func(context.Context, string) (payments.Charge, error) {
			return payments.Charge{}, fmt.Errorf("%w: window elapsed", payments.ErrChargeExpired)
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: gateway, Audit: &stubAuditRepository{}})

	result, err := service.CaptureCharge(ctx, FulfillmentCommand{TransactionID: "ch_auth"})
	if err != nil {
		t.Fatalf("expected structured result, got error %v", err)
	}
	if result.Status != FulfillmentChargeExpired {
		t.Fatalf("expected CHARGE_EXPIRED, got %s", result.Status)
	}
}

func TestCaptureChargeAlreadyCapturedConverges(t *testing.T) {
	ctx := context.Background()

	order := authorizedOrder()
	var converged bool
	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		updateStatusFunc: func(_ context.Context, key string, status domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			if status == domain.OrderStatusCaptured {
				converged = true
			}
			updated := order
			updated.Status = status
			return updated, nil
		},
	}
	gateway := &stubGateway{
		captureChargeFunc: func(context.Context, string) (payments.Charge, error) {
			return payments.Charge{}, fmt.Errorf("%w: already captured", payments.ErrChargeAlreadyCaptured)
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: gateway, Audit: &stubAuditRepository{}})

	result, err := service.CaptureCharge(ctx, FulfillmentCommand{TransactionID: "ch_auth"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !result.Success() {
		t.Fatalf("double capture should report success, got %+v", result)
	}
	if !converged {
		t.Fatalf("expected local status to converge to captured")
	}
}

func TestCaptureChargeNotFound(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &notFoundError{msg: "orders.find: not found"}
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: &stubGateway{}, Audit: &stubAuditRepository{}})

	result, err := service.CaptureCharge(ctx, FulfillmentCommand{TransactionID: "ch_ghost"})
	if err != nil {
		t.Fatalf("expected structured result, got error %v", err)
	}
	if result.Status != FulfillmentChargeNotFound {
		t.Fatalf("expected CHARGE_NOT_FOUND, got %s", result.Status)
	}
}

func TestCancelChargeRefusesCaptured(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return authorizedOrder(), nil
		},
	}
	gateway := &stubGateway{
		retrieveChargeFunc: func(context.Context, string) (payments.Charge, error) {
			return payments.Charge{ID: "ch_auth", Captured: true}, nil
		},
		refundChargeFunc: func(context.Context, string) error {
			t.Fatalf("captured charges must not be refunded")
			return nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: gateway, Audit: &stubAuditRepository{}})

	result, err := service.CancelCharge(ctx, FulfillmentCommand{TransactionID: "ch_auth"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Status != FulfillmentChargeCaptured {
		t.Fatalf("expected CHARGE_CAPTURED, got %s", result.Status)
	}
}

func TestCancelChargeAlreadyRefundedIsIdempotent(t *testing.T) {
	ctx := context.Background()

	order := authorizedOrder()
	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		updateStatusFunc: func(_ context.Context, key string, status domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			updated := order
			updated.Status = status
			return updated, nil
		},
	}
	gateway := &stubGateway{
		retrieveChargeFunc: func(context.Context, string) (payments.Charge, error) {
			return payments.Charge{ID: "ch_auth", Refunded: true}, nil
		},
		refundChargeFunc: func(context.Context, string) error {
			t.Fatalf("no second refund may be issued")
			return nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: gateway, Audit: &stubAuditRepository{}})

	result, err := service.CancelCharge(ctx, FulfillmentCommand{TransactionID: "ch_auth"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected idempotent success, got %+v", result)
	}
}

func TestCancelChargeRefundsAndCancels(t *testing.T) {
	ctx := context.Background()

	order := authorizedOrder()
	var refunded bool
	var cancelReason string
	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		updateStatusFunc: func(_ context.Context, key string, status domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			if status != domain.OrderStatusCanceled {
				t.Fatalf("expected cancel transition, got %s", status)
			}
			if update.CancelReason != nil {
				cancelReason = *update.CancelReason
			}
			updated := order
			updated.Status = status
			return updated, nil
		},
	}
	gateway := &stubGateway{
		retrieveChargeFunc: func(context.Context, string) (payments.Charge, error) {
			return payments.Charge{ID: "ch_auth"}, nil
		},
		refundChargeFunc: func(context.Context, string) error {
			refunded = true
			return nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: gateway, Audit: &stubAuditRepository{}})

	result, err := service.CancelCharge(ctx, FulfillmentCommand{
		TransactionID: "ch_auth",
		Reason:        "identity documents rejected",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !result.Success() {
		t.Fatalf("unexpected result %+v", result)
	}
	if !refunded {
		t.Fatalf("expected refund issued")
	}
	if cancelReason != "identity documents rejected" {
		t.Fatalf("unexpected cancel reason %q", cancelReason)
	}
}

func TestDeleteUploadRemovesObjectAndReference(t *testing.T) {
	ctx := context.Background()

	session := domain.UploadSession{
		ID:       "sess-1",
		OrderKey: "ord_B",
		Attachments: []domain.UploadAttachment{
			{ID: "att-1", Filename: "license.png", ObjectPath: "uploads/sessions/sess-1/license.png"},
		},
	}

	var deletedObject string
	var removedAttachment string
	sessions := &stubSessionRepository{
		findByIDFunc: func(context.Context, string) (domain.UploadSession, error) {
			return session, nil
		},
		removeAttachmentFunc: func(_ context.Context, sessionID, attachmentID string) (domain.UploadSession, error) {
			removedAttachment = attachmentID
			return domain.UploadSession{ID: sessionID}, nil
		},
	}
	objects := &stubObjectDeleter{
		deleteFunc: func(_ context.Context, bucket, object string) error {
			if bucket != "registry-uploads" {
				t.Fatalf("unexpected bucket %s", bucket)
			}
			deletedObject = object
			return nil
		},
	}
	var audited []domain.FulfillmentAuditEntry
	audit := &stubAuditRepository{
		appendFunc: func(_ context.Context, entry domain.FulfillmentAuditEntry) (domain.FulfillmentAuditEntry, error) {
			audited = append(audited, entry)
			return entry, nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{
		Orders:       &stubOrderRepository{},
		Sessions:     sessions,
		Gateway:      &stubGateway{},
		Objects:      objects,
		Audit:        audit,
		UploadBucket: "registry-uploads",
	})

	result, err := service.DeleteUpload(ctx, DeleteUploadCommand{
		SessionID:    "sess-1",
		AttachmentID: "att-1",
		Operator:     "registry-ops",
	})
	if err != nil {
		t.Fatalf("delete upload: %v", err)
	}
	if !result.Success() {
		t.Fatalf("unexpected result %+v", result)
	}
	if deletedObject != "uploads/sessions/sess-1/license.png" {
		t.Fatalf("unexpected deleted object %s", deletedObject)
	}
	if removedAttachment != "att-1" {
		t.Fatalf("expected attachment reference removed, got %q", removedAttachment)
	}
	if len(audited) != 1 || audited[0].Action != domain.FulfillmentActionDeleteUpload {
		t.Fatalf("unexpected audit trail %+v", audited)
	}
}

func TestDeleteUploadUnknownAttachment(t *testing.T) {
	ctx := context.Background()

	sessions := &stubSessionRepository{
		findByIDFunc: func(context.Context, string) (domain.UploadSession, error) {
			return domain.UploadSession{ID: "sess-1"}, nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{
		Orders:   &stubOrderRepository{},
		Sessions: sessions,
		Gateway:  &stubGateway{},
		Objects:  &stubObjectDeleter{},
		Audit:    &stubAuditRepository{},
	})

	_, err := service.DeleteUpload(ctx, DeleteUploadCommand{SessionID: "sess-1", AttachmentID: "att-missing"})
	if !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("expected upload not found, got %v", err)
	}
}

func TestDeleteUploadRefusesForeignObjectPath(t *testing.T) {
	ctx := context.Background()

	sessions := &stubSessionRepository{
		findByIDFunc: func(context.Context, string) (domain.UploadSession, error) {
			return domain.UploadSession{
				ID: "sess-1",
				Attachments: []domain.UploadAttachment{
					{ID: "att-1", Filename: "license.png", ObjectPath: "uploads/sessions/sess-9/license.png"},
				},
			}, nil
		},
	}
	objects := &stubObjectDeleter{
		deleteFunc: func(_ context.Context, bucket, object string) error {
			t.Fatalf("unexpected delete of %s/%s", bucket, object)
			return nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{
		Orders:       &stubOrderRepository{},
		Sessions:     sessions,
		Gateway:      &stubGateway{},
		Objects:      objects,
		Audit:        &stubAuditRepository{},
		UploadBucket: "registry-uploads",
	})

	_, err := service.DeleteUpload(ctx, DeleteUploadCommand{SessionID: "sess-1", AttachmentID: "att-1"})
	if !errors.Is(err, ErrFulfillmentInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListReviewQueueFiltersAndPages(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		listFunc: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if filter.Status != domain.OrderStatusAuthorized {
				t.Fatalf("unexpected status filter %s", filter.Status)
			}
			if filter.Type != domain.OrderTypeBirth {
				t.Fatalf("unexpected type filter %s", filter.Type)
			}
			if filter.Pager.PageSize != 25 {
				t.Fatalf("unexpected page size %d", filter.Pager.PageSize)
			}
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{authorizedOrder()},
				NextPageToken: "next",
			}, nil
		},
	}

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: orders, Gateway: &stubGateway{}})

	page, err := service.ListReviewQueue(ctx, ReviewQueueFilter{
		Status: "authorized",
		Type:   "birth",
		Pager:  Pagination{PageSize: 25},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestListReviewQueueRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()

	service := newTestFulfillmentService(t, FulfillmentServiceDeps{Orders: &stubOrderRepository{}, Gateway: &stubGateway{}})

	_, err := service.ListReviewQueue(ctx, ReviewQueueFilter{Status: "shipped"})
	if !errors.Is(err, ErrFulfillmentInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
