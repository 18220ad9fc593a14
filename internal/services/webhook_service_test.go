package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/repositories"
)

type stubReceiptPublisher struct {
	publishFunc func(context.Context, ReceiptJobMessage) (string, error)
}

func (s *stubReceiptPublisher) PublishReceiptJob(ctx context.Context, msg ReceiptJobMessage) (string, error) {
	if s.publishFunc == nil {
		return "", errors.New("unexpected PublishReceiptJob")
	}
	return s.publishFunc(ctx, msg)
}

func settledOrder() domain.Order {
	return domain.Order{
		Key:        "ord_A",
		ID:         "RG-DC202602-1234567",
		Type:       domain.OrderTypeDeath,
		Status:     domain.OrderStatusPending,
		Subtotal:   14000,
		ServiceFee: 327,
		Total:      14327,
		Contact:    domain.ContactInfo{Email: "pat@example.com"},
		Shipping: domain.ShippingInfo{
			Name:         "Pat Doyle",
			AddressLine1: "1 City Hall Sq",
			City:         "Boston",
			State:        "MA",
			Zip:          "02201",
		},
		Items: []domain.OrderItem{
			{CertificateID: "cert-100", Quantity: 10, UnitPrice: 1400, FullName1: "James Doyle"},
		},
	}
}

func TestReconcileChargeRecordsAndDispatchesOnce(t *testing.T) {
	ctx := context.Background()
	occurredAt := time.Date(2026, 2, 3, 12, 5, 0, 0, time.UTC)

	order := settledOrder()
	var recordedPayment repositories.PaymentRecord
	orders := &stubOrderRepository{
		findByKeyFunc: func(_ context.Context, key string) (domain.Order, error) {
			if key != "ord_A" {
				t.Fatalf("unexpected key %s", key)
			}
			return order, nil
		},
		recordPaymentFunc: func(_ context.Context, key string, payment repositories.PaymentRecord) (domain.Order, bool, error) {
			recordedPayment = payment
			updated := order
			updated.Status = domain.OrderStatusCaptured
			updated.TransactionID = payment.TransactionID
			return updated, true, nil
		},
	}

	var published []ReceiptJobMessage
	receipts := &stubReceiptPublisher{
		publishFunc: func(_ context.Context, msg ReceiptJobMessage) (string, error) {
			published = append(published, msg)
			return "m1", nil
		},
	}

	service, err := NewWebhookService(WebhookServiceDeps{Orders: orders, Receipts: receipts})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	event := ChargeEvent{
		TransactionID: "ch_1",
		OrderKey:      "ord_A",
		Amount:        14327,
		Captured:      true,
		OccurredAt:    occurredAt,
	}
	if err := service.ReconcileCharge(ctx, event); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if recordedPayment.TransactionID != "ch_1" || recordedPayment.Amount != 14327 || !recordedPayment.Captured {
		t.Fatalf("unexpected payment record %+v", recordedPayment)
	}
	if len(published) != 1 {
		t.Fatalf("expected exactly one receipt job, got %d", len(published))
	}
	msg := published[0]
	if msg.OrderID != order.ID || msg.Email != "pat@example.com" || msg.TotalCents != 14327 {
		t.Fatalf("unexpected receipt message %+v", msg)
	}
	if msg.SubtotalCents != 14000 || msg.ServiceFeeCents != 327 {
		t.Fatalf("expected cost breakdown on receipt, got %+v", msg)
	}
	if msg.Shipping.Name != "Pat Doyle" || msg.Shipping.AddressLine1 != "1 City Hall Sq" || msg.Shipping.Zip != "02201" {
		t.Fatalf("expected shipping destination on receipt, got %+v", msg.Shipping)
	}
	if len(msg.Items) != 1 {
		t.Fatalf("expected one receipt line, got %+v", msg.Items)
	}
	line := msg.Items[0]
	if line.Description != "James Doyle" || line.Quantity != 10 || line.UnitPriceCents != 1400 || line.LineTotalCents != 14000 {
		t.Fatalf("unexpected receipt line %+v", line)
	}
	if !msg.CapturedAt.Equal(occurredAt) {
		t.Fatalf("expected capture time from event, got %v", msg.CapturedAt)
	}
}

func TestReconcileChargeRejectsUncapturedEvent(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		recordPaymentFunc: func(context.Context, string, repositories.PaymentRecord) (domain.Order, bool, error) {
			t.Fatalf("uncaptured event must not record a settlement")
			return domain.Order{}, false, nil
		},
	}
	receipts := &stubReceiptPublisher{
		publishFunc: func(context.Context, ReceiptJobMessage) (string, error) {
			t.Fatalf("uncaptured event must not dispatch a receipt")
			return "", nil
		},
	}

	service, err := NewWebhookService(WebhookServiceDeps{Orders: orders, Receipts: receipts})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	event := ChargeEvent{
		TransactionID: "ch_1",
		OrderKey:      "ord_A",
		Amount:        14327,
		Captured:      false,
	}
	if err := service.ReconcileCharge(ctx, event); !errors.Is(err, ErrWebhookInvalidEvent) {
		t.Fatalf("expected invalid event error, got %v", err)
	}
}

func TestReconcileChargeReplayIsNoOp(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByKeyFunc: func(context.Context, string) (domain.Order, error) {
			return settledOrder(), nil
		},
		recordPaymentFunc: func(context.Context, string, repositories.PaymentRecord) (domain.Order, bool, error) {
			return settledOrder(), false, nil
		},
	}
	receipts := &stubReceiptPublisher{
		publishFunc: func(context.Context, ReceiptJobMessage) (string, error) {
			t.Fatalf("replayed webhook must not dispatch a second receipt")
			return "", nil
		},
	}

	service, err := NewWebhookService(WebhookServiceDeps{Orders: orders, Receipts: receipts})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	if err := service.ReconcileCharge(ctx, ChargeEvent{TransactionID: "ch_1", OrderKey: "ord_A", Captured: true}); err != nil {
		t.Fatalf("reconcile replay: %v", err)
	}
}

func TestReconcileChargeFallsBackToTransactionLookup(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByKeyFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &notFoundError{msg: "orders.get: not found"}
		},
		findByTransactionIDFunc: func(_ context.Context, transactionID string) (domain.Order, error) {
			if transactionID != "ch_1" {
				t.Fatalf("unexpected transaction id %s", transactionID)
			}
			return settledOrder(), nil
		},
		recordPaymentFunc: func(context.Context, string, repositories.PaymentRecord) (domain.Order, bool, error) {
			return settledOrder(), false, nil
		},
	}

	service, err := NewWebhookService(WebhookServiceDeps{Orders: orders})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	if err := service.ReconcileCharge(ctx, ChargeEvent{TransactionID: "ch_1", OrderKey: "ord_stale", Captured: true}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestReconcileChargeMissingOrderIsFatal(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByTransactionIDFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &notFoundError{msg: "orders.find: not found"}
		},
	}

	var reported []error
	service, err := NewWebhookService(WebhookServiceDeps{
		Orders: orders,
		ErrorReport: func(_ context.Context, err error, _ map[string]any) {
			reported = append(reported, err)
		},
	})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	err = service.ReconcileCharge(ctx, ChargeEvent{TransactionID: "ch_ghost", Captured: true})
	if !errors.Is(err, ErrWebhookOrderMissing) {
		t.Fatalf("expected missing-order error, got %v", err)
	}
	if len(reported) != 1 {
		t.Fatalf("expected inconsistency reported once, got %d", len(reported))
	}
}

func TestReconcileChargeReceiptFailureDoesNotFailWebhook(t *testing.T) {
	ctx := context.Background()

	orders := &stubOrderRepository{
		findByKeyFunc: func(context.Context, string) (domain.Order, error) {
			return settledOrder(), nil
		},
		recordPaymentFunc: func(context.Context, string, repositories.PaymentRecord) (domain.Order, bool, error) {
			return settledOrder(), true, nil
		},
	}
	receipts := &stubReceiptPublisher{
		publishFunc: func(context.Context, ReceiptJobMessage) (string, error) {
			return "", errors.New("pubsub unavailable")
		},
	}

	var reported []error
	service, err := NewWebhookService(WebhookServiceDeps{
		Orders:   orders,
		Receipts: receipts,
		ErrorReport: func(_ context.Context, err error, _ map[string]any) {
			reported = append(reported, err)
		},
	})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	if err := service.ReconcileCharge(ctx, ChargeEvent{TransactionID: "ch_1", OrderKey: "ord_A", Captured: true}); err != nil {
		t.Fatalf("publish failure must not fail reconciliation: %v", err)
	}
	if len(reported) != 1 {
		t.Fatalf("expected publish failure reported, got %d", len(reported))
	}
}
