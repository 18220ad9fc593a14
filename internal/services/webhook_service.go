package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/registry-certs/api/internal/repositories"
)

var (
	// ErrWebhookInvalidEvent signals a notification missing required fields.
	ErrWebhookInvalidEvent = errors.New("webhook: invalid event")
	// ErrWebhookOrderMissing marks the fatal inconsistency of a settled charge
	// with no corresponding order row. It is logged, never retried: the charge
	// metadata is only written after the order is persisted, so a miss means a
	// referential-integrity bug rather than a transient fault.
	ErrWebhookOrderMissing = errors.New("webhook: order not found for charge")
)

// ChargeEvent is one processor notification, already signature-verified by
// the transport layer.
type ChargeEvent struct {
	TransactionID string
	OrderKey      string
	Amount        int64
	Captured      bool
	OccurredAt    time.Time
}

// WebhookServiceDeps bundles collaborators required to construct the reconciler.
type WebhookServiceDeps struct {
	Orders      repositories.OrderRepository
	Receipts    ReceiptPublisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	ErrorReport func(ctx context.Context, err error, fields map[string]any)
}

type webhookService struct {
	orders      repositories.OrderRepository
	receipts    ReceiptPublisher
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	errorReport func(context.Context, error, map[string]any)
}

// NewWebhookService wires dependencies into a concrete WebhookService implementation.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	errorReport := deps.ErrorReport
	if errorReport == nil {
		errorReport = func(context.Context, error, map[string]any) {}
	}

	return &webhookService{
		orders:   deps.Orders,
		receipts: deps.Receipts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		errorReport: errorReport,
	}, nil
}

// ReconcileCharge records the settlement and dispatches the receipt job.
// Replays of the same notification are no-ops: recordPayment is guarded by the
// stored settlement timestamp, and the receipt publishes only when the record
// was fresh, so at most one receipt is sent per order.
func (s *webhookService) ReconcileCharge(ctx context.Context, event ChargeEvent) error {
	transactionID := strings.TrimSpace(event.TransactionID)
	if transactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrWebhookInvalidEvent)
	}
	if !event.Captured {
		return fmt.Errorf("%w: uncaptured charge carries no settlement", ErrWebhookInvalidEvent)
	}

	order, err := s.lookupOrder(ctx, strings.TrimSpace(event.OrderKey), transactionID)
	if err != nil {
		return err
	}

	recordedAt := event.OccurredAt
	if recordedAt.IsZero() {
		recordedAt = s.clock()
	}

	updated, recorded, err := s.orders.RecordPayment(ctx, order.Key, repositories.PaymentRecord{
		TransactionID: transactionID,
		Amount:        event.Amount,
		RecordedAt:    recordedAt,
		Captured:      event.Captured,
	})
	if err != nil {
		return fmt.Errorf("webhook: record payment: %w", err)
	}
	if !recorded {
		s.logger(ctx, "webhook.charge.replayed", map[string]any{
			"orderId":       updated.ID,
			"transactionId": transactionID,
		})
		return nil
	}

	s.logger(ctx, "webhook.charge.recorded", map[string]any{
		"orderId":       updated.ID,
		"transactionId": transactionID,
		"amount":        event.Amount,
		"captured":      event.Captured,
	})

	s.dispatchReceipt(ctx, updated, transactionID, recordedAt)
	return nil
}

// lookupOrder resolves the charge to its order, preferring the metadata order
// key and falling back to the transaction id for charges created before the
// status update landed.
func (s *webhookService) lookupOrder(ctx context.Context, orderKey, transactionID string) (Order, error) {
	if orderKey != "" {
		order, err := s.orders.FindByKey(ctx, orderKey)
		if err == nil {
			return order, nil
		}
		if !isRepoNotFound(err) {
			return Order{}, fmt.Errorf("webhook: lookup order: %w", err)
		}
	}

	order, err := s.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if isRepoNotFound(err) {
			missing := fmt.Errorf("%w: %s", ErrWebhookOrderMissing, transactionID)
			s.errorReport(ctx, missing, map[string]any{
				"transactionId": transactionID,
				"orderKey":      orderKey,
			})
			return Order{}, missing
		}
		return Order{}, fmt.Errorf("webhook: lookup order: %w", err)
	}
	return order, nil
}

// dispatchReceipt hands the finished order to the email collaborator. Publish
// failures are reported, not returned: the settlement is already durable and
// a retried webhook would double-send the receipt.
func (s *webhookService) dispatchReceipt(ctx context.Context, order Order, transactionID string, capturedAt time.Time) {
	if s.receipts == nil {
		return
	}
	msgID, err := s.receipts.PublishReceiptJob(ctx, ReceiptJobMessage{
		OrderID:         order.ID,
		OrderType:       string(order.Type),
		TransactionID:   transactionID,
		Email:           order.Contact.Email,
		SubtotalCents:   order.Subtotal,
		ServiceFeeCents: order.ServiceFee,
		TotalCents:      order.Total,
		CapturedAt:      capturedAt,
		Shipping: ReceiptShipping{
			Name:         order.Shipping.Name,
			CompanyName:  order.Shipping.CompanyName,
			AddressLine1: order.Shipping.AddressLine1,
			AddressLine2: order.Shipping.AddressLine2,
			City:         order.Shipping.City,
			State:        order.Shipping.State,
			Zip:          order.Shipping.Zip,
		},
		Items: receiptLineItems(order.Items),
	})
	if err != nil {
		s.errorReport(ctx, fmt.Errorf("webhook: publish receipt job: %w", err), map[string]any{
			"orderId": order.ID,
		})
		return
	}
	s.logger(ctx, "webhook.receipt.dispatched", map[string]any{
		"orderId":   order.ID,
		"messageId": msgID,
	})
}

// receiptLineItems flattens the order lines into the breakdown printed on the
// receipt.
func receiptLineItems(items []OrderItem) []ReceiptLineItem {
	if len(items) == 0 {
		return nil
	}
	lines := make([]ReceiptLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, ReceiptLineItem{
			CertificateID:  item.CertificateID,
			Description:    receiptLineDescription(item),
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPrice,
			LineTotalCents: item.UnitPrice * int64(item.Quantity),
		})
	}
	return lines
}

func receiptLineDescription(item OrderItem) string {
	name := strings.TrimSpace(item.FullName1)
	second := strings.TrimSpace(item.FullName2)
	if second == "" {
		return name
	}
	if name == "" {
		return second
	}
	return name + " and " + second
}

var _ WebhookService = (*webhookService)(nil)
