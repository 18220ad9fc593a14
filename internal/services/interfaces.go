package services

import (
	"context"
	"time"

	"github.com/registry-certs/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order                 = domain.Order
	OrderItem             = domain.OrderItem
	OrderType             = domain.OrderType
	OrderStatus           = domain.OrderStatus
	ContactInfo           = domain.ContactInfo
	ShippingInfo          = domain.ShippingInfo
	BillingInfo           = domain.BillingInfo
	UploadSession         = domain.UploadSession
	UploadAttachment      = domain.UploadAttachment
	FulfillmentAuditEntry = domain.FulfillmentAuditEntry
	Pagination            = domain.Pagination
	SystemHealthReport    = domain.SystemHealthReport
	ValidationErrors      = domain.ValidationErrors
)

// OrderService runs the submission pipeline: validation, pricing, durable
// persistence, charge creation, and compensation when a step fails partway.
type OrderService interface {
	Submit(ctx context.Context, cmd SubmitOrderCommand) (OrderConfirmation, error)
	Get(ctx context.Context, orderID string) (Order, error)
}

// WebhookService reconciles asynchronous processor notifications against
// stored orders. Processing is idempotent per transaction.
type WebhookService interface {
	ReconcileCharge(ctx context.Context, event ChargeEvent) error
}

// FulfillmentService exposes the operator actions taken after manual identity
// review, plus the review queue they work from.
type FulfillmentService interface {
	CaptureCharge(ctx context.Context, cmd FulfillmentCommand) (FulfillmentResult, error)
	CancelCharge(ctx context.Context, cmd FulfillmentCommand) (FulfillmentResult, error)
	DeleteUpload(ctx context.Context, cmd DeleteUploadCommand) (FulfillmentResult, error)
	ListReviewQueue(ctx context.Context, filter ReviewQueueFilter) (domain.CursorPage[Order], error)
	ListAuditTrail(ctx context.Context, orderKey string, pager Pagination) (domain.CursorPage[FulfillmentAuditEntry], error)
}

// SystemService provides health reports and runtime metadata for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ReceiptJobMessage is handed to the external email collaborator over Pub/Sub
// once an order settles. The collaborator renders and sends the receipt, so
// the message carries everything the email shows: the itemized cost breakdown
// and the shipping destination.
type ReceiptJobMessage struct {
	OrderID         string            `json:"orderId"`
	OrderType       string            `json:"orderType"`
	TransactionID   string            `json:"transactionId"`
	Email           string            `json:"email"`
	SubtotalCents   int64             `json:"subtotalCents"`
	ServiceFeeCents int64             `json:"serviceFeeCents"`
	TotalCents      int64             `json:"totalCents"`
	CapturedAt      time.Time         `json:"capturedAt"`
	Shipping        ReceiptShipping   `json:"shipping"`
	Items           []ReceiptLineItem `json:"items"`
}

// ReceiptShipping is the destination block printed on the receipt.
type ReceiptShipping struct {
	Name         string `json:"name"`
	CompanyName  string `json:"companyName,omitempty"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
}

// ReceiptLineItem is one certificate line on the receipt.
type ReceiptLineItem struct {
	CertificateID  string `json:"certificateId,omitempty"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

// ReceiptPublisher enqueues receipt jobs. Implemented by the Pub/Sub publisher
// in platform/jobs.
type ReceiptPublisher interface {
	PublishReceiptJob(ctx context.Context, msg ReceiptJobMessage) (string, error)
}

// UploadObjectDeleter removes stored attachment objects. Implemented by the
// GCS deleter in platform/storage.
type UploadObjectDeleter interface {
	DeleteObject(ctx context.Context, bucket, object string) error
}
