package repositories

import (
	"context"
	"time"

	"github.com/registry-certs/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	UploadSessions() UploadSessionRepository
	FulfillmentAudit() FulfillmentAuditRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository owns the durable order record, its item lines, and the
// idempotency markers that make submission exactly-once.
type OrderRepository interface {
	// Create persists the order, its items, and the idempotency marker in one
	// transaction. A reused idempotency key yields ErrDuplicateIdempotencyKey.
	Create(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByKey(ctx context.Context, key string) (domain.Order, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, idempotencyKey string) (domain.Order, error)
	// UpdateStatus applies a lifecycle transition. Transitions the state machine
	// forbids yield ErrInvalidStatusTransition.
	UpdateStatus(ctx context.Context, key string, status domain.OrderStatus, update OrderStatusUpdate) (domain.Order, error)
	// RecordPayment marks the asynchronous settlement for the order. The boolean
	// reports whether this call recorded the payment (false on replays).
	RecordPayment(ctx context.Context, key string, payment PaymentRecord) (domain.Order, bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderStatusUpdate carries optional fields to mutate during a status transition.
type OrderStatusUpdate struct {
	TransactionID  *string
	CancelReason   *string
	CanceledAt     *time.Time
	CapturedAmount *int64
}

// PaymentRecord describes a settlement event reconciled from the payment processor.
type PaymentRecord struct {
	TransactionID string
	Amount        int64
	RecordedAt    time.Time
	// Captured reports whether the event settles funds rather than holding them.
	Captured bool
}

// OrderListFilter narrows operator review-queue listings.
type OrderListFilter struct {
	Status domain.OrderStatus
	Type   domain.OrderType
	Pager  domain.Pagination
}

// UploadSessionRepository persists identity-document upload sessions.
type UploadSessionRepository interface {
	Create(ctx context.Context, session domain.UploadSession) (domain.UploadSession, error)
	FindByID(ctx context.Context, sessionID string) (domain.UploadSession, error)
	AddAttachment(ctx context.Context, sessionID string, attachment domain.UploadAttachment) (domain.UploadSession, error)
	RemoveAttachment(ctx context.Context, sessionID, attachmentID string) (domain.UploadSession, error)
	// AttachOrder links the session to the order that referenced it at submission.
	AttachOrder(ctx context.Context, sessionID, orderKey string) error
	Delete(ctx context.Context, sessionID string) error
}

// FulfillmentAuditRepository appends immutable operator action records.
type FulfillmentAuditRepository interface {
	Append(ctx context.Context, entry domain.FulfillmentAuditEntry) (domain.FulfillmentAuditEntry, error)
	ListByOrder(ctx context.Context, orderKey string, pager domain.Pagination) (domain.CursorPage[domain.FulfillmentAuditEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
