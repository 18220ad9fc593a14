package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Pagination carries cursor-based paging inputs for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderType enumerates the certificate products sold by the registry.
type OrderType string

const (
	// OrderTypeBirth identifies birth-certificate orders, which require identity review before capture.
	OrderTypeBirth OrderType = "birth"
	// OrderTypeDeath identifies death-certificate orders, charged with immediate capture.
	OrderTypeDeath OrderType = "death"
	// OrderTypeMarriage identifies marriage-certificate orders, which require identity review before capture.
	OrderTypeMarriage OrderType = "marriage"
)

var orderTypeCodes = map[OrderType]string{
	OrderTypeBirth:    "BC",
	OrderTypeDeath:    "DC",
	OrderTypeMarriage: "MC",
}

// ParseOrderType normalises the supplied value into a known OrderType.
func ParseOrderType(value string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(value))) {
	case OrderTypeBirth:
		return OrderTypeBirth, nil
	case OrderTypeDeath:
		return OrderTypeDeath, nil
	case OrderTypeMarriage:
		return OrderTypeMarriage, nil
	default:
		return "", fmt.Errorf("domain: unknown order type %q", value)
	}
}

// Code returns the two-letter prefix used in public order ids.
func (t OrderType) Code() string {
	if code, ok := orderTypeCodes[t]; ok {
		return code
	}
	return "XX"
}

// RequiresIdentityReview reports whether charges for this type are authorized
// only and captured after a human verifies identity documents.
func (t OrderType) RequiresIdentityReview() bool {
	return t == OrderTypeBirth || t == OrderTypeMarriage
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order row exists but no charge has settled.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAuthorized indicates funds are held pending identity review.
	OrderStatusAuthorized OrderStatus = "authorized"
	// OrderStatusCaptured indicates the charge has settled. Terminal.
	OrderStatusCaptured OrderStatus = "captured"
	// OrderStatusCanceled indicates the order was canceled or refunded. Terminal.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusFailed indicates submission failed before a charge was created. Terminal.
	OrderStatusFailed OrderStatus = "failed"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusAuthorized, OrderStatusCaptured, OrderStatusCanceled, OrderStatusFailed},
	OrderStatusAuthorized: {OrderStatusCaptured, OrderStatusCanceled},
}

// CanTransition reports whether the status machine permits current -> target.
func CanTransition(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	for _, candidate := range next {
		if candidate == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCaptured, OrderStatusCanceled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// ContactInfo captures how the registry reaches the purchaser.
type ContactInfo struct {
	Name  string
	Email string
	Phone string
}

// ShippingInfo is the destination for printed certificates.
type ShippingInfo struct {
	Name         string
	CompanyName  string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	Zip          string
}

// BillingInfo mirrors the card statement address supplied at submission.
type BillingInfo struct {
	CardholderName string
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	Zip            string
}

// Order is the durable record for a certificate purchase. Contact, shipping,
// billing, and cost fields are written once at submission and never mutated;
// only status-related fields change afterwards.
type Order struct {
	Key            string
	ID             string
	Type           OrderType
	Status         OrderStatus
	IdempotencyKey string

	Contact  ContactInfo
	Shipping ShippingInfo
	Billing  BillingInfo

	Subtotal   int64
	ServiceFee int64
	Total      int64

	TransactionID string

	CancelReason      *string
	CanceledAt        *time.Time
	PaymentRecordedAt *time.Time
	CapturedAmount    int64

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []OrderItem
}

// Settled reports whether the asynchronous confirmation has already been reconciled.
func (o Order) Settled() bool {
	return o.PaymentRecordedAt != nil
}

// OrderItem is a single certificate line. Death orders carry one line per
// certificate id; birth and marriage orders carry exactly one line holding the
// structured request data gathered by the wizard.
type OrderItem struct {
	ID            string
	CertificateID string
	Quantity      int
	UnitPrice     int64

	FullName1   string
	FullName2   string
	DateOfEvent *time.Time
	Details     string

	UploadSessionID string
}

// UploadAttachment references a single file gathered during the wizard.
type UploadAttachment struct {
	ID          string
	Filename    string
	ContentType string
	ObjectPath  string
	UploadedAt  time.Time
}

// UploadSession groups identity-document attachments collected before
// submission. The order pipeline treats the session as an opaque foreign key;
// it never manages upload lifecycle beyond association and operator deletion.
type UploadSession struct {
	ID          string
	OrderKey    string
	Attachments []UploadAttachment
	CreatedAt   time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// FulfillmentAction enumerates operator actions recorded in the audit trail.
type FulfillmentAction string

const (
	FulfillmentActionCapture      FulfillmentAction = "capture"
	FulfillmentActionCancel       FulfillmentAction = "cancel"
	FulfillmentActionDeleteUpload FulfillmentAction = "delete_upload"
)

// FulfillmentAuditEntry records a single operator action against an order.
type FulfillmentAuditEntry struct {
	ID        string
	OrderKey  string
	OrderID   string
	Action    FulfillmentAction
	Operator  string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

const orderIDRandomSpace = 9_000_000

// NewOrderID builds a public order id of the form RG-<TYPE><YYYYMM>-<7 digits>.
// The random suffix is not checked against existing orders; the space of nine
// million ids per type and month keeps collisions out of practical reach.
func NewOrderID(orderType OrderType, now time.Time, intn func(int) int) string {
	if intn == nil {
		intn = rand.Intn
	}
	suffix := intn(orderIDRandomSpace) + 1_000_000
	return fmt.Sprintf("RG-%s%s-%07d", orderType.Code(), now.UTC().Format("200601"), suffix)
}
