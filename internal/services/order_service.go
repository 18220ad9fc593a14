package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/payments"
	"github.com/registry-certs/api/internal/repositories"
)

const orderKeyPrefix = "ord_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrPaymentDeclined marks a user-correctable card failure. The order row is
	// intentionally left in place so the purchaser can retry with corrected
	// payment details without re-entering shipping data.
	ErrPaymentDeclined = errors.New("order: payment declined")
	// ErrOrderChargeFailed marks an infrastructure failure during the charge
	// step; the persisted order has been canceled as compensation.
	ErrOrderChargeFailed = errors.New("order: charge failed")
)

// ValidationError carries per-field messages for a rejected submission.
type ValidationError struct {
	Fields ValidationErrors
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("order: validation failed for %d field(s)", len(e.Fields))
}

// DeclinedError wraps a gateway decline with the processor's user-safe message.
type DeclinedError struct {
	Code    string
	Message string
	OrderID string
}

// Error implements the error interface.
func (e *DeclinedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("order: payment declined (%s)", e.Code)
}

// Unwrap lets callers match against ErrPaymentDeclined.
func (e *DeclinedError) Unwrap() error { return ErrPaymentDeclined }

// SubmitOrderItem is one requested line: death orders send one per
// certificate-id/quantity pair, birth and marriage orders send exactly one
// carrying the structured request data.
type SubmitOrderItem struct {
	CertificateID string
	Quantity      int
	FullName1     string
	FullName2     string
	DateOfEvent   *time.Time
	Details       string
}

// SubmitOrderCommand is the validated wizard payload entering the pipeline.
type SubmitOrderCommand struct {
	Type            string
	Contact         ContactInfo
	Shipping        ShippingInfo
	Billing         BillingInfo
	Items           []SubmitOrderItem
	CardToken       string
	UploadSessionID string
	IdempotencyKey  string
}

// OrderConfirmation is returned to the purchaser immediately after the charge
// call. Settlement is reconciled later by the webhook pipeline.
type OrderConfirmation struct {
	OrderID      string
	ContactEmail string
}

// PriceList carries per-certificate base prices in minor currency units.
type PriceList struct {
	BirthCertificateCost    int64
	DeathCertificateCost    int64
	MarriageCertificateCost int64
}

func (p PriceList) costFor(orderType OrderType) int64 {
	switch orderType {
	case domain.OrderTypeBirth:
		return p.BirthCertificateCost
	case domain.OrderTypeMarriage:
		return p.MarriageCertificateCost
	default:
		return p.DeathCertificateCost
	}
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Sessions    repositories.UploadSessionRepository
	Gateway     payments.Gateway
	Fees        domain.FeeSchedule
	Prices      PriceList
	Clock       func() time.Time
	KeyGen      func() string
	OrderIDGen  func(orderType OrderType, now time.Time) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	ErrorReport func(ctx context.Context, err error, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	sessions    repositories.UploadSessionRepository
	gateway     payments.Gateway
	fees        domain.FeeSchedule
	prices      PriceList
	clock       func() time.Time
	newKey      func() string
	newOrderID  func(OrderType, time.Time) string
	logger      func(context.Context, string, map[string]any)
	errorReport func(context.Context, error, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	keyGen := deps.KeyGen
	if keyGen == nil {
		keyGen = func() string {
			return orderKeyPrefix + ulid.Make().String()
		}
	}

	orderIDGen := deps.OrderIDGen
	if orderIDGen == nil {
		orderIDGen = func(orderType OrderType, now time.Time) string {
			return domain.NewOrderID(orderType, now, nil)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	errorReport := deps.ErrorReport
	if errorReport == nil {
		errorReport = func(context.Context, error, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		sessions: deps.Sessions,
		gateway:  deps.Gateway,
		fees:     deps.Fees,
		prices:   deps.Prices,
		clock: func() time.Time {
			return clock().UTC()
		},
		newKey:      keyGen,
		newOrderID:  orderIDGen,
		logger:      logger,
		errorReport: errorReport,
	}, nil
}

// Submit runs the pipeline: validate, price, persist, charge, compensate on
// failure. The charge happens strictly after persistence so every successful
// charge has a durable row to reconcile against.
func (s *orderService) Submit(ctx context.Context, cmd SubmitOrderCommand) (OrderConfirmation, error) {
	orderType, err := domain.ParseOrderType(cmd.Type)
	if err != nil {
		return OrderConfirmation{}, &ValidationError{Fields: ValidationErrors{
			"orderType": {"Unknown certificate type"},
		}}
	}

	if fieldErrs := domain.ValidateOrderFields(cmd.Contact, cmd.Shipping, cmd.Billing); !fieldErrs.Valid() {
		return OrderConfirmation{}, &ValidationError{Fields: fieldErrs}
	}

	quantity, vErr := validateItems(orderType, cmd.Items)
	if vErr != nil {
		return OrderConfirmation{}, vErr
	}

	if strings.TrimSpace(cmd.CardToken) == "" {
		return OrderConfirmation{}, &ValidationError{Fields: ValidationErrors{
			"cardToken": {"Payment token is required"},
		}}
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return OrderConfirmation{}, &ValidationError{Fields: ValidationErrors{
			"idempotencyKey": {"Idempotency key is required"},
		}}
	}

	// The gateway's token lookup is authoritative for the fee class; the
	// client-declared funding type is never trusted.
	token, err := s.gateway.RetrieveToken(ctx, cmd.CardToken)
	if err != nil {
		if errors.Is(err, payments.ErrTokenNotFound) {
			return OrderConfirmation{}, &ValidationError{Fields: ValidationErrors{
				"cardToken": {"Payment token is invalid or expired"},
			}}
		}
		return OrderConfirmation{}, fmt.Errorf("order: retrieve token: %w", err)
	}
	funding := domain.ParseFundingType(token.Funding)

	basePrice := s.prices.costFor(orderType)
	costs, err := s.fees.Calculate(basePrice, quantity, funding)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("order: price calculation: %w", err)
	}

	now := s.clock()
	order := domain.Order{
		Key:            s.newKey(),
		ID:             s.newOrderID(orderType, now),
		Type:           orderType,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Contact:        cmd.Contact,
		Shipping:       cmd.Shipping,
		Billing:        cmd.Billing,
		Subtotal:       costs.Subtotal,
		ServiceFee:     costs.ServiceFee,
		Total:          costs.Total,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          buildOrderItems(orderType, cmd, basePrice),
	}

	created, err := s.orders.Create(ctx, order)
	if err != nil {
		if !errors.Is(err, repositories.ErrDuplicateIdempotencyKey) {
			return OrderConfirmation{}, fmt.Errorf("order: persist: %w", err)
		}
		conf, retry, replayErr := s.replaySubmission(ctx, order.IdempotencyKey)
		if replayErr != nil {
			return OrderConfirmation{}, replayErr
		}
		if !retry {
			return conf, nil
		}
		// The earlier order was canceled after the duplicate check, which
		// frees its marker. One retry suffices; a second duplicate means a
		// concurrent submission won the key.
		created, err = s.orders.Create(ctx, order)
		if err != nil {
			return OrderConfirmation{}, fmt.Errorf("order: persist: %w", err)
		}
	}

	s.attachUploads(ctx, orderType, created, cmd.UploadSessionID)

	charge, err := s.gateway.CreateCharge(ctx, payments.ChargeRequest{
		Amount:      created.Total,
		Source:      strings.TrimSpace(cmd.CardToken),
		Capture:     !orderType.RequiresIdentityReview(),
		Description: fmt.Sprintf("%s certificate order %s", orderType, created.ID),
		Metadata:    chargeMetadata(created, quantity, basePrice),
	})
	if err != nil {
		return OrderConfirmation{}, s.handleChargeFailure(ctx, created, err)
	}

	if err := s.recordChargeCreated(ctx, created, charge.ID); err != nil {
		// The charge exists; the webhook path can still reconcile it via
		// metadata, so the submission is reported as successful.
		s.errorReport(ctx, err, map[string]any{
			"orderId":       created.ID,
			"transactionId": charge.ID,
		})
	}

	s.logger(ctx, "order.submitted", map[string]any{
		"orderId":   created.ID,
		"orderType": string(orderType),
		"total":     created.Total,
		"captured":  !orderType.RequiresIdentityReview(),
	})

	return OrderConfirmation{
		OrderID:      created.ID,
		ContactEmail: created.Contact.Email,
	}, nil
}

// Get fetches an order by its public id.
func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("order: lookup: %w", err)
	}
	return order, nil
}

// replaySubmission resolves a duplicate idempotency key. A live original
// order yields its confirmation verbatim so retries stay safe. A canceled
// original never replays: its charge was reversed, so the caller is told to
// retry with a fresh order instead.
func (s *orderService) replaySubmission(ctx context.Context, idempotencyKey string) (OrderConfirmation, bool, error) {
	existing, err := s.orders.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return OrderConfirmation{}, false, fmt.Errorf("order: resolve idempotency replay: %w", err)
	}
	if existing.Status == domain.OrderStatusCanceled {
		s.logger(ctx, "order.submission.superseded", map[string]any{
			"orderId": existing.ID,
		})
		return OrderConfirmation{}, true, nil
	}
	s.logger(ctx, "order.submission.replayed", map[string]any{
		"orderId": existing.ID,
	})
	return OrderConfirmation{
		OrderID:      existing.ID,
		ContactEmail: existing.Contact.Email,
	}, false, nil
}

// attachUploads associates the identity-document session with the order.
// Death certificates carry no uploads; a session supplied for one is logged
// and ignored. Association failures are non-fatal: the order and charge
// proceed, the operator resolves the session manually.
func (s *orderService) attachUploads(ctx context.Context, orderType OrderType, order Order, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	if !orderType.RequiresIdentityReview() {
		s.logger(ctx, "order.uploads.skipped", map[string]any{
			"orderId":   order.ID,
			"orderType": string(orderType),
		})
		return
	}
	if s.sessions == nil {
		s.errorReport(ctx, errors.New("order: upload session repository not configured"), map[string]any{
			"orderId":   order.ID,
			"sessionId": sessionID,
		})
		return
	}
	if err := s.sessions.AttachOrder(ctx, sessionID, order.Key); err != nil {
		s.errorReport(ctx, fmt.Errorf("order: attach upload session: %w", err), map[string]any{
			"orderId":   order.ID,
			"sessionId": sessionID,
		})
	}
}

// handleChargeFailure implements the compensation split: card declines leave
// the row in place for a retry, anything else cancels the persisted order and
// surfaces the original failure.
func (s *orderService) handleChargeFailure(ctx context.Context, order Order, chargeErr error) error {
	var decline *payments.DeclineError
	if errors.As(chargeErr, &decline) {
		s.logger(ctx, "order.charge.declined", map[string]any{
			"orderId": order.ID,
			"code":    decline.Code,
		})
		return &DeclinedError{
			Code:    decline.Code,
			Message: decline.Message,
			OrderID: order.ID,
		}
	}

	reason := "charge failed: " + chargeErr.Error()
	canceledAt := s.clock()
	if _, err := s.orders.UpdateStatus(ctx, order.Key, domain.OrderStatusCanceled, repositories.OrderStatusUpdate{
		CancelReason: &reason,
		CanceledAt:   &canceledAt,
	}); err != nil {
		// Compensation failure needs manual reconciliation; the caller still
		// sees the original charge error.
		s.errorReport(ctx, fmt.Errorf("order: compensating cancel failed: %w", err), map[string]any{
			"orderId":       order.ID,
			"originalError": chargeErr.Error(),
		})
	}

	s.errorReport(ctx, chargeErr, map[string]any{
		"orderId": order.ID,
	})
	return fmt.Errorf("%w: %v", ErrOrderChargeFailed, chargeErr)
}

// recordChargeCreated stores the transaction id and, for review-gated types,
// moves the order to authorized. Immediate-capture orders stay pending until
// the webhook records settlement.
func (s *orderService) recordChargeCreated(ctx context.Context, order Order, transactionID string) error {
	target := domain.OrderStatusPending
	if order.Type.RequiresIdentityReview() {
		target = domain.OrderStatusAuthorized
	}
	_, err := s.orders.UpdateStatus(ctx, order.Key, target, repositories.OrderStatusUpdate{
		TransactionID: &transactionID,
	})
	if err != nil {
		return fmt.Errorf("order: record transaction id: %w", err)
	}
	return nil
}

func validateItems(orderType OrderType, items []SubmitOrderItem) (int, *ValidationError) {
	if len(items) == 0 {
		return 0, &ValidationError{Fields: ValidationErrors{
			"items": {"At least one item is required"},
		}}
	}
	if orderType.RequiresIdentityReview() && len(items) != 1 {
		return 0, &ValidationError{Fields: ValidationErrors{
			"items": {"Exactly one request is allowed for this certificate type"},
		}}
	}

	total := 0
	for _, item := range items {
		if item.Quantity < 0 {
			return 0, &ValidationError{Fields: ValidationErrors{
				"quantity": {"Quantities must not be negative"},
			}}
		}
		total += item.Quantity
	}
	if total <= 0 {
		return 0, &ValidationError{Fields: ValidationErrors{
			"quantity": {"Order at least one certificate"},
		}}
	}
	return total, nil
}

func buildOrderItems(orderType OrderType, cmd SubmitOrderCommand, basePrice int64) []OrderItem {
	items := make([]OrderItem, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		item := OrderItem{
			CertificateID: strings.TrimSpace(line.CertificateID),
			Quantity:      line.Quantity,
			UnitPrice:     basePrice,
			FullName1:     strings.TrimSpace(line.FullName1),
			FullName2:     strings.TrimSpace(line.FullName2),
			DateOfEvent:   line.DateOfEvent,
			Details:       strings.TrimSpace(line.Details),
		}
		if orderType.RequiresIdentityReview() {
			item.UploadSessionID = strings.TrimSpace(cmd.UploadSessionID)
		}
		items = append(items, item)
	}
	return items
}

func chargeMetadata(order Order, quantity int, unitPrice int64) map[string]string {
	return map[string]string{
		"order.orderId":   order.ID,
		"order.orderKey":  order.Key,
		"order.orderType": string(order.Type),
		"order.quantity":  strconv.Itoa(quantity),
		"order.unitPrice": strconv.FormatInt(unitPrice, 10),
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
