package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/registry-certs/api/internal/domain"
	"github.com/registry-certs/api/internal/payments"
	"github.com/registry-certs/api/internal/platform/storage"
	"github.com/registry-certs/api/internal/repositories"
)

// FulfillmentStatus classifies the outcome of an operator action. These are
// expected operational results for back-office staff, returned as data rather
// than errors.
type FulfillmentStatus string

const (
	FulfillmentSuccess        FulfillmentStatus = "SUCCESS"
	FulfillmentChargeExpired  FulfillmentStatus = "CHARGE_EXPIRED"
	FulfillmentChargeCaptured FulfillmentStatus = "CHARGE_CAPTURED"
	FulfillmentChargeNotFound FulfillmentStatus = "CHARGE_NOT_FOUND"
	FulfillmentUnknown        FulfillmentStatus = "UNKNOWN"
)

var (
	// ErrFulfillmentInvalidInput signals a malformed operator request.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrUploadNotFound indicates the session or attachment does not exist.
	ErrUploadNotFound = errors.New("fulfillment: upload not found")
)

// FulfillmentCommand targets one charge by its processor transaction id.
type FulfillmentCommand struct {
	TransactionID string
	Operator      string
	Reason        string
}

// DeleteUploadCommand removes one identity-document attachment.
type DeleteUploadCommand struct {
	SessionID    string
	AttachmentID string
	Operator     string
}

// FulfillmentResult reports the structured outcome of an operator action.
type FulfillmentResult struct {
	Status  FulfillmentStatus
	OrderID string
	Detail  string
}

// Success reports whether the action completed.
func (r FulfillmentResult) Success() bool {
	return r.Status == FulfillmentSuccess
}

// ReviewQueueFilter selects orders for the operator review listing.
type ReviewQueueFilter struct {
	Status string
	Type   string
	Pager  Pagination
}

// FulfillmentServiceDeps bundles collaborators required to construct the service.
type FulfillmentServiceDeps struct {
	Orders       repositories.OrderRepository
	Sessions     repositories.UploadSessionRepository
	Audit        repositories.FulfillmentAuditRepository
	Gateway      payments.Gateway
	Objects      UploadObjectDeleter
	UploadBucket string
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
	ErrorReport  func(ctx context.Context, err error, fields map[string]any)
}

type fulfillmentService struct {
	orders       repositories.OrderRepository
	sessions     repositories.UploadSessionRepository
	audit        repositories.FulfillmentAuditRepository
	gateway      payments.Gateway
	objects      UploadObjectDeleter
	uploadBucket string
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
	errorReport  func(context.Context, error, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("fulfillment service: payment gateway is required")
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

	return &fulfillmentService{
		orders:       deps.Orders,
		sessions:     deps.Sessions,
		audit:        deps.Audit,
		gateway:      deps.Gateway,
		objects:      deps.Objects,
		uploadBucket: strings.TrimSpace(deps.UploadBucket),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		errorReport: errorReport,
	}, nil
}

// CaptureCharge settles an authorized charge after manual identity review.
// Capturing an already-captured charge reports success so operator retries
// stay safe.
func (s *fulfillmentService) CaptureCharge(ctx context.Context, cmd FulfillmentCommand) (FulfillmentResult, error) {
	transactionID := strings.TrimSpace(cmd.TransactionID)
	if transactionID == "" {
		return FulfillmentResult{}, fmt.Errorf("%w: transaction id is required", ErrFulfillmentInvalidInput)
	}

	order, err := s.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.finish(ctx, domain.FulfillmentActionCapture, transactionID, Order{}, cmd.Operator, FulfillmentResult{
				Status: FulfillmentChargeNotFound,
				Detail: "no order references this transaction",
			}), nil
		}
		return FulfillmentResult{}, fmt.Errorf("fulfillment: lookup order: %w", err)
	}

	charge, err := s.gateway.CaptureCharge(ctx, transactionID)
	if err != nil {
		result, classified := classifyChargeError(err)
		if !classified {
			s.errorReport(ctx, err, map[string]any{"transactionId": transactionID})
		}
		if result.Status == FulfillmentChargeCaptured {
			// Already settled at the processor; converge local state and
			// report success.
			return s.markCaptured(ctx, order, transactionID, order.Total, cmd.Operator)
		}
		return s.finish(ctx, domain.FulfillmentActionCapture, transactionID, order, cmd.Operator, result), nil
	}

	return s.markCaptured(ctx, order, transactionID, charge.Amount, cmd.Operator)
}

// CancelCharge refunds an authorized, not-yet-captured charge. Captures are
// final in this design: a captured charge is refused with CHARGE_CAPTURED,
// because reversing it is a dispute process outside this system.
func (s *fulfillmentService) CancelCharge(ctx context.Context, cmd FulfillmentCommand) (FulfillmentResult, error) {
	transactionID := strings.TrimSpace(cmd.TransactionID)
	if transactionID == "" {
		return FulfillmentResult{}, fmt.Errorf("%w: transaction id is required", ErrFulfillmentInvalidInput)
	}

	order, err := s.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.finish(ctx, domain.FulfillmentActionCancel, transactionID, Order{}, cmd.Operator, FulfillmentResult{
				Status: FulfillmentChargeNotFound,
				Detail: "no order references this transaction",
			}), nil
		}
		return FulfillmentResult{}, fmt.Errorf("fulfillment: lookup order: %w", err)
	}

	charge, err := s.gateway.RetrieveCharge(ctx, transactionID)
	if err != nil {
		result, classified := classifyChargeError(err)
		if !classified {
			s.errorReport(ctx, err, map[string]any{"transactionId": transactionID})
		}
		return s.finish(ctx, domain.FulfillmentActionCancel, transactionID, order, cmd.Operator, result), nil
	}

	if charge.Captured {
		return s.finish(ctx, domain.FulfillmentActionCancel, transactionID, order, cmd.Operator, FulfillmentResult{
			Status:  FulfillmentChargeCaptured,
			OrderID: order.ID,
			Detail:  "charge already captured; reversal requires the dispute process",
		}), nil
	}

	if !charge.Refunded {
		if err := s.gateway.RefundCharge(ctx, transactionID); err != nil {
			result, classified := classifyChargeError(err)
			if !classified {
				s.errorReport(ctx, err, map[string]any{"transactionId": transactionID})
			}
			return s.finish(ctx, domain.FulfillmentActionCancel, transactionID, order, cmd.Operator, result), nil
		}
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "canceled after identity review"
	}
	canceledAt := s.clock()
	updated, err := s.orders.UpdateStatus(ctx, order.Key, domain.OrderStatusCanceled, repositories.OrderStatusUpdate{
		CancelReason: &reason,
		CanceledAt:   &canceledAt,
	})
	if err != nil && !errors.Is(err, repositories.ErrInvalidStatusTransition) {
		return FulfillmentResult{}, fmt.Errorf("fulfillment: cancel order: %w", err)
	}
	if err == nil {
		order = updated
	}

	return s.finish(ctx, domain.FulfillmentActionCancel, transactionID, order, cmd.Operator, FulfillmentResult{
		Status:  FulfillmentSuccess,
		OrderID: order.ID,
	}), nil
}

// DeleteUpload removes one attachment object and its session reference.
func (s *fulfillmentService) DeleteUpload(ctx context.Context, cmd DeleteUploadCommand) (FulfillmentResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	attachmentID := strings.TrimSpace(cmd.AttachmentID)
	if sessionID == "" || attachmentID == "" {
		return FulfillmentResult{}, fmt.Errorf("%w: session and attachment ids are required", ErrFulfillmentInvalidInput)
	}
	if s.sessions == nil || s.objects == nil {
		return FulfillmentResult{}, errors.New("fulfillment: upload handling not configured")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if isRepoNotFound(err) {
			return FulfillmentResult{}, fmt.Errorf("%w: session %s", ErrUploadNotFound, sessionID)
		}
		return FulfillmentResult{}, fmt.Errorf("fulfillment: lookup session: %w", err)
	}

	var target *UploadAttachment
	for i := range session.Attachments {
		if session.Attachments[i].ID == attachmentID {
			target = &session.Attachments[i]
			break
		}
	}
	if target == nil {
		return FulfillmentResult{}, fmt.Errorf("%w: attachment %s", ErrUploadNotFound, attachmentID)
	}

	// A stored path outside the session's own prefix means the reference is
	// corrupt; refuse to delete rather than touch another session's objects.
	prefix, err := storage.SessionPrefix(sessionID)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("%w: %v", ErrFulfillmentInvalidInput, err)
	}
	if !strings.HasPrefix(target.ObjectPath, prefix) {
		return FulfillmentResult{}, fmt.Errorf("%w: attachment %s path does not belong to session %s", ErrFulfillmentInvalidInput, attachmentID, sessionID)
	}

	if err := s.objects.DeleteObject(ctx, s.uploadBucket, target.ObjectPath); err != nil {
		return FulfillmentResult{}, fmt.Errorf("fulfillment: delete object: %w", err)
	}

	if _, err := s.sessions.RemoveAttachment(ctx, sessionID, attachmentID); err != nil {
		// The object is gone; a dangling reference is reported for manual
		// cleanup rather than failing the operator's action.
		s.errorReport(ctx, fmt.Errorf("fulfillment: remove attachment reference: %w", err), map[string]any{
			"sessionId":    sessionID,
			"attachmentId": attachmentID,
		})
	}

	s.appendAudit(ctx, domain.FulfillmentAuditEntry{
		OrderKey: session.OrderKey,
		Action:   domain.FulfillmentActionDeleteUpload,
		Operator: strings.TrimSpace(cmd.Operator),
		Outcome:  string(FulfillmentSuccess),
		Detail:   fmt.Sprintf("deleted %s from session %s", attachmentID, sessionID),
	})

	return FulfillmentResult{Status: FulfillmentSuccess}, nil
}

// ListReviewQueue pages through orders awaiting operator action.
func (s *fulfillmentService) ListReviewQueue(ctx context.Context, filter ReviewQueueFilter) (domain.CursorPage[Order], error) {
	listFilter := repositories.OrderListFilter{Pager: filter.Pager}

	if raw := strings.TrimSpace(filter.Status); raw != "" {
		status := domain.OrderStatus(strings.ToLower(raw))
		switch status {
		case domain.OrderStatusPending, domain.OrderStatusAuthorized, domain.OrderStatusCaptured,
			domain.OrderStatusCanceled, domain.OrderStatusFailed:
			listFilter.Status = status
		default:
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrFulfillmentInvalidInput, raw)
		}
	}
	if raw := strings.TrimSpace(filter.Type); raw != "" {
		orderType, err := domain.ParseOrderType(raw)
		if err != nil {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrFulfillmentInvalidInput, err)
		}
		listFilter.Type = orderType
	}

	page, err := s.orders.List(ctx, listFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("fulfillment: list orders: %w", err)
	}
	return page, nil
}

// ListAuditTrail pages through the operator action log for one order.
func (s *fulfillmentService) ListAuditTrail(ctx context.Context, orderKey string, pager Pagination) (domain.CursorPage[FulfillmentAuditEntry], error) {
	if s.audit == nil {
		return domain.CursorPage[FulfillmentAuditEntry]{}, errors.New("fulfillment: audit repository not configured")
	}
	page, err := s.audit.ListByOrder(ctx, strings.TrimSpace(orderKey), pager)
	if err != nil {
		return domain.CursorPage[FulfillmentAuditEntry]{}, fmt.Errorf("fulfillment: list audit trail: %w", err)
	}
	return page, nil
}

func (s *fulfillmentService) markCaptured(ctx context.Context, order Order, transactionID string, amount int64, operator string) (FulfillmentResult, error) {
	updated, err := s.orders.UpdateStatus(ctx, order.Key, domain.OrderStatusCaptured, repositories.OrderStatusUpdate{
		CapturedAmount: &amount,
	})
	if err != nil && !errors.Is(err, repositories.ErrInvalidStatusTransition) {
		return FulfillmentResult{}, fmt.Errorf("fulfillment: mark captured: %w", err)
	}
	if err == nil {
		order = updated
	}

	return s.finish(ctx, domain.FulfillmentActionCapture, transactionID, order, operator, FulfillmentResult{
		Status:  FulfillmentSuccess,
		OrderID: order.ID,
	}), nil
}

// finish appends the audit entry and logs the outcome. Audit append failures
// are reported but never fail the operator's action.
func (s *fulfillmentService) finish(ctx context.Context, action domain.FulfillmentAction, transactionID string, order Order, operator string, result FulfillmentResult) FulfillmentResult {
	s.appendAudit(ctx, domain.FulfillmentAuditEntry{
		OrderKey: order.Key,
		OrderID:  order.ID,
		Action:   action,
		Operator: strings.TrimSpace(operator),
		Outcome:  string(result.Status),
		Detail:   fmt.Sprintf("transaction %s: %s", transactionID, result.Detail),
	})

	s.logger(ctx, "fulfillment."+string(action), map[string]any{
		"transactionId": transactionID,
		"orderId":       order.ID,
		"outcome":       string(result.Status),
	})
	return result
}

func (s *fulfillmentService) appendAudit(ctx context.Context, entry domain.FulfillmentAuditEntry) {
	if s.audit == nil {
		return
	}
	if entry.OrderKey == "" {
		entry.OrderKey = "unresolved"
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		s.errorReport(ctx, fmt.Errorf("fulfillment: append audit entry: %w", err), map[string]any{
			"orderId": entry.OrderID,
			"action":  string(entry.Action),
		})
	}
}

// classifyChargeError maps gateway errors onto operator-facing outcomes. The
// second return reports whether the error was an expected operational case.
func classifyChargeError(err error) (FulfillmentResult, bool) {
	switch {
	case errors.Is(err, payments.ErrChargeExpired):
		return FulfillmentResult{Status: FulfillmentChargeExpired, Detail: "authorization window elapsed"}, true
	case errors.Is(err, payments.ErrChargeAlreadyCaptured):
		return FulfillmentResult{Status: FulfillmentChargeCaptured, Detail: "charge already captured"}, true
	case errors.Is(err, payments.ErrChargeNotFound):
		return FulfillmentResult{Status: FulfillmentChargeNotFound, Detail: "charge not found at processor"}, true
	default:
		return FulfillmentResult{Status: FulfillmentUnknown, Detail: err.Error()}, false
	}
}

var _ FulfillmentService = (*fulfillmentService)(nil)
