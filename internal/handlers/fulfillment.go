package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/registry-certs/api/internal/platform/httpx"
	"github.com/registry-certs/api/internal/platform/pagination"
	"github.com/registry-certs/api/internal/services"
)

const maxFulfillmentRequestBody = 8 * 1024

// FulfillmentHandlers exposes the operator back-office endpoints mounted under
// the internal route group.
type FulfillmentHandlers struct {
	fulfillment services.FulfillmentService
}

// NewFulfillmentHandlers constructs the fulfillment handlers.
func NewFulfillmentHandlers(fulfillment services.FulfillmentService) *FulfillmentHandlers {
	return &FulfillmentHandlers{fulfillment: fulfillment}
}

// Routes registers fulfillment endpoints under the provided router.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/fulfillment", func(group chi.Router) {
		group.Post("/charges/{transactionID}:capture", h.captureCharge)
		group.Post("/charges/{transactionID}:cancel", h.cancelCharge)
		group.Delete("/uploads/{sessionID}/{attachmentID}", h.deleteUpload)
		group.Get("/orders", h.listReviewQueue)
		group.Get("/orders/{orderKey}/audit", h.listAuditTrail)
	})
}

type fulfillmentActionRequest struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

type fulfillmentResultResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type chargeAction func(ctx context.Context, cmd services.FulfillmentCommand) (services.FulfillmentResult, error)

func (h *FulfillmentHandlers) captureCharge(w http.ResponseWriter, r *http.Request) {
	if h.fulfillment == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	h.runChargeAction(w, r, h.fulfillment.CaptureCharge)
}

func (h *FulfillmentHandlers) cancelCharge(w http.ResponseWriter, r *http.Request) {
	if h.fulfillment == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	h.runChargeAction(w, r, h.fulfillment.CancelCharge)
}

func (h *FulfillmentHandlers) runChargeAction(w http.ResponseWriter, r *http.Request, action chargeAction) {
	ctx := r.Context()

	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionID"))
	if transactionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transaction id is required", http.StatusBadRequest))
		return
	}

	var req fulfillmentActionRequest
	body, err := readLimitedBody(r, maxFulfillmentRequestBody)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Operator may act without a body.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := action(ctx, services.FulfillmentCommand{
		TransactionID: transactionID,
		Operator:      strings.TrimSpace(req.Operator),
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, fulfillmentResultResponse{
		Status:  string(result.Status),
		OrderID: result.OrderID,
		Detail:  result.Detail,
	})
}

func (h *FulfillmentHandlers) deleteUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	attachmentID := strings.TrimSpace(chi.URLParam(r, "attachmentID"))
	if sessionID == "" || attachmentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session and attachment ids are required", http.StatusBadRequest))
		return
	}

	result, err := h.fulfillment.DeleteUpload(ctx, services.DeleteUploadCommand{
		SessionID:    sessionID,
		AttachmentID: attachmentID,
		Operator:     strings.TrimSpace(r.Header.Get("X-Operator")),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, fulfillmentResultResponse{
		Status: string(result.Status),
		Detail: result.Detail,
	})
}

type reviewQueueOrderPayload struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	ContactName   string `json:"contactName"`
	ContactEmail  string `json:"contactEmail"`
	Total         int64  `json:"total"`
	TransactionID string `json:"transactionId,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

type reviewQueueResponse struct {
	Orders        []reviewQueueOrderPayload `json:"orders"`
	NextPageToken string                    `json:"nextPageToken,omitempty"`
}

func (h *FulfillmentHandlers) listReviewQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := reviewQueuePager(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.fulfillment.ListReviewQueue(ctx, services.ReviewQueueFilter{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
		Pager:  pager,
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	resp := reviewQueueResponse{
		Orders:        make([]reviewQueueOrderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload := reviewQueueOrderPayload{
			ID:            order.ID,
			Type:          string(order.Type),
			Status:        string(order.Status),
			ContactName:   order.Contact.Name,
			ContactEmail:  order.Contact.Email,
			Total:         order.Total,
			TransactionID: order.TransactionID,
		}
		if !order.CreatedAt.IsZero() {
			payload.CreatedAt = order.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		resp.Orders = append(resp.Orders, payload)
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

type auditEntryPayload struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId,omitempty"`
	Action    string `json:"action"`
	Operator  string `json:"operator,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type auditTrailResponse struct {
	Entries       []auditEntryPayload `json:"entries"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}

func (h *FulfillmentHandlers) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderKey := strings.TrimSpace(chi.URLParam(r, "orderKey"))
	if orderKey == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order key is required", http.StatusBadRequest))
		return
	}

	pager, err := reviewQueuePager(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.fulfillment.ListAuditTrail(ctx, orderKey, pager)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	resp := auditTrailResponse{
		Entries:       make([]auditEntryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, entry := range page.Items {
		payload := auditEntryPayload{
			ID:       entry.ID,
			OrderID:  entry.OrderID,
			Action:   string(entry.Action),
			Operator: entry.Operator,
			Outcome:  entry.Outcome,
			Detail:   entry.Detail,
		}
		if !entry.CreatedAt.IsZero() {
			payload.CreatedAt = entry.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		resp.Entries = append(resp.Entries, payload)
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func reviewQueuePager(r *http.Request) (services.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: pagination.DefaultPageSize,
		MaxPageSize:     pagination.DefaultMaxPageSize,
	})
	if err != nil {
		return services.Pagination{}, err
	}
	return services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}

func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUploadNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("upload_not_found", err.Error(), http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_error", "failed to process fulfillment request", http.StatusInternalServerError))
	}
}
