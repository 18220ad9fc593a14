package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/registry-certs/api/internal/platform/httpx"
	"github.com/registry-certs/api/internal/platform/textutil"
	"github.com/registry-certs/api/internal/services"
)

const (
	maxWebhookRequestBody = 256 * 1024

	stripeSignatureHeader = "Stripe-Signature"

	eventChargeSucceeded = "charge.succeeded"
	eventChargeCaptured  = "charge.captured"
)

// WebhookHandlers receives asynchronous payment confirmations from Stripe.
type WebhookHandlers struct {
	webhooks    services.WebhookService
	endpointKey func() string
	construct   func(payload []byte, header, secret string) (stripe.Event, error)
}

// WebhookHandlersOption customises the handlers.
type WebhookHandlersOption func(*WebhookHandlers)

// NewWebhookHandlers constructs webhook handlers verifying signatures with the
// given endpoint secret.
func NewWebhookHandlers(webhooks services.WebhookService, endpointSecret string, opts ...WebhookHandlersOption) *WebhookHandlers {
	h := &WebhookHandlers{
		webhooks:    webhooks,
		endpointKey: func() string { return endpointSecret },
		construct: func(payload []byte, header, secret string) (stripe.Event, error) {
			return webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			})
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithWebhookSecretSource resolves the endpoint secret lazily, allowing
// rotation without restarting the process.
func WithWebhookSecretSource(source func() string) WebhookHandlersOption {
	return func(h *WebhookHandlers) {
		if source != nil {
			h.endpointKey = source
		}
	}
}

// WithWebhookEventConstructor overrides signature verification, primarily for tests.
func WithWebhookEventConstructor(construct func(payload []byte, header, secret string) (stripe.Event, error)) WebhookHandlersOption {
	return func(h *WebhookHandlers) {
		if construct != nil {
			h.construct = construct
		}
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	secret := h.endpointKey()
	if secret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook secret not configured", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookRequestBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook payload", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookRequestBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.construct(payload, r.Header.Get(stripeSignatureHeader), secret)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	switch string(event.Type) {
	case eventChargeSucceeded, eventChargeCaptured:
	default:
		// Other event types are acknowledged without processing so Stripe
		// does not retry them.
		writeJSONResponse(w, http.StatusOK, map[string]string{"received": "ignored"})
		return
	}

	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload is not a charge", http.StatusBadRequest))
		return
	}

	if string(event.Type) == eventChargeSucceeded && !charge.Captured {
		// charge.succeeded for an authorize-only charge carries no
		// settlement. The later charge.captured event settles it.
		writeJSONResponse(w, http.StatusOK, map[string]string{"received": "ignored"})
		return
	}

	metadata := textutil.NormalizeStringMap(charge.Metadata)
	chargeEvent := services.ChargeEvent{
		TransactionID: charge.ID,
		OrderKey:      metadata["order.orderKey"],
		Amount:        charge.Amount,
		Captured:      charge.Captured,
		OccurredAt:    time.Unix(event.Created, 0).UTC(),
	}
	if charge.AmountCaptured > 0 {
		chargeEvent.Amount = charge.AmountCaptured
	}

	if err := h.webhooks.ReconcileCharge(ctx, chargeEvent); err != nil {
		if errors.Is(err, services.ErrWebhookInvalidEvent) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook event is missing required charge data", http.StatusBadRequest))
			return
		}
		if errors.Is(err, services.ErrWebhookOrderMissing) {
			// Already error-reported by the service; acknowledged so Stripe
			// does not retry an event no order will ever match.
			writeJSONResponse(w, http.StatusOK, map[string]string{"received": "unmatched"})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "failed to reconcile charge", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"received": "ok"})
}
