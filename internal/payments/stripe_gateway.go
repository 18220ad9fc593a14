package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeTokenAPI interface {
	Get(id string, params *stripe.TokenParams) (*stripe.Token, error)
}

type stripeChargeAPI interface {
	New(params *stripe.ChargeParams) (*stripe.Charge, error)
	Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
	Capture(id string, params *stripe.ChargeCaptureParams) (*stripe.Charge, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	tokens  stripeTokenAPI
	charges stripeChargeAPI
	refunds stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Currency string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clients  *stripeClients
}

// StripeGateway implements the Gateway interface against the Stripe Charges API.
type StripeGateway struct {
	api      stripeClients
	currency string
	logger   StripeLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			tokens:  sc.Tokens,
			charges: sc.Charges,
			refunds: sc.Refunds,
		}
	}
	if clients.tokens == nil || clients.charges == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api:      clients,
		currency: currency,
		logger:   logger,
	}, nil
}

// RetrieveToken fetches the tokenised card so the fee structure can branch on
// the processor-reported funding type rather than anything client-declared.
func (g *StripeGateway) RetrieveToken(ctx context.Context, tokenID string) (CardToken, error) {
	if g == nil {
		return CardToken{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.TokenParams{}
	params.Context = ctx

	token, err := g.api.tokens.Get(strings.TrimSpace(tokenID), params)
	if err != nil {
		if isMissingResource(err) {
			return CardToken{}, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
		}
		return CardToken{}, fmt.Errorf("stripe: retrieve token: %w", err)
	}

	card := CardToken{ID: token.ID}
	if token.Card != nil {
		card.Funding = string(token.Card.Funding)
		card.Brand = string(token.Card.Brand)
		card.Last4 = token.Card.Last4
	}
	return card, nil
}

// CreateCharge creates a charge, settling immediately when req.Capture is true
// and authorizing only when false.
func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if g == nil {
		return Charge{}, errors.New("stripe: gateway is nil")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = g.currency
	}

	params := &stripe.ChargeParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
		Capture:  stripe.Bool(req.Capture),
	}
	params.Context = ctx
	if err := params.SetSource(strings.TrimSpace(req.Source)); err != nil {
		return Charge{}, fmt.Errorf("stripe: set charge source: %w", err)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	charge, err := g.api.charges.New(params)
	if err != nil {
		return Charge{}, g.wrapChargeError(ctx, "create", err)
	}

	g.logger(ctx, "payments.stripe.charge.created", map[string]any{
		"chargeId": charge.ID,
		"amount":   charge.Amount,
		"captured": charge.Captured,
	})
	return stripeCharge(charge), nil
}

// CaptureCharge settles a previously authorized charge.
func (g *StripeGateway) CaptureCharge(ctx context.Context, chargeID string) (Charge, error) {
	if g == nil {
		return Charge{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.ChargeCaptureParams{}
	params.Context = ctx

	charge, err := g.api.charges.Capture(strings.TrimSpace(chargeID), params)
	if err != nil {
		return Charge{}, g.wrapChargeError(ctx, "capture", err)
	}

	g.logger(ctx, "payments.stripe.charge.captured", map[string]any{
		"chargeId": charge.ID,
		"amount":   charge.Amount,
	})
	return stripeCharge(charge), nil
}

// RefundCharge reverses a charge. Refunding an already-refunded charge is
// reported as success so operator retries stay safe.
func (g *StripeGateway) RefundCharge(ctx context.Context, chargeID string) error {
	if g == nil {
		return errors.New("stripe: gateway is nil")
	}
	params := &stripe.RefundParams{
		Charge: stripe.String(strings.TrimSpace(chargeID)),
	}
	params.Context = ctx

	if _, err := g.api.refunds.New(params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return nil
		}
		return g.wrapChargeError(ctx, "refund", err)
	}

	g.logger(ctx, "payments.stripe.charge.refunded", map[string]any{
		"chargeId": chargeID,
	})
	return nil
}

// RetrieveCharge fetches current charge state for pre-cancel inspection.
func (g *StripeGateway) RetrieveCharge(ctx context.Context, chargeID string) (Charge, error) {
	if g == nil {
		return Charge{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.ChargeParams{}
	params.Context = ctx

	charge, err := g.api.charges.Get(strings.TrimSpace(chargeID), params)
	if err != nil {
		return Charge{}, g.wrapChargeError(ctx, "retrieve", err)
	}
	return stripeCharge(charge), nil
}

func (g *StripeGateway) wrapChargeError(ctx context.Context, op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe: %s charge: %w", op, err)
	}

	switch stripeErr.Code {
	case stripe.ErrorCodeChargeExpiredForCapture:
		return fmt.Errorf("%w: %v", ErrChargeExpired, err)
	case stripe.ErrorCodeChargeAlreadyCaptured:
		return fmt.Errorf("%w: %v", ErrChargeAlreadyCaptured, err)
	case stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %v", ErrChargeNotFound, err)
	}

	if stripeErr.Type == stripe.ErrorTypeCard {
		g.logger(ctx, "payments.stripe.charge.declined", map[string]any{
			"code": string(stripeErr.Code),
		})
		return &DeclineError{
			Code:    string(stripeErr.Code),
			Message: stripeErr.Msg,
		}
	}

	return fmt.Errorf("stripe: %s charge: %w", op, err)
}

func isMissingResource(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

func stripeCharge(charge *stripe.Charge) Charge {
	if charge == nil {
		return Charge{}
	}

	var capturedAt *time.Time
	if charge.Captured && charge.Created != 0 {
		t := time.Unix(charge.Created, 0).UTC()
		capturedAt = &t
	}

	var metadata map[string]string
	if len(charge.Metadata) > 0 {
		metadata = make(map[string]string, len(charge.Metadata))
		for k, v := range charge.Metadata {
			metadata[k] = v
		}
	}

	return Charge{
		ID:         charge.ID,
		Amount:     charge.Amount,
		Captured:   charge.Captured,
		Refunded:   charge.Refunded || charge.AmountRefunded >= charge.Amount && charge.Amount > 0,
		CapturedAt: capturedAt,
		Metadata:   metadata,
	}
}
