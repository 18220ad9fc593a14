package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenNotFound is returned when the card token cannot be retrieved from the processor.
	ErrTokenNotFound = errors.New("payments: token not found")
	// ErrChargeNotFound is returned when the charge id does not exist at the processor.
	ErrChargeNotFound = errors.New("payments: charge not found")
	// ErrChargeExpired is returned when the processor's authorization window has
	// elapsed and the held funds can no longer be captured.
	ErrChargeExpired = errors.New("payments: authorization expired")
	// ErrChargeAlreadyCaptured is returned when capturing a charge that has already settled.
	ErrChargeAlreadyCaptured = errors.New("payments: charge already captured")
)

// DeclineError is the user-correctable class of charge failure: the card was
// declined, had insufficient funds, failed its security check, and so on. The
// message is safe to surface to the purchaser so they can retry with corrected
// payment details.
type DeclineError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *DeclineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payments: card declined (%s): %s", e.Code, e.Message)
}

// IsDecline reports whether err is a user-correctable card decline.
func IsDecline(err error) bool {
	var decline *DeclineError
	return errors.As(err, &decline)
}

// CardToken describes a tokenised card as reported by the processor.
type CardToken struct {
	ID      string
	Funding string
	Brand   string
	Last4   string
}

// ChargeRequest carries the parameters for creating a charge. Capture controls
// the authorize/capture split: true settles immediately, false holds funds for
// a later capture.
type ChargeRequest struct {
	Amount      int64
	Currency    string
	Source      string
	Capture     bool
	Description string
	Metadata    map[string]string
}

// Charge normalises processor charge state for the order pipeline.
type Charge struct {
	ID         string
	Amount     int64
	Captured   bool
	Refunded   bool
	CapturedAt *time.Time
	Metadata   map[string]string
}

// Gateway is the contract the order pipeline holds against the external
// payment processor. RefundCharge is idempotent from the caller's perspective:
// refunding an already-refunded charge reports success.
type Gateway interface {
	RetrieveToken(ctx context.Context, tokenID string) (CardToken, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	CaptureCharge(ctx context.Context, chargeID string) (Charge, error)
	RefundCharge(ctx context.Context, chargeID string) error
	RetrieveCharge(ctx context.Context, chargeID string) (Charge, error)
}
