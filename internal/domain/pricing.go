package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// FundingType distinguishes the card funding source reported by the payment
// gateway. The client-declared funding type is never trusted; the gateway's
// token lookup is authoritative.
type FundingType string

const (
	// FundingCredit applies the processor pass-through fee (fixed plus percentage).
	FundingCredit FundingType = "credit"
	// FundingDebit applies the flat debit service fee.
	FundingDebit FundingType = "debit"
)

// ParseFundingType maps a gateway funding string onto a fee class. Prepaid and
// unknown funding bill at credit rates, matching how the processor charges us.
func ParseFundingType(value string) FundingType {
	if strings.EqualFold(strings.TrimSpace(value), string(FundingDebit)) {
		return FundingDebit
	}
	return FundingCredit
}

// FeeSchedule holds the service-fee constants in minor currency units. The
// values are configuration, not business logic; see config.FeesConfig.
type FeeSchedule struct {
	// CreditFixedFee is the per-order fixed component for credit cards, in cents.
	CreditFixedFee int64
	// CreditPercentage is the fractional rate applied to subtotal plus fixed fee
	// for credit cards (0.0215 means 2.15%).
	CreditPercentage float64
	// DebitFlatFee is the flat per-order fee for debit cards, in cents.
	DebitFlatFee int64
}

// CostBreakdown is the immutable cost triple stored on the order at submission.
type CostBreakdown struct {
	Subtotal   int64
	ServiceFee int64
	Total      int64
}

// ErrInvalidQuantity is returned when pricing is attempted with a non-positive quantity.
var ErrInvalidQuantity = errors.New("pricing: quantity must be positive")

// Calculate prices an order: subtotal is basePrice times quantity, the service
// fee branches on funding type, and total is always subtotal plus fee. Callers
// must reject zero and negative quantities before building any state; the
// error here is a backstop, not the primary validation path.
func (s FeeSchedule) Calculate(basePrice int64, quantity int, funding FundingType) (CostBreakdown, error) {
	if quantity <= 0 {
		return CostBreakdown{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	if basePrice < 0 {
		return CostBreakdown{}, fmt.Errorf("pricing: base price must not be negative, got %d", basePrice)
	}

	subtotal := basePrice * int64(quantity)

	var fee int64
	switch funding {
	case FundingDebit:
		fee = s.DebitFlatFee
	default:
		// The processor bills its percentage on the gross amount, which itself
		// includes the fixed fee, so the pass-through applies the rate to
		// subtotal plus fixed fee.
		fee = int64(math.Round(s.CreditPercentage*float64(subtotal+s.CreditFixedFee))) + s.CreditFixedFee
	}
	if fee < 0 {
		fee = 0
	}

	return CostBreakdown{
		Subtotal:   subtotal,
		ServiceFee: fee,
		Total:      subtotal + fee,
	}, nil
}
