// Package fees computes the platform fee, the amount charged to the client and the
// provider's net earnings for a booking. All functions are pure.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PlatformFeeRate is the marketplace surcharge added on top of the provider's fee.
var PlatformFeeRate = decimal.RequireFromString("0.20")

// MoneyPlaces is the number of decimal places amounts are rounded to at charge/display time.
const MoneyPlaces = 2

// MaxTotalCharge is the largest total one card charge may carry (99999999 minor units).
var MaxTotalCharge = decimal.RequireFromString("999999.99")

var (
	ErrNegativeFee    = errors.New("fee must not be negative")
	ErrChargeTooLarge = errors.New("total charge exceeds the per-charge limit")
)

// Breakdown is a fully rounded quote for one booking.
type Breakdown struct {
	BaseFee     decimal.Decimal `json:"baseFee"`
	PlatformFee decimal.Decimal `json:"platformFee"`
	TotalCharge decimal.Decimal `json:"totalCharge"`
}

// Quote derives the platform fee and total charge from the base fee. Both figures are
// computed from the unrounded base and rounded once, half-up.
func Quote(base decimal.Decimal) (Breakdown, error) {
	if base.IsNegative() {
		return Breakdown{}, ErrNegativeFee
	}

	platform := base.Mul(PlatformFeeRate)
	total := round(base.Add(platform))
	if total.GreaterThan(MaxTotalCharge) {
		return Breakdown{}, ErrChargeTooLarge
	}

	return Breakdown{
		BaseFee:     round(base),
		PlatformFee: round(platform),
		TotalCharge: total,
	}, nil
}

// ProviderNetEarnings is what the provider keeps of a captured total.
func ProviderNetEarnings(total, platformFeeCaptured decimal.Decimal) decimal.Decimal {
	return total.Sub(platformFeeCaptured)
}

// ToMinorUnits converts an amount to integer cents for the payment gateway.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return round(amount).Shift(MoneyPlaces).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MoneyPlaces)
}

// round is half-up for the non-negative amounts handled here.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
