// Package fees computes the payout breakdown of a locked amount: the platform
// toll and the worker payout. Pure math, no I/O.
package fees

import (
	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Breakdown splits amount into (tollFee, workerPayout) for the given fee
// percentage. The toll is rounded to the currency's rounding precision; the
// payout is the exact remainder, so tollFee + workerPayout == amount always.
func Breakdown(amount, feePercent decimal.Decimal, currency string) (decimal.Decimal, decimal.Decimal, error) {
	if !models.IsSupportedCurrency(currency) {
		return decimal.Zero, decimal.Zero, apperr.Validationf("unsupported currency %q, must be ETH or USDC", currency)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, apperr.Validationf("amount must be positive, got %s", amount)
	}
	if feePercent.IsNegative() || feePercent.GreaterThanOrEqual(hundred) {
		return decimal.Zero, decimal.Zero, apperr.Validationf("fee percent must be in [0, 100), got %s", feePercent)
	}

	precision := models.RoundingPrecision(currency)
	toll := amount.Mul(feePercent).Div(hundred).Round(precision)
	payout := amount.Sub(toll)
	return toll, payout, nil
}
