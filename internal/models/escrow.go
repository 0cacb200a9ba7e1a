package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusLocked              = "LOCKED"
	EscrowStatusPendingVerification = "PENDING_VERIFICATION"
	EscrowStatusVerified            = "VERIFIED"
	EscrowStatusRejected            = "REJECTED"
	EscrowStatusPaid                = "PAID"
	EscrowStatusRefunded            = "REFUNDED"
)

// Judge verdicts
const (
	VerdictValid   = "VALID"
	VerdictInvalid = "INVALID"
)

// Supported currencies
const (
	CurrencyETH  = "ETH"
	CurrencyUSDC = "USDC"
)

// Valid state transitions: from -> []to
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusLocked:              {EscrowStatusPendingVerification},
	EscrowStatusPendingVerification: {EscrowStatusVerified, EscrowStatusRejected},
	EscrowStatusVerified:            {EscrowStatusPaid},
	EscrowStatusRejected:            {EscrowStatusRefunded},
	EscrowStatusPaid:                {},
	EscrowStatusRefunded:            {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsSupportedCurrency(c string) bool {
	return c == CurrencyETH || c == CurrencyUSDC
}

// CurrencyMinorUnits returns the on-chain decimal precision for a currency.
func CurrencyMinorUnits(currency string) int32 {
	switch currency {
	case CurrencyUSDC:
		return 6
	case CurrencyETH:
		return 18
	default:
		return 0
	}
}

// StoragePrecision caps the decimal precision of amounts held in the store.
// Chain transfers still use the full minor-unit precision of the currency.
const StoragePrecision int32 = 8

// RoundingPrecision returns the precision fee math rounds to: the currency's
// minor units, capped at StoragePrecision.
func RoundingPrecision(currency string) int32 {
	units := CurrencyMinorUnits(currency)
	if units > StoragePrecision {
		return StoragePrecision
	}
	return units
}

type Escrow struct {
	ID             uuid.UUID       `json:"id"`
	BuyerAgentID   string          `json:"buyer_agent_id"`
	WorkerAgentID  *string         `json:"worker_agent_id,omitempty"`
	JobDescription string          `json:"job_description"`
	AmountLocked   decimal.Decimal `json:"amount_locked"`
	Currency       string          `json:"currency"`
	BuyerWallet    *string         `json:"buyer_wallet,omitempty"`
	WorkerWallet   *string         `json:"worker_wallet,omitempty"`
	TollFee        decimal.Decimal `json:"toll_fee"`
	WorkerPayout   decimal.Decimal `json:"worker_payout"`
	WorkSubmitted  *string         `json:"work_submitted,omitempty"`
	JudgeVerdict   *string         `json:"judge_verdict,omitempty"`
	JudgeReasoning *string         `json:"judge_reasoning,omitempty"`
	Status         string          `json:"status"`
	PayoutTx       *string         `json:"payout_tx_hash,omitempty"`
	TollTx         *string         `json:"toll_tx_hash,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	VerifiedAt     *time.Time      `json:"verified_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
}
