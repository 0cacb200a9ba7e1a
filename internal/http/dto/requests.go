package dto

import "github.com/shopspring/decimal"

type CreateEscrowRequest struct {
	BuyerAgentID   string  `json:"buyer_agent_id"`
	WorkerAgentID  *string `json:"worker_agent_id,omitempty"`
	JobDescription string  `json:"job_description"`
	// Accepts both a bare JSON number and a quoted decimal string.
	AmountLocked decimal.Decimal `json:"amount_locked"`
	Currency     string          `json:"currency"`
	BuyerWallet  *string         `json:"buyer_wallet,omitempty"`
	WorkerWallet *string         `json:"worker_wallet,omitempty"`
}

type SubmitWorkRequest struct {
	WorkDescription string `json:"work_description"`
}
