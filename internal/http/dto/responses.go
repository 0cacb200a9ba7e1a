package dto

import (
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/handshake-escrow/backend/internal/repositories"
	"github.com/handshake-escrow/backend/internal/settlement"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type EscrowResponse struct {
	Success bool           `json:"success"`
	Escrow  *models.Escrow `json:"escrow"`
}

type EscrowListResponse struct {
	Success bool            `json:"success"`
	Escrows []models.Escrow `json:"escrows"`
}

type VerifyResponse struct {
	Success bool   `json:"success"`
	Verdict string `json:"verdict"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type PayoutResponse struct {
	Success      bool                            `json:"success"`
	WorkerPaid   decimal.Decimal                 `json:"worker_paid"`
	TollFee      decimal.Decimal                 `json:"toll_fee"`
	PayoutTx     string                          `json:"payout_tx,omitempty"`
	TollTx       string                          `json:"toll_tx,omitempty"`
	Manual       bool                            `json:"manual"`
	Instructions *settlement.ManualInstructions  `json:"instructions,omitempty"`
	Message      string                          `json:"message,omitempty"`
}

type RefundResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type EventsResponse struct {
	Success bool              `json:"success"`
	Events  []models.AuditLog `json:"events"`
}

type UsageResponse struct {
	Success bool                      `json:"success"`
	Usage   []repositories.UsageCount `json:"usage"`
}
