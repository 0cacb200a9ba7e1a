// Package settlement executes the two-legged payout of a verified escrow:
// worker payout first, then the platform toll. The legs are not atomic as a
// pair; a partial result is surfaced (never swallowed) so the caller can
// persist the worker transaction id and a retry never double-pays the worker.
package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/chain"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result is the outcome of a settlement attempt. On partial failure WorkerTx
// is set alongside the returned SettlementFailedError.
type Result struct {
	WorkerTx     string              `json:"payout_tx,omitempty"`
	TollTx       string              `json:"toll_tx,omitempty"`
	Manual       bool                `json:"manual"`
	Instructions *ManualInstructions `json:"instructions,omitempty"`
}

// ManualInstructions is the payload returned in manual mode: everything an
// out-of-band process needs to execute the transfers itself.
type ManualInstructions struct {
	Currency       string          `json:"currency"`
	WorkerWallet   string          `json:"worker_wallet"`
	WorkerAmount   decimal.Decimal `json:"worker_amount"`
	TreasuryWallet string          `json:"treasury_wallet"`
	TollAmount     decimal.Decimal `json:"toll_amount"`
}

// Executor moves value for a verified escrow. With no backend configured it
// runs in manual mode: synthetic identifiers plus transfer instructions,
// a deliberate degraded mode rather than an error.
type Executor struct {
	backend  chain.Backend
	treasury string
	usdc     string
	log      *zap.Logger
}

func NewExecutor(backend chain.Backend, treasuryWallet, usdcContract string, log *zap.Logger) *Executor {
	return &Executor{
		backend:  backend,
		treasury: treasuryWallet,
		usdc:     usdcContract,
		log:      log,
	}
}

// Automatic reports whether a signing backend is configured.
func (e *Executor) Automatic() bool {
	return e.backend != nil
}

// Settle executes the payout breakdown of esc. If esc already carries a
// payout transaction id from an earlier partial failure, the worker leg is
// skipped and only the toll leg runs.
func (e *Executor) Settle(ctx context.Context, esc *models.Escrow) (*Result, error) {
	if esc.WorkerWallet == nil || *esc.WorkerWallet == "" {
		return nil, apperr.Validationf("worker wallet is not set")
	}

	if e.backend == nil {
		return e.manual(esc), nil
	}

	if !chain.IsValidAddress(*esc.WorkerWallet) {
		return nil, apperr.Validationf("malformed worker wallet address %q", *esc.WorkerWallet)
	}
	if !chain.IsValidAddress(e.treasury) {
		return nil, apperr.Validationf("malformed treasury wallet address %q", e.treasury)
	}

	workerAmount, err := toMinorUnits(esc.WorkerPayout, esc.Currency)
	if err != nil {
		return nil, err
	}
	tollAmount, err := toMinorUnits(esc.TollFee, esc.Currency)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	// Worker leg, unless a previous attempt already paid it.
	if esc.PayoutTx != nil && *esc.PayoutTx != "" {
		res.WorkerTx = *esc.PayoutTx
		e.log.Info("worker leg already settled, retrying toll leg only",
			zap.String("escrow_id", esc.ID.String()),
			zap.String("payout_tx", res.WorkerTx),
		)
	} else {
		txHash, err := e.transfer(ctx, esc.Currency, *esc.WorkerWallet, workerAmount)
		if err != nil {
			return res, &apperr.SettlementFailedError{
				Err: fmt.Errorf("worker transfer failed: %w", err),
			}
		}
		res.WorkerTx = txHash
	}

	// Toll leg.
	if esc.TollFee.IsPositive() {
		txHash, err := e.transfer(ctx, esc.Currency, e.treasury, tollAmount)
		if err != nil {
			return res, &apperr.SettlementFailedError{
				WorkerTx: res.WorkerTx,
				Err:      fmt.Errorf("toll transfer failed: %w", err),
			}
		}
		res.TollTx = txHash
	}

	return res, nil
}

func (e *Executor) manual(esc *models.Escrow) *Result {
	return &Result{
		WorkerTx: "manual:" + uuid.New().String(),
		TollTx:   "manual:" + uuid.New().String(),
		Manual:   true,
		Instructions: &ManualInstructions{
			Currency:       esc.Currency,
			WorkerWallet:   *esc.WorkerWallet,
			WorkerAmount:   esc.WorkerPayout,
			TreasuryWallet: e.treasury,
			TollAmount:     esc.TollFee,
		},
	}
}

func (e *Executor) transfer(ctx context.Context, currency, dest string, amount *big.Int) (string, error) {
	to := common.HexToAddress(dest)
	switch currency {
	case models.CurrencyETH:
		return e.backend.SendNative(ctx, to, amount)
	case models.CurrencyUSDC:
		return e.backend.SendToken(ctx, common.HexToAddress(e.usdc), to, amount)
	default:
		return "", apperr.Validationf("unsupported currency %q", currency)
	}
}

// toMinorUnits converts a decimal amount into the currency's integer
// minor-unit representation. A remainder below minor-unit precision is a
// ValidationError raised before any network call.
func toMinorUnits(amount decimal.Decimal, currency string) (*big.Int, error) {
	if !models.IsSupportedCurrency(currency) {
		return nil, apperr.Validationf("unsupported currency %q", currency)
	}
	shifted := amount.Shift(models.CurrencyMinorUnits(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, apperr.Validationf("amount %s exceeds %s minor-unit precision", amount, currency)
	}
	return shifted.BigInt(), nil
}
