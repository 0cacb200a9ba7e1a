package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const escrowColumns = `id, buyer_agent_id, worker_agent_id, job_description, amount_locked, currency,
	       buyer_wallet, worker_wallet, toll_fee, worker_payout,
	       work_submitted, judge_verdict, judge_reasoning, status,
	       payout_tx, toll_tx,
	       created_at, submitted_at, verified_at, paid_at, refunded_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrows (buyer_agent_id, worker_agent_id, job_description, amount_locked, currency,
		                     buyer_wallet, worker_wallet, toll_fee, worker_payout, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, e.BuyerAgentID, e.WorkerAgentID, e.JobDescription, e.AmountLocked.String(), e.Currency,
		e.BuyerWallet, e.WorkerWallet, e.TollFee.String(), e.WorkerPayout.String(), e.Status,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows WHERE id = $1
	`, id)
	return scanEscrow(row)
}

type EscrowFilter struct {
	BuyerAgentID  *string
	WorkerAgentID *string
	Status        *string
	Limit         int
	Offset        int
}

func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) ([]models.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows`
	args := []any{}
	argIdx := 1
	where := ""

	appendCond := func(cond string, val any) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, argIdx)
		args = append(args, val)
		argIdx++
	}

	if f.BuyerAgentID != nil {
		appendCond("buyer_agent_id = $%d", *f.BuyerAgentID)
	}
	if f.WorkerAgentID != nil {
		appendCond("worker_agent_id = $%d", *f.WorkerAgentID)
	}
	if f.Status != nil {
		appendCond("status = $%d", *f.Status)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	query += where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	return escrows, rows.Err()
}

// SetSubmitted stores the work and moves LOCKED -> PENDING_VERIFICATION in a
// single conditional write. Returns false when the escrow was not in LOCKED,
// which the caller reports as a state conflict.
func (r *EscrowRepo) SetSubmitted(ctx context.Context, id uuid.UUID, work string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows
		SET work_submitted = $1, submitted_at = now(), status = $2
		WHERE id = $3 AND status = $4 AND work_submitted IS NULL
	`, work, models.EscrowStatusPendingVerification, id, models.EscrowStatusLocked)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetVerdict records the judge's decision and moves PENDING_VERIFICATION to
// VERIFIED or REJECTED. The verdict column is written at most once.
func (r *EscrowRepo) SetVerdict(ctx context.Context, id uuid.UUID, verdict string, reasoning *string, newStatus string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows
		SET judge_verdict = $1, judge_reasoning = $2, verified_at = now(), status = $3
		WHERE id = $4 AND status = $5 AND judge_verdict IS NULL
	`, verdict, reasoning, newStatus, id, models.EscrowStatusPendingVerification)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetPayoutTx persists the worker transaction id as soon as the worker leg
// succeeds, so a retried payout after a toll-leg failure never re-pays the
// worker. Set-once: an existing id is never overwritten.
func (r *EscrowRepo) SetPayoutTx(ctx context.Context, id uuid.UUID, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrows SET payout_tx = $1
		WHERE id = $2 AND payout_tx IS NULL
	`, txHash, id)
	return err
}

// MarkPaid moves VERIFIED -> PAID. Transaction ids are nil for manual-mode
// settlement: those columns record automatic settlement only.
func (r *EscrowRepo) MarkPaid(ctx context.Context, id uuid.UUID, payoutTx, tollTx *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows
		SET status = $1, paid_at = now(),
		    payout_tx = COALESCE($2, payout_tx),
		    toll_tx = COALESCE($3, toll_tx)
		WHERE id = $4 AND status = $5
	`, models.EscrowStatusPaid, payoutTx, tollTx, id, models.EscrowStatusVerified)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRefunded moves REJECTED -> REFUNDED.
func (r *EscrowRepo) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows
		SET status = $1, refunded_at = now()
		WHERE id = $2 AND status = $3
	`, models.EscrowStatusRefunded, id, models.EscrowStatusRejected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	var amountLocked, tollFee, workerPayout string
	err := row.Scan(&e.ID, &e.BuyerAgentID, &e.WorkerAgentID, &e.JobDescription, &amountLocked, &e.Currency,
		&e.BuyerWallet, &e.WorkerWallet, &tollFee, &workerPayout,
		&e.WorkSubmitted, &e.JudgeVerdict, &e.JudgeReasoning, &e.Status,
		&e.PayoutTx, &e.TollTx,
		&e.CreatedAt, &e.SubmittedAt, &e.VerifiedAt, &e.PaidAt, &e.RefundedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	if e.AmountLocked, err = decimal.NewFromString(amountLocked); err != nil {
		return nil, fmt.Errorf("invalid amount_locked %q: %w", amountLocked, err)
	}
	if e.TollFee, err = decimal.NewFromString(tollFee); err != nil {
		return nil, fmt.Errorf("invalid toll_fee %q: %w", tollFee, err)
	}
	if e.WorkerPayout, err = decimal.NewFromString(workerPayout); err != nil {
		return nil, fmt.Errorf("invalid worker_payout %q: %w", workerPayout, err)
	}
	return &e, nil
}
