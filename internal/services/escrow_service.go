package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/chain"
	"github.com/handshake-escrow/backend/internal/config"
	"github.com/handshake-escrow/backend/internal/events"
	"github.com/handshake-escrow/backend/internal/fees"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/handshake-escrow/backend/internal/repositories"
	"github.com/handshake-escrow/backend/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowStore is the persistence port of the state machine. Every status
// write is conditional on the expected prior status; false means the record
// was not in that status and the caller reports a state conflict.
type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error)
	SetSubmitted(ctx context.Context, id uuid.UUID, work string) (bool, error)
	SetVerdict(ctx context.Context, id uuid.UUID, verdict string, reasoning *string, newStatus string) (bool, error)
	SetPayoutTx(ctx context.Context, id uuid.UUID, txHash string) error
	MarkPaid(ctx context.Context, id uuid.UUID, payoutTx, tollTx *string) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)
}

// Judge decides whether submitted work satisfies the job description. The
// reasoning return is advisory audit text and never affects state.
type Judge interface {
	JudgeWithReason(ctx context.Context, jobDescription, submittedWork string) (verdict string, reasoning string, err error)
}

// Settler executes the two-legged payout of a verified escrow.
type Settler interface {
	Settle(ctx context.Context, esc *models.Escrow) (*settlement.Result, error)
	Automatic() bool
}

// Locker serializes externally-effectful calls per escrow.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// AuditLogger records transition history. Best effort: audit failures are
// logged, never surfaced to the caller.
type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type EscrowService struct {
	store     EscrowStore
	judge     Judge
	settler   Settler
	locker    Locker
	audit     AuditLogger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	store EscrowStore,
	judge Judge,
	settler Settler,
	locker Locker,
	audit AuditLogger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		store:     store,
		judge:     judge,
		settler:   settler,
		locker:    locker,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

type CreateEscrowInput struct {
	BuyerAgentID   string
	WorkerAgentID  *string
	JobDescription string
	AmountLocked   decimal.Decimal
	Currency       string
	BuyerWallet    *string
	WorkerWallet   *string
}

// Create locks funds: validates the request, computes the payout breakdown
// and persists a new escrow in LOCKED.
func (s *EscrowService) Create(ctx context.Context, actor string, in CreateEscrowInput) (*models.Escrow, error) {
	if in.BuyerAgentID == "" {
		return nil, apperr.Validationf("buyer_agent_id is required")
	}
	if in.JobDescription == "" {
		return nil, apperr.Validationf("job_description is required")
	}
	if err := validateWallet(in.BuyerWallet, "buyer_wallet"); err != nil {
		return nil, err
	}
	if err := validateWallet(in.WorkerWallet, "worker_wallet"); err != nil {
		return nil, err
	}

	toll, payout, err := fees.Breakdown(in.AmountLocked, s.cfg.PlatformFeePercent, in.Currency)
	if err != nil {
		return nil, err
	}

	esc := &models.Escrow{
		BuyerAgentID:   in.BuyerAgentID,
		WorkerAgentID:  in.WorkerAgentID,
		JobDescription: in.JobDescription,
		AmountLocked:   in.AmountLocked,
		Currency:       in.Currency,
		BuyerWallet:    in.BuyerWallet,
		WorkerWallet:   in.WorkerWallet,
		TollFee:        toll,
		WorkerPayout:   payout,
		Status:         models.EscrowStatusLocked,
	}

	if err := s.store.Create(ctx, esc); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, esc, actor, "", models.EscrowStatusLocked, map[string]any{
		"amount_locked": esc.AmountLocked.String(),
		"currency":      esc.Currency,
		"toll_fee":      esc.TollFee.String(),
	})
	s.meterUsage(ctx, actor, "create")

	return esc, nil
}

// Submit stores the delivered work and moves LOCKED -> PENDING_VERIFICATION.
func (s *EscrowService) Submit(ctx context.Context, actor string, id uuid.UUID, work string) (*models.Escrow, error) {
	if work == "" {
		return nil, apperr.Validationf("work_description is required")
	}

	esc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusLocked {
		return nil, apperr.StateConflict(esc.Status, models.EscrowStatusLocked)
	}

	ok, err := s.store.SetSubmitted(ctx, id, work)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictAfterWrite(ctx, id, models.EscrowStatusLocked)
	}

	s.recordTransition(ctx, esc, actor, models.EscrowStatusLocked, models.EscrowStatusPendingVerification, nil)
	s.meterUsage(ctx, actor, "submit")

	return s.store.GetByID(ctx, id)
}

type VerifyResult struct {
	Verdict   string
	Reasoning string
	Status    string
}

// Verify asks the judge for a verdict and moves PENDING_VERIFICATION to
// VERIFIED or REJECTED. A failed judging call leaves the status untouched so
// the caller can retry; a concurrent verify observes a state conflict, not a
// second judging call.
func (s *EscrowService) Verify(ctx context.Context, actor string, id uuid.UUID) (*VerifyResult, error) {
	release, ok, err := s.locker.TryLock(ctx, lockKey(id), s.cfg.EscrowLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.StateConflict("busy", models.EscrowStatusPendingVerification)
	}
	defer release()

	esc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusPendingVerification {
		return nil, apperr.StateConflict(esc.Status, models.EscrowStatusPendingVerification)
	}
	if esc.WorkSubmitted == nil || *esc.WorkSubmitted == "" {
		return nil, apperr.Validationf("no work submitted for verification")
	}

	judgeCtx, cancel := context.WithTimeout(ctx, s.cfg.JudgeTimeout)
	defer cancel()

	verdict, reasoning, err := s.judge.JudgeWithReason(judgeCtx, esc.JobDescription, *esc.WorkSubmitted)
	if err != nil {
		// Could not ask is not the same as asked and failed: the status is
		// unchanged and verify may be retried.
		return nil, err
	}

	newStatus := models.EscrowStatusRejected
	if verdict == models.VerdictValid {
		newStatus = models.EscrowStatusVerified
	}

	var reasonPtr *string
	if reasoning != "" {
		reasonPtr = &reasoning
	}

	ok, err = s.store.SetVerdict(ctx, id, verdict, reasonPtr, newStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictAfterWrite(ctx, id, models.EscrowStatusPendingVerification)
	}

	s.recordTransition(ctx, esc, actor, models.EscrowStatusPendingVerification, newStatus, map[string]any{
		"verdict":   verdict,
		"reasoning": reasoning,
	})
	s.meterUsage(ctx, actor, "verify")

	return &VerifyResult{Verdict: verdict, Reasoning: reasoning, Status: newStatus}, nil
}

type PayoutResult struct {
	WorkerPaid   decimal.Decimal
	TollFee      decimal.Decimal
	PayoutTx     string
	TollTx       string
	Manual       bool
	Instructions *settlement.ManualInstructions
}

// Payout settles a VERIFIED escrow and moves it to PAID. On a partial
// settlement the worker transaction id is persisted before the error
// surfaces, so a retry only re-runs the toll leg.
func (s *EscrowService) Payout(ctx context.Context, actor string, id uuid.UUID) (*PayoutResult, error) {
	release, ok, err := s.locker.TryLock(ctx, lockKey(id), s.cfg.EscrowLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.StateConflict("busy", models.EscrowStatusVerified)
	}
	defer release()

	esc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusVerified {
		return nil, apperr.StateConflict(esc.Status, models.EscrowStatusVerified)
	}
	if esc.WorkerWallet == nil || *esc.WorkerWallet == "" {
		return nil, apperr.Validationf("worker_wallet must be set before payout")
	}

	settleCtx, cancel := context.WithTimeout(ctx, s.cfg.ChainTimeout)
	defer cancel()

	res, settleErr := s.settler.Settle(settleCtx, esc)

	// Persist the worker leg before anything else can fail. Manual-mode
	// identifiers are synthetic and stay out of the transaction columns.
	var persistErr error
	if res != nil && !res.Manual && res.WorkerTx != "" {
		if persistErr = s.store.SetPayoutTx(ctx, id, res.WorkerTx); persistErr != nil {
			s.log.Error("failed to persist worker tx", zap.String("escrow_id", id.String()), zap.Error(persistErr))
		}
	}

	if settleErr != nil {
		if persistErr != nil {
			// A retry with no persisted worker tx would re-run the worker leg;
			// the caller must reconcile before retrying.
			settleErr = fmt.Errorf("%w; worker tx %s was NOT persisted, reconcile before retry: %v",
				settleErr, res.WorkerTx, persistErr)
		}
		s.auditSettlement(ctx, esc, actor, res, settleErr)
		return nil, settleErr
	}

	var payoutTx, tollTx *string
	if !res.Manual {
		payoutTx, tollTx = &res.WorkerTx, &res.TollTx
	}

	ok, err = s.store.MarkPaid(ctx, id, payoutTx, tollTx)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The per-escrow lock makes this unreachable in practice; surface it
		// loudly rather than pretending the transfer did not happen.
		s.log.Error("escrow left VERIFIED during settlement",
			zap.String("escrow_id", id.String()),
			zap.String("payout_tx", res.WorkerTx),
		)
		return nil, s.conflictAfterWrite(ctx, id, models.EscrowStatusVerified)
	}

	s.auditSettlement(ctx, esc, actor, res, nil)
	s.recordTransition(ctx, esc, actor, models.EscrowStatusVerified, models.EscrowStatusPaid, map[string]any{
		"payout_tx": res.WorkerTx,
		"toll_tx":   res.TollTx,
		"manual":    res.Manual,
	})
	s.meterUsage(ctx, actor, "payout")

	return &PayoutResult{
		WorkerPaid:   esc.WorkerPayout,
		TollFee:      esc.TollFee,
		PayoutTx:     res.WorkerTx,
		TollTx:       res.TollTx,
		Manual:       res.Manual,
		Instructions: res.Instructions,
	}, nil
}

// Refund moves REJECTED -> REFUNDED. No transfer happens here: releasing the
// locked funds back to the buyer is the custody collaborator's concern.
func (s *EscrowService) Refund(ctx context.Context, actor string, id uuid.UUID) (*models.Escrow, error) {
	esc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusRejected {
		return nil, apperr.StateConflict(esc.Status, models.EscrowStatusRejected)
	}

	ok, err := s.store.MarkRefunded(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictAfterWrite(ctx, id, models.EscrowStatusRejected)
	}

	s.recordTransition(ctx, esc, actor, models.EscrowStatusRejected, models.EscrowStatusRefunded, nil)
	s.meterUsage(ctx, actor, "refund")

	return s.store.GetByID(ctx, id)
}

func (s *EscrowService) Get(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.store.GetByID(ctx, id)
}

func (s *EscrowService) List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error) {
	return s.store.List(ctx, f)
}

// --- helpers ---

func lockKey(id uuid.UUID) string {
	return "lock:escrow:" + id.String()
}

func validateWallet(addr *string, field string) error {
	if addr == nil || *addr == "" {
		return nil
	}
	if !chain.IsValidAddress(*addr) {
		return apperr.Validationf("malformed %s address %q", field, *addr)
	}
	return nil
}

// conflictAfterWrite re-reads the record after a conditional write affected
// zero rows and reports the status another caller won with.
func (s *EscrowService) conflictAfterWrite(ctx context.Context, id uuid.UUID, required string) error {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return apperr.StateConflict(current.Status, required)
}

func (s *EscrowService) recordTransition(ctx context.Context, esc *models.Escrow, actor, from, to string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["old_status"] = from
	meta["new_status"] = to

	if err := s.audit.Log(ctx, models.AuditLog{
		ActorAgent: &actor,
		ActorType:  "agent",
		Action:     fmt.Sprintf("escrow_status_%s_to_%s", normalizeStatus(from), normalizeStatus(to)),
		EntityType: "escrow",
		EntityID:   &esc.ID,
		Meta:       meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id":  esc.ID.String(),
			"old_status": from,
			"new_status": to,
		},
	}); err != nil {
		s.log.Warn("event publish failed", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
	}
}

func (s *EscrowService) auditSettlement(ctx context.Context, esc *models.Escrow, actor string, res *settlement.Result, settleErr error) {
	meta := map[string]any{}
	if res != nil {
		meta["payout_tx"] = res.WorkerTx
		meta["toll_tx"] = res.TollTx
		meta["manual"] = res.Manual
	}
	action := "settlement_executed"
	if settleErr != nil {
		action = "settlement_failed"
		meta["error"] = settleErr.Error()
	}
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorAgent: &actor,
		ActorType:  "agent",
		Action:     action,
		EntityType: "escrow",
		EntityID:   &esc.ID,
		Meta:       meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
	}

	if settleErr == nil {
		if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventSettlementExecuted,
			Payload: map[string]any{
				"escrow_id": esc.ID.String(),
				"payout_tx": res.WorkerTx,
				"toll_tx":   res.TollTx,
				"manual":    res.Manual,
			},
		}); err != nil {
			s.log.Warn("event publish failed", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
		}
	}
}

// meterUsage publishes the usage increment onto the event stream; the worker
// process persists it. The effect is queued explicitly, not fired and
// forgotten inline.
func (s *EscrowService) meterUsage(ctx context.Context, actor, operation string) {
	if err := s.publisher.Publish(ctx, events.StreamUsage, events.Event{
		Type: events.EventUsageMetered,
		Payload: map[string]any{
			"agent_id":  actor,
			"operation": operation,
		},
	}); err != nil {
		s.log.Warn("usage event publish failed", zap.String("agent", actor), zap.Error(err))
	}
}

func normalizeStatus(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
