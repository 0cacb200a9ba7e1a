package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/config"
	"github.com/handshake-escrow/backend/internal/events"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/handshake-escrow/backend/internal/repositories"
	"github.com/handshake-escrow/backend/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testWorkerWallet   = "0x1111111111111111111111111111111111111111"
	testBuyerWallet    = "0x3333333333333333333333333333333333333333"
	testJobDescription = "translate the attached document to French"
)

// fakeStore reproduces the repository's conditional-write semantics in memory.
type fakeStore struct {
	mu          sync.Mutex
	escrows     map[uuid.UUID]*models.Escrow
	payoutTxErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{escrows: make(map[uuid.UUID]*models.Escrow)}
}

func (f *fakeStore) Create(ctx context.Context, e *models.Escrow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	cp := *e
	f.escrows[e.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) List(ctx context.Context, filter repositories.EscrowFilter) ([]models.Escrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Escrow
	for _, e := range f.escrows {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.BuyerAgentID != nil && e.BuyerAgentID != *filter.BuyerAgentID {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeStore) SetSubmitted(ctx context.Context, id uuid.UUID, work string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok || e.Status != models.EscrowStatusLocked || e.WorkSubmitted != nil {
		return false, nil
	}
	now := time.Now()
	e.WorkSubmitted = &work
	e.SubmittedAt = &now
	e.Status = models.EscrowStatusPendingVerification
	return true, nil
}

func (f *fakeStore) SetVerdict(ctx context.Context, id uuid.UUID, verdict string, reasoning *string, newStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok || e.Status != models.EscrowStatusPendingVerification || e.JudgeVerdict != nil {
		return false, nil
	}
	now := time.Now()
	e.JudgeVerdict = &verdict
	e.JudgeReasoning = reasoning
	e.VerifiedAt = &now
	e.Status = newStatus
	return true, nil
}

func (f *fakeStore) SetPayoutTx(ctx context.Context, id uuid.UUID, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payoutTxErr != nil {
		return f.payoutTxErr
	}
	e, ok := f.escrows[id]
	if ok && e.PayoutTx == nil {
		e.PayoutTx = &txHash
	}
	return nil
}

func (f *fakeStore) MarkPaid(ctx context.Context, id uuid.UUID, payoutTx, tollTx *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok || e.Status != models.EscrowStatusVerified {
		return false, nil
	}
	now := time.Now()
	if payoutTx != nil {
		e.PayoutTx = payoutTx
	}
	if tollTx != nil {
		e.TollTx = tollTx
	}
	e.PaidAt = &now
	e.Status = models.EscrowStatusPaid
	return true, nil
}

func (f *fakeStore) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.escrows[id]
	if !ok || e.Status != models.EscrowStatusRejected {
		return false, nil
	}
	now := time.Now()
	e.RefundedAt = &now
	e.Status = models.EscrowStatusRefunded
	return true, nil
}

type fakeJudge struct {
	verdict   string
	reasoning string
	err       error
	calls     atomic.Int64
}

func (f *fakeJudge) JudgeWithReason(ctx context.Context, jobDescription, submittedWork string) (string, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", "", f.err
	}
	return f.verdict, f.reasoning, nil
}

type fakeSettler struct {
	manual bool
	err    error
	// errWorkerTx simulates a partial failure: worker leg succeeded before err.
	errWorkerTx string
	calls       atomic.Int64
	sawPayoutTx atomic.Bool
}

func (f *fakeSettler) Automatic() bool { return !f.manual }

func (f *fakeSettler) Settle(ctx context.Context, esc *models.Escrow) (*settlement.Result, error) {
	f.calls.Add(1)
	if esc.PayoutTx != nil && *esc.PayoutTx != "" {
		f.sawPayoutTx.Store(true)
	}
	if f.err != nil {
		return &settlement.Result{WorkerTx: f.errWorkerTx}, f.err
	}
	if f.manual {
		return &settlement.Result{
			WorkerTx: "manual:" + uuid.New().String(),
			TollTx:   "manual:" + uuid.New().String(),
			Manual:   true,
			Instructions: &settlement.ManualInstructions{
				Currency:     esc.Currency,
				WorkerWallet: *esc.WorkerWallet,
				WorkerAmount: esc.WorkerPayout,
				TollAmount:   esc.TollFee,
			},
		}, nil
	}
	workerTx := "0xworker"
	if esc.PayoutTx != nil && *esc.PayoutTx != "" {
		workerTx = *esc.PayoutTx
	}
	return &settlement.Result{WorkerTx: workerTx, TollTx: "0xtoll"}, nil
}

// fakeLocker is a real in-process try-lock, so concurrency tests exercise the
// same mutual exclusion the redis lock provides.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	release := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}
	return release, true, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Log(ctx context.Context, entry models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		PlatformFeePercent: decimal.RequireFromString("2.5"),
		JudgeTimeout:       5 * time.Second,
		ChainTimeout:       5 * time.Second,
		EscrowLockTTL:      time.Minute,
	}
}

type testEnv struct {
	svc     *EscrowService
	store   *fakeStore
	judge   *fakeJudge
	settler *fakeSettler
	audit   *fakeAudit
	pub     *fakePublisher
}

func newTestEnv(judge *fakeJudge, settler *fakeSettler) *testEnv {
	store := newFakeStore()
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	svc := NewEscrowService(store, judge, settler, newFakeLocker(), audit, pub, testConfig(), zap.NewNop())
	return &testEnv{svc: svc, store: store, judge: judge, settler: settler, audit: audit, pub: pub}
}

func strptr(s string) *string { return &s }

func createTestEscrow(t *testing.T, env *testEnv) *models.Escrow {
	t.Helper()
	esc, err := env.svc.Create(context.Background(), "buyer-1", CreateEscrowInput{
		BuyerAgentID:   "buyer-1",
		JobDescription: testJobDescription,
		AmountLocked:   decimal.RequireFromString("100"),
		Currency:       models.CurrencyUSDC,
		BuyerWallet:    strptr(testBuyerWallet),
		WorkerWallet:   strptr(testWorkerWallet),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return esc
}

func advanceToVerified(t *testing.T, env *testEnv) *models.Escrow {
	t.Helper()
	esc := createTestEscrow(t, env)
	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "le document traduit"); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	current, err := env.svc.Get(context.Background(), esc.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	return current
}

func TestCreateLocksFundsWithBreakdown(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{})
	esc := createTestEscrow(t, env)

	if esc.Status != models.EscrowStatusLocked {
		t.Errorf("status = %q, want LOCKED", esc.Status)
	}
	if !esc.TollFee.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("toll fee = %s, want 2.5", esc.TollFee)
	}
	if !esc.WorkerPayout.Equal(decimal.RequireFromString("97.5")) {
		t.Errorf("worker payout = %s, want 97.5", esc.WorkerPayout)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(&fakeJudge{}, &fakeSettler{})
	tests := []struct {
		name string
		in   CreateEscrowInput
	}{
		{"missing buyer", CreateEscrowInput{JobDescription: "x", AmountLocked: decimal.NewFromInt(1), Currency: models.CurrencyUSDC}},
		{"missing description", CreateEscrowInput{BuyerAgentID: "b", AmountLocked: decimal.NewFromInt(1), Currency: models.CurrencyUSDC}},
		{"zero amount", CreateEscrowInput{BuyerAgentID: "b", JobDescription: "x", Currency: models.CurrencyUSDC}},
		{"bad currency", CreateEscrowInput{BuyerAgentID: "b", JobDescription: "x", AmountLocked: decimal.NewFromInt(1), Currency: "DOGE"}},
		{"bad wallet", CreateEscrowInput{BuyerAgentID: "b", JobDescription: "x", AmountLocked: decimal.NewFromInt(1), Currency: models.CurrencyUSDC, WorkerWallet: strptr("nope")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), "b", tt.in)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestSubmitMovesToPendingVerification(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{})
	esc := createTestEscrow(t, env)

	updated, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "done")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if updated.Status != models.EscrowStatusPendingVerification {
		t.Errorf("status = %q, want PENDING_VERIFICATION", updated.Status)
	}
	if updated.WorkSubmitted == nil || *updated.WorkSubmitted != "done" {
		t.Error("work_submitted not stored")
	}
}

func TestSubmitTwiceIsStateConflict(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{})
	esc := createTestEscrow(t, env)

	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "first"); err != nil {
		t.Fatalf("first Submit returned error: %v", err)
	}
	_, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "second")
	var sc *apperr.StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if sc.Current != models.EscrowStatusPendingVerification {
		t.Errorf("conflict current = %q, want PENDING_VERIFICATION", sc.Current)
	}
}

func TestVerifyValidVerdict(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid, reasoning: "matches the job"}, &fakeSettler{})
	esc := createTestEscrow(t, env)
	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "done"); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if res.Verdict != models.VerdictValid || res.Status != models.EscrowStatusVerified {
		t.Errorf("got verdict %q status %q, want VALID/VERIFIED", res.Verdict, res.Status)
	}
}

func TestVerifyInvalidVerdictRejects(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictInvalid}, &fakeSettler{})
	esc := createTestEscrow(t, env)
	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "unrelated work"); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if res.Status != models.EscrowStatusRejected {
		t.Errorf("status = %q, want REJECTED", res.Status)
	}
}

func TestVerifyJudgeFailureLeavesStatusUnchanged(t *testing.T) {
	env := newTestEnv(&fakeJudge{err: apperr.JudgeUnavailable(errors.New("502"))}, &fakeSettler{})
	esc := createTestEscrow(t, env)
	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "done"); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID)
	var ju *apperr.JudgeUnavailableError
	if !errors.As(err, &ju) {
		t.Fatalf("expected JudgeUnavailableError, got %v", err)
	}

	current, _ := env.svc.Get(context.Background(), esc.ID)
	if current.Status != models.EscrowStatusPendingVerification {
		t.Errorf("status = %q, want PENDING_VERIFICATION after judge failure", current.Status)
	}

	// Retry succeeds once the judge is back.
	env.judge.err = nil
	env.judge.verdict = models.VerdictValid
	if _, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID); err != nil {
		t.Fatalf("retry Verify returned error: %v", err)
	}
}

func TestVerifyTwiceIsStateConflictWithoutSecondJudgeCall(t *testing.T) {
	judge := &fakeJudge{verdict: models.VerdictValid}
	env := newTestEnv(judge, &fakeSettler{})
	esc := createTestEscrow(t, env)
	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID)
	var sc *apperr.StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if got := judge.calls.Load(); got != 1 {
		t.Errorf("judge called %d times, want 1", got)
	}
}

func TestPayoutOnLockedIsStateConflict(t *testing.T) {
	settler := &fakeSettler{}
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, settler)
	esc := createTestEscrow(t, env)

	_, err := env.svc.Payout(context.Background(), "worker-1", esc.ID)
	var sc *apperr.StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if sc.Current != models.EscrowStatusLocked || sc.Required != models.EscrowStatusVerified {
		t.Errorf("conflict = %s/%s, want LOCKED/VERIFIED", sc.Current, sc.Required)
	}
	if settler.calls.Load() != 0 {
		t.Error("settler must not be called on a state conflict")
	}
}

func TestPayoutAutomatic(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{})
	esc := advanceToVerified(t, env)

	res, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID)
	if err != nil {
		t.Fatalf("Payout returned error: %v", err)
	}
	if res.Manual {
		t.Error("unexpected manual result")
	}
	if !res.WorkerPaid.Equal(decimal.RequireFromString("97.5")) {
		t.Errorf("worker paid = %s, want 97.5", res.WorkerPaid)
	}

	current, _ := env.svc.Get(context.Background(), esc.ID)
	if current.Status != models.EscrowStatusPaid {
		t.Errorf("status = %q, want PAID", current.Status)
	}
	if current.PayoutTx == nil || *current.PayoutTx != "0xworker" {
		t.Error("payout tx not persisted")
	}
	if current.TollTx == nil || *current.TollTx != "0xtoll" {
		t.Error("toll tx not persisted")
	}
}

func TestPayoutManualLeavesTxColumnsEmpty(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{manual: true})
	esc := advanceToVerified(t, env)

	res, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID)
	if err != nil {
		t.Fatalf("Payout returned error: %v", err)
	}
	if !res.Manual {
		t.Error("expected manual result")
	}
	if res.Instructions == nil {
		t.Fatal("expected manual instructions")
	}

	current, _ := env.svc.Get(context.Background(), esc.ID)
	if current.Status != models.EscrowStatusPaid {
		t.Errorf("status = %q, want PAID", current.Status)
	}
	if current.PayoutTx != nil || current.TollTx != nil {
		t.Error("manual-mode identifiers must not be persisted in tx columns")
	}
}

func TestPayoutPartialFailurePersistsWorkerTx(t *testing.T) {
	settler := &fakeSettler{
		err:         &apperr.SettlementFailedError{WorkerTx: "0xworker", Err: errors.New("toll transfer failed")},
		errWorkerTx: "0xworker",
	}
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, settler)
	esc := advanceToVerified(t, env)

	_, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID)
	var sf *apperr.SettlementFailedError
	if !errors.As(err, &sf) {
		t.Fatalf("expected SettlementFailedError, got %v", err)
	}

	current, _ := env.svc.Get(context.Background(), esc.ID)
	if current.Status != models.EscrowStatusVerified {
		t.Errorf("status = %q, want VERIFIED after partial failure", current.Status)
	}
	if current.PayoutTx == nil || *current.PayoutTx != "0xworker" {
		t.Error("worker tx must be persisted on partial failure")
	}

	// Retry: the settler now observes the persisted worker tx and must not
	// re-pay that leg.
	settler.err = nil
	if _, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID); err != nil {
		t.Fatalf("retry Payout returned error: %v", err)
	}
	if !settler.sawPayoutTx.Load() {
		t.Error("retry should see the persisted worker tx on the escrow")
	}

	final, _ := env.svc.Get(context.Background(), esc.ID)
	if final.Status != models.EscrowStatusPaid {
		t.Errorf("status = %q, want PAID after retry", final.Status)
	}
	if *final.PayoutTx != "0xworker" {
		t.Errorf("payout tx = %q, must keep the original id", *final.PayoutTx)
	}
}

func TestPayoutPersistFailureFlagsReconciliation(t *testing.T) {
	settler := &fakeSettler{
		err:         &apperr.SettlementFailedError{WorkerTx: "0xworker", Err: errors.New("toll transfer failed")},
		errWorkerTx: "0xworker",
	}
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, settler)
	esc := advanceToVerified(t, env)
	env.store.payoutTxErr = errors.New("connection reset")

	_, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID)
	var sf *apperr.SettlementFailedError
	if !errors.As(err, &sf) {
		t.Fatalf("expected SettlementFailedError, got %v", err)
	}
	// The worker leg succeeded but its tx id never reached the store; the
	// error must say so, because a blind retry would pay that leg again.
	if !strings.Contains(err.Error(), "NOT persisted") {
		t.Errorf("error should flag the unpersisted worker tx, got %q", err.Error())
	}

	current, _ := env.svc.Get(context.Background(), esc.ID)
	if current.PayoutTx != nil {
		t.Errorf("payout tx = %q, want nil after persist failure", *current.PayoutTx)
	}
}

func TestPayoutPublishesSettlementEvent(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{})
	esc := advanceToVerified(t, env)

	if _, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID); err != nil {
		t.Fatalf("Payout returned error: %v", err)
	}

	env.pub.mu.Lock()
	defer env.pub.mu.Unlock()
	var found bool
	for _, ev := range env.pub.events {
		if ev.Type == events.EventSettlementExecuted {
			found = true
			if ev.Payload["payout_tx"] != "0xworker" {
				t.Errorf("event payout_tx = %v, want 0xworker", ev.Payload["payout_tx"])
			}
		}
	}
	if !found {
		t.Error("no settlement_executed event published")
	}
}

func TestConcurrentPayoutSettlesExactlyOnce(t *testing.T) {
	settler := &fakeSettler{}
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, settler)
	esc := advanceToVerified(t, env)

	const attempts = 8
	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Payout(context.Background(), "buyer-1", esc.ID); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 1 {
		t.Errorf("%d payouts succeeded, want exactly 1", got)
	}
	if got := settler.calls.Load(); got != 1 {
		t.Errorf("settler called %d times, want exactly 1", got)
	}
	current, _ := env.svc.Get(context.Background(), esc.ID)
	if current.Status != models.EscrowStatusPaid {
		t.Errorf("status = %q, want PAID", current.Status)
	}
}

func TestRefundOnVerifiedIsStateConflict(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictValid}, &fakeSettler{})
	esc := advanceToVerified(t, env)

	_, err := env.svc.Refund(context.Background(), "buyer-1", esc.ID)
	var sc *apperr.StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if sc.Current != models.EscrowStatusVerified || sc.Required != models.EscrowStatusRejected {
		t.Errorf("conflict = %s/%s, want VERIFIED/REJECTED", sc.Current, sc.Required)
	}
}

func TestRefundAfterRejection(t *testing.T) {
	env := newTestEnv(&fakeJudge{verdict: models.VerdictInvalid}, &fakeSettler{})
	esc := createTestEscrow(t, env)
	if _, err := env.svc.Submit(context.Background(), "worker-1", esc.ID, "wrong work"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Verify(context.Background(), "buyer-1", esc.ID); err != nil {
		t.Fatal(err)
	}

	refunded, err := env.svc.Refund(context.Background(), "buyer-1", esc.ID)
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if refunded.Status != models.EscrowStatusRefunded {
		t.Errorf("status = %q, want REFUNDED", refunded.Status)
	}
	if refunded.RefundedAt == nil {
		t.Error("refunded_at not set")
	}
}

func TestGetUnknownEscrowIsNotFound(t *testing.T) {
	env := newTestEnv(&fakeJudge{}, &fakeSettler{})
	_, err := env.svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
