package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/fulfillment"
	"github.com/giftflow/go-autogift-backend/internal/notify"
	"github.com/giftflow/go-autogift-backend/internal/repo"
	"github.com/giftflow/go-autogift-backend/internal/selection"
)

// ---------------------------------------------------------------------------
// Shared test fixtures

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.AutoGiftRule{}, &domain.Execution{}, &domain.ExecutionProduct{},
		&domain.PaymentMethod{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeSelector struct {
	mu         sync.Mutex
	calls      int
	candidates []selection.Candidate
	err        error
}

func (f *fakeSelector) Select(_ context.Context, _ selection.Request) ([]selection.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakePlacer struct {
	mu    sync.Mutex
	calls int
	reqs  []fulfillment.PlacementRequest
	// errs is consumed one per call; past the end, calls succeed.
	errs    []error
	orderID string
}

func (f *fakePlacer) Place(_ context.Context, req fulfillment.PlacementRequest) (*fulfillment.OrderReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	id := f.orderID
	if id == "" {
		id = fmt.Sprintf("ord-%d", idx+1)
	}
	return &fulfillment.OrderReference{OrderID: id}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) Close() error { return nil }

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recordingEmitter) has(eventType string) bool {
	for _, ty := range r.types() {
		if ty == eventType {
			return true
		}
	}
	return false
}

type stack struct {
	db       *gorm.DB
	orch     *Orchestrator
	selector *fakeSelector
	placer   *fakePlacer
	emitter  *recordingEmitter
	health   *PaymentHealthService
	now      time.Time
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := newSvcDB(t)
	st := &stack{
		db:       db,
		selector: &fakeSelector{},
		placer:   &fakePlacer{},
		emitter:  &recordingEmitter{},
		now:      time.Date(2026, 6, 12, 10, 0, 0, 0, time.UTC),
	}
	st.health = &PaymentHealthService{DB: db, Now: func() time.Time { return st.now }}
	st.orch = &Orchestrator{
		DB:       db,
		Selector: st.selector,
		Placer:   st.placer,
		Health:   st.health,
		Emitter:  st.emitter,
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return st.now },
	}
	return st
}

// seedMethod stores a card expiring well in the future unless exp overrides.
func seedMethod(t *testing.T, db *gorm.DB, userID string, expMonth, expYear int) *domain.PaymentMethod {
	t.Helper()
	m, err := repo.CreatePaymentMethod(context.Background(), db, &domain.PaymentMethod{
		UserID: userID, Label: "personal", Brand: "visa", Last4: "4242",
		ExpMonth: expMonth, ExpYear: expYear,
	})
	if err != nil {
		t.Fatalf("seed payment method: %v", err)
	}
	return m
}

func seedRule(t *testing.T, db *gorm.DB, methodID string, autoApprove bool, budgetCents int64) *domain.AutoGiftRule {
	t.Helper()
	r, err := repo.CreateRule(context.Background(), db, &domain.AutoGiftRule{
		UserID:            "u1",
		RecipientID:       "rec-1",
		DateType:          domain.DateTypeBirthday,
		OccasionMonth:     6,
		OccasionDay:       15,
		BudgetLimitCents:  budgetCents,
		Currency:          "USD",
		AutoApprove:       autoApprove,
		PaymentMethodID:   methodID,
		ShippingAddressID: "addr-1",
		IsActive:          true,
		Criteria:          domain.SelectionCriteria{Source: domain.SourceAI},
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return r
}

func seedPendingExecution(t *testing.T, db *gorm.DB, rule *domain.AutoGiftRule) *domain.Execution {
	t.Helper()
	e, err := repo.CreateExecution(context.Background(), db, &domain.Execution{
		RuleID:            rule.ID,
		UserID:            rule.UserID,
		OccasionKey:       "birthday:2026-06-15",
		Status:            domain.StatusPending,
		Currency:          rule.Currency,
		ShippingAddressID: rule.ShippingAddressID,
	})
	if err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	return e
}

func mustStatus(t *testing.T, db *gorm.DB, id string, want domain.ExecutionStatus) *domain.Execution {
	t.Helper()
	e, err := repo.GetExecution(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if e.Status != want {
		t.Fatalf("status = %s, want %s (detail=%q err=%q)", e.Status, want, e.StatusDetail, e.ErrorMessage)
	}
	return e
}

// ---------------------------------------------------------------------------
// Advance

func TestAdvance_HappyPathAutoApprove(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{
		{ProductID: "p1", Name: "Chess Set", PriceCents: 3000, Currency: "USD"},
	}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got := mustStatus(t, st.db, exec.ID, domain.StatusOrderPlaced)
	if got.OrderID == "" {
		t.Fatalf("order id not recorded")
	}
	if got.TotalAmountCents != 3000 {
		t.Fatalf("total = %d, want 3000", got.TotalAmountCents)
	}
	if st.placer.calls != 1 {
		t.Fatalf("placer calls = %d, want 1", st.placer.calls)
	}
	if !st.emitter.has(notify.EventGiftApproved) || !st.emitter.has(notify.EventOrderPlaced) {
		t.Fatalf("missing lifecycle events, got %v", st.emitter.types())
	}

	// Fulfillment confirmation closes the loop.
	done, err := st.orch.Confirm(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status after confirm = %s", done.Status)
	}
	// Confirming again is a no-op.
	if _, err := st.orch.Confirm(context.Background(), exec.ID); err != nil {
		t.Fatalf("duplicate Confirm: %v", err)
	}
}

func TestAdvance_NoCandidatesIsTerminalFailure(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.err = selection.ErrNoViableCandidates

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusFailed)
	if got.ErrorMessage == "" {
		t.Fatalf("expected error_message on terminal failure")
	}
	if st.placer.calls != 0 {
		t.Fatalf("placer must not be called")
	}
	if !st.emitter.has(notify.EventExecutionFailed) {
		t.Fatalf("missing failure event")
	}
}

func TestAdvance_SelectorOutageReleasesClaim(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.err = errors.New("connection refused")

	if err := st.orch.Advance(context.Background(), exec.ID); err == nil {
		t.Fatalf("expected error from selector outage")
	}
	mustStatus(t, st.db, exec.ID, domain.StatusPending)

	// The next pass succeeds.
	st.selector.err = nil
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}
	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusOrderPlaced)
}

func TestAdvance_ExpiredCardForcesManualApproval(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 1, st.now.Year()-1) // long expired
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{
		{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"},
	}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)
	if st.placer.calls != 0 {
		t.Fatalf("auto path must not run on unhealthy payment")
	}
	if !st.emitter.has(notify.EventApprovalNeeded) {
		t.Fatalf("missing approval_needed event")
	}
}

func TestAdvance_ManualRuleParksForApproval(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, false, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{
		{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"},
	}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)
	if len(got.Products) != 1 || got.Products[0].PriceCents != 1000 {
		t.Fatalf("candidate snapshot missing: %+v", got.Products)
	}
}

func TestAdvance_TopCandidateOverBudgetParksForApproval(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 2000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{
		{ProductID: "p1", Name: "Watch", PriceCents: 5500, Currency: "USD"},
	}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)
}

func TestAdvance_DoubleClaimIsNoOp(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, false, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("second Advance should silently lose the claim: %v", err)
	}
	if st.selector.calls != 1 {
		t.Fatalf("selector calls = %d, want 1", st.selector.calls)
	}
}

// ---------------------------------------------------------------------------
// Placement failures, retries, backoff

func TestPlaceOrder_ProviderFailureSchedulesBackoff(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}
	st.placer.errs = []error{fulfillment.ErrProviderUnavailable}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusOrderFailed)
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.NextRetryAt == nil {
		t.Fatalf("next_retry_at not scheduled")
	}
	wantAt := st.now.Add(10 * time.Minute)
	if !got.NextRetryAt.Equal(wantAt) {
		t.Fatalf("next_retry_at = %v, want %v", got.NextRetryAt, wantAt)
	}
	if !st.emitter.has(notify.EventRetryScheduled) {
		t.Fatalf("missing retry_scheduled event")
	}

	// Sweep before the backoff elapses does nothing.
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 0 {
		t.Fatalf("early sweep attempted=%d err=%v", n, err)
	}

	// After the backoff the sweep replays the approved set and succeeds.
	st.now = st.now.Add(11 * time.Minute)
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 1 {
		t.Fatalf("sweep attempted=%d err=%v", n, err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusOrderPlaced)
	if st.selector.calls != 1 {
		t.Fatalf("retry must not re-run selection, selector calls = %d", st.selector.calls)
	}
}

func TestPlaceOrder_RetriesExhaustedIsTerminal(t *testing.T) {
	st := newStack(t)
	st.orch.MaxOrderAttempts = 2
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}
	st.placer.errs = []error{fulfillment.ErrProviderUnavailable, fulfillment.ErrProviderUnavailable}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusOrderFailed)

	st.now = st.now.Add(11 * time.Minute)
	if _, err := st.orch.SweepRetries(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusFailed)
	if got.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", got.RetryCount)
	}
	if !st.emitter.has(notify.EventExecutionFailed) {
		t.Fatalf("owner must be notified of terminal failure")
	}

	// A later sweep finds nothing to do.
	st.now = st.now.Add(2 * time.Hour)
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 0 {
		t.Fatalf("post-terminal sweep attempted=%d err=%v", n, err)
	}
}

func TestPlaceOrder_PaymentDeclinedSuspendsAndFlagsRule(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}
	st.placer.errs = []error{fulfillment.ErrPaymentDeclined}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusOrderFailed)
	if got.NextRetryAt != nil {
		t.Fatalf("declined charge must suspend, not schedule: %v", got.NextRetryAt)
	}

	flagged, err := repo.GetRuleByID(context.Background(), st.db, rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if !flagged.PaymentFlagged() || flagged.PaymentSticky != domain.PaymentStickyInvalid {
		t.Fatalf("sticky flag not recorded: %+v", flagged)
	}

	// The sticky flag now forces manual approval for new executions on the
	// same method, even with auto-approve on.
	status, err := st.health.EvaluateMethod(context.Background(), "u1", m.ID)
	if err != nil {
		t.Fatalf("EvaluateMethod: %v", err)
	}
	if status != domain.PaymentInvalid {
		t.Fatalf("health = %s, want invalid", status)
	}

	// Sweeps never touch the suspended execution.
	st.now = st.now.Add(48 * time.Hour)
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 0 {
		t.Fatalf("suspended execution swept: attempted=%d err=%v", n, err)
	}

	// Replacing the payment method re-arms it.
	rules := &RuleService{DB: st.db, Now: func() time.Time { return st.now }}
	fresh := seedMethod(t, st.db, "u1", 12, st.now.Year()+3)
	upd := *flagged
	upd.PaymentMethodID = fresh.ID
	if _, err := rules.Update(context.Background(), "u1", rule.ID, &upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 1 {
		t.Fatalf("re-armed sweep attempted=%d err=%v", n, err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusOrderPlaced)
}

func TestPlaceOrder_TimeoutLeavesApprovedUnderLease(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}
	st.placer.errs = []error{fulfillment.ErrPlacementTimeout}

	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusApproved)
	if got.RetryCount != 0 {
		t.Fatalf("timeout must not count as a failed attempt")
	}

	// While the lease holds, nothing re-places.
	if err := st.orch.PlaceOrder(context.Background(), exec.ID); err != nil {
		t.Fatalf("PlaceOrder under lease: %v", err)
	}
	if st.placer.calls != 1 {
		t.Fatalf("placer calls = %d, want 1 while lease held", st.placer.calls)
	}

	// After the lease elapses the sweep reconciles exactly once.
	st.now = st.now.Add(3 * time.Minute)
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 1 {
		t.Fatalf("sweep attempted=%d err=%v", n, err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusOrderPlaced)
	if st.placer.calls != 2 {
		t.Fatalf("placer calls = %d, want 2", st.placer.calls)
	}
}

func TestPlaceOrder_RequiresShippingAddress(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, true, 5000)
	exec := seedPendingExecution(t, st.db, rule)
	if err := st.db.Model(&domain.Execution{}).Where("id = ?", exec.ID).
		Update("shipping_address_id", "").Error; err != nil {
		t.Fatalf("clear execution address: %v", err)
	}
	if err := st.db.Model(&domain.AutoGiftRule{}).Where("id = ?", rule.ID).
		Update("shipping_address_id", "").Error; err != nil {
		t.Fatalf("clear rule address: %v", err)
	}
	st.selector.candidates = []selection.Candidate{{ProductID: "p1", Name: "Mug", PriceCents: 1000, Currency: "USD"}}

	err := st.orch.Advance(context.Background(), exec.ID)
	if !errors.Is(err, ErrMissingShippingAddress) {
		t.Fatalf("err = %v, want ErrMissingShippingAddress", err)
	}
	// No state damage: the execution stays approved for placement once an
	// address exists.
	mustStatus(t, st.db, exec.ID, domain.StatusApproved)
	if st.placer.calls != 0 {
		t.Fatalf("placer must not be called without an address")
	}

	// Giving the rule an address revives the execution: the next sweep
	// re-resolves it and places the order.
	if err := st.db.Model(&domain.AutoGiftRule{}).Where("id = ?", rule.ID).
		Updates(map[string]any{"shipping_address_id": "addr-7", "address_source": "manual"}).Error; err != nil {
		t.Fatalf("set rule address: %v", err)
	}
	if n, err := st.orch.SweepRetries(context.Background()); err != nil || n != 1 {
		t.Fatalf("sweep attempted=%d err=%v", n, err)
	}
	got := mustStatus(t, st.db, exec.ID, domain.StatusOrderPlaced)
	if got.ShippingAddressID != "addr-7" || got.AddressNeedsConfirm {
		t.Fatalf("address not backfilled: ship=%q confirm=%v", got.ShippingAddressID, got.AddressNeedsConfirm)
	}
	if st.placer.calls != 1 || st.placer.reqs[0].ShippingAddressID != "addr-7" {
		t.Fatalf("placement request address: calls=%d reqs=%+v", st.placer.calls, st.placer.reqs)
	}
}

// ---------------------------------------------------------------------------
// Cancel

func TestCancel_NonTerminalOnly(t *testing.T) {
	st := newStack(t)
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, false, 5000)
	exec := seedPendingExecution(t, st.db, rule)

	got, err := st.orch.Cancel(context.Background(), exec.ID, "rule deactivated")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}

	// Cancelling again is a no-op returning current state.
	if again, err := st.orch.Cancel(context.Background(), exec.ID, ""); err != nil || again.Status != domain.StatusCancelled {
		t.Fatalf("duplicate cancel: %+v err=%v", again, err)
	}

	// Other terminal states refuse.
	done := seedPendingExecution(t, st.db, rule)
	for _, to := range []domain.ExecutionStatus{domain.StatusProcessing, domain.StatusFailed} {
		from := domain.StatusPending
		if to == domain.StatusFailed {
			from = domain.StatusProcessing
		}
		if ok, err := repo.TransitionStatus(context.Background(), st.db, done.ID, from, to, nil); err != nil || !ok {
			t.Fatalf("setup transition to %s: ok=%v err=%v", to, ok, err)
		}
	}
	if _, err := st.orch.Cancel(context.Background(), done.ID, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("cancel of failed execution: err = %v, want ErrInvalidStatus", err)
	}
}

func TestBackoffDelay_Schedule(t *testing.T) {
	want := []time.Duration{10 * time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour, 24 * time.Hour}
	for attempt := 1; attempt <= len(want); attempt++ {
		if got := backoffDelay(attempt); got != want[attempt-1] {
			t.Fatalf("backoffDelay(%d) = %v, want %v", attempt, got, want[attempt-1])
		}
	}
}
