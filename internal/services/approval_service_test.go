package services

import (
	"context"
	"errors"
	"testing"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/repo"
	"github.com/giftflow/go-autogift-backend/internal/selection"
)

// parkForApproval drives a fresh execution into pending_approval with the
// given candidate prices and returns it with its snapshot loaded.
func parkForApproval(t *testing.T, st *stack, budgetCents int64, prices ...int64) *domain.Execution {
	t.Helper()
	m := seedMethod(t, st.db, "u1", 12, st.now.Year()+2)
	rule := seedRule(t, st.db, m.ID, false, budgetCents)
	exec := seedPendingExecution(t, st.db, rule)
	st.selector.candidates = st.selector.candidates[:0]
	for i, p := range prices {
		st.selector.candidates = append(st.selector.candidates, selection.Candidate{
			ProductID:  "p" + string(rune('1'+i)),
			Name:       "Gift",
			PriceCents: p,
			Currency:   "USD",
		})
	}
	if err := st.orch.Advance(context.Background(), exec.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	return mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)
}

func TestApprove_OverBudgetThenSubset(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	// Budget $40; candidates $30 + $25 = $55.
	exec := parkForApproval(t, st, 4000, 3000, 2500)

	all := []string{exec.Products[0].ID, exec.Products[1].ID}
	if _, err := svc.Approve(context.Background(), "u1", exec.ID, all); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)

	got, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID})
	if err != nil {
		t.Fatalf("Approve subset: %v", err)
	}
	if got.Status != domain.StatusOrderPlaced {
		t.Fatalf("status = %s, want order_placed after synchronous placement", got.Status)
	}
	if got.TotalAmountCents != 3000 {
		t.Fatalf("total = %d, want 3000", got.TotalAmountCents)
	}
	if st.placer.calls != 1 {
		t.Fatalf("placer calls = %d, want 1", st.placer.calls)
	}
}

func TestApprove_EmptyAndUnknownSelection(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	exec := parkForApproval(t, st, 5000, 1000)

	if _, err := svc.Approve(context.Background(), "u1", exec.ID, nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("nil selection: err = %v", err)
	}
	if _, err := svc.Approve(context.Background(), "u1", exec.ID, []string{" ", ""}); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("blank selection: err = %v", err)
	}
	if _, err := svc.Approve(context.Background(), "u1", exec.ID, []string{"not-a-snapshot-id"}); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("unknown product: err = %v", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)
}

func TestApprove_IdempotentAfterSuccess(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	exec := parkForApproval(t, st, 5000, 1000)

	first, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if first.Status != domain.StatusOrderPlaced {
		t.Fatalf("status = %s", first.Status)
	}

	// A duplicate approval call returns current state and places nothing.
	second, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID})
	if err != nil {
		t.Fatalf("duplicate Approve: %v", err)
	}
	if second.Status != domain.StatusOrderPlaced || second.OrderID != first.OrderID {
		t.Fatalf("duplicate approval changed state: %+v", second)
	}
	if st.placer.calls != 1 {
		t.Fatalf("placer calls = %d, want exactly 1", st.placer.calls)
	}
}

func TestApprove_NoShippingAddressRefused(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	exec := parkForApproval(t, st, 5000, 1000)

	// Strip the address from both the execution and its rule.
	if err := st.db.Model(&domain.Execution{}).Where("id = ?", exec.ID).
		Update("shipping_address_id", "").Error; err != nil {
		t.Fatalf("clear execution address: %v", err)
	}
	if err := st.db.Model(&domain.AutoGiftRule{}).Where("id = ?", exec.RuleID).
		Update("shipping_address_id", "").Error; err != nil {
		t.Fatalf("clear rule address: %v", err)
	}

	if _, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID}); !errors.Is(err, ErrMissingShippingAddress) {
		t.Fatalf("err = %v, want ErrMissingShippingAddress", err)
	}
	mustStatus(t, st.db, exec.ID, domain.StatusPendingApproval)
	if st.placer.calls != 0 {
		t.Fatalf("placer must not be called without an address")
	}

	// Once the rule carries an address the approval adopts it and places.
	if err := st.db.Model(&domain.AutoGiftRule{}).Where("id = ?", exec.RuleID).
		Updates(map[string]any{"shipping_address_id": "addr-9", "address_source": "manual"}).Error; err != nil {
		t.Fatalf("set rule address: %v", err)
	}
	got, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != domain.StatusOrderPlaced {
		t.Fatalf("status = %s, want order_placed", got.Status)
	}
	if got.ShippingAddressID != "addr-9" || got.AddressNeedsConfirm {
		t.Fatalf("address not adopted: ship=%q confirm=%v", got.ShippingAddressID, got.AddressNeedsConfirm)
	}
	if st.placer.calls != 1 || st.placer.reqs[0].ShippingAddressID != "addr-9" {
		t.Fatalf("placement request address: calls=%d reqs=%+v", st.placer.calls, st.placer.reqs)
	}
}

func TestApprove_OwnershipAndStatusGuards(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	exec := parkForApproval(t, st, 5000, 1000)

	if _, err := svc.Approve(context.Background(), "intruder", exec.ID, []string{exec.Products[0].ID}); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("foreign approve: err = %v", err)
	}

	if _, err := st.orch.Cancel(context.Background(), exec.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("approve of cancelled: err = %v", err)
	}
}

func TestReject_TerminalAndIdempotent(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	exec := parkForApproval(t, st, 5000, 1000)

	got, err := svc.Reject(context.Background(), "u1", exec.ID, "wrong color")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got.Status != domain.StatusRejected || got.StatusDetail != "wrong color" {
		t.Fatalf("unexpected rejection: %+v", got)
	}
	if st.placer.calls != 0 {
		t.Fatalf("no order may be placed after rejection")
	}

	// Duplicate reject is a no-op returning current state.
	again, err := svc.Reject(context.Background(), "u1", exec.ID, "")
	if err != nil || again.Status != domain.StatusRejected {
		t.Fatalf("duplicate reject: %+v err=%v", again, err)
	}

	// Approving a rejected execution is refused.
	if _, err := svc.Approve(context.Background(), "u1", exec.ID, []string{exec.Products[0].ID}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("approve after reject: err = %v", err)
	}
}

func TestListPending_ScopedToUser(t *testing.T) {
	st := newStack(t)
	svc := &ApprovalService{DB: st.db, Orchestrator: st.orch}
	exec := parkForApproval(t, st, 5000, 1000)

	// A foreign user's pending execution must not leak.
	other, err := repo.CreateExecution(context.Background(), st.db, &domain.Execution{
		RuleID: exec.RuleID, UserID: "u2", OccasionKey: "birthday:2026-07-01",
		Status: domain.StatusPendingApproval, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("seed foreign execution: %v", err)
	}
	_ = other

	pending, err := svc.ListPending(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != exec.ID {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
	if len(pending[0].Products) == 0 {
		t.Fatalf("candidate snapshot must be attached for the approval UI")
	}
}
