package state_test

import (
	"errors"
	"testing"
	"time"

	"SettleLedger/internal/state"
)

// ============================================================================
// Test: Trade
// ============================================================================

func TestTrade_HappyPath(t *testing.T) {
	tr := &state.Trade{Status: state.TradeAwaiting}
	at := time.UnixMilli(1_700_000_000_000)

	steps := []state.TradeEvent{
		state.TradeEventPick,
		state.TradeEventAwaitPayment,
		state.TradeEventPay,
		state.TradeEventRelease,
	}
	for _, evt := range steps {
		if err := tr.Fire(evt, at); err != nil {
			t.Fatalf("fire %s from %s: %v", evt, tr.Status, err)
		}
	}
	if tr.Status != state.TradeReleased {
		t.Errorf("status = %s, want released", tr.Status)
	}
	if tr.PaidAt == nil || tr.ReleasedAt == nil {
		t.Error("paid_at and released_at should be stamped")
	}
}

func TestTrade_InvalidTransitionIsError(t *testing.T) {
	tr := &state.Trade{Status: state.TradeAwaiting}
	err := tr.Fire(state.TradeEventPay, time.Now())
	if !errors.Is(err, state.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if tr.Status != state.TradeAwaiting {
		t.Errorf("status changed to %s on rejected transition", tr.Status)
	}
}

func TestTrade_CancelFromDisputed(t *testing.T) {
	tr := &state.Trade{Status: state.TradeDisputed}
	if err := tr.Cancel(time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if tr.CancelledAt == nil {
		t.Error("cancelled_at should be stamped")
	}
	if err := tr.Complete(time.Now()); err == nil {
		t.Error("complete after cancel should fail")
	}
}

func TestTrade_TerminalStatuses(t *testing.T) {
	for _, s := range []state.TradeStatus{state.TradeReleased, state.TradeCancelled, state.TradeAborted, state.TradeTransactionError} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if state.TradePaid.IsTerminal() {
		t.Error("paid should not be terminal")
	}
}

func TestTradeEventFor(t *testing.T) {
	evt, ok := state.TradeEventFor(state.TradeUnpaid)
	if !ok || evt != state.TradeEventAwaitPayment {
		t.Errorf("got %q/%v, want await_payment", evt, ok)
	}
	if _, ok := state.TradeEventFor(state.TradeAwaiting); ok {
		t.Error("no event should lead back to awaiting")
	}
}

func TestParseTradeStatus(t *testing.T) {
	if st, ok := state.ParseTradeStatus(" Disputed "); !ok || st != state.TradeDisputed {
		t.Errorf("got %q/%v, want disputed", st, ok)
	}
	if st, ok := state.ParseTradeStatus("transaction_error"); !ok || st != state.TradeTransactionError {
		t.Errorf("got %q/%v, want transaction_error", st, ok)
	}
	for _, s := range []string{"", "bogus", "settled"} {
		if _, ok := state.ParseTradeStatus(s); ok {
			t.Errorf("%q should not parse", s)
		}
	}
}

func TestTradeRef(t *testing.T) {
	if got := state.TradeRef(42); got != "TRADE00000042" {
		t.Errorf("got %q", got)
	}
}

func TestParseOfferKey(t *testing.T) {
	cases := map[string]struct {
		id int64
		ok bool
	}{
		"offer-12":  {12, true},
		" offer-3 ": {3, true},
		"offer-":    {0, false},
		"offer-x":   {0, false},
		"12":        {0, false},
		"offer--1":  {0, false},
	}
	for key, want := range cases {
		id, ok := state.ParseOfferKey(key)
		if id != want.id || ok != want.ok {
			t.Errorf("ParseOfferKey(%q) = %d,%v want %d,%v", key, id, ok, want.id, want.ok)
		}
	}
	if state.OfferKey(9) != "offer-9" {
		t.Errorf("OfferKey(9) = %q", state.OfferKey(9))
	}
}

// ============================================================================
// Test: AmmPool
// ============================================================================

func TestAmmPool_ActivateDeactivate(t *testing.T) {
	p := &state.AmmPool{Status: state.PoolPending}

	changed, err := p.SetActive(true)
	if err != nil || !changed || p.Status != state.PoolActive {
		t.Fatalf("activate: changed=%v err=%v status=%s", changed, err, p.Status)
	}
	changed, err = p.SetActive(true)
	if err != nil || changed {
		t.Errorf("re-activate should be a no-op, changed=%v err=%v", changed, err)
	}
	if _, err := p.SetActive(false); err != nil || p.Status != state.PoolInactive {
		t.Fatalf("deactivate: err=%v status=%s", err, p.Status)
	}
	if _, err := p.SetActive(true); err != nil || p.Status != state.PoolActive {
		t.Fatalf("reactivate: err=%v status=%s", err, p.Status)
	}
}

func TestAmmPool_PendingCannotDeactivate(t *testing.T) {
	p := &state.AmmPool{Status: state.PoolPending}
	if _, err := p.SetActive(false); !errors.Is(err, state.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAmmPool_FailFromAnyState(t *testing.T) {
	for _, s := range []state.AmmPoolStatus{state.PoolPending, state.PoolActive, state.PoolInactive} {
		p := &state.AmmPool{Status: s}
		if err := p.MarkFailed("boom"); err != nil {
			t.Errorf("fail from %s: %v", s, err)
		}
		if p.Status != state.PoolFailed || p.ErrorMessage != "boom" {
			t.Errorf("from %s: status=%s msg=%q", s, p.Status, p.ErrorMessage)
		}
	}
}

// ============================================================================
// Test: AmmPosition / AmmOrder lifecycle
// ============================================================================

func TestAmmLifecycle_SucceedBlockedAfterError(t *testing.T) {
	o := &state.AmmOrder{AmmLifecycle: state.AmmLifecycle{Status: state.AmmPending}}
	if err := o.Fail("slippage exceeded"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !o.IsErrored() {
		t.Fatal("order should be errored")
	}
	if err := o.Succeed(); !errors.Is(err, state.ErrInvalidTransition) {
		t.Errorf("succeed after error: expected ErrInvalidTransition, got %v", err)
	}
	if o.Status != state.AmmError {
		t.Errorf("status = %s, want error", o.Status)
	}
}

func TestAmmLifecycle_FailRequiresMessage(t *testing.T) {
	p := &state.AmmPosition{AmmLifecycle: state.AmmLifecycle{Status: state.AmmProcessing}}
	if err := p.Fail("  "); err == nil {
		t.Error("fail with blank message should be rejected")
	}
	if p.Status != state.AmmProcessing {
		t.Errorf("status = %s, want processing", p.Status)
	}
}

func TestAmmLifecycle_TransactionErrorIsErrored(t *testing.T) {
	l := state.AmmLifecycle{Status: state.AmmSuccess}
	l.MarkTransactionError("engine down")
	if !l.IsErrored() {
		t.Error("transaction_error should count as errored")
	}
	if err := l.Succeed(); err == nil {
		t.Error("succeed from transaction_error should fail")
	}
}

func TestAmmLifecycle_Advance(t *testing.T) {
	l := state.AmmLifecycle{Status: state.AmmPending}
	if changed, err := l.Advance(state.AmmProcessing); err != nil || !changed {
		t.Fatalf("advance to processing: %v %v", changed, err)
	}
	if changed, err := l.Advance(state.AmmProcessing); err != nil || changed {
		t.Errorf("same-state advance should be a no-op: %v %v", changed, err)
	}
	if _, err := l.Advance(state.AmmPending); err == nil {
		t.Error("advance back to pending should fail")
	}
}

func TestParseAmmStatus(t *testing.T) {
	if s, ok := state.ParseAmmStatus("SUCCESS"); !ok || s != state.AmmSuccess {
		t.Errorf("got %s,%v", s, ok)
	}
	if _, ok := state.ParseAmmStatus("transaction_error"); ok {
		t.Error("transaction_error is not an engine status")
	}
}

// ============================================================================
// Test: Tick
// ============================================================================

func TestTick_Activate(t *testing.T) {
	tk := &state.Tick{Status: state.TickPending}
	if err := tk.Activate(); err != nil {
		t.Fatal(err)
	}
	if err := tk.Activate(); err != nil {
		t.Errorf("re-activate should succeed: %v", err)
	}
	tk.MarkTransactionError("x")
	if err := tk.Activate(); err == nil {
		t.Error("activate from transaction_error should fail")
	}
}

func TestTickKey(t *testing.T) {
	if got := state.TickKey("USDT/VND", -120); got != "USDT/VND--120" {
		t.Errorf("got %q", got)
	}
}

// ============================================================================
// Test: BalanceLock
// ============================================================================

func TestBalanceLock_MarkAsLockedIdempotent(t *testing.T) {
	l := &state.BalanceLock{Status: state.LockPending}
	changed, err := l.MarkAsLocked()
	if err != nil || !changed {
		t.Fatalf("first lock: %v %v", changed, err)
	}
	changed, err = l.MarkAsLocked()
	if err != nil || changed {
		t.Errorf("second lock should be a no-op: %v %v", changed, err)
	}
}

func TestBalanceLock_ReleaseOnlyFromLocked(t *testing.T) {
	l := &state.BalanceLock{Status: state.LockPending}
	if err := l.Release(); !errors.Is(err, state.ErrInvalidTransition) {
		t.Errorf("release from pending: expected ErrInvalidTransition, got %v", err)
	}
	l.Status = state.LockLocked
	if err := l.StartRelease(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if l.Status != state.LockUnlocked {
		t.Errorf("status = %s, want unlocked", l.Status)
	}
}

func TestBalanceLock_ReplaceBalancesDoesNotMerge(t *testing.T) {
	l := &state.BalanceLock{LockedBalances: map[string]string{"usdt": "5", "btc": "1"}}
	snapshot := map[string]string{"usdt": "100.0"}
	l.ReplaceBalances(snapshot)
	if len(l.LockedBalances) != 1 || l.LockedBalances["usdt"] != "100.0" {
		t.Errorf("got %v", l.LockedBalances)
	}
	snapshot["eth"] = "2"
	if _, ok := l.LockedBalances["eth"]; ok {
		t.Error("snapshot should be copied, not aliased")
	}
}

// ============================================================================
// Test: CoinWithdrawal
// ============================================================================

func TestCoinWithdrawal_Transitions(t *testing.T) {
	w := &state.CoinWithdrawal{Status: state.WithdrawalPending}
	if err := w.TransitionTo(state.WithdrawalProcessing, "ignored"); err != nil {
		t.Fatal(err)
	}
	if w.StatusExplanation != "" {
		t.Errorf("explanation should only be kept for failures, got %q", w.StatusExplanation)
	}
	if err := w.TransitionTo(state.WithdrawalFailed, "Transaction failed"); err != nil {
		t.Fatal(err)
	}
	if w.StatusExplanation != "Transaction failed" {
		t.Errorf("explanation = %q", w.StatusExplanation)
	}
	if err := w.TransitionTo(state.WithdrawalCompleted, ""); !errors.Is(err, state.ErrInvalidTransition) {
		t.Errorf("failed -> completed: expected ErrInvalidTransition, got %v", err)
	}
}

func TestParseEngineWithdrawalStatus(t *testing.T) {
	cases := map[string]state.CoinWithdrawalStatus{
		"COMPLETED":  state.WithdrawalCompleted,
		"failed":     state.WithdrawalFailed,
		"PROCESSING": state.WithdrawalProcessing,
		"CANCELLED":  state.WithdrawalCancelled,
	}
	for in, want := range cases {
		got, ok := state.ParseEngineWithdrawalStatus(in)
		if !ok || got != want {
			t.Errorf("%q: got %s,%v want %s", in, got, ok, want)
		}
	}
	if _, ok := state.ParseEngineWithdrawalStatus("REFUNDED"); ok {
		t.Error("REFUNDED should not map")
	}
}

// ============================================================================
// Test: MerchantEscrow
// ============================================================================

func TestMerchantEscrow_CancelAlwaysLands(t *testing.T) {
	e := &state.MerchantEscrow{Status: state.EscrowPending}
	if err := e.Activate(); err != nil {
		t.Fatal(err)
	}
	if err := e.Activate(); err == nil {
		t.Error("activate from active should fail")
	}
	if !e.Cancel() {
		t.Error("first cancel should change status")
	}
	if e.Cancel() {
		t.Error("second cancel should report no change")
	}
	if e.Status != state.EscrowCancelled {
		t.Errorf("status = %s", e.Status)
	}
}

// ============================================================================
// Test: Offer
// ============================================================================

func TestOffer_FlagsIdempotent(t *testing.T) {
	o := &state.Offer{}
	if o.Enable() {
		t.Error("enable on an enabled offer should report no change")
	}
	if !o.Disable() || o.Disable() {
		t.Error("disable should change once")
	}
	if !o.Enable() {
		t.Error("enable after disable should change")
	}
	if !o.Delete() || o.Delete() {
		t.Error("delete should change once")
	}
}

func TestSplitSymbol(t *testing.T) {
	coin, fiat, err := state.SplitSymbol("USDT:VND")
	if err != nil || coin != "usdt" || fiat != "vnd" {
		t.Errorf("got %q %q %v", coin, fiat, err)
	}
	for _, bad := range []string{"", "USDT", ":VND", "USDT:"} {
		if _, _, err := state.SplitSymbol(bad); !errors.Is(err, state.ErrInvalidSymbol) {
			t.Errorf("%q: expected ErrInvalidSymbol, got %v", bad, err)
		}
	}
}
