package core_test

import (
	"strconv"
	"testing"
	"time"

	"SettleLedger/internal/core"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func idStr(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ============================================================================
// Test: AmmPool
// ============================================================================

func TestAmmPool_AppliesEngineState(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmPool(state.AmmPool{Pair: "USDT/VND", Status: state.PoolPending})

	err := h.dispatch("AMM_POOL_UPDATE", "", map[string]any{
		"pair":          "USDT/VND",
		"feePercentage": 0.005,
		"currentTick":   100,
		"price":         1.5,
		"isActive":      true,
		"updatedAt":     ms(0),
	})
	require.NoError(t, err)

	h.view(func(tx persistence.Tx) {
		pool, err := tx.GetAmmPoolByPair(h.ctx, "USDT/VND")
		require.NoError(t, err)
		assert.True(t, pool.FeePercentage.Equal(dec("0.005")), "fee = %s", pool.FeePercentage)
		assert.Equal(t, int64(100), pool.CurrentTick)
		assert.True(t, pool.Price.Equal(dec("1.5")))
		assert.Equal(t, state.PoolActive, pool.Status)
		assert.Equal(t, ms(0), pool.UpdatedAt.UnixMilli())
	})
}

func TestAmmPool_Staleness(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmPool(state.AmmPool{Pair: "BTC/USDT", Status: state.PoolActive, UpdatedAt: fixedNow})

	// older than stored: ignored
	require.NoError(t, h.dispatch("AMM_POOL_UPDATE", "", map[string]any{
		"pair": "BTC/USDT", "price": "9", "updatedAt": ms(-time.Second),
	}))
	// newer: applied
	require.NoError(t, h.dispatch("AMM_POOL_UPDATE", "", map[string]any{
		"pair": "BTC/USDT", "liquidity": "42", "updatedAt": ms(time.Second),
	}))

	h.view(func(tx persistence.Tx) {
		pool, err := tx.GetAmmPoolByPair(h.ctx, "BTC/USDT")
		require.NoError(t, err)
		assert.True(t, pool.Price.IsZero(), "stale price applied: %s", pool.Price)
		assert.True(t, pool.Liquidity.Equal(dec("42")))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StaleMessages.WithLabelValues("AmmPool")))
	assert.Contains(t, h.logs.String(), "stale message skipped")
}

func TestAmmPool_FailureOnlyAnnotates(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmPool(state.AmmPool{Pair: "USDT/VND", Status: state.PoolActive, Price: dec("1.5")})

	env := envelope(t, "AMM_POOL_UPDATE", "", false, map[string]any{"pair": "USDT/VND", "price": "7"})
	env.ErrorMessage = "insufficient liquidity"
	require.NoError(t, h.d.Dispatch(h.ctx, env))

	h.view(func(tx persistence.Tx) {
		pool, err := tx.GetAmmPoolByPair(h.ctx, "USDT/VND")
		require.NoError(t, err)
		assert.Equal(t, "Exchange Engine: insufficient liquidity", pool.StatusExplanation)
		assert.Equal(t, state.PoolActive, pool.Status)
		assert.True(t, pool.Price.Equal(dec("1.5")))
	})
	assert.Empty(t, h.alerts.All())
}

func TestAmmPool_ErroredPoolIgnoresUpdates(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmPool(state.AmmPool{Pair: "ETH/USDT", Status: state.PoolTransactionError, ErrorMessage: "boom"})

	require.NoError(t, h.dispatch("AMM_POOL_UPDATE", "", map[string]any{
		"pair": "ETH/USDT", "isActive": true, "price": "3", "updatedAt": ms(0),
	}))

	h.view(func(tx persistence.Tx) {
		pool, err := tx.GetAmmPoolByPair(h.ctx, "ETH/USDT")
		require.NoError(t, err)
		assert.Equal(t, state.PoolTransactionError, pool.Status)
		assert.True(t, pool.Price.IsZero())
	})
}

// ============================================================================
// Test: AmmPosition / AmmOrder
// ============================================================================

func TestAmmPosition_LifecycleAndStickyError(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmPosition(state.AmmPosition{
		AmmLifecycle: state.AmmLifecycle{Status: state.AmmPending},
		Identifier:   "pos-1",
	})

	require.NoError(t, h.dispatch("AMM_POSITION_UPDATE", "", map[string]any{
		"identifier": "pos-1", "liquidity": "10", "status": "PROCESSING", "updatedAt": ms(0),
	}))
	require.NoError(t, h.dispatch("AMM_POSITION_UPDATE", "", map[string]any{
		"identifier": "pos-1", "errorMessage": "price out of range", "updatedAt": ms(time.Second),
	}))
	require.NoError(t, h.dispatch("AMM_POSITION_UPDATE", "", map[string]any{
		"identifier": "pos-1", "status": "success", "updatedAt": ms(2 * time.Second),
	}))

	h.view(func(tx persistence.Tx) {
		pos, err := tx.GetAmmPositionByIdentifier(h.ctx, "pos-1")
		require.NoError(t, err)
		assert.Equal(t, state.AmmError, pos.Status)
		assert.Equal(t, "price out of range", pos.ErrorMessage)
		assert.True(t, pos.Liquidity.Equal(dec("10")))
	})
}

func TestAmmPosition_StaleMessageIgnored(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmPosition(state.AmmPosition{
		AmmLifecycle: state.AmmLifecycle{Status: state.AmmProcessing},
		Identifier:   "pos-2",
		UpdatedAt:    fixedNow,
	})

	require.NoError(t, h.dispatch("AMM_POSITION_UPDATE", "", map[string]any{
		"identifier": "pos-2", "amount0": "99", "status": "success", "updatedAt": ms(0),
	}))

	h.view(func(tx persistence.Tx) {
		pos, err := tx.GetAmmPositionByIdentifier(h.ctx, "pos-2")
		require.NoError(t, err)
		assert.Equal(t, state.AmmProcessing, pos.Status)
		assert.True(t, pos.Amount0.IsZero())
	})
}

func TestAmmOrder_SuccessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmOrder(state.AmmOrder{
		AmmLifecycle: state.AmmLifecycle{Status: state.AmmPending},
		Identifier:   "ord-1",
	})

	msg := map[string]any{
		"identifier": "ord-1", "status": "SUCCESS", "amountActual": "5", "fees": "0.01", "updatedAt": ms(0),
	}
	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", msg))
	// exact redelivery
	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", msg))
	// same confirmation, later stamp
	msg["updatedAt"] = ms(time.Second)
	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", msg))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetAmmOrderByIdentifier(h.ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, state.AmmSuccess, o.Status)
		assert.True(t, o.AmountActual.Equal(dec("5")))
		assert.True(t, o.Fees.Equal(dec("0.01")))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("AmmOrder", "success")))
}

func TestAmmOrder_ErrorSkipsFields(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmOrder(state.AmmOrder{
		AmmLifecycle: state.AmmLifecycle{Status: state.AmmProcessing},
		Identifier:   "ord-2",
		AmountActual: dec("1"),
	})

	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", map[string]any{
		"identifier": "ord-2", "errorMessage": "slippage exceeded", "amountActual": "8", "updatedAt": ms(0),
	}))
	// late success must not revive the order
	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", map[string]any{
		"identifier": "ord-2", "status": "SUCCESS", "updatedAt": ms(time.Second),
	}))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetAmmOrderByIdentifier(h.ctx, "ord-2")
		require.NoError(t, err)
		assert.Equal(t, state.AmmError, o.Status)
		assert.Equal(t, "slippage exceeded", o.ErrorMessage)
		assert.True(t, o.AmountActual.Equal(dec("1")))
	})
}

func TestAmmOrder_Staleness(t *testing.T) {
	h := newHarness(t)
	h.store.PutAmmOrder(state.AmmOrder{
		AmmLifecycle: state.AmmLifecycle{Status: state.AmmProcessing},
		Identifier:   "ord-3",
		UpdatedAt:    fixedNow,
	})

	// older than stored: ignored
	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", map[string]any{
		"identifier": "ord-3", "status": "SUCCESS", "amountReceived": "9", "updatedAt": ms(-time.Second),
	}))
	h.view(func(tx persistence.Tx) {
		o, err := tx.GetAmmOrderByIdentifier(h.ctx, "ord-3")
		require.NoError(t, err)
		assert.Equal(t, state.AmmProcessing, o.Status)
		assert.True(t, o.AmountReceived.IsZero())
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StaleMessages.WithLabelValues("AmmOrder")))

	// newer: applied
	require.NoError(t, h.dispatch("AMM_ORDER_UPDATE", "", map[string]any{
		"identifier": "ord-3", "status": "SUCCESS", "amountReceived": "7", "updatedAt": ms(time.Second),
	}))
	h.view(func(tx persistence.Tx) {
		o, err := tx.GetAmmOrderByIdentifier(h.ctx, "ord-3")
		require.NoError(t, err)
		assert.Equal(t, state.AmmSuccess, o.Status)
		assert.True(t, o.AmountReceived.Equal(dec("7")))
		assert.Equal(t, ms(time.Second), o.UpdatedAt.UnixMilli())
	})
}

// ============================================================================
// Test: Tick
// ============================================================================

func TestTick_FindOrCreate(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dispatch("TICK_UPDATE", "", map[string]any{
		"poolPair": "USDT/VND", "tickIndex": -120, "liquidityGross": "5", "initialized": true, "updatedAt": ms(0),
	}))
	require.NoError(t, h.dispatch("TICK_UPDATE", "", map[string]any{
		"poolPair": "USDT/VND", "tickIndex": -120, "liquidityNet": "-2", "updatedAt": ms(time.Second),
	}))

	h.view(func(tx persistence.Tx) {
		tick, err := tx.GetTickByKey(h.ctx, "USDT/VND--120")
		require.NoError(t, err)
		assert.Equal(t, state.TickActive, tick.Status)
		assert.True(t, tick.Initialized)
		assert.True(t, tick.LiquidityGross.Equal(dec("5")))
		assert.True(t, tick.LiquidityNet.Equal(dec("-2")))
		assert.Equal(t, fixedNow, tick.CreatedAt)
	})
}

func TestTick_StaleMessageIsAnError(t *testing.T) {
	h := newHarness(t)
	h.store.PutTick(state.Tick{
		TickKey: "USDT/VND-100", PoolPair: "USDT/VND", TickIndex: 100,
		Status: state.TickActive, LiquidityGross: dec("7"), UpdatedAt: fixedNow,
	})

	err := h.dispatch("TICK_UPDATE", "", map[string]any{
		"poolPair": "USDT/VND", "tickIndex": 100, "liquidityGross": "1", "updatedAt": ms(-time.Minute),
	})
	require.ErrorIs(t, err, core.ErrStaleMessage)
	assert.Contains(t, h.logs.String(), "handler failed")

	h.view(func(tx persistence.Tx) {
		tick, err := tx.GetTickByKey(h.ctx, "USDT/VND-100")
		require.NoError(t, err)
		assert.True(t, tick.LiquidityGross.Equal(dec("7")))
	})

	// fresh message still applies
	require.NoError(t, h.dispatch("TICK_UPDATE", "", map[string]any{
		"poolPair": "USDT/VND", "tickIndex": 100, "liquidityGross": "3", "updatedAt": ms(time.Minute),
	}))
	h.view(func(tx persistence.Tx) {
		tick, err := tx.GetTickByKey(h.ctx, "USDT/VND-100")
		require.NoError(t, err)
		assert.True(t, tick.LiquidityGross.Equal(dec("3")))
	})
}

// ============================================================================
// Test: BalanceLock
// ============================================================================

func TestBalanceLock_LockResolvesAndReplacesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.store.PutCoinAccount(ledger.CoinAccount{ID: 5, UserID: 1, Currency: "usdt", Balance: dec("500")})
	lockID := h.store.PutBalanceLock(state.BalanceLock{
		UserID: 1, Status: state.LockPending, LockedBalances: map[string]string{"stale": "1"},
	})

	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"identifier":     lockID,
		"lockId":         "eng-lock-9",
		"status":         "LOCKED",
		"lockedBalances": map[string]string{"1-coin-5": "100.0", "1-coin-404": "3"},
		"updatedAt":      ms(0),
	}))

	h.view(func(tx persistence.Tx) {
		l, err := tx.GetBalanceLock(h.ctx, lockID)
		require.NoError(t, err)
		assert.Equal(t, state.LockLocked, l.Status)
		assert.Equal(t, "eng-lock-9", l.EngineLockID)
		assert.Equal(t, map[string]string{"usdt": "100.0", "1-coin-404": "3"}, l.LockedBalances)
	})

	// redelivered LOCKED with a new snapshot: status unchanged, snapshot replaced
	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"identifier": lockID, "status": "LOCKED",
		"lockedBalances": map[string]string{"1-coin-5": "50"},
		"updatedAt":      ms(time.Second),
	}))
	h.view(func(tx persistence.Tx) {
		l, err := tx.GetBalanceLock(h.ctx, lockID)
		require.NoError(t, err)
		assert.Equal(t, state.LockLocked, l.Status)
		assert.Equal(t, map[string]string{"usdt": "50"}, l.LockedBalances)
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("BalanceLock", "locked")))
}

func TestBalanceLock_ReleaseFlow(t *testing.T) {
	h := newHarness(t)
	lockID := h.store.PutBalanceLock(state.BalanceLock{UserID: 1, Status: state.LockLocked, UpdatedAt: fixedNow})

	// stale release ignored
	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"identifier": idStr(lockID), "status": "RELEASED", "updatedAt": ms(-time.Second),
	}))
	h.view(func(tx persistence.Tx) {
		l, err := tx.GetBalanceLock(h.ctx, lockID)
		require.NoError(t, err)
		assert.Equal(t, state.LockLocked, l.Status)
	})

	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"identifier": idStr(lockID), "status": "RELEASING", "updatedAt": ms(time.Second),
	}))
	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"identifier": idStr(lockID), "status": "RELEASED", "updatedAt": ms(2 * time.Second),
	}))
	// late LOCKED after release changes nothing
	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"identifier": idStr(lockID), "status": "LOCKED",
		"lockedBalances": map[string]string{"x": "1"}, "updatedAt": ms(3 * time.Second),
	}))

	h.view(func(tx persistence.Tx) {
		l, err := tx.GetBalanceLock(h.ctx, lockID)
		require.NoError(t, err)
		assert.Equal(t, state.LockUnlocked, l.Status)
		assert.Empty(t, l.LockedBalances)
	})
}

func TestBalanceLock_RequiresIdentifier(t *testing.T) {
	h := newHarness(t)
	lockID := h.store.PutBalanceLock(state.BalanceLock{Status: state.LockPending})

	// lockId alone does not address the lock
	require.NoError(t, h.dispatch("BALANCE_LOCK_UPDATE", "", map[string]any{
		"lockId": idStr(lockID), "status": "LOCKED", "updatedAt": ms(0),
	}))
	h.view(func(tx persistence.Tx) {
		l, err := tx.GetBalanceLock(h.ctx, lockID)
		require.NoError(t, err)
		assert.Equal(t, state.LockPending, l.Status)
	})
}

// ============================================================================
// Test: CoinWithdrawal
// ============================================================================

func TestCoinWithdrawal_FailedWithExplanation(t *testing.T) {
	h := newHarness(t)
	h.store.PutCoinWithdrawal(state.CoinWithdrawal{ID: 7, UserID: 1, Currency: "usdt", Status: state.WithdrawalPending})

	require.NoError(t, h.dispatch("COIN_WITHDRAWAL_UPDATE", "", map[string]any{
		"identifier": "7", "status": "FAILED", "statusExplanation": "Transaction failed",
	}))

	h.view(func(tx persistence.Tx) {
		w, err := tx.GetCoinWithdrawal(h.ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, state.WithdrawalFailed, w.Status)
		assert.Equal(t, "Transaction failed", w.StatusExplanation)
		assert.Equal(t, "Transaction failed", w.ErrorMessage)
	})
}

func TestCoinWithdrawal_ExplanationOnlyOnFailure(t *testing.T) {
	h := newHarness(t)
	h.store.PutCoinWithdrawal(state.CoinWithdrawal{ID: 8, Status: state.WithdrawalPending})

	require.NoError(t, h.dispatch("COIN_WITHDRAWAL_UPDATE", "", map[string]any{
		"identifier": 8, "status": "COMPLETED", "statusExplanation": "ignored",
	}))

	h.view(func(tx persistence.Tx) {
		w, err := tx.GetCoinWithdrawal(h.ctx, 8)
		require.NoError(t, err)
		assert.Equal(t, state.WithdrawalCompleted, w.Status)
		assert.Empty(t, w.StatusExplanation)
	})
}

func TestCoinWithdrawal_Staleness(t *testing.T) {
	h := newHarness(t)
	h.store.PutCoinWithdrawal(state.CoinWithdrawal{ID: 9, Status: state.WithdrawalPending, UpdatedAt: fixedNow})

	require.NoError(t, h.dispatch("COIN_WITHDRAWAL_UPDATE", "", map[string]any{
		"identifier": "9", "status": "COMPLETED", "updatedAt": ms(-time.Second),
	}))
	h.view(func(tx persistence.Tx) {
		w, err := tx.GetCoinWithdrawal(h.ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, state.WithdrawalPending, w.Status)
	})

	require.NoError(t, h.dispatch("COIN_WITHDRAWAL_UPDATE", "", map[string]any{
		"identifier": "9", "status": "PROCESSING", "updatedAt": ms(time.Second),
	}))
	h.view(func(tx persistence.Tx) {
		w, err := tx.GetCoinWithdrawal(h.ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, state.WithdrawalProcessing, w.Status)
	})
}

func TestCoinWithdrawal_FailureEnvelopeForcesFailed(t *testing.T) {
	h := newHarness(t)
	h.store.PutCoinWithdrawal(state.CoinWithdrawal{ID: 7, Status: state.WithdrawalProcessing})

	env := envelope(t, "COIN_WITHDRAWAL_UPDATE", "", false, map[string]any{
		"identifier": "7", "status": "COMPLETED",
	})
	env.ErrorMessage = "node unreachable"
	require.NoError(t, h.d.Dispatch(h.ctx, env))

	h.view(func(tx persistence.Tx) {
		w, err := tx.GetCoinWithdrawal(h.ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, state.WithdrawalFailed, w.Status)
		assert.Equal(t, "node unreachable", w.StatusExplanation)
	})
}

// ============================================================================
// Test: MerchantEscrow
// ============================================================================

func seedEscrow(h *harness) (escrowID, usdtID, fiatID int64) {
	usdtID = h.store.PutCoinAccount(ledger.CoinAccount{UserID: 3, Currency: "usdt", Balance: dec("1000")})
	fiatID = h.store.PutFiatAccount(ledger.FiatAccount{UserID: 3, Currency: "vnd", Balance: dec("0")})
	escrowID = h.store.PutMerchantEscrow(state.MerchantEscrow{
		UserID: 3, UsdtAccountID: usdtID, FiatAccountID: fiatID,
		UsdtAmount: dec("100"), FiatAmount: dec("2500000"), FiatCurrency: "vnd",
		Status: state.EscrowPending,
	})
	return escrowID, usdtID, fiatID
}

func TestMerchantEscrow_MintOnceThenBurn(t *testing.T) {
	h := newHarness(t)
	escrowID, usdtID, fiatID := seedEscrow(h)

	require.NoError(t, h.dispatch("MERCHANT_ESCROW_MINT", idStr(escrowID), nil))
	require.NoError(t, h.dispatch("MERCHANT_ESCROW_MINT", idStr(escrowID), nil))

	ops := h.store.EscrowOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, ledger.EscrowMint, ops[0].Type)
	assert.Equal(t, ledger.OperationComplete, ops[0].Status)

	coin := h.store.CoinTransactions()
	require.Len(t, coin, 1)
	assert.True(t, coin[0].Amount.Equal(dec("-100")))
	assert.True(t, coin[0].SnapshotBalance.Equal(dec("900")))
	assert.Equal(t, ledger.SourceEscrowOperation, coin[0].SourceType)
	assert.Equal(t, ops[0].ID, coin[0].SourceID)

	fiat := h.store.FiatTransactions()
	require.Len(t, fiat, 1)
	assert.True(t, fiat[0].SnapshotBalance.Equal(dec("2500000")))

	h.view(func(tx persistence.Tx) {
		e, err := tx.GetMerchantEscrow(h.ctx, escrowID)
		require.NoError(t, err)
		assert.Equal(t, state.EscrowActive, e.Status)
	})

	require.NoError(t, h.dispatch("MERCHANT_ESCROW_BURN", idStr(escrowID), nil))

	assert.Len(t, h.store.EscrowOperations(), 2)
	h.view(func(tx persistence.Tx) {
		e, err := tx.GetMerchantEscrow(h.ctx, escrowID)
		require.NoError(t, err)
		assert.Equal(t, state.EscrowCancelled, e.Status)

		usdt, err := tx.GetCoinAccount(h.ctx, usdtID)
		require.NoError(t, err)
		assert.True(t, usdt.Balance.Equal(dec("1000")))
		vnd, err := tx.GetFiatAccount(h.ctx, fiatID)
		require.NoError(t, err)
		assert.True(t, vnd.Balance.IsZero())
	})
}

func TestMerchantEscrow_BurnWithoutMintMovesNoFunds(t *testing.T) {
	h := newHarness(t)
	escrowID, usdtID, fiatID := seedEscrow(h)

	require.NoError(t, h.dispatch("MERCHANT_ESCROW_BURN", idStr(escrowID), nil))

	ops := h.store.EscrowOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, ledger.EscrowBurn, ops[0].Type)
	assert.Empty(t, h.store.CoinTransactions())
	assert.Empty(t, h.store.FiatTransactions())

	h.view(func(tx persistence.Tx) {
		e, err := tx.GetMerchantEscrow(h.ctx, escrowID)
		require.NoError(t, err)
		assert.Equal(t, state.EscrowCancelled, e.Status)

		usdt, err := tx.GetCoinAccount(h.ctx, usdtID)
		require.NoError(t, err)
		assert.True(t, usdt.Balance.Equal(dec("1000")))
		vnd, err := tx.GetFiatAccount(h.ctx, fiatID)
		require.NoError(t, err)
		assert.True(t, vnd.Balance.IsZero())
	})
}

func TestMerchantEscrow_BurnAfterFiatSpentStillCancels(t *testing.T) {
	h := newHarness(t)
	escrowID, usdtID, fiatID := seedEscrow(h)
	require.NoError(t, h.dispatch("MERCHANT_ESCROW_MINT", idStr(escrowID), nil))

	require.NoError(t, h.store.InTx(h.ctx, func(tx persistence.Tx) error {
		acc, err := tx.GetFiatAccount(h.ctx, fiatID)
		require.NoError(t, err)
		acc.Balance = dec("1000")
		return tx.SaveFiatAccount(h.ctx, acc)
	}))

	require.NoError(t, h.dispatch("MERCHANT_ESCROW_BURN", idStr(escrowID), nil))

	assert.Len(t, h.store.EscrowOperations(), 2)
	assert.Len(t, h.store.CoinTransactions(), 1)
	assert.Len(t, h.store.FiatTransactions(), 1)
	assert.Contains(t, h.logs.String(), "burn reversal skipped")
	h.view(func(tx persistence.Tx) {
		e, err := tx.GetMerchantEscrow(h.ctx, escrowID)
		require.NoError(t, err)
		assert.Equal(t, state.EscrowCancelled, e.Status)

		usdt, err := tx.GetCoinAccount(h.ctx, usdtID)
		require.NoError(t, err)
		assert.True(t, usdt.Balance.Equal(dec("900")))
	})
}

func TestMerchantEscrow_AccountKeyFallback(t *testing.T) {
	h := newHarness(t)
	escrowID, usdtID, _ := seedEscrow(h)
	otherFiat := h.store.PutFiatAccount(ledger.FiatAccount{UserID: 3, Currency: "vnd"})

	require.NoError(t, h.dispatch("MERCHANT_ESCROW_MINT", idStr(escrowID), map[string]any{
		"usdtAccountKey": "garbage",
		"fiatAccountKey": "3-fiat-" + idStr(otherFiat),
	}))

	ops := h.store.EscrowOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, usdtID, ops[0].UsdtAccountID)
	assert.Equal(t, otherFiat, ops[0].FiatAccountID)
}

func TestMerchantEscrow_InsufficientBalanceRollsBack(t *testing.T) {
	h := newHarness(t)
	usdtID := h.store.PutCoinAccount(ledger.CoinAccount{UserID: 3, Currency: "usdt", Balance: dec("10")})
	fiatID := h.store.PutFiatAccount(ledger.FiatAccount{UserID: 3, Currency: "vnd"})
	escrowID := h.store.PutMerchantEscrow(state.MerchantEscrow{
		UserID: 3, UsdtAccountID: usdtID, FiatAccountID: fiatID,
		UsdtAmount: dec("100"), FiatAmount: dec("2500000"), Status: state.EscrowPending,
	})

	err := h.dispatch("MERCHANT_ESCROW_MINT", idStr(escrowID), nil)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Empty(t, h.store.EscrowOperations())
	assert.Empty(t, h.store.CoinTransactions())
	h.view(func(tx persistence.Tx) {
		e, err := tx.GetMerchantEscrow(h.ctx, escrowID)
		require.NoError(t, err)
		assert.Equal(t, state.EscrowPending, e.Status)
	})
}

// ============================================================================
// Test: Offer
// ============================================================================

func TestOffer_EnableDisableIdempotent(t *testing.T) {
	h := newHarness(t)
	earlier := fixedNow.Add(-time.Hour)
	id := h.store.PutOffer(state.Offer{UserID: 1, Side: state.SideSell, UpdatedAt: earlier})

	require.NoError(t, h.dispatch("OFFER_DISABLE", idStr(id), nil))
	h.tick(time.Minute)
	require.NoError(t, h.dispatch("OFFER_DISABLE", idStr(id), nil))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.True(t, o.Disabled)
		// second disable wrote nothing
		assert.Equal(t, fixedNow, o.UpdatedAt)
	})

	require.NoError(t, h.dispatch("OFFER_ENABLE", idStr(id), nil))
	h.tick(time.Minute)
	require.NoError(t, h.dispatch("OFFER_ENABLE", idStr(id), nil))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.False(t, o.Disabled)
		assert.Equal(t, fixedNow.Add(time.Minute), o.UpdatedAt)
	})
}

func TestOffer_Staleness(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutOffer(state.Offer{UserID: 1, UpdatedAt: fixedNow})

	require.NoError(t, h.dispatch("OFFER_DISABLE", idStr(id), map[string]any{"updatedAt": ms(2 * time.Second)}))
	// enable stamped before the disable arrives late
	require.NoError(t, h.dispatch("OFFER_ENABLE", idStr(id), map[string]any{"updatedAt": ms(time.Second)}))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.True(t, o.Disabled)
		assert.Equal(t, ms(2*time.Second), o.UpdatedAt.UnixMilli())
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StaleMessages.WithLabelValues("Offer")))

	require.NoError(t, h.dispatch("OFFER_ENABLE", idStr(id), map[string]any{"updatedAt": ms(3 * time.Second)}))
	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.False(t, o.Disabled)
	})
}

func TestOffer_UpdateSplitsSymbol(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutOffer(state.Offer{UserID: 1, CoinCurrency: "usdt", FiatCurrency: "vnd", Side: state.SideSell})

	require.NoError(t, h.dispatch("OFFER_UPDATE", idStr(id), map[string]any{
		"symbol": "BTC:USD", "price": "65000", "paymentMethodIds": []int64{3, 1}, "online": true,
	}))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "btc", o.CoinCurrency)
		assert.Equal(t, "usd", o.FiatCurrency)
		assert.True(t, o.Price.Equal(dec("65000")))
		assert.Equal(t, []int64{3, 1}, o.PaymentMethodIDs)
		assert.True(t, o.Online)
	})
}

func TestOffer_InvalidSymbolDropped(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutOffer(state.Offer{UserID: 1, CoinCurrency: "usdt", FiatCurrency: "vnd"})

	require.NoError(t, h.dispatch("OFFER_UPDATE", idStr(id), map[string]any{"symbol": "USDTVND"}))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "usdt", o.CoinCurrency)
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MessagesDropped.WithLabelValues("invalid_payload")))
}

func TestOffer_DeleteIsSoft(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutOffer(state.Offer{UserID: 1})

	require.NoError(t, h.dispatch("OFFER_DELETE", idStr(id), nil))

	h.view(func(tx persistence.Tx) {
		o, err := tx.GetOffer(h.ctx, id)
		require.NoError(t, err)
		assert.True(t, o.Deleted)
	})
}
