package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"SettleLedger/internal/ledger"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// failingDeposits hands handlers a Tx whose fiat deposit insert fails.
type failingDeposits struct {
	*persistence.MemoryStore
}

func (s failingDeposits) InTx(ctx context.Context, fn func(persistence.Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(tx persistence.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	persistence.Tx
}

func (failingTx) InsertFiatDeposit(context.Context, *ledger.FiatDeposit) error {
	return errDiskFull
}

func seedOffer(h *harness, side state.Side) int64 {
	return h.store.PutOffer(state.Offer{
		UserID: 1, Side: side, CoinCurrency: "usdt", FiatCurrency: "vnd", Price: dec("25000"),
	})
}

func tradeCreate(offerID int64, engineID, takerSide string) map[string]any {
	return map[string]any{
		"identifier": engineID,
		"offerKey":   state.OfferKey(offerID),
		"buyerId":    2,
		"sellerId":   1,
		"coinAmount": "10",
		"fiatAmount": "250000",
		"takerSide":  takerSide,
		"updatedAt":  ms(0),
	}
}

func (h *harness) tradeByEngineID(id string) *state.Trade {
	h.t.Helper()
	var tr *state.Trade
	h.view(func(tx persistence.Tx) {
		var err error
		tr, err = tx.GetTradeByEngineID(h.ctx, id)
		require.NoError(h.t, err)
	})
	return tr
}

// ============================================================================
// Test: Trade creation
// ============================================================================

func TestTrade_CreateDerivesDeposit(t *testing.T) {
	h := newHarness(t)
	offerID := seedOffer(h, state.SideSell)

	require.NoError(t, h.dispatch("TRADE_CREATE", "", tradeCreate(offerID, "ENG-1", "buy")))

	tr := h.tradeByEngineID("ENG-1")
	assert.Equal(t, fmt.Sprintf("TRADE%08d", tr.ID), tr.Ref)
	assert.Equal(t, offerID, tr.OfferID)
	assert.Equal(t, "usdt", tr.CoinCurrency)
	assert.Equal(t, "vnd", tr.FiatCurrency)
	assert.Equal(t, state.TradeAwaiting, tr.Status)
	assert.Equal(t, state.SideBuy, tr.TakerSide)
	assert.True(t, tr.Price.Equal(dec("25000")))

	deposits := h.store.FiatDeposits()
	require.Len(t, deposits, 1)
	assert.Equal(t, tr.ID, deposits[0].TradeID)
	assert.Equal(t, int64(2), deposits[0].UserID)
	assert.Equal(t, "vnd", deposits[0].Currency)
	assert.True(t, deposits[0].Amount.Equal(dec("250000")))
	assert.Empty(t, h.store.FiatWithdrawals())
}

func TestTrade_CreateDerivesWithdrawal(t *testing.T) {
	h := newHarness(t)
	offerID := seedOffer(h, state.SideBuy)

	require.NoError(t, h.dispatch("TRADE_CREATE", "", tradeCreate(offerID, "ENG-2", "sell")))

	tr := h.tradeByEngineID("ENG-2")
	withdrawals := h.store.FiatWithdrawals()
	require.Len(t, withdrawals, 1)
	assert.Equal(t, tr.ID, withdrawals[0].TradeID)
	assert.Equal(t, int64(1), withdrawals[0].UserID)
	assert.Empty(t, h.store.FiatDeposits())
}

func TestTrade_CreateRedeliveryIsUpdate(t *testing.T) {
	h := newHarness(t)
	offerID := seedOffer(h, state.SideSell)

	require.NoError(t, h.dispatch("TRADE_CREATE", "", tradeCreate(offerID, "ENG-3", "buy")))
	again := tradeCreate(offerID, "ENG-3", "buy")
	again["status"] = "picked"
	again["updatedAt"] = ms(time.Second)
	require.NoError(t, h.dispatch("TRADE_CREATE", "", again))

	assert.Equal(t, 1, h.store.TradeCount())
	assert.Len(t, h.store.FiatDeposits(), 1)
	assert.Equal(t, state.TradePicked, h.tradeByEngineID("ENG-3").Status)
}

func TestTrade_DerivedInsertFailureRollsBack(t *testing.T) {
	h := newHarnessWithStore(t, func(m *persistence.MemoryStore) persistence.Store {
		return failingDeposits{MemoryStore: m}
	})
	offerID := seedOffer(h, state.SideSell)

	err := h.dispatch("TRADE_CREATE", "", tradeCreate(offerID, "ENG-4", "buy"))
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, 0, h.store.TradeCount())
	assert.Empty(t, h.store.FiatDeposits())
	assert.Contains(t, h.logs.String(), "failed to create deposit")
}

func TestTrade_SameSideCombinationRollsBack(t *testing.T) {
	h := newHarness(t)
	offerID := seedOffer(h, state.SideSell)

	err := h.dispatch("TRADE_CREATE", "", tradeCreate(offerID, "ENG-5", "sell"))
	require.Error(t, err)

	assert.Equal(t, 0, h.store.TradeCount())
	assert.Contains(t, h.logs.String(), "failed to create withdrawal")
}

func TestTrade_CreateWithoutOfferIsSkipped(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dispatch("TRADE_CREATE", "", tradeCreate(404, "ENG-6", "buy")))
	assert.Equal(t, 0, h.store.TradeCount())
}

func TestTrade_CreateOnlyAcceptsReachableStatus(t *testing.T) {
	cases := map[string]state.TradeStatus{
		"":         state.TradeAwaiting,
		"PICKED":   state.TradePicked,
		"unpicked": state.TradeUnpicked,
		"bogus":    state.TradeAwaiting,
		"paid":     state.TradeAwaiting,
		"disputed": state.TradeAwaiting,
		"released": state.TradeAwaiting,
	}
	for status, want := range cases {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t)
			offerID := seedOffer(h, state.SideSell)
			msg := tradeCreate(offerID, "ENG-S", "buy")
			if status != "" {
				msg["status"] = status
			}
			require.NoError(t, h.dispatch("TRADE_CREATE", "", msg))
			assert.Equal(t, want, h.tradeByEngineID("ENG-S").Status)
		})
	}
}

func TestTrade_UpdateIgnoresUnknownStatus(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutTrade(state.Trade{EngineTradeID: "ENG-U", Status: state.TradeUnpaid, UpdatedAt: fixedNow})

	require.NoError(t, h.dispatch("TRADE_UPDATE", idStr(id), map[string]any{
		"status": "bogus", "coinAmount": "3", "updatedAt": ms(time.Second),
	}))

	tr := h.tradeByEngineID("ENG-U")
	assert.Equal(t, state.TradeUnpaid, tr.Status)
	assert.True(t, tr.CoinAmount.Equal(dec("3")))
	assert.Contains(t, h.logs.String(), "unknown trade status")
}

// ============================================================================
// Test: Trade lifecycle
// ============================================================================

func TestTrade_UpdateFollowsMachine(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutTrade(state.Trade{EngineTradeID: "ENG-7", Status: state.TradeAwaiting, UpdatedAt: fixedNow})

	require.NoError(t, h.dispatch("TRADE_UPDATE", idStr(id), map[string]any{"status": "PICKED", "updatedAt": ms(time.Second)}))
	// stale
	require.NoError(t, h.dispatch("TRADE_UPDATE", idStr(id), map[string]any{"status": "cancelled", "updatedAt": ms(0)}))
	// not reachable from picked
	require.NoError(t, h.dispatch("TRADE_UPDATE", idStr(id), map[string]any{"status": "released", "updatedAt": ms(2 * time.Second)}))

	tr := h.tradeByEngineID("ENG-7")
	assert.Equal(t, state.TradePicked, tr.Status)
	assert.Equal(t, ms(2*time.Second), tr.UpdatedAt.UnixMilli())
	assert.Contains(t, h.logs.String(), "trade transition not permitted")
}

func TestTrade_UpdateByEngineIdentifier(t *testing.T) {
	h := newHarness(t)
	h.store.PutTrade(state.Trade{EngineTradeID: "ENG-8", Status: state.TradeUnpaid})

	require.NoError(t, h.dispatch("TRADE_UPDATE", "", map[string]any{
		"identifier": "ENG-8", "status": "paid", "paidAt": ms(time.Second), "updatedAt": ms(time.Second),
	}))

	tr := h.tradeByEngineID("ENG-8")
	assert.Equal(t, state.TradePaid, tr.Status)
	require.NotNil(t, tr.PaidAt)
	assert.Equal(t, ms(time.Second), tr.PaidAt.UnixMilli())
}

func TestTrade_TerminalTradeIgnoresUpdates(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutTrade(state.Trade{EngineTradeID: "ENG-9", Status: state.TradeReleased, CoinAmount: dec("1")})

	require.NoError(t, h.dispatch("TRADE_UPDATE", idStr(id), map[string]any{
		"status": "disputed", "coinAmount": "99", "updatedAt": ms(0),
	}))

	tr := h.tradeByEngineID("ENG-9")
	assert.Equal(t, state.TradeReleased, tr.Status)
	assert.True(t, tr.CoinAmount.Equal(dec("1")))
}

func TestTrade_CancelAndComplete(t *testing.T) {
	h := newHarness(t)
	awaiting := h.store.PutTrade(state.Trade{EngineTradeID: "ENG-10", Status: state.TradeAwaiting})
	paid := h.store.PutTrade(state.Trade{EngineTradeID: "ENG-11", Status: state.TradePaid})

	require.NoError(t, h.dispatch("TRADE_CANCEL", idStr(awaiting), nil))
	require.NoError(t, h.dispatch("TRADE_CANCEL", idStr(awaiting), nil))
	require.NoError(t, h.dispatch("TRADE_COMPLETE", idStr(paid), nil))

	cancelled := h.tradeByEngineID("ENG-10")
	assert.Equal(t, state.TradeCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, fixedNow, *cancelled.CancelledAt)

	released := h.tradeByEngineID("ENG-11")
	assert.Equal(t, state.TradeReleased, released.Status)
	require.NotNil(t, released.ReleasedAt)
}

func TestTrade_CompleteFromAwaitingIsIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.store.PutTrade(state.Trade{EngineTradeID: "ENG-12", Status: state.TradeAwaiting})

	require.NoError(t, h.dispatch("TRADE_COMPLETE", idStr(id), nil))

	assert.Equal(t, state.TradeAwaiting, h.tradeByEngineID("ENG-12").Status)
	assert.Contains(t, h.logs.String(), "trade confirmation ignored")
}
