package query_test

import (
	"context"
	"testing"

	"SettleLedger/internal/ledger"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/query"
	"SettleLedger/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*query.Service, *persistence.MemoryStore, *observability.Metrics) {
	t.Helper()
	store := persistence.NewMemoryStore()
	m := observability.NewMetrics(prometheus.NewRegistry())
	return query.NewService(store, m), store, m
}

// ============================================================================
// Test: GetRecord
// ============================================================================

func TestGetRecord_TradeWithFiatLeg(t *testing.T) {
	svc, store, m := newService(t)
	ctx := context.Background()

	id := store.PutTrade(state.Trade{EngineTradeID: "ENG-9", Status: state.TradeAwaiting})
	require.NoError(t, store.InTx(ctx, func(tx persistence.Tx) error {
		return tx.InsertFiatDeposit(ctx, &ledger.FiatDeposit{
			TradeID: id, UserID: 3, Currency: "vnd", Amount: decimal.NewFromInt(2_500_000), Status: ledger.DepositPending,
		})
	}))

	byEngine, err := svc.GetRecord(ctx, "trade", "ENG-9")
	require.NoError(t, err)
	assert.Equal(t, "Trade", byEngine.Kind)
	tr := byEngine.Data.(*state.Trade)
	assert.Equal(t, id, tr.ID)
	require.Contains(t, byEngine.Related, "fiat_deposit")
	assert.NotContains(t, byEngine.Related, "fiat_withdrawal")
	assert.False(t, byEngine.AsOf.IsZero())

	byID, err := svc.GetRecord(ctx, "Trade", "1")
	require.NoError(t, err)
	assert.Equal(t, id, byID.Data.(*state.Trade).ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueryRequests.WithLabelValues("Trade", "ok")))
}

func TestGetRecord_BusinessKeys(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	store.PutAmmPool(state.AmmPool{Pair: "USDT/VND", Status: state.PoolActive})
	store.PutAmmPosition(state.AmmPosition{Identifier: "pos-1"})
	store.PutAmmOrder(state.AmmOrder{Identifier: "ord-1"})
	store.PutTick(state.Tick{TickKey: "USDT/VND--120", PoolPair: "USDT/VND", TickIndex: -120})

	for _, tt := range []struct{ kind, id string }{
		{"amm_pool", "USDT/VND"},
		{"AmmPosition", "pos-1"},
		{"amm_order", "ord-1"},
		{"tick", "USDT/VND--120"},
	} {
		rec, err := svc.GetRecord(ctx, tt.kind, tt.id)
		require.NoError(t, err, "%s/%s", tt.kind, tt.id)
		assert.NotNil(t, rec.Data)
	}
}

func TestGetRecord_EscrowOperations(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	id := store.PutMerchantEscrow(state.MerchantEscrow{Status: state.EscrowActive})
	require.NoError(t, store.InTx(ctx, func(tx persistence.Tx) error {
		return tx.InsertEscrowOperation(ctx, &ledger.EscrowOperation{
			EscrowID: id, Type: ledger.EscrowMint, UsdtAmount: decimal.NewFromInt(10), FiatAmount: decimal.NewFromInt(250_000),
		})
	}))

	rec, err := svc.GetRecord(ctx, "merchant_escrow", "1")
	require.NoError(t, err)
	assert.Contains(t, rec.Related, "mint")
	assert.NotContains(t, rec.Related, "burn")
}

func TestGetRecord_Errors(t *testing.T) {
	svc, _, m := newService(t)
	ctx := context.Background()

	_, err := svc.GetRecord(ctx, "spaceship", "1")
	assert.ErrorIs(t, err, query.ErrUnknownKind)

	_, err = svc.GetRecord(ctx, "coin_withdrawal", "404")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	_, err = svc.GetRecord(ctx, "balance_lock", "not-a-number")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryRequests.WithLabelValues("CoinWithdrawal", "not_found")))
}
