package persistence

import (
	"context"

	"SettleLedger/internal/ledger"
	"SettleLedger/internal/state"
)

// Store runs units of work against the settlement ledger.
type Store interface {
	// InTx runs fn in a read-write transaction. Rows fetched through the
	// Tx are locked until fn returns. Any error from fn rolls back every
	// write made through the Tx.
	InTx(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction without row locks.
	View(ctx context.Context, fn func(Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is the set of reads and writes a handler may perform in one unit of
// work. Entity getters return ErrNotFound when the row is absent; account
// getters follow ledger.AccountLookup and return (nil, nil).
type Tx interface {
	ledger.EntryStore

	GetTrade(ctx context.Context, id int64) (*state.Trade, error)
	GetTradeByEngineID(ctx context.Context, engineTradeID string) (*state.Trade, error)
	InsertTrade(ctx context.Context, t *state.Trade) error
	SaveTrade(ctx context.Context, t *state.Trade) error

	GetOffer(ctx context.Context, id int64) (*state.Offer, error)
	SaveOffer(ctx context.Context, o *state.Offer) error

	GetAmmPool(ctx context.Context, id int64) (*state.AmmPool, error)
	GetAmmPoolByPair(ctx context.Context, pair string) (*state.AmmPool, error)
	SaveAmmPool(ctx context.Context, p *state.AmmPool) error

	GetAmmPosition(ctx context.Context, id int64) (*state.AmmPosition, error)
	GetAmmPositionByIdentifier(ctx context.Context, identifier string) (*state.AmmPosition, error)
	SaveAmmPosition(ctx context.Context, p *state.AmmPosition) error

	GetAmmOrder(ctx context.Context, id int64) (*state.AmmOrder, error)
	GetAmmOrderByIdentifier(ctx context.Context, identifier string) (*state.AmmOrder, error)
	SaveAmmOrder(ctx context.Context, o *state.AmmOrder) error

	GetTick(ctx context.Context, id int64) (*state.Tick, error)
	GetTickByKey(ctx context.Context, tickKey string) (*state.Tick, error)
	InsertTick(ctx context.Context, t *state.Tick) error
	SaveTick(ctx context.Context, t *state.Tick) error

	GetBalanceLock(ctx context.Context, id int64) (*state.BalanceLock, error)
	SaveBalanceLock(ctx context.Context, l *state.BalanceLock) error

	GetCoinWithdrawal(ctx context.Context, id int64) (*state.CoinWithdrawal, error)
	SaveCoinWithdrawal(ctx context.Context, w *state.CoinWithdrawal) error

	GetMerchantEscrow(ctx context.Context, id int64) (*state.MerchantEscrow, error)
	SaveMerchantEscrow(ctx context.Context, e *state.MerchantEscrow) error

	GetEscrowOperation(ctx context.Context, escrowID int64, opType ledger.EscrowOperationType) (*ledger.EscrowOperation, error)
	GetFiatDepositByTrade(ctx context.Context, tradeID int64) (*ledger.FiatDeposit, error)
	GetFiatWithdrawalByTrade(ctx context.Context, tradeID int64) (*ledger.FiatWithdrawal, error)
}
