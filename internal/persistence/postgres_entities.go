package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"SettleLedger/internal/state"
)

// --- Trade ---

const tradeColumns = `id, ref, engine_trade_id, offer_id, buyer_id, seller_id, coin_currency, fiat_currency,
	coin_amount, fiat_amount, price, taker_side, status, error_message,
	paid_at, released_at, cancelled_at, expired_at, created_at, updated_at`

func scanTrade(s scanner, tr *state.Trade) error {
	var engineID sql.NullString
	var side, status string
	if err := s.Scan(&tr.ID, &tr.Ref, &engineID, &tr.OfferID, &tr.BuyerID, &tr.SellerID,
		&tr.CoinCurrency, &tr.FiatCurrency, &tr.CoinAmount, &tr.FiatAmount, &tr.Price,
		&side, &status, &tr.ErrorMessage,
		&tr.PaidAt, &tr.ReleasedAt, &tr.CancelledAt, &tr.ExpiredAt, &tr.CreatedAt, &tr.UpdatedAt,
	); err != nil {
		return err
	}
	tr.EngineTradeID = engineID.String
	tr.TakerSide = state.Side(side)
	tr.Status = state.TradeStatus(status)
	return nil
}

func (t *pgTx) getTrade(ctx context.Context, where string, arg any) (*state.Trade, error) {
	var tr state.Trade
	err := t.queryOne(ctx, `SELECT `+tradeColumns+` FROM trades WHERE `+where,
		func(s scanner) error { return scanTrade(s, &tr) }, arg)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *pgTx) GetTrade(ctx context.Context, id int64) (*state.Trade, error) {
	return t.getTrade(ctx, `id = $1`, id)
}

func (t *pgTx) GetTradeByEngineID(ctx context.Context, engineTradeID string) (*state.Trade, error) {
	if engineTradeID == "" {
		return nil, ErrNotFound
	}
	return t.getTrade(ctx, `engine_trade_id = $1`, engineTradeID)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *state.Trade) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO trades (ref, engine_trade_id, offer_id, buyer_id, seller_id, coin_currency, fiat_currency,
			coin_amount, fiat_amount, price, taker_side, status, error_message,
			paid_at, released_at, cancelled_at, expired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`,
		tr.Ref, nullString(tr.EngineTradeID), tr.OfferID, tr.BuyerID, tr.SellerID, tr.CoinCurrency, tr.FiatCurrency,
		tr.CoinAmount, tr.FiatAmount, tr.Price, string(tr.TakerSide), string(tr.Status), tr.ErrorMessage,
		tr.PaidAt, tr.ReleasedAt, tr.CancelledAt, tr.ExpiredAt, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	tr.ID = id
	return nil
}

func (t *pgTx) SaveTrade(ctx context.Context, tr *state.Trade) error {
	return t.execOne(ctx, `
		UPDATE trades SET ref = $2, engine_trade_id = $3, coin_currency = $4, fiat_currency = $5,
			coin_amount = $6, fiat_amount = $7, price = $8, taker_side = $9, status = $10, error_message = $11,
			paid_at = $12, released_at = $13, cancelled_at = $14, expired_at = $15, updated_at = $16
		WHERE id = $1`,
		tr.ID, tr.Ref, nullString(tr.EngineTradeID), tr.CoinCurrency, tr.FiatCurrency,
		tr.CoinAmount, tr.FiatAmount, tr.Price, string(tr.TakerSide), string(tr.Status), tr.ErrorMessage,
		tr.PaidAt, tr.ReleasedAt, tr.CancelledAt, tr.ExpiredAt, tr.UpdatedAt)
}

// --- Offer ---

func (t *pgTx) GetOffer(ctx context.Context, id int64) (*state.Offer, error) {
	var o state.Offer
	var side string
	err := t.queryOne(ctx, `
		SELECT id, user_id, coin_currency, fiat_currency, side, price, total_amount, available_amount,
		       min_amount, max_amount, payment_time, payment_method_ids, terms, online, disabled, deleted,
		       error_message, created_at, updated_at
		FROM offers WHERE id = $1`,
		func(s scanner) error {
			return s.Scan(&o.ID, &o.UserID, &o.CoinCurrency, &o.FiatCurrency, &side, &o.Price,
				&o.TotalAmount, &o.AvailableAmount, &o.MinAmount, &o.MaxAmount, &o.PaymentTime,
				pqInt64s(&o.PaymentMethodIDs), &o.Terms, &o.Online, &o.Disabled, &o.Deleted,
				&o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt)
		}, id)
	if err != nil {
		return nil, err
	}
	o.Side = state.Side(side)
	return &o, nil
}

func (t *pgTx) SaveOffer(ctx context.Context, o *state.Offer) error {
	ids := o.PaymentMethodIDs
	if ids == nil {
		ids = []int64{}
	}
	return t.execOne(ctx, `
		UPDATE offers SET coin_currency = $2, fiat_currency = $3, side = $4, price = $5, total_amount = $6,
			available_amount = $7, min_amount = $8, max_amount = $9, payment_time = $10,
			payment_method_ids = $11, terms = $12, online = $13, disabled = $14, deleted = $15,
			error_message = $16, updated_at = $17
		WHERE id = $1`,
		o.ID, o.CoinCurrency, o.FiatCurrency, string(o.Side), o.Price, o.TotalAmount,
		o.AvailableAmount, o.MinAmount, o.MaxAmount, o.PaymentTime,
		pqInt64s(&ids), o.Terms, o.Online, o.Disabled, o.Deleted,
		o.ErrorMessage, o.UpdatedAt)
}

// --- AmmPool ---

const poolColumns = `id, pair, fee_percentage, fee_protocol_percentage, tick_spacing, current_tick,
	sqrt_price, price, liquidity, fee_growth_global0, fee_growth_global1, protocol_fees0, protocol_fees1,
	volume0, volume1, total_value_locked0, total_value_locked1, init_price,
	status, status_explanation, error_message, created_at, updated_at`

func (t *pgTx) getPool(ctx context.Context, where string, arg any) (*state.AmmPool, error) {
	var p state.AmmPool
	var status string
	err := t.queryOne(ctx, `SELECT `+poolColumns+` FROM amm_pools WHERE `+where,
		func(s scanner) error {
			return s.Scan(&p.ID, &p.Pair, &p.FeePercentage, &p.FeeProtocolPercentage, &p.TickSpacing, &p.CurrentTick,
				&p.SqrtPrice, &p.Price, &p.Liquidity, &p.FeeGrowthGlobal0, &p.FeeGrowthGlobal1,
				&p.ProtocolFees0, &p.ProtocolFees1, &p.Volume0, &p.Volume1,
				&p.TotalValueLocked0, &p.TotalValueLocked1, &p.InitPrice,
				&status, &p.StatusExplanation, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
		}, arg)
	if err != nil {
		return nil, err
	}
	p.Status = state.AmmPoolStatus(status)
	return &p, nil
}

func (t *pgTx) GetAmmPool(ctx context.Context, id int64) (*state.AmmPool, error) {
	return t.getPool(ctx, `id = $1`, id)
}

func (t *pgTx) GetAmmPoolByPair(ctx context.Context, pair string) (*state.AmmPool, error) {
	return t.getPool(ctx, `pair = $1`, pair)
}

func (t *pgTx) SaveAmmPool(ctx context.Context, p *state.AmmPool) error {
	return t.execOne(ctx, `
		UPDATE amm_pools SET fee_percentage = $2, fee_protocol_percentage = $3, tick_spacing = $4,
			current_tick = $5, sqrt_price = $6, price = $7, liquidity = $8,
			fee_growth_global0 = $9, fee_growth_global1 = $10, protocol_fees0 = $11, protocol_fees1 = $12,
			volume0 = $13, volume1 = $14, total_value_locked0 = $15, total_value_locked1 = $16,
			init_price = $17, status = $18, status_explanation = $19, error_message = $20, updated_at = $21
		WHERE id = $1`,
		p.ID, p.FeePercentage, p.FeeProtocolPercentage, p.TickSpacing,
		p.CurrentTick, p.SqrtPrice, p.Price, p.Liquidity,
		p.FeeGrowthGlobal0, p.FeeGrowthGlobal1, p.ProtocolFees0, p.ProtocolFees1,
		p.Volume0, p.Volume1, p.TotalValueLocked0, p.TotalValueLocked1,
		p.InitPrice, string(p.Status), p.StatusExplanation, p.ErrorMessage, p.UpdatedAt)
}

// --- AmmPosition ---

const positionColumns = `id, identifier, pool_id, user_id, tick_lower_index, tick_upper_index,
	liquidity, amount0, amount1, fee_growth_inside0_last_x128, fee_growth_inside1_last_x128,
	tokens_owed0, tokens_owed1, fee_collected0, fee_collected1,
	status, error_message, created_at, updated_at`

func (t *pgTx) getPosition(ctx context.Context, where string, arg any) (*state.AmmPosition, error) {
	var p state.AmmPosition
	var status string
	err := t.queryOne(ctx, `SELECT `+positionColumns+` FROM amm_positions WHERE `+where,
		func(s scanner) error {
			return s.Scan(&p.ID, &p.Identifier, &p.PoolID, &p.UserID, &p.TickLowerIndex, &p.TickUpperIndex,
				&p.Liquidity, &p.Amount0, &p.Amount1, &p.FeeGrowthInside0LastX128, &p.FeeGrowthInside1LastX128,
				&p.TokensOwed0, &p.TokensOwed1, &p.FeeCollected0, &p.FeeCollected1,
				&status, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
		}, arg)
	if err != nil {
		return nil, err
	}
	p.Status = state.AmmStatus(status)
	return &p, nil
}

func (t *pgTx) GetAmmPosition(ctx context.Context, id int64) (*state.AmmPosition, error) {
	return t.getPosition(ctx, `id = $1`, id)
}

func (t *pgTx) GetAmmPositionByIdentifier(ctx context.Context, identifier string) (*state.AmmPosition, error) {
	return t.getPosition(ctx, `identifier = $1`, identifier)
}

func (t *pgTx) SaveAmmPosition(ctx context.Context, p *state.AmmPosition) error {
	return t.execOne(ctx, `
		UPDATE amm_positions SET liquidity = $2, amount0 = $3, amount1 = $4,
			fee_growth_inside0_last_x128 = $5, fee_growth_inside1_last_x128 = $6,
			tokens_owed0 = $7, tokens_owed1 = $8, fee_collected0 = $9, fee_collected1 = $10,
			status = $11, error_message = $12, updated_at = $13
		WHERE id = $1`,
		p.ID, p.Liquidity, p.Amount0, p.Amount1,
		p.FeeGrowthInside0LastX128, p.FeeGrowthInside1LastX128,
		p.TokensOwed0, p.TokensOwed1, p.FeeCollected0, p.FeeCollected1,
		string(p.Status), p.ErrorMessage, p.UpdatedAt)
}

// --- AmmOrder ---

const orderColumns = `id, identifier, pool_id, user_id, zero_for_one, amount_specified,
	amount_actual, amount_estimated, amount_received, tick_lower_index, tick_upper_index,
	fees, slippage, status, error_message, created_at, updated_at`

func (t *pgTx) getOrder(ctx context.Context, where string, arg any) (*state.AmmOrder, error) {
	var o state.AmmOrder
	var status string
	err := t.queryOne(ctx, `SELECT `+orderColumns+` FROM amm_orders WHERE `+where,
		func(s scanner) error {
			return s.Scan(&o.ID, &o.Identifier, &o.PoolID, &o.UserID, &o.ZeroForOne, &o.AmountSpecified,
				&o.AmountActual, &o.AmountEstimated, &o.AmountReceived, &o.TickLowerIndex, &o.TickUpperIndex,
				&o.Fees, &o.Slippage, &status, &o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt)
		}, arg)
	if err != nil {
		return nil, err
	}
	o.Status = state.AmmStatus(status)
	return &o, nil
}

func (t *pgTx) GetAmmOrder(ctx context.Context, id int64) (*state.AmmOrder, error) {
	return t.getOrder(ctx, `id = $1`, id)
}

func (t *pgTx) GetAmmOrderByIdentifier(ctx context.Context, identifier string) (*state.AmmOrder, error) {
	return t.getOrder(ctx, `identifier = $1`, identifier)
}

func (t *pgTx) SaveAmmOrder(ctx context.Context, o *state.AmmOrder) error {
	return t.execOne(ctx, `
		UPDATE amm_orders SET amount_actual = $2, amount_estimated = $3, amount_received = $4,
			tick_lower_index = $5, tick_upper_index = $6, fees = $7, slippage = $8,
			status = $9, error_message = $10, updated_at = $11
		WHERE id = $1`,
		o.ID, o.AmountActual, o.AmountEstimated, o.AmountReceived,
		o.TickLowerIndex, o.TickUpperIndex, o.Fees, o.Slippage,
		string(o.Status), o.ErrorMessage, o.UpdatedAt)
}

// --- Tick ---

const tickColumns = `id, tick_key, pool_pair, tick_index, liquidity_gross, liquidity_net,
	fee_growth_outside0, fee_growth_outside1, initialized, status, error_message, created_at, updated_at`

func (t *pgTx) getTick(ctx context.Context, where string, arg any) (*state.Tick, error) {
	var tk state.Tick
	var status string
	err := t.queryOne(ctx, `SELECT `+tickColumns+` FROM ticks WHERE `+where,
		func(s scanner) error {
			return s.Scan(&tk.ID, &tk.TickKey, &tk.PoolPair, &tk.TickIndex, &tk.LiquidityGross, &tk.LiquidityNet,
				&tk.FeeGrowthOutside0, &tk.FeeGrowthOutside1, &tk.Initialized, &status, &tk.ErrorMessage,
				&tk.CreatedAt, &tk.UpdatedAt)
		}, arg)
	if err != nil {
		return nil, err
	}
	tk.Status = state.TickStatus(status)
	return &tk, nil
}

func (t *pgTx) GetTick(ctx context.Context, id int64) (*state.Tick, error) {
	return t.getTick(ctx, `id = $1`, id)
}

func (t *pgTx) GetTickByKey(ctx context.Context, tickKey string) (*state.Tick, error) {
	return t.getTick(ctx, `tick_key = $1`, tickKey)
}

func (t *pgTx) InsertTick(ctx context.Context, tk *state.Tick) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO ticks (tick_key, pool_pair, tick_index, liquidity_gross, liquidity_net,
			fee_growth_outside0, fee_growth_outside1, initialized, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		tk.TickKey, tk.PoolPair, tk.TickIndex, tk.LiquidityGross, tk.LiquidityNet,
		tk.FeeGrowthOutside0, tk.FeeGrowthOutside1, tk.Initialized, string(tk.Status), tk.ErrorMessage,
		tk.CreatedAt, tk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tick %s: %w", tk.TickKey, err)
	}
	tk.ID = id
	return nil
}

func (t *pgTx) SaveTick(ctx context.Context, tk *state.Tick) error {
	return t.execOne(ctx, `
		UPDATE ticks SET liquidity_gross = $2, liquidity_net = $3, fee_growth_outside0 = $4,
			fee_growth_outside1 = $5, initialized = $6, status = $7, error_message = $8, updated_at = $9
		WHERE id = $1`,
		tk.ID, tk.LiquidityGross, tk.LiquidityNet, tk.FeeGrowthOutside0,
		tk.FeeGrowthOutside1, tk.Initialized, string(tk.Status), tk.ErrorMessage, tk.UpdatedAt)
}

// --- BalanceLock ---

func (t *pgTx) GetBalanceLock(ctx context.Context, id int64) (*state.BalanceLock, error) {
	var l state.BalanceLock
	var status string
	var balances []byte
	err := t.queryOne(ctx, `
		SELECT id, user_id, engine_lock_id, locked_balances, performer_id, reason, status, error_message,
		       created_at, updated_at
		FROM balance_locks WHERE id = $1`,
		func(s scanner) error {
			return s.Scan(&l.ID, &l.UserID, &l.EngineLockID, &balances, &l.PerformerID, &l.Reason,
				&status, &l.ErrorMessage, &l.CreatedAt, &l.UpdatedAt)
		}, id)
	if err != nil {
		return nil, err
	}
	l.Status = state.BalanceLockStatus(status)
	l.LockedBalances = map[string]string{}
	if len(balances) > 0 {
		if err := json.Unmarshal(balances, &l.LockedBalances); err != nil {
			return nil, fmt.Errorf("decode locked_balances of lock %d: %w", id, err)
		}
	}
	return &l, nil
}

func (t *pgTx) SaveBalanceLock(ctx context.Context, l *state.BalanceLock) error {
	balances := l.LockedBalances
	if balances == nil {
		balances = map[string]string{}
	}
	raw, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("encode locked_balances: %w", err)
	}
	return t.execOne(ctx, `
		UPDATE balance_locks SET engine_lock_id = $2, locked_balances = $3, status = $4,
			error_message = $5, updated_at = $6
		WHERE id = $1`,
		l.ID, l.EngineLockID, raw, string(l.Status), l.ErrorMessage, l.UpdatedAt)
}

// --- CoinWithdrawal ---

func (t *pgTx) GetCoinWithdrawal(ctx context.Context, id int64) (*state.CoinWithdrawal, error) {
	var w state.CoinWithdrawal
	var status string
	err := t.queryOne(ctx, `
		SELECT id, user_id, currency, status, status_explanation, error_message, created_at, updated_at
		FROM coin_withdrawals WHERE id = $1`,
		func(s scanner) error {
			return s.Scan(&w.ID, &w.UserID, &w.Currency, &status, &w.StatusExplanation, &w.ErrorMessage,
				&w.CreatedAt, &w.UpdatedAt)
		}, id)
	if err != nil {
		return nil, err
	}
	w.Status = state.CoinWithdrawalStatus(status)
	return &w, nil
}

func (t *pgTx) SaveCoinWithdrawal(ctx context.Context, w *state.CoinWithdrawal) error {
	return t.execOne(ctx, `
		UPDATE coin_withdrawals SET status = $2, status_explanation = $3, error_message = $4, updated_at = $5
		WHERE id = $1`,
		w.ID, string(w.Status), w.StatusExplanation, w.ErrorMessage, w.UpdatedAt)
}

// --- MerchantEscrow ---

func (t *pgTx) GetMerchantEscrow(ctx context.Context, id int64) (*state.MerchantEscrow, error) {
	var e state.MerchantEscrow
	var status string
	err := t.queryOne(ctx, `
		SELECT id, user_id, usdt_account_id, fiat_account_id, usdt_amount, fiat_amount, fiat_currency,
		       status, error_message, created_at, updated_at
		FROM merchant_escrows WHERE id = $1`,
		func(s scanner) error {
			return s.Scan(&e.ID, &e.UserID, &e.UsdtAccountID, &e.FiatAccountID, &e.UsdtAmount, &e.FiatAmount,
				&e.FiatCurrency, &status, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
		}, id)
	if err != nil {
		return nil, err
	}
	e.Status = state.MerchantEscrowStatus(status)
	return &e, nil
}

func (t *pgTx) SaveMerchantEscrow(ctx context.Context, e *state.MerchantEscrow) error {
	return t.execOne(ctx, `
		UPDATE merchant_escrows SET usdt_account_id = $2, fiat_account_id = $3, usdt_amount = $4,
			fiat_amount = $5, status = $6, error_message = $7, updated_at = $8
		WHERE id = $1`,
		e.ID, e.UsdtAccountID, e.FiatAccountID, e.UsdtAmount,
		e.FiatAmount, string(e.Status), e.ErrorMessage, e.UpdatedAt)
}
