package core

import (
	"context"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"

	"github.com/shopspring/decimal"
)

// AmmPoolHandler mirrors pool math results computed by the engine.
type AmmPoolHandler struct {
	*deps
}

func (h *AmmPoolHandler) Kind() event.EntityKind { return event.KindAmmPool }

func (h *AmmPoolHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.AmmPoolPayload
	if ok, err := decode(env, &p); !ok || p.Pair == "" {
		return err
	}

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		pool, err := tx.GetAmmPoolByPair(ctx, p.Pair)
		if isNotFound(err) {
			return h.notFound(event.KindAmmPool, p.Pair)
		}
		if err != nil {
			return err
		}
		if !h.fresh(event.KindAmmPool, p.Pair, pool.UpdatedAt, p.UpdatedAt) {
			return nil
		}
		if pool.Status == state.PoolFailed || pool.Status == state.PoolTransactionError {
			h.logger.Info().Str("pair", p.Pair).Str("status", string(pool.Status)).
				Msg("pool is in an error state, ignoring update")
			return nil
		}

		applyPoolFields(pool, &p)

		if p.IsActive != nil {
			changed, err := pool.SetActive(*p.IsActive)
			switch {
			case err != nil:
				h.logger.Warn().Err(err).Str("pair", p.Pair).Msg("pool status not changed")
			case changed:
				h.transitioned(event.KindAmmPool, string(pool.Status))
			}
		}

		pool.UpdatedAt = MessageTime(p.UpdatedAt)
		return tx.SaveAmmPool(ctx, pool)
	})
}

// HandleFailure annotates the pool only; numbers and status stay as they were.
func (h *AmmPoolHandler) HandleFailure(ctx context.Context, env *event.Envelope) error {
	var p event.AmmPoolPayload
	if ok, err := decode(env, &p); !ok || p.Pair == "" {
		return err
	}

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		pool, err := tx.GetAmmPoolByPair(ctx, p.Pair)
		if isNotFound(err) {
			return h.notFound(event.KindAmmPool, p.Pair)
		}
		if err != nil {
			return err
		}
		pool.StatusExplanation = "Exchange Engine: " + env.ErrorMessage
		h.logger.Warn().Str("pair", p.Pair).Str("error", env.ErrorMessage).Msg("engine rejected pool update")
		return tx.SaveAmmPool(ctx, pool)
	})
}

func applyPoolFields(pool *state.AmmPool, p *event.AmmPoolPayload) {
	setDecimal(&pool.FeePercentage, p.FeePercentage)
	setDecimal(&pool.FeeProtocolPercentage, p.FeeProtocolPercentage)
	setInt(&pool.TickSpacing, p.TickSpacing)
	setInt(&pool.CurrentTick, p.CurrentTick)
	setDecimal(&pool.SqrtPrice, p.SqrtPrice)
	setDecimal(&pool.Price, p.Price)
	setDecimal(&pool.Liquidity, p.Liquidity)
	setDecimal(&pool.FeeGrowthGlobal0, p.FeeGrowthGlobal0)
	setDecimal(&pool.FeeGrowthGlobal1, p.FeeGrowthGlobal1)
	setDecimal(&pool.ProtocolFees0, p.ProtocolFees0)
	setDecimal(&pool.ProtocolFees1, p.ProtocolFees1)
	setDecimal(&pool.Volume0, p.Volume0)
	setDecimal(&pool.Volume1, p.Volume1)
	setDecimal(&pool.TotalValueLocked0, p.TotalValueLocked0)
	setDecimal(&pool.TotalValueLocked1, p.TotalValueLocked1)
	setDecimal(&pool.InitPrice, p.InitPrice)
}

func setDecimal(dst *decimal.Decimal, src *decimal.Decimal) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
