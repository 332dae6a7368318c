package core

import (
	"context"
	"fmt"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

// TickHandler finds or creates a tick per (poolPair, tickIndex). Unlike the
// other kinds, a stale tick message is returned as ErrStaleMessage.
type TickHandler struct {
	*deps
}

func (h *TickHandler) Kind() event.EntityKind { return event.KindTick }

func (h *TickHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.TickPayload
	if ok, err := decode(env, &p); !ok || p.PoolPair == "" || p.TickIndex == nil {
		return err
	}
	key := state.TickKey(p.PoolPair, *p.TickIndex)

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		tick, err := tx.GetTickByKey(ctx, key)
		created := false
		switch {
		case isNotFound(err):
			created = true
			tick = &state.Tick{
				TickKey:   key,
				PoolPair:  p.PoolPair,
				TickIndex: *p.TickIndex,
				Status:    state.TickPending,
				CreatedAt: messageTimeOr(p.CreatedAt, h.now().UTC()),
			}
		case err != nil:
			return err
		}

		if !h.fresh(event.KindTick, key, tick.UpdatedAt, p.UpdatedAt) {
			return fmt.Errorf("%w: tick %s at %d not after %s",
				ErrStaleMessage, key, p.UpdatedAt, tick.UpdatedAt.Format(time.RFC3339Nano))
		}

		setDecimal(&tick.LiquidityGross, p.LiquidityGross)
		setDecimal(&tick.LiquidityNet, p.LiquidityNet)
		setDecimal(&tick.FeeGrowthOutside0, p.FeeGrowthOutside0)
		setDecimal(&tick.FeeGrowthOutside1, p.FeeGrowthOutside1)
		setBool(&tick.Initialized, p.Initialized)

		if tick.Status != state.TickActive {
			if err := tick.Activate(); err != nil {
				h.logger.Warn().Err(err).Str("tick_key", key).Msg("tick not activated")
			} else {
				h.transitioned(event.KindTick, string(tick.Status))
			}
		}
		tick.UpdatedAt = MessageTime(p.UpdatedAt)

		if created {
			return tx.InsertTick(ctx, tick)
		}
		return tx.SaveTick(ctx, tick)
	})
}
