package core

import (
	"context"
	"errors"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

type AmmPositionHandler struct {
	*deps
}

func (h *AmmPositionHandler) Kind() event.EntityKind { return event.KindAmmPosition }

func (h *AmmPositionHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.AmmPositionPayload
	if ok, err := decode(env, &p); !ok || p.Identifier == "" {
		return err
	}
	id := p.Identifier.String()

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		pos, err := tx.GetAmmPositionByIdentifier(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindAmmPosition, id)
		}
		if err != nil {
			return err
		}
		if !h.fresh(event.KindAmmPosition, id, pos.UpdatedAt, p.UpdatedAt) {
			return nil
		}

		if p.ErrorMessage != "" {
			if pos.IsErrored() {
				h.logger.Debug().Str("identifier", id).Msg("position already errored")
				return nil
			}
			if err := pos.Fail(p.ErrorMessage); err != nil {
				return err
			}
			h.transitioned(event.KindAmmPosition, string(pos.Status))
			pos.UpdatedAt = MessageTime(p.UpdatedAt)
			return tx.SaveAmmPosition(ctx, pos)
		}

		setDecimal(&pos.Liquidity, p.Liquidity)
		setDecimal(&pos.Amount0, p.Amount0)
		setDecimal(&pos.Amount1, p.Amount1)
		setDecimal(&pos.FeeGrowthInside0LastX128, p.FeeGrowthInside0LastX128)
		setDecimal(&pos.FeeGrowthInside1LastX128, p.FeeGrowthInside1LastX128)
		setDecimal(&pos.TokensOwed0, p.TokensOwed0)
		setDecimal(&pos.TokensOwed1, p.TokensOwed1)
		setDecimal(&pos.FeeCollected0, p.FeeCollected0)
		setDecimal(&pos.FeeCollected1, p.FeeCollected1)

		h.advance(&pos.AmmLifecycle, event.KindAmmPosition, id, p.Status)

		pos.UpdatedAt = MessageTime(p.UpdatedAt)
		return tx.SaveAmmPosition(ctx, pos)
	})
}

// advance moves an AMM lifecycle toward the engine status when the machine
// allows it. Refused transitions leave the status untouched.
func (d *deps) advance(l *state.AmmLifecycle, kind event.EntityKind, id, engineStatus string) {
	if engineStatus == "" {
		return
	}
	target, ok := state.ParseAmmStatus(engineStatus)
	if !ok {
		d.logger.Warn().Str("kind", kind.String()).Str("id", id).Str("status", engineStatus).Msg("unknown engine status")
		return
	}
	changed, err := l.Advance(target)
	if errors.Is(err, state.ErrInvalidTransition) {
		d.logger.Debug().Err(err).Str("kind", kind.String()).Str("id", id).Msg("status not advanced")
		return
	}
	if changed {
		d.transitioned(kind, string(l.Status))
	}
}
