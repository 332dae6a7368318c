package core

import (
	"context"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

type CoinWithdrawalHandler struct {
	*deps
}

func (h *CoinWithdrawalHandler) Kind() event.EntityKind { return event.KindCoinWithdrawal }

func (h *CoinWithdrawalHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.CoinWithdrawalPayload
	if ok, err := decode(env, &p); !ok {
		return err
	}
	id, ok := p.Identifier.Int64()
	if !ok {
		return nil
	}
	idStr := p.Identifier.String()

	target, ok := state.ParseEngineWithdrawalStatus(p.Status)
	if !ok {
		h.logger.Warn().Int64("withdrawal_id", id).Str("status", p.Status).Msg("unknown engine withdrawal status")
		return nil
	}

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		w, err := tx.GetCoinWithdrawal(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindCoinWithdrawal, idStr)
		}
		if err != nil {
			return err
		}
		// the guard applies only when the engine stamped the message
		if p.UpdatedAt > 0 && !h.fresh(event.KindCoinWithdrawal, idStr, w.UpdatedAt, p.UpdatedAt) {
			return nil
		}
		if w.Status == target {
			return nil
		}
		if err := w.TransitionTo(target, p.StatusExplanation); err != nil {
			h.logger.Info().Err(err).Int64("withdrawal_id", id).Msg("withdrawal transition ignored")
			return nil
		}
		if target == state.WithdrawalFailed {
			w.ErrorMessage = engineFailure(p.StatusExplanation)
		}
		h.transitioned(event.KindCoinWithdrawal, string(w.Status))

		w.UpdatedAt = messageTimeOr(p.UpdatedAt, h.now().UTC())
		return tx.SaveCoinWithdrawal(ctx, w)
	})
}

// HandleFailure forces the withdrawal to failed whatever the engine status
// field says.
func (h *CoinWithdrawalHandler) HandleFailure(ctx context.Context, env *event.Envelope) error {
	var p event.CoinWithdrawalPayload
	if _, err := decode(env, &p); err != nil {
		return err
	}
	ref := p.Identifier
	if ref == "" {
		ref = env.ActionID
	}
	id, ok := ref.Int64()
	if !ok {
		return nil
	}
	msg := engineFailure(env.ErrorMessage)

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		w, err := tx.GetCoinWithdrawal(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindCoinWithdrawal, ref.String())
		}
		if err != nil {
			return err
		}
		w.Fail(msg)
		h.transitioned(event.KindCoinWithdrawal, string(w.Status))
		h.logger.Warn().Int64("withdrawal_id", id).Str("error", msg).Msg("engine failed withdrawal")

		w.UpdatedAt = messageTimeOr(p.UpdatedAt, h.now().UTC())
		return tx.SaveCoinWithdrawal(ctx, w)
	})
}
