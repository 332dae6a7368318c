package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

var errSideCombination = errors.New("offer side and taker side do not settle to a fiat leg")

// TradeHandler creates trades with their fiat leg and applies the engine's
// trade lifecycle confirmations.
type TradeHandler struct {
	*deps
	op event.OperationType
}

func (h *TradeHandler) Kind() event.EntityKind { return event.KindTrade }

func (h *TradeHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.TradePayload
	hasObject, err := decode(env, &p)
	if err != nil {
		return err
	}

	switch h.op {
	case event.OperationTradeCreate:
		if !hasObject || p.Identifier == "" {
			return nil
		}
		return h.create(ctx, env, &p)
	case event.OperationTradeUpdate:
		if !hasObject {
			return nil
		}
		return h.withTrade(ctx, env, &p, func(tr *state.Trade) (bool, error) {
			return h.update(tr, &p)
		})
	case event.OperationTradeCancel:
		return h.withTrade(ctx, env, &p, func(tr *state.Trade) (bool, error) {
			return h.explicit(tr, state.TradeCancelled, p.UpdatedAt)
		})
	case event.OperationTradeComplete:
		return h.withTrade(ctx, env, &p, func(tr *state.Trade) (bool, error) {
			return h.explicit(tr, state.TradeReleased, p.UpdatedAt)
		})
	}
	return nil
}

// create inserts the trade and its fiat deposit or withdrawal in one
// transaction. A trade already known by engine id is updated instead.
func (h *TradeHandler) create(ctx context.Context, env *event.Envelope, p *event.TradePayload) error {
	engineID := p.Identifier.String()

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		existing, err := tx.GetTradeByEngineID(ctx, engineID)
		if err == nil {
			h.logger.Debug().Str("engine_trade_id", engineID).Int64("trade_id", existing.ID).
				Msg("trade already created, applying as update")
			changed, err := h.update(existing, p)
			if err != nil || !changed {
				return err
			}
			return tx.SaveTrade(ctx, existing)
		}
		if !isNotFound(err) {
			return err
		}

		offerID, ok := state.ParseOfferKey(p.OfferKey)
		if !ok {
			h.logger.Warn().Str("engine_trade_id", engineID).Str("offer_key", p.OfferKey).Msg("trade without usable offer key")
			return nil
		}
		offer, err := tx.GetOffer(ctx, offerID)
		if isNotFound(err) {
			return h.notFound(event.KindOffer, p.OfferKey)
		}
		if err != nil {
			return err
		}

		now := h.now().UTC()
		at := messageTimeOr(p.UpdatedAt, now)
		tr := &state.Trade{
			EngineTradeID: engineID,
			OfferID:       offer.ID,
			CoinCurrency:  offer.CoinCurrency,
			FiatCurrency:  offer.FiatCurrency,
			Price:         offer.Price,
			Status:        state.TradeAwaiting,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
		if p.BuyerID != nil {
			tr.BuyerID = *p.BuyerID
		}
		if p.SellerID != nil {
			tr.SellerID = *p.SellerID
		}
		if err := applyTradeFields(tr, p); err != nil {
			return errors.Join(ErrInvalidPayload, err)
		}
		if err := h.initialStatus(tr, p.Status, at); err != nil {
			return err
		}

		if err := tx.InsertTrade(ctx, tr); err != nil {
			return err
		}
		tr.Ref = state.TradeRef(tr.ID)
		if err := tx.SaveTrade(ctx, tr); err != nil {
			return err
		}

		if err := h.createFiatLeg(ctx, tx, offer.Side, tr); err != nil {
			return err
		}
		h.transitioned(event.KindTrade, string(tr.Status))
		return nil
	})
}

// initialStatus moves a new trade past awaiting when the engine created it
// further along. Only non-terminal statuses one machine step from awaiting
// are taken; anything else leaves the trade awaiting.
func (h *TradeHandler) initialStatus(tr *state.Trade, status string, at time.Time) error {
	if strings.TrimSpace(status) == "" {
		return nil
	}
	target, ok := state.ParseTradeStatus(status)
	if !ok {
		h.logger.Warn().Str("engine_trade_id", tr.EngineTradeID).Str("status", status).
			Msg("unknown trade status, trade created as awaiting")
		return nil
	}
	if target == tr.Status {
		return nil
	}
	evt, ok := state.TradeEventFor(target)
	if !ok || target.IsTerminal() || !tr.May(evt) {
		h.logger.Info().Str("engine_trade_id", tr.EngineTradeID).Str("status", string(target)).
			Msg("trade cannot be created in this status, created as awaiting")
		return nil
	}
	return tr.Fire(evt, at)
}

// createFiatLeg derives the trade's fiat movement from the offer side and
// the taker side: a buyer taking a sell offer owes a deposit, a seller
// filling a buy offer is owed a withdrawal.
func (h *TradeHandler) createFiatLeg(ctx context.Context, tx persistence.Tx, offerSide state.Side, tr *state.Trade) error {
	w := ledger.NewWriter(tx).WithClock(h.now)

	switch {
	case offerSide == state.SideSell && tr.TakerSide == state.SideBuy:
		d := &ledger.FiatDeposit{TradeID: tr.ID, UserID: tr.BuyerID, Currency: tr.FiatCurrency, Amount: tr.FiatAmount}
		if err := w.CreateFiatDeposit(ctx, d); err != nil {
			h.logger.Error().Err(err).Int64("trade_id", tr.ID).Msg("failed to create deposit")
			return fmt.Errorf("trade %s: %w", tr.EngineTradeID, err)
		}
		h.metrics.IncLedgerEntry("fiat_deposit")

	case offerSide == state.SideBuy && tr.TakerSide == state.SideSell:
		fw := &ledger.FiatWithdrawal{TradeID: tr.ID, UserID: tr.SellerID, Currency: tr.FiatCurrency, Amount: tr.FiatAmount}
		if err := w.CreateFiatWithdrawal(ctx, fw); err != nil {
			h.logger.Error().Err(err).Int64("trade_id", tr.ID).Msg("failed to create withdrawal")
			return fmt.Errorf("trade %s: %w", tr.EngineTradeID, err)
		}
		h.metrics.IncLedgerEntry("fiat_withdrawal")

	default:
		leg := "deposit"
		if tr.TakerSide == state.SideSell {
			leg = "withdrawal"
		}
		h.logger.Error().
			Int64("trade_id", tr.ID).
			Str("offer_side", string(offerSide)).
			Str("taker_side", string(tr.TakerSide)).
			Msg("failed to create " + leg)
		return fmt.Errorf("trade %s: %w", tr.EngineTradeID, errSideCombination)
	}
	return nil
}

// withTrade loads the trade addressed by actionId, or by engine identifier
// when actionId is absent, and saves it when fn reports a change.
func (h *TradeHandler) withTrade(ctx context.Context, env *event.Envelope, p *event.TradePayload,
	fn func(tr *state.Trade) (bool, error)) error {
	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		var (
			tr  *state.Trade
			err error
			ref = env.ActionID.String()
		)
		if id, ok := env.ActionID.Int64(); ok {
			tr, err = tx.GetTrade(ctx, id)
		} else if p.Identifier != "" {
			ref = p.Identifier.String()
			tr, err = tx.GetTradeByEngineID(ctx, ref)
		} else {
			return nil
		}
		if isNotFound(err) {
			return h.notFound(event.KindTrade, ref)
		}
		if err != nil {
			return err
		}

		if p.UpdatedAt > 0 && !h.fresh(event.KindTrade, ref, tr.UpdatedAt, p.UpdatedAt) {
			return nil
		}
		changed, err := fn(tr)
		if err != nil || !changed {
			return err
		}
		return tx.SaveTrade(ctx, tr)
	})
}

// update applies engine fields and, when the machine allows it, the engine
// status. It reports whether anything was changed.
func (h *TradeHandler) update(tr *state.Trade, p *event.TradePayload) (bool, error) {
	if tr.Status.IsTerminal() {
		h.logger.Info().Int64("trade_id", tr.ID).Str("status", string(tr.Status)).Msg("trade is terminal, update ignored")
		return false, nil
	}
	if p.UpdatedAt > 0 && !h.guard.Accept(tr.UpdatedAt, p.UpdatedAt) {
		return false, nil
	}
	if err := applyTradeFields(tr, p); err != nil {
		h.logger.Warn().Err(err).Int64("trade_id", tr.ID).Msg("trade fields not applied")
		return false, nil
	}

	at := messageTimeOr(p.UpdatedAt, h.now().UTC())
	if strings.TrimSpace(p.Status) != "" {
		target, known := state.ParseTradeStatus(p.Status)
		evt, ok := state.TradeEventFor(target)
		switch {
		case known && target == tr.Status:
		case !known || !ok:
			h.logger.Warn().Int64("trade_id", tr.ID).Str("status", p.Status).Msg("unknown trade status")
		case !tr.May(evt):
			h.logger.Info().Int64("trade_id", tr.ID).Str("from", string(tr.Status)).Str("to", string(target)).
				Msg("trade transition not permitted")
		default:
			if err := tr.Fire(evt, at); err != nil {
				return false, err
			}
			h.transitioned(event.KindTrade, string(tr.Status))
		}
	}
	tr.UpdatedAt = at
	return true, nil
}

// explicit applies a cancel or complete confirmation.
func (h *TradeHandler) explicit(tr *state.Trade, target state.TradeStatus, millis int64) (bool, error) {
	if tr.Status == target {
		return false, nil
	}
	at := messageTimeOr(millis, h.now().UTC())

	var err error
	if target == state.TradeCancelled {
		err = tr.Cancel(at)
	} else {
		err = tr.Complete(at)
	}
	if errors.Is(err, state.ErrInvalidTransition) {
		h.logger.Info().Err(err).Int64("trade_id", tr.ID).Msg("trade confirmation ignored")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	h.transitioned(event.KindTrade, string(tr.Status))
	tr.UpdatedAt = at
	return true, nil
}

func applyTradeFields(tr *state.Trade, p *event.TradePayload) error {
	if p.Symbol != "" {
		coin, fiat, err := state.SplitSymbol(p.Symbol)
		if err != nil {
			return err
		}
		tr.CoinCurrency, tr.FiatCurrency = coin, fiat
	}
	setDecimal(&tr.CoinAmount, p.CoinAmount)
	setDecimal(&tr.FiatAmount, p.FiatAmount)
	setDecimal(&tr.Price, p.Price)
	if p.TakerSide != "" {
		side, ok := state.ParseSide(p.TakerSide)
		if !ok {
			return fmt.Errorf("unknown taker side %q", p.TakerSide)
		}
		tr.TakerSide = side
	}
	tr.PaidAt = stamp(tr.PaidAt, p.PaidAt)
	tr.ReleasedAt = stamp(tr.ReleasedAt, p.ReleasedAt)
	tr.ExpiredAt = stamp(tr.ExpiredAt, p.ExpiredAt)
	return nil
}

func stamp(current *time.Time, millis int64) *time.Time {
	if millis <= 0 {
		return current
	}
	t := MessageTime(millis)
	return &t
}
