package core

import (
	"context"
	"errors"
	"slices"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

// OfferHandler applies offer confirmations. Every operation is idempotent:
// when the offer already matches, nothing is written.
type OfferHandler struct {
	*deps
	op event.OperationType
}

func (h *OfferHandler) Kind() event.EntityKind { return event.KindOffer }

func (h *OfferHandler) Handle(ctx context.Context, env *event.Envelope) error {
	id, ok := env.ActionID.Int64()
	if !ok {
		return nil
	}
	var p event.OfferPayload
	hasObject, err := decode(env, &p)
	if err != nil {
		return err
	}

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		offer, err := tx.GetOffer(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindOffer, env.ActionID.String())
		}
		if err != nil {
			return err
		}
		// the guard applies only when the engine stamped the message
		if p.UpdatedAt > 0 && !h.fresh(event.KindOffer, env.ActionID.String(), offer.UpdatedAt, p.UpdatedAt) {
			return nil
		}

		var changed bool
		switch h.op {
		case event.OperationOfferCreate, event.OperationOfferUpdate:
			if !hasObject {
				return nil
			}
			next := *offer
			next.PaymentMethodIDs = slices.Clone(offer.PaymentMethodIDs)
			if err := applyOfferFields(&next, &p); err != nil {
				return errors.Join(ErrInvalidPayload, err)
			}
			if !next.Equal(offer) {
				*offer = next
				changed = true
			}
		case event.OperationOfferEnable:
			changed = offer.Enable()
		case event.OperationOfferDisable:
			changed = offer.Disable()
		case event.OperationOfferDelete:
			changed = offer.Delete()
		}

		if !changed {
			h.logger.Debug().Int64("offer_id", id).Str("op", h.op.String()).Msg("offer already up to date")
			return nil
		}
		offer.UpdatedAt = messageTimeOr(p.UpdatedAt, h.now().UTC())
		return tx.SaveOffer(ctx, offer)
	})
}

func applyOfferFields(o *state.Offer, p *event.OfferPayload) error {
	if p.Symbol != "" {
		coin, fiat, err := state.SplitSymbol(p.Symbol)
		if err != nil {
			return err
		}
		o.CoinCurrency, o.FiatCurrency = coin, fiat
	}
	if p.Side != "" {
		if side, ok := state.ParseSide(p.Side); ok {
			o.Side = side
		}
	}
	setDecimal(&o.Price, p.Price)
	setDecimal(&o.TotalAmount, p.TotalAmount)
	setDecimal(&o.AvailableAmount, p.AvailableAmount)
	setDecimal(&o.MinAmount, p.MinAmount)
	setDecimal(&o.MaxAmount, p.MaxAmount)
	setInt(&o.PaymentTime, p.PaymentTime)
	if p.PaymentMethodIDs != nil {
		o.PaymentMethodIDs = slices.Clone(p.PaymentMethodIDs)
	}
	if p.Terms != nil {
		o.Terms = *p.Terms
	}
	setBool(&o.Online, p.Online)
	setBool(&o.Disabled, p.Disabled)
	return nil
}
