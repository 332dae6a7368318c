package core

import (
	"context"
	"strings"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

type AmmOrderHandler struct {
	*deps
}

func (h *AmmOrderHandler) Kind() event.EntityKind { return event.KindAmmOrder }

func (h *AmmOrderHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.AmmOrderPayload
	if ok, err := decode(env, &p); !ok || p.Identifier == "" {
		return err
	}
	id := p.Identifier.String()

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		order, err := tx.GetAmmOrderByIdentifier(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindAmmOrder, id)
		}
		if err != nil {
			return err
		}
		if !h.fresh(event.KindAmmOrder, id, order.UpdatedAt, p.UpdatedAt) {
			return nil
		}

		switch {
		case p.ErrorMessage != "":
			// error transition only, no field update
			if order.IsErrored() {
				h.logger.Debug().Str("identifier", id).Msg("order already errored")
				return nil
			}
			if err := order.Fail(p.ErrorMessage); err != nil {
				return err
			}
			h.transitioned(event.KindAmmOrder, string(order.Status))

		case strings.EqualFold(p.Status, string(state.AmmSuccess)) && !order.IsErrored():
			if order.Status != state.AmmSuccess {
				if err := order.Succeed(); err != nil {
					return err
				}
				h.transitioned(event.KindAmmOrder, string(order.Status))
			}
			applyOrderFields(order, &p)

		default:
			applyOrderFields(order, &p)
			if !strings.EqualFold(p.Status, string(state.AmmSuccess)) {
				h.advance(&order.AmmLifecycle, event.KindAmmOrder, id, p.Status)
			}
		}

		order.UpdatedAt = MessageTime(p.UpdatedAt)
		return tx.SaveAmmOrder(ctx, order)
	})
}

func applyOrderFields(o *state.AmmOrder, p *event.AmmOrderPayload) {
	setDecimal(&o.AmountActual, p.AmountActual)
	setDecimal(&o.AmountEstimated, p.AmountEstimated)
	setDecimal(&o.AmountReceived, p.AmountReceived)
	setInt(&o.TickLowerIndex, p.TickLowerIndex)
	setInt(&o.TickUpperIndex, p.TickUpperIndex)
	setDecimal(&o.Fees, p.Fees)
	setDecimal(&o.Slippage, p.Slippage)
}
