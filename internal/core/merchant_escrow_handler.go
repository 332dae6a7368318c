package core

import (
	"context"
	"errors"
	"fmt"

	"SettleLedger/internal/event"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/persistence"
)

// MerchantEscrowHandler records mint and burn operations. Each operation
// is written once per escrow, together with its coin and fiat legs and the
// escrow's status change. A burn always cancels the escrow.
type MerchantEscrowHandler struct {
	*deps
	op ledger.EscrowOperationType
}

func (h *MerchantEscrowHandler) Kind() event.EntityKind { return event.KindMerchantEscrow }

func (h *MerchantEscrowHandler) Handle(ctx context.Context, env *event.Envelope) error {
	id, ok := env.ActionID.Int64()
	if !ok {
		return nil
	}
	var p event.MerchantEscrowPayload
	if _, err := decode(env, &p); err != nil {
		return err
	}

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		escrow, err := tx.GetMerchantEscrow(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindMerchantEscrow, env.ActionID.String())
		}
		if err != nil {
			return err
		}

		_, err = tx.GetEscrowOperation(ctx, id, h.op)
		if err == nil {
			h.logger.Debug().Int64("escrow_id", id).Str("op", string(h.op)).Msg("escrow operation already recorded")
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		op := &ledger.EscrowOperation{
			EscrowID:      id,
			Type:          h.op,
			UsdtAccountID: h.accountID(p.UsdtAccountKey, escrow.UsdtAccountID),
			FiatAccountID: h.accountID(p.FiatAccountKey, escrow.FiatAccountID),
			UsdtAmount:    escrow.UsdtAmount,
			FiatAmount:    escrow.FiatAmount,
		}
		setDecimal(&op.UsdtAmount, p.UsdtAmount)
		setDecimal(&op.FiatAmount, p.FiatAmount)

		w := ledger.NewWriter(tx).WithClock(h.now)
		if err := w.CreateEscrowOperation(ctx, op); err != nil {
			return err
		}
		h.metrics.IncLedgerEntry("escrow_operation")

		switch h.op {
		case ledger.EscrowMint:
			if err := h.mintLegs(ctx, w, op); err != nil {
				return err
			}
			if escrow.MayActivate() {
				if err := escrow.Activate(); err != nil {
					return err
				}
				h.transitioned(event.KindMerchantEscrow, string(escrow.Status))
			} else {
				h.logger.Info().Int64("escrow_id", id).Str("status", string(escrow.Status)).
					Msg("mint recorded, escrow not pending")
			}
		case ledger.EscrowBurn:
			if err := h.burnLegs(ctx, tx, w, op); err != nil {
				return err
			}
			if escrow.Cancel() {
				h.transitioned(event.KindMerchantEscrow, string(escrow.Status))
			}
		}

		escrow.UpdatedAt = h.now().UTC()
		return tx.SaveMerchantEscrow(ctx, escrow)
	})
}

// mintLegs moves usdt into escrow and credits fiat. A short balance rolls
// the mint back.
func (h *MerchantEscrowHandler) mintLegs(ctx context.Context, w *ledger.Writer, op *ledger.EscrowOperation) error {
	src := ledger.Source{Type: ledger.SourceEscrowOperation, ID: op.ID}
	if !op.UsdtAmount.IsZero() {
		if _, err := w.CreateCoinTransaction(ctx, op.UsdtAccountID, op.UsdtAmount.Neg(), src); err != nil {
			return fmt.Errorf("escrow %d mint usdt leg: %w", op.EscrowID, err)
		}
		h.metrics.IncLedgerEntry("coin_transaction")
	}
	if !op.FiatAmount.IsZero() {
		if _, err := w.CreateFiatTransaction(ctx, op.FiatAccountID, op.FiatAmount, src); err != nil {
			return fmt.Errorf("escrow %d mint fiat leg: %w", op.EscrowID, err)
		}
		h.metrics.IncLedgerEntry("fiat_transaction")
	}
	return nil
}

// burnLegs reverses the recorded mint. Without a mint there is nothing to
// reverse, and a fiat balance that no longer covers the reversal skips both
// legs; neither case blocks the cancel.
func (h *MerchantEscrowHandler) burnLegs(ctx context.Context, tx persistence.Tx, w *ledger.Writer, op *ledger.EscrowOperation) error {
	mint, err := tx.GetEscrowOperation(ctx, op.EscrowID, ledger.EscrowMint)
	if isNotFound(err) {
		h.logger.Info().Int64("escrow_id", op.EscrowID).Msg("burn without mint, no balances reversed")
		return nil
	}
	if err != nil {
		return err
	}

	src := ledger.Source{Type: ledger.SourceEscrowOperation, ID: op.ID}
	if !mint.FiatAmount.IsZero() {
		_, err := w.CreateFiatTransaction(ctx, mint.FiatAccountID, mint.FiatAmount.Neg(), src)
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			h.logger.Warn().Err(err).Int64("escrow_id", op.EscrowID).
				Msg("fiat already spent, burn reversal skipped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("escrow %d burn fiat leg: %w", op.EscrowID, err)
		}
		h.metrics.IncLedgerEntry("fiat_transaction")
	}
	if !mint.UsdtAmount.IsZero() {
		if _, err := w.CreateCoinTransaction(ctx, mint.UsdtAccountID, mint.UsdtAmount, src); err != nil {
			return fmt.Errorf("escrow %d burn usdt leg: %w", op.EscrowID, err)
		}
		h.metrics.IncLedgerEntry("coin_transaction")
	}
	return nil
}

// accountID resolves a composite key from the payload, falling back to the
// account stored on the escrow.
func (h *MerchantEscrowHandler) accountID(key string, stored int64) int64 {
	if key == "" {
		return stored
	}
	if id, ok := h.resolver.AccountID(key); ok {
		return id
	}
	return stored
}
