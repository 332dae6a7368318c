package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEntry        = errors.New("invalid ledger entry")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Validate checks a deposit before it is written.
func (d *FiatDeposit) Validate() error {
	if d.TradeID <= 0 {
		return fmt.Errorf("%w: fiat deposit without trade", ErrInvalidEntry)
	}
	if d.UserID <= 0 {
		return fmt.Errorf("%w: fiat deposit for trade %d has no user", ErrInvalidEntry, d.TradeID)
	}
	if d.Currency == "" {
		return fmt.Errorf("%w: fiat deposit for trade %d has no currency", ErrInvalidEntry, d.TradeID)
	}
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: fiat deposit for trade %d has non-positive amount %s", ErrInvalidEntry, d.TradeID, d.Amount)
	}
	return nil
}

func (w *FiatWithdrawal) Validate() error {
	if w.TradeID <= 0 {
		return fmt.Errorf("%w: fiat withdrawal without trade", ErrInvalidEntry)
	}
	if w.UserID <= 0 {
		return fmt.Errorf("%w: fiat withdrawal for trade %d has no user", ErrInvalidEntry, w.TradeID)
	}
	if w.Currency == "" {
		return fmt.Errorf("%w: fiat withdrawal for trade %d has no currency", ErrInvalidEntry, w.TradeID)
	}
	if !w.Amount.IsPositive() {
		return fmt.Errorf("%w: fiat withdrawal for trade %d has non-positive amount %s", ErrInvalidEntry, w.TradeID, w.Amount)
	}
	return nil
}

func (op *EscrowOperation) Validate() error {
	if op.EscrowID <= 0 {
		return fmt.Errorf("%w: escrow operation without escrow", ErrInvalidEntry)
	}
	if op.Type != EscrowMint && op.Type != EscrowBurn {
		return fmt.Errorf("%w: unknown escrow operation %q", ErrInvalidEntry, op.Type)
	}
	if op.UsdtAccountID <= 0 || op.FiatAccountID <= 0 {
		return fmt.Errorf("%w: escrow %d %s has unresolved accounts", ErrInvalidEntry, op.EscrowID, op.Type)
	}
	if op.UsdtAmount.IsNegative() || op.FiatAmount.IsNegative() {
		return fmt.Errorf("%w: escrow %d %s has negative amount", ErrInvalidEntry, op.EscrowID, op.Type)
	}
	return nil
}
