package state

import (
	"time"

	"github.com/shopspring/decimal"
)

type MerchantEscrowStatus string

const (
	EscrowPending          MerchantEscrowStatus = "pending"
	EscrowActive           MerchantEscrowStatus = "active"
	EscrowCancelled        MerchantEscrowStatus = "cancelled"
	EscrowTransactionError MerchantEscrowStatus = StatusTransactionError
)

// MerchantEscrow holds a merchant's usdt collateral against minted fiat.
type MerchantEscrow struct {
	ID            int64
	UserID        int64
	UsdtAccountID int64
	FiatAccountID int64
	UsdtAmount    decimal.Decimal
	FiatAmount    decimal.Decimal
	FiatCurrency  string
	Status        MerchantEscrowStatus
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (e *MerchantEscrow) MayActivate() bool {
	return e.Status == EscrowPending
}

func (e *MerchantEscrow) Activate() error {
	if !e.MayActivate() {
		return invalidTransition("merchant_escrow", "activate", e.Status)
	}
	e.Status = EscrowActive
	return nil
}

// Cancel always lands in cancelled. It reports whether the status changed.
func (e *MerchantEscrow) Cancel() bool {
	if e.Status == EscrowCancelled {
		return false
	}
	e.Status = EscrowCancelled
	return true
}

func (e *MerchantEscrow) MarkTransactionError(msg string) {
	e.Status = EscrowTransactionError
	e.ErrorMessage = msg
}
