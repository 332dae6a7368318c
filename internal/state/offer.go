package state

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSymbol = errors.New("symbol must be COIN:FIAT")

// Offer is a P2P advertisement. It has no status column; its lifecycle is
// carried by the disabled and deleted flags.
type Offer struct {
	ID               int64
	UserID           int64
	CoinCurrency     string
	FiatCurrency     string
	Side             Side
	Price            decimal.Decimal
	TotalAmount      decimal.Decimal
	AvailableAmount  decimal.Decimal
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	PaymentTime      int64
	PaymentMethodIDs []int64
	Terms            string
	Online           bool
	Disabled         bool
	Deleted          bool
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SplitSymbol splits "COIN:FIAT" into lower-cased currency codes.
func SplitSymbol(symbol string) (coin, fiat string, err error) {
	coin, fiat, ok := strings.Cut(strings.TrimSpace(symbol), ":")
	coin = strings.ToLower(strings.TrimSpace(coin))
	fiat = strings.ToLower(strings.TrimSpace(fiat))
	if !ok || coin == "" || fiat == "" {
		return "", "", ErrInvalidSymbol
	}
	return coin, fiat, nil
}

func (o *Offer) Enable() bool {
	if !o.Disabled {
		return false
	}
	o.Disabled = false
	return true
}

func (o *Offer) Disable() bool {
	if o.Disabled {
		return false
	}
	o.Disabled = true
	return true
}

// Delete is a soft delete; the row stays.
func (o *Offer) Delete() bool {
	if o.Deleted {
		return false
	}
	o.Deleted = true
	return true
}

// Equal compares the engine-settable fields of two offers.
func (o *Offer) Equal(other *Offer) bool {
	return o.CoinCurrency == other.CoinCurrency &&
		o.FiatCurrency == other.FiatCurrency &&
		o.Side == other.Side &&
		o.Price.Equal(other.Price) &&
		o.TotalAmount.Equal(other.TotalAmount) &&
		o.AvailableAmount.Equal(other.AvailableAmount) &&
		o.MinAmount.Equal(other.MinAmount) &&
		o.MaxAmount.Equal(other.MaxAmount) &&
		o.PaymentTime == other.PaymentTime &&
		slices.Equal(o.PaymentMethodIDs, other.PaymentMethodIDs) &&
		o.Terms == other.Terms &&
		o.Online == other.Online &&
		o.Disabled == other.Disabled &&
		o.Deleted == other.Deleted
}

// MarkTransactionError only records the message; offers have no status.
func (o *Offer) MarkTransactionError(msg string) {
	o.ErrorMessage = msg
}
