package event

import "github.com/shopspring/decimal"

// OfferPayload is the object of OFFER_* messages. Symbol is "COIN:FIAT".
// UpdatedAt is optional; flag operations often carry no object at all.
type OfferPayload struct {
	Symbol           string           `json:"symbol,omitempty"`
	Side             string           `json:"side,omitempty"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	TotalAmount      *decimal.Decimal `json:"totalAmount,omitempty"`
	AvailableAmount  *decimal.Decimal `json:"availableAmount,omitempty"`
	MinAmount        *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount        *decimal.Decimal `json:"maxAmount,omitempty"`
	PaymentTime      *int64           `json:"paymentTime,omitempty"`
	PaymentMethodIDs []int64          `json:"paymentMethodIds,omitempty"`
	Terms            *string          `json:"terms,omitempty"`
	Online           *bool            `json:"online,omitempty"`
	Disabled         *bool            `json:"disabled,omitempty"`
	UpdatedAt        int64            `json:"updatedAt,omitempty"`
}
