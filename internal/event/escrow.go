package event

import "github.com/shopspring/decimal"

// MerchantEscrowPayload is the object of MERCHANT_ESCROW_MINT/BURN messages.
// Account keys use the composite "{ownerId}-{kind}-{accountId}" format.
type MerchantEscrowPayload struct {
	UsdtAccountKey string           `json:"usdtAccountKey,omitempty"`
	FiatAccountKey string           `json:"fiatAccountKey,omitempty"`
	UsdtAmount     *decimal.Decimal `json:"usdtAmount,omitempty"`
	FiatAmount     *decimal.Decimal `json:"fiatAmount,omitempty"`
}
