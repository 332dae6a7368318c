package event

import "github.com/shopspring/decimal"

// TradePayload is the object of TRADE_* messages. The envelope's actionId
// carries the local trade id once the trade exists.
type TradePayload struct {
	Identifier FlexID           `json:"identifier"`
	OfferKey   string           `json:"offerKey,omitempty"`
	BuyerID    *int64           `json:"buyerId,omitempty"`
	SellerID   *int64           `json:"sellerId,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	CoinAmount *decimal.Decimal `json:"coinAmount,omitempty"`
	FiatAmount *decimal.Decimal `json:"fiatAmount,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	TakerSide  string           `json:"takerSide,omitempty"`
	Status     string           `json:"status,omitempty"`
	PaidAt     int64            `json:"paidAt,omitempty"`
	ReleasedAt int64            `json:"releasedAt,omitempty"`
	ExpiredAt  int64            `json:"expiredAt,omitempty"`
	UpdatedAt  int64            `json:"updatedAt,omitempty"`
}
