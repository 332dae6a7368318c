package event

import "github.com/shopspring/decimal"

// AmmPoolPayload is the object of an AMM_POOL_UPDATE message. Nil pointer
// fields were not sent and must not overwrite stored values.
type AmmPoolPayload struct {
	Pair                  string           `json:"pair"`
	FeePercentage         *decimal.Decimal `json:"feePercentage,omitempty"`
	FeeProtocolPercentage *decimal.Decimal `json:"feeProtocolPercentage,omitempty"`
	TickSpacing           *int64           `json:"tickSpacing,omitempty"`
	CurrentTick           *int64           `json:"currentTick,omitempty"`
	SqrtPrice             *decimal.Decimal `json:"sqrtPrice,omitempty"`
	Price                 *decimal.Decimal `json:"price,omitempty"`
	Liquidity             *decimal.Decimal `json:"liquidity,omitempty"`
	FeeGrowthGlobal0      *decimal.Decimal `json:"feeGrowthGlobal0,omitempty"`
	FeeGrowthGlobal1      *decimal.Decimal `json:"feeGrowthGlobal1,omitempty"`
	ProtocolFees0         *decimal.Decimal `json:"protocolFees0,omitempty"`
	ProtocolFees1         *decimal.Decimal `json:"protocolFees1,omitempty"`
	Volume0               *decimal.Decimal `json:"volume0,omitempty"`
	Volume1               *decimal.Decimal `json:"volume1,omitempty"`
	TotalValueLocked0     *decimal.Decimal `json:"totalValueLockedToken0,omitempty"`
	TotalValueLocked1     *decimal.Decimal `json:"totalValueLockedToken1,omitempty"`
	InitPrice             *decimal.Decimal `json:"initPrice,omitempty"`
	IsActive              *bool            `json:"isActive,omitempty"`
	UpdatedAt             int64            `json:"updatedAt"`
}

// AmmPositionPayload is the object of an AMM_POSITION_UPDATE message.
type AmmPositionPayload struct {
	Identifier               FlexID           `json:"identifier"`
	Liquidity                *decimal.Decimal `json:"liquidity,omitempty"`
	Amount0                  *decimal.Decimal `json:"amount0,omitempty"`
	Amount1                  *decimal.Decimal `json:"amount1,omitempty"`
	FeeGrowthInside0LastX128 *decimal.Decimal `json:"feeGrowthInside0LastX128,omitempty"`
	FeeGrowthInside1LastX128 *decimal.Decimal `json:"feeGrowthInside1LastX128,omitempty"`
	TokensOwed0              *decimal.Decimal `json:"tokensOwed0,omitempty"`
	TokensOwed1              *decimal.Decimal `json:"tokensOwed1,omitempty"`
	FeeCollected0            *decimal.Decimal `json:"feeCollected0,omitempty"`
	FeeCollected1            *decimal.Decimal `json:"feeCollected1,omitempty"`
	Status                   string           `json:"status,omitempty"`
	ErrorMessage             string           `json:"errorMessage,omitempty"`
	UpdatedAt                int64            `json:"updatedAt"`
}

// AmmOrderPayload is the object of an AMM_ORDER_UPDATE message.
type AmmOrderPayload struct {
	Identifier      FlexID           `json:"identifier"`
	AmountActual    *decimal.Decimal `json:"amountActual,omitempty"`
	AmountEstimated *decimal.Decimal `json:"amountEstimated,omitempty"`
	AmountReceived  *decimal.Decimal `json:"amountReceived,omitempty"`
	TickLowerIndex  *int64           `json:"tickLowerIndex,omitempty"`
	TickUpperIndex  *int64           `json:"tickUpperIndex,omitempty"`
	Fees            *decimal.Decimal `json:"fees,omitempty"`
	Slippage        *decimal.Decimal `json:"slippage,omitempty"`
	Status          string           `json:"status,omitempty"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	UpdatedAt       int64            `json:"updatedAt"`
}

// TickPayload is the object of a TICK_UPDATE message.
type TickPayload struct {
	PoolPair          string           `json:"poolPair"`
	TickIndex         *int64           `json:"tickIndex"`
	LiquidityGross    *decimal.Decimal `json:"liquidityGross,omitempty"`
	LiquidityNet      *decimal.Decimal `json:"liquidityNet,omitempty"`
	FeeGrowthOutside0 *decimal.Decimal `json:"feeGrowthOutside0,omitempty"`
	FeeGrowthOutside1 *decimal.Decimal `json:"feeGrowthOutside1,omitempty"`
	Initialized       *bool            `json:"initialized,omitempty"`
	CreatedAt         int64            `json:"createdAt,omitempty"`
	UpdatedAt         int64            `json:"updatedAt"`
}
