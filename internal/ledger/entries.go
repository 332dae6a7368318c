package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowOperationType distinguishes the two escrow confirmations.
type EscrowOperationType string

const (
	EscrowMint EscrowOperationType = "mint"
	EscrowBurn EscrowOperationType = "burn"
)

// SourceType names the record a coin or fiat transaction was caused by.
type SourceType string

const (
	SourceEscrowOperation SourceType = "escrow_operation"
	SourceFiatDeposit     SourceType = "fiat_deposit"
	SourceFiatWithdrawal  SourceType = "fiat_withdrawal"
)

// Source ties a transaction back to its causal record.
type Source struct {
	Type SourceType
	ID   int64
}

const (
	DepositPending    = "pending"
	WithdrawalPending = "pending"
	OperationComplete = "completed"
)

// FiatDeposit is the fiat leg owed by the buyer when a taker buys from a
// sell offer. At most one exists per trade.
type FiatDeposit struct {
	ID        int64
	Reference uuid.UUID
	TradeID   int64
	UserID    int64
	Currency  string
	Amount    decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// FiatWithdrawal is the fiat leg paid to the seller when a taker sells into
// a buy offer. At most one exists per trade.
type FiatWithdrawal struct {
	ID        int64
	Reference uuid.UUID
	TradeID   int64
	UserID    int64
	Currency  string
	Amount    decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// EscrowOperation records one mint or burn against a merchant escrow.
// (EscrowID, Type) is unique.
type EscrowOperation struct {
	ID            int64
	Reference     uuid.UUID
	EscrowID      int64
	Type          EscrowOperationType
	UsdtAccountID int64
	FiatAccountID int64
	UsdtAmount    decimal.Decimal
	FiatAmount    decimal.Decimal
	Status        string
	CreatedAt     time.Time
}

// CoinTransaction is a signed movement on a coin account. SnapshotBalance
// is the account balance right after the movement.
type CoinTransaction struct {
	ID              int64
	Reference       uuid.UUID
	AccountID       int64
	UserID          int64
	Currency        string
	Amount          decimal.Decimal
	SnapshotBalance decimal.Decimal
	SourceType      SourceType
	SourceID        int64
	CreatedAt       time.Time
}

// FiatTransaction is a signed movement on a fiat account.
type FiatTransaction struct {
	ID              int64
	Reference       uuid.UUID
	AccountID       int64
	UserID          int64
	Currency        string
	Amount          decimal.Decimal
	SnapshotBalance decimal.Decimal
	SourceType      SourceType
	SourceID        int64
	CreatedAt       time.Time
}
