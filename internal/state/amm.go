package state

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// --- AmmPool ---

type AmmPoolStatus string

const (
	PoolPending          AmmPoolStatus = "pending"
	PoolActive           AmmPoolStatus = "active"
	PoolInactive         AmmPoolStatus = "inactive"
	PoolFailed           AmmPoolStatus = "failed"
	PoolTransactionError AmmPoolStatus = StatusTransactionError
)

type AmmPoolEvent string

const (
	PoolEventActivate   AmmPoolEvent = "activate"
	PoolEventDeactivate AmmPoolEvent = "deactivate"
	PoolEventFail       AmmPoolEvent = "fail"
)

var allPoolStatuses = []AmmPoolStatus{PoolPending, PoolActive, PoolInactive, PoolFailed, PoolTransactionError}

var poolMachine = machine[AmmPoolEvent, AmmPoolStatus]{
	PoolEventActivate:   {From: []AmmPoolStatus{PoolPending, PoolInactive}, To: PoolActive},
	PoolEventDeactivate: {From: []AmmPoolStatus{PoolActive}, To: PoolInactive},
	PoolEventFail:       {From: allPoolStatuses, To: PoolFailed},
}

// AmmPool mirrors the engine's concentrated-liquidity pool state.
type AmmPool struct {
	ID                    int64
	Pair                  string
	FeePercentage         decimal.Decimal
	FeeProtocolPercentage decimal.Decimal
	TickSpacing           int64
	CurrentTick           int64
	SqrtPrice             decimal.Decimal
	Price                 decimal.Decimal
	Liquidity             decimal.Decimal
	FeeGrowthGlobal0      decimal.Decimal
	FeeGrowthGlobal1      decimal.Decimal
	ProtocolFees0         decimal.Decimal
	ProtocolFees1         decimal.Decimal
	Volume0               decimal.Decimal
	Volume1               decimal.Decimal
	TotalValueLocked0     decimal.Decimal
	TotalValueLocked1     decimal.Decimal
	InitPrice             decimal.Decimal
	Status                AmmPoolStatus
	StatusExplanation     string
	ErrorMessage          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (p *AmmPool) May(evt AmmPoolEvent) bool {
	return poolMachine.may(evt, p.Status)
}

func (p *AmmPool) Fire(evt AmmPoolEvent) error {
	next, err := poolMachine.fire("amm_pool", evt, p.Status)
	if err != nil {
		return err
	}
	p.Status = next
	return nil
}

// SetActive drives the pool toward the engine's isActive flag. It reports
// whether the status changed; being already in the target state is not an
// error.
func (p *AmmPool) SetActive(active bool) (bool, error) {
	if active {
		if p.Status == PoolActive {
			return false, nil
		}
		return true, p.Fire(PoolEventActivate)
	}
	if p.Status == PoolInactive {
		return false, nil
	}
	return true, p.Fire(PoolEventDeactivate)
}

func (p *AmmPool) MarkFailed(msg string) error {
	if err := p.Fire(PoolEventFail); err != nil {
		return err
	}
	p.ErrorMessage = msg
	return nil
}

func (p *AmmPool) MarkTransactionError(msg string) {
	p.Status = PoolTransactionError
	p.ErrorMessage = msg
}

// --- AmmPosition / AmmOrder lifecycle ---

type AmmStatus string

const (
	AmmPending          AmmStatus = "pending"
	AmmProcessing       AmmStatus = "processing"
	AmmSuccess          AmmStatus = "success"
	AmmError            AmmStatus = "error"
	AmmTransactionError AmmStatus = StatusTransactionError
)

// ParseAmmStatus lower-cases the engine status and maps it to a local one.
func ParseAmmStatus(s string) (AmmStatus, bool) {
	st := AmmStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case AmmPending, AmmProcessing, AmmSuccess, AmmError:
		return st, true
	}
	return "", false
}

type AmmEvent string

const (
	AmmEventProcess AmmEvent = "process"
	AmmEventSucceed AmmEvent = "succeed"
	AmmEventFail    AmmEvent = "fail"
)

var ammMachine = machine[AmmEvent, AmmStatus]{
	AmmEventProcess: {From: []AmmStatus{AmmPending}, To: AmmProcessing},
	AmmEventSucceed: {From: []AmmStatus{AmmPending, AmmProcessing}, To: AmmSuccess},
	AmmEventFail:    {From: []AmmStatus{AmmPending, AmmProcessing, AmmSuccess}, To: AmmError},
}

// AmmLifecycle is the pending → processing → success|error machine shared
// by positions and orders.
type AmmLifecycle struct {
	Status       AmmStatus
	ErrorMessage string
}

// IsErrored covers both the engine-reported error and a forced
// transaction error.
func (l *AmmLifecycle) IsErrored() bool {
	return l.Status == AmmError || l.Status == AmmTransactionError
}

func (l *AmmLifecycle) May(evt AmmEvent) bool {
	return ammMachine.may(evt, l.Status)
}

func (l *AmmLifecycle) Process() error {
	next, err := ammMachine.fire("amm", AmmEventProcess, l.Status)
	if err != nil {
		return err
	}
	l.Status = next
	return nil
}

func (l *AmmLifecycle) Succeed() error {
	if l.IsErrored() {
		return invalidTransition("amm", AmmEventSucceed, l.Status)
	}
	next, err := ammMachine.fire("amm", AmmEventSucceed, l.Status)
	if err != nil {
		return err
	}
	l.Status = next
	return nil
}

func (l *AmmLifecycle) Fail(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return invalidTransition("amm", AmmEventFail, "empty error message")
	}
	next, err := ammMachine.fire("amm", AmmEventFail, l.Status)
	if err != nil {
		return err
	}
	l.Status = next
	l.ErrorMessage = msg
	return nil
}

// Advance moves toward target when a guarded transition allows it. Error is
// never reached through Advance because it needs a message.
func (l *AmmLifecycle) Advance(target AmmStatus) (bool, error) {
	if target == l.Status {
		return false, nil
	}
	switch target {
	case AmmProcessing:
		return true, l.Process()
	case AmmSuccess:
		return true, l.Succeed()
	}
	return false, invalidTransition("amm", "advance", l.Status)
}

func (l *AmmLifecycle) MarkTransactionError(msg string) {
	l.Status = AmmTransactionError
	l.ErrorMessage = msg
}

type AmmPosition struct {
	AmmLifecycle
	ID                       int64
	Identifier               string
	PoolID                   int64
	UserID                   int64
	TickLowerIndex           int64
	TickUpperIndex           int64
	Liquidity                decimal.Decimal
	Amount0                  decimal.Decimal
	Amount1                  decimal.Decimal
	FeeGrowthInside0LastX128 decimal.Decimal
	FeeGrowthInside1LastX128 decimal.Decimal
	TokensOwed0              decimal.Decimal
	TokensOwed1              decimal.Decimal
	FeeCollected0            decimal.Decimal
	FeeCollected1            decimal.Decimal
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

type AmmOrder struct {
	AmmLifecycle
	ID              int64
	Identifier      string
	PoolID          int64
	UserID          int64
	ZeroForOne      bool
	AmountSpecified decimal.Decimal
	AmountActual    decimal.Decimal
	AmountEstimated decimal.Decimal
	AmountReceived  decimal.Decimal
	TickLowerIndex  int64
	TickUpperIndex  int64
	Fees            decimal.Decimal
	Slippage        decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// --- Tick ---

type TickStatus string

const (
	TickPending          TickStatus = "pending"
	TickActive           TickStatus = "active"
	TickTransactionError TickStatus = StatusTransactionError
)

type Tick struct {
	ID                int64
	TickKey           string
	PoolPair          string
	TickIndex         int64
	LiquidityGross    decimal.Decimal
	LiquidityNet      decimal.Decimal
	FeeGrowthOutside0 decimal.Decimal
	FeeGrowthOutside1 decimal.Decimal
	Initialized       bool
	Status            TickStatus
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TickKey derives the find-or-create key for a pool tick.
func TickKey(poolPair string, tickIndex int64) string {
	return poolPair + "-" + strconv.FormatInt(tickIndex, 10)
}

func (t *Tick) MayActivate() bool {
	return t.Status == TickPending || t.Status == TickActive
}

func (t *Tick) Activate() error {
	if !t.MayActivate() {
		return invalidTransition("tick", "activate", t.Status)
	}
	t.Status = TickActive
	return nil
}

func (t *Tick) MarkTransactionError(msg string) {
	t.Status = TickTransactionError
	t.ErrorMessage = msg
}
