package state

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeAwaiting         TradeStatus = "awaiting"
	TradeUnpicked         TradeStatus = "unpicked"
	TradePicked           TradeStatus = "picked"
	TradeUnpaid           TradeStatus = "unpaid"
	TradePaid             TradeStatus = "paid"
	TradeReleased         TradeStatus = "released"
	TradeDisputed         TradeStatus = "disputed"
	TradeCancelled        TradeStatus = "cancelled"
	TradeAborted          TradeStatus = "aborted"
	TradeTransactionError TradeStatus = StatusTransactionError
)

func (s TradeStatus) String() string { return string(s) }

// IsTerminal reports whether no further engine transition applies.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeReleased, TradeCancelled, TradeAborted, TradeTransactionError:
		return true
	}
	return false
}

var allTradeStatuses = []TradeStatus{
	TradeAwaiting, TradeUnpicked, TradePicked, TradeUnpaid, TradePaid,
	TradeReleased, TradeDisputed, TradeCancelled, TradeAborted, TradeTransactionError,
}

// ParseTradeStatus accepts only statuses the trade machine knows.
func ParseTradeStatus(s string) (TradeStatus, bool) {
	st := TradeStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allTradeStatuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

type TradeEvent string

const (
	TradeEventPick         TradeEvent = "pick"
	TradeEventUnpick       TradeEvent = "unpick"
	TradeEventAwaitPayment TradeEvent = "await_payment"
	TradeEventPay          TradeEvent = "pay"
	TradeEventRelease      TradeEvent = "release"
	TradeEventDispute      TradeEvent = "dispute"
	TradeEventCancel       TradeEvent = "cancel"
	TradeEventAbort        TradeEvent = "abort"
)

var tradeMachine = machine[TradeEvent, TradeStatus]{
	TradeEventUnpick:       {From: []TradeStatus{TradeAwaiting}, To: TradeUnpicked},
	TradeEventPick:         {From: []TradeStatus{TradeAwaiting, TradeUnpicked}, To: TradePicked},
	TradeEventAwaitPayment: {From: []TradeStatus{TradePicked}, To: TradeUnpaid},
	TradeEventPay:          {From: []TradeStatus{TradeUnpaid}, To: TradePaid},
	TradeEventRelease:      {From: []TradeStatus{TradePaid, TradeDisputed}, To: TradeReleased},
	TradeEventDispute:      {From: []TradeStatus{TradePaid}, To: TradeDisputed},
	TradeEventCancel: {
		From: []TradeStatus{TradeAwaiting, TradeUnpicked, TradePicked, TradeUnpaid, TradeDisputed},
		To:   TradeCancelled,
	},
	TradeEventAbort: {From: []TradeStatus{TradeUnpaid, TradePaid, TradeDisputed}, To: TradeAborted},
}

// TradeEventFor returns the event that moves a trade into target, if any.
func TradeEventFor(target TradeStatus) (TradeEvent, bool) {
	for evt, r := range tradeMachine {
		if r.To == target {
			return evt, true
		}
	}
	return "", false
}

// Side is the direction of an offer or of a trade's taker.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Trade is a P2P trade between an offer owner and a taker.
type Trade struct {
	ID            int64
	Ref           string
	EngineTradeID string
	OfferID       int64
	BuyerID       int64
	SellerID      int64
	CoinCurrency  string
	FiatCurrency  string
	CoinAmount    decimal.Decimal
	FiatAmount    decimal.Decimal
	Price         decimal.Decimal
	TakerSide     Side
	Status        TradeStatus
	ErrorMessage  string
	PaidAt        *time.Time
	ReleasedAt    *time.Time
	CancelledAt   *time.Time
	ExpiredAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TradeRef renders the human-facing trade reference.
func TradeRef(id int64) string {
	return fmt.Sprintf("TRADE%08d", id)
}

func (t *Trade) May(evt TradeEvent) bool {
	return tradeMachine.may(evt, t.Status)
}

// Fire applies evt, stamping the timestamp that belongs to the new status.
func (t *Trade) Fire(evt TradeEvent, at time.Time) error {
	next, err := tradeMachine.fire("trade", evt, t.Status)
	if err != nil {
		return err
	}
	t.Status = next
	switch next {
	case TradePaid:
		t.PaidAt = &at
	case TradeReleased:
		t.ReleasedAt = &at
	case TradeCancelled, TradeAborted:
		t.CancelledAt = &at
	}
	return nil
}

// Cancel is only ever driven by an explicit engine confirmation.
func (t *Trade) Cancel(at time.Time) error {
	return t.Fire(TradeEventCancel, at)
}

// Complete releases the coin to the buyer.
func (t *Trade) Complete(at time.Time) error {
	return t.Fire(TradeEventRelease, at)
}

func (t *Trade) MarkTransactionError(msg string) {
	t.Status = TradeTransactionError
	t.ErrorMessage = msg
}

// OfferKey renders the engine's reference to an offer.
func OfferKey(offerID int64) string {
	return "offer-" + strconv.FormatInt(offerID, 10)
}

// ParseOfferKey extracts the offer id from "offer-{id}".
func ParseOfferKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(key), "offer-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
