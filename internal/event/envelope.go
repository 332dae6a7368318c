package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OperationType is the per-kind success path discriminator carried in
// the envelope's operationType field.
type OperationType int32

const (
	OperationUnknown OperationType = iota
	OperationAmmPoolUpdate
	OperationAmmPositionUpdate
	OperationAmmOrderUpdate
	OperationTickUpdate
	OperationBalanceLockUpdate
	OperationCoinWithdrawalUpdate
	OperationMerchantEscrowMint
	OperationMerchantEscrowBurn
	OperationOfferCreate
	OperationOfferUpdate
	OperationOfferEnable
	OperationOfferDisable
	OperationOfferDelete
	OperationTradeCreate
	OperationTradeUpdate
	OperationTradeCancel
	OperationTradeComplete
)

var operationNames = map[OperationType]string{
	OperationAmmPoolUpdate:        "AMM_POOL_UPDATE",
	OperationAmmPositionUpdate:    "AMM_POSITION_UPDATE",
	OperationAmmOrderUpdate:       "AMM_ORDER_UPDATE",
	OperationTickUpdate:           "TICK_UPDATE",
	OperationBalanceLockUpdate:    "BALANCE_LOCK_UPDATE",
	OperationCoinWithdrawalUpdate: "COIN_WITHDRAWAL_UPDATE",
	OperationMerchantEscrowMint:   "MERCHANT_ESCROW_MINT",
	OperationMerchantEscrowBurn:   "MERCHANT_ESCROW_BURN",
	OperationOfferCreate:          "OFFER_CREATE",
	OperationOfferUpdate:          "OFFER_UPDATE",
	OperationOfferEnable:          "OFFER_ENABLE",
	OperationOfferDisable:         "OFFER_DISABLE",
	OperationOfferDelete:          "OFFER_DELETE",
	OperationTradeCreate:          "TRADE_CREATE",
	OperationTradeUpdate:          "TRADE_UPDATE",
	OperationTradeCancel:          "TRADE_CANCEL",
	OperationTradeComplete:        "TRADE_COMPLETE",
}

var operationsByName = func() map[string]OperationType {
	m := make(map[string]OperationType, len(operationNames))
	for op, name := range operationNames {
		m[name] = op
	}
	return m
}()

func (op OperationType) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return "Unknown"
}

// ParseOperationType maps a wire string to an OperationType. Unknown
// strings return OperationUnknown and false.
func ParseOperationType(s string) (OperationType, bool) {
	op, ok := operationsByName[strings.ToUpper(strings.TrimSpace(s))]
	return op, ok
}

// Operations returns every known operation type in declaration order.
func Operations() []OperationType {
	ops := make([]OperationType, 0, len(operationNames))
	for op := OperationAmmPoolUpdate; op <= OperationTradeComplete; op++ {
		ops = append(ops, op)
	}
	return ops
}

// Kind returns the entity kind the operation targets.
func (op OperationType) Kind() EntityKind {
	switch op {
	case OperationAmmPoolUpdate:
		return KindAmmPool
	case OperationAmmPositionUpdate:
		return KindAmmPosition
	case OperationAmmOrderUpdate:
		return KindAmmOrder
	case OperationTickUpdate:
		return KindTick
	case OperationBalanceLockUpdate:
		return KindBalanceLock
	case OperationCoinWithdrawalUpdate:
		return KindCoinWithdrawal
	case OperationMerchantEscrowMint, OperationMerchantEscrowBurn:
		return KindMerchantEscrow
	case OperationOfferCreate, OperationOfferUpdate, OperationOfferEnable, OperationOfferDisable, OperationOfferDelete:
		return KindOffer
	case OperationTradeCreate, OperationTradeUpdate, OperationTradeCancel, OperationTradeComplete:
		return KindTrade
	default:
		return KindUnknown
	}
}

// EntityKind identifies one of the ledger entity kinds. Its String form is
// the generic actionType used by the engine on failure envelopes.
type EntityKind int32

const (
	KindUnknown EntityKind = iota
	KindTrade
	KindAmmPool
	KindAmmPosition
	KindAmmOrder
	KindTick
	KindBalanceLock
	KindCoinWithdrawal
	KindMerchantEscrow
	KindOffer
)

func (k EntityKind) String() string {
	switch k {
	case KindTrade:
		return "Trade"
	case KindAmmPool:
		return "AmmPool"
	case KindAmmPosition:
		return "AmmPosition"
	case KindAmmOrder:
		return "AmmOrder"
	case KindTick:
		return "Tick"
	case KindBalanceLock:
		return "BalanceLock"
	case KindCoinWithdrawal:
		return "CoinWithdrawal"
	case KindMerchantEscrow:
		return "MerchantEscrow"
	case KindOffer:
		return "Offer"
	default:
		return "Unknown"
	}
}

// ParseEntityKind maps an actionType string to an EntityKind. Matching is
// case-insensitive and ignores underscores, so "coin_withdrawal" and
// "CoinWithdrawal" are the same kind.
func ParseEntityKind(s string) (EntityKind, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for k := KindTrade; k <= KindOffer; k++ {
		if strings.ToLower(k.String()) == norm {
			return k, true
		}
	}
	return KindUnknown, false
}

// FlexID accepts either a JSON string or a JSON number. The engine is not
// consistent about which one it sends for identifiers.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be string or number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string {
	return string(id)
}

// Int64 parses the identifier as a local numeric id.
func (id FlexID) Int64() (int64, bool) {
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Envelope is the inbound message wrapper produced by the engine.
type Envelope struct {
	OperationType string          `json:"operationType,omitempty"`
	ActionType    string          `json:"actionType,omitempty"`
	ActionID      FlexID          `json:"actionId,omitempty"`
	IsSuccess     bool            `json:"isSuccess"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Object        json.RawMessage `json:"object,omitempty"`
}

// HasObject reports whether the envelope carries a non-null object.
func (e *Envelope) HasObject() bool {
	trimmed := bytes.TrimSpace(e.Object)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Discriminator returns the operation type if present, else the action type.
func (e *Envelope) Discriminator() string {
	if e.OperationType != "" {
		return e.OperationType
	}
	return e.ActionType
}

// ErrNoObject is returned by DecodeObject when the envelope has no object.
var ErrNoObject = errors.New("envelope has no object")

// DecodeObject unmarshals the envelope's object into v.
func DecodeObject(env *Envelope, v any) error {
	if !env.HasObject() {
		return ErrNoObject
	}
	if err := json.Unmarshal(env.Object, v); err != nil {
		return fmt.Errorf("decode %s object: %w", env.Discriminator(), err)
	}
	return nil
}
