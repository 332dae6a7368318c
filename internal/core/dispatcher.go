package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// Options configures a Dispatcher. Store is required.
type Options struct {
	Store   persistence.Store
	Alerts  AlertSink
	Filter  *DuplicateFilter
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Dispatcher routes engine envelopes to the handler registered for their
// operation type, or to TransactionResponseHandler for generic failures.
type Dispatcher struct {
	handlers map[event.OperationType]Handler
	trh      *TransactionResponseHandler
	filter   *DuplicateFilter
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewDispatcher(opts Options) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	d := &deps{
		store:    opts.Store,
		resolver: ledger.NewResolver(opts.Logger),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      now,
	}

	handlers := map[event.OperationType]Handler{
		event.OperationAmmPoolUpdate:        &AmmPoolHandler{deps: d},
		event.OperationAmmPositionUpdate:    &AmmPositionHandler{deps: d},
		event.OperationAmmOrderUpdate:       &AmmOrderHandler{deps: d},
		event.OperationTickUpdate:           &TickHandler{deps: d},
		event.OperationBalanceLockUpdate:    &BalanceLockHandler{deps: d},
		event.OperationCoinWithdrawalUpdate: &CoinWithdrawalHandler{deps: d},
		event.OperationMerchantEscrowMint:   &MerchantEscrowHandler{deps: d, op: ledger.EscrowMint},
		event.OperationMerchantEscrowBurn:   &MerchantEscrowHandler{deps: d, op: ledger.EscrowBurn},
	}
	for _, op := range []event.OperationType{
		event.OperationOfferCreate, event.OperationOfferUpdate, event.OperationOfferEnable,
		event.OperationOfferDisable, event.OperationOfferDelete,
	} {
		handlers[op] = &OfferHandler{deps: d, op: op}
	}
	for _, op := range []event.OperationType{
		event.OperationTradeCreate, event.OperationTradeUpdate,
		event.OperationTradeCancel, event.OperationTradeComplete,
	} {
		handlers[op] = &TradeHandler{deps: d, op: op}
	}

	return &Dispatcher{
		handlers: handlers,
		trh:      newTransactionResponseHandler(d, opts.Alerts),
		filter:   opts.Filter,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Handler returns the handler registered for op.
func (d *Dispatcher) Handler(op event.OperationType) (Handler, bool) {
	h, ok := d.handlers[op]
	return h, ok
}

// Dispatch applies one envelope. Undecodable or unroutable envelopes are
// dropped and return nil. Stamped success envelopes already processed are
// skipped. Handler errors are logged and returned; a panic
// inside a handler is recovered and returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, env *event.Envelope) (err error) {
	if env == nil {
		return nil
	}

	route, kind, ok := d.route(env)
	if !ok {
		d.metrics.IncDropped("unroutable")
		d.logger.Debug().
			Str("operation_type", env.OperationType).
			Str("action_type", env.ActionType).
			Bool("is_success", env.IsSuccess).
			Msg("envelope dropped")
		return nil
	}

	var digest []byte
	if d.filter != nil && Deduplicable(env) {
		digest = EnvelopeDigest(env)
		if d.filter.IsDuplicate(ctx, digest) {
			d.logger.Debug().Str("discriminator", env.Discriminator()).Str("action_id", env.ActionID.String()).
				Msg("duplicate envelope skipped")
			return nil
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncPanic(kind.String())
			d.logger.Error().
				Str("discriminator", env.Discriminator()).
				Str("kind", kind.String()).
				Str("action_id", env.ActionID.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			err = fmt.Errorf("%s handler panic: %v", kind, r)
		}
		d.metrics.ObserveDispatch(kind.String(), time.Since(start), err)
	}()

	err = route(ctx)
	switch {
	case errors.Is(err, ErrInvalidPayload):
		d.metrics.IncDropped("invalid_payload")
		d.logger.Warn().Err(err).
			Str("discriminator", env.Discriminator()).
			Str("action_id", env.ActionID.String()).
			Msg("envelope object could not be decoded")
		return nil
	case err != nil:
		d.logger.Error().Err(err).
			Str("discriminator", env.Discriminator()).
			Str("kind", kind.String()).
			Str("action_id", env.ActionID.String()).
			Msg("handler failed")
		return err
	}

	if digest != nil {
		d.filter.MarkProcessed(ctx, digest, env.Discriminator(), env.ActionID.String())
	}
	return nil
}

// route resolves the envelope to a call and the entity kind it targets.
func (d *Dispatcher) route(env *event.Envelope) (func(context.Context) error, event.EntityKind, bool) {
	if env.OperationType != "" {
		op, ok := event.ParseOperationType(env.OperationType)
		if !ok {
			return nil, event.KindUnknown, false
		}
		h, ok := d.handlers[op]
		if !ok {
			return nil, event.KindUnknown, false
		}
		if env.IsSuccess {
			return func(ctx context.Context) error { return h.Handle(ctx, env) }, h.Kind(), true
		}
		if fh, ok := h.(FailureHandler); ok {
			return func(ctx context.Context) error { return fh.HandleFailure(ctx, env) }, h.Kind(), true
		}
		return func(ctx context.Context) error {
			return d.trh.Handle(ctx, h.Kind(), failureRef(env), env.ErrorMessage)
		}, h.Kind(), true
	}

	if env.IsSuccess || env.ActionType == "" {
		return nil, event.KindUnknown, false
	}
	kind, ok := event.ParseEntityKind(env.ActionType)
	if !ok {
		return nil, event.KindUnknown, false
	}
	return func(ctx context.Context) error {
		return d.trh.Handle(ctx, kind, failureRef(env), env.ErrorMessage)
	}, kind, true
}

// failureRef is the record a failure envelope addresses: actionId, or the
// object's identifier when actionId is absent.
func failureRef(env *event.Envelope) event.FlexID {
	if env.ActionID != "" {
		return env.ActionID
	}
	var obj struct {
		Identifier event.FlexID `json:"identifier"`
		Pair       string       `json:"pair"`
	}
	if err := event.DecodeObject(env, &obj); err != nil {
		return ""
	}
	if obj.Identifier != "" {
		return obj.Identifier
	}
	return event.FlexID(obj.Pair)
}
