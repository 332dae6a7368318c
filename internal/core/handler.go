package core

import (
	"context"
	"errors"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"

	"github.com/rs/zerolog"
)

var (
	// ErrStaleMessage is returned when an out-of-order message must surface
	// as a handling error rather than a silent skip.
	ErrStaleMessage = errors.New("stale message")
	// ErrInvalidPayload marks an object that could not be decoded. The
	// dispatcher drops such envelopes.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Handler applies one kind's success confirmations.
type Handler interface {
	Kind() event.EntityKind
	Handle(ctx context.Context, env *event.Envelope) error
}

// FailureHandler is implemented by handlers that own their kind's
// isSuccess=false path instead of deferring to TransactionResponseHandler.
type FailureHandler interface {
	HandleFailure(ctx context.Context, env *event.Envelope) error
}

// deps is shared by every handler.
type deps struct {
	store    persistence.Store
	resolver *ledger.Resolver
	guard    StalenessGuard
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// fresh runs the staleness guard and records a rejection.
func (d *deps) fresh(kind event.EntityKind, id string, current time.Time, messageMillis int64) bool {
	if d.guard.Accept(current, messageMillis) {
		return true
	}
	d.metrics.IncStale(kind.String())
	d.logger.Info().
		Str("kind", kind.String()).
		Str("id", id).
		Time("current_updated_at", current).
		Int64("message_updated_at", messageMillis).
		Msg("stale message skipped")
	return false
}

func (d *deps) notFound(kind event.EntityKind, id string) error {
	d.logger.Debug().Str("kind", kind.String()).Str("id", id).Msg("record not found, nothing to update")
	return nil
}

func (d *deps) transitioned(kind event.EntityKind, to string) {
	d.metrics.IncTransition(kind.String(), to)
}

// decode unmarshals env's object into v. A missing object reports ok=false
// with no error; an undecodable one is ErrInvalidPayload.
func decode(env *event.Envelope, v any) (bool, error) {
	err := event.DecodeObject(env, v)
	if errors.Is(err, event.ErrNoObject) {
		return false, nil
	}
	if err != nil {
		return false, errors.Join(ErrInvalidPayload, err)
	}
	return true, nil
}

// messageTimeOr returns the message time, or fallback when absent.
func messageTimeOr(millis int64, fallback time.Time) time.Time {
	if millis <= 0 {
		return fallback
	}
	return MessageTime(millis)
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}

// engineFailure renders the engine's failure text, with a fallback so
// error states never carry an empty message.
func engineFailure(msg string) string {
	if msg == "" {
		return "Exchange Engine: transaction failed"
	}
	return msg
}
