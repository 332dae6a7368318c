package core

import (
	"context"
	"errors"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"

	"github.com/rs/zerolog"
)

// Alert is raised once for every engine transaction failure, whether or not
// the targeted record exists locally.
type Alert struct {
	Kind     event.EntityKind `json:"-"`
	KindName string           `json:"kind"`
	RecordID string           `json:"recordId"`
	Message  string           `json:"message"`
	Found    bool             `json:"found"`
	At       time.Time        `json:"at"`
}

// AlertSink delivers alerts to operators.
type AlertSink interface {
	Publish(ctx context.Context, a Alert) error
}

// LogAlertSink writes alerts to the log only.
type LogAlertSink struct {
	Logger zerolog.Logger
}

func (s LogAlertSink) Publish(_ context.Context, a Alert) error {
	s.Logger.Error().
		Str("kind", a.KindName).
		Str("record_id", a.RecordID).
		Bool("found", a.Found).
		Time("at", a.At).
		Msg(a.Message)
	return nil
}

// MultiAlertSink publishes to every sink and joins their errors.
type MultiAlertSink []AlertSink

func (m MultiAlertSink) Publish(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// markFunc loads the record addressed by ref and marks it as a transaction
// error. It returns persistence.ErrNotFound when nothing matches.
type markFunc func(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error

// TransactionResponseHandler applies the generic engine failure: the
// addressed record moves to transaction_error with the engine message and
// one alert is raised.
type TransactionResponseHandler struct {
	*deps
	alerts AlertSink
	marks  map[event.EntityKind]markFunc
}

func newTransactionResponseHandler(d *deps, alerts AlertSink) *TransactionResponseHandler {
	if alerts == nil {
		alerts = LogAlertSink{Logger: d.logger}
	}
	return &TransactionResponseHandler{
		deps:   d,
		alerts: alerts,
		marks: map[event.EntityKind]markFunc{
			event.KindTrade:          markTrade,
			event.KindAmmPool:        markAmmPool,
			event.KindAmmPosition:    markAmmPosition,
			event.KindAmmOrder:       markAmmOrder,
			event.KindTick:           markTick,
			event.KindBalanceLock:    markBalanceLock,
			event.KindCoinWithdrawal: markCoinWithdrawal,
			event.KindMerchantEscrow: markMerchantEscrow,
			event.KindOffer:          markOffer,
		},
	}
}

// Handle marks the record and emits the alert. The alert is sent after the
// transaction commits, or directly when the record does not exist.
func (h *TransactionResponseHandler) Handle(ctx context.Context, kind event.EntityKind, ref event.FlexID, message string) error {
	mark, ok := h.marks[kind]
	if !ok {
		h.logger.Warn().Str("kind", kind.String()).Str("id", ref.String()).Msg("transaction error for unknown kind")
		return nil
	}
	msg := engineFailure(message)

	found := ref != ""
	if found {
		err := h.store.InTx(ctx, func(tx persistence.Tx) error {
			return mark(ctx, tx, ref, msg)
		})
		switch {
		case isNotFound(err):
			found = false
		case err != nil:
			return err
		default:
			h.transitioned(kind, "transaction_error")
		}
	}

	h.metrics.IncTransactionError(kind.String(), found)
	h.alert(ctx, Alert{
		Kind:     kind,
		KindName: kind.String(),
		RecordID: ref.String(),
		Message:  msg,
		Found:    found,
		At:       h.now().UTC(),
	})
	return nil
}

func (h *TransactionResponseHandler) alert(ctx context.Context, a Alert) {
	if err := h.alerts.Publish(ctx, a); err != nil {
		h.metrics.IncAlert(a.KindName, "error")
		h.logger.Error().Err(err).Str("kind", a.KindName).Str("record_id", a.RecordID).Msg("failed to publish alert")
		return
	}
	h.metrics.IncAlert(a.KindName, "ok")
}

func numericRef(ref event.FlexID) (int64, error) {
	id, ok := ref.Int64()
	if !ok {
		return 0, persistence.ErrNotFound
	}
	return id, nil
}

func markTrade(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	var (
		t   *state.Trade
		err error
	)
	if id, ok := ref.Int64(); ok {
		t, err = tx.GetTrade(ctx, id)
	} else {
		t, err = tx.GetTradeByEngineID(ctx, ref.String())
	}
	if err != nil {
		return err
	}
	t.MarkTransactionError(msg)
	return tx.SaveTrade(ctx, t)
}

func markAmmPool(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	var (
		p   *state.AmmPool
		err error
	)
	if id, ok := ref.Int64(); ok {
		p, err = tx.GetAmmPool(ctx, id)
	} else {
		p, err = tx.GetAmmPoolByPair(ctx, ref.String())
	}
	if err != nil {
		return err
	}
	p.MarkTransactionError(msg)
	return tx.SaveAmmPool(ctx, p)
}

func markAmmPosition(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	var (
		p   *state.AmmPosition
		err error
	)
	if id, ok := ref.Int64(); ok {
		p, err = tx.GetAmmPosition(ctx, id)
	}
	if p == nil && (err == nil || isNotFound(err)) {
		p, err = tx.GetAmmPositionByIdentifier(ctx, ref.String())
	}
	if err != nil {
		return err
	}
	p.MarkTransactionError(msg)
	return tx.SaveAmmPosition(ctx, p)
}

func markAmmOrder(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	var (
		o   *state.AmmOrder
		err error
	)
	if id, ok := ref.Int64(); ok {
		o, err = tx.GetAmmOrder(ctx, id)
	}
	if o == nil && (err == nil || isNotFound(err)) {
		o, err = tx.GetAmmOrderByIdentifier(ctx, ref.String())
	}
	if err != nil {
		return err
	}
	o.MarkTransactionError(msg)
	return tx.SaveAmmOrder(ctx, o)
}

func markTick(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	var (
		t   *state.Tick
		err error
	)
	if id, ok := ref.Int64(); ok {
		t, err = tx.GetTick(ctx, id)
	} else {
		t, err = tx.GetTickByKey(ctx, ref.String())
	}
	if err != nil {
		return err
	}
	t.MarkTransactionError(msg)
	return tx.SaveTick(ctx, t)
}

func markBalanceLock(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	id, err := numericRef(ref)
	if err != nil {
		return err
	}
	l, err := tx.GetBalanceLock(ctx, id)
	if err != nil {
		return err
	}
	l.MarkTransactionError(msg)
	return tx.SaveBalanceLock(ctx, l)
}

func markCoinWithdrawal(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	id, err := numericRef(ref)
	if err != nil {
		return err
	}
	w, err := tx.GetCoinWithdrawal(ctx, id)
	if err != nil {
		return err
	}
	w.MarkTransactionError(msg)
	return tx.SaveCoinWithdrawal(ctx, w)
}

func markMerchantEscrow(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	id, err := numericRef(ref)
	if err != nil {
		return err
	}
	e, err := tx.GetMerchantEscrow(ctx, id)
	if err != nil {
		return err
	}
	e.MarkTransactionError(msg)
	return tx.SaveMerchantEscrow(ctx, e)
}

func markOffer(ctx context.Context, tx persistence.Tx, ref event.FlexID, msg string) error {
	id, err := numericRef(ref)
	if err != nil {
		return err
	}
	o, err := tx.GetOffer(ctx, id)
	if err != nil {
		return err
	}
	o.MarkTransactionError(msg)
	return tx.SaveOffer(ctx, o)
}
