package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"SettleLedger/internal/core"
	"SettleLedger/internal/event"
	"SettleLedger/internal/ingestion"
	"SettleLedger/internal/testutil"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	subject string
	data    []byte
	err     error
}

func (c *capturePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	c.subject = subject
	c.data = data
	if c.err != nil {
		return nil, c.err
	}
	return &jetstream.PubAck{Stream: ingestion.AlertStream, Sequence: 1}, nil
}

// ============================================================================
// Test: AlertPublisher
// ============================================================================

func TestAlertPublisher_Publish(t *testing.T) {
	js := &capturePublisher{}
	p := ingestion.NewAlertPublisher(js)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), core.Alert{
		Kind:     event.KindAmmPosition,
		KindName: "AmmPosition",
		RecordID: "pos-77",
		Message:  "tick out of range",
		Found:    true,
		At:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, "settle.alerts.amm_position", js.subject)
	testutil.AssertGolden(t, "alert_amm_position.json", js.data)
}

func TestAlertPublisher_PublishError(t *testing.T) {
	p := ingestion.NewAlertPublisher(&capturePublisher{err: errors.New("no responders")})

	err := p.Publish(context.Background(), core.Alert{Kind: event.KindTrade, KindName: "Trade", RecordID: "9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Trade/9")
}

// ============================================================================
// Test: Injector
// ============================================================================

func TestInjector_QueuesOnEntityLane(t *testing.T) {
	out := make(chan ingestion.RawMessage, 1)
	inj := ingestion.NewInjector(out, "")

	id, err := inj.Inject(context.Background(), &event.Envelope{
		OperationType: "COIN_WITHDRAWAL_UPDATE",
		ActionID:      "7",
		IsSuccess:     true,
		Object:        json.RawMessage(`{"status":"completed"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msg := <-out
	assert.Equal(t, "settle.engine.coin_withdrawal.7", msg.Subject)
	env, err := ingestion.ParseEnvelope(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "COIN_WITHDRAWAL_UPDATE", env.OperationType)
	assert.JSONEq(t, `{"status":"completed"}`, string(env.Object))
}

func TestInjector_FailureWithoutActionID(t *testing.T) {
	out := make(chan ingestion.RawMessage, 1)
	inj := ingestion.NewInjector(out, "")

	id, err := inj.Inject(context.Background(), &event.Envelope{ActionType: "Offer", ErrorMessage: "locked"})
	require.NoError(t, err)

	msg := <-out
	assert.Equal(t, "settle.engine.offer.manual-"+id, msg.Subject)
}

func TestInjector_RejectsUnroutable(t *testing.T) {
	inj := ingestion.NewInjector(make(chan ingestion.RawMessage, 1), "")

	for _, env := range []*event.Envelope{
		{OperationType: "MARGIN_CALL", IsSuccess: true},
		{ActionType: "Trade", IsSuccess: true},
		{ActionType: "Spaceship"},
	} {
		_, err := inj.Inject(context.Background(), env)
		assert.ErrorIs(t, err, ingestion.ErrUnroutable)
	}
	_, err := inj.Inject(context.Background(), nil)
	assert.ErrorIs(t, err, ingestion.ErrEmptyMessage)
}

func TestInjector_ContextCancelled(t *testing.T) {
	inj := ingestion.NewInjector(make(chan ingestion.RawMessage), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inj.Inject(ctx, &event.Envelope{OperationType: "OFFER_ENABLE", ActionID: "1", IsSuccess: true})
	assert.ErrorIs(t, err, context.Canceled)
}
