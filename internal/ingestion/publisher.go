package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"SettleLedger/internal/core"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// AlertPrefix roots alert subjects: settle.alerts.{kind}.
	AlertPrefix = "settle.alerts"
	AlertStream = "SETTLE_ALERTS"
)

// Publisher is the subset of jetstream.JetStream the alert publisher needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// AlertPublisher delivers transaction-error alerts to JetStream for
// operator tooling.
type AlertPublisher struct {
	js Publisher
}

func NewAlertPublisher(js Publisher) *AlertPublisher {
	return &AlertPublisher{js: js}
}

// AlertSubject is the subject an alert for kind is published on.
func AlertSubject(a core.Alert) string {
	return fmt.Sprintf("%s.%s", AlertPrefix, KindToken(a.Kind))
}

func (p *AlertPublisher) Publish(ctx context.Context, a core.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if _, err := p.js.Publish(ctx, AlertSubject(a), data); err != nil {
		return fmt.Errorf("publish alert %s/%s: %w", a.KindName, a.RecordID, err)
	}
	return nil
}
