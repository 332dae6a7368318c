package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SettleLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultPrefix is the root of every engine subject:
// {prefix}.{kind}.{entityId}.
const DefaultPrefix = "settle.engine"

// DefaultStream holds every engine subject.
const DefaultStream = "SETTLE_ENGINE"

// NATSSubscriber consumes engine confirmations from JetStream and feeds them
// to the lane pool. Messages are acked by the pool after dispatch.
type NATSSubscriber struct {
	js        jetstream.JetStream
	out       chan<- RawMessage
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawMessage is one bus delivery awaiting decoding and dispatch.
type RawMessage struct {
	Subject  string
	Data     []byte
	Received time.Time
	Ack      func() error
	Nak      func() error
}

// SubjectConfig binds one entity kind to its subject filter and durable
// consumer.
type SubjectConfig struct {
	Kind         event.EntityKind
	Subject      string
	ConsumerName string
	StreamName   string
}

// KindToken renders an entity kind as a subject token, e.g. "amm_pool".
func KindToken(k event.EntityKind) string {
	var b strings.Builder
	for i, r := range k.String() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DefaultSubjects returns one consumer per entity kind under prefix.
func DefaultSubjects(prefix string) []SubjectConfig {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	kinds := []event.EntityKind{
		event.KindTrade, event.KindAmmPool, event.KindAmmPosition, event.KindAmmOrder, event.KindTick,
		event.KindBalanceLock, event.KindCoinWithdrawal, event.KindMerchantEscrow, event.KindOffer,
	}
	out := make([]SubjectConfig, 0, len(kinds))
	for _, k := range kinds {
		token := KindToken(k)
		out = append(out, SubjectConfig{
			Kind:         k,
			Subject:      fmt.Sprintf("%s.%s.>", prefix, token),
			ConsumerName: "settle-" + strings.ReplaceAll(token, "_", "-"),
			StreamName:   DefaultStream,
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawMessage, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		out:    out,
		logger: logger,
	}
}

// Subscribe creates a durable explicit-ack consumer per subject config.
// Redelivery is bounded by MaxDeliver; the pool never naks handler errors.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				Ack:      msg.Ack,
				Nak:      msg.Nak,
			}
			select {
			case ns.out <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// EnsureStreams creates the engine stream and the alert stream if missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, prefix string, logger zerolog.Logger) error {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	streams := []jetstream.StreamConfig{
		{
			Name:      DefaultStream,
			Subjects:  []string{prefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      AlertStream,
			Subjects:  []string{AlertPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop stops all consumers. In-flight messages stay unacked and are
// redelivered.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("settleledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// NATSHealthCheck reports an error while the connection is not usable.
func NATSHealthCheck(nc *nats.Conn) func(context.Context) error {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	}
}
