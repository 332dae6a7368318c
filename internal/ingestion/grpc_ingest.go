package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SettleLedger/internal/event"

	"github.com/google/uuid"
)

// ErrUnroutable is returned when an injected envelope names neither a known
// operation nor, on failure, a known entity kind.
var ErrUnroutable = errors.New("envelope names no known operation or entity kind")

// Injector provides admin/manual envelope injection. Injected envelopes
// join the same lanes as bus traffic so per-entity ordering holds.
type Injector struct {
	out    chan<- RawMessage
	prefix string
}

func NewInjector(out chan<- RawMessage, prefix string) *Injector {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Injector{out: out, prefix: prefix}
}

// Inject validates env, queues it and returns the injection id. The id is
// used as the entity token when the envelope carries no action id.
func (s *Injector) Inject(ctx context.Context, env *event.Envelope) (string, error) {
	if env == nil {
		return "", ErrEmptyMessage
	}
	kind, err := envelopeKind(env)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	id := uuid.NewString()
	entity := env.ActionID.String()
	if entity == "" {
		entity = "manual-" + id
	}
	msg := RawMessage{
		Subject:  fmt.Sprintf("%s.%s.%s", s.prefix, KindToken(kind), entity),
		Data:     data,
		Received: time.Now(),
	}

	select {
	case s.out <- msg:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func envelopeKind(env *event.Envelope) (event.EntityKind, error) {
	if env.OperationType != "" {
		op, ok := event.ParseOperationType(env.OperationType)
		if !ok {
			return event.KindUnknown, fmt.Errorf("%w: %q", ErrUnroutable, env.OperationType)
		}
		return op.Kind(), nil
	}
	if env.IsSuccess {
		return event.KindUnknown, fmt.Errorf("%w: success envelope without operationType", ErrUnroutable)
	}
	kind, ok := event.ParseEntityKind(env.ActionType)
	if !ok {
		return event.KindUnknown, fmt.Errorf("%w: %q", ErrUnroutable, env.ActionType)
	}
	return kind, nil
}
