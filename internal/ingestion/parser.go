package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"SettleLedger/internal/event"
)

var (
	// ErrEmptyMessage is returned for an empty or null body.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNotAnObject is returned when the body is valid JSON but not an
	// envelope object.
	ErrNotAnObject = errors.New("message is not a JSON object")
)

// ParseEnvelope decodes a bus message body into an envelope. Unknown fields
// are ignored; the discriminator is not validated here, the dispatcher
// drops what it cannot route.
func ParseEnvelope(data []byte) (*event.Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyMessage
	}
	if trimmed[0] != '{' {
		return nil, ErrNotAnObject
	}

	var env event.Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	env.OperationType = strings.TrimSpace(env.OperationType)
	env.ActionType = strings.TrimSpace(env.ActionType)
	return &env, nil
}

// SubjectEntity returns the entity token of a subject shaped
// {prefix}.{kind}.{entityId}[...], or the whole subject when it has no
// entity token.
func SubjectEntity(subject, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return subject
	}
	_, entity, ok := strings.Cut(rest, ".")
	if !ok || entity == "" {
		return subject
	}
	return entity
}

// SubjectKind returns the entity kind named by the subject's kind token.
func SubjectKind(subject, prefix string) (event.EntityKind, bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return event.KindUnknown, false
	}
	token, _, _ := strings.Cut(rest, ".")
	return event.ParseEntityKind(token)
}
