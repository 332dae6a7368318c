package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"

	"SettleLedger/internal/event"
)

const digestSeed = "SettleLedger:envelope:v1"

// EnvelopeDigest identifies an envelope by content. Two deliveries of the
// same engine message hash equal; the object is compacted first so
// whitespace differences do not matter.
func EnvelopeDigest(env *event.Envelope) []byte {
	h := sha256.New()
	h.Write([]byte(digestSeed))

	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(env.OperationType)
	write(env.ActionType)
	write(env.ActionID.String())
	if env.IsSuccess {
		write("1")
	} else {
		write("0")
	}
	write(env.ErrorMessage)

	if env.HasObject() {
		var buf bytes.Buffer
		if err := json.Compact(&buf, env.Object); err == nil {
			h.Write(buf.Bytes())
		} else {
			h.Write(env.Object)
		}
	}
	return h.Sum(nil)
}

// Deduplicable reports whether env may be skipped by digest. Only success
// envelopes stamped with the engine's updatedAt qualify; unstamped
// confirmations such as disable, enable, disable legitimately repeat.
func Deduplicable(env *event.Envelope) bool {
	if !env.IsSuccess || !env.HasObject() {
		return false
	}
	var stamp struct {
		UpdatedAt int64 `json:"updatedAt"`
	}
	if err := json.Unmarshal(env.Object, &stamp); err != nil {
		return false
	}
	return stamp.UpdatedAt > 0
}
