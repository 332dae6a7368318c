package persistence

import (
	"context"
	"sync"
)

// MemoryDigestLog is an in-process digest log for tests and single-node
// runs without Postgres.
type MemoryDigestLog struct {
	mu      sync.Mutex
	digests map[string]DigestRow
}

func NewMemoryDigestLog() *MemoryDigestLog {
	return &MemoryDigestLog{digests: make(map[string]DigestRow)}
}

func (l *MemoryDigestLog) Seen(_ context.Context, digest []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.digests[string(digest)]
	return ok, nil
}

func (l *MemoryDigestLog) Record(_ context.Context, digest []byte, discriminator, actionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(DigestRow{Digest: digest, Discriminator: discriminator, ActionID: actionID})
	return nil
}

func (l *MemoryDigestLog) RecordBatch(_ context.Context, rows []DigestRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		l.put(r)
	}
	return nil
}

// Len returns the number of distinct digests recorded.
func (l *MemoryDigestLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.digests)
}

func (l *MemoryDigestLog) put(r DigestRow) {
	key := string(r.Digest)
	if _, ok := l.digests[key]; ok {
		return
	}
	r.Digest = append([]byte(nil), r.Digest...)
	l.digests[key] = r
}
