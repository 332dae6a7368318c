package core

import (
	"container/list"
	"context"
	"sync"

	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// DigestLookup is the durable tier of duplicate detection.
type DigestLookup interface {
	Seen(ctx context.Context, digest []byte) (bool, error)
}

// DuplicateFilter implements two-tier redelivery detection over envelope
// digests. Tier 1 is an in-memory LRU; tier 2 is the durable digest log.
// Digests of processed envelopes are queued to a DigestWorker for batched
// persistence.
type DuplicateFilter struct {
	mu      sync.Mutex
	lru     *digestLRU
	lookup  DigestLookup
	sink    chan<- persistence.DigestRow
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewDuplicateFilter builds a filter. lookup and sink may be nil, in which
// case only the LRU tier is used.
func NewDuplicateFilter(capacity int, lookup DigestLookup, sink chan<- persistence.DigestRow,
	metrics *observability.Metrics, logger zerolog.Logger) *DuplicateFilter {
	if capacity <= 0 {
		capacity = 10000
	}
	return &DuplicateFilter{
		lru:     newDigestLRU(capacity),
		lookup:  lookup,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// IsDuplicate checks both tiers. A tier-2 error is treated as not seen so a
// database problem never blocks processing.
func (f *DuplicateFilter) IsDuplicate(ctx context.Context, digest []byte) bool {
	key := string(digest)

	f.mu.Lock()
	hit := f.lru.contains(key)
	f.mu.Unlock()
	if hit {
		f.metrics.IncDuplicate("lru")
		return true
	}

	if f.lookup == nil {
		return false
	}
	seen, err := f.lookup.Seen(ctx, digest)
	if err != nil {
		if f.metrics != nil {
			f.metrics.DedupTier2Errors.Inc()
		}
		f.logger.Warn().Err(err).Msg("digest lookup failed, treating envelope as new")
		return false
	}
	if seen {
		f.metrics.IncDuplicate("postgres")
		f.add(key)
		return true
	}
	return false
}

// MarkProcessed records a successfully dispatched envelope.
func (f *DuplicateFilter) MarkProcessed(ctx context.Context, digest []byte, discriminator, actionID string) {
	f.add(string(digest))
	if f.sink == nil {
		return
	}
	row := persistence.DigestRow{Digest: digest, Discriminator: discriminator, ActionID: actionID}
	select {
	case f.sink <- row:
	case <-ctx.Done():
	}
}

// Warm loads recently recorded digests into the LRU so a restart does not
// send every redelivery to the database. Pass digests oldest first.
func (f *DuplicateFilter) Warm(digests [][]byte) {
	for _, d := range digests {
		f.add(string(d))
	}
}

func (f *DuplicateFilter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lru.len()
}

func (f *DuplicateFilter) add(key string) {
	f.mu.Lock()
	evicted := f.lru.add(key)
	size := f.lru.len()
	f.mu.Unlock()

	if f.metrics == nil {
		return
	}
	f.metrics.DedupLRUSize.Set(float64(size))
	if evicted {
		f.metrics.DedupLRUEvictions.Inc()
	}
}

// --- LRU ---

// digestLRU is not safe for concurrent use; DuplicateFilter guards it.
type digestLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newDigestLRU(capacity int) *digestLRU {
	return &digestLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// contains promotes key on hit.
func (l *digestLRU) contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

// add inserts or promotes key and reports whether an entry was evicted.
func (l *digestLRU) add(key string) bool {
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return false
	}
	l.cache[key] = l.order.PushFront(key)
	if l.order.Len() <= l.capacity {
		return false
	}
	oldest := l.order.Back()
	l.order.Remove(oldest)
	delete(l.cache, oldest.Value.(string))
	return true
}

func (l *digestLRU) len() int {
	return l.order.Len()
}
