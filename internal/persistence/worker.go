package persistence

import (
	"context"
	"fmt"
	"time"

	"SettleLedger/internal/observability"

	"github.com/rs/zerolog"
)

// BatchRecorder persists digest rows in bulk.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, rows []DigestRow) error
}

// DigestWorker drains dispatched-envelope digests and batch-writes them to
// the durable dedup log. It runs off the dispatch path: a slow database
// delays only the durable record, never reconciliation.
type DigestWorker struct {
	recorder     BatchRecorder
	input        <-chan DigestRow
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewDigestWorker(
	recorder BatchRecorder,
	input <-chan DigestRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DigestWorker {
	if batchSize <= 0 {
		batchSize = 64
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &DigestWorker{
		recorder:     recorder,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming rows and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or input is closed.
func (w *DigestWorker) Run(ctx context.Context) error {
	batch := make([]DigestRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Int("rows", len(batch)).Msg("final digest flush failed")
				}
			}
			return ctx.Err()

		case row, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.logger.Error().Err(err).Int("rows", len(batch)).Msg("final digest flush failed")
					}
				}
				return nil
			}

			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("digest flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("digest flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (w *DigestWorker) flushWithRetry(ctx context.Context, rows []DigestRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(rows)).
				Msg("digest flush retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		}

		err := w.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("digest flush succeeded")
			}
			return nil
		}
		if w.metrics != nil {
			w.metrics.DigestFlushErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *DigestWorker) flush(ctx context.Context, rows []DigestRow) error {
	start := time.Now()
	if err := w.recorder.RecordBatch(ctx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.DigestFlushErrors.WithLabelValues("write").Inc()
		}
		return err
	}
	if w.metrics != nil {
		w.metrics.DigestFlushDur.Observe(time.Since(start).Seconds())
		w.metrics.DigestBatchSize.Observe(float64(len(rows)))
	}
	return nil
}
