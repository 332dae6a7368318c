package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DigestRow is one dispatched envelope awaiting a durable record.
type DigestRow struct {
	Digest        []byte
	Discriminator string
	ActionID      string
}

// PostgresDigestLog is the durable tier of envelope deduplication. It
// remembers digests of envelopes that were dispatched so a redelivery
// after a restart is still recognised.
type PostgresDigestLog struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresDigestLog(db *sql.DB) *PostgresDigestLog {
	return &PostgresDigestLog{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// Seen checks whether digest was recorded before.
func (l *PostgresDigestLog) Seen(ctx context.Context, digest []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var exists int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_envelopes WHERE digest = $1 LIMIT 1`, digest,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Record stores digest. Recording the same digest twice is not an error.
func (l *PostgresDigestLog) Record(ctx context.Context, digest []byte, discriminator, actionID string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_envelopes (digest, discriminator, action_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (digest) DO NOTHING`,
		digest, discriminator, actionID)
	return err
}

// RecordBatch writes rows with one multi-row INSERT.
func (l *PostgresDigestLog) RecordBatch(ctx context.Context, rows []DigestRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO processed_envelopes (digest, discriminator, action_id) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*3)

	for i, r := range rows {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, r.Digest, r.Discriminator, r.ActionID)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (digest) DO NOTHING"

	_, err := l.db.ExecContext(ctx, query, args...)
	return err
}

// Recent returns digests recorded within window, newest first, for
// warming the in-memory tier on startup.
func (l *PostgresDigestLog) Recent(ctx context.Context, window time.Duration, limit int) ([][]byte, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT digest FROM processed_envelopes
		WHERE processed_at > $1
		ORDER BY processed_at DESC
		LIMIT $2`,
		time.Now().Add(-window), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var d []byte
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes digests older than retention.
func (l *PostgresDigestLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM processed_envelopes WHERE processed_at < $1`, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
