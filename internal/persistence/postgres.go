package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SettleLedger/internal/ledger"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresStore implements Store on database/sql with lib/pq.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenPostgres opens a pooled connection and verifies it.
func OpenPostgres(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, nil, true, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, false, fn)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, lock bool, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgTx{tx: sqlTx, lock: lock}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx implements Tx. With lock set, single-row reads take FOR UPDATE.
type pgTx struct {
	tx   *sql.Tx
	lock bool
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *pgTx) forUpdate() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

// queryOne runs a single-row select and maps sql.ErrNoRows to ErrNotFound.
func (t *pgTx) queryOne(ctx context.Context, query string, scan func(scanner) error, args ...any) error {
	row := t.tx.QueryRowContext(ctx, query+t.forUpdate(), args...)
	if err := scan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// execOne runs an UPDATE expected to touch exactly one row.
func (t *pgTx) execOne(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// insertReturningID runs an INSERT ... RETURNING id.
func (t *pgTx) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapWriteErr(err)
	}
	return id, nil
}

func mapWriteErr(err error) error {
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- accounts ---

func (t *pgTx) GetCoinAccount(ctx context.Context, id int64) (*ledger.CoinAccount, error) {
	var a ledger.CoinAccount
	err := t.queryOne(ctx,
		`SELECT id, user_id, currency, balance, frozen_balance, updated_at FROM coin_accounts WHERE id = $1`,
		func(s scanner) error {
			return s.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.FrozenBalance, &a.UpdatedAt)
		}, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) GetFiatAccount(ctx context.Context, id int64) (*ledger.FiatAccount, error) {
	var a ledger.FiatAccount
	err := t.queryOne(ctx,
		`SELECT id, user_id, currency, balance, updated_at FROM fiat_accounts WHERE id = $1`,
		func(s scanner) error {
			return s.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.UpdatedAt)
		}, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) SaveCoinAccount(ctx context.Context, a *ledger.CoinAccount) error {
	return t.execOne(ctx,
		`UPDATE coin_accounts SET balance = $2, frozen_balance = $3, updated_at = $4 WHERE id = $1`,
		a.ID, a.Balance, a.FrozenBalance, a.UpdatedAt)
}

func (t *pgTx) SaveFiatAccount(ctx context.Context, a *ledger.FiatAccount) error {
	return t.execOne(ctx,
		`UPDATE fiat_accounts SET balance = $2, updated_at = $3 WHERE id = $1`,
		a.ID, a.Balance, a.UpdatedAt)
}

// --- ledger entries ---

func (t *pgTx) InsertFiatDeposit(ctx context.Context, d *ledger.FiatDeposit) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO fiat_deposits (reference, trade_id, user_id, currency, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		d.Reference, d.TradeID, d.UserID, d.Currency, d.Amount, d.Status, d.CreatedAt)
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

func (t *pgTx) InsertFiatWithdrawal(ctx context.Context, w *ledger.FiatWithdrawal) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO fiat_withdrawals (reference, trade_id, user_id, currency, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		w.Reference, w.TradeID, w.UserID, w.Currency, w.Amount, w.Status, w.CreatedAt)
	if err != nil {
		return err
	}
	w.ID = id
	return nil
}

func (t *pgTx) InsertEscrowOperation(ctx context.Context, op *ledger.EscrowOperation) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO escrow_operations
			(reference, escrow_id, operation_type, usdt_account_id, fiat_account_id, usdt_amount, fiat_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		op.Reference, op.EscrowID, string(op.Type), op.UsdtAccountID, op.FiatAccountID,
		op.UsdtAmount, op.FiatAmount, op.Status, op.CreatedAt)
	if err != nil {
		return err
	}
	op.ID = id
	return nil
}

func (t *pgTx) InsertCoinTransaction(ctx context.Context, c *ledger.CoinTransaction) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO coin_transactions
			(reference, account_id, user_id, currency, amount, snapshot_balance, source_type, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		c.Reference, c.AccountID, c.UserID, c.Currency, c.Amount, c.SnapshotBalance,
		string(c.SourceType), c.SourceID, c.CreatedAt)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (t *pgTx) InsertFiatTransaction(ctx context.Context, f *ledger.FiatTransaction) error {
	id, err := t.insertReturningID(ctx, `
		INSERT INTO fiat_transactions
			(reference, account_id, user_id, currency, amount, snapshot_balance, source_type, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		f.Reference, f.AccountID, f.UserID, f.Currency, f.Amount, f.SnapshotBalance,
		string(f.SourceType), f.SourceID, f.CreatedAt)
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

func (t *pgTx) GetEscrowOperation(ctx context.Context, escrowID int64, opType ledger.EscrowOperationType) (*ledger.EscrowOperation, error) {
	var op ledger.EscrowOperation
	var typ string
	err := t.queryOne(ctx, `
		SELECT id, reference, escrow_id, operation_type, usdt_account_id, fiat_account_id,
		       usdt_amount, fiat_amount, status, created_at
		FROM escrow_operations WHERE escrow_id = $1 AND operation_type = $2`,
		func(s scanner) error {
			return s.Scan(&op.ID, &op.Reference, &op.EscrowID, &typ, &op.UsdtAccountID, &op.FiatAccountID,
				&op.UsdtAmount, &op.FiatAmount, &op.Status, &op.CreatedAt)
		}, escrowID, string(opType))
	if err != nil {
		return nil, err
	}
	op.Type = ledger.EscrowOperationType(typ)
	return &op, nil
}

func (t *pgTx) GetFiatDepositByTrade(ctx context.Context, tradeID int64) (*ledger.FiatDeposit, error) {
	var d ledger.FiatDeposit
	err := t.queryOne(ctx, `
		SELECT id, reference, trade_id, user_id, currency, amount, status, created_at
		FROM fiat_deposits WHERE trade_id = $1`,
		func(s scanner) error {
			return s.Scan(&d.ID, &d.Reference, &d.TradeID, &d.UserID, &d.Currency, &d.Amount, &d.Status, &d.CreatedAt)
		}, tradeID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) GetFiatWithdrawalByTrade(ctx context.Context, tradeID int64) (*ledger.FiatWithdrawal, error) {
	var w ledger.FiatWithdrawal
	err := t.queryOne(ctx, `
		SELECT id, reference, trade_id, user_id, currency, amount, status, created_at
		FROM fiat_withdrawals WHERE trade_id = $1`,
		func(s scanner) error {
			return s.Scan(&w.ID, &w.Reference, &w.TradeID, &w.UserID, &w.Currency, &w.Amount, &w.Status, &w.CreatedAt)
		}, tradeID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// pqInt64s adapts a slice for BIGINT[] columns.
func pqInt64s(v *[]int64) any {
	return pq.Array(v)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
