package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryStore is the slice of a storage transaction the writer needs.
// Inserts assign the generated ID back onto the record.
type EntryStore interface {
	AccountLookup
	SaveCoinAccount(ctx context.Context, acc *CoinAccount) error
	SaveFiatAccount(ctx context.Context, acc *FiatAccount) error
	InsertFiatDeposit(ctx context.Context, d *FiatDeposit) error
	InsertFiatWithdrawal(ctx context.Context, w *FiatWithdrawal) error
	InsertEscrowOperation(ctx context.Context, op *EscrowOperation) error
	InsertCoinTransaction(ctx context.Context, tx *CoinTransaction) error
	InsertFiatTransaction(ctx context.Context, tx *FiatTransaction) error
}

// Writer creates immutable ledger entries inside the caller's transaction.
// It never commits; a failed write is expected to roll back the owning
// state transition with it.
type Writer struct {
	store EntryStore
	now   func() time.Time
}

func NewWriter(store EntryStore) *Writer {
	return &Writer{store: store, now: time.Now}
}

// WithClock overrides the creation timestamp source.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

func (w *Writer) CreateFiatDeposit(ctx context.Context, d *FiatDeposit) error {
	if d.Status == "" {
		d.Status = DepositPending
	}
	if err := d.Validate(); err != nil {
		return err
	}
	d.Reference = uuid.New()
	d.CreatedAt = w.now().UTC()
	if err := w.store.InsertFiatDeposit(ctx, d); err != nil {
		return fmt.Errorf("insert fiat deposit for trade %d: %w", d.TradeID, err)
	}
	return nil
}

func (w *Writer) CreateFiatWithdrawal(ctx context.Context, fw *FiatWithdrawal) error {
	if fw.Status == "" {
		fw.Status = WithdrawalPending
	}
	if err := fw.Validate(); err != nil {
		return err
	}
	fw.Reference = uuid.New()
	fw.CreatedAt = w.now().UTC()
	if err := w.store.InsertFiatWithdrawal(ctx, fw); err != nil {
		return fmt.Errorf("insert fiat withdrawal for trade %d: %w", fw.TradeID, err)
	}
	return nil
}

func (w *Writer) CreateEscrowOperation(ctx context.Context, op *EscrowOperation) error {
	if op.Status == "" {
		op.Status = OperationComplete
	}
	if err := op.Validate(); err != nil {
		return err
	}
	op.Reference = uuid.New()
	op.CreatedAt = w.now().UTC()
	if err := w.store.InsertEscrowOperation(ctx, op); err != nil {
		return fmt.Errorf("insert escrow %s operation for escrow %d: %w", op.Type, op.EscrowID, err)
	}
	return nil
}

// CreateCoinTransaction moves amount (signed) on a coin account and records
// the resulting balance. Debits below zero are rejected.
func (w *Writer) CreateCoinTransaction(ctx context.Context, accountID int64, amount decimal.Decimal, src Source) (*CoinTransaction, error) {
	acc, err := w.store.GetCoinAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load coin account %d: %w", accountID, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: coin account %d", ErrAccountNotFound, accountID)
	}

	next := acc.Balance.Add(amount)
	if next.IsNegative() {
		return nil, fmt.Errorf("%w: coin account %d has %s, needs %s", ErrInsufficientBalance, accountID, acc.Balance, amount.Neg())
	}

	now := w.now().UTC()
	acc.Balance = next
	acc.UpdatedAt = now
	if err := w.store.SaveCoinAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("save coin account %d: %w", accountID, err)
	}

	tx := &CoinTransaction{
		Reference:       uuid.New(),
		AccountID:       acc.ID,
		UserID:          acc.UserID,
		Currency:        acc.Currency,
		Amount:          amount,
		SnapshotBalance: next,
		SourceType:      src.Type,
		SourceID:        src.ID,
		CreatedAt:       now,
	}
	if err := w.store.InsertCoinTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert coin transaction on account %d: %w", accountID, err)
	}
	return tx, nil
}

// CreateFiatTransaction is the fiat counterpart of CreateCoinTransaction.
func (w *Writer) CreateFiatTransaction(ctx context.Context, accountID int64, amount decimal.Decimal, src Source) (*FiatTransaction, error) {
	acc, err := w.store.GetFiatAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load fiat account %d: %w", accountID, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: fiat account %d", ErrAccountNotFound, accountID)
	}

	next := acc.Balance.Add(amount)
	if next.IsNegative() {
		return nil, fmt.Errorf("%w: fiat account %d has %s, needs %s", ErrInsufficientBalance, accountID, acc.Balance, amount.Neg())
	}

	now := w.now().UTC()
	acc.Balance = next
	acc.UpdatedAt = now
	if err := w.store.SaveFiatAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("save fiat account %d: %w", accountID, err)
	}

	tx := &FiatTransaction{
		Reference:       uuid.New(),
		AccountID:       acc.ID,
		UserID:          acc.UserID,
		Currency:        acc.Currency,
		Amount:          amount,
		SnapshotBalance: next,
		SourceType:      src.Type,
		SourceID:        src.ID,
		CreatedAt:       now,
	}
	if err := w.store.InsertFiatTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert fiat transaction on account %d: %w", accountID, err)
	}
	return tx, nil
}
