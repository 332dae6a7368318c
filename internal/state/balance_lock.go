package state

import (
	"maps"
	"time"
)

type BalanceLockStatus string

const (
	LockPending          BalanceLockStatus = "pending"
	LockLocked           BalanceLockStatus = "locked"
	LockReleasing        BalanceLockStatus = "releasing"
	LockUnlocked         BalanceLockStatus = "unlocked"
	LockTransactionError BalanceLockStatus = StatusTransactionError
)

type BalanceLockEvent string

const (
	LockEventLock         BalanceLockEvent = "mark_as_locked"
	LockEventStartRelease BalanceLockEvent = "start_release"
	LockEventRelease      BalanceLockEvent = "release"
)

var lockMachine = machine[BalanceLockEvent, BalanceLockStatus]{
	LockEventLock:         {From: []BalanceLockStatus{LockPending}, To: LockLocked},
	LockEventStartRelease: {From: []BalanceLockStatus{LockLocked}, To: LockReleasing},
	LockEventRelease:      {From: []BalanceLockStatus{LockLocked, LockReleasing}, To: LockUnlocked},
}

// BalanceLock freezes part of a user's balances while the engine holds
// them. LockedBalances is keyed by currency code, or by the raw composite
// account key when the account could not be resolved.
type BalanceLock struct {
	ID             int64
	UserID         int64
	EngineLockID   string
	LockedBalances map[string]string
	PerformerID    int64
	Reason         string
	Status         BalanceLockStatus
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (l *BalanceLock) May(evt BalanceLockEvent) bool {
	return lockMachine.may(evt, l.Status)
}

// MarkAsLocked is idempotent: an already-locked lock reports changed=false.
func (l *BalanceLock) MarkAsLocked() (bool, error) {
	if l.Status == LockLocked {
		return false, nil
	}
	next, err := lockMachine.fire("balance_lock", LockEventLock, l.Status)
	if err != nil {
		return false, err
	}
	l.Status = next
	return true, nil
}

func (l *BalanceLock) StartRelease() error {
	next, err := lockMachine.fire("balance_lock", LockEventStartRelease, l.Status)
	if err != nil {
		return err
	}
	l.Status = next
	return nil
}

func (l *BalanceLock) Release() error {
	next, err := lockMachine.fire("balance_lock", LockEventRelease, l.Status)
	if err != nil {
		return err
	}
	l.Status = next
	return nil
}

// ReplaceBalances swaps in a full snapshot; entries are never merged.
func (l *BalanceLock) ReplaceBalances(snapshot map[string]string) {
	l.LockedBalances = maps.Clone(snapshot)
	if l.LockedBalances == nil {
		l.LockedBalances = map[string]string{}
	}
}

func (l *BalanceLock) MarkTransactionError(msg string) {
	l.Status = LockTransactionError
	l.ErrorMessage = msg
}
