package state

import (
	"strings"
	"time"
)

type CoinWithdrawalStatus string

const (
	WithdrawalPending          CoinWithdrawalStatus = "pending"
	WithdrawalProcessing       CoinWithdrawalStatus = "processing"
	WithdrawalCompleted        CoinWithdrawalStatus = "completed"
	WithdrawalFailed           CoinWithdrawalStatus = "failed"
	WithdrawalCancelled        CoinWithdrawalStatus = "cancelled"
	WithdrawalTransactionError CoinWithdrawalStatus = StatusTransactionError
)

func (s CoinWithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalCompleted, WithdrawalFailed, WithdrawalCancelled, WithdrawalTransactionError:
		return true
	}
	return false
}

// ParseEngineWithdrawalStatus maps the engine vocabulary
// (COMPLETED/FAILED/PROCESSING/CANCELLED) to a local status.
func ParseEngineWithdrawalStatus(s string) (CoinWithdrawalStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PROCESSING":
		return WithdrawalProcessing, true
	case "COMPLETED":
		return WithdrawalCompleted, true
	case "FAILED":
		return WithdrawalFailed, true
	case "CANCELLED", "CANCELED":
		return WithdrawalCancelled, true
	}
	return "", false
}

var withdrawalTransitions = map[CoinWithdrawalStatus][]CoinWithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalCompleted, WithdrawalFailed, WithdrawalCancelled},
	WithdrawalProcessing: {WithdrawalCompleted, WithdrawalFailed, WithdrawalCancelled},
}

type CoinWithdrawal struct {
	ID                int64
	UserID            int64
	Currency          string
	Status            CoinWithdrawalStatus
	StatusExplanation string
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (w *CoinWithdrawal) CanTransitionTo(target CoinWithdrawalStatus) bool {
	for _, s := range withdrawalTransitions[w.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionTo moves the withdrawal to target. The explanation is kept only
// for failures; any other status clears it.
func (w *CoinWithdrawal) TransitionTo(target CoinWithdrawalStatus, explanation string) error {
	if target == w.Status {
		return nil
	}
	if !w.CanTransitionTo(target) {
		return invalidTransition("coin_withdrawal", target, w.Status)
	}
	w.Status = target
	if target == WithdrawalFailed {
		w.StatusExplanation = explanation
	} else {
		w.StatusExplanation = ""
	}
	return nil
}

// Fail forces the withdrawal into failed regardless of its current status.
func (w *CoinWithdrawal) Fail(explanation string) {
	w.Status = WithdrawalFailed
	w.StatusExplanation = explanation
	w.ErrorMessage = explanation
}

func (w *CoinWithdrawal) MarkTransactionError(msg string) {
	w.Status = WithdrawalTransactionError
	w.ErrorMessage = msg
}
