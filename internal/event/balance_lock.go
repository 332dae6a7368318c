package event

// Engine lock statuses carried in BalanceLockPayload.Status.
const (
	LockStatusLocked    = "LOCKED"
	LockStatusReleasing = "RELEASING"
	LockStatusReleased  = "RELEASED"
)

// BalanceLockPayload is the object of a BALANCE_LOCK_UPDATE message.
// LockedBalances is keyed by composite account key.
type BalanceLockPayload struct {
	Identifier     FlexID            `json:"identifier"`
	LockID         string            `json:"lockId,omitempty"`
	Status         string            `json:"status"`
	LockedBalances map[string]string `json:"lockedBalances,omitempty"`
	UpdatedAt      int64             `json:"updatedAt"`
}
