package event

// Engine withdrawal statuses.
const (
	WithdrawalStatusProcessing = "PROCESSING"
	WithdrawalStatusCompleted  = "COMPLETED"
	WithdrawalStatusFailed     = "FAILED"
	WithdrawalStatusCancelled  = "CANCELLED"
)

// CoinWithdrawalPayload is the object of a COIN_WITHDRAWAL_UPDATE message.
type CoinWithdrawalPayload struct {
	Identifier        FlexID `json:"identifier"`
	Status            string `json:"status"`
	StatusExplanation string `json:"statusExplanation,omitempty"`
	UpdatedAt         int64  `json:"updatedAt,omitempty"`
}
