package model

import "time"

// Event types published to the notification collaborator after commit.
const (
	EventDepositConfirmed    = "DepositConfirmed"
	EventWithdrawalCompleted = "WithdrawalCompleted"
	EventWithdrawalRejected  = "WithdrawalRejected"
	EventVerificationResult  = "VerificationResult"
	EventLotteryWon          = "LotteryWon"
)

// OutboxEvent is written inside the same transaction as the financial
// change and published asynchronously, so a notification failure can
// never roll back money movement.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:64;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
