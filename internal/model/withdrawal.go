package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal request states. The debit happens when the request is
// created (pending); completed records the external payout, rejected
// refunds in full. Both are terminal.
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

// WithdrawalRequest records a user's intent to move value out, tied to
// the verification session that authorized it.
type WithdrawalRequest struct {
	ID             string          `gorm:"primaryKey;size:36"`
	UserID         uint64          `gorm:"index;not null"`
	Feature        string          `gorm:"size:16;not null;default:'withdrawal'"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Network        string          `gorm:"size:16;not null"`
	TargetAddress  string          `gorm:"size:64;not null"`
	Status         string          `gorm:"size:16;not null;index"`
	VerificationID string          `gorm:"size:36;uniqueIndex;not null"`
	RiskScore      int             `gorm:"not null"`
	RejectReason   *string         `gorm:"size:255"`
	ProcessedAt    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

// AdminRole is the persisted capability table consulted on admin paths
// instead of compiled-in ID allowlists.
type AdminRole struct {
	ID        uint64    `gorm:"primaryKey"`
	UserID    uint64    `gorm:"uniqueIndex:idx_admin_user_role;not null"`
	Role      string    `gorm:"uniqueIndex:idx_admin_user_role;size:32;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (AdminRole) TableName() string { return "admin_roles" }

const (
	RoleOperator   = "operator"
	RoleCompliance = "compliance"
)
