package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	NetworkERC20    = "erc20"
	NetworkBEP20    = "bep20"
	NetworkTRC20    = "trc20"
	NetworkInternal = "internal"
)

const (
	DepositPending   = "pending"
	DepositConfirmed = "confirmed"
	DepositFailed    = "failed"
)

// Deposit features: a deposit may be tagged for a product so the
// confirmation also credits the matching sub-ledger.
const (
	DepositTargetWallet   = "wallet"
	DepositTargetAiTrader = "ai_trader"
)

// Deposit is one external on-chain transfer. (Network, TxHash) is unique;
// the pending->confirmed status flip is the idempotency gate for
// re-delivered confirmations.
type Deposit struct {
	ID             uint64          `gorm:"primaryKey"`
	UserID         uint64          `gorm:"index;not null"`
	Network        string          `gorm:"size:16;not null;uniqueIndex:idx_deposit_network_tx"`
	TxHash         string          `gorm:"size:128;not null;uniqueIndex:idx_deposit_network_tx"`
	Status         string          `gorm:"size:16;not null;default:'pending';index"`
	Target         string          `gorm:"size:16;not null;default:'wallet'"`
	ExpectedAmount decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ActualAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	ConfirmedAt    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Deposit) TableName() string { return "deposits" }

// IsValidNetwork reports whether n is a supported deposit network.
func IsValidNetwork(n string) bool {
	switch n {
	case NetworkERC20, NetworkBEP20, NetworkTRC20, NetworkInternal:
		return true
	}
	return false
}
