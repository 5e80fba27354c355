package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's internal balances. Both balances are invariantly
// non-negative; mutation happens only through the money service inside a
// locked transaction.
type Wallet struct {
	ID          uint64          `gorm:"primaryKey"`
	UserID      uint64          `gorm:"uniqueIndex;not null"`
	UsdtBalance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	GhdBalance  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version     uint64          `gorm:"not null;default:0"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

// AiAccount is the AI-Trader sub-ledger of a wallet. CurrentBalance is
// tracked independently of TotalDeposited: realized PnL moves it.
type AiAccount struct {
	ID             uint64          `gorm:"primaryKey"`
	UserID         uint64          `gorm:"uniqueIndex;not null"`
	TotalDeposited decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	CurrentBalance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	RealizedPnl    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version        uint64          `gorm:"not null;default:0"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

func (AiAccount) TableName() string { return "ai_accounts" }
