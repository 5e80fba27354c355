package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry types recorded on the append-only ledger.
const (
	EntryDeposit        = "DEPOSIT"
	EntryWithdrawal     = "WITHDRAWAL"
	EntryConvertOut     = "CONVERT_GHD_OUT"
	EntryConvertIn      = "CONVERT_USDT_IN"
	EntryAiTransferOut  = "AI_TRANSFER_OUT"
	EntryAiTransferIn   = "AI_TRANSFER_IN"
	EntryLotteryTicket  = "LOTTERY_TICKET"
	EntryLotteryPrize   = "LOTTERY_PRIZE"
	EntryWithdrawRefund = "WITHDRAWAL_REFUND"
)

const (
	CurrencyUSDT = "USDT"
	CurrencyGHD  = "GHD"
)

// LedgerEntry is one append-only audit row per balance mutation,
// carrying the balance before and after the change. Reference is the
// idempotency key for mutations driven by external events.
type LedgerEntry struct {
	ID            uint64          `gorm:"primaryKey"`
	UserID        uint64          `gorm:"index;not null"`
	Type          string          `gorm:"size:32;not null"`
	Currency      string          `gorm:"size:8;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Reference     *string         `gorm:"size:128;index"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
