package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LotteryActive   = "active"
	LotteryFinished = "finished"
)

// Lottery is one draw period. active -> finished happens exactly once;
// finished lotteries are immutable.
type Lottery struct {
	ID          uint64          `gorm:"primaryKey"`
	TicketPrice decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	PrizePool   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Status      string          `gorm:"size:16;not null;default:'active';index"`
	StartAt     time.Time       `gorm:"not null"`
	EndAt       time.Time       `gorm:"not null"`
	Version     uint64          `gorm:"not null;default:0"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (Lottery) TableName() string { return "lotteries" }

type LotteryTicket struct {
	ID        uint64    `gorm:"primaryKey"`
	LotteryID uint64    `gorm:"index;not null"`
	UserID    uint64    `gorm:"index;not null"`
	TicketNo  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (LotteryTicket) TableName() string { return "lottery_tickets" }

type LotteryWinner struct {
	ID          uint64          `gorm:"primaryKey"`
	LotteryID   uint64          `gorm:"uniqueIndex:idx_winner_lottery_rank"`
	UserID      uint64          `gorm:"index;not null"`
	PrizeAmount decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Rank        int             `gorm:"not null;uniqueIndex:idx_winner_lottery_rank"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (LotteryWinner) TableName() string { return "lottery_winners" }
