package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/model"
)

// CreateLottery opens a new draw period.
func (r *Repository) CreateLottery(ctx context.Context, l *model.Lottery) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// ActiveLottery returns the current active draw, if any.
func (r *Repository) ActiveLottery(ctx context.Context) (*model.Lottery, error) {
	var l model.Lottery
	if err := r.db.WithContext(ctx).
		Where("status = ?", model.LotteryActive).
		Order("start_at desc").First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLotteryForUpdate locks the lottery row; ticket sales and the draw
// serialize on it.
func (r *Repository) GetLotteryForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Lottery, error) {
	var l model.Lottery
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLottery writes pool and status with the version guard.
func (r *Repository) UpdateLottery(ctx context.Context, tx *gorm.DB, l *model.Lottery, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Lottery{}).
		Where("id = ? AND version = ?", l.ID, oldVersion).
		Updates(map[string]interface{}{
			"prize_pool": l.PrizePool,
			"status":     l.Status,
			"version":    oldVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("lottery version conflict")
	}
	return nil
}

// CreateTickets inserts a purchase batch.
func (r *Repository) CreateTickets(ctx context.Context, tx *gorm.DB, tickets []model.LotteryTicket) error {
	return tx.WithContext(ctx).Create(&tickets).Error
}

// TicketsForLottery loads every ticket of the draw in stable order.
func (r *Repository) TicketsForLottery(ctx context.Context, tx *gorm.DB, lotteryID uint64) ([]model.LotteryTicket, error) {
	var ts []model.LotteryTicket
	err := tx.WithContext(ctx).
		Where("lottery_id = ?", lotteryID).
		Order("id asc").Find(&ts).Error
	return ts, err
}

// NextTicketNo returns the next ticket index for the draw.
func (r *Repository) NextTicketNo(ctx context.Context, tx *gorm.DB, lotteryID uint64) (int, error) {
	var n int64
	if err := tx.WithContext(ctx).Model(&model.LotteryTicket{}).
		Where("lottery_id = ?", lotteryID).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n) + 1, nil
}

// CreateWinner appends the winner record.
func (r *Repository) CreateWinner(ctx context.Context, tx *gorm.DB, w *model.LotteryWinner) error {
	return tx.WithContext(ctx).Create(w).Error
}

// WinnersForLottery lists winners of a finished draw.
func (r *Repository) WinnersForLottery(ctx context.Context, lotteryID uint64) ([]model.LotteryWinner, error) {
	var ws []model.LotteryWinner
	err := r.db.WithContext(ctx).
		Where("lottery_id = ?", lotteryID).Order("rank asc").Find(&ws).Error
	return ws, err
}
