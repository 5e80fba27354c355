package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ghidar/wallet-core/internal/model"
)

// Repository is the only component that touches storage. Balance rows are
// read under SELECT ... FOR UPDATE and written with a version guard, so
// concurrent mutations of the same user serialize.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// forUpdate adds SELECT ... FOR UPDATE. SQLite (the test dialect) has no
// row locks and rejects the clause; its single-writer model covers us
// there.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// GetWalletForUpdate locks the wallet row of a user for the enclosing
// transaction.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreateWallet locks the wallet row, creating a zero-balance wallet
// first if the user has none. Creation is idempotent under the unique
// user_id constraint.
func (r *Repository) GetOrCreateWallet(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	w, err := r.GetWalletForUpdate(ctx, tx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := &model.Wallet{UserID: userID, UsdtBalance: decimal.Zero, GhdBalance: decimal.Zero}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(fresh).Error; err != nil {
		return nil, err
	}
	return r.GetWalletForUpdate(ctx, tx, userID)
}

// UpdateWalletBalances writes both balances with an optimistic version
// guard on top of the row lock.
func (r *Repository) UpdateWalletBalances(ctx context.Context, tx *gorm.DB, walletID uint64, usdt, ghd decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"usdt_balance": usdt,
			"ghd_balance":  ghd,
			"version":      oldVersion + 1,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("wallet version conflict")
	}
	return nil
}

// GetOrCreateAiAccountForUpdate locks the AI-Trader sub-ledger row,
// creating it lazily on first use.
func (r *Repository) GetOrCreateAiAccountForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.AiAccount, error) {
	var a model.AiAccount
	err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ?", userID).First(&a).Error
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := &model.AiAccount{UserID: userID}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(fresh).Error; err != nil {
		return nil, err
	}
	if err := forUpdate(tx.WithContext(ctx)).
		Where("user_id = ?", userID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAiAccount persists sub-ledger fields with the version guard.
func (r *Repository) UpdateAiAccount(ctx context.Context, tx *gorm.DB, a *model.AiAccount, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.AiAccount{}).
		Where("id = ? AND version = ?", a.ID, oldVersion).
		Updates(map[string]interface{}{
			"total_deposited": a.TotalDeposited,
			"current_balance": a.CurrentBalance,
			"realized_pnl":    a.RealizedPnl,
			"total_withdrawn": a.TotalWithdrawn,
			"version":         oldVersion + 1,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("ai account version conflict")
	}
	return nil
}

// CreateLedgerEntry appends one audit row.
func (r *Repository) CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// GetDepositForUpdate locks a deposit row by id.
func (r *Repository) GetDepositForUpdate(ctx context.Context, tx *gorm.DB, depositID uint64) (*model.Deposit, error) {
	var d model.Deposit
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", depositID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// SumConfirmedDeposits totals a user's confirmed deposit history, a risk
// input.
func (r *Repository) SumConfirmedDeposits(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&model.Deposit{}).
		Select("SUM(actual_amount)").
		Where("user_id = ? AND status = ?", userID, model.DepositConfirmed).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// HasRole consults the persisted admin capability table.
func (r *Repository) HasRole(ctx context.Context, userID uint64, role string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.AdminRole{}).
		Where("user_id = ? AND role = ?", userID, role).Count(&n).Error
	return n > 0, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalances writes both balances to Redis.
func (r *Repository) CacheBalances(ctx context.Context, userID uint64, usdt, ghd decimal.Decimal) error {
	if r.rdb == nil {
		return nil
	}
	key := fmt.Sprintf("balance:%d", userID)
	return r.rdb.Set(ctx, key, usdt.String()+"|"+ghd.String(), 5*time.Minute).Err()
}

// GetCachedBalances reads the cached pair; redis.Nil maps to not-found.
func (r *Repository) GetCachedBalances(ctx context.Context, userID uint64) (usdt, ghd decimal.Decimal, ok bool, err error) {
	if r.rdb == nil {
		return decimal.Zero, decimal.Zero, false, nil
	}
	str, err := r.rdb.Get(ctx, fmt.Sprintf("balance:%d", userID)).Result()
	if err == redis.Nil {
		return decimal.Zero, decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}
	parts := strings.SplitN(str, "|", 2)
	if len(parts) != 2 {
		return decimal.Zero, decimal.Zero, false, nil
	}
	usdt, err = decimal.NewFromString(parts[0])
	if err != nil {
		return decimal.Zero, decimal.Zero, false, nil
	}
	ghd, err = decimal.NewFromString(parts[1])
	if err != nil {
		return decimal.Zero, decimal.Zero, false, nil
	}
	return usdt, ghd, true, nil
}

// InvalidateBalances drops the cached pair after a mutation committed
// outside the read path.
func (r *Repository) InvalidateBalances(ctx context.Context, userID uint64) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, fmt.Sprintf("balance:%d", userID)).Err(); err != nil {
		r.log.Warnf("invalidate balance cache user=%d: %v", userID, err)
	}
}

// SetNX is the single-use guard used for auth replay protection.
func (r *Repository) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return true, nil
	}
	return r.rdb.SetNX(ctx, key, val, ttl).Result()
}
