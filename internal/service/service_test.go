package service

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/config"
	"github.com/ghidar/wallet-core/internal/logger"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/repo"
)

type testEnv struct {
	db         *gorm.DB
	repo       *repo.Repository
	cfg        *config.Config
	money      *MoneyService
	risk       *RiskService
	verify     *VerificationService
	withdrawal *WithdrawalService
	lottery    *LotteryService
}

func newTestEnv(t *testing.T) (*testEnv, context.Context) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.AiAccount{}, &model.LedgerEntry{},
		&model.Deposit{}, &model.WalletVerification{}, &model.VerificationAddress{},
		&model.AssistedTicket{}, &model.WithdrawalRequest{}, &model.AdminRole{},
		&model.Lottery{}, &model.LotteryTicket{}, &model.LotteryWinner{},
		&model.OutboxEvent{},
	))

	log, err := logger.NewLogger("test")
	assert.NoError(t, err)

	cfg := config.Default()
	r := repo.NewRepository(db, nil, &kafka.Writer{}, log)

	env := &testEnv{db: db, repo: r, cfg: cfg}
	env.money = NewMoneyService(r, nil, cfg, log)
	env.risk = NewRiskService(r, cfg, log)
	env.verify = NewVerificationService(r, nil, cfg, log)
	env.withdrawal = NewWithdrawalService(r, env.money, env.risk, env.verify, nil, cfg, log)
	env.lottery = NewLotteryService(r, env.money, nil, log)
	return env, context.Background()
}

func (e *testEnv) fundWallet(t *testing.T, userID uint64, usdt, ghd string) {
	t.Helper()
	w := &model.Wallet{
		UserID:      userID,
		UsdtBalance: dec(usdt),
		GhdBalance:  dec(ghd),
		CreatedAt:   time.Now().Add(-90 * 24 * time.Hour),
	}
	assert.NoError(t, e.db.Create(w).Error)
}

// seedConfirmedDeposit gives the user deposit history so risk scoring
// lands in the low tier for modest amounts.
func (e *testEnv) seedConfirmedDeposit(t *testing.T, userID uint64, amount, txHash string) {
	t.Helper()
	now := time.Now()
	d := &model.Deposit{
		UserID: userID, Network: model.NetworkERC20, TxHash: txHash,
		Status: model.DepositConfirmed, Target: model.DepositTargetWallet,
		ExpectedAmount: dec(amount), ActualAmount: dec(amount), ConfirmedAt: &now,
	}
	assert.NoError(t, e.db.Create(d).Error)
}

func (e *testEnv) grantRole(t *testing.T, userID uint64, role string) {
	t.Helper()
	assert.NoError(t, e.db.Create(&model.AdminRole{UserID: userID, Role: role}).Error)
}

func (e *testEnv) walletOf(t *testing.T, userID uint64) *model.Wallet {
	t.Helper()
	var w model.Wallet
	assert.NoError(t, e.db.Where("user_id = ?", userID).First(&w).Error)
	return &w
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
