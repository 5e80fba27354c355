package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/auth"
	"github.com/ghidar/wallet-core/internal/config"
	"github.com/ghidar/wallet-core/internal/logger"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/ratelimit"
	"github.com/ghidar/wallet-core/internal/repo"
	"github.com/ghidar/wallet-core/internal/service"
	httptransport "github.com/ghidar/wallet-core/internal/transport/http"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger("wallet-core")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Wallet{}, &model.AiAccount{}, &model.LedgerEntry{},
		&model.Deposit{}, &model.WalletVerification{}, &model.VerificationAddress{},
		&model.AssistedTicket{}, &model.WithdrawalRequest{}, &model.AdminRole{},
		&model.Lottery{}, &model.LotteryTicket{}, &model.LotteryWinner{},
		&model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)
	limiter := ratelimit.NewLimiter(rdb,
		time.Duration(cfg.RateLimit.OpWindowSec)*time.Second, cfg.RateLimit.OpMaxPerWindow, log)

	money := service.NewMoneyService(repository, limiter, cfg, log)
	risk := service.NewRiskService(repository, cfg, log)
	verify := service.NewVerificationService(repository, limiter, cfg, log)
	withdrawal := service.NewWithdrawalService(repository, money, risk, verify, limiter, cfg, log)
	lottery := service.NewLotteryService(repository, money, limiter, log)

	verifier := auth.NewTelegramVerifier(cfg.Telegram.BotToken,
		time.Duration(cfg.Telegram.AuthTTLSec)*time.Second,
		time.Duration(cfg.Telegram.ReplayTTLSec)*time.Second,
		repository)

	router := httptransport.NewRouter(&httptransport.Services{
		Money:      money,
		Withdrawal: withdrawal,
		Verify:     verify,
		Lottery:    lottery,
	}, verifier, cfg, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("wallet-core listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
