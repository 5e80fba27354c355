// Package ratelimit enforces per-(user,operation) attempt windows for
// sensitive operations, independent of the transactional ledger.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ghidar/wallet-core/internal/apperr"
)

// Operation keys. One window per (user, operation) pair.
const (
	OpInitiateWithdrawal = "withdraw_init"
	OpSubmitSignature    = "sig_submit"
	OpConfirmDeposit     = "deposit_confirm"
	OpPurchaseTickets    = "ticket_buy"
)

// Limiter is a redis fixed-window counter. A nil redis client disables
// limiting (unit tests).
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int64
	log    *zap.SugaredLogger
}

func NewLimiter(rdb *redis.Client, window time.Duration, max int, log *zap.SugaredLogger) *Limiter {
	return &Limiter{rdb: rdb, window: window, max: int64(max), log: log}
}

// Allow counts one attempt and fails with RateLimited once the window is
// exhausted. Redis being down fails open with a warning: the ledger's own
// guards still hold, and availability wins for this pre-check.
func (l *Limiter) Allow(ctx context.Context, userID uint64, op string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	key := fmt.Sprintf("rl:%s:%d", op, userID)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warnf("rate limiter unavailable op=%s user=%d: %v", op, userID, err)
		return nil
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			l.log.Warnf("rate limiter expire %s: %v", key, err)
		}
	}
	if n > l.max {
		return apperr.ErrRateLimited
	}
	return nil
}
