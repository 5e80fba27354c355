package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/apperr"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/ratelimit"
	"github.com/ghidar/wallet-core/internal/repo"
)

// LotteryService sells tickets and runs the draw. The active->finished
// flip inside the draw transaction is what makes a re-draw impossible.
type LotteryService struct {
	repo    *repo.Repository
	money   *MoneyService
	limiter *ratelimit.Limiter
	log     *zap.SugaredLogger
}

func NewLotteryService(r *repo.Repository, m *MoneyService, l *ratelimit.Limiter, logger *zap.SugaredLogger) *LotteryService {
	return &LotteryService{repo: r, money: m, limiter: l, log: logger}
}

// CreateLottery opens a draw period (admin path).
func (s *LotteryService) CreateLottery(ctx context.Context, adminID uint64, ticketPrice decimal.Decimal, startAt, endAt time.Time) (*model.Lottery, error) {
	ok, err := s.repo.HasRole(ctx, adminID, model.RoleOperator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrForbidden
	}
	if ticketPrice.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.ErrInvalidAmount
	}
	if !endAt.After(startAt) {
		return nil, apperr.New(apperr.CodeValidation, "end must follow start")
	}
	l := &model.Lottery{
		TicketPrice: ticketPrice,
		PrizePool:   decimal.Zero,
		Status:      model.LotteryActive,
		StartAt:     startAt,
		EndAt:       endAt,
	}
	if err := s.repo.CreateLottery(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ActiveLottery returns the current draw.
func (s *LotteryService) ActiveLottery(ctx context.Context) (*model.Lottery, error) {
	l, err := s.repo.ActiveLottery(ctx)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// PurchaseTickets debits the wallet, grows the prize pool by exactly the
// same amount and inserts the ticket batch, all in one transaction.
func (s *LotteryService) PurchaseTickets(ctx context.Context, userID uint64, lotteryID uint64, ticketCount int) ([]model.LotteryTicket, error) {
	if err := s.limiter.Allow(ctx, userID, ratelimit.OpPurchaseTickets); err != nil {
		return nil, err
	}
	if ticketCount <= 0 || ticketCount > 1000 {
		return nil, apperr.New(apperr.CodeValidation, "ticket count out of range")
	}
	var tickets []model.LotteryTicket
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.repo.GetLotteryForUpdate(ctx, tx, lotteryID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		now := time.Now()
		if l.Status != model.LotteryActive || now.Before(l.StartAt) || now.After(l.EndAt) {
			return apperr.ErrLotteryNotActive
		}

		cost := l.TicketPrice.Mul(decimal.NewFromInt(int64(ticketCount)))
		if err := s.money.DebitTx(ctx, tx, userID, cost, model.CurrencyUSDT, model.EntryLotteryTicket, nil); err != nil {
			return err
		}

		l.PrizePool = l.PrizePool.Add(cost)
		if err := s.repo.UpdateLottery(ctx, tx, l, l.Version); err != nil {
			return err
		}

		next, err := s.repo.NextTicketNo(ctx, tx, lotteryID)
		if err != nil {
			return err
		}
		tickets = make([]model.LotteryTicket, ticketCount)
		for i := 0; i < ticketCount; i++ {
			tickets[i] = model.LotteryTicket{LotteryID: lotteryID, UserID: userID, TicketNo: next + i}
		}
		return s.repo.CreateTickets(ctx, tx, tickets)
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// DrawWinners picks one winning ticket uniformly at random, credits the
// whole pool to its holder and finishes the lottery. The status check
// under the row lock rejects a second draw, and crediting, the winner
// row and the flip share one transaction so a crash cannot leave a
// finished-but-unpaid or paid-but-active draw.
func (s *LotteryService) DrawWinners(ctx context.Context, adminID uint64, lotteryID uint64) (*model.LotteryWinner, error) {
	ok, err := s.repo.HasRole(ctx, adminID, model.RoleOperator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrForbidden
	}
	var winner *model.LotteryWinner
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.repo.GetLotteryForUpdate(ctx, tx, lotteryID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if l.Status != model.LotteryActive {
			return apperr.ErrLotteryNotActive
		}

		tickets, err := s.repo.TicketsForLottery(ctx, tx, lotteryID)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			// nothing sold: close the draw without a winner
			l.Status = model.LotteryFinished
			return s.repo.UpdateLottery(ctx, tx, l, l.Version)
		}

		idx, err := cryptoIndex(len(tickets))
		if err != nil {
			return err
		}
		t := tickets[idx]

		prize := l.PrizePool
		ref := "lottery:" + strconv.FormatUint(lotteryID, 10)
		if err := s.money.CreditTx(ctx, tx, t.UserID, prize, model.CurrencyUSDT, model.EntryLotteryPrize, &ref); err != nil {
			return err
		}

		winner = &model.LotteryWinner{LotteryID: lotteryID, UserID: t.UserID, PrizeAmount: prize, Rank: 1}
		if err := s.repo.CreateWinner(ctx, tx, winner); err != nil {
			return err
		}

		l.Status = model.LotteryFinished
		if err := s.repo.UpdateLottery(ctx, tx, l, l.Version); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"user_id": t.UserID, "lottery_id": lotteryID, "prize": prize,
		})
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Lottery", AggregateID: ref,
			EventType: model.EventLotteryWon, Payload: string(payload),
		})
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}

// Winners lists the winners of a draw.
func (s *LotteryService) Winners(ctx context.Context, lotteryID uint64) ([]model.LotteryWinner, error) {
	return s.repo.WinnersForLottery(ctx, lotteryID)
}

// cryptoIndex draws a uniform index in [0,n) from crypto/rand. Uniform
// over tickets, not users, so heavier buyers get proportional odds.
func cryptoIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
