package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/apperr"
	"github.com/ghidar/wallet-core/internal/config"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/ratelimit"
	"github.com/ghidar/wallet-core/internal/repo"
)

// MoneyService is the only component allowed to change wallet and
// AI-account balances. Every mutation runs inside a row-locked
// transaction and leaves an append-only ledger entry.
type MoneyService struct {
	repo    *repo.Repository
	limiter *ratelimit.Limiter
	cfg     *config.Config
	log     *zap.SugaredLogger
}

func NewMoneyService(r *repo.Repository, l *ratelimit.Limiter, cfg *config.Config, logger *zap.SugaredLogger) *MoneyService {
	return &MoneyService{repo: r, limiter: l, cfg: cfg, log: logger}
}

// Balances is the read path: cache first, then storage.
func (s *MoneyService) Balances(ctx context.Context, userID uint64) (usdt, ghd decimal.Decimal, err error) {
	usdt, ghd, ok, err := s.repo.GetCachedBalances(ctx, userID)
	if err != nil {
		s.log.Warnf("balance cache read user=%d: %v", userID, err)
	}
	if ok {
		return usdt, ghd, nil
	}
	var w model.Wallet
	if err := s.repo.DB(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		if repo.IsNotFound(err) {
			return decimal.Zero, decimal.Zero, nil
		}
		return decimal.Zero, decimal.Zero, err
	}
	if err := s.repo.CacheBalances(ctx, userID, w.UsdtBalance, w.GhdBalance); err != nil {
		s.log.Warnf("balance cache write user=%d: %v", userID, err)
	}
	return w.UsdtBalance, w.GhdBalance, nil
}

// DebitTx decrements one wallet balance inside the caller's transaction.
// The non-negativity invariant is enforced here, before any write.
func (s *MoneyService) DebitTx(ctx context.Context, tx *gorm.DB, userID uint64, amount decimal.Decimal, currency, entryType string, ref *string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return apperr.ErrInvalidAmount
	}
	w, err := s.repo.GetOrCreateWallet(ctx, tx, userID)
	if err != nil {
		return err
	}
	usdt, ghd := w.UsdtBalance, w.GhdBalance
	var before, after decimal.Decimal
	switch currency {
	case model.CurrencyUSDT:
		before = usdt
		if before.LessThan(amount) {
			return apperr.ErrInsufficientFunds
		}
		usdt = before.Sub(amount)
		after = usdt
	case model.CurrencyGHD:
		before = ghd
		if before.LessThan(amount) {
			return apperr.ErrInsufficientFunds
		}
		ghd = before.Sub(amount)
		after = ghd
	default:
		return apperr.ErrInvalidAmount
	}
	if err := s.repo.UpdateWalletBalances(ctx, tx, w.ID, usdt, ghd, w.Version); err != nil {
		return err
	}
	entry := &model.LedgerEntry{
		UserID: userID, Type: entryType, Currency: currency, Amount: amount.Neg(),
		BalanceBefore: before, BalanceAfter: after, Reference: ref,
	}
	if err := s.repo.CreateLedgerEntry(ctx, tx, entry); err != nil {
		return err
	}
	s.repo.InvalidateBalances(ctx, userID)
	return nil
}

// CreditTx increments one wallet balance inside the caller's transaction.
func (s *MoneyService) CreditTx(ctx context.Context, tx *gorm.DB, userID uint64, amount decimal.Decimal, currency, entryType string, ref *string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return apperr.ErrInvalidAmount
	}
	w, err := s.repo.GetOrCreateWallet(ctx, tx, userID)
	if err != nil {
		return err
	}
	usdt, ghd := w.UsdtBalance, w.GhdBalance
	var before, after decimal.Decimal
	switch currency {
	case model.CurrencyUSDT:
		before = usdt
		usdt = before.Add(amount)
		after = usdt
	case model.CurrencyGHD:
		before = ghd
		ghd = before.Add(amount)
		after = ghd
	default:
		return apperr.ErrInvalidAmount
	}
	if err := s.repo.UpdateWalletBalances(ctx, tx, w.ID, usdt, ghd, w.Version); err != nil {
		return err
	}
	entry := &model.LedgerEntry{
		UserID: userID, Type: entryType, Currency: currency, Amount: amount,
		BalanceBefore: before, BalanceAfter: after, Reference: ref,
	}
	if err := s.repo.CreateLedgerEntry(ctx, tx, entry); err != nil {
		return err
	}
	s.repo.InvalidateBalances(ctx, userID)
	return nil
}

// Debit runs a standalone debit transaction.
func (s *MoneyService) Debit(ctx context.Context, userID uint64, amount decimal.Decimal, currency string) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.DebitTx(ctx, tx, userID, amount, currency, model.EntryWithdrawal, nil)
	})
}

// Credit runs a standalone credit transaction.
func (s *MoneyService) Credit(ctx context.Context, userID uint64, amount decimal.Decimal, currency string) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.CreditTx(ctx, tx, userID, amount, currency, model.EntryDeposit, nil)
	})
}

// DepositResult is what the deposit watcher gets back; identical on
// first application and on idempotent re-delivery.
type DepositResult struct {
	DepositID   uint64          `json:"deposit_id"`
	UserID      uint64          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	ConfirmedAt *time.Time      `json:"confirmed_at"`
}

// ApplyConfirmedDeposit settles one on-chain confirmation. The
// pending->confirmed status flip under the row lock is the idempotency
// gate: re-delivery finds a non-pending row and returns the prior result
// with ErrAlreadyProcessed, never a second credit.
func (s *MoneyService) ApplyConfirmedDeposit(ctx context.Context, depositID uint64, network, txHash string, actual decimal.Decimal) (*DepositResult, error) {
	if actual.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.ErrInvalidAmount
	}
	if !model.IsValidNetwork(network) {
		return nil, apperr.ErrInvalidAmount
	}
	// keyed by deposit, not user: the watcher retries per confirmation
	if err := s.limiter.Allow(ctx, depositID, ratelimit.OpConfirmDeposit); err != nil {
		return nil, err
	}
	var res *DepositResult
	var replay bool
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.repo.GetDepositForUpdate(ctx, tx, depositID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if d.Network != network || d.TxHash != txHash {
			return apperr.ErrNotFound
		}
		if d.Status != model.DepositPending {
			res = &DepositResult{DepositID: d.ID, UserID: d.UserID, Amount: d.ActualAmount, Status: d.Status, ConfirmedAt: d.ConfirmedAt}
			replay = true
			return nil
		}

		now := time.Now()
		d.Status = model.DepositConfirmed
		d.ActualAmount = actual
		d.ConfirmedAt = &now
		if err := tx.WithContext(ctx).Save(d).Error; err != nil {
			return err
		}

		ref := depositRef(d)
		if err := s.CreditTx(ctx, tx, d.UserID, actual, model.CurrencyUSDT, model.EntryDeposit, &ref); err != nil {
			return err
		}
		if d.Target == model.DepositTargetAiTrader {
			if err := s.moveToSubAccountTx(ctx, tx, d.UserID, actual, &ref); err != nil {
				return err
			}
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"user_id": d.UserID, "deposit_id": d.ID, "amount": actual, "network": d.Network,
		})
		evt := &model.OutboxEvent{
			Aggregate: "Deposit", AggregateID: ref,
			EventType: model.EventDepositConfirmed, Payload: string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		res = &DepositResult{DepositID: d.ID, UserID: d.UserID, Amount: actual, Status: d.Status, ConfirmedAt: d.ConfirmedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		s.log.Warnf("deposit %d re-delivered, no-op", depositID)
		return res, apperr.ErrAlreadyProcessed
	}
	return res, nil
}

// ConvertGhdToUsdt swaps GHD for USDT at the fixed configured ratio.
// Both legs commit together or not at all.
func (s *MoneyService) ConvertGhdToUsdt(ctx context.Context, userID uint64, ghdAmount decimal.Decimal) (usdtOut decimal.Decimal, err error) {
	if ghdAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, apperr.ErrInvalidAmount
	}
	if ghdAmount.LessThan(s.cfg.Wallet.MinGhdConvert) {
		return decimal.Zero, apperr.ErrBelowMinimum
	}
	// round toward zero: a conversion may shave dust, never mint it
	usdtOut = ghdAmount.Div(s.cfg.Wallet.GhdPerUsdt).RoundDown(8)
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.DebitTx(ctx, tx, userID, ghdAmount, model.CurrencyGHD, model.EntryConvertOut, nil); err != nil {
			return err
		}
		return s.CreditTx(ctx, tx, userID, usdtOut, model.CurrencyUSDT, model.EntryConvertIn, nil)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return usdtOut, nil
}

// TransferToSubAccount funds the AI-Trader sub-ledger from the wallet.
func (s *MoneyService) TransferToSubAccount(ctx context.Context, userID uint64, amount decimal.Decimal) error {
	if err := s.checkAiBounds(amount); err != nil {
		return err
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.moveToSubAccountTx(ctx, tx, userID, amount, nil)
	})
}

func (s *MoneyService) moveToSubAccountTx(ctx context.Context, tx *gorm.DB, userID uint64, amount decimal.Decimal, ref *string) error {
	if err := s.DebitTx(ctx, tx, userID, amount, model.CurrencyUSDT, model.EntryAiTransferOut, ref); err != nil {
		return err
	}
	a, err := s.repo.GetOrCreateAiAccountForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	a.TotalDeposited = a.TotalDeposited.Add(amount)
	a.CurrentBalance = a.CurrentBalance.Add(amount)
	return s.repo.UpdateAiAccount(ctx, tx, a, a.Version)
}

// TransferFromSubAccount moves value back to the wallet, bounded by the
// sub-ledger's current balance. Lock order matches moveToSubAccountTx,
// wallet row first then the sub-account; opposite orders deadlock under
// concurrent round trips.
func (s *MoneyService) TransferFromSubAccount(ctx context.Context, userID uint64, amount decimal.Decimal) error {
	if err := s.checkAiBounds(amount); err != nil {
		return err
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.CreditTx(ctx, tx, userID, amount, model.CurrencyUSDT, model.EntryAiTransferIn, nil); err != nil {
			return err
		}
		a, err := s.repo.GetOrCreateAiAccountForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		// rollback undoes the wallet credit when the sub-ledger is short
		if a.CurrentBalance.LessThan(amount) {
			return apperr.ErrInsufficientFunds
		}
		a.CurrentBalance = a.CurrentBalance.Sub(amount)
		a.TotalWithdrawn = a.TotalWithdrawn.Add(amount)
		return s.repo.UpdateAiAccount(ctx, tx, a, a.Version)
	})
}

// ApplyRealizedPnl books trading profit or loss on the sub-ledger
// (operator path). A loss may not push the current balance below zero.
func (s *MoneyService) ApplyRealizedPnl(ctx context.Context, adminID, userID uint64, delta decimal.Decimal) error {
	ok, err := s.repo.HasRole(ctx, adminID, model.RoleOperator)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	if delta.IsZero() {
		return apperr.ErrInvalidAmount
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.repo.GetOrCreateAiAccountForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		next := a.CurrentBalance.Add(delta)
		if next.IsNegative() {
			return apperr.ErrInvalidAmount
		}
		a.CurrentBalance = next
		a.RealizedPnl = a.RealizedPnl.Add(delta)
		return s.repo.UpdateAiAccount(ctx, tx, a, a.Version)
	})
}

// AiBalance reads the sub-ledger balance.
func (s *MoneyService) AiBalance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	var a model.AiAccount
	if err := s.repo.DB(ctx).Where("user_id = ?", userID).First(&a).Error; err != nil {
		if repo.IsNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return a.CurrentBalance, nil
}

func (s *MoneyService) checkAiBounds(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return apperr.ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.Wallet.MinAiTransfer) {
		return apperr.ErrBelowMinimum
	}
	if amount.GreaterThan(s.cfg.Wallet.MaxAiTransfer) {
		return apperr.ErrAboveMaximum
	}
	return nil
}

func depositRef(d *model.Deposit) string {
	return d.Network + ":" + d.TxHash
}
