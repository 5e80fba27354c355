package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/apperr"
	"github.com/ghidar/wallet-core/internal/config"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/ratelimit"
	"github.com/ghidar/wallet-core/internal/repo"
)

// WithdrawalService is the only path from verified intent to an actual
// debit. Finalization debits the ledger, records the request and consumes
// the verification in one transaction.
type WithdrawalService struct {
	repo    *repo.Repository
	money   *MoneyService
	risk    *RiskService
	verif   *VerificationService
	limiter *ratelimit.Limiter
	cfg     *config.Config
	log     *zap.SugaredLogger
}

func NewWithdrawalService(r *repo.Repository, m *MoneyService, rs *RiskService, vs *VerificationService, l *ratelimit.Limiter, cfg *config.Config, logger *zap.SugaredLogger) *WithdrawalService {
	return &WithdrawalService{repo: r, money: m, risk: rs, verif: vs, limiter: l, cfg: cfg, log: logger}
}

// InitiateVerification validates the intent, runs the risk assessment
// and opens the verification session. Balance is pre-checked so no
// session is ever created for an unfundable withdrawal.
func (s *WithdrawalService) InitiateVerification(ctx context.Context, userID uint64, amount decimal.Decimal, network, targetAddress string, feature string, coSigners []string) (*model.WalletVerification, error) {
	if err := s.limiter.Allow(ctx, userID, ratelimit.OpInitiateWithdrawal); err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.Wallet.MinWithdrawal) {
		return nil, apperr.ErrBelowMinimum
	}
	if amount.GreaterThan(s.cfg.Wallet.MaxWithdrawal) {
		return nil, apperr.ErrAboveMaximum
	}
	if !model.IsValidNetwork(network) {
		return nil, apperr.New(apperr.CodeValidation, "unsupported network")
	}
	if !common.IsHexAddress(targetAddress) {
		return nil, apperr.New(apperr.CodeValidation, "malformed target address")
	}
	if feature != model.FeatureWithdrawal && feature != model.FeatureAiTrader {
		return nil, apperr.New(apperr.CodeValidation, "unsupported feature")
	}

	available, err := s.availableBalance(ctx, userID, feature)
	if err != nil {
		return nil, err
	}
	if available.LessThan(amount) {
		return nil, apperr.ErrInsufficientFunds
	}

	active, err := s.repo.HasActiveVerification(ctx, userID, feature)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, apperr.ErrActiveVerification
	}

	assessment, err := s.risk.AssessRisk(ctx, userID, amount, network, targetAddress)
	if err != nil {
		return nil, err
	}
	return s.verif.CreateVerificationRequest(ctx, userID, feature, amount, network, targetAddress, assessment, coSigners)
}

// FinalizeWithdrawal turns an approved verification into a debited
// withdrawal request. Marking the verification consumed in the same
// transaction is the double-spend guard: a second call with the same
// verification fails and never debits again.
func (s *WithdrawalService) FinalizeWithdrawal(ctx context.Context, userID uint64, verificationID string, amount decimal.Decimal) (*model.WithdrawalRequest, error) {
	var out *model.WithdrawalRequest
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.repo.GetVerificationForUpdate(ctx, tx, verificationID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if v.UserID != userID {
			return apperr.ErrNotFound
		}
		if v.Status != model.VerificationApproved {
			return apperr.ErrNotApproved
		}
		if v.Consumed {
			return apperr.ErrDoubleSpend
		}
		if amount.StringFixed(8) != v.BoundAmount {
			return apperr.ErrAmountMismatch
		}

		if err := s.debitForFeature(ctx, tx, v, amount); err != nil {
			return err
		}

		v.Consumed = true
		if err := s.repo.SaveVerification(ctx, tx, v); err != nil {
			return err
		}

		w := &model.WithdrawalRequest{
			ID:             uuid.NewString(),
			UserID:         userID,
			Feature:        v.Feature,
			Amount:         amount,
			Network:        v.WalletNetwork,
			TargetAddress:  v.WalletAddress,
			Status:         model.WithdrawalPending,
			VerificationID: v.ID,
			RiskScore:      v.RiskScore,
		}
		if err := s.repo.CreateWithdrawal(ctx, tx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaidOut records external payout execution; the terminal transition
// to completed.
func (s *WithdrawalService) MarkPaidOut(ctx context.Context, adminID uint64, withdrawalID string) error {
	if err := s.requireRole(ctx, adminID, model.RoleOperator); err != nil {
		return err
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if w.Status != model.WithdrawalPending {
			return apperr.New(apperr.CodeConflict, "withdrawal is not pending payout")
		}
		now := time.Now()
		w.Status = model.WithdrawalCompleted
		w.ProcessedAt = &now
		if err := s.repo.SaveWithdrawal(ctx, tx, w); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"user_id": w.UserID, "withdrawal_id": w.ID, "amount": w.Amount,
		})
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Withdrawal", AggregateID: w.ID,
			EventType: model.EventWithdrawalCompleted, Payload: string(payload),
		})
	})
}

// RejectWithdrawal returns the debited funds and marks the request
// rejected. Rejecting a completed or already-rejected withdrawal fails
// loudly so operator mistakes surface instead of silently no-op'ing.
func (s *WithdrawalService) RejectWithdrawal(ctx context.Context, adminID uint64, withdrawalID, reason string) error {
	if err := s.requireRole(ctx, adminID, model.RoleOperator); err != nil {
		return err
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if w.Status != model.WithdrawalPending {
			return apperr.New(apperr.CodeConflict, "cannot reject a "+w.Status+" withdrawal")
		}
		if err := s.refundForFeature(ctx, tx, w); err != nil {
			return err
		}
		now := time.Now()
		w.Status = model.WithdrawalRejected
		w.RejectReason = &reason
		w.ProcessedAt = &now
		if err := s.repo.SaveWithdrawal(ctx, tx, w); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"user_id": w.UserID, "withdrawal_id": w.ID, "amount": w.Amount, "reason": reason,
		})
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Withdrawal", AggregateID: w.ID,
			EventType: model.EventWithdrawalRejected, Payload: string(payload),
		})
	})
}

func (s *WithdrawalService) availableBalance(ctx context.Context, userID uint64, feature string) (decimal.Decimal, error) {
	if feature == model.FeatureAiTrader {
		return s.money.AiBalance(ctx, userID)
	}
	usdt, _, err := s.money.Balances(ctx, userID)
	return usdt, err
}

func (s *WithdrawalService) debitForFeature(ctx context.Context, tx *gorm.DB, v *model.WalletVerification, amount decimal.Decimal) error {
	if v.Feature == model.FeatureAiTrader {
		a, err := s.repo.GetOrCreateAiAccountForUpdate(ctx, tx, v.UserID)
		if err != nil {
			return err
		}
		if a.CurrentBalance.LessThan(amount) {
			return apperr.ErrInsufficientFunds
		}
		a.CurrentBalance = a.CurrentBalance.Sub(amount)
		a.TotalWithdrawn = a.TotalWithdrawn.Add(amount)
		return s.repo.UpdateAiAccount(ctx, tx, a, a.Version)
	}
	ref := "withdrawal:" + v.ID
	return s.money.DebitTx(ctx, tx, v.UserID, amount, model.CurrencyUSDT, model.EntryWithdrawal, &ref)
}

func (s *WithdrawalService) refundForFeature(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	if w.Feature == model.FeatureAiTrader {
		a, err := s.repo.GetOrCreateAiAccountForUpdate(ctx, tx, w.UserID)
		if err != nil {
			return err
		}
		a.CurrentBalance = a.CurrentBalance.Add(w.Amount)
		a.TotalWithdrawn = a.TotalWithdrawn.Sub(w.Amount)
		return s.repo.UpdateAiAccount(ctx, tx, a, a.Version)
	}
	ref := "refund:" + w.ID
	return s.money.CreditTx(ctx, tx, w.UserID, w.Amount, model.CurrencyUSDT, model.EntryWithdrawRefund, &ref)
}

func (s *WithdrawalService) requireRole(ctx context.Context, adminID uint64, role string) error {
	ok, err := s.repo.HasRole(ctx, adminID, role)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	return nil
}
