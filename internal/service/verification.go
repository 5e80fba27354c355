package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
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

// VerificationService runs the ownership-verification state machine:
//
//	pending --(challenge issued)--> verifying --(valid proof)--> approved
//	verifying --(invalid/expired)--> rejected | expired
//	pending|verifying --(owner action)--> cancelled
type VerificationService struct {
	repo    *repo.Repository
	limiter *ratelimit.Limiter
	cfg     *config.Config
	log     *zap.SugaredLogger
}

func NewVerificationService(r *repo.Repository, l *ratelimit.Limiter, cfg *config.Config, logger *zap.SugaredLogger) *VerificationService {
	return &VerificationService{repo: r, limiter: l, cfg: cfg, log: logger}
}

// CreateVerificationRequest opens a session for the assessed method. The
// nonce is 32 bytes of crypto randomness and the signed message binds
// nonce, user and amount, so an approval cannot be replayed or re-bound.
func (s *VerificationService) CreateVerificationRequest(ctx context.Context, userID uint64, feature string, amount decimal.Decimal, network, address string, assessment *Assessment, coSigners []string) (*model.WalletVerification, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	v := &model.WalletVerification{
		ID:            uuid.NewString(),
		UserID:        userID,
		Feature:       feature,
		Method:        assessment.RequiredMethod,
		WalletAddress: strings.ToLower(address),
		WalletNetwork: network,
		Status:        model.VerificationPending,
		RiskScore:     assessment.Score,
		RiskLevel:     assessment.Level,
		BoundAmount:   amount.StringFixed(8),
		MessageNonce:  nonce,
		ExpiresAt:     now.Add(time.Duration(s.cfg.Verification.SessionTTLMin) * time.Minute),
	}
	v.MessageToSign = signMessage(userID, amount, nonce, now)

	var addrs []model.VerificationAddress
	if assessment.RequiredMethod == model.MethodMultiSignature {
		// the primary wallet always counts as one co-signer; duplicates
		// would pad the count with addresses that cannot add a signature
		seen := map[string]bool{v.WalletAddress: true}
		addrs = append(addrs, model.VerificationAddress{Address: v.WalletAddress})
		for _, a := range coSigners {
			la := strings.ToLower(a)
			if seen[la] {
				return nil, apperr.New(apperr.CodeValidation, "duplicate co-signer address")
			}
			seen[la] = true
			addrs = append(addrs, model.VerificationAddress{Address: la})
		}
		if len(addrs) < s.cfg.Verification.MinMultiSigners {
			return nil, apperr.New(apperr.CodeValidation, "not enough co-signer addresses")
		}
	}

	var ticket *model.AssistedTicket
	switch assessment.RequiredMethod {
	case model.MethodAssisted:
		tok, err := newNonce()
		if err != nil {
			return nil, err
		}
		ticket = &model.AssistedTicket{
			Token:     tok,
			ExpiresAt: now.Add(time.Duration(s.cfg.Verification.SessionTTLMin) * time.Minute),
		}
	case model.MethodTimeDelayed:
		du := now.Add(time.Duration(s.cfg.Verification.TimeDelayHours) * time.Hour)
		v.DelayUntil = &du
		// a time-delayed session must outlive its own delay
		v.ExpiresAt = du.Add(time.Duration(s.cfg.Verification.SessionTTLMin) * time.Minute)
	}

	if err := s.repo.CreateVerification(ctx, v, addrs, ticket); err != nil {
		return nil, err
	}
	return v, nil
}

// IssueChallenge hands the message to the owner and moves the session to
// verifying.
func (s *VerificationService) IssueChallenge(ctx context.Context, userID uint64, verificationID string) (message string, err error) {
	var expired bool
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.ownedForUpdate(ctx, tx, userID, verificationID)
		if err != nil {
			return err
		}
		if expired, err = s.lazyExpire(ctx, tx, v); err != nil || expired {
			return err
		}
		if v.Status != model.VerificationPending && v.Status != model.VerificationVerifying {
			return apperr.ErrVerificationFailed
		}
		if v.Status == model.VerificationPending {
			v.Status = model.VerificationVerifying
			if err := s.repo.SaveVerification(ctx, tx, v); err != nil {
				return err
			}
		}
		message = v.MessageToSign
		return nil
	})
	if err != nil {
		return "", err
	}
	if expired {
		return "", apperr.ErrVerificationFailed
	}
	return message, nil
}

// SubmitSignature validates a single EIP-191 signature over the exact
// issued message. Any failure, wrong address, bad encoding or bad
// signature alike, surfaces as the same VerificationFailed.
func (s *VerificationService) SubmitSignature(ctx context.Context, userID uint64, verificationID, signature, walletAddress string) error {
	if err := s.limiter.Allow(ctx, userID, ratelimit.OpSubmitSignature); err != nil {
		return err
	}
	var expired bool
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.ownedForUpdate(ctx, tx, userID, verificationID)
		if err != nil {
			return err
		}
		if expired, err = s.lazyExpire(ctx, tx, v); err != nil || expired {
			return err
		}
		if v.Method != model.MethodStandardSignature ||
			(v.Status != model.VerificationPending && v.Status != model.VerificationVerifying) {
			return apperr.ErrVerificationFailed
		}
		if !strings.EqualFold(walletAddress, v.WalletAddress) {
			return apperr.ErrVerificationFailed
		}
		if !verifyPersonalSig(v.MessageToSign, signature, v.WalletAddress) {
			return apperr.ErrVerificationFailed
		}
		return s.approve(ctx, tx, v)
	})
	if err != nil {
		return err
	}
	if expired {
		return apperr.ErrVerificationFailed
	}
	return nil
}

// SignatureInput is one co-signer proof for a multi-signature session.
type SignatureInput struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// SubmitMultiSignature accepts a batch of co-signer proofs over the same
// message. The session approves only once enough distinct pre-associated
// addresses have signed; a partial set stays verifying.
func (s *VerificationService) SubmitMultiSignature(ctx context.Context, userID uint64, verificationID string, sigs []SignatureInput) error {
	if err := s.limiter.Allow(ctx, userID, ratelimit.OpSubmitSignature); err != nil {
		return err
	}
	var expired bool
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.ownedForUpdate(ctx, tx, userID, verificationID)
		if err != nil {
			return err
		}
		if expired, err = s.lazyExpire(ctx, tx, v); err != nil || expired {
			return err
		}
		if v.Method != model.MethodMultiSignature ||
			(v.Status != model.VerificationPending && v.Status != model.VerificationVerifying) {
			return apperr.ErrVerificationFailed
		}
		addrs, err := s.repo.VerificationAddresses(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		byAddr := make(map[string]*model.VerificationAddress, len(addrs))
		for i := range addrs {
			byAddr[addrs[i].Address] = &addrs[i]
		}
		accepted := false
		for _, in := range sigs {
			rec, ok := byAddr[strings.ToLower(in.Address)]
			if !ok || rec.Signed {
				continue
			}
			if !verifyPersonalSig(v.MessageToSign, in.Signature, rec.Address) {
				continue
			}
			if err := s.repo.MarkAddressSigned(ctx, tx, rec.ID); err != nil {
				return err
			}
			rec.Signed = true
			accepted = true
		}
		if !accepted {
			return apperr.ErrVerificationFailed
		}
		signed := 0
		for i := range addrs {
			if addrs[i].Signed {
				signed++
			}
		}
		if signed >= s.cfg.Verification.MinMultiSigners {
			return s.approve(ctx, tx, v)
		}
		if v.Status == model.VerificationPending {
			v.Status = model.VerificationVerifying
			return s.repo.SaveVerification(ctx, tx, v)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if expired {
		return apperr.ErrVerificationFailed
	}
	return nil
}

// SubmitAssistedVerification redeems the single-use review token, which
// parks the session in verifying for a human decision. Elapsed time never
// approves an assisted session on its own.
func (s *VerificationService) SubmitAssistedVerification(ctx context.Context, userID uint64, verificationID, token string) error {
	if err := s.limiter.Allow(ctx, userID, ratelimit.OpSubmitSignature); err != nil {
		return err
	}
	var expired bool
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.ownedForUpdate(ctx, tx, userID, verificationID)
		if err != nil {
			return err
		}
		if expired, err = s.lazyExpire(ctx, tx, v); err != nil || expired {
			return err
		}
		if v.Method != model.MethodAssisted || v.Status != model.VerificationPending {
			return apperr.ErrVerificationFailed
		}
		t, err := s.repo.GetAssistedTicketForUpdate(ctx, tx, v.ID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrVerificationFailed
			}
			return err
		}
		if t.TokenUsed || time.Now().After(t.ExpiresAt) || t.Token != token {
			return apperr.ErrVerificationFailed
		}
		t.TokenUsed = true
		if err := s.repo.SaveAssistedTicket(ctx, tx, t); err != nil {
			return err
		}
		v.Status = model.VerificationVerifying
		return s.repo.SaveVerification(ctx, tx, v)
	})
	if err != nil {
		return err
	}
	if expired {
		return apperr.ErrVerificationFailed
	}
	return nil
}

// ResolveAssisted is the explicit human decision on an assisted session.
func (s *VerificationService) ResolveAssisted(ctx context.Context, adminID uint64, verificationID string, approved bool) error {
	ok, err := s.repo.HasRole(ctx, adminID, model.RoleCompliance)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	var expired bool
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.repo.GetVerificationForUpdate(ctx, tx, verificationID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if expired, err = s.lazyExpire(ctx, tx, v); err != nil || expired {
			return err
		}
		if v.Method != model.MethodAssisted || v.Status != model.VerificationVerifying {
			return apperr.ErrVerificationFailed
		}
		t, err := s.repo.GetAssistedTicketForUpdate(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		now := time.Now()
		t.ResolvedBy = &adminID
		t.ResolvedAt = &now
		if err := s.repo.SaveAssistedTicket(ctx, tx, t); err != nil {
			return err
		}
		if approved {
			return s.approve(ctx, tx, v)
		}
		v.Status = model.VerificationRejected
		if err := s.repo.SaveVerification(ctx, tx, v); err != nil {
			return err
		}
		return s.emitResult(ctx, tx, v)
	})
	if err != nil {
		return err
	}
	if expired {
		return apperr.ErrVerificationFailed
	}
	return nil
}

// ReleaseTimeDelayed approves a time-delayed session, requiring both the
// elapsed delay and an explicit operator action.
func (s *VerificationService) ReleaseTimeDelayed(ctx context.Context, adminID uint64, verificationID string) error {
	ok, err := s.repo.HasRole(ctx, adminID, model.RoleCompliance)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	var expired bool
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.repo.GetVerificationForUpdate(ctx, tx, verificationID)
		if err != nil {
			if repo.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		if expired, err = s.lazyExpire(ctx, tx, v); err != nil || expired {
			return err
		}
		if v.Method != model.MethodTimeDelayed ||
			(v.Status != model.VerificationPending && v.Status != model.VerificationVerifying) {
			return apperr.ErrVerificationFailed
		}
		if v.DelayUntil == nil || time.Now().Before(*v.DelayUntil) {
			return apperr.ErrVerificationFailed
		}
		return s.approve(ctx, tx, v)
	})
	if err != nil {
		return err
	}
	if expired {
		return apperr.ErrVerificationFailed
	}
	return nil
}

// Cancel is the owner's one-way exit from a non-terminal session.
func (s *VerificationService) Cancel(ctx context.Context, userID uint64, verificationID string) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.ownedForUpdate(ctx, tx, userID, verificationID)
		if err != nil {
			return err
		}
		if v.Terminal() {
			return apperr.New(apperr.CodeConflict, "verification already finished")
		}
		v.Status = model.VerificationCancelled
		return s.repo.SaveVerification(ctx, tx, v)
	})
}

// Get returns a session to its owner; other users' sessions read as
// not found.
func (s *VerificationService) Get(ctx context.Context, userID uint64, verificationID string) (*model.WalletVerification, error) {
	v, err := s.repo.GetVerification(ctx, verificationID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if v.UserID != userID {
		return nil, apperr.ErrNotFound
	}
	// surface lazy expiry on plain reads too
	if !v.Terminal() && time.Now().After(v.ExpiresAt) {
		v.Status = model.VerificationExpired
	}
	return v, nil
}

func (s *VerificationService) ownedForUpdate(ctx context.Context, tx *gorm.DB, userID uint64, id string) (*model.WalletVerification, error) {
	v, err := s.repo.GetVerificationForUpdate(ctx, tx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	// not-owned reads as not-found so record existence never leaks
	if v.UserID != userID {
		return nil, apperr.ErrNotFound
	}
	return v, nil
}

// lazyExpire transitions an overdue session to expired; there is no
// background timer, expiry is checked whenever the row is next touched.
// Callers must commit the transaction when expired is true so the flip
// persists, and only then report the failure.
func (s *VerificationService) lazyExpire(ctx context.Context, tx *gorm.DB, v *model.WalletVerification) (expired bool, err error) {
	if v.Terminal() {
		return false, nil
	}
	if time.Now().After(v.ExpiresAt) {
		v.Status = model.VerificationExpired
		if err := s.repo.SaveVerification(ctx, tx, v); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *VerificationService) approve(ctx context.Context, tx *gorm.DB, v *model.WalletVerification) error {
	now := time.Now()
	v.Status = model.VerificationApproved
	v.VerifiedAt = &now
	if err := s.repo.SaveVerification(ctx, tx, v); err != nil {
		return err
	}
	return s.emitResult(ctx, tx, v)
}

func (s *VerificationService) emitResult(ctx context.Context, tx *gorm.DB, v *model.WalletVerification) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"user_id": v.UserID, "verification_id": v.ID, "status": v.Status, "feature": v.Feature,
	})
	evt := &model.OutboxEvent{
		Aggregate: "Verification", AggregateID: v.ID,
		EventType: model.EventVerificationResult, Payload: string(payload),
	}
	return s.repo.CreateOutboxEvent(ctx, tx, evt)
}

func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func signMessage(userID uint64, amount decimal.Decimal, nonce string, at time.Time) string {
	return fmt.Sprintf(
		"Ghidar wallet verification\nuser:%d\namount:%s\nnonce:%s\nissued:%s",
		userID, amount.StringFixed(8), nonce, at.UTC().Format(time.RFC3339),
	)
}

// verifyPersonalSig recovers the EIP-191 personal-message signer and
// compares it to the expected address. All failure modes collapse to
// false; callers must not distinguish them.
func verifyPersonalSig(message, signature, expectedAddr string) bool {
	if !common.IsHexAddress(expectedAddr) {
		return false
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	// transform yellow-paper V (27/28) to recovery id
	sigCopy := make([]byte, len(sig))
	copy(sigCopy, sig)
	if sigCopy[crypto.RecoveryIDOffset] >= 27 {
		sigCopy[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sigCopy)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), expectedAddr)
}
