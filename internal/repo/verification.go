package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/model"
)

// CreateVerification persists a new session with its co-signer set and,
// for assisted sessions, the review ticket.
func (r *Repository) CreateVerification(ctx context.Context, v *model.WalletVerification, addrs []model.VerificationAddress, ticket *model.AssistedTicket) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		for i := range addrs {
			addrs[i].VerificationID = v.ID
		}
		if len(addrs) > 0 {
			if err := tx.Create(&addrs).Error; err != nil {
				return err
			}
		}
		if ticket != nil {
			ticket.VerificationID = v.ID
			if err := tx.Create(ticket).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVerification loads a session by id without locking.
func (r *Repository) GetVerification(ctx context.Context, id string) (*model.WalletVerification, error) {
	var v model.WalletVerification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVerificationForUpdate locks a session row inside tx.
func (r *Repository) GetVerificationForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.WalletVerification, error) {
	var v model.WalletVerification
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveVerification writes back mutated session fields.
func (r *Repository) SaveVerification(ctx context.Context, tx *gorm.DB, v *model.WalletVerification) error {
	return tx.WithContext(ctx).Save(v).Error
}

// HasActiveVerification reports whether the user holds a non-terminal
// session for the feature.
func (r *Repository) HasActiveVerification(ctx context.Context, userID uint64, feature string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.WalletVerification{}).
		Where("user_id = ? AND feature = ? AND status IN ?", userID, feature,
			[]string{model.VerificationPending, model.VerificationVerifying}).
		Where("expires_at > ?", time.Now()).
		Count(&n).Error
	return n > 0, err
}

// CountRecentVerifications counts attempts since a cutoff, a risk input.
func (r *Repository) CountRecentVerifications(ctx context.Context, userID uint64, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.WalletVerification{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

// AddressSeen reports whether the user has previously completed a
// withdrawal to this address. Addresses are stored lowercased.
func (r *Repository) AddressSeen(ctx context.Context, userID uint64, address string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).
		Where("user_id = ? AND target_address = ? AND status = ?", userID, strings.ToLower(address), model.WithdrawalCompleted).
		Count(&n).Error
	return n > 0, err
}

// VerificationAddresses loads the co-signer set.
func (r *Repository) VerificationAddresses(ctx context.Context, tx *gorm.DB, verificationID string) ([]model.VerificationAddress, error) {
	var addrs []model.VerificationAddress
	err := tx.WithContext(ctx).Where("verification_id = ?", verificationID).Find(&addrs).Error
	return addrs, err
}

// MarkAddressSigned flags one co-signer as having produced a valid
// signature.
func (r *Repository) MarkAddressSigned(ctx context.Context, tx *gorm.DB, id uint64) error {
	return tx.WithContext(ctx).Model(&model.VerificationAddress{}).
		Where("id = ?", id).Update("signed", true).Error
}

// GetAssistedTicketForUpdate locks the review ticket of a session.
func (r *Repository) GetAssistedTicketForUpdate(ctx context.Context, tx *gorm.DB, verificationID string) (*model.AssistedTicket, error) {
	var t model.AssistedTicket
	if err := forUpdate(tx.WithContext(ctx)).
		Where("verification_id = ?", verificationID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveAssistedTicket writes back ticket mutations.
func (r *Repository) SaveAssistedTicket(ctx context.Context, tx *gorm.DB, t *model.AssistedTicket) error {
	return tx.WithContext(ctx).Save(t).Error
}

// CreateWithdrawal inserts the request row.
func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Create(w).Error
}

// GetWithdrawalForUpdate locks a withdrawal row.
func (r *Repository) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// SaveWithdrawal writes back withdrawal mutations.
func (r *Repository) SaveWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Save(w).Error
}

// IsNotFound reports whether err is the storage not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
