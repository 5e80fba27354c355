package model

import (
	"time"
)

// Features a verification can gate.
const (
	FeatureLottery    = "lottery"
	FeatureAirdrop    = "airdrop"
	FeatureAiTrader   = "ai_trader"
	FeatureWithdrawal = "withdrawal"
)

// Verification methods, by required proof strength.
const (
	MethodStandardSignature = "standard_signature"
	MethodMultiSignature    = "multi_signature"
	MethodAssisted          = "assisted"
	MethodTimeDelayed       = "time_delayed"
)

// Verification session states.
const (
	VerificationPending   = "pending"
	VerificationVerifying = "verifying"
	VerificationApproved  = "approved"
	VerificationRejected  = "rejected"
	VerificationExpired   = "expired"
	VerificationCancelled = "cancelled"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// WalletVerification is one ownership-verification session. The nonce is
// single-use and the signed message binds nonce, user and amount, so a
// signature cannot be replayed or re-bound to a different withdrawal.
type WalletVerification struct {
	ID            string    `gorm:"primaryKey;size:36"`
	UserID        uint64    `gorm:"index;not null"`
	Feature       string    `gorm:"size:16;not null"`
	Method        string    `gorm:"size:24;not null"`
	WalletAddress string    `gorm:"size:64;not null"`
	WalletNetwork string    `gorm:"size:16;not null"`
	Status        string    `gorm:"size:16;not null;default:'pending';index"`
	RiskScore     int       `gorm:"not null"`
	RiskLevel     string    `gorm:"size:8;not null"`
	BoundAmount   string    `gorm:"size:40;not null"` // decimal string fixed at creation
	MessageToSign string    `gorm:"size:512;not null"`
	MessageNonce  string    `gorm:"size:64;not null;uniqueIndex"`
	Consumed      bool      `gorm:"not null;default:false"`
	ExpiresAt     time.Time `gorm:"not null"`
	DelayUntil    *time.Time
	VerifiedAt    *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (WalletVerification) TableName() string { return "wallet_verifications" }

// Terminal reports whether the session can no longer change state.
func (v *WalletVerification) Terminal() bool {
	switch v.Status {
	case VerificationApproved, VerificationRejected, VerificationExpired, VerificationCancelled:
		return true
	}
	return false
}

// VerificationAddress is a pre-associated co-signer address for
// multi-signature sessions.
type VerificationAddress struct {
	ID             uint64    `gorm:"primaryKey"`
	VerificationID string    `gorm:"size:36;index;not null"`
	Address        string    `gorm:"size:64;not null"`
	Signed         bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (VerificationAddress) TableName() string { return "verification_addresses" }

// AssistedTicket is the human-review queue entry backing assisted
// verification. Tokens are single-use and expire.
type AssistedTicket struct {
	ID             uint64    `gorm:"primaryKey"`
	VerificationID string    `gorm:"size:36;uniqueIndex;not null"`
	Token          string    `gorm:"size:64;uniqueIndex;not null"`
	TokenUsed      bool      `gorm:"not null;default:false"`
	ExpiresAt      time.Time `gorm:"not null"`
	ResolvedBy     *uint64
	ResolvedAt     *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (AssistedTicket) TableName() string { return "assisted_tickets" }
