package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ghidar/wallet-core/internal/apperr"
	"github.com/ghidar/wallet-core/internal/model"
)

const testAddr = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

// approvedVerification opens a standard-signature session and forces it
// to approved so finalize paths can be exercised without signing.
func approvedVerification(t *testing.T, env *testEnv, ctx context.Context, userID uint64, feature string, amount decimal.Decimal) *model.WalletVerification {
	t.Helper()
	a := &Assessment{Score: 10, Level: model.RiskLow, RequiredMethod: model.MethodStandardSignature}
	v, err := env.verify.CreateVerificationRequest(ctx, userID, feature, amount, model.NetworkERC20, testAddr, a, nil)
	assert.NoError(t, err)
	assert.NoError(t, env.db.Model(&model.WalletVerification{}).
		Where("id = ?", v.ID).Update("status", model.VerificationApproved).Error)
	v.Status = model.VerificationApproved
	return v
}

func TestInitiateRejectsUnfundable(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 10, "150", "0")

	_, err := env.withdrawal.InitiateVerification(ctx, 10, dec("200"), model.NetworkERC20, testAddr, model.FeatureWithdrawal, nil)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	// nothing was persisted for the failed attempt
	var n int64
	assert.NoError(t, env.db.Model(&model.WalletVerification{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestInitiateAiFeatureChecksSubAccount(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 11, "500", "0")
	env.seedConfirmedDeposit(t, 11, "2000", "0xseed11")
	assert.NoError(t, env.money.TransferToSubAccount(ctx, 11, dec("150")))

	// 150 in the sub-account cannot cover a 200 withdrawal even though
	// the wallet still holds 350.
	_, err := env.withdrawal.InitiateVerification(ctx, 11, dec("200"), model.NetworkERC20, testAddr, model.FeatureAiTrader, nil)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	v, err := env.withdrawal.InitiateVerification(ctx, 11, dec("100"), model.NetworkERC20, testAddr, model.FeatureAiTrader, nil)
	assert.NoError(t, err)
	assert.Equal(t, model.VerificationPending, v.Status)
}

func TestInitiateValidation(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 12, "100000", "0")

	_, err := env.withdrawal.InitiateVerification(ctx, 12, dec("5"), model.NetworkERC20, testAddr, model.FeatureWithdrawal, nil)
	assert.ErrorIs(t, err, apperr.ErrBelowMinimum)

	_, err = env.withdrawal.InitiateVerification(ctx, 12, dec("60000"), model.NetworkERC20, testAddr, model.FeatureWithdrawal, nil)
	assert.ErrorIs(t, err, apperr.ErrAboveMaximum)

	_, err = env.withdrawal.InitiateVerification(ctx, 12, dec("100"), "dogecoin", testAddr, model.FeatureWithdrawal, nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = env.withdrawal.InitiateVerification(ctx, 12, dec("100"), model.NetworkERC20, "not-an-address", model.FeatureWithdrawal, nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestInitiateOneActiveSessionPerFeature(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 13, "1000", "0")
	env.seedConfirmedDeposit(t, 13, "2000", "0xseed13")

	_, err := env.withdrawal.InitiateVerification(ctx, 13, dec("100"), model.NetworkERC20, testAddr, model.FeatureWithdrawal, nil)
	assert.NoError(t, err)

	_, err = env.withdrawal.InitiateVerification(ctx, 13, dec("50"), model.NetworkERC20, testAddr, model.FeatureWithdrawal, nil)
	assert.ErrorIs(t, err, apperr.ErrActiveVerification)
}

func TestFinalizeWithdrawal(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 14, "300", "0")
	v := approvedVerification(t, env, ctx, 14, model.FeatureWithdrawal, dec("120"))

	w, err := env.withdrawal.FinalizeWithdrawal(ctx, 14, v.ID, dec("120"))
	assert.NoError(t, err)
	assert.Equal(t, model.WithdrawalPending, w.Status)
	assert.True(t, env.walletOf(t, 14).UsdtBalance.Equal(dec("180")))

	// the consumed verification cannot fund a second withdrawal
	_, err = env.withdrawal.FinalizeWithdrawal(ctx, 14, v.ID, dec("120"))
	assert.ErrorIs(t, err, apperr.ErrDoubleSpend)
	assert.True(t, env.walletOf(t, 14).UsdtBalance.Equal(dec("180")))
}

func TestFinalizeRequiresApproval(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 15, "300", "0")

	for _, status := range []string{
		model.VerificationPending, model.VerificationVerifying,
		model.VerificationRejected, model.VerificationExpired, model.VerificationCancelled,
	} {
		v := approvedVerification(t, env, ctx, 15, model.FeatureWithdrawal, dec("50"))
		assert.NoError(t, env.db.Model(&model.WalletVerification{}).
			Where("id = ?", v.ID).Update("status", status).Error)

		_, err := env.withdrawal.FinalizeWithdrawal(ctx, 15, v.ID, dec("50"))
		assert.ErrorIs(t, err, apperr.ErrNotApproved, "status %s", status)

		// discard the session so the next iteration can open one
		assert.NoError(t, env.db.Model(&model.WalletVerification{}).
			Where("id = ?", v.ID).Update("status", model.VerificationCancelled).Error)
	}
	assert.True(t, env.walletOf(t, 15).UsdtBalance.Equal(dec("300")))
}

func TestFinalizeAmountMustMatchBound(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 16, "300", "0")
	v := approvedVerification(t, env, ctx, 16, model.FeatureWithdrawal, dec("100"))

	_, err := env.withdrawal.FinalizeWithdrawal(ctx, 16, v.ID, dec("100.00000001"))
	assert.ErrorIs(t, err, apperr.ErrAmountMismatch)

	_, err = env.withdrawal.FinalizeWithdrawal(ctx, 16, v.ID, dec("100"))
	assert.NoError(t, err)
}

func TestFinalizeForeignVerification(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 17, "300", "0")
	v := approvedVerification(t, env, ctx, 17, model.FeatureWithdrawal, dec("100"))

	_, err := env.withdrawal.FinalizeWithdrawal(ctx, 18, v.ID, dec("100"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectRefundsPendingOnly(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 19, "300", "0")
	env.grantRole(t, 100, model.RoleOperator)

	v := approvedVerification(t, env, ctx, 19, model.FeatureWithdrawal, dec("120"))
	w, err := env.withdrawal.FinalizeWithdrawal(ctx, 19, v.ID, dec("120"))
	assert.NoError(t, err)

	assert.NoError(t, env.withdrawal.RejectWithdrawal(ctx, 100, w.ID, "payout provider declined"))
	assert.True(t, env.walletOf(t, 19).UsdtBalance.Equal(dec("300")))

	// a second reject must fail loudly, not refund twice
	err = env.withdrawal.RejectWithdrawal(ctx, 100, w.ID, "again")
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	assert.True(t, env.walletOf(t, 19).UsdtBalance.Equal(dec("300")))
}

func TestMarkPaidOutLifecycle(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 20, "300", "0")
	env.grantRole(t, 100, model.RoleOperator)

	v := approvedVerification(t, env, ctx, 20, model.FeatureWithdrawal, dec("80"))
	w, err := env.withdrawal.FinalizeWithdrawal(ctx, 20, v.ID, dec("80"))
	assert.NoError(t, err)

	assert.NoError(t, env.withdrawal.MarkPaidOut(ctx, 100, w.ID))

	var got model.WithdrawalRequest
	assert.NoError(t, env.db.Where("id = ?", w.ID).First(&got).Error)
	assert.Equal(t, model.WithdrawalCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	// completed withdrawals cannot be rejected
	err = env.withdrawal.RejectWithdrawal(ctx, 100, w.ID, "too late")
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	// funds stay debited
	assert.True(t, env.walletOf(t, 20).UsdtBalance.Equal(dec("220")))
}

func TestAdminPathsRequireRole(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 21, "300", "0")
	v := approvedVerification(t, env, ctx, 21, model.FeatureWithdrawal, dec("80"))
	w, err := env.withdrawal.FinalizeWithdrawal(ctx, 21, v.ID, dec("80"))
	assert.NoError(t, err)

	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(env.withdrawal.MarkPaidOut(ctx, 21, w.ID)))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(env.withdrawal.RejectWithdrawal(ctx, 21, w.ID, "x")))
}

func TestAiWithdrawalDebitsSubAccount(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 22, "500", "0")
	env.grantRole(t, 100, model.RoleOperator)
	assert.NoError(t, env.money.TransferToSubAccount(ctx, 22, dec("200")))

	v := approvedVerification(t, env, ctx, 22, model.FeatureAiTrader, dec("150"))
	w, err := env.withdrawal.FinalizeWithdrawal(ctx, 22, v.ID, dec("150"))
	assert.NoError(t, err)

	bal, _ := env.money.AiBalance(ctx, 22)
	assert.True(t, bal.Equal(dec("50")))
	assert.True(t, env.walletOf(t, 22).UsdtBalance.Equal(dec("300")))

	// rejecting routes the refund back to the sub-account
	assert.NoError(t, env.withdrawal.RejectWithdrawal(ctx, 100, w.ID, "chain congestion"))
	bal, _ = env.money.AiBalance(ctx, 22)
	assert.True(t, bal.Equal(dec("200")))
	assert.True(t, env.walletOf(t, 22).UsdtBalance.Equal(dec("300")))
}
