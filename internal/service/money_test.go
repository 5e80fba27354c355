package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ghidar/wallet-core/internal/apperr"
	"github.com/ghidar/wallet-core/internal/model"
)

func TestApplyConfirmedDepositCreditsOnce(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 1, "100", "0")

	d := &model.Deposit{
		UserID: 1, Network: model.NetworkERC20, TxHash: "0xabc",
		Status: model.DepositPending, Target: model.DepositTargetWallet,
		ExpectedAmount: dec("50"),
	}
	assert.NoError(t, env.db.Create(d).Error)

	res, err := env.money.ApplyConfirmedDeposit(ctx, d.ID, model.NetworkERC20, "0xabc", dec("50"))
	assert.NoError(t, err)
	assert.Equal(t, model.DepositConfirmed, res.Status)
	assert.True(t, res.Amount.Equal(dec("50")))

	// Re-delivery of the same confirmation must not credit again.
	res2, err := env.money.ApplyConfirmedDeposit(ctx, d.ID, model.NetworkERC20, "0xabc", dec("50"))
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
	assert.True(t, res2.Amount.Equal(dec("50")))

	w := env.walletOf(t, 1)
	assert.True(t, w.UsdtBalance.Equal(dec("150")), "got %s", w.UsdtBalance)

	var entries []model.LedgerEntry
	assert.NoError(t, env.db.Where("user_id = ? AND type = ?", 1, model.EntryDeposit).Find(&entries).Error)
	assert.Len(t, entries, 1)
}

func TestApplyConfirmedDepositMismatchedHash(t *testing.T) {
	env, ctx := newTestEnv(t)
	d := &model.Deposit{
		UserID: 2, Network: model.NetworkBEP20, TxHash: "0xdef",
		Status: model.DepositPending, ExpectedAmount: dec("10"),
	}
	assert.NoError(t, env.db.Create(d).Error)

	_, err := env.money.ApplyConfirmedDeposit(ctx, d.ID, model.NetworkBEP20, "0xother", dec("10"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyConfirmedDepositAiTarget(t *testing.T) {
	env, ctx := newTestEnv(t)
	d := &model.Deposit{
		UserID: 3, Network: model.NetworkTRC20, TxHash: "0xaaa",
		Status: model.DepositPending, Target: model.DepositTargetAiTrader,
		ExpectedAmount: dec("40"),
	}
	assert.NoError(t, env.db.Create(d).Error)

	_, err := env.money.ApplyConfirmedDeposit(ctx, d.ID, model.NetworkTRC20, "0xaaa", dec("40"))
	assert.NoError(t, err)

	// The credit passes through the wallet into the sub-account.
	w := env.walletOf(t, 3)
	assert.True(t, w.UsdtBalance.IsZero())
	bal, err := env.money.AiBalance(ctx, 3)
	assert.NoError(t, err)
	assert.True(t, bal.Equal(dec("40")))
}

func TestDebitNeverGoesNegative(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 4, "30", "0")

	err := env.money.Debit(ctx, 4, dec("30.00000001"), model.CurrencyUSDT)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	assert.NoError(t, env.money.Debit(ctx, 4, dec("30"), model.CurrencyUSDT))
	w := env.walletOf(t, 4)
	assert.True(t, w.UsdtBalance.IsZero())
}

func TestConvertGhdToUsdt(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 5, "0", "25000")

	out, err := env.money.ConvertGhdToUsdt(ctx, 5, dec("20000"))
	assert.NoError(t, err)
	assert.True(t, out.Equal(dec("20")), "got %s", out)

	w := env.walletOf(t, 5)
	assert.True(t, w.GhdBalance.Equal(dec("5000")))
	assert.True(t, w.UsdtBalance.Equal(dec("20")))

	_, err = env.money.ConvertGhdToUsdt(ctx, 5, dec("5000"))
	assert.ErrorIs(t, err, apperr.ErrBelowMinimum)
}

func TestConvertTruncatesTowardZero(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 15, "0", "20000")

	// 10000.00000500 / 1000 = 10.000000005 exactly; the 9th digit is
	// dropped, never rounded up into a credit the debit didn't cover.
	out, err := env.money.ConvertGhdToUsdt(ctx, 15, dec("10000.00000500"))
	assert.NoError(t, err)
	assert.True(t, out.Equal(dec("10")), "got %s", out)
	assert.True(t, env.walletOf(t, 15).UsdtBalance.Equal(dec("10")))
}

func TestConvertBothLegsOrNeither(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 6, "0", "15000")

	_, err := env.money.ConvertGhdToUsdt(ctx, 6, dec("20000"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	w := env.walletOf(t, 6)
	assert.True(t, w.GhdBalance.Equal(dec("15000")))
	assert.True(t, w.UsdtBalance.IsZero())
}

func TestSubAccountTransfers(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 7, "500", "0")

	assert.NoError(t, env.money.TransferToSubAccount(ctx, 7, dec("200")))
	bal, err := env.money.AiBalance(ctx, 7)
	assert.NoError(t, err)
	assert.True(t, bal.Equal(dec("200")))
	assert.True(t, env.walletOf(t, 7).UsdtBalance.Equal(dec("300")))

	// Cannot pull out more than the sub-account holds.
	err = env.money.TransferFromSubAccount(ctx, 7, dec("250"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	assert.NoError(t, env.money.TransferFromSubAccount(ctx, 7, dec("150")))
	bal, _ = env.money.AiBalance(ctx, 7)
	assert.True(t, bal.Equal(dec("50")))
	assert.True(t, env.walletOf(t, 7).UsdtBalance.Equal(dec("450")))
}

func TestTransferFromSubAccountShortfallLeavesWalletUntouched(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 14, "100", "0")
	assert.NoError(t, env.money.TransferToSubAccount(ctx, 14, dec("50")))

	// The wallet credit is written before the sub-ledger check, so the
	// shortfall must roll the whole transaction back.
	err := env.money.TransferFromSubAccount(ctx, 14, dec("80"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.True(t, env.walletOf(t, 14).UsdtBalance.Equal(dec("50")))
	bal, _ := env.money.AiBalance(ctx, 14)
	assert.True(t, bal.Equal(dec("50")))

	var entries int64
	assert.NoError(t, env.db.Model(&model.LedgerEntry{}).
		Where("user_id = ? AND type = ?", uint64(14), model.EntryAiTransferIn).Count(&entries).Error)
	assert.Zero(t, entries)
}

func TestSubAccountTransferBounds(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 8, "1000000", "0")

	assert.ErrorIs(t, env.money.TransferToSubAccount(ctx, 8, dec("5")), apperr.ErrBelowMinimum)
	assert.ErrorIs(t, env.money.TransferToSubAccount(ctx, 8, dec("200000")), apperr.ErrAboveMaximum)
}

func TestApplyRealizedPnl(t *testing.T) {
	env, ctx := newTestEnv(t)
	env.fundWallet(t, 9, "500", "0")
	env.grantRole(t, 100, model.RoleOperator)
	assert.NoError(t, env.money.TransferToSubAccount(ctx, 9, dec("100")))

	assert.NoError(t, env.money.ApplyRealizedPnl(ctx, 100, 9, dec("30")))
	bal, _ := env.money.AiBalance(ctx, 9)
	assert.True(t, bal.Equal(dec("130")))

	// A loss may not push the balance below zero.
	err := env.money.ApplyRealizedPnl(ctx, 100, 9, dec("-131"))
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	// Non-operators get nothing back but "not found".
	err = env.money.ApplyRealizedPnl(ctx, 999, 9, dec("10"))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestBalancesWithoutWallet(t *testing.T) {
	env, ctx := newTestEnv(t)
	usdt, ghd, err := env.money.Balances(ctx, 404)
	assert.NoError(t, err)
	assert.True(t, usdt.IsZero())
	assert.True(t, ghd.IsZero())
}
