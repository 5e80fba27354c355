package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ghidar/wallet-core/internal/apperr"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/service"
)

// Services bundles the core engines the transport fronts.
type Services struct {
	Money      *service.MoneyService
	Withdrawal *service.WithdrawalService
	Verify     *service.VerificationService
	Lottery    *service.LotteryService
}

// statusFor is the single taxonomy-to-transport table. Every handler
// funnels errors through it; nothing maps codes per endpoint.
var statusFor = map[apperr.Code]int{
	apperr.CodeValidation:           http.StatusBadRequest,
	apperr.CodeInsufficientFunds:    http.StatusUnprocessableEntity,
	apperr.CodeAlreadyProcessed:     http.StatusConflict,
	apperr.CodeDoubleSpend:          http.StatusConflict,
	apperr.CodeConflict:             http.StatusConflict,
	apperr.CodeVerificationFailed:   http.StatusForbidden,
	apperr.CodeVerificationNotReady: http.StatusForbidden,
	apperr.CodeNotFound:             http.StatusNotFound,
	apperr.CodeRateLimited:          http.StatusTooManyRequests,
	apperr.CodeInternal:             http.StatusInternalServerError,
}

func fail(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status, ok := statusFor[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := "internal error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	c.JSON(status, gin.H{"code": string(code), "error": msg})
}

func RegisterHandlers(r *gin.Engine, svcs *Services, authed, internalAuthed gin.HandlerFunc) {
	// deposit watcher boundary; idempotent by design, never public
	r.POST("/internal/deposits/confirm", internalAuthed, confirmDepositHandler(svcs))

	v1 := r.Group("/v1", authed)
	{
		v1.GET("/wallet/balance", balanceHandler(svcs))
		v1.POST("/wallet/convert", convertHandler(svcs))

		v1.GET("/ai-trader/balance", aiBalanceHandler(svcs))
		v1.POST("/ai-trader/deposit", aiDepositHandler(svcs))
		v1.POST("/ai-trader/withdraw", aiWithdrawHandler(svcs))

		v1.POST("/withdrawals/initiate", initiateWithdrawalHandler(svcs))
		v1.POST("/withdrawals/finalize", finalizeWithdrawalHandler(svcs))

		v1.GET("/verifications/:id", getVerificationHandler(svcs))
		v1.POST("/verifications/:id/challenge", challengeHandler(svcs))
		v1.POST("/verifications/:id/signature", signatureHandler(svcs))
		v1.POST("/verifications/:id/multi-signature", multiSignatureHandler(svcs))
		v1.POST("/verifications/:id/assisted", assistedHandler(svcs))
		v1.POST("/verifications/:id/cancel", cancelVerificationHandler(svcs))

		v1.GET("/lottery/active", activeLotteryHandler(svcs))
		v1.POST("/lottery/:id/tickets", purchaseTicketsHandler(svcs))
		v1.GET("/lottery/:id/winners", winnersHandler(svcs))

		admin := v1.Group("/admin")
		{
			admin.POST("/lotteries", createLotteryHandler(svcs))
			admin.POST("/lotteries/:id/draw", drawHandler(svcs))
			admin.POST("/withdrawals/:id/paid", markPaidHandler(svcs))
			admin.POST("/withdrawals/:id/reject", rejectWithdrawalHandler(svcs))
			admin.POST("/verifications/:id/resolve", resolveAssistedHandler(svcs))
			admin.POST("/verifications/:id/release", releaseDelayedHandler(svcs))
			admin.POST("/ai-trader/:user_id/pnl", applyPnlHandler(svcs))
		}
	}
}

type confirmDepositReq struct {
	DepositID uint64 `json:"deposit_id" binding:"required"`
	Network   string `json:"network" binding:"required"`
	TxHash    string `json:"tx_hash" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func confirmDepositHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req confirmDepositReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid amount"))
			return
		}
		res, err := svcs.Money.ApplyConfirmedDeposit(c.Request.Context(), req.DepositID, req.Network, req.TxHash, amt)
		if errors.Is(err, apperr.ErrAlreadyProcessed) {
			// re-delivery is safe: hand back the prior result
			c.JSON(http.StatusOK, gin.H{"replay": true, "result": res})
			return
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"replay": false, "result": res})
	}
}

func balanceHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		usdt, ghd, err := svcs.Money.Balances(c.Request.Context(), currentUser(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"usdt_balance": usdt, "ghd_balance": ghd})
	}
}

type amountReq struct {
	Amount string `json:"amount" binding:"required"`
}

func parseAmount(c *gin.Context) (decimal.Decimal, bool) {
	var req amountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
		return decimal.Zero, false
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		fail(c, apperr.New(apperr.CodeValidation, "invalid amount"))
		return decimal.Zero, false
	}
	return amt, true
}

func convertHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		amt, ok := parseAmount(c)
		if !ok {
			return
		}
		out, err := svcs.Money.ConvertGhdToUsdt(c.Request.Context(), currentUser(c), amt)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"usdt_credited": out})
	}
}

func aiBalanceHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svcs.Money.AiBalance(c.Request.Context(), currentUser(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func aiDepositHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		amt, ok := parseAmount(c)
		if !ok {
			return
		}
		if err := svcs.Money.TransferToSubAccount(c.Request.Context(), currentUser(c), amt); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func aiWithdrawHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		amt, ok := parseAmount(c)
		if !ok {
			return
		}
		if err := svcs.Money.TransferFromSubAccount(c.Request.Context(), currentUser(c), amt); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type initiateWithdrawalReq struct {
	Amount        string   `json:"amount" binding:"required"`
	Network       string   `json:"network" binding:"required"`
	TargetAddress string   `json:"target_address" binding:"required"`
	Feature       string   `json:"feature"`
	CoSigners     []string `json:"co_signers"`
}

func initiateWithdrawalHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateWithdrawalReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid amount"))
			return
		}
		feature := req.Feature
		if feature == "" {
			feature = model.FeatureWithdrawal
		}
		v, err := svcs.Withdrawal.InitiateVerification(c.Request.Context(), currentUser(c), amt, req.Network, req.TargetAddress, feature, req.CoSigners)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"verification_id": v.ID,
			"method":          v.Method,
			"risk_level":      v.RiskLevel,
			"expires_at":      v.ExpiresAt,
		})
	}
}

type finalizeWithdrawalReq struct {
	VerificationID string `json:"verification_id" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
}

func finalizeWithdrawalHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req finalizeWithdrawalReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid amount"))
			return
		}
		w, err := svcs.Withdrawal.FinalizeWithdrawal(c.Request.Context(), currentUser(c), req.VerificationID, amt)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"withdrawal_id": w.ID, "status": w.Status})
	}
}

func getVerificationHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Verify.Get(c.Request.Context(), currentUser(c), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id": v.ID, "status": v.Status, "method": v.Method,
			"risk_level": v.RiskLevel, "expires_at": v.ExpiresAt,
		})
	}
}

func challengeHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, err := svcs.Verify.IssueChallenge(c.Request.Context(), currentUser(c), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message_to_sign": msg})
	}
}

type signatureReq struct {
	Signature     string `json:"signature" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
}

func signatureHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signatureReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		if err := svcs.Verify.SubmitSignature(c.Request.Context(), currentUser(c), c.Param("id"), req.Signature, req.WalletAddress); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "approved"})
	}
}

type multiSignatureReq struct {
	Signatures []service.SignatureInput `json:"signatures" binding:"required"`
}

func multiSignatureHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req multiSignatureReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		if err := svcs.Verify.SubmitMultiSignature(c.Request.Context(), currentUser(c), c.Param("id"), req.Signatures); err != nil {
			fail(c, err)
			return
		}
		v, err := svcs.Verify.Get(c.Request.Context(), currentUser(c), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": v.Status})
	}
}

type assistedReq struct {
	Token string `json:"token" binding:"required"`
}

func assistedHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assistedReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		if err := svcs.Verify.SubmitAssistedVerification(c.Request.Context(), currentUser(c), c.Param("id"), req.Token); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "verifying"})
	}
}

func cancelVerificationHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Verify.Cancel(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

func activeLotteryHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		l, err := svcs.Lottery.ActiveLottery(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id": l.ID, "ticket_price": l.TicketPrice, "prize_pool": l.PrizePool,
			"start_at": l.StartAt, "end_at": l.EndAt,
		})
	}
}

type purchaseReq struct {
	TicketCount int `json:"ticket_count" binding:"required"`
}

func purchaseTicketsHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req purchaseReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		lotteryID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid lottery id"))
			return
		}
		tickets, err := svcs.Lottery.PurchaseTickets(c.Request.Context(), currentUser(c), lotteryID, req.TicketCount)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tickets": len(tickets)})
	}
}

func winnersHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		lotteryID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid lottery id"))
			return
		}
		ws, err := svcs.Lottery.Winners(c.Request.Context(), lotteryID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

type createLotteryReq struct {
	TicketPrice string `json:"ticket_price" binding:"required"`
	StartAt     string `json:"start_at" binding:"required"`
	EndAt       string `json:"end_at" binding:"required"`
}

func createLotteryHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createLotteryReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		price, err := decimal.NewFromString(req.TicketPrice)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid ticket price"))
			return
		}
		start, err1 := parseTime(req.StartAt)
		end, err2 := parseTime(req.EndAt)
		if err1 != nil || err2 != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid time"))
			return
		}
		l, err := svcs.Lottery.CreateLottery(c.Request.Context(), currentUser(c), price, start, end)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": l.ID})
	}
}

func drawHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		lotteryID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid lottery id"))
			return
		}
		w, err := svcs.Lottery.DrawWinners(c.Request.Context(), currentUser(c), lotteryID)
		if err != nil {
			fail(c, err)
			return
		}
		if w == nil {
			c.JSON(http.StatusOK, gin.H{"winner": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"winner": gin.H{"user_id": w.UserID, "prize": w.PrizeAmount}})
	}
}

func markPaidHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Withdrawal.MarkPaidOut(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "completed"})
	}
}

type rejectReq struct {
	Reason string `json:"reason" binding:"required"`
}

func rejectWithdrawalHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rejectReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		if err := svcs.Withdrawal.RejectWithdrawal(c.Request.Context(), currentUser(c), c.Param("id"), req.Reason); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	}
}

type resolveReq struct {
	Approved bool `json:"approved"`
}

func resolveAssistedHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		if err := svcs.Verify.ResolveAssisted(c.Request.Context(), currentUser(c), c.Param("id"), req.Approved); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resolved"})
	}
}

func releaseDelayedHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Verify.ReleaseTimeDelayed(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "approved"})
	}
}

type pnlReq struct {
	Delta string `json:"delta" binding:"required"`
}

func applyPnlHandler(svcs *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pnlReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "malformed request"))
			return
		}
		userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid user id"))
			return
		}
		delta, err := decimal.NewFromString(req.Delta)
		if err != nil {
			fail(c, apperr.New(apperr.CodeValidation, "invalid delta"))
			return
		}
		if err := svcs.Money.ApplyRealizedPnl(c.Request.Context(), currentUser(c), userID, delta); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
