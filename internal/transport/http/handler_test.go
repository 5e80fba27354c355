package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ghidar/wallet-core/internal/auth"
	"github.com/ghidar/wallet-core/internal/config"
	"github.com/ghidar/wallet-core/internal/logger"
	"github.com/ghidar/wallet-core/internal/model"
	"github.com/ghidar/wallet-core/internal/repo"
	"github.com/ghidar/wallet-core/internal/service"
)

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.AiAccount{}, &model.LedgerEntry{},
		&model.Deposit{}, &model.WalletVerification{}, &model.VerificationAddress{},
		&model.AssistedTicket{}, &model.WithdrawalRequest{}, &model.AdminRole{},
		&model.Lottery{}, &model.LotteryTicket{}, &model.LotteryWinner{},
		&model.OutboxEvent{},
	))

	log, err := logger.NewLogger("http-test")
	assert.NoError(t, err)

	cfg := config.Default()
	r := repo.NewRepository(db, nil, &kafka.Writer{}, log)
	money := service.NewMoneyService(r, nil, cfg, log)
	risk := service.NewRiskService(r, cfg, log)
	verify := service.NewVerificationService(r, nil, cfg, log)
	withdrawal := service.NewWithdrawalService(r, money, risk, verify, nil, cfg, log)
	lottery := service.NewLotteryService(r, money, nil, log)

	engine := gin.New()
	svcs := &Services{Money: money, Withdrawal: withdrawal, Verify: verify, Lottery: lottery}
	// stand-in for the Telegram middleware: trust a plain user id header
	authed := func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			id, err := strconv.ParseInt(uid, 10, 64)
			assert.NoError(t, err)
			c.Set(identityKey, &auth.Identity{UserID: id})
		}
		c.Next()
	}
	RegisterHandlers(engine, svcs, authed, InternalAuthMiddleware(testInternalToken))
	return engine, db
}

const testInternalToken = "internal-test-token"

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func doJSON(t *testing.T, engine *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// doInternalJSON hits a service-to-service route with the shared token.
func doInternalJSON(t *testing.T, engine *gin.Engine, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestBalanceEndpoint(t *testing.T) {
	engine, db := newTestServer(t)
	assert.NoError(t, db.Create(&model.Wallet{
		UserID: 9, UsdtBalance: mustDec("42.5"), GhdBalance: mustDec("1000"),
	}).Error)

	w := doJSON(t, engine, http.MethodGet, "/v1/wallet/balance", "9", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42.5", resp["usdt_balance"])
	assert.Equal(t, "1000", resp["ghd_balance"])
}

func TestConvertEndpointValidation(t *testing.T) {
	engine, _ := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/v1/wallet/convert", "9", map[string]string{"amount": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/v1/wallet/convert", "9", map[string]string{"amount": "20000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDepositConfirmReplayMapsTo200(t *testing.T) {
	engine, db := newTestServer(t)
	d := &model.Deposit{
		UserID: 9, Network: model.NetworkERC20, TxHash: "0xfeed",
		Status: model.DepositPending, ExpectedAmount: mustDec("25"),
	}
	assert.NoError(t, db.Create(d).Error)

	body := map[string]interface{}{
		"deposit_id": d.ID, "network": model.NetworkERC20, "tx_hash": "0xfeed", "amount": "25",
	}
	w := doInternalJSON(t, engine, "/internal/deposits/confirm", testInternalToken, body)
	assert.Equal(t, http.StatusOK, w.Code)

	// re-delivery is a 200 with the replay marker, not an error
	w = doInternalJSON(t, engine, "/internal/deposits/confirm", testInternalToken, body)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Replay bool `json:"replay"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Replay)
}

func TestDepositConfirmRejectsMissingOrWrongToken(t *testing.T) {
	engine, db := newTestServer(t)
	d := &model.Deposit{
		UserID: 9, Network: model.NetworkERC20, TxHash: "0xfeed",
		Status: model.DepositPending, ExpectedAmount: mustDec("1"),
	}
	assert.NoError(t, db.Create(d).Error)

	body := map[string]interface{}{
		"deposit_id": d.ID, "network": model.NetworkERC20, "tx_hash": "0xfeed", "amount": "1000000",
	}
	w := doInternalJSON(t, engine, "/internal/deposits/confirm", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doInternalJSON(t, engine, "/internal/deposits/confirm", "guess", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// nothing was credited and the deposit is still pending
	var wallet model.Wallet
	assert.Error(t, db.Where("user_id = ?", uint64(9)).First(&wallet).Error)
	var got model.Deposit
	assert.NoError(t, db.First(&got, d.ID).Error)
	assert.Equal(t, model.DepositPending, got.Status)
}

func TestInternalRouteClosedWithoutConfiguredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/internal/ping", InternalAuthMiddleware(""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/ping", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerificationNotFoundForStranger(t *testing.T) {
	engine, _ := newTestServer(t)
	w := doJSON(t, engine, http.MethodGet, "/v1/verifications/no-such-id", "9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWithdrawalInitiateErrorMapping(t *testing.T) {
	engine, _ := newTestServer(t)

	// empty wallet: unfundable intents map to 422
	w := doJSON(t, engine, http.MethodPost, "/v1/withdrawals/initiate", "9", map[string]interface{}{
		"amount": "100", "network": "erc20",
		"target_address": "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// malformed address maps to 400
	w = doJSON(t, engine, http.MethodPost, "/v1/withdrawals/initiate", "9", map[string]interface{}{
		"amount": "100", "network": "erc20", "target_address": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEndpointsHideBehindNotFound(t *testing.T) {
	engine, _ := newTestServer(t)
	w := doJSON(t, engine, http.MethodPost, "/v1/admin/lotteries", "9", map[string]string{
		"ticket_price": "1",
		"start_at":     "2026-01-01T00:00:00Z",
		"end_at":       "2026-01-02T00:00:00Z",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
