package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ghidar/wallet-core/internal/auth"
	"github.com/ghidar/wallet-core/internal/config"
)

func NewRouter(svcs *Services, verifier *auth.TelegramVerifier, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	r.GET("/healthz", healthHandler)
	RegisterHandlers(r, svcs, TelegramAuthMiddleware(verifier), InternalAuthMiddleware(cfg.Server.InternalToken))
	return r
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// healthHandler for load balancer probes.
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
