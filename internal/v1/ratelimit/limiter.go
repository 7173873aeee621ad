// Package ratelimit implements rate limiting using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/config"
	"github.com/jamlink/broker/internal/v1/logging"
)

// RateLimiter holds the limiter instances for the WS and HTTP surfaces.
type RateLimiter struct {
	wsIP     *limiter.Limiter
	apiRooms *limiter.Limiter
	store    limiter.Store
}

// NewRateLimiter builds limiters from the configured rate formats. A nil
// redisClient falls back to the in-memory store.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	apiRoomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid API rooms rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:     limiter.New(store, wsIPRate),
		apiRooms: limiter.New(store, apiRoomsRate),
		store:    store,
	}, nil
}

// RoomsMiddleware returns a gin middleware enforcing the admin API rate.
func (rl *RateLimiter) RoomsMiddleware() gin.HandlerFunc {
	return mgin.NewMiddleware(rl.apiRooms)
}

// CheckWebSocket enforces the per-IP handshake rate before the upgrade. It
// writes the 429 response itself and returns false when the caller should
// abort.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	key := "ws:ip:" + c.ClientIP()
	lctx, err := rl.wsIP.Get(c.Request.Context(), key)
	if err != nil {
		// Fail open: a broken limiter store must not take down signaling.
		logging.Error(c.Request.Context(), "rate limiter store error", zap.Error(err))
		return true
	}

	if lctx.Reached {
		logging.Warn(c.Request.Context(), "websocket handshake rate limited",
			zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return false
	}
	return true
}
