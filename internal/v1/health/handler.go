package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StorePinger reports whether the backing store is reachable. The in-memory
// store has no failure mode, so a nil pinger reads as healthy.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	store StorePinger
}

// NewHandler wires the health endpoints. store may be nil for memory-backed
// deployments.
func NewHandler(store StorePinger) *Handler {
	return &Handler{store: store}
}

// Liveness reports that the process is up. It never checks dependencies.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports whether the broker can serve traffic. A degraded store
// returns 503 so the orchestrator can stop routing new handshakes here.
func (h *Handler) Readiness(c *gin.Context) {
	status := "ready"
	storeStatus := "healthy"
	code := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			status = "degraded"
			storeStatus = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status": status,
		"checks": gin.H{"store": storeStatus},
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
