package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jamlink/broker/internal/v1/logging"
)

// CorrelationHeader is the request header carrying the correlation id.
const CorrelationHeader = "X-Correlation-ID"

// Correlation tags every request with a correlation id, generating one when
// the client did not supply it, and threads it through the request context
// for log enrichment.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(CorrelationHeader, cid)

		c.Next()
	}
}
