package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamlink/broker/internal/v1/logging"
)

func TestCorrelation_GeneratesId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Correlation())

	var ctxValue string
	router.GET("/", func(c *gin.Context) {
		ctxValue, _ = c.Request.Context().Value(logging.CorrelationIDKey).(string)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, ctxValue, "correlation id injected into the request context")
	assert.Equal(t, ctxValue, w.Header().Get(CorrelationHeader), "same id echoed to the client")
}

func TestCorrelation_PreservesClientId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Correlation())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "client-supplied-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "client-supplied-id", w.Header().Get(CorrelationHeader))
}
