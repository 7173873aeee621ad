package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://localhost:3000"}, ParseAllowedOrigins(""))
	assert.Equal(t, []string{"http://localhost:3000"}, ParseAllowedOrigins("  ,  "))
	assert.Equal(t,
		[]string{"https://app.example.com", "https://staging.example.com"},
		ParseAllowedOrigins("https://app.example.com, https://staging.example.com"))
}

func requestWithOrigin(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"https://app.example.com"}

	assert.NoError(t, validateOrigin(requestWithOrigin("https://app.example.com"), allowed))
	assert.Error(t, validateOrigin(requestWithOrigin("https://evil.example.com"), allowed))
	// Scheme must match too.
	assert.Error(t, validateOrigin(requestWithOrigin("http://app.example.com"), allowed))
}

func TestValidateOrigin_NoHeaderAllowed(t *testing.T) {
	assert.NoError(t, validateOrigin(requestWithOrigin(""), []string{"https://app.example.com"}))
}
