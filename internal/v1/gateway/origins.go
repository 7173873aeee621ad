package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
)

// defaultAllowedOrigins admits local frontends when ALLOWED_ORIGINS is
// unset.
var defaultAllowedOrigins = []string{"http://localhost:3000"}

// ParseAllowedOrigins splits a comma-separated origin list, falling back to
// the development default when empty.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return defaultAllowedOrigins
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultAllowedOrigins
	}
	return out
}

// validateOrigin checks if the request origin is in the allowed list.
// Requests without an Origin header (non-browser clients) are admitted.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}
