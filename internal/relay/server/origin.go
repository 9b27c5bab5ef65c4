package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/logging"
)

// validateOrigin checks the WebSocket upgrade request's Origin header
// against an allow-list, adapted from the teacher repo's
// internal/v1/transport validateOrigin. simulcast-mpv clients are native
// mpv script adapters, not browsers, so they never send an Origin header;
// such requests are always allowed. Only a present-but-mismatched Origin
// (i.e. an actual browser page trying to open the relay socket) is rejected.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "invalid origin header", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin url: %w", err)
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

	logging.Warn(context.Background(), "origin not in allow-list", zap.String("origin", origin), zap.Strings("allowed", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}
