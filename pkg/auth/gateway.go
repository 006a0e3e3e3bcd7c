package auth

import (
	"net"
	"net/http"
	"strings"

	"parley/pkg/logger"
	"parley/pkg/utils"
)

// SecConfig drives the request gateway: CORS origins and per-caller rate
// limiting.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// GatewayMiddleware handles the outer request concerns shared by every
// route: request logging, CORS and rate limiting. Identity resolution is
// layered separately so health probes can skip it.
func GatewayMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogRequest(r)

			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-User-ID,X-User-Signature,X-Role-Name")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// limit per user when identified, else per client ip
			key := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if key == "" {
				key = clientIP(r)
			}
			if !limiters.Allow(key) {
				logger.Warn("rate_limited", "key", key, "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
