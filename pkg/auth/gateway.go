package auth

import (
	"context"
	"net/http"
	"strings"

	"teamdesk/pkg/logger"
	"teamdesk/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxRoleKey struct{}
type ctxUserKey struct{}

// RoleFromContext returns the caller role resolved by the gateway.
func RoleFromContext(ctx context.Context) Role {
	if v, ok := ctx.Value(ctxRoleKey{}).(Role); ok {
		return v
	}
	return RoleUnauth
}

// UserFromContext returns the caller identity header value, if any.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}

func resolveRole(cfg SecConfig, key string) Role {
	if key == "" {
		return RoleUnauth
	}
	if _, ok := cfg.AdminKeys[key]; ok {
		return RoleAdmin
	}
	if _, ok := cfg.BackendKeys[key]; ok {
		return RoleBackend
	}
	if _, ok := cfg.FrontendKeys[key]; ok {
		return RoleFrontend
	}
	return RoleUnauth
}

func originAllowed(cfg SecConfig, origin string) bool {
	if origin == "" || len(cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Middleware authenticates the request by API key, applies CORS and
// per-caller rate limiting, and injects role + user identity into the
// request context.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiter := &limiterPool{cfg: cfg}
	openAccess := len(cfg.BackendKeys) == 0 && len(cfg.FrontendKeys) == 0 && len(cfg.AdminKeys) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !originAllowed(cfg, origin) {
				utils.JSONError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-User-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
			role := resolveRole(cfg, apiKey)
			if role == RoleUnauth && !openAccess {
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONError(w, http.StatusUnauthorized, "missing or invalid api key")
				return
			}

			limitKey := apiKey
			if limitKey == "" {
				limitKey = r.RemoteAddr
			}
			if !limiter.Allow(limitKey) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			ctx := context.WithValue(r.Context(), ctxRoleKey{}, role)
			if uid := strings.TrimSpace(r.Header.Get("X-User-ID")); uid != "" {
				ctx = context.WithValue(ctx, ctxUserKey{}, uid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
