package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const tooMany = "Too many requests. Please wait a minute before trying again."

// PerIP returns middleware that limits requests by client IP.
// Backend errors fail open so a redis outage does not lock everyone out.
func PerIP(lim Allower, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := lim.Allow(r.Context(), "ip:"+ClientIP(r))
			if err != nil {
				log.Warn("rate limiter unavailable", zap.Error(err))
				ok = true
			}
			if !ok {
				reject(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginLimiter limits login attempts by IP and by email.
type LoginLimiter struct {
	ip    Allower
	email Allower
	log   *zap.Logger
}

// NewLoginLimiter combines an IP limiter and an email limiter.
func NewLoginLimiter(ip, email Allower, log *zap.Logger) *LoginLimiter {
	return &LoginLimiter{ip: ip, email: email, log: log}
}

// Check reports whether a login attempt for email from r may proceed.
func (ll *LoginLimiter) Check(r *http.Request, email string) bool {
	if !ll.allow(r, ll.ip, "login-ip:"+ClientIP(r)) {
		return false
	}
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		return ll.allow(r, ll.email, "login-email:"+email)
	}
	return true
}

func (ll *LoginLimiter) allow(r *http.Request, lim Allower, key string) bool {
	ok, err := lim.Allow(r.Context(), key)
	if err != nil {
		ll.log.Warn("login limiter unavailable", zap.Error(err))
		return true
	}
	return ok
}

// Reject writes the 429 response used by the limiters.
func Reject(w http.ResponseWriter) { reject(w) }

func reject(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"kind": "too_many_requests",
		"msg":  tooMany,
	})
}
