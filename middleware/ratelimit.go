// Package middleware provides net/http middleware that admits or rejects
// requests using a floodgate engine, with standard rate limit headers and
// a JSON body on rejection.
package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/floodgate/pkg/floodgate"
)

// Recorder receives every decision the middleware makes. The metrics
// package implements it; anything else that wants a per-decision hook can
// too.
type Recorder interface {
	Record(d *floodgate.Decision)
}

// Config configures the rate limiting middleware.
type Config struct {
	// Limiter is the default engine. Required.
	Limiter floodgate.Limiter

	// RouteLimiters overrides the default engine for exact request paths,
	// so /api/login can run a stricter policy than the rest of the API.
	RouteLimiters map[string]floodgate.Limiter

	// KeyFunc derives the client key. Defaults to KeyByIP.
	KeyFunc KeyFunc

	// Bypass skips rate limiting for requests it returns true for, e.g.
	// health checks or an internal network.
	Bypass func(*http.Request) bool

	// Metrics, when set, receives every decision.
	Metrics Recorder

	// Logger, when set, logs rejections and internal failures.
	Logger *zap.Logger

	// FailOpen admits the request when a decision cannot be computed
	// (key extraction or engine failure). When false such requests get
	// a 500. Rejections are unaffected either way.
	FailOpen bool
}

// RateLimiter is the middleware itself. Build one with New and mount
// Handler (or chi's Use) in front of the routes to protect.
type RateLimiter struct {
	cfg Config
}

// New validates the config and returns the middleware.
func New(cfg Config) (*RateLimiter, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("middleware: %w: limiter is required", floodgate.ErrInvalidConfig)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RateLimiter{cfg: cfg}, nil
}

// Handler wraps next with admission control.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.Bypass != nil && rl.cfg.Bypass(r) {
			next.ServeHTTP(w, r)
			return
		}

		key, err := rl.cfg.KeyFunc(r)
		if err != nil {
			rl.fail(w, r, next, "key extraction failed", err)
			return
		}

		decision, err := rl.limiterFor(r).Check(key)
		if err != nil {
			rl.fail(w, r, next, "admission check failed", err)
			return
		}

		if rl.cfg.Metrics != nil {
			rl.cfg.Metrics.Record(decision)
		}
		writeRateHeaders(w, decision)

		if !decision.Allowed {
			rl.cfg.Logger.Debug("request rejected",
				zap.String("key", decision.Key),
				zap.String("path", r.URL.Path),
				zap.String("algorithm", string(decision.Algorithm)),
				zap.Duration("retry_after", decision.RetryAfter),
			)
			writeRejection(w, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop halts the default engine and every route engine.
func (rl *RateLimiter) Stop() {
	rl.cfg.Limiter.Stop()
	for _, l := range rl.cfg.RouteLimiters {
		l.Stop()
	}
}

func (rl *RateLimiter) limiterFor(r *http.Request) floodgate.Limiter {
	if l, ok := rl.cfg.RouteLimiters[r.URL.Path]; ok {
		return l
	}
	return rl.cfg.Limiter
}

func (rl *RateLimiter) fail(w http.ResponseWriter, r *http.Request, next http.Handler, msg string, err error) {
	if rl.cfg.FailOpen {
		rl.cfg.Logger.Warn(msg+", admitting request",
			zap.String("path", r.URL.Path), zap.Error(err))
		next.ServeHTTP(w, r)
		return
	}
	rl.cfg.Logger.Error(msg,
		zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeRateHeaders(w http.ResponseWriter, d *floodgate.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))
}

func writeRejection(w http.ResponseWriter, d *floodgate.Decision) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(d.RetryAfter)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":          "rate_limit_exceeded",
		"message":        "Too many requests. Please try again later.",
		"retry_after_ms": d.RetryAfter.Milliseconds(),
	})
}

// retryAfterSeconds rounds up so a client honoring the header never
// retries too early, and is at least 1 because Retry-After: 0 reads as
// "retry immediately".
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
