// Rate-limit response headers, grounded on the teacher's own
// rateLimitResponseWriter (x-ratelimit-*-requests/tokens normalization),
// generalized from its two-dimension (requests, tokens) header set to the
// gateway's single request-count limit plus an optional tenant-scoped one
// (spec §6, §9: "resource-intensive" tenant limiting is configuration, not
// policy).
package server

import (
	"context"
	"net/http"

	"github.com/riftgate/gateway/internal/domain"
)

// rateLimitContextKey is the context key for rate limit info.
type rateLimitContextKey struct{}

// rateLimitHolderKey identifies the mutable holder RateLimitHeaderMiddleware
// places in context, so decisions set on a derived request context remain
// visible to the middleware's own response writer.
type rateLimitHolderKey struct{}

type rateLimitHolder struct {
	info *RateLimitInfo
}

// RateLimitInfo carries the decisions to write as response headers: the
// identity-scoped decision, plus, when tenant rate limiting applied, the
// tenant-scoped decision. Headers are written regardless of outcome.
type RateLimitInfo struct {
	Decision       domain.RateLimitDecision
	TenantDecision *domain.RateLimitDecision
}

// SetRateLimits stores decisions in context for RateLimitHeaderMiddleware to
// write as headers once the handler writes its first byte.
func SetRateLimits(ctx context.Context, rl *RateLimitInfo) context.Context {
	if h, ok := ctx.Value(rateLimitHolderKey{}).(*rateLimitHolder); ok {
		h.info = rl
	}
	return context.WithValue(ctx, rateLimitContextKey{}, rl)
}

// GetRateLimits retrieves rate limit info from context, or nil if unset.
func GetRateLimits(ctx context.Context) *RateLimitInfo {
	if rl, ok := ctx.Value(rateLimitContextKey{}).(*RateLimitInfo); ok {
		return rl
	}
	if h, ok := ctx.Value(rateLimitHolderKey{}).(*rateLimitHolder); ok {
		return h.info
	}
	return nil
}

// RateLimitHeaderMiddleware writes X-RateLimit-* and, when present,
// X-Tenant-RateLimit-* headers from the decisions the handler stashed in
// context, on the first WriteHeader/Write call regardless of status code.
func RateLimitHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), rateLimitHolderKey{}, &rateLimitHolder{}))
		wrapped := &rateLimitResponseWriter{ResponseWriter: w, request: r}
		next.ServeHTTP(wrapped, r)
	})
}

// rateLimitResponseWriter wraps ResponseWriter to write rate limit headers.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	request      *http.Request
	wroteHeaders bool
}

func (rw *rateLimitResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *rateLimitResponseWriter) writeRateLimitHeaders() {
	rl := GetRateLimits(rw.request.Context())
	if rl == nil {
		return
	}

	h := rw.Header()
	h.Set("X-RateLimit-Limit", itoa(rl.Decision.Limit))
	h.Set("X-RateLimit-Remaining", itoa(rl.Decision.Remaining))
	h.Set("X-RateLimit-Reset", itoa64(rl.Decision.ResetAt))

	if rl.TenantDecision != nil {
		h.Set("X-Tenant-RateLimit-Limit", itoa(rl.TenantDecision.Limit))
		h.Set("X-Tenant-RateLimit-Remaining", itoa(rl.TenantDecision.Remaining))
		h.Set("X-Tenant-RateLimit-Reset", itoa64(rl.TenantDecision.ResetAt))
	}
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher, preserving streaming support (e.g. file downloads).
func (rw *rateLimitResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// itoa converts int to string without importing strconv.
func itoa(i int) string {
	return itoa64(int64(i))
}

func itoa64(i int64) string {
	if i == 0 {
		return "0"
	}

	negative := i < 0
	if negative {
		i = -i
	}

	var buf [20]byte
	pos := len(buf)

	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}

	if negative {
		pos--
		buf[pos] = '-'
	}

	return string(buf[pos:])
}
