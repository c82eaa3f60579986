package api

import (
	"net"
	"net/http"
	"time"

	neterrors "github.com/blockmedi/medledger/errors"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/ratelimit"
	"github.com/google/uuid"
)

const correlationIDHeader = "X-Correlation-Id"

// correlationIDMiddleware keeps a caller-supplied id or issues a new one.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(correlationIDHeader, id)
		}
		w.Header().Set(correlationIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logx.Info("API", r.Method, r.URL.Path, rec.status, time.Since(start).String(), r.Header.Get(correlationIDHeader))
	})
}

// rateLimitMiddleware rejects callers over the limiter's window. A nil
// limiter lets everything through.
func rateLimitMiddleware(limiter *ratelimit.RateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !limiter.Allow(ip) {
			logx.Warn("API", "Rate limited", r.URL.Path, "for", ip)
			writeError(w, http.StatusTooManyRequests, neterrors.ErrCodeRateLimited, neterrors.ErrMsgRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
