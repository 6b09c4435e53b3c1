// Copyright 2025 James Ross
package intake

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/obs"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "requestId"
	contextKeyTenantID  contextKey = "tenantId"
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func tenantIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyTenantID).(string)
	return id
}

// requestIDMiddleware stamps every request with a request id, generating one
// if the caller didn't supply X-Request-Id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoveryMiddleware converts a panic in a handler into a 500 response
// instead of crashing the process.
func recoveryMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("intake handler panic",
						obs.String("requestId", requestIDFrom(r.Context())), obs.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware requires X-Tenant-Id on every request and, when enabled,
// authenticates X-Api-Key against that tenant via the APIKeyStore.
func authMiddleware(keys docstore.APIKeyStore, requireAPIKey bool, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get("X-Tenant-Id")
			if tenantID == "" {
				writeError(w, http.StatusUnauthorized, "TENANT_REQUIRED", "X-Tenant-Id header is required")
				return
			}

			if requireAPIKey {
				apiKey := r.Header.Get("X-Api-Key")
				if apiKey == "" {
					writeError(w, http.StatusUnauthorized, "API_KEY_REQUIRED", "X-Api-Key header is required")
					return
				}
				ok, err := keys.Authenticate(r.Context(), tenantID, apiKey)
				if err != nil {
					log.Error("api key authentication failed", obs.Err(err))
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "authentication check failed")
					return
				}
				if !ok {
					writeError(w, http.StatusUnauthorized, "API_KEY_INVALID", "invalid API key for tenant")
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextKeyTenantID, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimitMiddleware applies a per-tenant token bucket, since each tenant's
// intake traffic should be isolated from every other tenant's.
func rateLimitMiddleware(perSecond float64, burst int) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(tenantID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[tenantID]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[tenantID] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := tenantIDFrom(r.Context())
			if !limiterFor(tenantID).Allow() {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditMiddleware records every mutating request (POST/PUT/DELETE) to the
// audit log, regardless of outcome.
func auditMiddleware(audit *AuditLogger, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if r.Method == http.MethodGet {
				return
			}
			entry := AuditEntry{
				Timestamp: time.Now().UTC(),
				RequestID: requestIDFrom(r.Context()),
				TenantID:  tenantIDFrom(r.Context()),
				Action:    r.Method + " " + r.URL.Path,
				Status:    rw.status,
				RemoteIP:  r.RemoteAddr,
			}
			if err := audit.Log(entry); err != nil {
				log.Error("failed to write audit log entry", obs.Err(err))
			}
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
