package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
)

// requestIDMiddleware assigns a correlation id before any other work so that every log
// line and error body for the request carries it.
func requestIDMiddleware(ids form.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := ""
			if ids != nil {
				if id, err := ids.NewID(); err == nil {
					reqID = id
				}
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(correlation.Header, reqID)
			next.ServeHTTP(w, r.WithContext(correlation.WithID(r.Context(), reqID)))
		})
	}
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request completed",
				zap.String("request_id", correlation.FromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reqID := correlation.FromContext(r.Context())
				logger.Error("panic recovered",
					zap.String("request_id", reqID),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				msg := genericErrorMessage
				if !production {
					msg = fmt.Sprintf("internal error: %v", rec)
				}
				writeError(w, http.StatusInternalServerError, msg, reqID)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds the request context. Handlers observe the deadline through
// their context; when one gives up without writing a response, a 500 carrying the
// correlation id is written in its place.
func timeoutMiddleware(logger *zap.Logger, d time.Duration, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))
			if ww.Status() != 0 || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			reqID := correlation.FromContext(ctx)
			msg := genericErrorMessage
			if !production {
				msg = fmt.Sprintf("request timed out after %s", d)
			}
			logger.Warn("request timed out without a response",
				zap.String("request_id", reqID),
				zap.String("path", r.URL.Path),
				zap.Duration("timeout", d),
			)
			writeError(ww, http.StatusInternalServerError, msg, reqID)
		})
	}
}
