package middleware

import (
	"net/http"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
)

type ErrorHandler struct {
	handler http.Handler
	log     logger.Logger
}

// WithErrorHandler logs every request that ends with a 4xx or 5xx status.
func WithErrorHandler(log logger.Logger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return &ErrorHandler{handler: h, log: log}
	}
}

func (eh *ErrorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	eh.handler.ServeHTTP(rec, r)

	if rec.status < http.StatusBadRequest {
		return
	}
	fields := []logger.Field{
		logger.StringField("method", r.Method),
		logger.StringField("path", r.URL.Path),
		logger.IntField("status", rec.status),
		logger.DurationField("duration", time.Since(start)),
	}
	if rec.status >= http.StatusInternalServerError {
		eh.log.Error("Request failed", fields...)
		return
	}
	eh.log.Warn("Request rejected", fields...)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
