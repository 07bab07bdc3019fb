package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, zero or less disables limiting
	RateBurst      int
}

func NewServer(config ServerConfig, h *LibraryHandler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", ping)
	mux.HandleFunc("GET /books", h.listBooks)
	mux.HandleFunc("POST /books", h.addBook)
	mux.HandleFunc("GET /books/{id}", h.getBookById)
	mux.HandleFunc("GET /search", h.searchBooks)
	mux.HandleFunc("POST /borrow", h.borrowBook)
	mux.HandleFunc("POST /return", h.returnBook)
	mux.HandleFunc("GET /patrons/{id}/report", h.patronReport)
	mux.HandleFunc("GET /patrons/{patron}/books/{book}/fee", h.lateFee)
	mux.HandleFunc("POST /fees/pay", h.payLateFees)
	mux.HandleFunc("POST /fees/refund", h.refundLateFee)

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	limiter := rate.NewLimiter(limit, config.RateBurst)

	server := http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           rateLimitMiddleware(limiter, timeoutMiddleware(config.RequestTimeout, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &server
}

/* Tests the http server connection.  */
func ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func rateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			slog.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

/* Bounds every request with the configured timeout. A zero timeout leaves requests unbounded. */
func timeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
