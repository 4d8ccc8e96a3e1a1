package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
)

// RateLimitMiddleware limits each client IP to perMinute requests using an in-process store.
// A non-positive limit disables limiting.
func RateLimitMiddleware(name string, perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return nil
	}
	instance := limiter.New(memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "orders:" + name,
		CleanUpInterval: time.Minute,
	}), limiter.Rate{Period: time.Minute, Limit: int64(perMinute)})

	mw := stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).
				WithDetails(map[string]any{"limit": strconv.Itoa(perMinute) + "/min"}))
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			requestctx.Logger(r.Context()).Warn("rate limiter failed", zap.String("limiter", name), zap.Error(err))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limiter_unavailable", "rate limiter unavailable", http.StatusServiceUnavailable))
		}),
	)
	return mw.Handler
}
