package middleware

import (
	"net/http"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

const panicMiddlewareMethodName = "PanicMiddleware"

// PanicRecovery recovers from handler panics, logs the error, sends it
// to the error tracker, and returns a 500.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rcv := recover(); rcv != nil {
				err := logger.HandlePanic(panicMiddlewareMethodName, rcv)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
