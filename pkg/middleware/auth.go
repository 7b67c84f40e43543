package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// BasicAuth guards the REST API with HTTP basic auth. When disabled in
// config it passes every request through untouched. Credential comparison
// is constant-time.
func BasicAuth(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok || !credentialsMatch(username, password, cfg.Username, cfg.Password) {
				logger.Warn("Rejected unauthenticated request to %s from %s", r.URL.Path, getClientIP(r))
				w.Header().Set("WWW-Authenticate", `Basic realm="trackspec"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func credentialsMatch(gotUser, gotPass, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(gotPass), []byte(wantPass)) == 1
	return userOK && passOK
}
