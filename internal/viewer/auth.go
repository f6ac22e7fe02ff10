package viewer

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const authUser = "host"

// basicAuth guards the dashboard with HTTP Basic Auth against a bcrypt
// hash. The username is fixed; only the password is configurable.
func basicAuth(hash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(authUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="onair"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
