package middleware

import (
	"net/http"
)

// CheckAuth extracts the authenticated principal; the real gateway in front
// of the vault validates credentials, we only need the identity
func CheckAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		username, _, ok := r.BasicAuth()
		if !ok || username == "" {
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte("you are not authorized for this action"))
			return
		}
		next.ServeHTTP(rw, r)
	})
}
