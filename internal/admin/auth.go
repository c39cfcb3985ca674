package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// withAuth requires "Authorization: Bearer <secret>". An unset secret
// rejects every request.
func withAuth(secret string, h http.HandlerFunc) http.HandlerFunc {
	want := []byte(strings.TrimSpace(secret))
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if len(want) == 0 || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		h(w, r)
	}
}
