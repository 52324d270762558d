package web

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// requireAuth checks the bearer token when one is configured. The token is
// accepted from "Authorization: Bearer <t>", a "Bearer: <t>" header, or a
// bare "Authorization: <t>" value, since some automation tools send it in
// those forms.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.auth.Load().BearerToken
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := requestToken(r)
		if token == "" || !secureCompare(token, expected) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agendacal"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOrigin rejects browser requests from origins outside the
// allow-list. Requests without an Origin header pass.
func (s *Server) requireOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !s.originAllowed(origin) {
			s.log.Warn("origin rejected", "origin", origin, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	list := s.auth.Load().AllowedOrigins
	if len(list) == 0 || slices.Contains(list, "*") {
		return true
	}
	return slices.Contains(list, origin)
}

func requestToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	if b := r.Header.Get("Bearer"); b != "" {
		return strings.TrimSpace(b)
	}
	return strings.TrimSpace(authz)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
