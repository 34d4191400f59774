package api

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const tokenCacheTTL = 1 * time.Hour

func (s *Service) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == nil {
			next.ServeHTTP(w, r)
			return
		}
		// Read in bearer token
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Missing token", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		// Tokens that passed bcrypt recently skip the expensive comparison
		if val, ok := s.tokenCache.Load(token); ok {
			if time.Since(val.(time.Time)) <= tokenCacheTTL {
				next.ServeHTTP(w, r)
				return
			}
			s.tokenCache.Delete(token)
		}

		if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		s.tokenCache.Store(token, time.Now())
		next.ServeHTTP(w, r)
	})
}
