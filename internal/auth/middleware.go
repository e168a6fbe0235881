package auth

import (
	"errors"
	"net/http"
)

// Middleware authenticates operator requests.
type Middleware struct {
	validator *Validator
}

// NewMiddleware creates the middleware.
func NewMiddleware(validator *Validator) *Middleware {
	return &Middleware{validator: validator}
}

// Authenticate rejects requests without a valid bearer token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := m.validator.Validate(header)
		if err != nil {
			switch {
			case errors.Is(err, ErrMissingToken):
				http.Error(w, "missing token", http.StatusUnauthorized)
			case errors.Is(err, ErrExpiredToken):
				http.Error(w, "token expired", http.StatusUnauthorized)
			default:
				http.Error(w, "invalid token", http.StatusUnauthorized)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireScope rejects authenticated requests lacking scope.
func (m *Middleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !claims.HasScope(scope) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
