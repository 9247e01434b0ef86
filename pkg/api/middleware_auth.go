package api

import (
	"errors"
	"net/http"

	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/roadnet"
)

// APIKeyHeader carries the customer API key.
const APIKeyHeader = "X-API-Key"

// requireCustomer resolves the X-API-Key header to a customer and stores it
// in the request context. A missing key is 401, a wrong one 403.
func (s *Server) requireCustomer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			w.Header().Set("WWW-Authenticate", APIKeyHeader)
			s.respondError(w, http.StatusUnauthorized, "API key required")
			return
		}

		customer, err := s.authenticator.Authenticate(r.Context(), key)
		if err != nil {
			if errors.Is(err, roadnet.ErrUnauthorized) {
				s.respondError(w, http.StatusForbidden, "Invalid API key")
				return
			}
			s.respondServiceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithCustomer(r.Context(), customer)))
	}
}

// customerFrom returns the customer stored by requireCustomer.
func customerFrom(r *http.Request) *roadnet.Customer {
	c, _ := auth.CustomerFromContext(r.Context())
	return c
}
