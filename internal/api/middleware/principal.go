package middleware

import (
	"net/http"
	"strings"

	"github.com/planvista/planvista/internal/api/response"
)

// PrincipalHeader carries the opaque principal key set by the auth gateway
// after it validates the caller's identity. The service itself never sees
// credentials; an empty or missing header means the gateway did not
// authenticate the request.
const PrincipalHeader = "X-Principal-Key"

const maxPrincipalLen = 256

// Principal extracts the requesting principal from the gateway header and
// stores it in the request context. Requests without one are rejected.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if principal == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHENTICATED", "Missing principal; request did not pass the auth gateway", nil)
			return
		}
		if len(principal) > maxPrincipalLen {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHENTICATED", "Principal key too long", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), principal)))
	})
}
