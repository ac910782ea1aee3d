package api

import (
	"net/http"
	"strings"

	"github.com/cuemby/actyx/pkg/types"
)

// requireBearer returns middleware that rejects any request without a
// valid "Authorization: Bearer <token>" header issued by a prior
// /auth/login call. A single read/write bearer check is enough: every route
// this facade exposes already maps onto the core's small, explicit
// contract (emit, query, subscribe, offsets), so there is no longer a
// read-only-vs-write method split to enforce, only authenticated vs
// not.
func requireBearer(tokens *tokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, &types.AuthError{Op: "auth", Err: errMissingBearer})
				return
			}
			token := strings.TrimPrefix(header, prefix)
			if !tokens.valid(token) {
				writeError(w, &types.AuthError{Op: "auth", Err: errInvalidBearer})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
