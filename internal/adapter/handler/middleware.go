package handler

import (
	"context"
	"net/http"
)

type Identity struct {
	TenantID string
	UserID   string
}

type identityKey struct{}

// IdentityMiddleware reads the caller identity set by the gateway. Token
// validation and tenant resolution happen upstream.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			TenantID: r.Header.Get(TenantHeader),
			UserID:   r.Header.Get(UserHeader),
		}
		if id.TenantID == "" || id.UserID == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "missing " + TenantHeader + " or " + UserHeader + " header",
				Code:  "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
