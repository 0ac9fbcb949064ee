package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// BearerToken returns middleware that requires Authorization: Bearer <token>.
func BearerToken(api huma.API, token string) func(huma.Context, func(huma.Context)) {
	want := []byte(token)
	return func(ctx huma.Context, next func(huma.Context)) {
		auth := ctx.Header("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			if err := huma.WriteErr(api, ctx, http.StatusUnauthorized, "unauthorized"); err != nil {
				// best effort
			}
			return
		}
		next(ctx)
	}
}
