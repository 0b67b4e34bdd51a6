package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/utils"
)

const (
	HeaderAPIKey   = "X-API-Key"
	HeaderAdminKey = "X-Admin-Key"
)

type TenantAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Tenant, error)
}

type TenantMiddleware struct {
	tenants TenantAuthenticator
	logger  *utils.Logger
}

func CreateTenantMiddleware(tenants TenantAuthenticator) *TenantMiddleware {
	return &TenantMiddleware{
		tenants: tenants,
		logger:  utils.NewLogger("auth"),
	}
}

// Authenticate resolves the API key to an active tenant and stores its id in
// the request context.
func (tm *TenantMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			utils.WriteError(w, utils.ErrUnauthorized.WithMessage("API key required"))
			return
		}

		tenant, err := tm.tenants.Authenticate(r.Context(), apiKey)
		if err != nil {
			tm.logger.Warn(r.Context(), "Tenant authentication failed", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err,
			})
			utils.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(utils.WithTenantID(r.Context(), tenant.ID)))
	})
}

// AdminMiddleware guards tenant administration with a static key. An empty
// key closes the routes entirely.
func AdminMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(HeaderAdminKey)
			if adminKey == "" || given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(adminKey)) != 1 {
				utils.WriteError(w, utils.ErrUnauthorized.WithMessage("Admin key required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if apiKey := r.Header.Get(HeaderAPIKey); apiKey != "" {
		return apiKey
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}
