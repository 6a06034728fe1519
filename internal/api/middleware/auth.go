package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/service"
	"github.com/stratumkit/stratum/internal/tenancy"
)

const authTenantKey = contextKey("tenant")

// TenantFromContext returns the authenticated tenant record, or nil when the
// request did not pass authentication.
func TenantFromContext(ctx context.Context) *domain.Tenant {
	t, _ := ctx.Value(authTenantKey).(*domain.Tenant)
	return t
}

// Claims is the JWT payload for user and super-admin tokens. tid names the
// tenant, sub the acting user, org the active organization if any.
type Claims struct {
	TenantID       string `json:"tid"`
	OrganizationID string `json:"org,omitempty"`
	SuperAdmin     bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator turns bearer credentials into an established tenant context.
// API keys (prefix "st_") authenticate a whole tenant; JWTs authenticate a
// user inside a tenant, optionally with super-admin elevation.
type Authenticator struct {
	tenants   *service.TenantService
	jwtSecret []byte
	logger    *zap.Logger
}

func NewAuthenticator(tenants *service.TenantService, jwtSecret []byte, logger *zap.Logger) *Authenticator {
	return &Authenticator{tenants: tenants, jwtSecret: jwtSecret, logger: logger}
}

// Middleware authenticates the request and installs the tenant context.
// Every route behind it can rely on tenancy.FromContext succeeding.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		if strings.HasPrefix(parts[1], "st_") {
			a.serveAPIKey(w, r, next, parts[1])
			return
		}
		a.serveJWT(w, r, next, parts[1])
	})
}

func (a *Authenticator) serveAPIKey(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	tenant, err := a.tenants.Authenticate(r.Context(), key)
	if err != nil {
		if errors.Is(err, service.ErrTenantSuspended) {
			writeError(w, http.StatusForbidden, "tenant is suspended")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	a.establish(w, r, next, tenant, tenancy.NewAPIKeyContext(tenant.ID.String()))
}

func (a *Authenticator) serveJWT(w http.ResponseWriter, r *http.Request, next http.Handler, raw string) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.TenantID == "" || claims.Subject == "" {
		writeError(w, http.StatusUnauthorized, "invalid token claims")
		return
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token claims")
		return
	}

	tenant, err := a.tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown tenant")
		return
	}

	var tc *tenancy.TenantContext
	if claims.SuperAdmin {
		// Super-admins may act on suspended tenants, e.g. to reactivate them.
		tc, err = tenancy.NewSuperAdminContext(claims.TenantID, claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
	} else {
		if tenant.Status == domain.TenantSuspended {
			writeError(w, http.StatusForbidden, "tenant is suspended")
			return
		}
		tc = tenancy.NewUserContext(claims.TenantID, claims.Subject, claims.OrganizationID, tenancy.SourceToken)
	}

	a.establish(w, r, next, tenant, tc)
}

func (a *Authenticator) establish(w http.ResponseWriter, r *http.Request, next http.Handler, tenant *domain.Tenant, tc *tenancy.TenantContext) {
	ctx, err := tenancy.WithContext(r.Context(), tc)
	if err != nil {
		a.logger.Error("failed to establish tenant context", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ctx = context.WithValue(ctx, authTenantKey, tenant)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// RequireSuperAdmin gates operator routes. It must run behind Middleware.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tenancy.IsSuperAdminContext(r.Context()) {
			writeError(w, http.StatusForbidden, "super-admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MintToken issues an HS256 JWT for the given identity. Used by operator
// tooling and tests; production deployments mint tokens in their identity
// provider with the same claims.
func MintToken(secret []byte, tenantID, userID, orgID string, superAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		TenantID:       tenantID,
		OrganizationID: orgID,
		SuperAdmin:     superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
