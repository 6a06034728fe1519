package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/service"
	"github.com/stratumkit/stratum/internal/store"
	"github.com/stratumkit/stratum/internal/tenancy"
)

var testSecret = []byte("test-signing-secret")

type mockTenantStore struct {
	byID map[uuid.UUID]*domain.Tenant
}

func newMockTenantStore() *mockTenantStore {
	return &mockTenantStore{byID: make(map[uuid.UUID]*domain.Tenant)}
}

func (m *mockTenantStore) seed(t *domain.Tenant) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = domain.TenantActive
	}
	m.byID[t.ID] = t
}

func (m *mockTenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	m.seed(t)
	return nil
}

func (m *mockTenantStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	e, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockTenantStore) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	for _, e := range m.byID {
		if e.Slug == slug {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockTenantStore) GetByAPIKeyHash(ctx context.Context, hash string) (*domain.Tenant, error) {
	for _, e := range m.byID {
		if e.APIKeyHash == hash {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockTenantStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TenantStatus) error {
	e, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	return nil
}

func setupAuthenticator(t *testing.T) (*Authenticator, *mockTenantStore) {
	t.Helper()
	ms := newMockTenantStore()
	svc := service.NewTenantService(ms, zap.NewNop())
	return NewAuthenticator(svc, testSecret, zap.NewNop()), ms
}

// capture runs the authenticator over one request and records the context
// the inner handler observed.
func capture(a *Authenticator, authHeader string) (*httptest.ResponseRecorder, *tenancy.TenantContext, *domain.Tenant) {
	var tc *tenancy.TenantContext
	var tenant *domain.Tenant
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc = tenancy.FromContextOrNil(r.Context())
		tenant = TenantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "http://example/v1/tenant", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	a.Middleware(next).ServeHTTP(w, r)
	return w, tc, tenant
}

func TestAPIKeyAuthEstablishesTenantContext(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	apiKey, err := service.GenerateAPIKey()
	if err != nil {
		t.Fatalf("expected key, got %v", err)
	}
	seeded := &domain.Tenant{Name: "acme", Slug: "acme", APIKeyHash: service.HashAPIKey(apiKey)}
	ms.seed(seeded)

	w, tc, tenant := capture(auth, "Bearer "+apiKey)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if tc == nil {
		t.Fatal("expected a tenant context to be established")
	}
	if tc.TenantID != seeded.ID.String() {
		t.Fatalf("expected tenant %s, got %s", seeded.ID, tc.TenantID)
	}
	if tc.Source != tenancy.SourceAPIKey {
		t.Fatalf("expected api_key source, got %s", tc.Source)
	}
	if tc.UserID != "" {
		t.Fatalf("expected no acting user, got %s", tc.UserID)
	}
	if tenant == nil || tenant.ID != seeded.ID {
		t.Fatal("expected the tenant record on the context")
	}
}

func TestAPIKeyAuthRejectsUnknownKey(t *testing.T) {
	auth, _ := setupAuthenticator(t)

	w, tc, _ := capture(auth, "Bearer st_0000000000000000000000000000000000000000000000000000000000000000")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if tc != nil {
		t.Fatal("expected no tenant context")
	}
}

func TestAPIKeyAuthRejectsSuspendedTenant(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	apiKey, _ := service.GenerateAPIKey()
	ms.seed(&domain.Tenant{
		Name:       "frozen",
		Slug:       "frozen",
		Status:     domain.TenantSuspended,
		APIKeyHash: service.HashAPIKey(apiKey),
	})

	w, _, _ := capture(auth, "Bearer "+apiKey)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestMissingAuthorizationHeader(t *testing.T) {
	auth, _ := setupAuthenticator(t)

	w, _, _ := capture(auth, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestJWTAuthEstablishesUserContext(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	seeded := &domain.Tenant{Name: "acme", Slug: "acme"}
	ms.seed(seeded)

	userID := uuid.NewString()
	orgID := uuid.NewString()
	token, err := MintToken(testSecret, seeded.ID.String(), userID, orgID, false, time.Hour)
	if err != nil {
		t.Fatalf("expected token, got %v", err)
	}

	w, tc, _ := capture(auth, "Bearer "+token)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if tc == nil {
		t.Fatal("expected a tenant context to be established")
	}
	if tc.TenantID != seeded.ID.String() || tc.UserID != userID || tc.OrganizationID != orgID {
		t.Fatalf("unexpected identity: %+v", tc)
	}
	if tc.IsSuperAdmin {
		t.Fatal("expected a regular user context")
	}
	if tc.Source != tenancy.SourceToken {
		t.Fatalf("expected token source, got %s", tc.Source)
	}
}

func TestJWTAuthRejectsWrongSecret(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	seeded := &domain.Tenant{Name: "acme", Slug: "acme"}
	ms.seed(seeded)

	token, _ := MintToken([]byte("some-other-secret"), seeded.ID.String(), uuid.NewString(), "", false, time.Hour)

	w, _, _ := capture(auth, "Bearer "+token)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	seeded := &domain.Tenant{Name: "acme", Slug: "acme"}
	ms.seed(seeded)

	token, _ := MintToken(testSecret, seeded.ID.String(), uuid.NewString(), "", false, -time.Hour)

	w, _, _ := capture(auth, "Bearer "+token)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestJWTAuthRejectsSuspendedTenantForUsers(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	seeded := &domain.Tenant{Name: "frozen", Slug: "frozen", Status: domain.TenantSuspended}
	ms.seed(seeded)

	token, _ := MintToken(testSecret, seeded.ID.String(), uuid.NewString(), "", false, time.Hour)

	w, _, _ := capture(auth, "Bearer "+token)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestJWTSuperAdminMayActOnSuspendedTenant(t *testing.T) {
	auth, ms := setupAuthenticator(t)

	seeded := &domain.Tenant{Name: "frozen", Slug: "frozen", Status: domain.TenantSuspended}
	ms.seed(seeded)

	token, _ := MintToken(testSecret, seeded.ID.String(), uuid.NewString(), "", true, time.Hour)

	w, tc, _ := capture(auth, "Bearer "+token)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if tc == nil || !tc.IsSuperAdmin {
		t.Fatal("expected a super-admin context")
	}
	if tc.Metadata["elevated_at"] == nil {
		t.Fatal("expected the elevation to be stamped")
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Regular user context is rejected.
	userCtx, err := tenancy.WithContext(context.Background(),
		tenancy.NewUserContext(uuid.NewString(), uuid.NewString(), "", tenancy.SourceToken))
	if err != nil {
		t.Fatalf("expected context, got %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "http://example/v1/ratelimits/reset-identifier", nil).WithContext(userCtx)
	w := httptest.NewRecorder()
	RequireSuperAdmin(next).ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a regular user, got %d", w.Code)
	}

	// Super-admin context passes.
	admin, err := tenancy.NewSuperAdminContext(uuid.NewString(), uuid.NewString())
	if err != nil {
		t.Fatalf("expected super-admin context, got %v", err)
	}
	adminCtx, err := tenancy.WithContext(context.Background(), admin)
	if err != nil {
		t.Fatalf("expected context, got %v", err)
	}
	r = httptest.NewRequest(http.MethodPost, "http://example/v1/ratelimits/reset-identifier", nil).WithContext(adminCtx)
	w = httptest.NewRecorder()
	RequireSuperAdmin(next).ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a super-admin, got %d", w.Code)
	}
}
