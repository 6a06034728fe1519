package tenancy

import "context"

type contextKey string

const tenantContextKey = contextKey("tenant_context")

// WithContext validates tc and derives a context carrying it. The parent
// context is untouched: call chains branched from the parent never observe
// tc, which is what confines a tenant identity to one logical operation.
func WithContext(ctx context.Context, tc *TenantContext) (context.Context, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return context.WithValue(ctx, tenantContextKey, tc), nil
}

// FromContext returns the established tenant context or ErrContextNotSet.
// There is no default tenant: callers that reach storage without an
// identity must fail, not fall through.
func FromContext(ctx context.Context) (*TenantContext, error) {
	tc, ok := ctx.Value(tenantContextKey).(*TenantContext)
	if !ok || tc == nil {
		return nil, ErrContextNotSet
	}
	return tc, nil
}

// FromContextOrNil returns the tenant context, or nil when none is set.
// For logging and other paths where absence is not an error.
func FromContextOrNil(ctx context.Context) *TenantContext {
	tc, _ := ctx.Value(tenantContextKey).(*TenantContext)
	return tc
}

// Run executes fn with tc established. The identity lives exactly as long
// as fn's call chain.
func Run(ctx context.Context, tc *TenantContext, fn func(context.Context) error) error {
	scoped, err := WithContext(ctx, tc)
	if err != nil {
		return err
	}
	return fn(scoped)
}

// WithSystemContext derives a context carrying the system identity.
// Reserved for migrations, schedulers, and operator tooling.
func WithSystemContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, tenantContextKey, NewSystemContext())
}

// RunAsSystem executes fn under the system identity.
func RunAsSystem(ctx context.Context, fn func(context.Context) error) error {
	return fn(WithSystemContext(ctx))
}

// IsSystemContext reports whether ctx carries the system identity.
func IsSystemContext(ctx context.Context) bool {
	tc := FromContextOrNil(ctx)
	return tc.IsSystem()
}

// IsSuperAdminContext reports whether ctx carries a super-admin identity.
func IsSuperAdminContext(ctx context.Context) bool {
	tc := FromContextOrNil(ctx)
	return tc != nil && tc.IsSuperAdmin
}
