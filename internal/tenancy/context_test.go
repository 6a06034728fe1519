package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestWithContextAndFromContext(t *testing.T) {
	tc := NewUserContext("11111111-1111-1111-1111-111111111111", "u-1", "o-1", SourceToken)

	ctx, err := WithContext(context.Background(), tc)
	if err != nil {
		t.Fatalf("WithContext failed: %v", err)
	}

	got, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("FromContext failed: %v", err)
	}
	if got.TenantID != tc.TenantID || got.UserID != "u-1" || got.OrganizationID != "o-1" {
		t.Errorf("unexpected context: %+v", got)
	}
	if got.Source != SourceToken {
		t.Errorf("source = %s, want %s", got.Source, SourceToken)
	}
}

func TestFromContextDefaultDeny(t *testing.T) {
	_, err := FromContext(context.Background())
	if !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("expected ErrContextNotSet, got %v", err)
	}

	if tc := FromContextOrNil(context.Background()); tc != nil {
		t.Errorf("FromContextOrNil returned %+v on bare context", tc)
	}
}

func TestWithContextLeavesParentUntouched(t *testing.T) {
	parent := context.Background()
	_, err := WithContext(parent, NewAPIKeyContext("22222222-2222-2222-2222-222222222222"))
	if err != nil {
		t.Fatalf("WithContext failed: %v", err)
	}

	if _, err := FromContext(parent); !errors.Is(err, ErrContextNotSet) {
		t.Error("parent context observed the derived tenant identity")
	}
}

func TestWithContextRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		tc   *TenantContext
	}{
		{"nil context", nil},
		{"empty tenant id", &TenantContext{Source: SourceToken}},
		{"super-admin without user", &TenantContext{TenantID: "t-1", IsSuperAdmin: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WithContext(context.Background(), tt.tc)
			if !errors.Is(err, ErrContextInvalid) {
				t.Errorf("expected ErrContextInvalid, got %v", err)
			}
		})
	}
}

func TestNestedContextShadowsInnerChainOnly(t *testing.T) {
	outer, err := WithContext(context.Background(), NewAPIKeyContext("tenant-a"))
	if err != nil {
		t.Fatalf("WithContext failed: %v", err)
	}
	inner, err := WithContext(outer, NewAPIKeyContext("tenant-b"))
	if err != nil {
		t.Fatalf("nested WithContext failed: %v", err)
	}

	if tc, _ := FromContext(inner); tc.TenantID != "tenant-b" {
		t.Errorf("inner chain sees %s, want tenant-b", tc.TenantID)
	}
	if tc, _ := FromContext(outer); tc.TenantID != "tenant-a" {
		t.Errorf("outer chain sees %s, want tenant-a", tc.TenantID)
	}
}

func TestNoBleedAcrossConcurrentOperations(t *testing.T) {
	tenants := []string{"tenant-a", "tenant-b", "tenant-c", "tenant-d"}

	var wg sync.WaitGroup
	errCh := make(chan error, len(tenants)*50)

	for _, id := range tenants {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				err := Run(context.Background(), NewAPIKeyContext(id), func(ctx context.Context) error {
					observe := func(ctx context.Context) error {
						tc, err := FromContext(ctx)
						if err != nil {
							return err
						}
						if tc.TenantID != id {
							return errors.New("observed " + tc.TenantID + ", want " + id)
						}
						return nil
					}
					// Nested call and spawned goroutine both observe
					// the identity active at their call site.
					if err := observe(ctx); err != nil {
						return err
					}
					done := make(chan error, 1)
					go func() { done <- observe(ctx) }()
					return <-done
				})
				if err != nil {
					errCh <- err
				}
			}(id)
		}
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

func TestRunPropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := Run(context.Background(), NewAPIKeyContext("tenant-a"), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Run returned %v, want %v", err, want)
	}

	err = Run(context.Background(), &TenantContext{}, func(context.Context) error {
		t.Error("fn ran with an invalid context")
		return nil
	})
	if !errors.Is(err, ErrContextInvalid) {
		t.Errorf("Run returned %v, want ErrContextInvalid", err)
	}
}

func TestSystemContext(t *testing.T) {
	ctx := WithSystemContext(context.Background())

	tc, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("FromContext failed: %v", err)
	}
	if tc.TenantID != SystemTenantID {
		t.Errorf("tenant id = %s, want %s", tc.TenantID, SystemTenantID)
	}
	if tc.UserID != "" {
		t.Error("system context carries a user id")
	}
	if !IsSystemContext(ctx) {
		t.Error("IsSystemContext = false")
	}
	if IsSuperAdminContext(ctx) {
		t.Error("system context reported as super-admin")
	}
	if !tc.Bypass() {
		t.Error("system context does not bypass")
	}
}

func TestRunAsSystem(t *testing.T) {
	ran := false
	err := RunAsSystem(context.Background(), func(ctx context.Context) error {
		ran = true
		if !IsSystemContext(ctx) {
			t.Error("fn did not observe the system identity")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunAsSystem failed: %v", err)
	}
	if !ran {
		t.Fatal("fn never ran")
	}
}

func TestNewSuperAdminContext(t *testing.T) {
	t.Run("requires acting admin", func(t *testing.T) {
		_, err := NewSuperAdminContext("tenant-a", "")
		if !errors.Is(err, ErrContextInvalid) {
			t.Errorf("expected ErrContextInvalid, got %v", err)
		}
	})

	t.Run("stamps elevation audit metadata", func(t *testing.T) {
		tc, err := NewSuperAdminContext("tenant-a", "admin-1")
		if err != nil {
			t.Fatalf("NewSuperAdminContext failed: %v", err)
		}
		if !tc.IsSuperAdmin {
			t.Error("IsSuperAdmin = false")
		}
		if tc.IsSystem() {
			t.Error("super-admin context reported as system")
		}
		if !tc.Bypass() {
			t.Error("super-admin context does not bypass")
		}
		if _, ok := tc.Metadata["elevated_at"]; !ok {
			t.Error("elevated_at not stamped")
		}

		ctx, err := WithContext(context.Background(), tc)
		if err != nil {
			t.Fatalf("WithContext failed: %v", err)
		}
		if !IsSuperAdminContext(ctx) {
			t.Error("IsSuperAdminContext = false")
		}
		if IsSystemContext(ctx) {
			t.Error("super-admin context detected as system")
		}
	})
}

func TestTenantUUID(t *testing.T) {
	tc := NewAPIKeyContext("33333333-3333-3333-3333-333333333333")
	id, err := tc.TenantUUID()
	if err != nil {
		t.Fatalf("TenantUUID failed: %v", err)
	}
	if id.String() != tc.TenantID {
		t.Errorf("uuid = %s, want %s", id, tc.TenantID)
	}

	if _, err := NewSystemContext().TenantUUID(); err == nil {
		t.Error("system sentinel parsed as uuid")
	}
}
