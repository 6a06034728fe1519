package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Table describes one table to the isolation layer. TenantColumn empty means
// the table is deliberately global and tenant filtering does not apply.
type Table struct {
	Name             string
	PK               string
	TenantColumn     string
	SoftDeleteColumn string
}

func (t Table) TenantScoped() bool { return t.TenantColumn != "" }

// The registry below is the closed set of tables this service touches.
// Declaring a table here is what authorizes the isolation layer to query it;
// a tenant-scoped declaration missing its column in the schema fails startup.
var (
	TableTenants = Table{Name: "tenants", PK: "id"}

	TableOrganizations = Table{Name: "organizations", PK: "id", TenantColumn: "tenant_id"}

	TableProjects = Table{Name: "projects", PK: "id", TenantColumn: "tenant_id", SoftDeleteColumn: "deleted_at"}

	TableMemberships = Table{Name: "memberships", PK: "id", TenantColumn: "tenant_id"}

	// rate_limits carries tenant_id as part of its natural key; the rate
	// limit store manages it with its own transactional SQL.
	TableRateLimits = Table{Name: "rate_limits", PK: "id", TenantColumn: "tenant_id"}
)

var registry = []Table{
	TableTenants,
	TableOrganizations,
	TableProjects,
	TableMemberships,
	TableRateLimits,
}

// VerifyTables asserts at startup that every registered tenant-scoped table
// actually has its tenant column, so a schema drift cannot silently turn
// into unfiltered queries. Global tables are called out at Warn.
func VerifyTables(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	for _, t := range registry {
		if !t.TenantScoped() {
			logger.Warn("table is global, tenant filtering does not apply",
				zap.String("table", t.Name))
			continue
		}

		var exists bool
		err := db.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM information_schema.columns
			   WHERE table_name = $1 AND column_name = $2
			 )`,
			t.Name, t.TenantColumn,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("verify table %s: %w", t.Name, err)
		}
		if !exists {
			return fmt.Errorf("table %s is declared tenant-scoped but column %s is missing", t.Name, t.TenantColumn)
		}
	}
	return nil
}
