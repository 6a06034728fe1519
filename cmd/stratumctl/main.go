package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/api/middleware"
	"github.com/stratumkit/stratum/internal/buildconfig"
	"github.com/stratumkit/stratum/internal/config"
	"github.com/stratumkit/stratum/internal/service"
	"github.com/stratumkit/stratum/internal/store"
	migrations "github.com/stratumkit/stratum/migrations/postgres"
)

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	dbURL := config.DatabaseURL()
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func main() {
	_ = config.Load()
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	root := &cobra.Command{
		Use:   "stratumctl",
		Short: "Operator tooling for the stratum control plane",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			return store.Migrate(ctx, pool, migrations.FS, logger)
		},
	}

	tenantCmd := &cobra.Command{Use: "tenant", Short: "Tenant administration"}

	var createName, createSlug string
	var createMaxProjects, createMaxMembers int
	tenantCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a tenant and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if createName == "" || createSlug == "" {
				return fmt.Errorf("--name and --slug are required")
			}
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := service.NewTenantService(store.NewTenantStore(pool), logger)
			tenant, apiKey, err := svc.Create(ctx, createName, createSlug, createMaxProjects, createMaxMembers)
			if err != nil {
				return err
			}
			fmt.Printf("Tenant ID: %s\n", tenant.ID)
			fmt.Printf("API Key:   %s\n", apiKey)
			fmt.Println("(Save this API key - it cannot be retrieved later)")
			return nil
		},
	}
	tenantCreateCmd.Flags().StringVar(&createName, "name", "", "Tenant display name")
	tenantCreateCmd.Flags().StringVar(&createSlug, "slug", "", "Unique tenant slug")
	tenantCreateCmd.Flags().IntVar(&createMaxProjects, "max-projects", 0, "Project quota (0 = default)")
	tenantCreateCmd.Flags().IntVar(&createMaxMembers, "max-members", 0, "Member quota (0 = default)")

	tokenCmd := &cobra.Command{Use: "token", Short: "Bearer token utilities"}

	var mintTenant, mintUser, mintOrg string
	var mintSuperAdmin bool
	var mintTTL time.Duration
	tokenMintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := config.JWTSecret()
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			if mintTenant == "" || mintUser == "" {
				return fmt.Errorf("--tenant and --user are required")
			}
			if _, err := uuid.Parse(mintTenant); err != nil {
				return fmt.Errorf("--tenant must be a UUID: %w", err)
			}
			token, err := middleware.MintToken([]byte(secret), mintTenant, mintUser, mintOrg, mintSuperAdmin, mintTTL)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tokenMintCmd.Flags().StringVar(&mintTenant, "tenant", "", "Tenant ID (UUID)")
	tokenMintCmd.Flags().StringVar(&mintUser, "user", "", "User ID (subject claim)")
	tokenMintCmd.Flags().StringVar(&mintOrg, "org", "", "Organization ID (optional)")
	tokenMintCmd.Flags().BoolVar(&mintSuperAdmin, "super-admin", false, "Grant the audited cross-tenant claim")
	tokenMintCmd.Flags().DurationVar(&mintTTL, "ttl", 24*time.Hour, "Token lifetime")

	ratelimitCmd := &cobra.Command{Use: "ratelimit", Short: "Rate limit maintenance"}

	var cleanupRetention time.Duration
	ratelimitCleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep expired rate limit records once",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			cleanup := service.NewCleanupService(store.NewRateLimitStore(pool, logger), logger)
			cleanup.SetRetention(cleanupRetention)
			deleted, err := cleanup.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired rate limit records\n", deleted)
			return nil
		},
	}
	ratelimitCleanupCmd.Flags().DurationVar(&cleanupRetention, "retention", config.CleanupRetention(), "How long closed windows are kept")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stratumctl %s (%s)\n", buildconfig.Version(), buildconfig.Commit())
		},
	}

	tenantCmd.AddCommand(tenantCreateCmd)
	tokenCmd.AddCommand(tokenMintCmd)
	ratelimitCmd.AddCommand(ratelimitCleanupCmd)
	root.AddCommand(migrateCmd)
	root.AddCommand(tenantCmd)
	root.AddCommand(tokenCmd)
	root.AddCommand(ratelimitCmd)
	root.AddCommand(versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
