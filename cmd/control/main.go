// Command control is an operator CLI for tasks that don't warrant an admin
// API round trip: seeding a root tenant, resetting a locked-out user's
// password, or inspecting a user's tenant membership.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: control <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  create-tenant   Create a new root tenant")
		fmt.Println("  reset-password  Reset a user's password by email")
		fmt.Println("  check-user      Inspect a user's membership in a tenant")
		fmt.Println("  fix-membership  Grant a user admin membership in a tenant")
		os.Exit(1)
	}

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer pool.Close()
	db := store.New(pool)

	switch os.Args[1] {
	case "create-tenant":
		createTenantCmd(db)
	case "reset-password":
		resetPasswordCmd(db)
	case "check-user":
		checkUserCmd(db)
	case "fix-membership":
		fixMembershipCmd(db)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func createTenantCmd(db *store.Queries) {
	fs := flag.NewFlagSet("create-tenant", flag.ExitOnError)
	name := fs.String("name", "", "Tenant name")
	slug := fs.String("slug", "", "URL slug")
	accountType := fs.String("account-type", string(store.AccountTypeBusiness), "Account type")
	fs.Parse(os.Args[2:])

	if *name == "" || *slug == "" {
		fmt.Println("Error: --name and --slug are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	repo := identity.New(db, passwordhash.New(passwordhash.DefaultParams))
	tenant, err := repo.CreateRootTenant(context.Background(), identity.NormalizeSlug(*slug), *name, store.AccountType(*accountType), store.IsolationShared)
	if err != nil {
		log.Fatalf("failed to create tenant: %v", err)
	}

	fmt.Printf("tenant created: id=%s slug=%s name=%s\n", tenant.ID, tenant.Slug, tenant.Name)
}

func resetPasswordCmd(db *store.Queries) {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	email := fs.String("email", "", "User email")
	password := fs.String("password", "", "New password")
	fs.Parse(os.Args[2:])

	if *email == "" || *password == "" {
		fmt.Println("Error: --email and --password are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	user, err := db.GetUserByEmail(context.Background(), identity.NormalizeEmail(*email))
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}

	hash, err := passwordhash.New(passwordhash.DefaultParams).Hash(*password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	if err := db.UpdateUserPassword(context.Background(), user.ID, hash); err != nil {
		log.Fatalf("failed to update password: %v", err)
	}

	fmt.Printf("password reset for %s\n", *email)
}

func checkUserCmd(db *store.Queries) {
	fs := flag.NewFlagSet("check-user", flag.ExitOnError)
	email := fs.String("email", "", "User email")
	tenant := fs.String("tenant", "", "Tenant ID (UUID)")
	fs.Parse(os.Args[2:])

	if *email == "" || *tenant == "" {
		fmt.Println("Error: --email and --tenant are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Fatalf("invalid tenant id: %v", err)
	}

	user, err := db.GetUserByEmail(context.Background(), identity.NormalizeEmail(*email))
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}
	fmt.Printf("user found: id=%s email=%s email_verified=%v mfa_enabled=%v\n", user.ID, user.Email, user.EmailVerified, user.MFAEnabled)

	t, err := db.GetTenantByID(context.Background(), tenantID)
	if err != nil {
		fmt.Printf("warning: tenant %s does not exist: %v\n", tenantID, err)
		return
	}

	member, err := db.GetMembership(context.Background(), user.ID, t.ID)
	if err != nil {
		fmt.Printf("no membership found for tenant %s (%s): %v\n", t.Name, t.Slug, err)
		return
	}
	fmt.Printf("membership found: tenant=%s role=%s\n", t.Slug, member.Role)
}

func fixMembershipCmd(db *store.Queries) {
	fs := flag.NewFlagSet("fix-membership", flag.ExitOnError)
	email := fs.String("email", "", "User email")
	tenant := fs.String("tenant", "", "Tenant ID (UUID)")
	role := fs.String("role", "admin", "Role to grant")
	fs.Parse(os.Args[2:])

	if *email == "" || *tenant == "" {
		fmt.Println("Error: --email and --tenant are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Fatalf("invalid tenant id: %v", err)
	}

	user, err := db.GetUserByEmail(context.Background(), identity.NormalizeEmail(*email))
	if err != nil {
		log.Fatalf("user not found: %v", err)
	}

	if _, err := db.CreateMembership(context.Background(), user.ID, tenantID, *role); err != nil {
		log.Fatalf("failed to create membership: %v", err)
	}

	fmt.Printf("membership granted: user=%s tenant=%s role=%s\n", *email, tenantID, *role)
}
