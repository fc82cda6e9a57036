// Command create_tenants seeds a handful of development tenants plus one
// admin user per tenant, so a fresh database has something to log into
// without hand-crafting rows. Tenant slugs come from a flag, not a
// hardcoded list, so any environment can seed its own set.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/store"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	slugsFlag := flag.String("slugs", "acme,globex", "comma-separated tenant slugs to seed")
	adminEmailDomain := flag.String("email-domain", "example.com", "domain used for each tenant's seeded admin")
	adminPassword := flag.String("password", "ChangeMe123!", "password assigned to each seeded admin")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	db := store.New(pool)
	hasher := passwordhash.New(passwordhash.DefaultParams)
	repo := identity.New(db, hasher)

	hash, err := hasher.Hash(*adminPassword)
	if err != nil {
		log.Fatalf("failed to hash seed password: %v", err)
	}

	for _, raw := range strings.Split(*slugsFlag, ",") {
		slug := identity.NormalizeSlug(raw)
		if slug == "" {
			continue
		}

		existing, err := repo.GetTenantBySlug(ctx, slug)
		if err == nil {
			log.Printf("tenant %q already exists (id=%s), skipping", slug, existing.ID)
			continue
		}

		tenant, err := repo.CreateRootTenant(ctx, slug, capitalize(slug), store.AccountTypeBusiness, store.IsolationShared)
		if err != nil {
			log.Printf("failed to create tenant %q: %v", slug, err)
			continue
		}
		log.Printf("tenant created: slug=%s id=%s", tenant.Slug, tenant.ID)

		email := identity.NormalizeEmail("admin@" + slug + "." + *adminEmailDomain)
		user, err := db.CreateUser(ctx, store.CreateUserParams{
			ID:              uuid.New(),
			Email:           email,
			PasswordHash:    &hash,
			DefaultTenantID: &tenant.ID,
		})
		if err != nil {
			log.Printf("failed to create admin user for %q: %v", slug, err)
			continue
		}

		if _, err := db.CreateMembership(ctx, user.ID, tenant.ID, "admin"); err != nil {
			log.Printf("failed to grant admin membership for %q: %v", slug, err)
			continue
		}

		log.Printf("admin seeded: tenant=%s email=%s", slug, email)
	}

	log.Println("seeding complete")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
