// Command get_tenant_ids resolves tenant slugs to their UUIDs, for pasting
// into a frontend's environment config. Takes slugs as arguments rather
// than hardcoding any deployment's tenant list.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/store"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	slugs := os.Args[1:]
	if len(slugs) == 0 {
		fmt.Println("usage: get_tenant_ids <slug> [slug...]")
		os.Exit(1)
	}

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

	fmt.Println("tenant id lookup")
	fmt.Println("==================================================")
	for _, slug := range slugs {
		tenant, err := db.GetTenantBySlug(ctx, slug)
		if err != nil {
			fmt.Printf("%-20s not found (%v)\n", slug, err)
			continue
		}
		fmt.Printf("%-20s %s\n", slug, tenant.ID)
	}
	fmt.Println("==================================================")
}
