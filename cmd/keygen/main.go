// Command keygen forces a signing-key rotation outside keymanager's normal
// lifecycle (first boot, or a 24h-interval background rotation if one is
// wired up by the operator). Keys are generated and sealed by
// internal/keymanager itself; this command just triggers that path on
// demand, e.g. after a suspected key compromise.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/keymanager"
	"github.com/lavente-care/ciam/internal/sealedbox"
	"github.com/lavente-care/ciam/internal/store"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}
	if cfg.SealKeyHex == "" {
		log.Fatal("SEAL_KEY_HEX environment variable is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer pool.Close()

	box, err := sealedbox.New(cfg.SealKeyHex)
	if err != nil {
		log.Fatalf("failed to init sealedbox: %v", err)
	}

	db := store.New(pool)
	keys := keymanager.New(db, box, 24*time.Hour)

	if err := keys.Bootstrap(ctx); err != nil {
		log.Fatalf("failed to bootstrap current key: %v", err)
	}

	kid, err := keys.Rotate(ctx)
	if err != nil {
		log.Fatalf("failed to rotate signing key: %v", err)
	}

	log.Printf("rotated signing key: new kid=%s", kid)
	os.Exit(0)
}
