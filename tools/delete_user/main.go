// Command delete_user removes a user and their tenant memberships, for
// clearing a broken registration during local development.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load()
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	if len(os.Args) < 2 {
		log.Fatal("usage: go run ./tools/delete_user <email>")
	}
	email := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	fmt.Printf("attempting to delete user: %s\n", email)

	tx, err := conn.Begin(ctx)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, "SELECT id FROM users WHERE email = $1", email).Scan(&userID)
	if err == pgx.ErrNoRows {
		fmt.Println("user not found, nothing to delete")
		return
	} else if err != nil {
		log.Fatalf("error finding user: %v", err)
	}
	fmt.Printf("found user id: %s\n", userID)

	if _, err := tx.Exec(ctx, "DELETE FROM tenant_members WHERE user_id = $1", userID); err != nil {
		log.Fatalf("failed to delete tenant_members: %v", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM refresh_tokens WHERE user_id = $1", userID); err != nil {
		log.Fatalf("failed to delete refresh_tokens: %v", err)
	}

	cmdTag, err := tx.Exec(ctx, "DELETE FROM users WHERE email = $1", email)
	if err != nil {
		log.Fatalf("failed to delete user: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("failed to commit transaction: %v", err)
	}

	fmt.Printf("deleted user: %s (rows affected: %d)\n", email, cmdTag.RowsAffected())
}
