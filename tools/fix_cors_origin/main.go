// Command fix_cors_origin appends a web origin to an application's allowed
// origin list, for patching a client's CORS config without a migration.
// Origins are scoped per OAuth application (applications.web_origins), so
// the target is addressed by client_id.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// usage: go run ./tools/fix_cors_origin <DSN> <client_id> <origin>
func main() {
	if len(os.Args) < 4 {
		log.Fatal("usage: go run ./tools/fix_cors_origin <DSN> <client_id> <origin>")
	}
	dsn, clientID, origin := os.Args[1], os.Args[2], os.Args[3]

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	var currentOrigins []string
	err = pool.QueryRow(ctx, "SELECT web_origins FROM applications WHERE client_id = $1", clientID).Scan(&currentOrigins)
	if err != nil {
		log.Fatalf("failed to fetch application: %v", err)
	}
	fmt.Printf("current web origins: %v\n", currentOrigins)

	for _, o := range currentOrigins {
		if o == origin {
			fmt.Println("origin already present, no changes needed")
			return
		}
	}

	fmt.Printf("origin %s not found, adding\n", origin)
	_, err = pool.Exec(ctx, "UPDATE applications SET web_origins = array_append(web_origins, $1) WHERE client_id = $2", origin, clientID)
	if err != nil {
		log.Fatalf("failed to update application: %v", err)
	}
	fmt.Println("origin added")
}
