package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/cactuscomply/tpt-rates/internal/db"
	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/joho/godotenv"
)

func main() {
	var dbURL = flag.String("db", "", "DATABASE_URL")
	flag.Parse()

	_ = godotenv.Load(".env.local")
	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := db.Connect(dsn)
	if err != nil {
		log.Fatal(err)
	}

	store := ingest.NewGormStore(conn)
	if err := store.Migrate(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	resolver, err := ingest.NewResolver(ctx, store)
	if err != nil {
		log.Fatal(err)
	}

	created, err := resolver.SeedCounties(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("seeded %d county jurisdictions", created)

	if missing := resolver.MissingCounties(); len(missing) > 0 {
		log.Printf("still missing counties: %v", missing)
	}
}
