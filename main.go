package main

import (
	"context"
	"log"
	"net/http"

	"github.com/cactuscomply/tpt-rates/internal/config"
	"github.com/cactuscomply/tpt-rates/internal/db"
	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/cactuscomply/tpt-rates/internal/middleware"
	"github.com/cactuscomply/tpt-rates/internal/rates"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	log.Println("Connected to database")

	store := ingest.NewGormStore(conn)
	if err := rates.Init(context.Background(), store, cfg.SeedCounties); err != nil {
		log.Fatal("Failed to initialize rate tables: ", err)
	}

	h := rates.NewHandler(store, cfg.BatchSize, cfg.MaxUploadBytes)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Throttle(25, 50))
	r.Mount("/", rates.SetupRoutes(h))

	log.Printf("Server listening on port :%s...", cfg.Port)

	if err := http.ListenAndServe("0.0.0.0:"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
