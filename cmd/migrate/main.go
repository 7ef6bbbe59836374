package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/storage"
)

// The core schema is code-defined and idempotent; running this binary applies
// it and reports what exists. Per-project records tables are created by the
// extraction service at run time, never here.
func main() {
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		}
	}

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Ping(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Printf("Connected to database (driver: %s)", cfg.Database.Driver)

	if listOnly {
		listTables(ctx, db, cfg.Database.Driver)
		return
	}

	if err := db.EnsureCoreSchema(ctx); err != nil {
		log.Fatalf("ensure core schema: %v", err)
	}
	for _, table := range []string{"projects", "project_fields", "processing_tasks", "ai_configs", "batches"} {
		ok, err := db.TableExists(ctx, table)
		if err != nil {
			log.Fatalf("check %s: %v", table, err)
		}
		status := "MISSING"
		if ok {
			status = "OK"
		}
		fmt.Printf("  %-20s %s\n", table, status)
	}
	log.Println("Migrations complete")
}

func listTables(ctx context.Context, db *storage.DB, driver string) {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	if driver == storage.DriverPostgres {
		query = "SELECT tablename FROM pg_tables WHERE schemaname='public' ORDER BY tablename"
	}
	rows, err := db.Query(ctx, query)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			log.Fatal(err)
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
}
