//go:build ignore
// +build ignore

// Seeds a demo extraction project with the standard contact schema so a
// fresh install has something to upload against.
//
// Usage:
//   go run scripts/seed_demo_project.go \
//     --config=config/config.yaml \
//     --name="演示项目"
//
// An OPENAI_API_KEY in the environment additionally registers a default
// model endpoint pointing at api.openai.com.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/schema"
	"github.com/gridline/extractor/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	name := flag.String("name", "演示项目", "project name to create")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.EnsureCoreSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	projects := schema.NewProjectService(db, storage.NewEngine(db))
	fields := schema.NewFieldService(db, storage.NewEngine(db))

	if existing, err := projects.GetByName(ctx, *name); err != nil {
		log.Fatalf("lookup project: %v", err)
	} else if existing != nil {
		log.Printf("project %q already exists (id=%d), nothing to do", *name, existing.ID)
		return
	}

	project, err := projects.Create(ctx, schema.CreateProjectRequest{
		Name:          *name,
		Description:   "自动生成的演示项目",
		DedupEnabled:  true,
		DedupFields:   []string{"phone"},
		DedupStrategy: storage.DedupSkip,
	})
	if err != nil {
		log.Fatalf("create project: %v", err)
	}

	seedFields := []schema.CreateFieldRequest{
		{Name: "name", Label: "姓名", Type: "text", Required: true,
			ExtractionHint: "person or contact name"},
		{Name: "phone", Label: "电话", Type: "phone", Required: true, DedupKey: true,
			ExtractionHint: "mobile or landline number"},
		{Name: "email", Label: "邮箱", Type: "email",
			ExtractionHint: "email address"},
		{Name: "company", Label: "公司", Type: "text",
			ExtractionHint: "employer or organization"},
	}
	for _, req := range seedFields {
		if _, err := fields.Create(ctx, project.ID, req); err != nil {
			log.Fatalf("create field %s: %v", req.Name, err)
		}
	}

	log.Printf("seeded project %q (id=%d) with %d fields", project.Name, project.ID, len(seedFields))

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		configs := schema.NewAIConfigService(db)
		cfg, err := configs.Create(ctx, schema.CreateAIConfigRequest{
			Name:      "openai",
			APIURL:    "https://api.openai.com/v1/chat/completions",
			ModelName: "gpt-4o-mini",
			APIKey:    key,
			IsDefault: true,
		})
		if err != nil {
			log.Fatalf("create model endpoint: %v", err)
		}
		log.Printf("registered default model endpoint %q (id=%d)", cfg.Name, cfg.ID)
	}
}
