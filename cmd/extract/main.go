package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/gridline/extractor/internal/archive"
	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/storage"
	"github.com/gridline/extractor/internal/worker"
)

// extract runs a single extraction task headless and streams its progress
// events to stdout as JSON lines. The exit code reflects the task outcome.
func main() {
	var (
		projectID = flag.Int64("project", 0, "project ID (required)")
		files     = flag.String("files", "", "comma-separated workbook paths (required)")
		configID  = flag.Int64("config", 0, "stored AI config ID (0 = default config)")
		taskID    = flag.String("task", "", "task ID (default: random UUID)")
	)
	flag.Parse()

	var paths []string
	for _, p := range strings.Split(*files, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if *projectID <= 0 || len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dirs := []string{cfg.Uploads.HistoryDir}
	if cfg.Database.Driver == storage.DriverSQLite {
		dirs = append(dirs, filepath.Dir(cfg.Database.DSN))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create directory %s: %v", dir, err)
		}
	}

	ctx := context.Background()

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureCoreSchema(ctx); err != nil {
		log.Fatalf("ensure core schema: %v", err)
	}

	archiver, err := archive.New(ctx, cfg.Uploads.HistoryDir, cfg.Archive)
	if err != nil {
		log.Fatalf("init archiver: %v", err)
	}

	engine := storage.NewEngine(db)
	events := progress.NewBroadcaster()
	service := worker.NewService(db, engine, archiver, events, progress.NewStore(nil), cfg.AI)

	id := *taskID
	if id == "" {
		id = uuid.New().String()
	}

	// Subscribe before starting so no event is missed.
	ch, cancelSub := events.Subscribe(id)
	defer cancelSub()

	task, err := service.Start(ctx, worker.StartRequest{
		ProjectID:  *projectID,
		FilePaths:  paths,
		AIConfigID: *configID,
		TaskID:     id,
	})
	if err != nil {
		log.Fatalf("start task: %v", err)
	}
	log.Printf("task %s started: project %d, %d file(s)", task.ID, task.ProjectID, task.TotalFiles)

	// Ctrl-C requests a cooperative cancel; the stream still ends with the
	// terminal event so partial counts are reported.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("task %s: cancel requested", task.ID)
		if _, err := service.Cancel(ctx, task.ID); err != nil {
			log.Printf("cancel: %v", err)
		}
	}()

	for evt := range ch {
		line, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Println(string(line))

		if evt.Event != progress.EventCompleted {
			continue
		}
		if evt.Success != nil && *evt.Success {
			log.Printf("task %s completed: %d rows processed, %d ok, %d failed",
				task.ID, evt.ProcessedRows, evt.SuccessCount, evt.ErrorCount)
			return
		}
		log.Printf("task %s did not complete: %s", task.ID, evt.Message)
		os.Exit(1)
	}

	// Channel closed without a terminal event; treat as failure.
	log.Printf("task %s: event stream ended unexpectedly", task.ID)
	os.Exit(1)
}
