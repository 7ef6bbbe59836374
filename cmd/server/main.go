package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gridline/extractor/internal/api"
	"github.com/gridline/extractor/internal/archive"
	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/storage"
	"github.com/gridline/extractor/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

// connectRedis dials the snapshot store backend. Progress snapshots degrade
// to broadcast-only when Redis is unreachable, so failures are warnings.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = cfg.Addr
	}
	if addr == "" {
		log.Println("Redis not configured (REDIS_URL and redis.addr unset) - progress snapshots disabled")
		return nil
	}

	var client *redis.Client
	if opts, err := redis.ParseURL(addr); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed (%s): %v - progress snapshots disabled", addr, err)
		client.Close()
		return nil
	}
	log.Printf("Redis connected: %s (progress snapshots enabled)", addr)
	return client
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  GRIDLINE Extractor Server (cmd/server/main.go)            ║")
	log.Println("║  AI-assisted spreadsheet extraction API                    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// Working directories must exist before SQLite and uploads touch them.
	dirs := []string{cfg.Uploads.UploadDir, cfg.Uploads.HistoryDir}
	if cfg.Database.Driver == storage.DriverSQLite {
		dirs = append(dirs, filepath.Dir(cfg.Database.DSN))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureCoreSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure core schema: %v", err)
	}
	log.Printf("Database ready (driver: %s)", cfg.Database.Driver)

	engine := storage.NewEngine(db)

	// Redis-backed progress snapshots (optional)
	redisClient := connectRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}
	snapshots := progress.NewStore(redisClient)
	events := progress.NewBroadcaster()

	// Batch archiver: local history directory, plus S3 when configured
	archiver, err := archive.New(ctx, cfg.Uploads.HistoryDir, cfg.Archive)
	if err != nil {
		log.Fatalf("Failed to initialize archiver: %v", err)
	}
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" {
		log.Printf("Batch archive: %s + s3://%s", cfg.Uploads.HistoryDir, cfg.Archive.S3Bucket)
	} else {
		log.Printf("Batch archive: %s (S3 upload disabled)", cfg.Uploads.HistoryDir)
	}

	// Extraction service and HTTP layer
	service := worker.NewService(db, engine, archiver, events, snapshots, cfg.AI)
	handlers := api.NewHandlers(db, engine, service, events, snapshots, redisClient, cfg.Uploads.UploadDir, cfg.AI)
	server := api.NewServer(handlers)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized - server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop accepting work, then drain in-flight requests
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
