package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"blob-vault/internal/blob"
	"blob-vault/internal/config"
	"blob-vault/internal/store"
)

const seedCount = 200

var contentTypes = []string{
	"text/plain",
	"application/pdf",
	"image/png",
	"application/zip",
	"application/octet-stream",
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg := config.Load()
	ctx := context.Background()

	st, err := store.New(cfg.MetaDriver, cfg.MetaDSN)
	if err != nil {
		slog.Error("Failed to open metadata database", "error", err)
		os.Exit(1)
	}

	// Wait for DB to be ready
	for i := 0; i < 30; i++ {
		if err := st.DB().Ping(); err == nil {
			break
		}
		slog.Info("Waiting for database...", "attempt", i+1)
		time.Sleep(1 * time.Second)
	}

	if err := st.InitSchema(ctx); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}

	var blobs blob.Store
	switch cfg.BlobBackend {
	case "postgres":
		blobs = blob.NewPostgresStore(st.DB())
	case "mysql":
		s := blob.NewMySQLStore(st.DB())
		if err := s.InitSchema(ctx); err != nil {
			slog.Error("Blob schema failed", "error", err)
			os.Exit(1)
		}
		blobs = s
	default:
		slog.Error("Seeding requires a SQL blob backend", "backend", cfg.BlobBackend)
		os.Exit(1)
	}

	slog.Info("Seeding files...", "count", seedCount, "backend", blobs.Name())
	start := time.Now()

	for i := 0; i < seedCount; i++ {
		// Sizes from 1KB to ~2MB, skewed small like real uploads.
		size := 1024 + rand.Intn(64*1024)
		if rand.Intn(10) == 0 {
			size = 256*1024 + rand.Intn(2*1024*1024)
		}

		content := bytes.Repeat([]byte{byte('a' + i%26)}, size)
		key, n, err := blobs.Create(ctx, bytes.NewReader(content))
		if err != nil {
			slog.Error("Blob write failed", "index", i, "error", err)
			os.Exit(1)
		}

		meta := &store.FileMeta{
			ID:          uuid.New().String(),
			Name:        fmt.Sprintf("seed_%04d.bin", i),
			ContentType: contentTypes[i%len(contentTypes)],
			Size:        n,
			BlobKey:     key,
			Backend:     blobs.Name(),
		}
		if err := st.CreateFile(ctx, meta); err != nil {
			slog.Error("File insert failed", "index", i, "error", err)
			os.Exit(1)
		}

		if (i+1)%50 == 0 {
			slog.Info("Progress", "seeded", i+1)
		}
	}

	slog.Info("Seed complete", "count", seedCount, "duration", time.Since(start))
}
