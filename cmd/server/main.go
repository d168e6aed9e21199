package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/semaphore"

	"blob-vault/internal/api"
	"blob-vault/internal/blob"
	"blob-vault/internal/config"
	"blob-vault/internal/email"
	"blob-vault/internal/hub"
	"blob-vault/internal/middleware"
	"blob-vault/internal/storage"
	"blob-vault/internal/store"
	"blob-vault/internal/worker"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	slog.Info("Starting Blob Vault", "env", cfg.AppEnv)

	ctx := context.Background()

	// 1. Metadata store
	st, err := store.New(cfg.MetaDriver, cfg.MetaDSN)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	if err := st.InitSchema(ctx); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Metadata database connected", "driver", cfg.MetaDriver)

	// 2. Blob backend
	blobs, cleanup, err := newBlobStore(ctx, cfg, st)
	if err != nil {
		slog.Error("Failed to initialize blob backend", "backend", cfg.BlobBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.Info("Blob backend ready", "backend", blobs.Name())

	// 3. Report artifact storage + notifications
	provider, err := newStorageProvider(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize artifact storage", "type", cfg.StorageType, "error", err)
		os.Exit(1)
	}
	emailer := newEmailSender(cfg)

	// 4. Dashboard hub and the shared cursor gate
	h := hub.NewHub()
	cursorSem := semaphore.NewWeighted(cfg.MaxCursorConcurrency)

	// 5. Report worker pool
	pool := worker.NewPool(cfg.WorkerCount, cursorSem, st.DB(), provider, emailer, h, cfg.Compression, cfg.AttachReport)
	pool.Start()
	defer pool.Stop()

	// 6. Handlers, routes and middleware
	handler := api.NewHandler(st, blobs, h, pool, cursorSem)
	handler.JWTSecret = cfg.JWTSecret
	handler.APISecret = cfg.APISecret
	handler.ReportTimeout = cfg.ReportTimeout

	auth := middleware.RequireJWT(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.Handle("/files", auth(http.HandlerFunc(handler.HandleFiles)))
	mux.Handle("/files/", auth(http.HandlerFunc(handler.HandleFile)))
	mux.HandleFunc("/auth/register", handler.HandleRegister)
	mux.HandleFunc("/auth/login", handler.HandleLogin)
	mux.Handle("/auth/keys/create", auth(http.HandlerFunc(handler.HandleCreateKey)))
	mux.Handle("/auth/keys/list", auth(http.HandlerFunc(handler.HandleListKeys)))
	mux.HandleFunc("/admin/report", handler.HandleReport)
	mux.HandleFunc("/jobs", handler.HandleJob)
	mux.HandleFunc("/dashboard/stream", handler.HandleDashboard)

	finalHandler := middleware.CORS(cfg.AllowedOrigins, cfg.AppEnv)(mux)

	server := &http.Server{Addr: ":" + cfg.ServerPort, Handler: finalHandler}

	go func() {
		slog.Info("Vault listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down...")
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config, st *store.Store) (blob.Store, func(), error) {
	noop := func() {}

	switch cfg.BlobBackend {
	case "postgres":
		if cfg.MetaDriver != "postgres" {
			return nil, noop, fmt.Errorf("postgres blob backend requires META_DRIVER=postgres")
		}
		return blob.NewPostgresStore(st.DB()), noop, nil

	case "mysql":
		if cfg.MetaDriver != "mysql" {
			return nil, noop, fmt.Errorf("mysql blob backend requires META_DRIVER=mysql")
		}
		s := blob.NewMySQLStore(st.DB())
		if err := s.InitSchema(ctx); err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case "gridfs":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, noop, fmt.Errorf("mongo connect failed: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, noop, fmt.Errorf("mongo ping failed: %w", err)
		}
		s, err := blob.NewGridFSStore(client.Database(cfg.MongoDatabase))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = client.Disconnect(context.Background()) }, nil

	case "memory":
		slog.Warn("Memory blob backend selected; content is not persisted")
		return blob.NewMemoryStore(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func newStorageProvider(ctx context.Context, cfg *config.Config) (storage.Provider, error) {
	if cfg.StorageType != "s3" {
		return storage.NewLocalProvider(cfg.LocalStoragePath), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("aws config failed: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return storage.NewS3Provider(client, cfg.S3Bucket), nil
}

func newEmailSender(cfg *config.Config) email.Sender {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP not configured; report notifications are logged only")
		return email.NewLogSender()
	}
	return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
}
