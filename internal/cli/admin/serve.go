package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/seerstack/logseer/internal/api/handlers"
	"github.com/seerstack/logseer/internal/config"
	"github.com/seerstack/logseer/internal/database"
	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/embedcache"
	"github.com/seerstack/logseer/internal/jobs"
	"github.com/seerstack/logseer/internal/kbstore"
	"github.com/seerstack/logseer/internal/llm"
	"github.com/seerstack/logseer/internal/provider"
	"github.com/seerstack/logseer/internal/repository"
	"github.com/seerstack/logseer/internal/server"
	"github.com/seerstack/logseer/internal/service"
	"github.com/seerstack/logseer/internal/session"
	"github.com/seerstack/logseer/internal/storage"
	"github.com/seerstack/logseer/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the logseer API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if cfg.SentryDSN != "" {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	store, err := kbstore.NewStore(cfg.DataDir, cfg.IndexMemoryLimit)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	log.Printf("data directory %s ready", cfg.DataDir)

	// The embedding cache lives in Postgres when a database is configured,
	// otherwise in a JSONL journal under the data directory. Either backend
	// is fronted by an in-memory LRU.
	var cacheBackend embedcache.Store
	var dbPool *pgxpool.Pool
	var fileCache *embedcache.FileStore
	if cfg.HasDatabase() {
		dbPool, err = database.NewPool(ctx, database.Config{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()
		log.Println("connected to database")

		// Run migrations unless --no-migrate flag is set
		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			if err := runMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		cacheBackend = repository.NewCacheStore(dbPool)
	} else {
		fileCache, err = embedcache.OpenFileStore(
			filepath.Join(cfg.DataDir, "cache", "embeddings.jsonl"), cfg.CacheMaxEntries)
		if err != nil {
			return fmt.Errorf("failed to open embedding cache: %w", err)
		}
		cacheBackend = fileCache
	}
	cache := embedcache.WrapLRU(cacheBackend, cfg.CacheMemSize, cfg.CacheMemTTL)

	issueSvc, err := service.NewIssueService(store, service.UploadConfig{
		MaxBytes:    cfg.MaxUploadBytes,
		AllowedExts: cfg.LogExtensions,
	})
	if err != nil {
		return err
	}

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		issueSvc = issueSvc.WithArchiver(s3Client)
	}

	adapter, err := service.NewEmbeddingAdapter(service.EmbedConfig{
		BatchSize:   cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxAttempts,
		RetryBase:   cfg.EmbedRetryBase,
		CallTimeout: cfg.ProviderTimeout,
		Concurrency: cfg.EmbedConcurrency,
	})
	if err != nil {
		return err
	}

	providerCfg := provider.Config{
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	}
	newEmbedder := func(model domain.ModelID) (service.Embedder, error) {
		e, err := provider.New(model, providerCfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	embeddingModel, err := domain.ParseModelID(cfg.EmbeddingModel)
	if err != nil {
		return err
	}

	kbManager, err := service.NewKBManager(store, cache, adapter, newEmbedder,
		service.ChunkConfig{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		embeddingModel)
	if err != nil {
		return err
	}

	retriever, err := service.NewRetriever(store, adapter, newEmbedder, cfg.TopK)
	if err != nil {
		return err
	}
	if dbPool != nil {
		retriever = retriever.WithRetrievalLog(repository.NewRetrievalLogRepository(dbPool))
	}

	history, err := session.NewHistory(store, cfg.ChatHistoryLimit)
	if err != nil {
		return err
	}

	llmCfg := llm.Config{
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	}
	newGenerator := func(model domain.ModelID) (service.Generator, error) {
		g, err := llm.New(model, llmCfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	llmModel, err := domain.ParseModelID(cfg.LLMModel)
	if err != nil {
		return err
	}

	answerSvc, err := service.NewAnswerService(retriever, newGenerator, service.DefaultAnswerConfig(), llmModel)
	if err != nil {
		return err
	}
	answerSvc = answerSvc.WithChatHistory(history)

	queue := jobs.NewBuildQueue()
	processor := jobs.NewBuildProcessor(queue, kbManager)
	workers := jobs.NewPool(cfg.BuildWorkers, processor, cfg.WorkerPollInterval)
	workers.Start(ctx)
	log.Printf("%d build workers started", cfg.BuildWorkers)

	routerCfg := server.RouterConfig{
		IssueHandler:  handlers.NewIssueHandler(issueSvc, queue),
		LogHandler:    handlers.NewLogHandler(issueSvc),
		BuildHandler:  handlers.NewBuildHandler(queue, issueSvc, store),
		QueryHandler:  handlers.NewQueryHandler(answerSvc),
		ChatHandler:   handlers.NewChatHandler(history),
		ModelsHandler: handlers.NewModelsHandler(cfg.EmbeddingModel, cfg.LLMModel),
		MaxBodyBytes:  cfg.MaxBodyBytes,
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	workers.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if fileCache != nil {
		if err := fileCache.Close(); err != nil {
			log.Printf("failed to close embedding cache: %v", err)
		}
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL, migrationsDir string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsDir,
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
