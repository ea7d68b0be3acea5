// cmd/syncd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tbellec/medistock-be/internal/adapters/docstore"
	"github.com/tbellec/medistock-be/internal/adapters/identity"
	redis_a "github.com/tbellec/medistock-be/internal/adapters/redis_adapter"
	"github.com/tbellec/medistock-be/internal/core/services"
	"github.com/tbellec/medistock-be/internal/handlers"
	"github.com/tbellec/medistock-be/internal/handlers/middleware"
	"github.com/tbellec/medistock-be/internal/pkg/config"
	"github.com/tbellec/medistock-be/internal/pkg/logger"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
	"github.com/tbellec/medistock-be/internal/workers"
)

// Build information injected at compile time
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	slogger := logger.SetupLogger("info", "json")

	slogger.Info("starting medicine inventory sync service",
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
	)

	cfg, err := config.Load(slogger.Logger)
	if err != nil {
		slogger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slogger = logger.SetupLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	slogger.Info("configuration loaded",
		slog.String("environment", cfg.App.Environment),
		slog.String("owner_id", cfg.App.OwnerID),
	)

	ctx := context.Background()

	deps, err := initializeDependencies(ctx, cfg, slogger.Logger)
	if err != nil {
		slogger.Error("failed to initialize dependencies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer deps.cleanup()

	if err := runMigrations(ctx, cfg, slogger.Logger); err != nil {
		slogger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := setupHTTPServer(cfg, deps, slogger)
	asynqSrv, mux := setupWorker(cfg, deps, slogger.Logger)

	serverErrors := make(chan error, 2)

	go func() {
		slogger.Info("starting HTTP server", slog.String("address", cfg.GetServerAddress()))
		serverErrors <- server.ListenAndServe()
	}()

	go func() {
		slogger.Info("starting sync worker",
			slog.Int("concurrency", cfg.Asynq.Concurrency),
			slog.Any("queues", cfg.Asynq.Queues))
		serverErrors <- asynqSrv.Run(mux)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("server error", slog.String("error", err.Error()))
		}
	case sig := <-shutdown:
		slogger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	deps.scheduler.Stop()
	deps.listeners.StopAll()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
		server.Close()
	}
	asynqSrv.Shutdown()

	slogger.Info("shutdown complete")
}

// dependencies holds all application dependencies
type dependencies struct {
	database    *docstore.Database
	redisClient *redis.Client
	asynqClient *asynq.Client
	inspector   *asynq.Inspector

	syncService *services.SyncService
	scheduler   *services.SyncScheduler
	listeners   *services.ListenerManager

	medicineHandler *handlers.MedicineHandler
	aisleHandler    *handlers.AisleHandler
	historyHandler  *handlers.HistoryHandler
	syncHandler     *handlers.SyncHandler
	healthHandler   *handlers.HealthHandler
}

func (d *dependencies) cleanup() {
	if d.asynqClient != nil {
		d.asynqClient.Close()
	}
	if d.redisClient != nil {
		d.redisClient.Close()
	}
	if d.database != nil {
		d.database.Close()
	}
}

func initializeDependencies(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	slogger.Info("connecting to document store",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Name),
	)

	database, err := docstore.NewDatabase(ctx, &docstore.Config{
		Host:               cfg.Database.Host,
		Port:               cfg.Database.Port,
		User:               cfg.Database.User,
		Password:           cfg.Database.Password,
		Database:           cfg.Database.Name,
		SSLMode:            cfg.Database.SSLMode,
		MaxConnections:     cfg.Database.MaxConnections,
		MinConnections:     cfg.Database.MinConnections,
		MaxConnLifetime:    cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:    cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod:  cfg.Database.HealthCheckPeriod,
		ConnectTimeout:     cfg.Database.ConnectTimeout,
		EnableQueryLogging: cfg.Database.EnableQueryLogging,
	}, slogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.database = database

	slogger.Info("connecting to Redis", slog.String("addr", cfg.GetRedisAddress()))

	redisClient := redis.NewClient(&redis.Options{
		Addr:            cfg.GetRedisAddress(),
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		PoolTimeout:     cfg.Redis.PoolTimeout,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	deps.redisClient = redisClient

	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Asynq.RedisAddr,
		Password: cfg.Asynq.RedisPassword,
		DB:       cfg.Asynq.RedisDB,
	}
	deps.asynqClient = asynq.NewClient(asynqRedisOpt)
	deps.inspector = asynq.NewInspector(asynqRedisOpt)

	// Adapters
	store := docstore.NewPostgresStore(database, slogger)
	kv := redis_a.NewKV(redisClient, 0, slogger)
	snapshots := redis_a.NewSnapshot(kv, cfg.Sync.SnapshotMaxAge, slogger)
	cache := querycache.New(cfg.Cache.TTL, slogger)
	ident := identity.NewStatic(cfg.App.OwnerID)

	// Core services
	writer := services.NewWriteCoordinator(store, ident, slogger)
	medicines := services.NewMedicineService(store, writer, cache, snapshots, ident, slogger)
	aisles := services.NewAisleService(store, writer, cache, snapshots, ident, slogger)
	history := services.NewHistoryService(store, cache, snapshots, ident, slogger)

	deps.listeners = services.NewListenerManager(medicines, aisles, history, slogger)
	deps.syncService = services.NewSyncService(
		medicines, aisles, history,
		deps.listeners, snapshots, cache,
		cfg.Sync.HistoryRetention, slogger,
	)

	enqueuer := workers.NewAsynqEnqueuer(deps.asynqClient, slogger)
	deps.scheduler = services.NewSyncScheduler(enqueuer, deps.syncService, cfg.Sync.BackgroundInterval, slogger)

	// Handlers
	deps.medicineHandler = handlers.NewMedicineHandler(medicines, slogger)
	deps.aisleHandler = handlers.NewAisleHandler(aisles, slogger)
	deps.historyHandler = handlers.NewHistoryHandler(history, cfg.Sync.PageSize, slogger)
	deps.syncHandler = handlers.NewSyncHandler(deps.syncService, deps.scheduler, deps.listeners, slogger)
	deps.healthHandler = handlers.NewHealthHandler(database, redisClient, deps.inspector, cfg, slogger)

	slogger.Info("all dependencies initialized")
	return deps, nil
}

func setupHTTPServer(cfg *config.Config, deps *dependencies, l *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	var handler http.Handler = mux
	handler = middleware.RequestID(handler)
	handler = middleware.Logger(l)(handler)
	handler = middleware.Recovery(l.Logger)(handler)

	if cfg.Server.RateLimitRPS > 0 {
		handler = middleware.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)(handler)
	}

	return &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(l.Handler(), slog.LevelError),
	}
}

func registerRoutes(mux *http.ServeMux, deps *dependencies, cfg *config.Config) {
	apiV1 := "/api/v1"

	if cfg.Server.EnableHealthCheck {
		mux.HandleFunc("GET /health", deps.healthHandler.Health)
		mux.HandleFunc("GET /ready", deps.healthHandler.Readiness)
	}

	// Medicine endpoints
	mux.HandleFunc("GET "+apiV1+"/medicines", deps.medicineHandler.List)
	mux.HandleFunc("POST "+apiV1+"/medicines", deps.medicineHandler.Save)
	mux.HandleFunc("DELETE "+apiV1+"/medicines/{id}", deps.medicineHandler.Delete)
	mux.HandleFunc("POST "+apiV1+"/medicines/{id}/adjust", deps.medicineHandler.Adjust)

	// Aisle endpoints
	mux.HandleFunc("GET "+apiV1+"/aisles", deps.aisleHandler.List)
	mux.HandleFunc("POST "+apiV1+"/aisles", deps.aisleHandler.Save)
	mux.HandleFunc("DELETE "+apiV1+"/aisles/{id}", deps.aisleHandler.Delete)

	// History endpoints
	mux.HandleFunc("GET "+apiV1+"/history", deps.historyHandler.List)
	mux.HandleFunc("GET "+apiV1+"/history/recent", deps.historyHandler.Recent)

	// Sync and lifecycle endpoints
	mux.HandleFunc("GET "+apiV1+"/sync/status", deps.syncHandler.Status)
	mux.HandleFunc("POST "+apiV1+"/sync/force", deps.syncHandler.Force)
	mux.HandleFunc("POST "+apiV1+"/lifecycle/{event}", deps.syncHandler.Lifecycle)

	// Push listener control
	mux.HandleFunc("GET "+apiV1+"/listeners", deps.syncHandler.ListListeners)
	mux.HandleFunc("POST "+apiV1+"/listeners/{kind}", deps.syncHandler.StartListener)
	mux.HandleFunc("DELETE "+apiV1+"/listeners/{kind}", deps.syncHandler.StopListener)
}

func setupWorker(cfg *config.Config, deps *dependencies, slogger *slog.Logger) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Asynq.RedisAddr,
			Password: cfg.Asynq.RedisPassword,
			DB:       cfg.Asynq.RedisDB,
		},
		asynq.Config{
			Concurrency:     cfg.Asynq.Concurrency,
			Queues:          cfg.Asynq.Queues,
			StrictPriority:  cfg.Asynq.StrictPriority,
			ErrorHandler:    asynq.ErrorHandlerFunc(handleTaskError),
			ShutdownTimeout: cfg.Asynq.ShutdownTimeout,
			Logger:          newAsynqLogger(slogger),
		},
	)

	mux := asynq.NewServeMux()

	processor := workers.NewSyncProcessor(deps.syncService, slogger)
	mux.HandleFunc(workers.TypeSyncQuick, processor.ProcessSync)
	mux.HandleFunc(workers.TypeSyncEssential, processor.ProcessSync)
	mux.HandleFunc(workers.TypeSyncFull, processor.ProcessSync)

	return srv, mux
}

func runMigrations(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	slogger.Info("running database migrations")

	migrationConfig := &docstore.MigrationConfig{
		DatabaseURL: cfg.GetDatabaseURL(),
		TableName:   "schema_migrations",
		SchemaName:  "public",
	}

	return docstore.RunMigrationsWithRetry(ctx, migrationConfig, slogger, 3)
}

func handleTaskError(ctx context.Context, task *asynq.Task, err error) {
	slog.ErrorContext(ctx, "task processing failed",
		slog.String("type", task.Type()),
		slog.String("error", err.Error()))
}

// asynqLogger adapts slog for Asynq
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(slogger *slog.Logger) *asynqLogger {
	return &asynqLogger{
		logger: slogger.With(slog.String("component", "asynq")),
	}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
