// test/helpers/helpers.go
package helpers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/adapters/docstore"
	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/pkg/config"
)

// TestDB represents a test database instance
type TestDB struct {
	PgxPool  *pgxpool.Pool
	Database *docstore.Database
	Resource *dockertest.Resource
	Pool     *dockertest.Pool
	Config   *docstore.Config
}

// TestRedis represents a test Redis instance
type TestRedis struct {
	Client *redis.Client
	Server *miniredis.Miniredis
}

// TestLogger returns a test logger
func TestLogger() *slog.Logger {
	if testing.Verbose() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// SetupTestDB creates a PostgreSQL container for integration tests
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "Could not connect to Docker")

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test_medistock",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "Could not start PostgreSQL container")

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("Could not purge resource: %s", err)
		}
	})

	dbConfig := &docstore.Config{
		Host:               "localhost",
		Port:               resource.GetPort("5432/tcp"),
		User:               "test",
		Password:           "test",
		Database:           "test_medistock",
		SSLMode:            "disable",
		MaxConnections:     5,
		MinConnections:     1,
		MaxConnLifetime:    time.Hour,
		MaxConnIdleTime:    time.Minute * 30,
		HealthCheckPeriod:  time.Minute,
		ConnectTimeout:     time.Second * 10,
		EnableQueryLogging: testing.Verbose(),
	}

	// Wait for database to be ready
	var database *docstore.Database
	err = pool.Retry(func() error {
		ctx := context.Background()
		var err error
		database, err = docstore.NewDatabase(ctx, dbConfig, TestLogger())
		if err != nil {
			return err
		}
		return database.Ping(ctx)
	})
	require.NoError(t, err, "Could not connect to PostgreSQL")

	ctx := context.Background()
	migrationConfig := &docstore.MigrationConfig{
		DatabaseURL: fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port,
			dbConfig.Database, dbConfig.SSLMode),
		TableName:  "schema_migrations",
		SchemaName: "public",
	}

	err = docstore.RunMigrationsWithRetry(ctx, migrationConfig, TestLogger(), 3)
	require.NoError(t, err, "Could not run migrations")

	return &TestDB{
		PgxPool:  database.Pool(),
		Database: database,
		Resource: resource,
		Pool:     pool,
		Config:   dbConfig,
	}
}

// SetupTestRedis creates a mock Redis instance for testing
func SetupTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return &TestRedis{
		Client: client,
		Server: mr,
	}
}

// LoadTestConfig returns a test configuration
func LoadTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:        "test-sync",
			Environment: "test",
			Version:     "test",
			LogLevel:    "debug",
			LogFormat:   "text",
			Debug:       true,
			OwnerID:     "test-owner",
		},
		Database: config.DatabaseConfig{
			Host:               "localhost",
			Port:               "5432",
			User:               "test",
			Password:           "test",
			Name:               "test_medistock",
			SSLMode:            "disable",
			MaxConnections:     10,
			MinConnections:     2,
			EnableQueryLogging: true,
		},
		Redis: config.RedisConfig{
			Host:     "localhost",
			Port:     "6379",
			DB:       0,
			PoolSize: 10,
		},
		Sync: config.SyncConfig{
			BackgroundInterval: 30 * time.Second,
			PageSize:           20,
			SnapshotMaxAge:     5 * time.Minute,
			HistoryRetention:   90 * 24 * time.Hour,
		},
		Cache: config.CacheConfig{
			TTL: 5 * time.Minute,
		},
		Server: config.ServerConfig{
			Host:           "localhost",
			Port:           "8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
	}
}

// CreateTestMedicine creates a test medicine
func CreateTestMedicine(overrides ...func(*domain.Medicine)) *domain.Medicine {
	now := time.Now().UTC()
	med := &domain.Medicine{
		ID:                uuid.NewString(),
		OwnerID:           "test-owner",
		Name:              "Paracetamol 500mg",
		Description:       "Pain relief tablets",
		Dosage:            "500mg",
		Unit:              "tablet",
		CurrentQuantity:   20,
		MaxQuantity:       50,
		WarningThreshold:  10,
		CriticalThreshold: 5,
		AisleID:           "test-aisle",
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for _, override := range overrides {
		override(med)
	}

	return med
}

// CreateTestAisle creates a test aisle
func CreateTestAisle(overrides ...func(*domain.Aisle)) *domain.Aisle {
	now := time.Now().UTC()
	aisle := &domain.Aisle{
		ID:          uuid.NewString(),
		OwnerID:     "test-owner",
		Name:        "Medicine Cabinet",
		Description: "Main bathroom cabinet",
		Color:       "#4A90D9",
		Icon:        "cabinet",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(aisle)
	}

	return aisle
}

// CreateTestHistoryEntry creates a test history entry
func CreateTestHistoryEntry(overrides ...func(*domain.HistoryEntry)) *domain.HistoryEntry {
	entry := &domain.HistoryEntry{
		ID:         uuid.NewString(),
		MedicineID: uuid.NewString(),
		OwnerID:    "test-owner",
		Action:     domain.ActionCreated,
		Details:    "Paracetamol 500mg: created",
		Timestamp:  time.Now().UTC(),
	}

	for _, override := range overrides {
		override(entry)
	}

	return entry
}

// TruncateDocuments clears the documents table between tests
func TruncateDocuments(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	_, err := db.Exec(ctx, "TRUNCATE TABLE documents")
	require.NoError(t, err, "Failed to truncate documents table")
}

// AssertEventuallyWithTimeout asserts that a condition is met within a timeout
func AssertEventuallyWithTimeout(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Errorf("Condition not met within %v: %s", timeout, msg)
}
