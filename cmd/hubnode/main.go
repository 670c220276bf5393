// Command hubnode runs a single decentralized message store node: the engine
// behind a thin HTTP surface, with pluggable message, data, and event
// persistence.
package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/TBD54566975/hubnode/pkg/api"
	"github.com/TBD54566975/hubnode/pkg/auth"
	"github.com/TBD54566975/hubnode/pkg/config"
	"github.com/TBD54566975/hubnode/pkg/eventlog"
	"github.com/TBD54566975/hubnode/pkg/handlers"
	"github.com/TBD54566975/hubnode/pkg/observability"
	"github.com/TBD54566975/hubnode/pkg/schema"
	"github.com/TBD54566975/hubnode/pkg/store"
	"github.com/TBD54566975/hubnode/pkg/tenant"
)

func main() {
	if err := run(); err != nil {
		slog.Error("node failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "hubnode",
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:   1.0,
		Enabled:      os.Getenv("OTLP_ENDPOINT") != "",
		Insecure:     true,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	messages, events, closer, err := openStores(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}
	data, err := openDataStore(ctx, cfg)
	if err != nil {
		return err
	}

	bus := eventlog.NewBus()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		relay := eventlog.NewRedisRelay(redis.NewClient(opts), bus, logger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event relay stopped", "error", err)
			}
		}()
	}

	resolver := auth.NewStaticResolver()
	schemas := schema.NewValidator()
	gate := tenant.NewGate(cfg.OpenTenancy)
	if cfg.ProfilePath != "" {
		if err := applyProfile(cfg.ProfilePath, resolver, schemas, gate, logger); err != nil {
			return err
		}
	}

	engine := handlers.NewEngine(handlers.Deps{
		Logger:   logger,
		Messages: messages,
		Data:     data,
		Events:   events,
		Bus:      bus,
		Resolver: resolver,
		Schemas:  schemas,
		Gate:     gate,
	})

	limiter := api.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	handler := obs.Middleware(api.NewServer(engine, logger, limiter))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port, "store", cfg.StoreBackend, "data", cfg.DataBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStores opens the message store and event log over the configured
// backend. Both share one database handle for the SQL backends.
func openStores(cfg *config.Config) (store.MessageStore, eventlog.Log, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryMessageStore(), eventlog.NewMemoryLog(), nil, nil
	case "sqlite", "postgres":
		driver := "sqlite"
		if cfg.StoreBackend == "postgres" {
			driver = "postgres"
		}
		db, err := sql.Open(driver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open %s: %w", cfg.StoreBackend, err)
		}
		if driver == "sqlite" {
			db.SetMaxOpenConns(1)
		}
		messages, err := store.NewSQLMessageStore(db)
		if err != nil {
			return nil, nil, nil, err
		}
		events, err := eventlog.NewSQLLog(db)
		if err != nil {
			return nil, nil, nil, err
		}
		return messages, events, func() { _ = db.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openDataStore(ctx context.Context, cfg *config.Config) (store.DataStore, error) {
	switch cfg.DataBackend {
	case "memory":
		return store.NewMemoryDataStore(), nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return store.NewS3DataStore(s3.NewFromConfig(awsCfg), cfg.DataBucket, cfg.DataPrefix), nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return store.NewGCSDataStore(client, cfg.DataBucket, cfg.DataPrefix), nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

// applyProfile provisions tenants, pinned keys, and preloaded schemas from
// the YAML profile.
func applyProfile(path string, resolver *auth.StaticResolver, schemas *schema.Validator, gate *tenant.Gate, logger *slog.Logger) error {
	profile, err := config.LoadProfile(path)
	if err != nil {
		return err
	}
	for _, did := range profile.Tenants {
		gate.Allow(did)
	}
	for _, did := range profile.SuspendedTenants {
		gate.Suspend(did)
	}
	for keyID, hexKey := range profile.Keys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("profile key %s is not a hex ed25519 public key", keyID)
		}
		resolver.Add(keyID, ed25519.PublicKey(raw))
	}
	for uri, file := range profile.Schemas {
		definition, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("profile schema %s: %w", uri, err)
		}
		if err := schemas.Register(uri, definition); err != nil {
			return err
		}
	}
	logger.Info("profile applied",
		"name", profile.Name,
		"tenants", len(profile.Tenants),
		"keys", len(profile.Keys),
		"schemas", len(profile.Schemas))
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
