package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/api/rest"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/licence"
	"github.com/controlledtrade/substance-compliance-backend/internal/infrastructure/cache"
	"github.com/controlledtrade/substance-compliance-backend/internal/infrastructure/config"
	"github.com/controlledtrade/substance-compliance-backend/internal/infrastructure/database"
	"github.com/controlledtrade/substance-compliance-backend/internal/infrastructure/telemetry"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/ledger"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/override"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/validation"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up service logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "compliance-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewConnectionPool(&cfg.Database, zapLogger.Named("database"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	licences := database.NewLicenceRepository(pool.Pool())
	var licenceRepo licence.Repository = licences
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(&cfg.Redis, zapLogger.Named("cache"))
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisCache.Close()
		licenceRepo = cache.NewLicenceMappingCache(licences, redisCache, cfg.Compliance.LicenceCacheTTL, zapLogger.Named("licence_cache"))
	}

	auditSink := database.NewAuditSink(pool.Pool())
	counterStore := database.NewCounterStore(pool.Pool())
	thresholdLedger := ledger.New(counterStore, zapLogger.Named("ledger"))
	reservations := ledger.NewRegistry()

	engine := validation.NewEngine(
		zapLogger.Named("validation"),
		database.NewCustomerRepository(pool.Pool()),
		database.NewProductRepository(pool.Pool()),
		licenceRepo,
		database.NewThresholdRepository(pool.Pool()),
		database.NewCorridorRepository(pool.Pool(), cfg.Compliance.PermittedCorridors),
		thresholdLedger,
		reservations,
		auditSink,
	)

	transactions := database.NewTransactionStore(pool.Pool())
	overrides := override.NewWorkflow(zapLogger.Named("override"), transactions, thresholdLedger, reservations, auditSink)

	handler := rest.NewHandler(logger, engine, overrides, transactions, transactions, pool)
	server := rest.NewServer(cfg, logger, handler)

	logger.Info("starting compliance api",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
