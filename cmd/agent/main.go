package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"payvault/internal/config"
	"payvault/internal/connectivity"
	"payvault/internal/events"
	"payvault/internal/export"
	"payvault/internal/logging"
	"payvault/internal/metrics"
	"payvault/internal/models"
	"payvault/internal/reconciler"
	"payvault/internal/repository"
	"payvault/internal/service"
	"payvault/internal/store"
	"payvault/internal/syncqueue"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, seed, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	st, err := initStore(cfg, seed, &logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, sessions := initSessionRepository(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()

	bus := events.NewBus(&logger)
	authService := service.NewAuthService(sessions, st, bus, &logger)
	remote := reconciler.NewClient(cfg.API, authService, &logger)

	monitor := connectivity.NewMonitor(cfg.API, cfg.Connectivity, cfg.Sync, bus, nil, &logger)
	engine := syncqueue.New(st, remote, monitor, bus, cfg.Sync, &logger)
	defer engine.Close()
	monitor.AttachSyncer(engine)

	settingsService := service.NewSettingsService(st)
	subscribeQueueEvents(ctx, bus, authService, settingsService, &logger)

	// One-shot mode: "agent export 2026-08" writes the month's report and exits.
	if len(os.Args) > 1 && os.Args[1] == "export" {
		return runExport(ctx, st, cfg, &logger, os.Args[2:])
	}

	if cfg.Monitoring.PrometheusEnabled {
		startMetricsServer(cfg, &logger)
	}

	if cfg.Backup.Enabled {
		backupService := store.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	monitor.Start(ctx)
	defer monitor.Close()

	logger.Info().Str("api", cfg.API.BaseURL).Msg("Sync agent started")

	// Kick an initial pass for anything left queued from the previous run.
	if err := engine.Sync(ctx); err != nil {
		logger.Error().Err(err).Msg("Initial sync failed")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.Employee, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "agent-main").Logger()

	seed, err := loadEmployeeSeed(&logger)
	if err != nil {
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, seed, logger, closer, nil
}

// loadEmployeeSeed reads an optional employees.yaml to prime an empty cache
// on first run.
func loadEmployeeSeed(logger *zerolog.Logger) ([]models.Employee, error) {
	seedPath := os.Getenv("SEED_PATH")
	if seedPath == "" {
		seedPath = "configs/employees.yaml"
	}

	seedData, err := os.ReadFile(seedPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error reading %s", seedPath)
		return nil, err
	}

	var seedConfig struct {
		Employees []models.Employee `yaml:"employees"`
	}
	if err := yaml.Unmarshal(seedData, &seedConfig); err != nil {
		logger.Error().Err(err).Msg("Error parsing employees.yaml")
		return nil, err
	}

	return seedConfig.Employees, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Error creating store directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Error creating export directory")
		return err
	}
	return nil
}

func initStore(cfg *config.Config, seed []models.Employee, logger *zerolog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Error initializing local store")
		return nil, err
	}

	if len(seed) > 0 {
		ctx := context.Background()
		count, err := st.Count(ctx, store.ContainerEmployees)
		if err == nil && count == 0 {
			now := time.Now()
			for i := range seed {
				seed[i].CreatedAt = now
				seed[i].UpdatedAt = now
				if seed[i].Status == "" {
					seed[i].Status = models.EmployeeActive
				}
				if err := st.PutEmployee(ctx, &seed[i]); err != nil {
					logger.Error().Err(err).Int64("id", seed[i].ID).Msg("Error seeding employee")
				}
			}
			logger.Info().Int("employees", len(seed)).Msg("Employee cache seeded")
		}
	}
	return st, nil
}

func initSessionRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverSessionRepository) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	primaryRepo := repository.NewRedisSessionRepository(redisClient, models.DefaultSessionTTL)
	fallbackRepo := repository.NewMemorySessionRepository(models.DefaultSessionTTL)
	return redisClient, repository.NewFailoverSessionRepository(primaryRepo, fallbackRepo, logger)
}

func startMetricsServer(cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server started")
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
}

func runExport(ctx context.Context, st *store.Store, cfg *config.Config, logger *zerolog.Logger, args []string) error {
	month := time.Now().Format("2006-01")
	if len(args) > 0 {
		month = args[0]
	}

	exporter := export.NewExporter(st, cfg.Exports, logger)
	path, err := exporter.SalaryMonth(ctx, month)
	if err != nil {
		return err
	}

	fmt.Println(path)
	return nil
}

func subscribeQueueEvents(ctx context.Context, bus *events.Bus, auth *service.AuthService, settings *service.SettingsService, logger *zerolog.Logger) {
	bus.AddListener(func(ev events.Event) {
		switch ev.Type {
		case events.EventAuthRequired:
			if err := auth.InvalidateSession(ctx); err != nil {
				logger.Error().Err(err).Msg("event bus: invalidate session")
			}
		case events.EventSyncError:
			logger.Warn().
				Int64("operation_id", ev.OperationID).
				Str("entity", ev.EntityType).
				Str("action", ev.Action).
				Msg("operation stuck after max attempts, retry or discard it")
		case events.EventOperationFailed:
			logger.Warn().
				Int64("operation_id", ev.OperationID).
				Str("entity", ev.EntityType).
				Str("action", ev.Action).
				Str("error", ev.Error).
				Msg("operation can never sync")
		case events.EventSyncComplete:
			if err := settings.Set(ctx, service.SettingLastSyncedAt, time.Now().Format(time.RFC3339)); err != nil {
				logger.Error().Err(err).Msg("event bus: record sync time")
			}
			logger.Info().
				Int("synced", ev.SuccessCount).
				Int("errors", ev.ErrorCount).
				Msg("sync pass finished")
		}
	})
}
