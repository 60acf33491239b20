package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autopunch/internal/api"
	"autopunch/internal/config"
	"autopunch/internal/crypto"
	"autopunch/internal/database"
	"autopunch/internal/domain"
	"autopunch/internal/events"
	"autopunch/internal/hr104"
	"autopunch/internal/logging"
	"autopunch/internal/metrics"
	"autopunch/internal/models"
	"autopunch/internal/notify"
	"autopunch/internal/repository"
	"autopunch/internal/scheduler"
	"autopunch/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Logging, cfg.App)
	logger.Info().Str("config", configPath).Msg("Starting autopunch")

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions := buildSessionStore(cfg, &logger)
	cipher := buildCipher(cfg.Security, &logger)

	hrClient := hr104.NewClient(cfg.HR, &logger)
	eventBus := events.NewEventBus()

	bindingService := service.NewBindingService(db, hrClient, cipher, sessions, eventBus, &logger)

	location := time.Local
	if cfg.Scheduler.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
		}
		location = loc
	}
	taskService := service.NewTaskService(db, cfg.Scheduler.DailyLimit, location, &logger)

	notifier, err := buildNotifier(cfg.Telegram, db, &logger)
	if err != nil {
		return err
	}

	registerUsageAccounting(ctx, eventBus, db, &logger)

	executor := scheduler.NewExecutor(db, bindingService, hrClient, notifier, eventBus, &logger)
	scanner := scheduler.NewScanner(db, executor, eventBus, &logger)

	if cfg.Scheduler.Enabled {
		if err := scanner.Start(ctx, cfg.Scheduler.ScanSpec); err != nil {
			return fmt.Errorf("failed to start scanner: %w", err)
		}
		defer scanner.Stop()
	} else {
		logger.Warn().Msg("Scheduler is disabled, tasks will not execute")
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backup.Start(ctx)
	}

	var metricsServer *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsServer = startMetricsServer(cfg.Monitoring, &logger)
	}

	var apiServer *api.HTTPServer
	if cfg.API.Enabled {
		apiServer = api.NewHTTPServer(cfg.API, taskService, bindingService, db, hrClient, hrClient, cfg.Exports.Path, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server stopped")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown failed")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	return nil
}

// buildSessionStore wires the HR session cache: redis with an in-memory
// failover when enabled, plain memory otherwise.
func buildSessionStore(cfg *config.Config, logger *zerolog.Logger) domain.StateRepository {
	ttl := models.SessionTTL * time.Second
	memory := repository.NewMemorySessionRepository(ttl)

	if !cfg.Redis.Enabled {
		logger.Info().Msg("Redis disabled, using in-memory session store")
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unreachable at startup, failover will use memory")
	}

	primary := repository.NewRedisSessionRepository(client, ttl)
	return repository.NewFailoverSessionRepository(primary, memory, logger)
}

func buildCipher(cfg config.SecurityConfig, logger *zerolog.Logger) *crypto.Cipher {
	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		logger.Warn().Msg("No valid encryption key configured, falling back to derived key; do not use in production")
		return crypto.NewInsecureFallbackCipher()
	}
	return cipher
}

func buildNotifier(cfg config.TelegramConfig, bindings domain.BindingRepository, logger *zerolog.Logger) (domain.Notifier, error) {
	if !cfg.Enabled {
		logger.Info().Msg("Telegram disabled, outcome notifications are off")
		return notify.NoopNotifier{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifier ready")

	return notify.NewTelegramNotifier(bot, bindings, logger), nil
}

// registerUsageAccounting records one SCHEDULE usage row per completed task.
func registerUsageAccounting(ctx context.Context, bus *events.EventBus, bindings domain.BindingRepository, logger *zerolog.Logger) {
	bus.Subscribe(events.EventTaskCompleted, func(event *events.Event) error {
		var payload events.TaskEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		err := bindings.RecordUsage(ctx, &models.UsageLog{
			UserID:  payload.UserID,
			Action:  models.ActionSchedule,
			Count:   1,
			Details: payload.ScheduledAt.Format("2006-01-02 15:04"),
		})
		if err != nil {
			logger.Warn().Err(err).Int64("user_id", payload.UserID).Msg("Failed to record usage")
		}
		return err
	})

	bus.Subscribe(events.EventUserBound, func(event *events.Event) error {
		var payload struct {
			UserID int64  `json:"user_id"`
			EmpID  string `json:"emp_id"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		return bindings.RecordUsage(ctx, &models.UsageLog{
			UserID:  payload.UserID,
			Action:  models.ActionBind,
			Count:   1,
			Details: payload.EmpID,
		})
	})
}

func startMetricsServer(cfg config.MonitoringConfig, logger *zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Prometheus metrics listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return server
}
