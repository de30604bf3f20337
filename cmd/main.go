package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartclimate/internal/actuator"
	"smartclimate/internal/ai"
	"smartclimate/internal/api"
	"smartclimate/internal/clock"
	"smartclimate/internal/config"
	"smartclimate/internal/coordinator"
	"smartclimate/internal/dayphase"
	"smartclimate/internal/events"
	"smartclimate/internal/ha"
	"smartclimate/internal/metrics"
	"smartclimate/internal/state"
	"smartclimate/internal/store"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// archiveRetention is how long resolved suggestions stay in the archive.
const archiveRetention = 30 * 24 * time.Hour

// services are the long-lived collaborators shared across reloads.
type services struct {
	env     config.Env
	client  *ha.Client
	manager *state.Manager
	caller  *actuator.Actuator
	bus     events.Bus
	archive *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	env, envErr := config.LoadEnv()

	// Initialize logger
	logger, err := newLogger(env.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Fatal("Invalid environment", zap.Error(envErr))
	}

	cfg, err := loadConfig(env)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.String("path", env.ConfigFile), zap.Error(err))
	}
	cfg.LogSummary(logger)

	logger.Info("Starting Smart Climate",
		zap.String("url", env.HAURL),
		zap.Bool("read_only", env.ReadOnly))

	// Create HA client
	client := ha.NewClient(env.HAURL, env.HAToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	m := metrics.New()
	svc := &services{
		env:     env,
		client:  client,
		manager: state.NewManager(client, logger),
		caller:  actuator.New(client, logger, env.ReadOnly),
		metrics: m,
		logger:  logger,
	}
	svc.caller.OnCall(m.ServiceCall)
	svc.bus = events.Counted(newBus(env, cfg, client, logger), m.EventFired)

	svc.manager.Track(cfg.Entities()...)
	if err := svc.manager.SyncFromHA(); err != nil {
		logger.Fatal("Failed to sync state from HA", zap.Error(err))
	}
	defer svc.manager.Stop()
	client.OnReconnect(func() {
		if err := svc.manager.SyncFromHA(); err != nil {
			logger.Error("Failed to resync state after reconnect", zap.Error(err))
		}
	})

	archive, err := openArchive(env.DBPath, logger)
	if err != nil {
		logger.Warn("Suggestion archive unavailable; suggestions will not survive a restart", zap.Error(err))
	} else {
		svc.archive = archive
		defer archive.Close()
	}

	coord, err := svc.start(cfg)
	if err != nil {
		logger.Fatal("Failed to start coordinator", zap.Error(err))
	}

	server := api.NewServer(coord, m, logger, env.HTTPAddr)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown and reload
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	if env.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}
	logger.Info("Application running. Press Ctrl+C to exit.")

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		next, err := svc.reload(coord)
		if err != nil {
			logger.Error("Reload failed; keeping current configuration", zap.Error(err))
			continue
		}
		server.Swap(next)
		coord = next
	}

	logger.Info("Shutting down gracefully...")
	coord.Stop()
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(env config.Env) (*config.Config, error) {
	cfg, err := config.Load(env.ConfigFile)
	if err != nil {
		return nil, err
	}
	env.Overlay(cfg)
	return cfg, nil
}

// newBus fires events on Home Assistant and, with a broker configured,
// mirrors them to MQTT.
func newBus(env config.Env, cfg *config.Config, client ha.HAClient, logger *zap.Logger) events.Bus {
	haBus := events.NewHABus(client, logger)
	if env.MQTTBroker == "" {
		return haBus
	}

	mqttClient, err := events.Connect(events.MQTTConfig{
		Broker:      env.MQTTBroker,
		ClientID:    "smart-climate-" + uuid.NewString()[:8],
		TopicPrefix: cfg.MQTTTopicPrefix,
	})
	if err != nil {
		logger.Warn("MQTT event mirror disabled", zap.String("broker", env.MQTTBroker), zap.Error(err))
		return haBus
	}
	logger.Info("Mirroring events to MQTT", zap.String("broker", env.MQTTBroker))
	return events.Multi{haBus, events.NewMQTTBus(mqttClient, cfg.MQTTTopicPrefix, logger)}
}

func openArchive(path string, logger *zap.Logger) (*store.Store, error) {
	archive, err := store.Open(path, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pruned, err := archive.Prune(ctx, time.Now().Add(-archiveRetention))
	if err != nil {
		logger.Warn("Failed to prune suggestion archive", zap.Error(err))
	} else if pruned > 0 {
		logger.Info("Pruned old suggestions", zap.Int64("count", pruned))
	}
	return archive, nil
}

// start builds and starts a coordinator for cfg.
func (s *services) start(cfg *config.Config) (*coordinator.Coordinator, error) {
	d := coordinator.Deps{
		Config:  cfg,
		States:  s.manager,
		Caller:  s.caller,
		Bus:     s.bus,
		Clock:   clock.NewRealClock(),
		Metrics: s.metrics,
		Logger:  s.logger,
		Provider: ai.NewProvider(ai.Config{
			Type:    cfg.AIProvider,
			APIKey:  cfg.AIAPIKey,
			Model:   cfg.AIModel,
			BaseURL: cfg.AIBaseURL,
		}, s.logger),
	}
	if s.archive != nil {
		d.Archive = s.archive
	}
	if cfg.Latitude != 0 || cfg.Longitude != 0 {
		d.Sun = dayphase.NewCalculator(cfg.Latitude, cfg.Longitude, s.logger)
	}

	coord := coordinator.New(d)
	if err := coord.Start(context.Background()); err != nil {
		return nil, err
	}
	return coord, nil
}

// reload re-reads the configuration and replaces the running coordinator.
// The old coordinator keeps running if the new configuration is invalid.
func (s *services) reload(current *coordinator.Coordinator) (*coordinator.Coordinator, error) {
	s.logger.Info("Reloading configuration", zap.String("path", s.env.ConfigFile))
	cfg, err := loadConfig(s.env)
	if err != nil {
		return nil, err
	}
	cfg.LogSummary(s.logger)

	s.manager.Track(cfg.Entities()...)
	if err := s.manager.SyncFromHA(); err != nil {
		return nil, fmt.Errorf("failed to sync new entities: %w", err)
	}

	current.Stop()
	next, err := s.start(cfg)
	if err != nil {
		if restartErr := current.Start(context.Background()); restartErr != nil {
			s.logger.Error("Failed to restart previous coordinator", zap.Error(restartErr))
		}
		return nil, err
	}
	return next, nil
}
