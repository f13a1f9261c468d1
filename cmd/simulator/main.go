package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/chargepoint"
	"github.com/ocpp-sim/chargepoint-simulator/internal/config"
	"github.com/ocpp-sim/chargepoint-simulator/internal/configstore"
	"github.com/ocpp-sim/chargepoint-simulator/internal/eventbus"
	"github.com/ocpp-sim/chargepoint-simulator/internal/logging"
	"github.com/ocpp-sim/chargepoint-simulator/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
		Caller:     cfg.Log.Caller,
		Async:      cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Msg("logger initialized")

	var store configstore.Store = configstore.NewMemoryStore()
	if cfg.Redis.Enabled() {
		redisStore, err := configstore.NewRedisStore(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis config store")
		}
		store = redisStore
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis configuration store connected")
	} else {
		logger.Info().Msg("using in-memory configuration store")
	}

	var sink eventbus.Sink = eventbus.NoopSink{}
	if cfg.Kafka.Enabled() {
		kafkaSink, err := eventbus.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.FlushFrequency, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect kafka event sink")
		}
		sink = kafkaSink
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka event sink connected")
	} else {
		logger.Info().Msg("no kafka brokers configured, events are not mirrored externally")
	}

	sup := supervisor.New(cfg.Supervisor, logger, sink)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	for _, fleetCfg := range cfg.Fleet {
		cp := chargepoint.New(fleetCfg, cfg.Transport, logger)

		if err := cp.UseConfigStore(bootCtx, store); err != nil {
			logger.Warn().Err(err).Str("cpId", fleetCfg.ID).Msg("failed to load persisted configuration")
		}

		if err := sup.Host(cp); err != nil {
			logger.Fatal().Err(err).Str("cpId", fleetCfg.ID).Msg("failed to host charge point")
		}

		if err := cp.Connect(bootCtx); err != nil {
			logger.Warn().Err(err).Str("cpId", fleetCfg.ID).Msg("initial connect failed, charge point starts disconnected")
			continue
		}
		if err := cp.Boot(bootCtx); err != nil {
			logger.Warn().Err(err).Str("cpId", fleetCfg.ID).Msg("boot sequence failed")
		}
	}
	logger.Info().Strs("chargePoints", sup.IDs()).Msg("fleet hosted")

	go startMetricsServer(cfg.Monitoring.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info().Msg("shutting down simulator on signal")
	case <-sup.ShutdownRequested():
		logger.Info().Msg("shutting down simulator on control-plane shutdown command")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sup.Shutdown(shutdownCtx)

	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing configuration store")
	}
	if err := sink.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing event sink")
	}
	logger.Info().Msg("simulator stopped")
}

func startMetricsServer(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
