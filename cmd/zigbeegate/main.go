// zigbeegate runs the Zigbee gateway core.
//
// It bridges a Zigbee coordinator reachable over MQTT to the platform:
// devices are described from the model catalog, kept available, configured
// once per descriptor set and driven through cascaded writes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-zigbee/internal/api"
	"github.com/nerrad567/gray-logic-zigbee/internal/audit"
	"github.com/nerrad567/gray-logic-zigbee/internal/availability"
	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/device"
	"github.com/nerrad567/gray-logic-zigbee/internal/dispatch"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-zigbee/internal/metrics"
	"github.com/nerrad567/gray-logic-zigbee/internal/store"
	"github.com/nerrad567/gray-logic-zigbee/internal/supervisor"
	"github.com/nerrad567/gray-logic-zigbee/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability. It
// returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting zigbeegate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry, err := loadRegistry(cfg.Zigbee, log)
	if err != nil {
		return err
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// InfluxDB is optional. The nil checks keep a nil *Client out of the
	// history interfaces.
	var influxClient *influxdb.Client
	var valueHistory store.History
	var availabilityHistory supervisor.History
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		valueHistory, availabilityHistory = influxClient, influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New()
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2

	adapter, err := zigbee.NewAdapter(zigbee.Options{
		MQTT:           mqttClient,
		BaseTopic:      cfg.Zigbee.BaseTopic,
		RequestTimeout: cfg.Zigbee.RequestTimeout,
		QoS:            qos,
	})
	if err != nil {
		return fmt.Errorf("creating zigbee adapter: %w", err)
	}
	adapter.SetLogger(log.Component("zigbee"))

	values := store.New(db.DB, store.Options{
		Publisher: mqttClient,
		History:   valueHistory,
		QoS:       qos,
	})
	values.SetLogger(log.Component("store"))
	if loadErr := values.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading property store: %w", loadErr)
	}
	if startErr := values.Start(ctx); startErr != nil {
		return fmt.Errorf("starting property store: %w", startErr)
	}
	defer values.Stop()

	hub := api.NewHub(log.Component("websocket"))

	sup := supervisor.New(supervisor.Deps{
		Adapter:  adapter,
		Registry: registry,
		Store:    values,
		Devices:  device.NewSQLiteRepository(db.DB),
		Metrics:  m,
		History:  availabilityHistory,
		Events:   supervisor.Sinks{values, hub},
	}, supervisor.Config{
		Availability: availability.Config{
			PingInterval:  cfg.Zigbee.PingInterval,
			SweepInterval: cfg.Zigbee.SweepInterval,
			SleepyTimeout: cfg.Zigbee.SleepyTimeout,
		},
		Dispatch:             dispatch.Config{DisableQueue: cfg.Zigbee.DisableQueue},
		MaxConfigureAttempts: cfg.Zigbee.ConfigureMaxAttempts,
	})
	sup.SetLogger(log.Component("supervisor"))
	if startErr := sup.Start(ctx); startErr != nil {
		return fmt.Errorf("starting supervisor: %w", startErr)
	}
	defer func() {
		log.Info("stopping supervisor")
		sup.Stop()
	}()

	// The supervisor's event handler is installed, so the retained device
	// list delivered on subscribe reaches it.
	if startErr := adapter.Start(ctx); startErr != nil {
		return fmt.Errorf("starting zigbee adapter: %w", startErr)
	}
	defer func() {
		log.Info("stopping zigbee adapter")
		adapter.Stop()
	}()
	log.Info("zigbee adapter started", "base_topic", cfg.Zigbee.BaseTopic)

	health := zigbee.NewHealthReporter(zigbee.HealthReporterConfig{
		Gateway:   cfg.Gateway.ID,
		Version:   version,
		Interval:  cfg.Zigbee.HealthInterval,
		Publisher: mqttClient,
		Adapter:   adapter,
		Devices:   sup,
	})
	health.SetLogger(log.Component("health"))
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("publishing starting status failed", "error", pubErr)
	}
	health.Start(ctx)
	defer health.Stop()

	server, err := api.New(api.Deps{
		Config:          cfg.API,
		Security:        cfg.Security,
		Logger:          log.Component("api"),
		Gateway:         sup,
		Health:          health,
		Metrics:         m,
		Hub:             hub,
		Audit:           audit.NewSQLiteRepository(db.DB),
		PairingDuration: cfg.Zigbee.PairingDuration,
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, health, supervisor, store,
	// adapter, InfluxDB, MQTT, database.
	return nil
}

// loadRegistry builds the descriptor registry from the built-in catalog and
// the optional catalog file, which is merged over it.
func loadRegistry(cfg config.ZigbeeConfig, log *logging.Logger) (*descriptor.Registry, error) {
	registry := descriptor.NewRegistry()
	registry.SetLogger(log.Component("descriptor"))

	if err := registry.LoadCatalog(descriptor.BuiltinCatalog()); err != nil {
		return nil, fmt.Errorf("loading built-in catalog: %w", err)
	}
	if cfg.CatalogFile != "" {
		data, err := os.ReadFile(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("reading catalog file: %w", err)
		}
		if err := registry.LoadCatalog(data); err != nil {
			return nil, fmt.Errorf("loading catalog file %s: %w", cfg.CatalogFile, err)
		}
	}
	log.Info("descriptor registry loaded", "models", len(registry.Models()))
	return registry, nil
}

// getConfigPath returns the configuration file path.
// Uses ZIGBEEGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ZIGBEEGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
