// MQTT Gateway
//
// This is the main entry point of the MQTT device gateway. It loads the
// declared device list, keeps one node per device in step with it,
// subscribes to every device's status topics and routes each message to
// the node that owns the topic.
//
// Send SIGHUP to reload the device list.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/mqtt-gateway/migrations"

	"github.com/nerrad567/mqtt-gateway/internal/api"
	"github.com/nerrad567/mqtt-gateway/internal/gateway"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-gateway/internal/nodes"
	"github.com/nerrad567/mqtt-gateway/internal/notice"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
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

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MQTT gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

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
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := nodes.NewRegistry(nodes.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "nodes"))

	// Connect to InfluxDB (optional). A failure here only disables metrics.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, driver metrics disabled", "error", err)
			influxClient = nil
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			registry.SetMetrics(influxClient)
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	notices := notice.NewBoard()

	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetStatusTopic(cfg.StatusTopic())
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	gw, err := gateway.New(gateway.Options{
		Config:  cfg,
		Broker:  mqttClient,
		Nodes:   registry,
		Notices: notices,
		Logger:  log.With("component", "gateway"),
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// The API comes up before the gateway so notices are visible while it
	// waits for devices and the broker.
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Gateway:  gw,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	defer gw.Stop()
	if err := gw.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("shutdown requested during startup")
			return nil
		}
		return fmt.Errorf("starting gateway: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	waitForSignals(ctx, gw, log)

	log.Info("MQTT gateway stopped")
	return nil
}

// waitForSignals blocks until ctx is cancelled, reloading the device list
// on every SIGHUP.
func waitForSignals(ctx context.Context, gw *gateway.Gateway, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return
		case <-hup:
			log.Info("SIGHUP received, reloading device list")
			res, err := gw.Reload(ctx)
			if err != nil {
				log.Error("reload failed", "error", err)
				continue
			}
			log.Info("reload complete", "created", len(res.Created), "deleted", len(res.Deleted))
		}
	}
}

// loadConfig reads the config file. A missing file falls back to defaults
// so the gateway can run from environment variables alone.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating default config: %w", err)
	}
	return cfg, nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when metrics are disabled.
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
