// MeshLab Core - shared Zigbee lab device server
//
// This is the main entry point for the MeshLab Core application. It keeps
// one session to the Zigbee bridge over MQTT, mirrors the mesh in memory,
// schedules exclusive device bookings and pushes changes to browsers over
// WebSockets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/meshlab-core/internal/api"
	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/booking"
	"github.com/nerrad567/meshlab-core/internal/bridge"
	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/fanout"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/config"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/database"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlab-core/internal/pairing"
	"github.com/nerrad567/meshlab-core/migrations"
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

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting MeshLab Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"lab_id", cfg.Lab.ID,
		"level", cfg.Logging.Level,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	influxClient, err := connectInfluxDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Device state cache and group metadata
	cache := device.NewCache()
	cache.SetLogger(log.Component("device"))
	groups := device.NewGroupDirectory(device.NewSQLiteGroupMetaRepository(db.DB), cache)
	groups.SetLogger(log.Component("groups"))

	// Bus session
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	feed := bridge.New(mqttClient, cache, bridge.Options{
		BaseTopic: cfg.MQTT.BaseTopic,
		QoS:       byte(cfg.MQTT.QoS),
	})
	feed.SetLogger(log.Component("bridge"))
	feed.SetGroupReconciler(groups)

	// Push
	manager := fanout.NewManager()
	manager.SetLogger(log.Component("fanout"))
	feed.AddListener(manager)

	// Pairing
	coordinator := pairing.NewCoordinator(feed, cache, pairing.Config{
		DefaultDuration: cfg.PairingDefaultDuration(),
		MaxDuration:     cfg.PairingMaxDuration(),
		ConfirmWait:     cfg.PairingConfirmWait(),
	})
	coordinator.SetLogger(log.Component("pairing"))
	coordinator.SetNotifier(manager)
	feed.SetEventHandler(coordinator)
	defer coordinator.Close()

	// Bookings
	scheduler := booking.NewScheduler(booking.NewSQLiteRepository(db.DB))
	scheduler.SetLogger(log.Component("booking"))
	scheduler.SetDeviceChecker(cache)
	scheduler.AddNotifier(manager)

	if influxClient != nil {
		feed.AddListener(bridge.NewTelemetryListener(influxClient))
		scheduler.AddNotifier(bookingTelemetry{sink: influxClient})
	}

	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		LabID:     cfg.Lab.ID,
		Logger:    log.Component("api"),
		Cache:     cache,
		Scheduler: scheduler,
		Fanout:    manager,
		Commander: feed,
		Pairing:   coordinator,
		Groups:    groups,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		DB:        db,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// The API comes up before the bus so health reports "degraded" while
	// the broker is unreachable rather than refusing connections. Its
	// context outlives the signal so Close can flush queued audit entries.
	if err := apiServer.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	g.Go(func() error {
		if err := feed.Connect(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge feed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.RunSweeper(gctx, cfg.SweepInterval())
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg, log, apiServer, manager)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", apiServer.Addr(),
		"base_topic", cfg.MQTT.BaseTopic,
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("MeshLab Core stopped")
	return nil
}

// shutdown stops accepting requests, drains in-flight pushes and waits for
// every WebSocket handler to return.
func shutdown(cfg *config.Config, log *logging.Logger, apiServer *api.Server, manager *fanout.Manager) {
	log.Info("shutdown signal received, cleaning up")

	if err := apiServer.Close(); err != nil {
		log.Error("error stopping API server", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FanoutDrainTimeout())
	defer cancel()
	if err := manager.Close(ctx); err != nil {
		log.Warn("fan-out drain incomplete", "error", err)
	}
	apiServer.Wait()
}

// connectInfluxDB returns nil when telemetry is disabled.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses MESHLAB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MESHLAB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the storage connections before anything is served.
// The bus is not checked here: the feed retries until the broker answers.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// The manager re-keys name-based device subscriptions on each snapshot.
var _ bridge.DeviceKeyMover = (*fanout.Manager)(nil)

// bookingSink is the part of the telemetry client bookings are written to.
type bookingSink interface {
	WriteBookingEvent(deviceID, action string, duration time.Duration, at time.Time)
}

// bookingTelemetry records booking lifecycle changes for utilisation
// reports. It implements booking.Notifier.
type bookingTelemetry struct {
	sink bookingSink
}

// NotifyBooking implements booking.Notifier.
func (t bookingTelemetry) NotifyBooking(action booking.Action, b booking.Booking) {
	t.sink.WriteBookingEvent(b.DeviceID, string(action), b.End.Sub(b.Start), b.UpdatedAt)
}
