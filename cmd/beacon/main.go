// Beacon - home automation station core
//
// This is the main entry point for the beacon station. The station keeps
// the authoritative device state for one home, runs the automation
// processes defined in the cloud catalog, and dispatches conducts to the
// device adapters:
//   - Devices report through adapters (zigbee2mqtt over MQTT, optionally
//     with the zigbee2mqtt daemon supervised by the station)
//   - Accepted state changes trigger automation processes
//   - Conducts flow back to the adapters, immediately or delayed
//   - History, metrics and the cloud are fed in the background
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/beacon/internal/api"
	"github.com/nerrad567/beacon/internal/automation"
	"github.com/nerrad567/beacon/internal/bridges/zigbee2mqtt"
	"github.com/nerrad567/beacon/internal/cloud"
	"github.com/nerrad567/beacon/internal/conduct"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/config"
	"github.com/nerrad567/beacon/internal/infrastructure/database"
	"github.com/nerrad567/beacon/internal/infrastructure/influxdb"
	"github.com/nerrad567/beacon/internal/infrastructure/logging"
	"github.com/nerrad567/beacon/internal/infrastructure/metrics"
	"github.com/nerrad567/beacon/internal/infrastructure/mqtt"
	"github.com/nerrad567/beacon/internal/process"
	"github.com/nerrad567/beacon/internal/pubsub"
	"github.com/nerrad567/beacon/internal/scheduler"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor BEACON_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// schedulerStopTimeout bounds the wait for running maintenance jobs.
	schedulerStopTimeout = 15 * time.Second

	jobCatalogRefresh = "catalog-refresh"
	jobHistoryPrune   = "history-prune"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Running without a subcommand is the same
// as "beacon run".
func newRootCommand() *cobra.Command {
	var configPath string

	runE := func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx, resolveConfigPath(configPath))
	}

	root := &cobra.Command{
		Use:           "beacon",
		Short:         "Home automation station core",
		Long:          "Beacon keeps device state, runs automation processes and dispatches conducts to device adapters.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the configuration file (default $BEACON_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the station until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runE,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "beacon %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)
	return root
}

// resolveConfigPath returns the flag value, then BEACON_CONFIG, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("BEACON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the composition root, separated from main for testability.
// Components are closed in reverse start order by the deferred calls.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Composition root wires every component
	log := logging.Default()
	log.Info("starting beacon", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Log rotation close on exit
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// Database
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	m := metrics.New()

	// Cloud catalog
	var cloudClient *cloud.Client
	var devices device.Catalog = offlineCatalog{}
	var processCatalog automation.ProcessCatalog = offlineCatalog{}
	if cfg.Cloud.Enabled {
		cloudClient, err = cloud.New(cfg.Cloud, cfg.Station.ID, log)
		if err != nil {
			return fmt.Errorf("creating cloud client: %w", err)
		}
		devices, processCatalog = cloudClient, cloudClient
		log.Info("cloud client ready", "base_url", cfg.Cloud.BaseURL)
	} else {
		log.Warn("cloud disabled, running from the local process mirror only")
	}

	// Device state
	registry := device.NewRegistry(devices)
	registry.SetLogger(log)

	stateHub := pubsub.NewKeyedHub[device.DeviceTarget](log)
	states := device.NewStateStore(registry, stateHub)
	states.SetLogger(log)
	states.SetMetrics(m)

	history := device.NewHistoryRepository(db.DB)
	if n, restoreErr := states.Restore(ctx, history); restoreErr != nil {
		log.Warn("last known device states not restored", "error", restoreErr)
	} else {
		log.Info("last known device states restored", "targets", n)
	}
	states.AddSink(history)
	if cloudClient != nil {
		states.AddSink(cloudClient)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		states.AddSink(influxSink{client: influxClient})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}
	defer states.Wait()

	handlers := device.NewHandlers(states, registry)
	handlers.SetLogger(log)

	// Conducts
	conducts := conduct.NewManager(pubsub.NewTopicHub[conduct.Conduct](log), registry, log)
	conducts.SetMetrics(m)
	if startErr := conducts.Start(ctx); startErr != nil {
		return fmt.Errorf("starting conduct manager: %w", startErr)
	}
	defer func() {
		log.Info("stopping conduct manager")
		conducts.Stop()
	}()

	// Automation
	processMirror := automation.NewSQLiteMirror(db.DB)
	processMirror.SetLogger(log)
	processes := automation.NewProcessSource(processCatalog, processMirror, log)
	processor := automation.NewProcessor(stateHub, processes, states, conducts, log)
	processor.SetMetrics(m)
	if startErr := processor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting automation processor: %w", startErr)
	}
	defer func() {
		log.Info("stopping automation processor")
		processor.Stop()
	}()

	for name, pending := range map[string]func() int{
		"delayed-requests": conducts.Pending,
		"delayed-triggers": processor.PendingTriggers,
		"delayed-conducts": processor.PendingConducts,
	} {
		if regErr := m.RegisterQueue(name, pending); regErr != nil {
			log.Warn("queue gauge not registered", "queue", name, "error", regErr)
		}
	}

	catalog := &catalogRefresher{registry: registry, processes: processes, logger: log}
	if cloudClient != nil {
		if refreshErr := catalog.RefreshCatalog(ctx); refreshErr != nil {
			log.Warn("initial catalog refresh failed", "error", refreshErr)
		}
	}

	// MQTT and adapters
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Station.ID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(m.MQTTConnected)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	health := map[string]api.HealthChecker{"database": db, "mqtt": mqttClient}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}
	if cloudClient != nil {
		health["cloud"] = cloudClient
	}

	if cfg.Zigbee2MQTT.Enabled {
		adapter := zigbee2mqtt.New(cfg.Zigbee2MQTT.BaseTopic, byte(cfg.MQTT.QoS), mqttClient, handlers, conducts)
		adapter.SetLogger(log)
		health["zigbee2mqtt"] = adapter

		if cfg.Zigbee2MQTT.Process.Enabled {
			daemon := process.NewSupervisor(process.FromConfig("zigbee2mqtt", cfg.Zigbee2MQTT.Process))
			daemon.SetLogger(log)
			daemon.SetHealthCheck(adapter.HealthCheck)
			if startErr := daemon.Start(ctx); startErr != nil {
				return fmt.Errorf("starting zigbee2mqtt daemon: %w", startErr)
			}
			defer func() {
				log.Info("stopping zigbee2mqtt daemon")
				daemon.Stop()
			}()
			health["zigbee2mqtt_daemon"] = daemon
		}

		if startErr := adapter.Start(ctx); startErr != nil {
			return fmt.Errorf("starting zigbee2mqtt adapter: %w", startErr)
		}
		defer func() {
			log.Info("stopping zigbee2mqtt adapter")
			adapter.Stop()
		}()

		mirror := conducts.Subscribe(zigbee2mqtt.Channel, conductMirror{client: mqttClient, stationID: cfg.Station.ID, logger: log}.publish)
		defer mirror.Close()
	} else {
		log.Info("zigbee2mqtt adapter disabled")
	}

	// Cloud event stream
	if cloudClient != nil && cfg.Cloud.EventsURL != "" {
		stream := cloud.NewEventStream(cfg.Cloud.EventsURL, cfg.Station.ID, cfg.Cloud.Token, cloud.EventHandlers{
			ConductRequested: func(ctx context.Context, r conduct.Request) error {
				return conducts.RequestConduct(ctx, r, false)
			},
			CatalogChanged: func(kind string) {
				catalog.invalidate(kind)
			},
		}, log)
		if startErr := stream.Start(ctx); startErr != nil {
			return fmt.Errorf("starting cloud event stream: %w", startErr)
		}
		defer func() {
			log.Info("stopping cloud event stream")
			stream.Stop()
		}()
	}

	// Maintenance jobs
	jobs := scheduler.New(log)
	if cloudClient != nil {
		if addErr := jobs.AddJob(jobCatalogRefresh, cfg.Automation.CatalogRefresh, func(ctx context.Context) {
			if refreshErr := catalog.RefreshCatalog(ctx); refreshErr != nil {
				log.Warn("scheduled catalog refresh failed", "error", refreshErr)
			}
		}); addErr != nil {
			return addErr
		}
	}
	retention := cfg.GetHistoryRetention()
	if addErr := jobs.AddJob(jobHistoryPrune, cfg.Automation.HistoryPrune, func(ctx context.Context) {
		n, pruneErr := history.Prune(ctx, retention)
		if pruneErr != nil {
			log.Warn("state history prune failed", "error", pruneErr)
			return
		}
		log.Info("state history pruned", "rows", n, "retention", retention)
	}); addErr != nil {
		return addErr
	}
	jobs.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
		defer cancel()
		if stopErr := jobs.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping scheduler", "error", stopErr)
		}
	}()

	// HTTP API
	server, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Metrics:        cfg.Metrics,
		Logger:         log,
		States:         states,
		StateHub:       stateHub,
		Conducts:       conducts,
		History:        history,
		Processes:      processes,
		Catalog:        catalog,
		MetricsHandler: m.Handler(),
		Health:         health,
		Version:        version,
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
	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
