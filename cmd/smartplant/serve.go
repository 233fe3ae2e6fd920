package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/account"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/api"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/audit"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/forecast"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/garden"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/database"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/influxdb"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/logging"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/mqtt"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/ingest"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/notify"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/session"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// sessionSweepInterval is how often expired chat sessions are purged.
const sessionSweepInterval = time.Hour

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend: MQTT ingestion, decision engine and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// run wires every component and blocks until ctx is cancelled or a
// component fails.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting SmartPlant",
		"version", version,
		"commit", commit,
		"build_date", date,
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	schemas, err := loadSchemas(cfg.Schemas.Dir)
	if err != nil {
		return err
	}
	factories := entity.NewFactories(schemas)
	plants, err := factories.For(entity.TypePlant)
	if err != nil {
		return fmt.Errorf("plant factory: %w", err)
	}
	users, err := factories.For(entity.TypeUser)
	if err != nil {
		return fmt.Errorf("user factory: %w", err)
	}
	log.Info("schemas loaded", "types", schemas.Types())

	var forecasts plantcare.ForecastProvider
	if cfg.Weather.APIKey != "" {
		forecasts = forecast.NewClient(cfg.Weather)
	} else {
		log.Warn("weather API key not set, forecasts disabled")
	}

	catalog := twin.NewCatalog()
	if err := plantcare.RegisterServices(catalog, plantcare.ServiceDeps{
		Forecasts:       forecasts,
		LightWindow:     cfg.PlantCare.LightWindow,
		ForecastTimeout: cfg.PlantCare.ForecastTimeout,
		Logger:          log.Component("plantcare"),
	}); err != nil {
		return fmt.Errorf("registering plant-care services: %w", err)
	}
	if err := garden.RegisterServices(catalog, time.Now); err != nil {
		return fmt.Errorf("registering garden services: %w", err)
	}

	twins := twin.NewRegistry(twin.NewSQLiteRepository(db.DB), catalog)
	twins.SetLogger(log.Component("twin"))
	if err := twins.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading twin registry: %w", err)
	}

	store := entity.NewSQLiteStore(db.DB)
	sessions := session.NewSQLiteStore(db.DB, cfg.Sessions.TTL)
	userLocks := entity.NewLocks()
	accounts := account.NewService(store, users, sessions)
	accounts.SetUserLocks(userLocks)
	accounts.SetLogger(log.Component("account"))

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}

	proc := plantcare.NewProcessor(store, plants, twins, forecasts, ingest.NewCommandPublisher(mqttClient), plantcare.Options{
		ForecastTimeout:     cfg.PlantCare.ForecastTimeout,
		ManualWaterDuration: int64(cfg.PlantCare.ManualWaterDuration),
	})
	proc.SetLogger(log.Component("plantcare"))

	actions := audit.NewSQLiteRepository(db.DB)
	actionRecorder := audit.NewRecorder(actions)
	actionRecorder.SetLogger(log.Component("audit"))
	recorders := plantcare.Recorders{actionRecorder}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err, "failures", influxClient.WriteFailures())
		})
		recorders = append(recorders, influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	proc.SetRecorder(recorders)

	if cfg.Telegram.Enabled {
		notifier := notify.NewTelegram(cfg.Telegram, store, sessions)
		notifier.SetLogger(log.Component("telegram"))
		proc.SetNotifier(notifier)
		log.Info("Telegram notifications enabled")
	} else {
		log.Info("Telegram notifications disabled")
	}

	gardens := garden.NewManager(store, plants, users, twins)
	gardens.SetLogger(log.Component("garden"))
	gardens.SetPlantLocker(proc)
	gardens.SetUserLocks(userLocks)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	proc.SetEventSink(hub)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Gardens:  gardens,
		Accounts: accounts,
		Plants:   proc,
		Services: twins,
		Actions:  actions,
		Catalog:  catalog,
		Schemas:  schemas,
		DB:       db.DB,
		Broker:   mqttClient,
		Checks:   checks,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		handler := ingest.NewHandler(proc)
		handler.SetLogger(log.Component("ingest"))
		if err := handler.Start(gctx, mqttClient); err != nil {
			return fmt.Errorf("starting ingestion: %w", err)
		}
		log.Info("ingestion started")
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		<-gctx.Done()
		return server.Close()
	})

	g.Go(func() error {
		sweepSessions(gctx, sessions, log)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	err = g.Wait()
	log.Info("SmartPlant stopped")
	return err
}

// sweepSessions purges expired chat sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, sessions *session.SQLiteStore, log *logging.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				log.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired sessions removed", "count", n)
			}
		}
	}
}

// healthCheck runs every check once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
