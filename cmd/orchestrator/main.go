// Command orchestrator runs the ground-station fleet orchestrator: field
// unit registry and liveness, pass planning and round-robin assignment,
// tick-driven activity execution, the websocket channel to field units, and
// the HTTP control surface.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/groundlink/internal/api"
	"github.com/signalsfoundry/groundlink/internal/engine"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"github.com/signalsfoundry/groundlink/internal/registry"
	"github.com/signalsfoundry/groundlink/internal/schedule"
	"github.com/signalsfoundry/groundlink/internal/tle"
	"github.com/signalsfoundry/groundlink/internal/transport"
	"github.com/signalsfoundry/groundlink/internal/users"
	"github.com/signalsfoundry/groundlink/passes"
	"github.com/signalsfoundry/groundlink/timectrl"
)

type tleConfig struct {
	URL             string        `mapstructure:"url"`
	CachePath       string        `mapstructure:"cache_path"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type usersConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	CachePath string `mapstructure:"cache_path"`
}

type orchestratorConfig struct {
	Listen       string                      `mapstructure:"listen"`
	StaticDir    string                      `mapstructure:"static_dir"`
	DBPath       string                      `mapstructure:"db_path"`
	TickInterval time.Duration               `mapstructure:"tick_interval"`
	Log          logging.Config              `mapstructure:"log"`
	Registry     registry.Config             `mapstructure:"registry"`
	Plan         schedule.PlanConfig         `mapstructure:"plan"`
	TLE          tleConfig                   `mapstructure:"tle"`
	Users        usersConfig                 `mapstructure:"users"`
	Tracing      observability.TracingConfig `mapstructure:"tracing"`
}

func main() {
	var configFile string
	var cfg orchestratorConfig

	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Ground-station fleet orchestrator for satellite tracking",
		Run: func(c *cobra.Command, args []string) {
			if err := run(cfg); err != nil {
				log.Fatalf("orchestrator exited: %v", err)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")

	viper.SetDefault("listen", ":8080")
	viper.SetDefault("static_dir", "web")
	viper.SetDefault("db_path", "groundlink.db")
	viper.SetDefault("tick_interval", "1s")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("registry.sweep_interval", "5s")
	viper.SetDefault("registry.timeout", "120s")
	viper.SetDefault("plan.horizon", "24h")
	viper.SetDefault("plan.min_elevation_deg", 10.0)
	viper.SetDefault("tle.url", tle.DefaultCatalogURL)
	viper.SetDefault("tle.cache_path", "tle-cache.json")
	viper.SetDefault("tle.refresh_interval", "6h")
	viper.SetDefault("users.cache_path", "users-cache.json")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.exporter", "stdout")
	viper.SetDefault("tracing.service_name", "groundlink-orchestrator")
	viper.SetDefault("tracing.sample_ratio", 1.0)
	viper.SetDefault("tracing.endpoint", "")

	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("ORCH")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				log.Fatalf("Failed to read config: %v", err)
			}
			log.Printf("Loaded config file: %s", configFile)
		}
		if err := viper.Unmarshal(&cfg); err != nil {
			log.Fatalf("Failed to parse config: %v", err)
		}
	})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cfg orchestratorConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	collector, err := observability.NewFleetCollector(nil)
	if err != nil {
		return err
	}

	catalog := tle.NewStore(tle.NewFetcher(nil, cfg.TLE.URL), cfg.TLE.CachePath, logger)
	if err := catalog.Bootstrap(ctx); err != nil {
		// Planning keeps the previous (empty) schedule until a refresh
		// succeeds, so a cold start without a catalog is degraded, not
		// fatal.
		logger.Error(ctx, "satellite catalog unavailable at startup", logging.Err(err))
	}
	go catalog.RunRefresh(ctx, cfg.TLE.RefreshInterval)

	userSvc := users.NewService(nil, cfg.Users.BaseURL, cfg.Users.CachePath, logger)
	userSvc.Bootstrap(ctx)

	reg := registry.New(cfg.Registry, timectrl.RealClock{}, logger, registry.WithMetricsRecorder(collector))
	go reg.RunSweeper(ctx)

	sched := schedule.New()
	store, err := schedule.OpenStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}

	hub := transport.NewHub(reg, logger)
	planner := schedule.NewPlanner(passes.NewSGP4Provider(), cfg.Plan, logger)

	eng := engine.New(engine.Config{
		Registry: reg,
		Schedule: sched,
		Store:    store,
		Planner:  planner,
		Sender:   hub,
		Pusher:   hub,
		TLEs:     catalog,
		Clock:    timectrl.RealClock{},
		Logger:   logger,
		Metrics:  collector,
	})
	hub.SetAckHandler(eng)

	if err := eng.LoadPersisted(ctx); err != nil {
		logger.Warn(ctx, "could not restore persisted schedule", logging.Err(err))
	}

	ticks := timectrl.NewTickController(cfg.TickInterval)
	ticks.AddListener(func(now time.Time) { eng.Tick(ctx, now) })
	go ticks.Run(ctx)

	// First plan of the day. Best effort: units connect over the next few
	// seconds and operators can regenerate on demand.
	go func() {
		time.Sleep(5 * time.Second)
		if err := eng.Regenerate(ctx); err != nil && !errors.Is(err, engine.ErrRegenerationBusy) {
			logger.Warn(ctx, "initial schedule regeneration failed", logging.Err(err))
		}
	}()

	server := api.NewServer(api.Config{
		Orchestrator:   eng,
		Fleet:          reg,
		Schedule:       sched,
		Catalog:        catalog,
		Users:          userSvc,
		WSHandler:      hub,
		MetricsHandler: collector.Handler(),
		Middleware:     collector.Middleware,
		StaticDir:      cfg.StaticDir,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "orchestrator listening", logging.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
