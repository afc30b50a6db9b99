package app

import (
	"context"
	"fmt"

	"github.com/amaumene/yggsync/internal/api"
	"github.com/amaumene/yggsync/internal/config"
	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/amaumene/yggsync/internal/metrics"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/notifier"
	"github.com/amaumene/yggsync/internal/scheduler"
	"github.com/amaumene/yggsync/internal/services/ygg"
	"github.com/amaumene/yggsync/internal/telemetry"
	"github.com/amaumene/yggsync/internal/utils"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// ProviderSet builds the whole service from a *config.Config
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideTracing,
	ProvideDatabase,
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	metrics.New,
	ygg.NewClient,
	notifier.NewHub,
	controllers.NewSyncOptions,
	controllers.NewSyncController,
	controllers.NewExportController,
	scheduler.NewScheduler,
	ProvideReporter,
	api.NewServer,

	wire.Bind(new(controllers.TorrentStore), new(*models.Database)),
	wire.Bind(new(controllers.ExportStore), new(*models.Database)),
	wire.Bind(new(controllers.TorrentSource), new(*ygg.Client)),
	wire.Bind(new(controllers.Publisher), new(*notifier.Hub)),
	wire.Bind(new(scheduler.Runner), new(*controllers.SyncController)),

	wire.Struct(new(App), "*"),
)

// ProvideLogger creates the application logger
func ProvideLogger(cfg *config.Config) *logrus.Logger {
	return utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
}

// ProvideTracing installs the global tracer provider before anything opens
// a span
func ProvideTracing(cfg *config.Config, logger *logrus.Logger) (telemetry.ShutdownFunc, error) {
	tcfg := telemetry.Config{
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		Stdout:         cfg.TracingStdout,
		ServiceName:    config.ServiceName,
		ServiceVersion: config.Version,
	}
	shutdown, err := telemetry.Setup(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	if tcfg.Enabled() {
		logger.WithFields(logrus.Fields{
			"otlp_endpoint": cfg.OTLPEndpoint,
			"stdout":        cfg.TracingStdout,
		}).Info("Tracing enabled")
	}
	return shutdown, nil
}

// ProvideDatabase opens the store. It depends on the tracing shutdown so
// the gorm plugin picks up the configured provider.
func ProvideDatabase(cfg *config.Config, _ telemetry.ShutdownFunc, logger *logrus.Logger) (*models.Database, func(), error) {
	db, err := models.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.WithField("driver", db.Driver()).Info("Database initialized")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("Failed to close database")
		}
	}
	return db, cleanup, nil
}

// ProvideRegistry creates the Prometheus registry with the runtime
// collectors
func ProvideRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// ProvideReporter creates the stats reporter with the default cache TTL
func ProvideReporter(db *models.Database, syncCtrl *controllers.SyncController, sched *scheduler.Scheduler, hub *notifier.Hub, logger *logrus.Logger) *notifier.Reporter {
	return notifier.NewReporter(db, syncCtrl, sched, hub, notifier.DefaultSnapshotTTL, logger)
}
