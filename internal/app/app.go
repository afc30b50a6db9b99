package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/amaumene/yggsync/internal/api"
	"github.com/amaumene/yggsync/internal/config"
	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/notifier"
	"github.com/amaumene/yggsync/internal/scheduler"
	"github.com/amaumene/yggsync/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App holds the wired service
type App struct {
	Config          *config.Config
	Logger          *logrus.Logger
	ShutdownTracing telemetry.ShutdownFunc
	DB              *models.Database
	Registry        *prometheus.Registry
	Hub             *notifier.Hub
	Sync            *controllers.SyncController
	Export          *controllers.ExportController
	Scheduler       *scheduler.Scheduler
	Reporter        *notifier.Reporter
	Server          *api.Server
}

// Serve starts the scheduler and the HTTP server and blocks until ctx is
// done or the server fails. It always shuts the service down before
// returning.
func (a *App) Serve(ctx context.Context) error {
	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	go a.Reporter.Listen(listenCtx)

	if err := a.Scheduler.Start(); err != nil {
		return errors.Join(fmt.Errorf("failed to start scheduler: %w", err), a.Shutdown(context.Background()))
	}

	a.Logger.WithFields(logrus.Fields{
		"version":         config.Version,
		"update_interval": a.Config.UpdateInterval,
	}).Info("yggsync is running")

	serverErr := a.Server.Start(ctx)
	return errors.Join(serverErr, a.Shutdown(context.Background()))
}

// Shutdown stops the scheduler, cancels running passes and waits for them,
// disconnects observers and flushes traces
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	a.Sync.CancelAll()
	a.Sync.Wait()
	a.Hub.Close()

	if err := a.ShutdownTracing(ctx); err != nil {
		return fmt.Errorf("failed to flush traces: %w", err)
	}
	a.Logger.Info("yggsync stopped")
	return nil
}
