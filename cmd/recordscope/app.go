package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"recordscope/internal/client"
	"recordscope/internal/interfaces"
	"recordscope/internal/server"
	"recordscope/internal/service"
	"recordscope/internal/storage"
	"recordscope/internal/types"
)

// Application wires the state store, the Query Service client, the record views
// and the local API server
type Application struct {
	config      *types.Config
	state       interfaces.StateStore
	client      *client.Client
	viewService *service.ViewService
	httpServer  *server.HTTPServer
}

// NewApplication creates a new application instance from a loaded configuration
func NewApplication(cfg *types.Config) (*Application, error) {
	app := &Application{config: cfg}

	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	state, err := storage.Open(app.config.StateDriver, app.config.StatePath)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}
	app.state = state

	app.client = client.New(app.config.ServiceURL, app.config.RequestTimeout)

	app.viewService = service.NewViewService(app.client, state, service.Config{
		View: service.ViewConfig{
			DefaultLimit:     app.config.DefaultLimit,
			ExportCeiling:    app.config.ExportCeiling,
			TimezoneOverride: app.config.Timezone,
		},
		StatusInterval: app.config.StatusInterval,
		ProbeTimeout:   app.config.RequestTimeout,
	})

	app.httpServer = server.NewHTTPServer(app.config, app.viewService)
	return nil
}

// View returns the record view of kind
func (app *Application) View(kind types.RecordKind) (*service.RecordView, error) {
	return app.viewService.View(kind)
}

// Start starts the background monitor and the local API, then activates every view
func (app *Application) Start(ctx context.Context) error {
	log.Info().Msg("starting recordscope components")

	if err := app.viewService.Start(); err != nil {
		return fmt.Errorf("failed to start view service: %w", err)
	}

	if err := app.httpServer.Start(); err != nil {
		app.viewService.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// A failed initial query is displayed by the view, it does not prevent startup
	if err := app.viewService.ActivateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("initial queries failed")
	}
	return nil
}

// Stop gracefully stops all application components
func (app *Application) Stop() error {
	log.Info().Msg("stopping recordscope components")

	var errs []error

	// Stop components in reverse order
	if app.httpServer != nil {
		if err := app.httpServer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server stop error: %w", err))
		}
	}

	if app.viewService != nil {
		if err := app.viewService.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("view service stop error: %w", err))
		}
	}

	if err := app.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Close releases the state store
func (app *Application) Close() error {
	if app.state == nil {
		return nil
	}
	err := app.state.Close()
	app.state = nil
	if err != nil {
		return fmt.Errorf("state store close error: %w", err)
	}
	return nil
}

// GetStats returns application statistics
func (app *Application) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"view_service": app.viewService.GetStats(),
		"http_server":  app.httpServer.GetStats(),
	}
}
