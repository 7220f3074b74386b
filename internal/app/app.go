package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/orgmigrate/internal/analysis"
	"github.com/vk/orgmigrate/internal/bulkapi"
	"github.com/vk/orgmigrate/internal/config"
	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entitystore"
	"github.com/vk/orgmigrate/internal/filestore"
	"github.com/vk/orgmigrate/internal/metrics"
	"github.com/vk/orgmigrate/internal/orchestrator"
	"github.com/vk/orgmigrate/internal/schema"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context
	config *config.Model

	store   entitystore.Store
	source  *bulkapi.Client
	target  *bulkapi.Client
	metrics *metrics.Metrics
	resume  bool

	healthcheckPort int
	httpServer      *http.Server
}

// NewApp is the constructor for the main application. It loads the
// configuration file through loader and builds the platform clients and the
// store. Reports and logs go to outW.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfg, err := loader.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "source", cfg.Source.Alias, "target", cfg.Target.Alias)

	opts := bulkapi.Options{
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.HTTPTimeout,
		RateLimit:  cfg.RateLimit,
	}

	return &App{
		outW:            outW,
		logger:          logger,
		ctx:             ctx,
		config:          cfg,
		store:           filestore.New(cfg.DataDir),
		source:          bulkapi.New(environment(cfg.Source), opts),
		target:          bulkapi.New(environment(cfg.Target), opts),
		metrics:         metrics.New(),
		resume:          appConfig.Resume,
		healthcheckPort: appConfig.HealthcheckPort,
	}, nil
}

func environment(env config.Environment) bulkapi.Environment {
	return bulkapi.Environment{Alias: env.Alias, InstanceURL: env.InstanceURL, AccessToken: env.AccessToken}
}

// Context returns a context carrying the app's logger, derived from parent.
func (a *App) Context(parent context.Context) context.Context {
	return ctxlog.WithLogger(parent, a.logger)
}

// Start launches the health check server when a port is configured.
func (a *App) Start() {
	if a.healthcheckPort > 0 {
		a.startHealthcheckServer(a.healthcheckPort)
	}
}

// Close stops the health check server and releases idle connections.
func (a *App) Close() error {
	err := a.closeHealthcheckServer()
	a.source.Close()
	a.target.Close()
	return err
}

// Store returns the store stages read from and write to.
func (a *App) Store() entitystore.Store {
	return a.store
}

// Metrics returns the app's metric set.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// runContext builds the explicit context every orchestrator stage receives.
func (a *App) runContext() *orchestrator.RunContext {
	poller := orchestrator.NewPoller(a.config.Poll.Interval, a.config.Poll.MaxAttempts)
	poller.Metrics = a.metrics

	overrides := make(map[string]orchestrator.Override, len(a.config.Overrides))
	for name, o := range a.config.Overrides {
		overrides[name] = orchestrator.Override{Query: o.Query, ExternalIDField: o.ExternalIDField}
	}

	return &orchestrator.RunContext{
		Store:             a.store,
		Source:            a.source,
		Target:            a.target,
		DefaultExternalID: a.config.DefaultExternalID,
		Overrides:         overrides,
		Resume:            a.resume,
		Poller:            poller,
		Collector:         &analysis.Collector{Store: a.store},
		Metrics:           a.metrics,
	}
}

func (a *App) retriever(rc *orchestrator.RunContext) *schema.Retriever {
	return &schema.Retriever{
		Store:             a.store,
		Source:            a.source,
		ExceptionFields:   a.config.ExceptionFields,
		DefaultExternalID: rc.DefaultExternalID,
		Overrides:         rc.Overrides,
	}
}
