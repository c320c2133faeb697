// Package bootstrap wires configuration, infrastructure, and the HTTP
// surface into a running service. Initialization is phased: configuration
// first, then infrastructure, then the business layer, then HTTP.
package bootstrap

import (
	"log"
	"net/http"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/authstate"
	"github.com/Adam151997/Y-CRM-sub000/internal/broker"
	"github.com/Adam151997/Y-CRM-sub000/internal/cache"
	"github.com/Adam151997/Y-CRM-sub000/internal/config"
	"github.com/Adam151997/Y-CRM-sub000/internal/crypto"
	"github.com/Adam151997/Y-CRM-sub000/internal/metrics"
	"github.com/Adam151997/Y-CRM-sub000/internal/provider"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"

	"github.com/gin-gonic/gin"
)

// Application holds all initialized components
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB              *store.Store
	Encryptor       *crypto.Encryptor
	MetricsRecorder metrics.Recorder
	StatusCache     cache.Cache[broker.StatusSnapshot]

	// Business layer
	AuditService *audit.Service
	StateManager *authstate.Manager
	Adapters     []provider.Adapter
	Broker       *broker.Broker

	// HTTP
	Router *gin.Engine
	Server *http.Server
}

// Run initializes and starts the application
func Run(cfg *config.Config) error {
	app, err := NewApplication(cfg)
	if err != nil {
		return err
	}

	// Start server with graceful shutdown
	app.startWithGracefulShutdown()
	return nil
}

// NewApplication builds a fully wired but not yet started application.
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}

	// Phase 1: Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Phase 2: Initialize infrastructure
	if err := app.initializeInfrastructure(); err != nil {
		return nil, err
	}

	// Phase 3: Initialize business layer
	if err := app.initializeBusinessLayer(); err != nil {
		return nil, err
	}

	// Phase 4: Initialize HTTP layer
	app.initializeHTTPLayer()

	return app, nil
}

// initializeInfrastructure sets up the database, encryptor, metrics, and
// the status cache
func (app *Application) initializeInfrastructure() error {
	var err error

	app.DB, err = initializeDatabase(app.Config)
	if err != nil {
		return err
	}

	app.Encryptor, err = crypto.NewEncryptor(
		app.Config.EncryptionKeys,
		app.Config.EncryptionActiveKey,
	)
	if err != nil {
		return err
	}
	log.Printf("[Bootstrap] encryption keys loaded: versions=%v active=v%d",
		app.Encryptor.KeyVersions(), app.Encryptor.ActiveVersion())

	app.MetricsRecorder = metrics.Init(app.Config.MetricsEnabled)

	app.StatusCache, err = initializeStatusCache(app.Config)
	if err != nil {
		return err
	}

	return nil
}

// initializeBusinessLayer sets up the audit service, state manager,
// provider adapters, and the broker
func (app *Application) initializeBusinessLayer() error {
	app.AuditService = audit.NewService(
		app.DB,
		app.Config.AuditEnabled,
		app.Config.AuditBufferSize,
	)

	var err error
	app.StateManager, err = authstate.NewManager(app.Config.StateSecret, app.Config.StateLifetime)
	if err != nil {
		return err
	}

	app.Adapters = initializeAdapters(app.Config)

	app.Broker = broker.New(app.DB, app.Encryptor, app.Adapters, broker.Options{
		ExpiryBuffer: app.Config.TokenExpiryBuffer,
		StatusCache:  app.StatusCache,
		CacheTTL:     app.Config.CacheTTL,
		Metrics:      app.MetricsRecorder,
		Audit:        app.AuditService,
	})

	return nil
}

// initializeHTTPLayer sets up the router and HTTP server
func (app *Application) initializeHTTPLayer() {
	app.Router = setupRouter(app)
	app.Server = createHTTPServer(app.Config, app.Router)
}
