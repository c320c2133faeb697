package bootstrap

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/broker"
	"github.com/Adam151997/Y-CRM-sub000/internal/cache"
	"github.com/Adam151997/Y-CRM-sub000/internal/config"

	"github.com/appleboy/graceful"
)

// createHTTPServer creates the HTTP server instance
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// startWithGracefulShutdown starts the server and blocks until shutdown
// completes
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, app.Server)
	addServerShutdownJob(m, app.Server)
	addAuditServiceShutdownJob(m, app.AuditService)
	addAuditLogCleanupJob(m, app.Config, app.AuditService)
	addStatusCacheShutdownJob(m, app.StatusCache)

	<-m.Done()
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(m *graceful.Manager, srv *http.Server) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}

		log.Println("Server exited")
		return nil
	})
}

// addAuditServiceShutdownJob flushes buffered audit entries on shutdown
func addAuditServiceShutdownJob(m *graceful.Manager, auditService *audit.Service) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down audit service...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := auditService.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down audit service: %v", err)
			return err
		}
		return nil
	})
}

// addAuditLogCleanupJob adds the periodic audit retention sweep
func addAuditLogCleanupJob(m *graceful.Manager, cfg *config.Config, auditService *audit.Service) {
	if !cfg.AuditEnabled || cfg.AuditRetention <= 0 {
		return
	}

	cleanup := func() {
		if deleted, err := auditService.CleanupOldLogs(cfg.AuditRetention); err != nil {
			log.Printf("Failed to cleanup old audit logs: %v", err)
		} else if deleted > 0 {
			log.Printf("Cleaned up %d old audit logs", deleted)
		}
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		// Run cleanup immediately on startup
		cleanup()

		for {
			select {
			case <-ticker.C:
				cleanup()
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// addStatusCacheShutdownJob closes the status cache connection
func addStatusCacheShutdownJob(m *graceful.Manager, c cache.Cache[broker.StatusSnapshot]) {
	if c == nil {
		return
	}

	m.AddShutdownJob(func() error {
		if err := c.Close(); err != nil {
			log.Printf("Error closing status cache: %v", err)
			return err
		}
		log.Println("Status cache closed")
		return nil
	})
}
