package bootstrap

import (
	"fmt"

	"github.com/Adam151997/Y-CRM-sub000/internal/config"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"
)

// initializeDatabase creates and migrates the database connection
func initializeDatabase(cfg *config.Config) (*store.Store, error) {
	db, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}
