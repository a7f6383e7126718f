package cli

import (
	"fmt"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// loadScenario reads the configured scenario, falling back to the
// built-in one when no config file is given.
func loadScenario() (*config.Scenario, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return cfg, nil
}
