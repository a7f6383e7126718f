package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "abforge",
	Short: "abforge - synthetic dataset generator for A/B experimentation tools",
	Long: `abforge synthesizes an internally-consistent dataset for an online
experimentation platform: website traffic, experiment enrollment with
deterministic variation assignment, and time-lagged conversion events
under per-metric attribution windows.

The whole run is a pure function of the scenario configuration and its
seed: re-running with the same inputs regenerates identical tables.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("ABFORGE_DB_PATH", "./abforge.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ABFORGE_CONFIG"), "scenario YAML (empty uses the built-in scenario)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
