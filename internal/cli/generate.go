package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/abforge/abforge/internal/logger"
	"github.com/abforge/abforge/internal/sim"
	"github.com/abforge/abforge/internal/store"
	"github.com/abforge/abforge/internal/validate"
)

func init() {
	rootCmd.AddCommand(newGenerateCmd())
}

func newGenerateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the simulation pipeline and persist the dataset",
		Long: `Run the full simulation pipeline - traffic, enrollment, conversion
rates, conversions - validate every table, and persist the result.

An existing dataset in the target database is replaced; you are asked to
confirm unless --force is given.

Examples:
  abforge generate
  abforge generate --config scenario.yaml --db demo.db
  abforge generate --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadScenario()
			if err != nil {
				return err
			}

			log, err := logger.New(os.Getenv("ABFORGE_LOG"))
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer log.Sync()

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				if _, err := s.LatestRun(ctx); err == nil && !force {
					ok, err := confirmOverwrite()
					if err != nil {
						return err
					}
					if !ok {
						fmt.Println("Aborted.")
						return nil
					}
				} else if err != nil && err != store.ErrNoRun {
					return err
				}

				ds, reports, err := sim.New(cfg, log).Run(ctx)
				if err != nil {
					return fmt.Errorf("simulation failed: %w", err)
				}

				vctx, err := validate.NewContext(cfg)
				if err != nil {
					return err
				}
				if err := validate.Dataset(ds, vctx); err != nil {
					return err
				}

				anchor, err := cfg.AnchorTime()
				if err != nil {
					return err
				}
				run := store.RunInfo{
					ID:        uuid.NewString(),
					Seed:      cfg.Seed,
					Anchor:    anchor,
					CreatedAt: time.Now().UTC(),
				}
				if err := s.SaveDataset(ctx, run, ds); err != nil {
					return err
				}

				fmt.Printf("Generated dataset %s (seed %d):\n", run.ID, run.Seed)
				fmt.Printf("  website_traffic:     %d rows\n", len(ds.WebsiteTraffic))
				fmt.Printf("  experiment_traffic:  %d rows\n", len(ds.ExperimentTraffic))
				fmt.Printf("  conversion_events:   %d rows\n", len(ds.ConversionEvents))
				for _, r := range reports {
					fmt.Printf("  %s: %d enrolled\n", r.ExperimentID, r.Enrolled)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing dataset without asking")
	return cmd
}

func confirmOverwrite() (bool, error) {
	prompt := promptui.Prompt{
		Label:     "Database already holds a dataset. Replace it",
		IsConfirm: true,
	}
	_, err := prompt.Run()
	switch err {
	case nil:
		return true, nil
	case promptui.ErrInterrupt, promptui.ErrAbort:
		return false, nil
	default:
		return false, err
	}
}
