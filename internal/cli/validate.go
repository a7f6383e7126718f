package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abforge/abforge/internal/store"
	"github.com/abforge/abforge/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-run the integrity checks against the stored dataset",
	Long: `Reload the persisted tables and re-run every referential, uniqueness,
and ordering check against them. Exits non-zero on the first violation,
naming the table and the rule.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario()
	if err != nil {
		return err
	}
	vctx, err := validate.NewContext(cfg)
	if err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		if _, err := s.LatestRun(ctx); err != nil {
			if err == store.ErrNoRun {
				return fmt.Errorf("no dataset generated yet; run 'abforge generate' first")
			}
			return err
		}

		ds, err := s.LoadDataset(ctx)
		if err != nil {
			return err
		}
		if err := validate.Dataset(ds, vctx); err != nil {
			return err
		}

		fmt.Printf("Dataset is consistent: %d traffic, %d enrollment, %d conversion rows.\n",
			len(ds.WebsiteTraffic), len(ds.ExperimentTraffic), len(ds.ConversionEvents))
		return nil
	})
}
