package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abforge/abforge/internal/logger"
	"github.com/abforge/abforge/internal/sim"
	"github.com/abforge/abforge/internal/store"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show enrollment progress per experiment",
	Long: `Show the daily and cumulative enrollment series for each experiment,
and how far cumulative enrollment has come toward the sample size each
candidate baseline rate would require. Descriptive only.`,
	RunE: runProgress,
}

func init() {
	rootCmd.AddCommand(progressCmd)
}

func runProgress(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario()
	if err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		run, err := s.LatestRun(ctx)
		if err != nil {
			if err == store.ErrNoRun {
				return fmt.Errorf("no dataset generated yet; run 'abforge generate' first")
			}
			return err
		}

		records, err := s.LoadExperimentTraffic(ctx)
		if err != nil {
			return err
		}

		reports, err := sim.NewEnroller(cfg, logger.Nop()).ReportFromRecords(records)
		if err != nil {
			return err
		}

		fmt.Printf("RUN: %s (seed %d)\n\n", run.ID, run.Seed)
		for _, r := range reports {
			printReport(r)
		}
		return nil
	})
}

func printReport(r sim.EnrollmentReport) {
	fmt.Printf("EXPERIMENT: %s\n", r.ExperimentID)
	fmt.Printf("  enrolled: %d users", r.Enrolled)
	if n := len(r.Series.Days); n > 0 {
		fmt.Printf(" over %d days (%s .. %s)",
			n,
			r.Series.Days[0].Format("2006-01-02"),
			r.Series.Days[n-1].Format("2006-01-02"))
	}
	fmt.Println()

	for _, p := range r.Progress {
		bar := progressBar(p.PercentOfNeeded, 30)
		fmt.Printf("  baseline %5.2f%%: %7d/arm needed  %s %.1f%%\n",
			p.BaselineRate*100, p.RequiredPerArm, bar, p.PercentOfNeeded)
	}
	fmt.Println()
}

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
