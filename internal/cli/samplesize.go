package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abforge/abforge/internal/stats"
)

func init() {
	rootCmd.AddCommand(newSampleSizeCmd())
}

func newSampleSizeCmd() *cobra.Command {
	var (
		baseline float64
		lift     float64
		power    float64
		alpha    float64
		arms     int
	)

	cmd := &cobra.Command{
		Use:   "samplesize",
		Short: "Compute the required per-arm sample size",
		Long: `Compute the per-arm sample size needed to detect a relative lift over
a baseline conversion rate with a two-proportion z-test.

Example:
  abforge samplesize --baseline 0.05 --lift 0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := stats.RequiredSampleSize(baseline, lift, power, alpha)
			if err != nil {
				return err
			}
			fmt.Printf("baseline %.4f, lift %+.4f, power %.2f, alpha %.2f\n", baseline, lift, power, alpha)
			fmt.Printf("  per arm: %d\n", n)
			fmt.Printf("  total (%d arms): %d\n", arms, n*arms)
			return nil
		},
	}

	cmd.Flags().Float64Var(&baseline, "baseline", 0.05, "baseline conversion rate in (0,1)")
	cmd.Flags().Float64Var(&lift, "lift", 0.05, "relative lift to detect (e.g. 0.05 for +5%)")
	cmd.Flags().Float64Var(&power, "power", 0.8, "statistical power in (0,1)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "two-sided significance level in (0,1)")
	cmd.Flags().IntVar(&arms, "arms", 2, "number of variations, for the total")

	return cmd
}
