package sim

import (
	"time"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
	"github.com/abforge/abforge/internal/logger"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return logger.Nop()
}

// testScenario is a compact scenario: 1,000 draws over a 90-day horizon,
// one experiment active on days [50, 20] before the anchor on the root
// path.
func testScenario() *config.Scenario {
	return &config.Scenario{
		Seed:             42,
		Anchor:           "2024-06-01T00:00:00Z",
		HorizonDays:      90,
		Population:       1000,
		MaxRepeatVisits:  4,
		RepeatSpreadDays: 6,
		Workers:          2,
		Paths: []config.PathWeight{
			{Path: "/", Weight: 6},
			{Path: "/pricing", Weight: 2},
			{Path: "/signup", Weight: 1},
		},
		Metrics: []config.Metric{
			{ID: "signup", BaselineRate: 0.05, WindowDays: 7},
			{ID: "purchase", BaselineRate: 0.02, WindowDays: 14},
		},
		Experiments: []config.Experiment{
			{
				ID:           "root-hero",
				StartDaysAgo: 50,
				EndDaysAgo:   20,
				Paths:        []string{"/"},
				Variations: []config.Variation{
					{Name: "control", Control: true},
					{Name: "variant-b"},
				},
				Adjustments: []config.Adjustment{
					{Variation: "variant-b", Metric: "signup", Lift: 0.1},
				},
			},
		},
		ProgressBaselines: []float64{0.05},
		ProgressLift:      0.05,
		ProgressPower:     0.8,
		ProgressAlpha:     0.05,
	}
}

func mustAnchor(cfg *config.Scenario) time.Time {
	anchor, err := cfg.AnchorTime()
	if err != nil {
		panic(err)
	}
	return anchor
}

func visit(user int64, ts time.Time, path string) dataset.TrafficEvent {
	return dataset.TrafficEvent{UserID: user, VisitDate: ts, Path: path}
}
