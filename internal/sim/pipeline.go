package sim

import (
	"context"

	"go.uber.org/zap"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
)

// Pipeline runs the full simulation as a fixed sequence of stages, each
// consuming the complete, read-only output of its predecessor:
// traffic -> enrollment -> effective rates -> conversions. The run is a
// pure function of the scenario; re-running it regenerates identical
// tables.
type Pipeline struct {
	cfg *config.Scenario
	log *zap.SugaredLogger
}

func New(cfg *config.Scenario, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{cfg: cfg, log: log}
}

// Run executes every stage and assembles the five output tables.
func (p *Pipeline) Run(ctx context.Context) (*dataset.Dataset, []EnrollmentReport, error) {
	traffic, err := NewTrafficGenerator(p.cfg, p.log).Generate()
	if err != nil {
		return nil, nil, err
	}

	enrollments, reports, err := NewEnroller(p.cfg, p.log).Enroll(traffic)
	if err != nil {
		return nil, nil, err
	}

	rates, err := NewRateModel(p.cfg, p.log).EffectiveRates(traffic, enrollments)
	if err != nil {
		return nil, nil, err
	}

	// Seed assignment is fixed before any conversion worker starts.
	pool := NewSeedPool(p.cfg.Seed, len(dataset.DistinctUsers(traffic)))

	conversions, err := NewConversionSimulator(p.cfg, p.log).Simulate(ctx, traffic, enrollments, rates, pool)
	if err != nil {
		return nil, nil, err
	}

	ds := &dataset.Dataset{
		ExperimentInfo:     p.experimentInfo(),
		AttributionWindows: p.attributionWindows(),
		WebsiteTraffic:     traffic,
		ExperimentTraffic:  enrollments,
		ConversionEvents:   conversions,
	}
	return ds, reports, nil
}

func (p *Pipeline) experimentInfo() []dataset.VariationInfo {
	var rows []dataset.VariationInfo
	for _, exp := range p.cfg.Experiments {
		for _, v := range exp.Variations {
			rows = append(rows, dataset.VariationInfo{
				ExperimentID: exp.ID,
				Variation:    v.Name,
				IsControl:    v.Control,
			})
		}
	}
	return rows
}

// attributionWindows emits one row per (experiment, metric): the
// experiment override when present, else the metric default.
func (p *Pipeline) attributionWindows() []dataset.AttributionWindow {
	var rows []dataset.AttributionWindow
	for i := range p.cfg.Experiments {
		exp := &p.cfg.Experiments[i]
		for _, m := range p.cfg.Metrics {
			rows = append(rows, dataset.AttributionWindow{
				ExperimentID: exp.ID,
				MetricID:     m.ID,
				WindowDays:   exp.Window(m),
			})
		}
	}
	return rows
}
