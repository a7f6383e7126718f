package sim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
)

// RateKey addresses one effective conversion probability.
type RateKey struct {
	UserID   int64
	MetricID string
}

// RateModel resolves the probability used to simulate whether each user
// converts on each metric, blending the metric baseline with the lifts of
// every experiment the user is enrolled in.
type RateModel struct {
	cfg *config.Scenario
	log *zap.SugaredLogger
}

func NewRateModel(cfg *config.Scenario, log *zap.SugaredLogger) *RateModel {
	return &RateModel{cfg: cfg, log: log}
}

// EffectiveRates computes exactly one rate per (traffic user, metric).
// A user in no experiment keeps the baseline. A user in one or more
// experiments gets the arithmetic mean of the per-experiment adjusted
// rates; the bare baseline does not join the average, and lifts are never
// compounded multiplicatively.
func (m *RateModel) EffectiveRates(traffic []dataset.TrafficEvent, enrollments []dataset.EnrollmentRecord) (map[RateKey]float64, error) {
	users := dataset.DistinctUsers(traffic)

	experiments := make(map[string]*config.Experiment, len(m.cfg.Experiments))
	for i := range m.cfg.Experiments {
		experiments[m.cfg.Experiments[i].ID] = &m.cfg.Experiments[i]
	}

	enrolledBy := make(map[int64][]dataset.EnrollmentRecord)
	for _, r := range enrollments {
		if _, known := experiments[r.ExperimentID]; !known {
			return nil, fmt.Errorf("enrollment references unknown experiment %s: %w", r.ExperimentID, ErrInvariant)
		}
		enrolledBy[r.UserID] = append(enrolledBy[r.UserID], r)
	}

	rates := make(map[RateKey]float64, len(users)*len(m.cfg.Metrics))
	for _, userID := range users {
		for _, metric := range m.cfg.Metrics {
			key := RateKey{UserID: userID, MetricID: metric.ID}
			if _, dup := rates[key]; dup {
				return nil, fmt.Errorf("duplicate effective rate for user %d metric %s: %w", userID, metric.ID, ErrInvariant)
			}
			rates[key] = m.effectiveRate(metric, enrolledBy[userID], experiments)
		}
	}

	if len(rates) != len(users)*len(m.cfg.Metrics) {
		return nil, fmt.Errorf("resolved %d effective rates for %d users and %d metrics: %w",
			len(rates), len(users), len(m.cfg.Metrics), ErrInvariant)
	}

	m.log.Infow("resolved effective conversion rates",
		"users", len(users),
		"metrics", len(m.cfg.Metrics),
		"rates", len(rates),
	)
	return rates, nil
}

func (m *RateModel) effectiveRate(metric config.Metric, enrolled []dataset.EnrollmentRecord, experiments map[string]*config.Experiment) float64 {
	if len(enrolled) == 0 {
		return metric.BaselineRate
	}
	sum := 0.0
	for _, r := range enrolled {
		lift := experiments[r.ExperimentID].Lift(r.Variation, metric.ID)
		sum += metric.BaselineRate * (1 + lift)
	}
	return sum / float64(len(enrolled))
}
