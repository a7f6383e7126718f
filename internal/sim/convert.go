package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
)

// Outcome is the terminal state of one (user, metric) evaluation.
type Outcome string

const (
	// OutcomeNotConverted: the Bernoulli draw failed.
	OutcomeNotConverted Outcome = "not_converted"
	// OutcomeDropped: the user converted, but the timestamp landed past
	// the end of the simulated traffic and was discarded.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRetained: the conversion was kept as an output row.
	OutcomeRetained Outcome = "retained"
)

// Trials bounding the conversion latency draw. Latency in days follows
// Binomial(latencyTrials, window/latencyTrials): biased toward the
// attribution window, occasionally longer.
const latencyTrials = 30

// ConversionSimulator decides, per (user, metric), whether a conversion
// happens and when. Each user's trajectory depends only on their assigned
// seed, so users fan out across a worker pool; a stable sort afterwards
// restores the order downstream invariants rely on.
type ConversionSimulator struct {
	cfg *config.Scenario
	log *zap.SugaredLogger
}

func NewConversionSimulator(cfg *config.Scenario, log *zap.SugaredLogger) *ConversionSimulator {
	return &ConversionSimulator{cfg: cfg, log: log}
}

// Simulate draws conversion outcomes for every traffic user against every
// metric. Conversions anchor on the user's first visit, or on their
// latest enrollment when experiments apply, and never land after the last
// traffic timestamp.
func (s *ConversionSimulator) Simulate(
	ctx context.Context,
	traffic []dataset.TrafficEvent,
	enrollments []dataset.EnrollmentRecord,
	rates map[RateKey]float64,
	pool *SeedPool,
) ([]dataset.ConversionEvent, error) {
	users := dataset.DistinctUsers(traffic)
	firstVisit := dataset.FirstVisitIndex(traffic)
	maxTS := dataset.MaxTimestamp(traffic)

	experiments := make(map[string]*config.Experiment, len(s.cfg.Experiments))
	for i := range s.cfg.Experiments {
		experiments[s.cfg.Experiments[i].ID] = &s.cfg.Experiments[i]
	}
	enrolledBy := make(map[int64][]dataset.EnrollmentRecord)
	for _, r := range enrollments {
		enrolledBy[r.UserID] = append(enrolledBy[r.UserID], r)
	}

	var notConverted, dropped, retained atomic.Int64
	perUser := make([][]dataset.ConversionEvent, len(users))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, userID := range users {
		i, userID := i, userID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seed, err := pool.Seed(i)
			if err != nil {
				return err
			}
			events, tally, err := s.simulateUser(userID, seed, firstVisit[userID], maxTS, enrolledBy[userID], experiments, rates)
			if err != nil {
				return err
			}
			perUser[i] = events
			notConverted.Add(tally[OutcomeNotConverted])
			dropped.Add(tally[OutcomeDropped])
			retained.Add(tally[OutcomeRetained])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var events []dataset.ConversionEvent
	for _, ue := range perUser {
		events = append(events, ue...)
	}
	sort.SliceStable(events, func(a, b int) bool {
		if events[a].UserID != events[b].UserID {
			return events[a].UserID < events[b].UserID
		}
		return events[a].MetricID < events[b].MetricID
	})

	s.log.Infow("simulated conversions",
		"users", len(users),
		"retained", retained.Load(),
		"dropped_future", dropped.Load(),
		"not_converted", notConverted.Load(),
	)
	return events, nil
}

// simulateUser walks one user's metrics in scenario order with one rng
// seeded from the user's pool assignment.
func (s *ConversionSimulator) simulateUser(
	userID int64,
	seed int64,
	firstVisit time.Time,
	maxTS time.Time,
	enrolled []dataset.EnrollmentRecord,
	experiments map[string]*config.Experiment,
	rates map[RateKey]float64,
) ([]dataset.ConversionEvent, map[Outcome]int64, error) {
	rng := rand.New(rand.NewSource(seed))
	tally := make(map[Outcome]int64, 3)

	// Conversions must follow enrollment, so enrolled users anchor on
	// their latest enrollment instead of their first visit.
	anchor := firstVisit
	for _, r := range enrolled {
		if r.EnrolledAt.After(anchor) {
			anchor = r.EnrolledAt
		}
	}

	var events []dataset.ConversionEvent
	for _, metric := range s.cfg.Metrics {
		rate, ok := rates[RateKey{UserID: userID, MetricID: metric.ID}]
		if !ok {
			return nil, nil, fmt.Errorf("unresolved conversion rate for user %d metric %s: %w", userID, metric.ID, ErrInvariant)
		}
		if rng.Float64() >= rate {
			tally[OutcomeNotConverted]++
			continue
		}
		window := effectiveWindow(metric, enrolled, experiments)
		latencyDays := binomialDraw(rng, latencyTrials, float64(window)/float64(latencyTrials))
		ts := anchor.AddDate(0, 0, latencyDays).Add(time.Duration(rng.Int63n(secondsPerDay)) * time.Second)
		if ts.After(maxTS) {
			tally[OutcomeDropped]++
			continue
		}
		tally[OutcomeRetained]++
		events = append(events, dataset.ConversionEvent{
			UserID:      userID,
			MetricID:    metric.ID,
			ConvertedAt: ts,
		})
	}
	return events, tally, nil
}

// effectiveWindow resolves the attribution window for one (user, metric):
// the tightest window among the user's experiments, or the metric default
// when no experiment applies.
func effectiveWindow(metric config.Metric, enrolled []dataset.EnrollmentRecord, experiments map[string]*config.Experiment) int {
	window := metric.WindowDays
	seen := false
	for _, r := range enrolled {
		w := experiments[r.ExperimentID].Window(metric)
		if !seen || w < window {
			window = w
		}
		seen = true
	}
	return window
}

// binomialDraw counts successes over n Bernoulli(p) trials.
func binomialDraw(rng *rand.Rand, n int, p float64) int {
	if p >= 1 {
		return n
	}
	if p <= 0 {
		return 0
	}
	k := 0
	for i := 0; i < n; i++ {
		if rng.Float64() < p {
			k++
		}
	}
	return k
}
