package sim

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
	"github.com/abforge/abforge/internal/stats"
)

// ProgressPoint relates cumulative enrollment to the sample size a
// candidate baseline rate would require. Per-arm convention: Required is
// the size one arm needs, and PercentOfNeeded compares it to the
// cumulative count divided across the experiment's arms.
type ProgressPoint struct {
	BaselineRate    float64
	RequiredPerArm  int
	PercentOfNeeded float64
}

// EnrollmentSeries is a daily and cumulative enrollment count series.
type EnrollmentSeries struct {
	Days       []time.Time
	Daily      []int
	Cumulative []int
}

// EnrollmentReport is the descriptive output attached to one experiment's
// enrollment: how fast users joined and how far along toward a detectable
// effect that enrollment is. It never feeds back into the pipeline.
type EnrollmentReport struct {
	ExperimentID string
	Enrolled     int
	Series       EnrollmentSeries
	Progress     []ProgressPoint
}

// Enroller places traffic users into experiments: first qualifying visit
// wins, variation assignment is a pure function of (experiment, user).
type Enroller struct {
	cfg *config.Scenario
	log *zap.SugaredLogger
}

func NewEnroller(cfg *config.Scenario, log *zap.SugaredLogger) *Enroller {
	return &Enroller{cfg: cfg, log: log}
}

// Enroll processes every experiment in the scenario against the finished
// traffic table. Traffic must already be in (user, timestamp) order.
func (e *Enroller) Enroll(traffic []dataset.TrafficEvent) ([]dataset.EnrollmentRecord, []EnrollmentReport, error) {
	anchor, err := e.cfg.AnchorTime()
	if err != nil {
		return nil, nil, err
	}

	var records []dataset.EnrollmentRecord
	reports := make([]EnrollmentReport, 0, len(e.cfg.Experiments))
	for i := range e.cfg.Experiments {
		exp := &e.cfg.Experiments[i]
		expRecords, err := e.enrollExperiment(exp, anchor, traffic)
		if err != nil {
			return nil, nil, err
		}
		report, err := e.report(exp, expRecords)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, expRecords...)
		reports = append(reports, report)
		e.log.Infow("enrolled experiment",
			"experiment", exp.ID,
			"enrolled", len(expRecords),
			"variations", len(exp.Variations),
		)
	}
	return records, reports, nil
}

// enrollExperiment selects each user's earliest visit inside the
// experiment's active range on an eligible path. A user enters an
// experiment at most once; zero eligible traffic is not an error.
func (e *Enroller) enrollExperiment(exp *config.Experiment, anchor time.Time, traffic []dataset.TrafficEvent) ([]dataset.EnrollmentRecord, error) {
	start, end := exp.Start(anchor), exp.End(anchor)
	eligible := make(map[string]bool, len(exp.Paths))
	for _, p := range exp.Paths {
		eligible[p] = true
	}

	// Traffic is ordered by (user, timestamp), so the first qualifying
	// event seen per user is the earliest; equal timestamps keep input
	// order.
	firstVisit := make(map[int64]dataset.TrafficEvent)
	var order []int64
	for _, ev := range traffic {
		if ev.VisitDate.Before(start) || ev.VisitDate.After(end) {
			continue
		}
		if !eligible[ev.Path] {
			continue
		}
		if _, seen := firstVisit[ev.UserID]; seen {
			continue
		}
		firstVisit[ev.UserID] = ev
		order = append(order, ev.UserID)
	}

	names := exp.VariationNames()
	records := make([]dataset.EnrollmentRecord, 0, len(order))
	for _, userID := range order {
		ev := firstVisit[userID]
		records = append(records, dataset.EnrollmentRecord{
			UserID:       userID,
			EnrolledAt:   ev.VisitDate,
			Path:         ev.Path,
			ExperimentID: exp.ID,
			Variation:    AssignVariation(exp.ID, userID, names),
		})
	}

	if len(records) != len(firstVisit) {
		return nil, fmt.Errorf("experiment %s: %d enrollment records for %d distinct users: %w",
			exp.ID, len(records), len(firstVisit), ErrInvariant)
	}
	return records, nil
}

// AssignVariation maps a user to a variation deterministically: same
// user, same experiment, same variation on every re-run with the same
// inputs. The hash mixes the experiment id so concurrent experiments
// bucket independently.
func AssignVariation(experimentID string, userID int64, variations []string) string {
	h := xxhash.Sum64String(experimentID + ":" + strconv.FormatInt(userID, 10))
	return variations[h%uint64(len(variations))]
}

// report derives the daily/cumulative series and the percent-of-needed
// curve for each candidate baseline rate.
func (e *Enroller) report(exp *config.Experiment, records []dataset.EnrollmentRecord) (EnrollmentReport, error) {
	daily := make(map[time.Time]int)
	for _, r := range records {
		daily[dayOf(r.EnrolledAt)]++
	}
	days := make([]time.Time, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })

	series := EnrollmentSeries{Days: days, Daily: make([]int, len(days)), Cumulative: make([]int, len(days))}
	running := 0
	for i, d := range days {
		series.Daily[i] = daily[d]
		running += daily[d]
		series.Cumulative[i] = running
	}

	arms := len(exp.Variations)
	progress := make([]ProgressPoint, 0, len(e.cfg.ProgressBaselines))
	for _, baseline := range e.cfg.ProgressBaselines {
		required, err := stats.RequiredSampleSize(baseline, e.cfg.ProgressLift, e.cfg.ProgressPower, e.cfg.ProgressAlpha)
		if err != nil {
			return EnrollmentReport{}, fmt.Errorf("experiment %s progress curve: %w", exp.ID, err)
		}
		perArm := float64(len(records)) / float64(arms)
		progress = append(progress, ProgressPoint{
			BaselineRate:    baseline,
			RequiredPerArm:  required,
			PercentOfNeeded: perArm / float64(required) * 100,
		})
	}

	return EnrollmentReport{
		ExperimentID: exp.ID,
		Enrolled:     len(records),
		Series:       series,
		Progress:     progress,
	}, nil
}

// ReportFromRecords rebuilds the enrollment reports from persisted
// records, so progress can be inspected without re-running the pipeline.
func (e *Enroller) ReportFromRecords(records []dataset.EnrollmentRecord) ([]EnrollmentReport, error) {
	byExperiment := make(map[string][]dataset.EnrollmentRecord)
	for _, r := range records {
		byExperiment[r.ExperimentID] = append(byExperiment[r.ExperimentID], r)
	}
	reports := make([]EnrollmentReport, 0, len(e.cfg.Experiments))
	for i := range e.cfg.Experiments {
		exp := &e.cfg.Experiments[i]
		report, err := e.report(exp, byExperiment[exp.ID])
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
