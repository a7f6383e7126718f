// Package validate checks each output table against the integrity rules
// the dataset promises its consumers, before anything is persisted.
// Validators read tables, never mutate them; any violation is fatal.
package validate

import (
	"fmt"
	"time"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
)

// Error reports one violated rule, naming the offending table.
type Error struct {
	Table  string
	Rule   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed: table %s: %s: %s", e.Table, e.Rule, e.Detail)
}

func fail(table, rule, format string, args ...any) error {
	return &Error{Table: table, Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// bounds is an experiment's active range plus its eligible path set.
type bounds struct {
	start, end time.Time
	paths      map[string]bool
}

// Context carries the reference data some rules need beyond the tables
// themselves: experiment date ranges and eligible paths.
type Context struct {
	experiments map[string]bounds
}

// NewContext derives a validation context from the scenario.
func NewContext(cfg *config.Scenario) (*Context, error) {
	anchor, err := cfg.AnchorTime()
	if err != nil {
		return nil, err
	}
	exps := make(map[string]bounds, len(cfg.Experiments))
	for i := range cfg.Experiments {
		exp := &cfg.Experiments[i]
		paths := make(map[string]bool, len(exp.Paths))
		for _, p := range exp.Paths {
			paths[p] = true
		}
		exps[exp.ID] = bounds{start: exp.Start(anchor), end: exp.End(anchor), paths: paths}
	}
	return &Context{experiments: exps}, nil
}

// Dataset runs every table check in dependency order and returns the
// first violation.
func Dataset(ds *dataset.Dataset, ctx *Context) error {
	if err := ExperimentInfo(ds.ExperimentInfo); err != nil {
		return err
	}
	if err := AttributionWindows(ds.AttributionWindows, ds.ExperimentInfo); err != nil {
		return err
	}
	if err := WebsiteTraffic(ds.WebsiteTraffic); err != nil {
		return err
	}
	if err := ExperimentTraffic(ds.ExperimentTraffic, ds.WebsiteTraffic, ds.ExperimentInfo, ctx); err != nil {
		return err
	}
	return ConversionEvents(ds.ConversionEvents, ds.WebsiteTraffic, ds.ExperimentTraffic)
}

// ExperimentInfo checks arm structure: unique variation names and exactly
// one control per experiment.
func ExperimentInfo(rows []dataset.VariationInfo) error {
	type key struct{ exp, variation string }
	seen := make(map[key]bool)
	controls := make(map[string]int)
	variations := make(map[string]int)
	for _, r := range rows {
		k := key{r.ExperimentID, r.Variation}
		if seen[k] {
			return fail("experiment_info", "duplicate variation", "experiment %s variation %s appears twice", r.ExperimentID, r.Variation)
		}
		seen[k] = true
		variations[r.ExperimentID]++
		if r.IsControl {
			controls[r.ExperimentID]++
		}
	}
	for exp := range variations {
		if controls[exp] != 1 {
			return fail("experiment_info", "control count", "experiment %s has %d control variations, want 1", exp, controls[exp])
		}
	}
	return nil
}

// AttributionWindows checks positive windows, unique (experiment, metric)
// keys, and full metric coverage for every experiment.
func AttributionWindows(rows []dataset.AttributionWindow, info []dataset.VariationInfo) error {
	type key struct{ exp, metric string }
	seen := make(map[key]bool)
	metrics := make(map[string]bool)
	covered := make(map[key]bool)
	for _, r := range rows {
		if r.WindowDays <= 0 {
			return fail("attribution_windows", "positive window", "experiment %s metric %s has window %d", r.ExperimentID, r.MetricID, r.WindowDays)
		}
		k := key{r.ExperimentID, r.MetricID}
		if seen[k] {
			return fail("attribution_windows", "duplicate key", "experiment %s metric %s appears twice", r.ExperimentID, r.MetricID)
		}
		seen[k] = true
		metrics[r.MetricID] = true
		covered[k] = true
	}
	for _, r := range info {
		for m := range metrics {
			if !covered[key{r.ExperimentID, m}] {
				return fail("attribution_windows", "metric coverage", "experiment %s has no window for metric %s", r.ExperimentID, m)
			}
		}
	}
	return nil
}

// WebsiteTraffic checks tuple uniqueness on (user, timestamp, path).
func WebsiteTraffic(rows []dataset.TrafficEvent) error {
	type key struct {
		user int64
		ts   int64
		path string
	}
	seen := make(map[key]bool, len(rows))
	for _, r := range rows {
		k := key{r.UserID, r.VisitDate.Unix(), r.Path}
		if seen[k] {
			return fail("website_traffic", "duplicate event", "user %d visited %s twice at %s", r.UserID, r.Path, r.VisitDate)
		}
		seen[k] = true
	}
	return nil
}

// ExperimentTraffic checks referential integrity against website_traffic
// and experiment_info, single enrollment per (user, experiment), and that
// each enrollment sits inside its experiment's active range on an
// eligible path.
func ExperimentTraffic(rows []dataset.EnrollmentRecord, traffic []dataset.TrafficEvent, info []dataset.VariationInfo, ctx *Context) error {
	trafficUsers := make(map[int64]bool)
	for _, t := range traffic {
		trafficUsers[t.UserID] = true
	}
	knownVariation := make(map[string]map[string]bool)
	for _, r := range info {
		if knownVariation[r.ExperimentID] == nil {
			knownVariation[r.ExperimentID] = make(map[string]bool)
		}
		knownVariation[r.ExperimentID][r.Variation] = true
	}

	type key struct {
		user int64
		exp  string
	}
	seen := make(map[key]bool, len(rows))
	for _, r := range rows {
		if !trafficUsers[r.UserID] {
			return fail("experiment_traffic", "referential integrity", "user %d not present in website_traffic", r.UserID)
		}
		if !knownVariation[r.ExperimentID][r.Variation] {
			return fail("experiment_traffic", "referential integrity", "experiment %s variation %s not present in experiment_info", r.ExperimentID, r.Variation)
		}
		k := key{r.UserID, r.ExperimentID}
		if seen[k] {
			return fail("experiment_traffic", "duplicate enrollment", "user %d enrolled twice in experiment %s", r.UserID, r.ExperimentID)
		}
		seen[k] = true

		b, ok := ctx.experiments[r.ExperimentID]
		if !ok {
			return fail("experiment_traffic", "unknown experiment", "experiment %s not in the scenario", r.ExperimentID)
		}
		if r.EnrolledAt.Before(b.start) || r.EnrolledAt.After(b.end) {
			return fail("experiment_traffic", "enrollment bounds", "user %d joined %s at %s, outside [%s, %s]",
				r.UserID, r.ExperimentID, r.EnrolledAt, b.start, b.end)
		}
		if !b.paths[r.Path] {
			return fail("experiment_traffic", "eligible path", "user %d joined %s via ineligible path %s", r.UserID, r.ExperimentID, r.Path)
		}
	}
	return nil
}

// ConversionEvents checks referential integrity and timestamp ordering:
// conversions never precede the user's first visit or any enrollment that
// applies to them, and never outlive the traffic horizon.
func ConversionEvents(rows []dataset.ConversionEvent, traffic []dataset.TrafficEvent, enrollments []dataset.EnrollmentRecord) error {
	firstVisit := dataset.FirstVisitIndex(traffic)
	maxTS := dataset.MaxTimestamp(traffic)

	latestEnrollment := make(map[int64]time.Time)
	for _, r := range enrollments {
		if r.EnrolledAt.After(latestEnrollment[r.UserID]) {
			latestEnrollment[r.UserID] = r.EnrolledAt
		}
	}

	for _, r := range rows {
		first, inTraffic := firstVisit[r.UserID]
		if !inTraffic {
			return fail("conversion_events", "referential integrity", "user %d not present in website_traffic", r.UserID)
		}
		if r.ConvertedAt.Before(first) {
			return fail("conversion_events", "conversion ordering", "user %d converted on %s at %s, before first visit %s",
				r.UserID, r.MetricID, r.ConvertedAt, first)
		}
		if enrolled, ok := latestEnrollment[r.UserID]; ok && r.ConvertedAt.Before(enrolled) {
			return fail("conversion_events", "conversion ordering", "user %d converted on %s at %s, before enrollment %s",
				r.UserID, r.MetricID, r.ConvertedAt, enrolled)
		}
		if r.ConvertedAt.After(maxTS) {
			return fail("conversion_events", "traffic horizon", "user %d converted on %s at %s, after last traffic event %s",
				r.UserID, r.MetricID, r.ConvertedAt, maxTS)
		}
	}
	return nil
}
