package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
)

func day(n int) time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

func testContext(t *testing.T) *Context {
	t.Helper()
	cfg := &config.Scenario{
		Seed:             1,
		Anchor:           "2024-06-01T00:00:00Z",
		HorizonDays:      90,
		Population:       10,
		MaxRepeatVisits:  1,
		RepeatSpreadDays: 1,
		Workers:          1,
		Paths:            []config.PathWeight{{Path: "/", Weight: 1}},
		Metrics:          []config.Metric{{ID: "signup", BaselineRate: 0.05, WindowDays: 7}},
		Experiments: []config.Experiment{
			{
				ID:           "hero",
				StartDaysAgo: 50,
				EndDaysAgo:   20,
				Paths:        []string{"/"},
				Variations: []config.Variation{
					{Name: "control", Control: true},
					{Name: "variant-b"},
				},
			},
		},
	}
	ctx, err := NewContext(cfg)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	return ctx
}

// goodDataset builds a small dataset that passes every check.
func goodDataset() *dataset.Dataset {
	return &dataset.Dataset{
		ExperimentInfo: []dataset.VariationInfo{
			{ExperimentID: "hero", Variation: "control", IsControl: true},
			{ExperimentID: "hero", Variation: "variant-b"},
		},
		AttributionWindows: []dataset.AttributionWindow{
			{ExperimentID: "hero", MetricID: "signup", WindowDays: 7},
		},
		WebsiteTraffic: []dataset.TrafficEvent{
			{UserID: 1, VisitDate: day(40), Path: "/"},
			{UserID: 2, VisitDate: day(35), Path: "/"},
			{UserID: 2, VisitDate: day(12), Path: "/"},
		},
		ExperimentTraffic: []dataset.EnrollmentRecord{
			{UserID: 1, EnrolledAt: day(40), Path: "/", ExperimentID: "hero", Variation: "control"},
			{UserID: 2, EnrolledAt: day(35), Path: "/", ExperimentID: "hero", Variation: "variant-b"},
		},
		ConversionEvents: []dataset.ConversionEvent{
			{UserID: 1, MetricID: "signup", ConvertedAt: day(37)},
			{UserID: 2, MetricID: "signup", ConvertedAt: day(30)},
		},
	}
}

func TestDataset_CleanPasses(t *testing.T) {
	if err := Dataset(goodDataset(), testContext(t)); err != nil {
		t.Fatalf("clean dataset rejected: %v", err)
	}
}

func TestDataset_EachRuleFires(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(ds *dataset.Dataset)
		table  string
		rule   string
	}{
		{
			name: "duplicate variation",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentInfo = append(ds.ExperimentInfo, dataset.VariationInfo{ExperimentID: "hero", Variation: "control", IsControl: true})
			},
			table: "experiment_info",
			rule:  "duplicate variation",
		},
		{
			name: "missing control",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentInfo[0].IsControl = false
			},
			table: "experiment_info",
			rule:  "control count",
		},
		{
			name: "two controls",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentInfo[1].IsControl = true
			},
			table: "experiment_info",
			rule:  "control count",
		},
		{
			name: "non-positive window",
			mutate: func(ds *dataset.Dataset) {
				ds.AttributionWindows[0].WindowDays = 0
			},
			table: "attribution_windows",
			rule:  "positive window",
		},
		{
			name: "duplicate window key",
			mutate: func(ds *dataset.Dataset) {
				ds.AttributionWindows = append(ds.AttributionWindows, ds.AttributionWindows[0])
			},
			table: "attribution_windows",
			rule:  "duplicate key",
		},
		{
			name: "missing window for experiment",
			mutate: func(ds *dataset.Dataset) {
				ds.AttributionWindows[0].ExperimentID = "other"
			},
			table: "attribution_windows",
			rule:  "metric coverage",
		},
		{
			name: "duplicate traffic event",
			mutate: func(ds *dataset.Dataset) {
				ds.WebsiteTraffic = append(ds.WebsiteTraffic, ds.WebsiteTraffic[0])
			},
			table: "website_traffic",
			rule:  "duplicate event",
		},
		{
			name: "enrolled user absent from traffic",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentTraffic[0].UserID = 99
			},
			table: "experiment_traffic",
			rule:  "referential integrity",
		},
		{
			name: "unknown variation",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentTraffic[0].Variation = "variant-z"
			},
			table: "experiment_traffic",
			rule:  "referential integrity",
		},
		{
			name: "double enrollment",
			mutate: func(ds *dataset.Dataset) {
				dup := ds.ExperimentTraffic[0]
				dup.EnrolledAt = day(30)
				ds.ExperimentTraffic = append(ds.ExperimentTraffic, dup)
			},
			table: "experiment_traffic",
			rule:  "duplicate enrollment",
		},
		{
			name: "enrollment before experiment start",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentTraffic[0].EnrolledAt = day(60)
			},
			table: "experiment_traffic",
			rule:  "enrollment bounds",
		},
		{
			name: "enrollment after experiment end",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentTraffic[0].EnrolledAt = day(10)
			},
			table: "experiment_traffic",
			rule:  "enrollment bounds",
		},
		{
			name: "ineligible enrollment path",
			mutate: func(ds *dataset.Dataset) {
				ds.ExperimentTraffic[0].Path = "/pricing"
			},
			table: "experiment_traffic",
			rule:  "eligible path",
		},
		{
			name: "converting user absent from traffic",
			mutate: func(ds *dataset.Dataset) {
				ds.ConversionEvents[0].UserID = 99
			},
			table: "conversion_events",
			rule:  "referential integrity",
		},
		{
			name: "conversion before first visit",
			mutate: func(ds *dataset.Dataset) {
				ds.ConversionEvents[0].ConvertedAt = day(70)
			},
			table: "conversion_events",
			rule:  "conversion ordering",
		},
		{
			name: "conversion before enrollment",
			mutate: func(ds *dataset.Dataset) {
				// User 2 first visited on day -35 and enrolled then; move the
				// enrollment later than the conversion.
				ds.ExperimentTraffic[1].EnrolledAt = day(25)
			},
			table: "conversion_events",
			rule:  "conversion ordering",
		},
		{
			name: "conversion after last traffic event",
			mutate: func(ds *dataset.Dataset) {
				ds.ConversionEvents[1].ConvertedAt = day(2)
			},
			table: "conversion_events",
			rule:  "traffic horizon",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds := goodDataset()
			tc.mutate(ds)
			err := Dataset(ds, testContext(t))
			if err == nil {
				t.Fatalf("expected a violation, got none")
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected *validate.Error, got %T: %v", err, err)
			}
			if verr.Table != tc.table || verr.Rule != tc.rule {
				t.Fatalf("got violation (%s, %s), want (%s, %s): %v", verr.Table, verr.Rule, tc.table, tc.rule, err)
			}
		})
	}
}
