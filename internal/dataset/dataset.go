package dataset

import (
	"slices"
	"time"
)

// VariationInfo is one row of the experiment_info table: a single
// treatment arm of an experiment.
type VariationInfo struct {
	ExperimentID string
	Variation    string
	IsControl    bool
}

// AttributionWindow caps how many days after enrollment a conversion can
// still be credited to an experiment's metric. One row per
// (experiment, metric) pair.
type AttributionWindow struct {
	ExperimentID string
	MetricID     string
	WindowDays   int
}

// TrafficEvent is one row of the website_traffic table: one user visiting
// one path at one instant. Repeat visits are separate rows; uniqueness
// holds on the full (user, timestamp, path) tuple.
type TrafficEvent struct {
	UserID    int64
	VisitDate time.Time
	Path      string
}

// EnrollmentRecord is one row of the experiment_traffic table: the first
// qualifying visit that placed a user into an experiment's variation.
type EnrollmentRecord struct {
	UserID       int64
	EnrolledAt   time.Time
	Path         string
	ExperimentID string
	Variation    string
}

// ConversionEvent is one row of the conversion_events table.
type ConversionEvent struct {
	UserID      int64
	MetricID    string
	ConvertedAt time.Time
}

// Dataset holds one complete simulation run: the five output tables in
// their final, validated form. No table is mutated after the stage that
// produced it completes.
type Dataset struct {
	ExperimentInfo     []VariationInfo
	AttributionWindows []AttributionWindow
	WebsiteTraffic     []TrafficEvent
	ExperimentTraffic  []EnrollmentRecord
	ConversionEvents   []ConversionEvent
}

// FirstVisitIndex derives each user's earliest visit timestamp from
// traffic. Derived data, never persisted.
func FirstVisitIndex(traffic []TrafficEvent) map[int64]time.Time {
	idx := make(map[int64]time.Time, len(traffic))
	for _, ev := range traffic {
		if first, ok := idx[ev.UserID]; !ok || ev.VisitDate.Before(first) {
			idx[ev.UserID] = ev.VisitDate
		}
	}
	return idx
}

// MaxTimestamp returns the most recent visit timestamp in traffic, or the
// zero time for an empty table.
func MaxTimestamp(traffic []TrafficEvent) time.Time {
	var max time.Time
	for _, ev := range traffic {
		if ev.VisitDate.After(max) {
			max = ev.VisitDate
		}
	}
	return max
}

// DistinctUsers returns the sorted set of user ids present in traffic.
func DistinctUsers(traffic []TrafficEvent) []int64 {
	seen := make(map[int64]struct{}, len(traffic))
	users := make([]int64, 0, len(traffic))
	for _, ev := range traffic {
		if _, ok := seen[ev.UserID]; ok {
			continue
		}
		seen[ev.UserID] = struct{}{}
		users = append(users, ev.UserID)
	}
	slices.Sort(users)
	return users
}
