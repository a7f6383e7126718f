package sim

import (
	"testing"
	"time"

	"github.com/abforge/abforge/internal/dataset"
)

func TestEnroll_OnlyEligibleVisits(t *testing.T) {
	// Experiment active on days [50, 20] before the anchor, path "/".
	cfg := testScenario()
	anchor := mustAnchor(cfg)

	events := []struct {
		user int64
		ago  int
		path string
	}{
		{1, 60, "/"},        // too early
		{1, 10, "/"},        // too late
		{2, 30, "/pricing"}, // wrong path
		{3, 45, "/"},        // qualifies
		{3, 25, "/"},        // later qualifying visit, must not re-enroll
		{4, 30, "/signup"},  // wrong path
	}
	var table []dataset.TrafficEvent
	for _, e := range events {
		table = append(table, visit(e.user, anchor.AddDate(0, 0, -e.ago), e.path))
	}

	records, _, err := NewEnroller(cfg, testLogger()).Enroll(table)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("expected exactly 1 enrollment, got %d", len(records))
	}
	r := records[0]
	if r.UserID != 3 {
		t.Errorf("enrolled user = %d, want 3", r.UserID)
	}
	if !r.EnrolledAt.Equal(anchor.AddDate(0, 0, -45)) {
		t.Errorf("enrolled at %s, want the earliest qualifying visit", r.EnrolledAt)
	}
}

func TestEnroll_EmptyEligibleTrafficIsNotAnError(t *testing.T) {
	cfg := testScenario()
	anchor := mustAnchor(cfg)

	table := []dataset.TrafficEvent{
		visit(1, anchor.AddDate(0, 0, -70), "/"),
		visit(2, anchor.AddDate(0, 0, -60), "/pricing"),
	}
	records, reports, err := NewEnroller(cfg, testLogger()).Enroll(table)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected zero enrollments, got %d", len(records))
	}
	if len(reports) != 1 || reports[0].Enrolled != 0 {
		t.Errorf("expected a report with zero enrollment, got %+v", reports)
	}
}

func TestEnroll_WithGeneratedTraffic(t *testing.T) {
	cfg := testScenario()
	anchor := mustAnchor(cfg)
	traffic, err := NewTrafficGenerator(cfg, testLogger()).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	records, reports, err := NewEnroller(cfg, testLogger()).Enroll(traffic)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected enrollments from generated traffic")
	}

	exp := &cfg.Experiments[0]
	start, end := exp.Start(anchor), exp.End(anchor)
	eligible := map[string]bool{}
	for _, p := range exp.Paths {
		eligible[p] = true
	}

	seen := make(map[int64]bool)
	for _, r := range records {
		if seen[r.UserID] {
			t.Fatalf("user %d enrolled twice", r.UserID)
		}
		seen[r.UserID] = true
		if r.EnrolledAt.Before(start) || r.EnrolledAt.After(end) {
			t.Fatalf("user %d enrolled at %s, outside [%s, %s]", r.UserID, r.EnrolledAt, start, end)
		}
		if !eligible[r.Path] {
			t.Fatalf("user %d enrolled via ineligible path %s", r.UserID, r.Path)
		}
	}
	if len(seen) != len(records) {
		t.Fatalf("%d records for %d distinct users", len(records), len(seen))
	}
	if reports[0].Enrolled != len(records) {
		t.Errorf("report count %d != records %d", reports[0].Enrolled, len(records))
	}
}

func TestAssignVariation_StableAndExperimentScoped(t *testing.T) {
	names := []string{"control", "variant-b"}
	a := AssignVariation("exp-1", 12345, names)
	b := AssignVariation("exp-1", 12345, names)
	if a != b {
		t.Fatalf("assignment not stable: %s vs %s", a, b)
	}

	// Different experiments must bucket independently: across many users
	// at least one should land differently.
	diverged := false
	for user := int64(0); user < 200; user++ {
		if AssignVariation("exp-1", user, names) != AssignVariation("exp-2", user, names) {
			diverged = true
			break
		}
	}
	if !diverged {
		t.Errorf("assignments identical across experiments for 200 users")
	}
}

func TestAssignVariation_RoughlyUniform(t *testing.T) {
	names := []string{"control", "variant-b"}
	count := 0
	const users = 2000
	for user := int64(0); user < users; user++ {
		if AssignVariation("exp-1", user, names) == "control" {
			count++
		}
	}
	// Loose 10-point band around an even split.
	if count < users*4/10 || count > users*6/10 {
		t.Errorf("control share %d/%d is far from uniform", count, users)
	}
}

func TestEnrollmentReport_ProgressCurve(t *testing.T) {
	cfg := testScenario()
	anchor := mustAnchor(cfg)

	var table []dataset.TrafficEvent
	for user := int64(0); user < 50; user++ {
		table = append(table, visit(user, anchor.AddDate(0, 0, -30).Add(time.Duration(user)*time.Minute), "/"))
	}
	records, reports, err := NewEnroller(cfg, testLogger()).Enroll(table)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if len(records) != 50 {
		t.Fatalf("expected 50 enrollments, got %d", len(records))
	}

	report := reports[0]
	if len(report.Series.Days) != 1 {
		t.Fatalf("expected a single-day series, got %d days", len(report.Series.Days))
	}
	if report.Series.Cumulative[0] != 50 {
		t.Errorf("cumulative = %d, want 50", report.Series.Cumulative[0])
	}
	if len(report.Progress) != 1 {
		t.Fatalf("expected one progress point, got %d", len(report.Progress))
	}
	p := report.Progress[0]
	if p.RequiredPerArm != 122124 {
		t.Errorf("required per arm = %d, want 122124", p.RequiredPerArm)
	}
	if p.PercentOfNeeded <= 0 || p.PercentOfNeeded > 1 {
		t.Errorf("percent of needed = %v, want a small positive value", p.PercentOfNeeded)
	}
}
