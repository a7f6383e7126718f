package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultScenarioValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default scenario should validate, got: %v", err)
	}
}

func TestValidate_ExperimentErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{
			"missing control",
			func(s *Scenario) { s.Experiments[0].Variations[0].Control = false },
			"exactly one control",
		},
		{
			"two controls",
			func(s *Scenario) { s.Experiments[0].Variations[1].Control = true },
			"exactly one control",
		},
		{
			"duplicate variation",
			func(s *Scenario) { s.Experiments[0].Variations[1].Name = "control" },
			"duplicate variation",
		},
		{
			"starts after end",
			func(s *Scenario) { s.Experiments[0].StartDaysAgo = 10; s.Experiments[0].EndDaysAgo = 20 },
			"starts after it ends",
		},
		{
			"no eligible paths",
			func(s *Scenario) { s.Experiments[0].Paths = nil },
			"eligible path",
		},
		{
			"unknown adjustment metric",
			func(s *Scenario) { s.Experiments[0].Adjustments[0].Metric = "ghost" },
			"unknown metric",
		},
		{
			"adjustment below -1",
			func(s *Scenario) { s.Experiments[0].Adjustments[0].Lift = -1.5 },
			"must exceed -1",
		},
		{
			"window for unknown metric",
			func(s *Scenario) { s.Experiments[0].Windows = map[string]int{"ghost": 3} },
			"unknown metric",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected a validation error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestValidate_ScenarioErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"bad anchor", func(s *Scenario) { s.Anchor = "yesterday" }},
		{"tiny horizon", func(s *Scenario) { s.HorizonDays = 10 }},
		{"zero population", func(s *Scenario) { s.Population = 0 }},
		{"no paths", func(s *Scenario) { s.Paths = nil }},
		{"negative weight", func(s *Scenario) { s.Paths[0].Weight = -1 }},
		{"no metrics", func(s *Scenario) { s.Metrics = nil }},
		{"baseline out of range", func(s *Scenario) { s.Metrics[0].BaselineRate = 1.2 }},
		{"non-positive window", func(s *Scenario) { s.Metrics[0].WindowDays = 0 }},
		{"bad progress baseline", func(s *Scenario) { s.ProgressBaselines = []float64{2} }},
		{"zero workers", func(s *Scenario) { s.Workers = 0 }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected a validation error")
			}
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	yaml := `
seed: 7
anchor: "2024-03-01T00:00:00Z"
horizon_days: 120
population: 500
max_repeat_visits: 2
repeat_spread_days: 5
workers: 2
paths:
  - { path: "/", weight: 5 }
  - { path: "/about", weight: 1 }
metrics:
  - { id: signup, baseline_rate: 0.04, window_days: 5 }
experiments:
  - id: landing
    start_days_ago: 50
    end_days_ago: 20
    paths: ["/"]
    variations:
      - { name: control, control: true }
      - { name: bolder }
    adjustments:
      - { variation: bolder, metric: signup, lift: 0.07 }
progress_baselines: [0.04]
progress_lift: 0.05
progress_power: 0.8
progress_alpha: 0.05
`
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Seed != 7 {
		t.Errorf("seed = %d, want 7", cfg.Seed)
	}
	if len(cfg.Experiments) != 1 || cfg.Experiments[0].ID != "landing" {
		t.Errorf("experiments not parsed: %+v", cfg.Experiments)
	}
	if got := cfg.Experiments[0].Lift("bolder", "signup"); got != 0.07 {
		t.Errorf("lift = %v, want 0.07", got)
	}
	if got := cfg.Experiments[0].Lift("control", "signup"); got != 0 {
		t.Errorf("control lift = %v, want 0", got)
	}
	if got := cfg.Experiments[0].Window(cfg.Metrics[0]); got != 5 {
		t.Errorf("window = %d, want metric default 5", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if len(cfg.Experiments) == 0 {
		t.Errorf("default scenario should define experiments")
	}
}
