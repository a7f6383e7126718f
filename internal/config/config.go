package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// PathWeight is one entry of the weighted path set visits are drawn from.
type PathWeight struct {
	Path   string  `yaml:"path"`
	Weight float64 `yaml:"weight"`
}

// Metric is a tracked conversion metric with its historical baseline rate
// and default attribution window.
type Metric struct {
	ID           string  `yaml:"id"`
	BaselineRate float64 `yaml:"baseline_rate"`
	WindowDays   int     `yaml:"window_days"`
}

// Variation is one treatment arm of an experiment.
type Variation struct {
	Name    string `yaml:"name"`
	Control bool   `yaml:"control"`
}

// Adjustment is a relative lift applied to a metric's baseline rate for
// users in a given variation. Controls and unspecified combinations are
// implicitly zero.
type Adjustment struct {
	Variation string  `yaml:"variation"`
	Metric    string  `yaml:"metric"`
	Lift      float64 `yaml:"lift"`
}

// Experiment is one experiment definition, immutable for the whole run.
// Dates are expressed in days before the scenario anchor.
type Experiment struct {
	ID           string         `yaml:"id"`
	StartDaysAgo int            `yaml:"start_days_ago"`
	EndDaysAgo   int            `yaml:"end_days_ago"`
	Paths        []string       `yaml:"paths"`
	Variations   []Variation    `yaml:"variations"`
	Windows      map[string]int `yaml:"windows"`
	Adjustments  []Adjustment   `yaml:"adjustments"`
}

// Scenario is the full configuration of one simulation run. The run is a
// pure function of the scenario, so two loads of the same scenario
// regenerate byte-identical tables.
type Scenario struct {
	Seed        int64  `yaml:"seed" env:"ABFORGE_SEED" env-default:"20240214"`
	Anchor      string `yaml:"anchor" env:"ABFORGE_ANCHOR" env-default:"2024-06-01T00:00:00Z"`
	HorizonDays int    `yaml:"horizon_days" env-default:"180"`

	Population       int     `yaml:"population" env-default:"24000"`
	MaxRepeatVisits  int     `yaml:"max_repeat_visits" env-default:"4"`
	RepeatSpreadDays float64 `yaml:"repeat_spread_days" env-default:"9"`
	Workers          int     `yaml:"workers" env:"ABFORGE_WORKERS" env-default:"4"`

	Paths       []PathWeight `yaml:"paths"`
	Metrics     []Metric     `yaml:"metrics"`
	Experiments []Experiment `yaml:"experiments"`

	// Candidate baseline rates for the percent-of-needed-traffic curve.
	// Purely descriptive; never gates enrollment or conversion.
	ProgressBaselines []float64 `yaml:"progress_baselines"`
	ProgressLift      float64   `yaml:"progress_lift" env-default:"0.05"`
	ProgressPower     float64   `yaml:"progress_power" env-default:"0.8"`
	ProgressAlpha     float64   `yaml:"progress_alpha" env-default:"0.05"`
}

// Load reads a scenario from a YAML file, overlays environment variables,
// and validates it. An empty path yields the built-in default scenario.
func Load(path string) (*Scenario, error) {
	if path == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	var cfg Scenario
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AnchorTime parses the scenario anchor, the fixed "now" every relative
// date hangs off.
func (s *Scenario) AnchorTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.Anchor)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid anchor %q: %w", s.Anchor, err)
	}
	return t.UTC(), nil
}

// Start returns the experiment's first active instant.
func (e *Experiment) Start(anchor time.Time) time.Time {
	return anchor.AddDate(0, 0, -e.StartDaysAgo)
}

// End returns the experiment's last active instant.
func (e *Experiment) End(anchor time.Time) time.Time {
	return anchor.AddDate(0, 0, -e.EndDaysAgo)
}

// VariationNames returns the ordered variation names.
func (e *Experiment) VariationNames() []string {
	names := make([]string, len(e.Variations))
	for i, v := range e.Variations {
		names[i] = v.Name
	}
	return names
}

// Window returns the attribution window for a metric, falling back to the
// metric default when the experiment does not override it.
func (e *Experiment) Window(m Metric) int {
	if d, ok := e.Windows[m.ID]; ok {
		return d
	}
	return m.WindowDays
}

// Lift returns the relative adjustment for (variation, metric), zero when
// unspecified.
func (e *Experiment) Lift(variation, metricID string) float64 {
	for _, a := range e.Adjustments {
		if a.Variation == variation && a.Metric == metricID {
			return a.Lift
		}
	}
	return 0
}

// Validate checks the scenario for configuration errors. All of these are
// fatal before the simulation starts.
func (s *Scenario) Validate() error {
	if _, err := s.AnchorTime(); err != nil {
		return err
	}
	if s.HorizonDays <= 14 {
		return fmt.Errorf("horizon_days must exceed 14, got %d", s.HorizonDays)
	}
	if s.Population <= 0 {
		return fmt.Errorf("population must be positive, got %d", s.Population)
	}
	if s.MaxRepeatVisits < 0 {
		return fmt.Errorf("max_repeat_visits must not be negative, got %d", s.MaxRepeatVisits)
	}
	if s.RepeatSpreadDays <= 0 {
		return fmt.Errorf("repeat_spread_days must be positive, got %v", s.RepeatSpreadDays)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if len(s.Paths) == 0 {
		return fmt.Errorf("at least one weighted path is required")
	}
	seenPaths := make(map[string]bool)
	for _, p := range s.Paths {
		if p.Path == "" {
			return fmt.Errorf("path entries must not be empty")
		}
		if p.Weight <= 0 {
			return fmt.Errorf("path %q weight must be positive, got %v", p.Path, p.Weight)
		}
		if seenPaths[p.Path] {
			return fmt.Errorf("duplicate path %q", p.Path)
		}
		seenPaths[p.Path] = true
	}
	if len(s.Metrics) == 0 {
		return fmt.Errorf("at least one metric is required")
	}
	metricIDs := make(map[string]bool)
	for _, m := range s.Metrics {
		if m.ID == "" {
			return fmt.Errorf("metric id must not be empty")
		}
		if metricIDs[m.ID] {
			return fmt.Errorf("duplicate metric %q", m.ID)
		}
		metricIDs[m.ID] = true
		if m.BaselineRate <= 0 || m.BaselineRate >= 1 {
			return fmt.Errorf("metric %q baseline_rate must be in (0,1), got %v", m.ID, m.BaselineRate)
		}
		if m.WindowDays <= 0 {
			return fmt.Errorf("metric %q window_days must be positive, got %d", m.ID, m.WindowDays)
		}
	}
	expIDs := make(map[string]bool)
	for i := range s.Experiments {
		if err := s.validateExperiment(&s.Experiments[i], metricIDs); err != nil {
			return err
		}
		if expIDs[s.Experiments[i].ID] {
			return fmt.Errorf("duplicate experiment %q", s.Experiments[i].ID)
		}
		expIDs[s.Experiments[i].ID] = true
	}
	for _, b := range s.ProgressBaselines {
		if b <= 0 || b >= 1 {
			return fmt.Errorf("progress baseline rate must be in (0,1), got %v", b)
		}
	}
	return nil
}

func (s *Scenario) validateExperiment(e *Experiment, metricIDs map[string]bool) error {
	if e.ID == "" {
		return fmt.Errorf("experiment id must not be empty")
	}
	if e.StartDaysAgo < e.EndDaysAgo {
		return fmt.Errorf("experiment %q starts after it ends", e.ID)
	}
	if len(e.Paths) == 0 {
		return fmt.Errorf("experiment %q needs at least one eligible path", e.ID)
	}
	if len(e.Variations) < 2 {
		return fmt.Errorf("experiment %q needs at least 2 variations", e.ID)
	}
	controls := 0
	names := make(map[string]bool)
	for _, v := range e.Variations {
		if v.Name == "" {
			return fmt.Errorf("experiment %q has an unnamed variation", e.ID)
		}
		if names[v.Name] {
			return fmt.Errorf("experiment %q has duplicate variation %q", e.ID, v.Name)
		}
		names[v.Name] = true
		if v.Control {
			controls++
		}
	}
	if controls != 1 {
		return fmt.Errorf("experiment %q must have exactly one control, got %d", e.ID, controls)
	}
	for metric, days := range e.Windows {
		if !metricIDs[metric] {
			return fmt.Errorf("experiment %q window references unknown metric %q", e.ID, metric)
		}
		if days <= 0 {
			return fmt.Errorf("experiment %q window for %q must be positive, got %d", e.ID, metric, days)
		}
	}
	for _, a := range e.Adjustments {
		if !names[a.Variation] {
			return fmt.Errorf("experiment %q adjustment references unknown variation %q", e.ID, a.Variation)
		}
		if !metricIDs[a.Metric] {
			return fmt.Errorf("experiment %q adjustment references unknown metric %q", e.ID, a.Metric)
		}
		if a.Lift <= -1 {
			return fmt.Errorf("experiment %q adjustment for %q/%q must exceed -1, got %v", e.ID, a.Variation, a.Metric, a.Lift)
		}
	}
	return nil
}

// Default returns the built-in demo scenario: four concurrent two-arm
// experiments over two metrics on a 180-day horizon.
func Default() *Scenario {
	return &Scenario{
		Seed:             20240214,
		Anchor:           "2024-06-01T00:00:00Z",
		HorizonDays:      180,
		Population:       24000,
		MaxRepeatVisits:  4,
		RepeatSpreadDays: 9,
		Workers:          4,
		Paths: []PathWeight{
			{Path: "/", Weight: 8},
			{Path: "/pricing", Weight: 3},
			{Path: "/features", Weight: 2},
			{Path: "/blog", Weight: 2},
			{Path: "/signup", Weight: 1},
		},
		Metrics: []Metric{
			{ID: "signup", BaselineRate: 0.05, WindowDays: 7},
			{ID: "purchase", BaselineRate: 0.02, WindowDays: 14},
		},
		Experiments: []Experiment{
			{
				ID:           "hero-copy",
				StartDaysAgo: 90,
				EndDaysAgo:   30,
				Paths:        []string{"/"},
				Variations: []Variation{
					{Name: "control", Control: true},
					{Name: "benefit-led", Control: false},
				},
				Adjustments: []Adjustment{
					{Variation: "benefit-led", Metric: "signup", Lift: 0.12},
				},
			},
			{
				ID:           "pricing-table",
				StartDaysAgo: 80,
				EndDaysAgo:   20,
				Paths:        []string{"/pricing"},
				Variations: []Variation{
					{Name: "control", Control: true},
					{Name: "three-tier", Control: false},
				},
				Adjustments: []Adjustment{
					{Variation: "three-tier", Metric: "purchase", Lift: 0.08},
				},
			},
			{
				ID:           "signup-friction",
				StartDaysAgo: 75,
				EndDaysAgo:   25,
				Paths:        []string{"/signup", "/"},
				Variations: []Variation{
					{Name: "control", Control: true},
					{Name: "one-step", Control: false},
				},
				Adjustments: []Adjustment{
					{Variation: "one-step", Metric: "signup", Lift: 0.1},
					{Variation: "one-step", Metric: "purchase", Lift: -0.03},
				},
			},
			{
				ID:           "feature-tour",
				StartDaysAgo: 70,
				EndDaysAgo:   15,
				Paths:        []string{"/features"},
				Variations: []Variation{
					{Name: "control", Control: true},
					{Name: "guided-tour", Control: false},
				},
				Adjustments: []Adjustment{
					{Variation: "guided-tour", Metric: "signup", Lift: 0.05},
				},
			},
		},
		ProgressBaselines: []float64{0.02, 0.05, 0.1},
		ProgressLift:      0.05,
		ProgressPower:     0.8,
		ProgressAlpha:     0.05,
	}
}
