package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/abforge/abforge/internal/config"
	"github.com/abforge/abforge/internal/dataset"
)

const (
	secondsPerDay = 24 * 60 * 60

	// Share of the id space the population draw actually covers.
	populatedShare = 0.8

	// Guard band: the raw offset distribution under-represents traffic at
	// the old edge and over-represents it near the anchor, so first visits
	// older than horizon*guardOldShare or newer than anchor-guardRecentDays
	// are cut.
	guardOldShare   = 0.55
	guardRecentDays = 7

	// Stretch applied before the log rescale of the first-visit offset.
	firstVisitTailScale = 4.0
)

// TrafficGenerator produces the base population of visit events for a
// scenario: who visited which path, when, over the configured horizon.
type TrafficGenerator struct {
	cfg *config.Scenario
	log *zap.SugaredLogger
}

func NewTrafficGenerator(cfg *config.Scenario, log *zap.SugaredLogger) *TrafficGenerator {
	return &TrafficGenerator{cfg: cfg, log: log}
}

type eventKey struct {
	user int64
	ts   int64
	path string
}

// Generate builds the full website_traffic table: draw the population,
// place each user's first visit, expand repeat visits, materialize exact
// timestamps, then dedup and re-filter. Every emitted user keeps at least
// one event inside the valid window.
func (g *TrafficGenerator) Generate() ([]dataset.TrafficEvent, error) {
	anchor, err := g.cfg.AnchorTime()
	if err != nil {
		return nil, err
	}

	users := g.drawPopulation()
	hd := float64(g.cfg.HorizonDays)

	oldest := anchor.Add(-time.Duration(math.Round(hd*guardOldShare*secondsPerDay)) * time.Second)
	newest := anchor.Add(-guardRecentDays * 24 * time.Hour)
	oldestDay, newestDay := dayOf(oldest), dayOf(newest)

	var events []dataset.TrafficEvent
	for i, userID := range users {
		events = append(events, g.userTrajectory(anchor, i, userID, oldestDay, newestDay)...)
	}

	events = dedupe(events)
	events = exactWindowFilter(events, oldest, newest)

	sort.SliceStable(events, func(a, b int) bool {
		if events[a].UserID != events[b].UserID {
			return events[a].UserID < events[b].UserID
		}
		if !events[a].VisitDate.Equal(events[b].VisitDate) {
			return events[a].VisitDate.Before(events[b].VisitDate)
		}
		return events[a].Path < events[b].Path
	})

	if len(events) == 0 {
		return nil, fmt.Errorf("traffic generation produced no events inside the valid window")
	}

	g.log.Infow("generated website traffic",
		"population_draws", g.cfg.Population,
		"distinct_users", len(users),
		"active_users", len(dataset.DistinctUsers(events)),
		"events", len(events),
		"window_start", oldest.Format(time.RFC3339),
		"window_end", newest.Format(time.RFC3339),
	)

	return events, nil
}

// drawPopulation samples user ids with replacement from an id space sized
// so roughly 80% of it ends up populated, then returns the distinct ids
// sorted. The sorted position is each user's surrogate index.
func (g *TrafficGenerator) drawPopulation() []int64 {
	idSpace := int64(math.Ceil(float64(g.cfg.Population) / populatedShare))
	rng := rand.New(rand.NewSource(g.cfg.Seed))

	seen := make(map[int64]struct{}, g.cfg.Population)
	for i := 0; i < g.cfg.Population; i++ {
		seen[rng.Int63n(idSpace)] = struct{}{}
	}
	users := make([]int64, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })
	return users
}

// userTrajectory builds one user's visit events, day-filtered but not yet
// deduplicated. Event index 0 seeds the first visit; each repeat visit k
// mixes its own index into the seed.
func (g *TrafficGenerator) userTrajectory(anchor time.Time, userIdx int, userID int64, oldestDay, newestDay time.Time) []dataset.TrafficEvent {
	rng := rand.New(rand.NewSource(EventSeed(g.cfg.Seed, userIdx, 0)))

	offset := g.firstVisitOffset(rng)
	firstDay := dayOf(anchor.AddDate(0, 0, -int(offset)))
	if !withinCoarseWindow(firstDay, oldestDay, newestDay) {
		return nil
	}

	events := []dataset.TrafficEvent{{
		UserID:    userID,
		VisitDate: firstDay.Add(time.Duration(rng.Int63n(secondsPerDay)) * time.Second),
		Path:      g.weightedPath(rng),
	}}

	repeats := rng.Intn(g.cfg.MaxRepeatVisits + 1)
	for k := 1; k <= repeats; k++ {
		erng := rand.New(rand.NewSource(EventSeed(g.cfg.Seed, userIdx, k)))
		// Later visits spread further from the first one.
		gap := erng.ExpFloat64() * float64(k) * g.cfg.RepeatSpreadDays
		day := firstDay.AddDate(0, 0, int(gap))
		if !withinCoarseWindow(day, oldestDay, newestDay) {
			continue
		}
		events = append(events, dataset.TrafficEvent{
			UserID:    userID,
			VisitDate: day.Add(time.Duration(erng.Int63n(secondsPerDay)) * time.Second),
			Path:      g.weightedPath(erng),
		})
	}
	return events
}

// firstVisitOffset draws the user's first-visit offset in days before the
// anchor: the log of an exponential draw rescaled across the horizon and
// flipped, so recent dates dominate and the old tail thins out.
func (g *TrafficGenerator) firstVisitOffset(rng *rand.Rand) float64 {
	hd := float64(g.cfg.HorizonDays)
	raw := math.Log1p(rng.ExpFloat64() * hd)
	scaled := hd * raw / math.Log1p(hd*firstVisitTailScale)
	return hd - scaled
}

func (g *TrafficGenerator) weightedPath(rng *rand.Rand) string {
	total := 0.0
	for _, p := range g.cfg.Paths {
		total += p.Weight
	}
	r := rng.Float64() * total
	for _, p := range g.cfg.Paths {
		r -= p.Weight
		if r < 0 {
			return p.Path
		}
	}
	return g.cfg.Paths[len(g.cfg.Paths)-1].Path
}

// withinCoarseWindow is the first filter phase: whole-day resolution,
// applied while visit days are being laid out.
func withinCoarseWindow(day, oldestDay, newestDay time.Time) bool {
	return !day.Before(oldestDay) && !day.After(newestDay)
}

// exactWindowFilter is the second filter phase: re-applied after exact
// timestamps are materialized, since an intra-day offset can push an
// event on a boundary day back outside the valid window.
func exactWindowFilter(events []dataset.TrafficEvent, oldest, newest time.Time) []dataset.TrafficEvent {
	kept := events[:0]
	for _, ev := range events {
		if ev.VisitDate.Before(oldest) || ev.VisitDate.After(newest) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// dedupe collapses duplicate (user, timestamp, path) tuples, keeping the
// first occurrence in input order.
func dedupe(events []dataset.TrafficEvent) []dataset.TrafficEvent {
	seen := make(map[eventKey]struct{}, len(events))
	kept := events[:0]
	for _, ev := range events {
		key := eventKey{user: ev.UserID, ts: ev.VisitDate.Unix(), path: ev.Path}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, ev)
	}
	return kept
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
