package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// ErrInvariant marks a pipeline defect: a condition the pipeline itself
// guarantees was found violated. Never recovered; the run aborts.
var ErrInvariant = errors.New("pipeline invariant violated")

const seedPoolSalt = 0x5eedab1e

// SeedPool hands out per-user seeds keyed by surrogate index. Seeding a
// draw directly from a domain identifier biases the output, so the pool
// is filled from the master seed and independently shuffled; a user's
// position in the (sorted) user list is the only key.
type SeedPool struct {
	seeds []int64
}

// NewSeedPool builds and shuffles a pool of size seeds. The assignment is
// precomputed here so workers never derive seeds from shared counters.
func NewSeedPool(master int64, size int) *SeedPool {
	rng := rand.New(rand.NewSource(master ^ seedPoolSalt))
	seeds := make([]int64, size)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}
	rng.Shuffle(len(seeds), func(i, j int) {
		seeds[i], seeds[j] = seeds[j], seeds[i]
	})
	return &SeedPool{seeds: seeds}
}

// Seed returns the seed assigned to a surrogate index. An index without
// an assignment is a pipeline defect.
func (p *SeedPool) Seed(idx int) (int64, error) {
	if idx < 0 || idx >= len(p.seeds) {
		return 0, fmt.Errorf("missing seed assignment for index %d: %w", idx, ErrInvariant)
	}
	return p.seeds[idx], nil
}

// Size reports how many assignments the pool holds.
func (p *SeedPool) Size() int {
	return len(p.seeds)
}

// EventSeed mixes the master seed, a user's surrogate index, and an event
// index into one draw-specific seed. Repeated draws keyed by user alone
// produce distributional artifacts, so every draw gets the event index
// folded in.
func EventSeed(master int64, userIdx, eventIdx int) int64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(master))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(userIdx))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(eventIdx))
	return int64(xxhash.Sum64(buf[:]) & 0x7fffffffffffffff)
}
