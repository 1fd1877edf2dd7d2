package scoreboard

import "math/rand/v2"

// Ticker simulates play by adding a random step to the score.
type Ticker struct {
	state    *State
	min, max int
	rng      *rand.Rand
}

// NewTicker adds a step drawn uniformly from [min, max] on every Tick.
// A nil rng uses a randomly seeded source.
func NewTicker(state *State, min, max int, rng *rand.Rand) *Ticker {
	if max < min {
		min, max = max, min
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Ticker{state: state, min: min, max: max, rng: rng}
}

// Tick adds one step and returns the new score.
func (t *Ticker) Tick() int {
	step := t.min + t.rng.IntN(t.max-t.min+1)
	return t.state.Add(step)
}
