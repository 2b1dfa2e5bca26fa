package podds

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// testConfig returns defaults rooted in a temp dir with an in-memory store and a fixed seed
func testConfig(t *testing.T) *PoddsConfig {
	t.Helper()
	c := DefaultPoddsConfig()
	c.SetAssetsPath(t.TempDir())
	c.DbPath = ":memory:"
	c.MonteCarloSeed = 42
	c.MonteCarloTrials = 4000
	return c
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	require.NoError(t, err, "Failed to open in-memory store")
	t.Cleanup(func() { s.Close() })
	return s
}

func testEngine(t *testing.T, c *PoddsConfig) *Engine {
	t.Helper()
	if c == nil {
		c = testConfig(t)
	}
	e, err := NewEngine(c)
	require.NoError(t, err, "Failed to build engine")
	t.Cleanup(func() { e.Close() })
	return e
}

func requireDistribution(t *testing.T, o Outcome, msgAndArgs ...any) {
	t.Helper()
	sum := o.Sum()
	require.InDelta(t, 1.0, sum, 0.05, msgAndArgs...)
	for _, p := range o.Slice() {
		require.GreaterOrEqual(t, p, 0.0, msgAndArgs...)
		require.LessOrEqual(t, p, 1.0, msgAndArgs...)
	}
}

// syntheticSamples builds labelled fixtures where one latent strength drives
// every feature and the scores, so trained models have something to find
func syntheticSamples(n int, seed int64) []TrainingSample {
	rng := rand.New(rand.NewSource(seed))
	noise := func(scale float64) float64 { return scale * rng.NormFloat64() }
	out := make([]TrainingSample, n)
	for i := range out {
		f := NewFeatures(fmt.Sprintf("t%d", i%10), fmt.Sprintf("t%d", (i+3)%10))
		s := 2*rng.Float64() - 1 // positive favours the home side
		f.HomeForm = clamp(15+12*s+noise(2), 0, 30)
		f.AwayForm = clamp(15-12*s+noise(2), 0, 30)
		f.HomeLast5 = clamp(7+6*s+noise(1), 0, 15)
		f.AwayLast5 = clamp(7-6*s+noise(1), 0, 15)
		f.HomeGoalsFor = math.Max(0.3, 1.35+0.6*s+noise(0.1))
		f.AwayGoalsFor = math.Max(0.3, 1.35-0.6*s+noise(0.1))
		f.HomeGoalsAgainst = math.Max(0.3, 1.35-0.4*s+noise(0.1))
		f.AwayGoalsAgainst = math.Max(0.3, 1.35+0.4*s+noise(0.1))
		f.HomeElo = 1500 + 150*s + noise(20)
		f.AwayElo = 1500 - 150*s + noise(20)
		f.HomePosition = clamp(10-8*s+noise(1), 1, 20)
		f.AwayPosition = clamp(10+8*s+noise(1), 1, 20)
		f.HomePlayed, f.AwayPlayed = 10, 10
		f.HomePoints = clamp(15+10*s+noise(2), 0, 30)
		f.AwayPoints = clamp(15-10*s+noise(2), 0, 30)
		f.HomeGoalDiff = 10*s + noise(2)
		f.AwayGoalDiff = -10*s + noise(2)

		hg := poissonRandom(math.Max(0.2, 1.5+1.0*s), rng)
		ag := poissonRandom(math.Max(0.2, 1.1-0.9*s), rng)
		out[i] = TrainingSample{Features: f, HomeGoals: hg, AwayGoals: ag, Date: day(1).AddDate(0, 0, i)}
	}
	return out
}
