package podds

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSimulator(trials int, seed int64) *MonteCarloSimulator {
	return &MonteCarloSimulator{Trials: trials, Jitter: 0.15, Floor: 0.3, MaxGoals: 8, Seed: seed}
}

func TestSimulationCountsSumToTrials(t *testing.T) {
	res := testSimulator(5000, 11).Simulate(1.6, 1.1)
	total := 0
	for _, n := range res.Scorelines {
		total += n
	}
	assert.Equal(t, 5000, total)
	assert.Equal(t, 5000, res.Trials)
	assert.InDelta(t, 1.0, res.Outcome.Sum(), 1e-9)
	assert.GreaterOrEqual(t, res.Over15, res.Over25)
	assert.Equal(t, 1.6, res.HomeLambda)
}

func TestSimulationIsDeterministicWithSeed(t *testing.T) {
	a := testSimulator(3000, 99).Simulate(1.4, 1.2)
	b := testSimulator(3000, 99).Simulate(1.4, 1.2)
	assert.Equal(t, a, b)
}

func TestSimulationMarketsRiseWithLambdas(t *testing.T) {
	sim := testSimulator(8000, 5)
	low := sim.Simulate(0.7, 0.6)
	mid := sim.Simulate(1.4, 1.2)
	high := sim.Simulate(2.6, 2.3)
	assert.Less(t, low.BTTS, mid.BTTS)
	assert.Less(t, mid.BTTS, high.BTTS)
	assert.Less(t, low.Over25, mid.Over25)
	assert.Less(t, mid.Over25, high.Over25)
}

func TestSimulationCapsGoals(t *testing.T) {
	sim := &MonteCarloSimulator{Trials: 500, Jitter: 0, Floor: 0.3, MaxGoals: 3, Seed: 3}
	res := sim.Simulate(6, 6)
	for key := range res.Scorelines {
		var h, a int
		_, err := fmt.Sscanf(key, "%d-%d", &h, &a)
		require.NoError(t, err)
		assert.LessOrEqual(t, h, 3)
		assert.LessOrEqual(t, a, 3)
	}
}

func TestPoissonRandomMean(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, lambda := range []float64{0.5, 3, 45} {
		sum := 0
		const n = 20000
		for i := 0; i < n; i++ {
			sum += poissonRandom(lambda, rng)
		}
		assert.InDelta(t, lambda, float64(sum)/n, 0.05*lambda+0.02, "lambda %v", lambda)
	}
	assert.Equal(t, 0, poissonRandom(0, rng))
}
