package podds

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// SimulationResult is the outcome of a Monte Carlo run
type SimulationResult struct {
	Trials     int            `json:"trials"`
	Outcome    Outcome        `json:"outcome"`
	BTTS       float64        `json:"btts"`
	Over15     float64        `json:"over_1_5"`
	Over25     float64        `json:"over_2_5"`
	Scorelines map[string]int `json:"scorelines"`
	HomeLambda float64        `json:"home_lambda"`
	AwayLambda float64        `json:"away_lambda"`
}

// MonteCarloSimulator samples scorelines from perturbed Poisson rates
type MonteCarloSimulator struct {
	Trials   int
	Jitter   float64
	Floor    float64
	MaxGoals int
	Seed     int64 // zero seeds each run from the clock
}

// NewMonteCarloSimulator builds a simulator from the configuration
func NewMonteCarloSimulator(config *PoddsConfig) *MonteCarloSimulator {
	return &MonteCarloSimulator{
		Trials:   config.MonteCarloTrials,
		Jitter:   config.LambdaJitter,
		Floor:    config.LambdaFloor,
		MaxGoals: config.MaxGoals,
		Seed:     config.MonteCarloSeed,
	}
}

func scorelineKey(home, away int) string {
	return fmt.Sprintf("%d-%d", home, away)
}

// Simulate plays Trials matches. Each trial scales both lambdas by independent
// uniform noise, floors them, then samples goals for each side.
func (m *MonteCarloSimulator) Simulate(homeLambda, awayLambda float64) SimulationResult {
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	trials := m.Trials
	if trials <= 0 {
		trials = 1
	}
	var home, draw, away, btts, over15, over25 int
	scorelines := make(map[string]int)

	for i := 0; i < trials; i++ {
		lh := math.Max(m.Floor, homeLambda*(1+m.Jitter*(2*rng.Float64()-1)))
		la := math.Max(m.Floor, awayLambda*(1+m.Jitter*(2*rng.Float64()-1)))
		hg := min(poissonRandom(lh, rng), m.MaxGoals)
		ag := min(poissonRandom(la, rng), m.MaxGoals)

		switch getMatchResult(hg, ag) {
		case ResultHome:
			home++
		case ResultDraw:
			draw++
		default:
			away++
		}
		if hg > 0 && ag > 0 {
			btts++
		}
		if hg+ag > 1 {
			over15++
		}
		if hg+ag > 2 {
			over25++
		}
		scorelines[scorelineKey(hg, ag)]++
	}

	n := float64(trials)
	return SimulationResult{
		Trials:     trials,
		Outcome:    Outcome{HomeWin: float64(home) / n, Draw: float64(draw) / n, AwayWin: float64(away) / n},
		BTTS:       float64(btts) / n,
		Over15:     float64(over15) / n,
		Over25:     float64(over25) / n,
		Scorelines: scorelines,
		HomeLambda: round(homeLambda, 2),
		AwayLambda: round(awayLambda, 2),
	}
}

// poissonRandom draws from Poisson(lambda): Knuth's method for small lambda,
// a normal approximation above 30
func poissonRandom(lambda float64, rng *rand.Rand) int {
	if lambda <= 0 {
		return 0
	}
	if lambda < 30 {
		L := math.Exp(-lambda)
		k := 0
		p := 1.0
		for p > L {
			k++
			p *= rng.Float64()
		}
		return k - 1
	}
	k := int(math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64()))
	if k < 0 {
		return 0
	}
	return k
}
