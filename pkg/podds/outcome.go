package podds

import (
	"math"
	"sort"
)

// Outcome is a home/draw/away probability triple
type Outcome struct {
	HomeWin float64 `json:"home_win"`
	Draw    float64 `json:"draw"`
	AwayWin float64 `json:"away_win"`
}

// Result labels
const (
	ResultHome = "H"
	ResultDraw = "D"
	ResultAway = "A"
)

// probFloor keeps log probabilities finite
const probFloor = 1e-12

// NewOutcome builds a normalised outcome from raw non-negative scores
func NewOutcome(home, draw, away float64) Outcome {
	return Outcome{HomeWin: home, Draw: draw, AwayWin: away}.Normalize()
}

// Sum returns home+draw+away
func (o Outcome) Sum() float64 {
	return o.HomeWin + o.Draw + o.AwayWin
}

// Normalize floors negative or NaN entries at zero and rescales to sum to one.
// An all zero triple becomes uniform.
func (o Outcome) Normalize() Outcome {
	vals := o.Slice()
	total := 0.0
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			vals[i] = 0
		}
		total += vals[i]
	}
	if total <= 0 {
		return Outcome{HomeWin: 1.0 / 3, Draw: 1.0 / 3, AwayWin: 1.0 / 3}
	}
	return Outcome{HomeWin: vals[0] / total, Draw: vals[1] / total, AwayWin: vals[2] / total}
}

// Slice returns the triple as [home, draw, away]
func (o Outcome) Slice() []float64 {
	return []float64{o.HomeWin, o.Draw, o.AwayWin}
}

// outcomeFromSlice is the inverse of Slice
func outcomeFromSlice(v []float64) Outcome {
	return Outcome{HomeWin: v[0], Draw: v[1], AwayWin: v[2]}
}

// Prob returns the probability for a result label
func (o Outcome) Prob(result string) float64 {
	switch result {
	case ResultHome:
		return o.HomeWin
	case ResultDraw:
		return o.Draw
	case ResultAway:
		return o.AwayWin
	}
	return 0
}

// Predicted returns the most likely result label, preferring home then draw on ties
func (o Outcome) Predicted() string {
	switch {
	case o.HomeWin >= o.Draw && o.HomeWin >= o.AwayWin:
		return ResultHome
	case o.Draw >= o.AwayWin:
		return ResultDraw
	default:
		return ResultAway
	}
}

// Max returns the largest of the three probabilities
func (o Outcome) Max() float64 {
	return math.Max(o.HomeWin, math.Max(o.Draw, o.AwayWin))
}

// Brier returns the three way brier score against the actual result
func (o Outcome) Brier(actual string) float64 {
	score := 0.0
	for i, label := range []string{ResultHome, ResultDraw, ResultAway} {
		y := 0.0
		if label == actual {
			y = 1
		}
		d := o.Slice()[i] - y
		score += d * d
	}
	return score
}

// LogLoss returns the negative log likelihood of the actual result
func (o Outcome) LogLoss(actual string) float64 {
	return -math.Log(math.Max(o.Prob(actual), probFloor))
}

// getMatchResult returns "H" for home win, "D" for draw, "A" for away win
func getMatchResult(homeGoals, awayGoals int) string {
	if homeGoals > awayGoals {
		return ResultHome
	} else if homeGoals < awayGoals {
		return ResultAway
	}
	return ResultDraw
}

// abs returns absolute value of an integer
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// makeSensible guards a denominator: values at or below zero become fallback
func makeSensible(value, fallback float64) float64 {
	if value <= 0 || math.IsNaN(value) {
		return fallback
	}
	return value
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

