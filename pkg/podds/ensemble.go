package podds

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richard-senior/podds/internal/logger"
)

// SchemaVersion is the version of the Prediction JSON layout
const SchemaVersion = 1

// EloSnapshot records the ratings a prediction was made with
type EloSnapshot struct {
	Home   float64 `json:"home"`
	Away   float64 `json:"away"`
	Source string  `json:"source"` // "tracker" or "features"
}

// Prediction is the result bundle returned for a fixture
type Prediction struct {
	SchemaVersion         int                `json:"schema_version"`
	PredictionID          string             `json:"prediction_id"`
	FixtureID             string             `json:"fixture_id,omitempty"`
	HomeTeam              string             `json:"home_team"`
	AwayTeam              string             `json:"away_team"`
	League                string             `json:"league,omitempty"`
	Probabilities         Outcome            `json:"probabilities"`
	RawProbabilities      Outcome            `json:"raw_probabilities"`
	PredictedResult       string             `json:"predicted_result"`
	PredictedScore        string             `json:"predicted_score"`
	BTTS                  float64            `json:"btts"`
	Over15                float64            `json:"over_1_5"`
	Over25                float64            `json:"over_2_5"`
	Lambdas               Lambdas            `json:"expected_goals"`
	Trials                int                `json:"trials"`
	ScorelineDistribution map[string]int     `json:"scoreline_distribution"`
	Confidence            *Confidence        `json:"confidence,omitempty"`
	Members               map[string]Outcome `json:"member_breakdown"`
	Weights               Weights            `json:"weights"`
	Elo                   EloSnapshot        `json:"elo"`
	Temperature           float64            `json:"temperature"`
	GeneratedAt           time.Time          `json:"generated_at"`
}

// EnsemblePredictor blends the members, calibrates the blend and attaches the
// simulated scoreline markets
type EnsemblePredictor struct {
	config      *PoddsConfig
	members     []Model
	tracker     *EloTracker
	poisson     *PoissonModel
	simulator   *MonteCarloSimulator
	calibration *CalibrationModel
	// loaded for the offline pipeline; not consulted by Predict
	metaModel *MetaModel

	weights Weights
	mu      sync.RWMutex
}

// NewEnsemblePredictor wires the members with their collaborators. tracker and
// calibration may be nil, in which case feature ratings and the configured
// temperature are used.
func NewEnsemblePredictor(config *PoddsConfig, members []Model, weights Weights, tracker *EloTracker,
	poisson *PoissonModel, calibration *CalibrationModel, meta *MetaModel) *EnsemblePredictor {
	if weights == nil {
		weights = DefaultWeights()
	}
	if calibration == nil {
		calibration = &CalibrationModel{config: config, temperature: config.Temperature}
	}
	if meta != nil {
		logger.Info("Stacking meta model loaded but not used on the live path", meta.Members)
	}
	return &EnsemblePredictor{
		config:      config,
		members:     members,
		tracker:     tracker,
		poisson:     poisson,
		simulator:   NewMonteCarloSimulator(config),
		calibration: calibration,
		metaModel:   meta,
		weights:     weights.Normalize(),
	}
}

// Weights returns a copy of the live weights
func (e *EnsemblePredictor) Weights() Weights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights.Clone()
}

// SetWeights replaces the live weights after normalising them
func (e *EnsemblePredictor) SetWeights(w Weights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = w.Normalize()
}

// Members returns the ensemble members
func (e *EnsemblePredictor) Members() []Model {
	return e.members
}

// Simulator exposes the Monte Carlo settings, mainly so callers can fix the seed
func (e *EnsemblePredictor) Simulator() *MonteCarloSimulator {
	return e.simulator
}

// eloView picks the ratings to use: the tracker's once it has state, otherwise the feature values
func (e *EnsemblePredictor) eloView(f *Features) EloSnapshot {
	if e.tracker != nil && e.tracker.HasState() {
		return EloSnapshot{Home: e.tracker.Rating(f.HomeTeam), Away: e.tracker.Rating(f.AwayTeam), Source: "tracker"}
	}
	return EloSnapshot{Home: f.HomeElo, Away: f.AwayElo, Source: "features"}
}

// memberPredictions asks every member for its distribution. The tracker's view
// replaces the plain elo member when the tracker has state.
func (e *EnsemblePredictor) memberPredictions(f *Features) map[string]Outcome {
	return e.memberPredictionsFrom(f, e.tracker != nil && e.tracker.HasState())
}

func (e *EnsemblePredictor) memberPredictionsFrom(f *Features, useTracker bool) map[string]Outcome {
	breakdown := make(map[string]Outcome, len(e.members))
	for _, m := range e.members {
		if m.Name() == MemberElo && useTracker {
			breakdown[m.Name()] = e.tracker.PredictMatch(f.HomeTeam, f.AwayTeam)
			continue
		}
		breakdown[m.Name()] = m.Predict(f).Normalize()
	}
	return breakdown
}

// blend is the weighted average over members with a positive weight, normalised by the applied weight
func blend(breakdown map[string]Outcome, weights Weights) Outcome {
	var h, d, a, applied float64
	for _, name := range sortedKeys(breakdown) {
		w := weights[name]
		if w <= 0 {
			continue
		}
		o := breakdown[name]
		h += w * o.HomeWin
		d += w * o.Draw
		a += w * o.AwayWin
		applied += w
	}
	if applied <= 0 {
		return Outcome{}.Normalize()
	}
	return Outcome{HomeWin: h / applied, Draw: d / applied, AwayWin: a / applied}.Normalize()
}

// Predict runs the full pipeline for one fixture
func (e *EnsemblePredictor) Predict(f *Features) *Prediction {
	weights := e.Weights()
	breakdown := e.memberPredictions(f)
	raw := blend(breakdown, weights)
	calibrated := e.calibration.Apply(raw)

	elo := e.eloView(f)
	lambdas := e.poisson.Lambdas(f, elo.Home, elo.Away)
	sim := e.simulator.Simulate(lambdas.Home, lambdas.Away)

	members := make([]Outcome, 0, len(breakdown))
	for _, name := range sortedKeys(breakdown) {
		members = append(members, breakdown[name])
	}

	p := &Prediction{
		SchemaVersion:         SchemaVersion,
		PredictionID:          uuid.NewString(),
		HomeTeam:              f.HomeTeam,
		AwayTeam:              f.AwayTeam,
		League:                f.League,
		Probabilities:         calibrated,
		RawProbabilities:      raw,
		PredictedResult:       calibrated.Predicted(),
		PredictedScore:        selectScoreline(sim, calibrated, e.config),
		BTTS:                  sim.BTTS,
		Over15:                sim.Over15,
		Over25:                sim.Over25,
		Lambdas:               Lambdas{Home: sim.HomeLambda, Away: sim.AwayLambda},
		Trials:                sim.Trials,
		ScorelineDistribution: sim.Scorelines,
		Confidence:            computeConfidence(calibrated, members, e.config.ConfidenceZ, e.config.AgreementWidth),
		Members:               breakdown,
		Weights:               weights,
		Elo:                   elo,
		Temperature:           e.calibration.Temperature(),
		GeneratedAt:           time.Now().UTC(),
	}
	logger.Debug("Prediction", p.HomeTeam, p.AwayTeam, p.Probabilities, p.PredictedScore)
	return p
}

// selectScoreline weights each simulated scoreline by its frequency and the
// calibrated probability of its result, with bonuses when it agrees with the
// BTTS and over 2.5 markets. Ties go to the lexically smaller scoreline.
func selectScoreline(sim SimulationResult, calibrated Outcome, config *PoddsConfig) string {
	best, bestWeight := "", 0.0
	trials := float64(sim.Trials)
	for _, key := range sortedKeys(sim.Scorelines) {
		var hg, ag int
		if _, err := fmt.Sscanf(key, "%d-%d", &hg, &ag); err != nil {
			continue
		}
		w := float64(sim.Scorelines[key]) / trials * calibrated.Prob(getMatchResult(hg, ag))
		if hg > 0 && ag > 0 && sim.BTTS > config.BTTSBonusThreshold {
			w *= config.BTTSBonus
		}
		if hg+ag > 2 && sim.Over25 > config.OverBonusThreshold {
			w *= config.OverBonus
		}
		if w > bestWeight {
			best, bestWeight = key, w
		}
	}
	if best != "" {
		return best
	}
	switch calibrated.Predicted() {
	case ResultHome:
		return "1-0"
	case ResultDraw:
		return "1-1"
	}
	return "0-1"
}
