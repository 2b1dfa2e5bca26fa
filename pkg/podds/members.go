package podds

import (
	"fmt"
	"math"

	"github.com/richard-senior/podds/internal/logger"
)

// Member names, also the keys of the ensemble weight table
const (
	MemberForm          = "form"
	MemberElo           = "elo"
	MemberLeagueContext = "league_context"
	MemberTrend         = "trend"
	MemberBayesian      = "bayesian"
	MemberSequence      = "sequence"
	MemberGoals         = "goals"
)

// Model is a single ensemble member
type Model interface {
	Name() string
	Predict(f *Features) Outcome
}

// Trainer is implemented by members that can be fitted offline
type Trainer interface {
	Model
	Train(samples []TrainingSample) error
	Trained() bool
}

// heuristicMember applies a hand tuned formula until a classifier over its
// feature subset has been trained, after which the classifier takes over
type heuristicMember struct {
	name     string
	formula  func(*Features) Outcome
	features []string
	clf      *Classifier
}

func (m *heuristicMember) Name() string { return m.name }

func (m *heuristicMember) Predict(f *Features) Outcome {
	if m.clf.Trained() {
		o, err := m.clf.Predict(f)
		if err == nil {
			return o
		}
		logger.Warn("Classifier failed, falling back to heuristic", m.name, err)
	}
	return m.formula(f).Normalize()
}

func (m *heuristicMember) Trained() bool {
	return m.clf.Trained()
}

func (m *heuristicMember) Train(samples []TrainingSample) error {
	if len(m.features) == 0 {
		return fmt.Errorf("member %s has no trainable feature subset", m.name)
	}
	clf := NewClassifier(m.features)
	if err := clf.Fit(samples, DefaultClassifierOptions()); err != nil {
		return fmt.Errorf("failed to train %s: %w", m.name, err)
	}
	m.clf = clf
	return nil
}

// classifier exposes the fitted state for persistence
func (m *heuristicMember) classifier() *Classifier {
	return m.clf
}

// NewMembers builds every ensemble member. Trained state is read from the
// artifact store when present; anything missing or unreadable leaves that member
// on its heuristic.
func NewMembers(artifacts *ArtifactStore, config *PoddsConfig) []Model {
	trainable := []*heuristicMember{
		{name: MemberForm, formula: formHeuristic,
			features: []string{"home_form", "away_form", "home_last5", "away_last5"}},
		{name: MemberLeagueContext, formula: leagueContextHeuristic,
			features: []string{"position_diff", "ppg_diff", "gd_per_game_diff", "venue_diff"}},
		{name: MemberTrend, formula: trendHeuristic,
			features: []string{"home_trend", "away_trend", "form_diff", "home_last5", "away_last5"}},
		{name: MemberSequence, formula: sequenceHeuristic,
			features: []string{"home_win_streak", "away_win_streak", "home_unbeaten", "away_unbeaten",
				"home_loss_streak", "away_loss_streak", "h2h_balance", "h2h_draw_rate"}},
	}

	tableOK := true
	var stored FeatureTable
	if artifacts.loadOptional(featureTableArtifact, &stored) {
		if err := checkFeatureTable(stored); err != nil {
			logger.Warn("Stored feature table is incompatible, members stay untrained", err)
			tableOK = false
		}
	}
	for _, m := range trainable {
		if !tableOK {
			continue
		}
		var clf Classifier
		if !artifacts.loadOptional(m.name, &clf) {
			continue
		}
		if !clf.Trained() {
			logger.Warn("Artifact holds no usable weights, member stays untrained", m.name)
			continue
		}
		if err := checkFeatureTable(FeatureTable{Features: clf.Features}); err != nil {
			logger.Warn("Artifact uses unknown features, member stays untrained", m.name, err)
			continue
		}
		m.clf = &clf
	}

	homeAdv := 100.0
	if config != nil {
		homeAdv = config.EloHomeAdvantage
	}
	models := []Model{
		trainable[0],
		&eloMember{homeAdvantage: homeAdv},
		trainable[1],
		trainable[2],
		&bayesianMember{},
		trainable[3],
		&goalsMember{},
	}
	return models
}

// logistic is the standard sigmoid
func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// fromStrength maps a signed home-minus-away strength onto a distribution.
// Draws are most likely when the sides are level and thin out as |d| grows.
func fromStrength(d, edge, base float64) Outcome {
	d += edge
	draw := base * (1 - 0.5*minFloat(1, math.Abs(d)))
	hs := logistic(4 * d)
	return NewOutcome((1-draw)*hs, draw, (1-draw)*(1-hs))
}

// formHeuristic compares points from recent games, the last five counting half again
func formHeuristic(f *Features) Outcome {
	d := f.HomeForm/30 - f.AwayForm/30 + 0.5*(f.HomeLast5/15-f.AwayLast5/15)
	return fromStrength(d, 0.1, 0.31)
}

func leagueContextHeuristic(f *Features) Outcome {
	pos := (f.AwayPosition - f.HomePosition) / makeSensible(f.LeagueSize, 20)
	hppg, appg := f.PointsPerGame()
	hgd, agd := f.GoalDiffPerGame()
	d := 0.45*pos + 0.35*(hppg-appg)/3 + 0.2*clamp((hgd-agd)/2, -1, 1)
	return fromStrength(d, 0.5*(f.HomeVenueWinRate-f.AwayVenueWinRate), 0.29)
}

// trendHeuristic rewards sides whose last five outpace their last ten
func trendHeuristic(f *Features) Outcome {
	ht := f.HomeLast5/5 - f.HomeForm/10
	at := f.AwayLast5/5 - f.AwayForm/10
	d := 0.6*(f.HomeLast5/15-f.AwayLast5/15) + 0.15*(ht-at)/3
	return fromStrength(d, 0.08, 0.30)
}

func streakScore(win, unbeaten, loss float64) float64 {
	return 0.06*minFloat(win, 5) + 0.02*minFloat(unbeaten, 10) - 0.06*minFloat(loss, 5)
}

func sequenceHeuristic(f *Features) Outcome {
	d := streakScore(f.HomeWinStreak, f.HomeUnbeaten, f.HomeLossStreak) -
		streakScore(f.AwayWinStreak, f.AwayUnbeaten, f.AwayLossStreak)
	d += 0.15 * h2hBalance(f)
	return fromStrength(d, 0.08, 0.28)
}

// goalsMember integrates an independent Poisson scoreline grid from scoring rates
type goalsMember struct{}

func (m *goalsMember) Name() string { return MemberGoals }

func (m *goalsMember) Predict(f *Features) Outcome {
	lh := clamp((f.HomeGoalsFor+f.AwayGoalsAgainst)/2*1.1, 0.2, 5)
	la := clamp((f.AwayGoalsFor+f.HomeGoalsAgainst)/2*0.9, 0.2, 5)
	return poissonOutcome(lh, la, 11)
}

// poissonOutcome sums the independent Poisson grid of 0..n-1 goals per side
func poissonOutcome(lh, la float64, n int) Outcome {
	var home, draw, away float64
	for i := 0; i < n; i++ {
		pi := poissonProb(i, lh)
		for j := 0; j < n; j++ {
			p := pi * poissonProb(j, la)
			switch {
			case i > j:
				home += p
			case i == j:
				draw += p
			default:
				away += p
			}
		}
	}
	return NewOutcome(home, draw, away)
}

// poissonProb returns P(X = k) for X ~ Poisson(lambda), computed in log space
func poissonProb(k int, lambda float64) float64 {
	if lambda <= 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	lg, _ := math.Lgamma(float64(k + 1))
	return math.Exp(float64(k)*math.Log(lambda) - lambda - lg)
}

// bayesianMember updates a league wide prior with the market (or venue records
// when no prices are available) and head to head counts
type bayesianMember struct{}

func (m *bayesianMember) Name() string { return MemberBayesian }

func (m *bayesianMember) Predict(f *Features) Outcome {
	alpha := []float64{0.45 * 10, 0.27 * 10, 0.28 * 10}

	var obs Outcome
	weight := 10.0
	if implied, ok := impliedOdds(f); ok {
		obs = implied
		weight = 30
	} else {
		obs = NewOutcome(f.HomeVenueWinRate,
			math.Max(0.15, 1-f.HomeVenueWinRate-f.AwayVenueWinRate),
			f.AwayVenueWinRate)
	}
	for i, p := range obs.Slice() {
		alpha[i] += weight * p
	}
	alpha[0] += f.H2HHomeWins
	alpha[1] += f.H2HDraws
	alpha[2] += f.H2HAwayWins
	return outcomeFromSlice(alpha).Normalize()
}

// eloMember predicts from the ratings supplied with the features. The ensemble
// swaps in the persistent tracker's view once the tracker has state.
type eloMember struct {
	homeAdvantage float64
}

func (m *eloMember) Name() string { return MemberElo }

func (m *eloMember) Predict(f *Features) Outcome {
	return eloOutcome(f.HomeElo, f.AwayElo, m.homeAdvantage)
}
