package podds

import (
	"errors"
	"fmt"

	"github.com/sajari/regression"

	"github.com/richard-senior/podds/internal/logger"
)

// Lambdas are the expected goals for each side
type Lambdas struct {
	Home float64 `json:"home_lambda"`
	Away float64 `json:"away_lambda"`
}

// PoissonCoefficients are the fitted linear models, intercept first, over
// goals for, opponent goals against, elo difference (per 100 points) and form
type PoissonCoefficients struct {
	Home    []float64 `json:"home"`
	Away    []float64 `json:"away"`
	HomeR2  float64   `json:"home_r2"`
	AwayR2  float64   `json:"away_r2"`
	Samples int       `json:"samples"`
}

// minPoissonSamples is the smallest training set the regression is fitted on
const minPoissonSamples = 20

// PoissonModel converts fixture features into expected goals
type PoissonModel struct {
	config *PoddsConfig
	coeffs *PoissonCoefficients
}

// NewPoissonModel returns a heuristic model, or a trained one when the artifact store holds coefficients
func NewPoissonModel(config *PoddsConfig, artifacts *ArtifactStore) *PoissonModel {
	p := &PoissonModel{config: config}
	var coeffs PoissonCoefficients
	if artifacts.loadOptional(poissonArtifact, &coeffs) {
		if len(coeffs.Home) == 5 && len(coeffs.Away) == 5 {
			p.coeffs = &coeffs
		} else {
			logger.Warn("Poisson artifact has the wrong shape, using heuristic")
		}
	}
	return p
}

// Trained reports whether regression coefficients are in use
func (p *PoissonModel) Trained() bool {
	return p.coeffs != nil
}

// Coefficients returns the fitted coefficients, nil when untrained
func (p *PoissonModel) Coefficients() *PoissonCoefficients {
	return p.coeffs
}

// Lambdas returns expected goals using the given ratings for the elo terms
func (p *PoissonModel) Lambdas(f *Features, homeElo, awayElo float64) Lambdas {
	var l Lambdas
	if p.coeffs != nil {
		hx, ax := poissonInputs(f, homeElo, awayElo)
		l = Lambdas{Home: linear(p.coeffs.Home, hx), Away: linear(p.coeffs.Away, ax)}
	} else {
		l = p.heuristic(f, homeElo, awayElo)
	}
	return Lambdas{
		Home: clamp(l.Home, p.config.PoissonMinLambda, p.config.PoissonMaxLambda),
		Away: clamp(l.Away, p.config.PoissonMinLambda, p.config.PoissonMaxLambda),
	}
}

// heuristic is the attack times defence weakness model around half the league goal average
func (p *PoissonModel) heuristic(f *Features, homeElo, awayElo float64) Lambdas {
	half := makeSensible(f.LeagueAvgGoals/2, 1.35)

	homeFor := blendOptional(f.HomeGoalsFor, f.HomeXG, p.config.XGBlend)
	awayFor := blendOptional(f.AwayGoalsFor, f.AwayXG, p.config.XGBlend)

	homeAttack := homeFor / half
	awayAttack := awayFor / half
	homeDefence := f.HomeGoalsAgainst / half
	awayDefence := f.AwayGoalsAgainst / half

	homeMod := eloModifier(homeElo)
	awayMod := eloModifier(awayElo)

	home := half * homeAttack * homeMod * (awayDefence / awayMod) * formMultiplier(f.HomeForm) * p.config.PoissonHomeAdvantage
	away := half * awayAttack * awayMod * (homeDefence / homeMod) * formMultiplier(f.AwayForm)

	home = blendOptional(home, f.H2HHomeGoals, p.config.H2HBlend)
	away = blendOptional(away, f.H2HAwayGoals, p.config.H2HBlend)
	return Lambdas{Home: home, Away: away}
}

// eloModifier is +/-10% per 100 points from 1500, clamped to [0.5, 1.5]
func eloModifier(rating float64) float64 {
	return clamp(1+0.1*(rating-1500)/100, 0.5, 1.5)
}

// formMultiplier maps 0-30 form points onto 0.7-1.3
func formMultiplier(form float64) float64 {
	return 0.7 + 0.6*clamp(form, 0, 30)/30
}

// blendOptional mixes in an optional statistic with the given share when present
func blendOptional(base float64, optional *float64, share float64) float64 {
	if optional == nil {
		return base
	}
	return (1-share)*base + share*(*optional)
}

func poissonInputs(f *Features, homeElo, awayElo float64) ([]float64, []float64) {
	eloDiff := (homeElo - awayElo) / 100
	home := []float64{f.HomeGoalsFor, f.AwayGoalsAgainst, eloDiff, f.HomeForm / 30}
	away := []float64{f.AwayGoalsFor, f.HomeGoalsAgainst, -eloDiff, f.AwayForm / 30}
	return home, away
}

func linear(coeffs, x []float64) float64 {
	y := coeffs[0]
	for i, v := range x {
		y += coeffs[i+1] * v
	}
	return y
}

// Train fits one linear regression per side on observed goals
func (p *PoissonModel) Train(samples []TrainingSample) error {
	if len(samples) < minPoissonSamples {
		return fmt.Errorf("poisson regression needs at least %d samples, got %d", minPoissonSamples, len(samples))
	}
	home := newGoalsRegression("home_goals")
	away := newGoalsRegression("away_goals")
	for i := range samples {
		s := &samples[i]
		hx, ax := poissonInputs(&s.Features, s.Features.HomeElo, s.Features.AwayElo)
		home.Train(regression.DataPoint(float64(s.HomeGoals), hx))
		away.Train(regression.DataPoint(float64(s.AwayGoals), ax))
	}
	if err := home.Run(); err != nil {
		return fmt.Errorf("home goals regression failed: %w", err)
	}
	if err := away.Run(); err != nil {
		return fmt.Errorf("away goals regression failed: %w", err)
	}
	coeffs := &PoissonCoefficients{
		Home:    home.GetCoeffs(),
		Away:    away.GetCoeffs(),
		HomeR2:  home.R2,
		AwayR2:  away.R2,
		Samples: len(samples),
	}
	if len(coeffs.Home) != 5 || len(coeffs.Away) != 5 {
		return errors.New("regression returned an unexpected number of coefficients")
	}
	p.coeffs = coeffs
	logger.Info("Trained poisson regression", coeffs)
	return nil
}

func newGoalsRegression(observed string) *regression.Regression {
	r := new(regression.Regression)
	r.SetObserved(observed)
	for i, name := range []string{"goals_for", "opponent_goals_against", "elo_diff", "form"} {
		r.SetVar(i, name)
	}
	return r
}
