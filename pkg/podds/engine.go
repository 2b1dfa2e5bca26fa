package podds

import (
	"errors"
	"fmt"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// Engine owns the store and every stateful component. Create one per process
// (or per test) and Close it when done.
type Engine struct {
	Config      *PoddsConfig
	Store       *Store
	Artifacts   *ArtifactStore
	Elo         *EloTracker
	Calibration *CalibrationModel
	Feedback    *FeedbackSystem
	Predictor   *EnsemblePredictor
}

// NewEngine opens the store and loads everything the configuration points at
func NewEngine(config *PoddsConfig) (*Engine, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	store, err := OpenStore(config.DbPath)
	if err != nil {
		return nil, err
	}
	e := &Engine{Config: config, Store: store, Artifacts: NewArtifactStore(config.ArtifactsPath)}

	if e.Elo, err = NewEloTracker(store, EloConfigFrom(config)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load elo tracker: %w", err)
	}
	if e.Calibration, err = NewCalibrationModel(store, config); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}
	if e.Feedback, err = NewFeedbackSystem(store, config); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load feedback log: %w", err)
	}
	weights, err := LoadWeights(config.WeightsPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	e.Predictor = NewEnsemblePredictor(config,
		NewMembers(e.Artifacts, config),
		weights,
		e.Elo,
		NewPoissonModel(config, e.Artifacts),
		e.Calibration,
		loadMetaModel(e.Artifacts))
	return e, nil
}

// Close releases the store
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.Store.Close()
}

// Predict runs the ensemble for a fixture and, when a fixture id is given, logs
// the prediction for later evaluation
func (e *Engine) Predict(f Features, fixtureID string) (*Prediction, error) {
	p := e.Predictor.Predict(&f)
	p.FixtureID = fixtureID
	if fixtureID == "" {
		return p, nil
	}
	if err := e.Feedback.LogPrediction(fixtureID, p); err != nil {
		return p, fmt.Errorf("prediction made but not logged: %w", err)
	}
	return p, nil
}

// ResultInput is a final score reported for a fixture
type ResultInput struct {
	FixtureID string    `json:"fixture_id"`
	HomeTeam  string    `json:"home_team,omitempty"`
	AwayTeam  string    `json:"away_team,omitempty"`
	HomeGoals int       `json:"home_goals"`
	AwayGoals int       `json:"away_goals"`
	Date      time.Time `json:"date"`
}

// ResultOutcome reports what a recorded result changed
type ResultOutcome struct {
	Evaluated bool              `json:"evaluated"`
	Record    *PredictionRecord `json:"record,omitempty"`
	Elo       *EloUpdate        `json:"elo,omitempty"`
	Note      string            `json:"note,omitempty"`
}

// RecordResult evaluates the logged prediction and feeds the score to the elo
// tracker. A fixture that was never predicted still updates elo when both teams
// are supplied; an already evaluated fixture changes nothing.
func (e *Engine) RecordResult(in ResultInput) (*ResultOutcome, error) {
	if in.Date.IsZero() {
		in.Date = time.Now().UTC()
	}
	out := &ResultOutcome{}
	rec, err := e.Feedback.RecordResult(in.FixtureID, in.HomeGoals, in.AwayGoals)
	switch {
	case err == nil:
		out.Evaluated = true
		out.Record = rec
		if in.HomeTeam == "" {
			in.HomeTeam = rec.HomeTeam
		}
		if in.AwayTeam == "" {
			in.AwayTeam = rec.AwayTeam
		}
	case errors.Is(err, ErrPredictionNotFound) && in.HomeTeam != "" && in.AwayTeam != "":
		out.Note = err.Error()
	default:
		return nil, err
	}

	if in.HomeTeam != "" && in.AwayTeam != "" {
		update, err := e.Elo.UpdateRatings(in.HomeTeam, in.AwayTeam, in.HomeGoals, in.AwayGoals, in.Date)
		if err != nil {
			return out, fmt.Errorf("result recorded but elo not updated: %w", err)
		}
		out.Elo = &update
	}

	if out.Evaluated && e.Config.PerformancePath != "" {
		if err := e.Feedback.WriteSummary(e.Config.PerformancePath); err != nil {
			logger.Warn("Failed to write performance summary", err)
		}
	}
	return out, nil
}

// RecommendWeights applies the feedback weight policy. With apply set a changed
// proposal is written to the override file and goes live.
func (e *Engine) RecommendWeights(apply bool) (WeightUpdate, error) {
	update := e.Feedback.ProposeWeights(e.Predictor.Weights())
	if !apply || !update.Changed {
		return update, nil
	}
	if err := SaveWeights(e.Config.WeightsPath, update.Proposed, update.Samples); err != nil {
		return update, err
	}
	e.Predictor.SetWeights(update.Proposed)
	logger.Highlight("Ensemble weights updated", update.Proposed)
	return update, nil
}

// ValidateCalibration fits a temperature on the evaluated predictions and
// compares it with the live one
func (e *Engine) ValidateCalibration(apply bool) (CalibrationReport, error) {
	history, err := e.Feedback.CalibrationHistory()
	if err != nil {
		return CalibrationReport{}, err
	}
	return e.Calibration.Fit(history, apply)
}

// Train runs the offline pipeline. With replayElo the samples are also applied
// to the elo tracker in date order.
func (e *Engine) Train(samples []TrainingSample, applyCalibration, replayElo bool) (*TrainingReport, error) {
	report, err := TrainAll(samples, e.Predictor, e.Artifacts, applyCalibration)
	if err != nil {
		return nil, err
	}
	if replayElo {
		matches := make([]MatchResult, len(samples))
		for i := range samples {
			matches[i] = samples[i].Match()
		}
		n, err := e.Elo.Replay(matches)
		report.EloReplayed = n
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
