package podds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// minClassifierSamples is the smallest set a member classifier is fitted on
const minClassifierSamples = 30

// TrainingSample is a labelled historical fixture: the features as they stood
// before kick off and the final score
type TrainingSample struct {
	Features  Features  `json:"features"`
	HomeGoals int       `json:"home_goals"`
	AwayGoals int       `json:"away_goals"`
	Date      time.Time `json:"date"`
}

// UnmarshalJSON applies the feature defaults before decoding
func (s *TrainingSample) UnmarshalJSON(data []byte) error {
	type plain TrainingSample
	p := plain{Features: NewFeatures("", "")}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = TrainingSample(p)
	return nil
}

// Result returns the H/D/A label
func (s *TrainingSample) Result() string {
	return getMatchResult(s.HomeGoals, s.AwayGoals)
}

// Match returns the sample as a completed fixture
func (s *TrainingSample) Match() MatchResult {
	return MatchResult{
		HomeTeam:  s.Features.HomeTeam,
		AwayTeam:  s.Features.AwayTeam,
		HomeGoals: s.HomeGoals,
		AwayGoals: s.AwayGoals,
		Date:      s.Date,
	}
}

// LoadTrainingSamples reads a JSON array of samples
func LoadTrainingSamples(path string) ([]TrainingSample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training data: %w", err)
	}
	var samples []TrainingSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to decode training data %s: %w", path, err)
	}
	return samples, nil
}

// TrainingReport describes what the offline pipeline produced
type TrainingReport struct {
	Samples     int                `json:"samples"`
	Members     map[string]string  `json:"members"`
	Poisson     string             `json:"poisson"`
	MetaModel   string             `json:"meta_model"`
	Calibration *CalibrationReport `json:"calibration,omitempty"`
	EloReplayed int                `json:"elo_replayed,omitempty"`
}

// TrainAll fits every trainable member, the Poisson regression, the stacking
// meta model and the temperature, persisting each artifact as it goes. A member
// that fails keeps its previous state and the failure is reported, not returned.
func TrainAll(samples []TrainingSample, predictor *EnsemblePredictor, artifacts *ArtifactStore, applyCalibration bool) (*TrainingReport, error) {
	if len(samples) == 0 {
		return nil, errors.New("no training samples")
	}
	ordered := append([]TrainingSample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	report := &TrainingReport{Samples: len(ordered), Members: make(map[string]string)}

	if err := artifacts.Save(featureTableArtifact, currentFeatureTable()); err != nil {
		return nil, err
	}

	for _, m := range predictor.Members() {
		trainer, ok := m.(Trainer)
		if !ok {
			report.Members[m.Name()] = "heuristic only"
			continue
		}
		if len(ordered) < minClassifierSamples {
			report.Members[m.Name()] = fmt.Sprintf("skipped: need %d samples", minClassifierSamples)
			continue
		}
		if err := trainer.Train(ordered); err != nil {
			logger.Warn("Member training failed", m.Name(), err)
			report.Members[m.Name()] = "failed: " + err.Error()
			continue
		}
		if hm, ok := m.(*heuristicMember); ok {
			if err := artifacts.Save(m.Name(), hm.classifier()); err != nil {
				return nil, err
			}
		}
		report.Members[m.Name()] = "trained"
	}

	if err := predictor.poisson.Train(ordered); err != nil {
		logger.Warn("Poisson regression not trained", err)
		report.Poisson = "failed: " + err.Error()
	} else {
		if err := artifacts.Save(poissonArtifact, predictor.poisson.Coefficients()); err != nil {
			return nil, err
		}
		report.Poisson = "trained"
	}

	// in-sample member outputs feed both the stacking layer and the temperature fit
	history := make([]LabelledPrediction, len(ordered))
	breakdowns := make([]map[string]Outcome, len(ordered))
	results := make([]string, len(ordered))
	for i := range ordered {
		breakdown := predictor.memberPredictionsFrom(&ordered[i].Features, false)
		breakdowns[i] = breakdown
		results[i] = ordered[i].Result()
		history[i] = LabelledPrediction{Prediction: blend(breakdown, predictor.Weights()), Actual: results[i]}
	}

	if meta, err := FitMetaModel(breakdowns, results); err != nil {
		report.MetaModel = "failed: " + err.Error()
	} else {
		if err := artifacts.Save(metaModelArtifact, meta); err != nil {
			return nil, err
		}
		report.MetaModel = "trained"
	}

	cal, err := predictor.calibration.Fit(history, applyCalibration)
	if err != nil {
		return nil, fmt.Errorf("temperature fit failed: %w", err)
	}
	report.Calibration = &cal

	logger.Highlight("Training complete", report)
	return report, nil
}
