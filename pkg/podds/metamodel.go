package podds

import (
	"fmt"
)

// MetaModel is a stacking layer fitted on member outputs. The ensemble loads it
// at construction but the live blend does not consult it: predictions come from
// the weighted average only. It is kept so the offline pipeline and artifact
// format stay stable while the stacking path is evaluated.
type MetaModel struct {
	Members    []string    `json:"members"`
	Classifier *Classifier `json:"classifier"`
}

// metaInputs flattens member predictions as home, draw, away per member in Members order
func (m *MetaModel) metaInputs(breakdown map[string]Outcome) ([]float64, error) {
	x := make([]float64, 0, 3*len(m.Members))
	for _, name := range m.Members {
		o, ok := breakdown[name]
		if !ok {
			return nil, fmt.Errorf("meta model input %s missing", name)
		}
		x = append(x, o.Slice()...)
	}
	return x, nil
}

func metaFeatureNames(members []string) []string {
	names := make([]string, 0, 3*len(members))
	for _, m := range members {
		names = append(names, m+".home_win", m+".draw", m+".away_win")
	}
	return names
}

// FitMetaModel trains a stacking classifier on member breakdowns
func FitMetaModel(breakdowns []map[string]Outcome, results []string) (*MetaModel, error) {
	if len(breakdowns) == 0 || len(breakdowns) != len(results) {
		return nil, fmt.Errorf("meta model needs matching breakdowns and results, got %d and %d", len(breakdowns), len(results))
	}
	m := &MetaModel{Members: sortedKeys(breakdowns[0])}
	m.Classifier = NewClassifier(metaFeatureNames(m.Members))

	xs := make([][]float64, len(breakdowns))
	ys := make([]int, len(results))
	for i, b := range breakdowns {
		x, err := m.metaInputs(b)
		if err != nil {
			return nil, err
		}
		xs[i] = x
		ys[i] = labelIndex(results[i])
	}
	if err := m.Classifier.fitVectors(xs, ys, DefaultClassifierOptions()); err != nil {
		return nil, err
	}
	return m, nil
}

// Predict returns the stacked distribution for a member breakdown
func (m *MetaModel) Predict(breakdown map[string]Outcome) (Outcome, error) {
	if m == nil || !m.Classifier.Trained() {
		return Outcome{}, errNotTrained
	}
	x, err := m.metaInputs(breakdown)
	if err != nil {
		return Outcome{}, err
	}
	return m.Classifier.predictVector(x)
}

// loadMetaModel reads the stacking artifact, nil when absent or unusable
func loadMetaModel(artifacts *ArtifactStore) *MetaModel {
	var m MetaModel
	if !artifacts.loadOptional(metaModelArtifact, &m) {
		return nil
	}
	if !m.Classifier.Trained() {
		return nil
	}
	return &m
}
