package podds

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierUntrained(t *testing.T) {
	var nilClf *Classifier
	assert.False(t, nilClf.Trained())

	c := NewClassifier([]string{"home_form", "away_form"})
	assert.False(t, c.Trained())
	f := NewFeatures("a", "b")
	_, err := c.Predict(&f)
	assert.True(t, errors.Is(err, errNotTrained))

	c.Weights = [][]float64{{1}, {1}, {1}}
	assert.False(t, c.Trained(), "Weights of the wrong shape are unusable")
}

func TestClassifierLearnsSeparableClasses(t *testing.T) {
	c := NewClassifier([]string{"elo_diff"})
	// home wins above +100, away wins below -100, draws in between
	var xs [][]float64
	var ys []int
	for i := -30; i <= 30; i++ {
		d := float64(i) * 10
		xs = append(xs, []float64{d / 400})
		switch {
		case d > 100:
			ys = append(ys, 0)
		case d < -100:
			ys = append(ys, 2)
		default:
			ys = append(ys, 1)
		}
	}
	require.NoError(t, c.fitVectors(xs, ys, ClassifierOptions{Epochs: 1500, LearningRate: 0.5, L2: 0}))
	require.True(t, c.Trained())
	assert.Equal(t, len(xs), c.Samples)

	home, err := c.predictVector([]float64{250.0 / 400})
	require.NoError(t, err)
	away, err := c.predictVector([]float64{-250.0 / 400})
	require.NoError(t, err)
	draw, err := c.predictVector([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, ResultHome, home.Predicted())
	assert.Equal(t, ResultAway, away.Predicted())
	assert.Equal(t, ResultDraw, draw.Predicted())
	requireDistribution(t, draw)

	_, err = c.predictVector([]float64{1, 2})
	assert.Error(t, err)
}

func TestClassifierFitRejectsUnknownFeatures(t *testing.T) {
	c := NewClassifier([]string{"shoe_size"})
	assert.Error(t, c.Fit(syntheticSamples(10, 1), DefaultClassifierOptions()))
	assert.Error(t, NewClassifier([]string{"home_form"}).Fit(nil, DefaultClassifierOptions()))
}
