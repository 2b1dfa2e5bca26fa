package podds

import (
	"errors"
	"fmt"
	"math"
)

// Classifier is a three class (home/draw/away) softmax regression over a named
// subset of the shared feature table. Inputs are standardised with the
// training set's mean and spread.
type Classifier struct {
	Features []string    `json:"features"`
	Means    []float64   `json:"means"`
	Scales   []float64   `json:"scales"`
	Weights  [][]float64 `json:"weights"` // per class, bias last
	Samples  int         `json:"samples"`
}

// ClassifierOptions are the gradient descent settings
type ClassifierOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultClassifierOptions mirrors what the offline trainer uses
func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{Epochs: 400, LearningRate: 0.15, L2: 0.001}
}

var errNotTrained = errors.New("classifier is not trained")

// NewClassifier returns an untrained classifier over the named features
func NewClassifier(features []string) *Classifier {
	return &Classifier{Features: append([]string(nil), features...)}
}

// Trained reports whether the classifier has usable weights
func (c *Classifier) Trained() bool {
	if c == nil || len(c.Weights) != 3 || len(c.Means) != len(c.Features) || len(c.Scales) != len(c.Features) {
		return false
	}
	for _, w := range c.Weights {
		if len(w) != len(c.Features)+1 {
			return false
		}
	}
	return true
}

// Fit trains the classifier by full batch gradient descent on cross entropy with L2 shrinkage
func (c *Classifier) Fit(samples []TrainingSample, opts ClassifierOptions) error {
	if len(samples) == 0 {
		return errors.New("no training samples")
	}
	xs := make([][]float64, len(samples))
	ys := make([]int, len(samples))
	for i := range samples {
		x, err := Vectorize(&samples[i].Features, c.Features)
		if err != nil {
			return err
		}
		xs[i] = x
		ys[i] = labelIndex(samples[i].Result())
	}
	return c.fitVectors(xs, ys, opts)
}

// fitVectors trains on pre-built inputs; ys holds class indexes (0 home, 1 draw, 2 away)
func (c *Classifier) fitVectors(xs [][]float64, ys []int, opts ClassifierOptions) error {
	if len(xs) == 0 || len(xs) != len(ys) {
		return fmt.Errorf("classifier needs matching inputs and labels, got %d and %d", len(xs), len(ys))
	}
	n := len(c.Features)
	for i, x := range xs {
		if len(x) != n {
			return fmt.Errorf("sample %d has %d inputs, want %d", i, len(x), n)
		}
	}

	c.Means = make([]float64, n)
	c.Scales = make([]float64, n)
	for j := 0; j < n; j++ {
		var sum, sq float64
		for _, x := range xs {
			sum += x[j]
		}
		mean := sum / float64(len(xs))
		for _, x := range xs {
			sq += (x[j] - mean) * (x[j] - mean)
		}
		c.Means[j] = mean
		c.Scales[j] = makeSensible(math.Sqrt(sq/float64(len(xs))), 1)
	}
	std := make([][]float64, len(xs))
	for i := range xs {
		std[i] = c.standardise(xs[i])
	}

	c.Weights = make([][]float64, 3)
	grad := make([][]float64, 3)
	for k := range c.Weights {
		c.Weights[k] = make([]float64, n+1)
		grad[k] = make([]float64, n+1)
	}

	m := float64(len(std))
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for k := range grad {
			for j := range grad[k] {
				grad[k][j] = 0
			}
		}
		for i, x := range std {
			p := c.softmax(x)
			for k := 0; k < 3; k++ {
				y := 0.0
				if ys[i] == k {
					y = 1
				}
				err := p[k] - y
				for j := 0; j < n; j++ {
					grad[k][j] += err * x[j]
				}
				grad[k][n] += err
			}
		}
		for k := 0; k < 3; k++ {
			for j := 0; j <= n; j++ {
				g := grad[k][j] / m
				if j < n {
					g += opts.L2 * c.Weights[k][j]
				}
				c.Weights[k][j] -= opts.LearningRate * g
			}
		}
	}
	c.Samples = len(xs)
	return nil
}

// Predict returns the class distribution for a fixture
func (c *Classifier) Predict(f *Features) (Outcome, error) {
	if !c.Trained() {
		return Outcome{}, errNotTrained
	}
	x, err := Vectorize(f, c.Features)
	if err != nil {
		return Outcome{}, fmt.Errorf("classifier: %w", err)
	}
	return c.predictVector(x)
}

func (c *Classifier) predictVector(x []float64) (Outcome, error) {
	if !c.Trained() {
		return Outcome{}, errNotTrained
	}
	if len(x) != len(c.Features) {
		return Outcome{}, fmt.Errorf("classifier expects %d inputs, got %d", len(c.Features), len(x))
	}
	return outcomeFromSlice(c.softmax(c.standardise(x))).Normalize(), nil
}

func (c *Classifier) standardise(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - c.Means[j]) / c.Scales[j]
	}
	return out
}

// softmax over the three class scores, shifted by the max for stability
func (c *Classifier) softmax(x []float64) []float64 {
	n := len(x)
	z := make([]float64, 3)
	for k := 0; k < 3; k++ {
		z[k] = c.Weights[k][n]
		for j := 0; j < n; j++ {
			z[k] += c.Weights[k][j] * x[j]
		}
	}
	maxZ := math.Max(z[0], math.Max(z[1], z[2]))
	var total float64
	for k := range z {
		z[k] = math.Exp(z[k] - maxZ)
		total += z[k]
	}
	for k := range z {
		z[k] /= total
	}
	return z
}

func labelIndex(result string) int {
	switch result {
	case ResultHome:
		return 0
	case ResultDraw:
		return 1
	}
	return 2
}
