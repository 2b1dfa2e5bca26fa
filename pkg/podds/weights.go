package podds

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/transport"
)

// Weights maps member name to its share of the blend
type Weights map[string]float64

// DefaultWeights is the static weight table
func DefaultWeights() Weights {
	return Weights{
		MemberForm:          0.22,
		MemberElo:           0.22,
		MemberLeagueContext: 0.18,
		MemberTrend:         0.14,
		MemberBayesian:      0.10,
		MemberSequence:      0.08,
		MemberGoals:         0.06,
	}
}

// MemberNames returns every member name in a stable order
func MemberNames() []string {
	return sortedKeys(DefaultWeights())
}

var knownMembers = mapset.NewSet[string](MemberNames()...)

// Sum returns the total weight
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Clone returns an independent copy
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Normalize drops negative or non finite weights and rescales the rest to sum to one.
// If nothing positive remains the defaults are returned.
func (w Weights) Normalize() Weights {
	out := make(Weights, len(w))
	total := 0.0
	for k, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[k] = v
		total += v
	}
	if total <= 0 {
		return DefaultWeights()
	}
	for k := range out {
		out[k] /= total
	}
	return out
}

// BlendWeights moves current toward recommended: momentum*current + (1-momentum)*recommended.
// Members without a recommendation keep their current weight.
func BlendWeights(current, recommended Weights, momentum float64) Weights {
	out := make(Weights, len(current))
	for name, cur := range current {
		rec, ok := recommended[name]
		if !ok {
			rec = cur
		}
		out[name] = momentum*cur + (1-momentum)*rec
	}
	return out.Normalize()
}

// weightsFile is the override file layout
type weightsFile struct {
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
	Samples   int       `yaml:"samples,omitempty"`
	Weights   Weights   `yaml:"weights"`
}

// LoadWeights reads the override file. A missing file yields the defaults.
// Members absent from the file keep their default weight; unknown names are ignored.
func LoadWeights(path string) (Weights, error) {
	if path == "" {
		return DefaultWeights(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultWeights(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read weights %s: %w", path, err)
	}
	var file weightsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse weights %s: %w", path, err)
	}

	w := DefaultWeights()
	for name, v := range file.Weights {
		if !knownMembers.Contains(name) {
			logger.Warn("Ignoring weight for unknown member", name)
			continue
		}
		w[name] = v
	}
	logger.Info("Loaded ensemble weights", path)
	return w.Normalize(), nil
}

// SaveWeights atomically writes the override file
func SaveWeights(path string, w Weights, samples int) error {
	file := weightsFile{UpdatedAt: time.Now().UTC(), Samples: samples, Weights: w}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	return transport.WriteFileAtomic(path, data, 0644)
}
