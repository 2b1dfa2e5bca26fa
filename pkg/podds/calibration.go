package podds

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// LabelledPrediction pairs an uncalibrated ensemble blend with the result that followed
type LabelledPrediction struct {
	Prediction Outcome `json:"prediction"`
	Actual     string  `json:"actual"`
}

// CalibrationReport compares the current temperature against a proposed one
type CalibrationReport struct {
	Samples     int     `json:"samples"`
	Current     float64 `json:"current_temperature"`
	Proposed    float64 `json:"proposed_temperature"`
	NLL         float64 `json:"proposed_nll"`
	BrierBefore float64 `json:"brier_before"`
	BrierAfter  float64 `json:"brier_after"`
	Improvement float64 `json:"improvement"`
	Apply       bool    `json:"apply"`
	Applied     bool    `json:"applied"`
}

// ErrNoCalibrationHistory is returned when there is nothing to fit against
var ErrNoCalibrationHistory = errors.New("no labelled predictions to calibrate against")

// ApplyTemperature raises each probability to 1/T and renormalises.
// T below one sharpens the distribution, above one flattens it.
func ApplyTemperature(o Outcome, temperature float64) Outcome {
	if temperature <= 0 || temperature == 1 {
		return o.Normalize()
	}
	vals := o.Normalize().Slice()
	for i, p := range vals {
		vals[i] = math.Exp(math.Log(math.Max(p, probFloor)) / temperature)
	}
	return outcomeFromSlice(vals).Normalize()
}

// NegativeLogLikelihood is the mean log loss of the tempered predictions
func NegativeLogLikelihood(history []LabelledPrediction, temperature float64) float64 {
	if len(history) == 0 {
		return 0
	}
	total := 0.0
	for _, h := range history {
		total += ApplyTemperature(h.Prediction, temperature).LogLoss(h.Actual)
	}
	return total / float64(len(history))
}

// MeanBrier is the mean three way brier score of the tempered predictions
func MeanBrier(history []LabelledPrediction, temperature float64) float64 {
	if len(history) == 0 {
		return 0
	}
	total := 0.0
	for _, h := range history {
		total += ApplyTemperature(h.Prediction, temperature).Brier(h.Actual)
	}
	return total / float64(len(history))
}

// FitTemperature grid searches [lo, hi) in the given steps for the NLL minimum.
// Ties keep the lower temperature.
func FitTemperature(history []LabelledPrediction, lo, hi, step float64) (float64, float64, error) {
	if len(history) == 0 {
		return 0, 0, ErrNoCalibrationHistory
	}
	if step <= 0 || hi <= lo {
		return 0, 0, fmt.Errorf("invalid temperature grid [%g, %g) step %g", lo, hi, step)
	}
	steps := int(math.Ceil((hi-lo)/step - 1e-9))
	best, bestNLL := lo, math.Inf(1)
	for i := 0; i < steps; i++ {
		t := round(lo+float64(i)*step, 6)
		nll := NegativeLogLikelihood(history, t)
		if nll < bestNLL {
			best, bestNLL = t, nll
		}
	}
	return best, bestNLL, nil
}

// ValidateTemperature compares brier scores under the current and proposed
// temperatures; the proposal is recommended only when it improves by more than minGain
func ValidateTemperature(history []LabelledPrediction, current, proposed, minGain float64) CalibrationReport {
	before := MeanBrier(history, current)
	after := MeanBrier(history, proposed)
	return CalibrationReport{
		Samples:     len(history),
		Current:     current,
		Proposed:    proposed,
		BrierBefore: before,
		BrierAfter:  after,
		Improvement: before - after,
		Apply:       before-after > minGain,
	}
}

// calibrationRow persists the learned temperature
type calibrationRow struct {
	Name        string    `column:"name" dbtype:"TEXT NOT NULL" primary:"true"`
	Temperature float64   `column:"temperature" dbtype:"REAL NOT NULL"`
	Samples     int       `column:"samples" dbtype:"INTEGER NOT NULL"`
	BrierScore  float64   `column:"brier" dbtype:"REAL"`
	FittedAt    time.Time `column:"fitted_at" dbtype:"DATETIME"`
}

func (r *calibrationRow) GetTableName() string { return "calibration" }
func (r *calibrationRow) GetPrimaryKey() map[string]any { return map[string]any{"name": r.Name} }
func (r *calibrationRow) BeforeSave() error {
	if r.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %f", r.Temperature)
	}
	if r.FittedAt.IsZero() {
		r.FittedAt = time.Now().UTC()
	}
	return nil
}

const ensembleCalibration = "ensemble"

// CalibrationModel holds the live temperature, learned offline and persisted in the store
type CalibrationModel struct {
	config      *PoddsConfig
	store       *Store
	temperature float64
	samples     int
	fittedAt    time.Time
	mu          sync.RWMutex
}

// NewCalibrationModel starts from the configured temperature and replaces it
// with a previously learned one when the store has it
func NewCalibrationModel(store *Store, config *PoddsConfig) (*CalibrationModel, error) {
	c := &CalibrationModel{config: config, store: store, temperature: config.Temperature}
	if store == nil {
		return c, nil
	}
	if err := store.CreateTable(&calibrationRow{}); err != nil {
		return nil, err
	}
	row := &calibrationRow{}
	err := store.FindByPrimaryKey(row, map[string]any{"name": ensembleCalibration})
	switch {
	case err == nil:
		c.temperature, c.samples, c.fittedAt = row.Temperature, row.Samples, row.FittedAt
		logger.Info("Loaded learned temperature", c.temperature)
	case errors.Is(err, ErrRecordNotFound):
	default:
		return nil, err
	}
	return c, nil
}

// Temperature returns the live temperature
func (c *CalibrationModel) Temperature() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.temperature
}

// Apply calibrates a blended distribution
func (c *CalibrationModel) Apply(o Outcome) Outcome {
	return ApplyTemperature(o, c.Temperature())
}

// SetTemperature replaces the live temperature and persists it
func (c *CalibrationModel) SetTemperature(t float64, samples int, brier float64) error {
	if t <= 0 || math.IsNaN(t) {
		return fmt.Errorf("temperature must be positive, got %f", t)
	}
	if c.store != nil {
		row := &calibrationRow{Name: ensembleCalibration, Temperature: t, Samples: samples, BrierScore: brier}
		if err := c.store.Save(row); err != nil {
			return fmt.Errorf("failed to persist temperature: %w", err)
		}
	}
	c.mu.Lock()
	c.temperature, c.samples, c.fittedAt = t, samples, time.Now().UTC()
	c.mu.Unlock()
	logger.Highlight("Temperature updated", t)
	return nil
}

// Fit learns a temperature from labelled history and validates it against the
// live one. When apply is set and the proposal clears the brier gate it becomes live.
func (c *CalibrationModel) Fit(history []LabelledPrediction, apply bool) (CalibrationReport, error) {
	proposed, nll, err := FitTemperature(history, c.config.CalibrationGridMin, c.config.CalibrationGridMax, c.config.CalibrationGridStep)
	if err != nil {
		return CalibrationReport{}, err
	}
	report := ValidateTemperature(history, c.Temperature(), proposed, c.config.CalibrationMinGain)
	report.NLL = nll
	if apply && report.Apply {
		if err := c.SetTemperature(proposed, len(history), report.BrierAfter); err != nil {
			return report, err
		}
		report.Applied = true
	}
	return report, nil
}
