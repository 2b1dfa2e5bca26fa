package podds

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PoddsConfig contains all configurable parameters that influence prediction outcomes
// This centralizes all magic numbers and constants for easy adjustment
type PoddsConfig struct {
	// === PATHS ===
	AssetsPath      string `yaml:"assets_path"`      // base directory for everything below
	DbPath          string `yaml:"db_path"`          // sqlite store for elo state and the prediction log
	ArtifactsPath   string `yaml:"artifacts_path"`   // directory of brotli compressed model artifacts
	WeightsPath     string `yaml:"weights_path"`     // ensemble weight override file (yaml)
	PerformancePath string `yaml:"performance_path"` // performance summary written after each result
	LogPath         string `yaml:"log_path"`
	LogLevel        string `yaml:"log_level"`

	// === ELO ===
	EloKFactor       float64 `yaml:"elo_k_factor"`       // default 32
	EloHomeAdvantage float64 `yaml:"elo_home_advantage"` // rating points, default 100
	EloInitialRating float64 `yaml:"elo_initial_rating"` // default 1500

	// === POISSON ===
	PoissonHomeAdvantage float64 `yaml:"poisson_home_advantage"` // lambda multiplier, default 1.25
	PoissonMinLambda     float64 `yaml:"poisson_min_lambda"`     // default 0.5
	PoissonMaxLambda     float64 `yaml:"poisson_max_lambda"`     // default 4.0
	H2HBlend             float64 `yaml:"h2h_blend"`              // share given to head to head goals, default 0.2
	XGBlend              float64 `yaml:"xg_blend"`               // share given to xG, default 0.4

	// === MONTE CARLO ===
	MonteCarloTrials int     `yaml:"monte_carlo_trials"` // default 10000
	MonteCarloSeed   int64   `yaml:"monte_carlo_seed"`   // 0 seeds from the clock
	LambdaJitter     float64 `yaml:"lambda_jitter"`      // multiplicative noise half width, default 0.15
	LambdaFloor      float64 `yaml:"lambda_floor"`       // default 0.3
	MaxGoals         int     `yaml:"max_goals"`          // per side cap, default 8

	// === CALIBRATION ===
	Temperature            float64 `yaml:"temperature"`              // default 0.8
	CalibrationMinGain     float64 `yaml:"calibration_min_gain"`     // brier improvement needed, default 0.001
	CalibrationGridMin     float64 `yaml:"calibration_grid_min"`     // default 0.5
	CalibrationGridMax     float64 `yaml:"calibration_grid_max"`     // exclusive, default 2.0
	CalibrationGridStep    float64 `yaml:"calibration_grid_step"`    // default 0.1
	BTTSBonusThreshold     float64 `yaml:"btts_bonus_threshold"`     // default 0.45
	OverBonusThreshold     float64 `yaml:"over_bonus_threshold"`     // default 0.45
	BTTSBonus              float64 `yaml:"btts_bonus"`               // default 1.3
	OverBonus              float64 `yaml:"over_bonus"`               // default 1.2
	ConfidenceZ            float64 `yaml:"confidence_z"`             // default 1.96
	AgreementWidth         float64 `yaml:"agreement_width"`          // default 0.3
	HighConfidenceCutoff   float64 `yaml:"high_confidence_cutoff"`   // default 0.65
	MediumConfidenceCutoff float64 `yaml:"medium_confidence_cutoff"` // default 0.45

	// === FEEDBACK ===
	MinModelSamples     int     `yaml:"min_model_samples"`     // per member before it gets a recommendation, default 10
	MinWeightSamples    int     `yaml:"min_weight_samples"`    // total evaluated before weights move, default 20
	WeightMomentum      float64 `yaml:"weight_momentum"`       // share kept from current weights, default 0.7
	RecentWindow        int     `yaml:"recent_window"`         // rolling trend length, default 50
	CalibrationBuckets  int     `yaml:"calibration_buckets"`   // default 10
	MakeSensibleDefault float64 `yaml:"make_sensible_default"` // denominator floor, default 1e-6
}

// DefaultPoddsConfig returns the default configuration with all standard values
func DefaultPoddsConfig() *PoddsConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	assets := filepath.Join(home, ".podds")
	config := &PoddsConfig{
		LogLevel: "info",

		EloKFactor:       32,
		EloHomeAdvantage: 100,
		EloInitialRating: 1500,

		PoissonHomeAdvantage: 1.25,
		PoissonMinLambda:     0.5,
		PoissonMaxLambda:     4.0,
		H2HBlend:             0.2,
		XGBlend:              0.4,

		MonteCarloTrials: 10000,
		MonteCarloSeed:   0,
		LambdaJitter:     0.15,
		LambdaFloor:      0.3,
		MaxGoals:         8,

		Temperature:            0.8,
		CalibrationMinGain:     0.001,
		CalibrationGridMin:     0.5,
		CalibrationGridMax:     2.0,
		CalibrationGridStep:    0.1,
		BTTSBonusThreshold:     0.45,
		OverBonusThreshold:     0.45,
		BTTSBonus:              1.3,
		OverBonus:              1.2,
		ConfidenceZ:            1.96,
		AgreementWidth:         0.3,
		HighConfidenceCutoff:   0.65,
		MediumConfidenceCutoff: 0.45,

		MinModelSamples:     10,
		MinWeightSamples:    20,
		WeightMomentum:      0.7,
		RecentWindow:        50,
		CalibrationBuckets:  10,
		MakeSensibleDefault: 1e-6,
	}
	config.SetAssetsPath(assets)
	return config
}

// SetAssetsPath points every derived path at the given directory
func (c *PoddsConfig) SetAssetsPath(dir string) {
	c.AssetsPath = dir
	c.DbPath = filepath.Join(dir, "podds.db")
	c.ArtifactsPath = filepath.Join(dir, "artifacts")
	c.WeightsPath = filepath.Join(dir, "weights.yaml")
	c.PerformancePath = filepath.Join(dir, "performance.json")
	c.LogPath = filepath.Join(dir, "podds.log")
}

// LoadConfig builds a configuration from the defaults, an optional yaml file and
// the environment (a .env file in the working directory is honoured)
func LoadConfig(path string) (*PoddsConfig, error) {
	_ = godotenv.Load() // a missing .env is fine

	config := DefaultPoddsConfig()
	if path == "" {
		path = os.Getenv("PODDS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		// a yaml assets_path re-derives every path not set explicitly
		var probe struct {
			AssetsPath string `yaml:"assets_path"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if probe.AssetsPath != "" {
			config.SetAssetsPath(probe.AssetsPath)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnv(config)

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *PoddsConfig) {
	if v := os.Getenv("PODDS_ASSETS_PATH"); v != "" {
		c.SetAssetsPath(v)
	}
	strVars := map[string]*string{
		"PODDS_DB_PATH":          &c.DbPath,
		"PODDS_ARTIFACTS_PATH":   &c.ArtifactsPath,
		"PODDS_WEIGHTS_PATH":     &c.WeightsPath,
		"PODDS_PERFORMANCE_PATH": &c.PerformancePath,
		"PODDS_LOG_PATH":         &c.LogPath,
		"PODDS_LOG_LEVEL":        &c.LogLevel,
	}
	for key, dst := range strVars {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	floatVars := map[string]*float64{
		"PODDS_TEMPERATURE":  &c.Temperature,
		"PODDS_ELO_K_FACTOR": &c.EloKFactor,
	}
	for key, dst := range floatVars {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	intVars := map[string]*int{
		"PODDS_MONTE_CARLO_TRIALS": &c.MonteCarloTrials,
		"PODDS_MIN_WEIGHT_SAMPLES": &c.MinWeightSamples,
	}
	for key, dst := range intVars {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("PODDS_MONTE_CARLO_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MonteCarloSeed = n
		}
	}
}

// === CONFIGURATION VALIDATION ===

// ValidateConfig ensures all configuration values are within reasonable ranges
func ValidateConfig(config *PoddsConfig) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.EloKFactor <= 0 || config.EloKFactor > 100 {
		return fmt.Errorf("EloKFactor should be between 0 and 100, got: %f", config.EloKFactor)
	}
	if config.EloInitialRating <= 0 {
		return fmt.Errorf("EloInitialRating must be positive, got: %f", config.EloInitialRating)
	}
	if config.PoissonMinLambda <= 0 || config.PoissonMaxLambda <= config.PoissonMinLambda {
		return fmt.Errorf("Poisson lambda bounds are invalid: [%f, %f]", config.PoissonMinLambda, config.PoissonMaxLambda)
	}
	if config.H2HBlend < 0 || config.H2HBlend > 1 || config.XGBlend < 0 || config.XGBlend > 1 {
		return fmt.Errorf("H2HBlend and XGBlend must be between 0 and 1, got: %f, %f", config.H2HBlend, config.XGBlend)
	}
	if config.MonteCarloTrials < 1000 {
		return fmt.Errorf("MonteCarloTrials should be at least 1000 for accuracy, got: %d", config.MonteCarloTrials)
	}
	if config.LambdaJitter < 0 || config.LambdaJitter >= 1 {
		return fmt.Errorf("LambdaJitter must be in [0, 1), got: %f", config.LambdaJitter)
	}
	if config.MaxGoals < 3 {
		return fmt.Errorf("MaxGoals should be at least 3 to capture realistic scores, got: %d", config.MaxGoals)
	}
	if config.Temperature <= 0 || math.IsNaN(config.Temperature) {
		return fmt.Errorf("Temperature must be positive, got: %f", config.Temperature)
	}
	if config.CalibrationGridStep <= 0 || config.CalibrationGridMin <= 0 || config.CalibrationGridMax <= config.CalibrationGridMin {
		return fmt.Errorf("calibration grid is invalid: [%f, %f) step %f", config.CalibrationGridMin, config.CalibrationGridMax, config.CalibrationGridStep)
	}
	if config.WeightMomentum < 0 || config.WeightMomentum > 1 {
		return fmt.Errorf("WeightMomentum must be between 0 and 1, got: %f", config.WeightMomentum)
	}
	if config.MinModelSamples < 1 || config.MinWeightSamples < 0 {
		return fmt.Errorf("sample minimums are invalid: %d, %d", config.MinModelSamples, config.MinWeightSamples)
	}
	if config.RecentWindow < 1 || config.CalibrationBuckets < 1 {
		return fmt.Errorf("RecentWindow and CalibrationBuckets must be positive, got: %d, %d", config.RecentWindow, config.CalibrationBuckets)
	}
	if config.MediumConfidenceCutoff > config.HighConfidenceCutoff {
		return fmt.Errorf("MediumConfidenceCutoff %f exceeds HighConfidenceCutoff %f", config.MediumConfidenceCutoff, config.HighConfidenceCutoff)
	}
	if config.MakeSensibleDefault <= 0 {
		return fmt.Errorf("MakeSensibleDefault must be positive, got: %f", config.MakeSensibleDefault)
	}
	return nil
}
