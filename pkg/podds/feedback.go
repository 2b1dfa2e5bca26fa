package podds

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/transport"
)

// Sentinel errors for result ingestion
var (
	ErrPredictionNotFound = errors.New("no prediction logged for fixture")
	ErrAlreadyEvaluated   = errors.New("prediction already evaluated")
)

// Confidence buckets on the largest calibrated probability
const (
	BucketHigh   = "high"
	BucketMedium = "medium"
	BucketLow    = "low"
)

// PredictionRecord is a logged prediction and, once the result is in, its evaluation
type PredictionRecord struct {
	FixtureID       string  `column:"fixture_id" dbtype:"TEXT NOT NULL" primary:"true" json:"fixture_id"`
	PredictionID    string  `column:"prediction_id" dbtype:"TEXT" json:"prediction_id"`
	League          string  `column:"league" dbtype:"TEXT" index:"true" json:"league"`
	HomeTeam        string  `column:"home_team" dbtype:"TEXT" json:"home_team"`
	AwayTeam        string  `column:"away_team" dbtype:"TEXT" json:"away_team"`
	HomeWin         float64 `column:"home_win" dbtype:"REAL" json:"home_win"`
	Draw            float64 `column:"draw" dbtype:"REAL" json:"draw"`
	AwayWin         float64 `column:"away_win" dbtype:"REAL" json:"away_win"`
	RawHomeWin      float64 `column:"raw_home_win" dbtype:"REAL" json:"raw_home_win"`
	RawDraw         float64 `column:"raw_draw" dbtype:"REAL" json:"raw_draw"`
	RawAwayWin      float64 `column:"raw_away_win" dbtype:"REAL" json:"raw_away_win"`
	PredictedResult string  `column:"predicted_result" dbtype:"TEXT" json:"predicted_result"`
	PredictedScore  string  `column:"predicted_score" dbtype:"TEXT" json:"predicted_score"`
	BTTSProb        float64 `column:"btts_prob" dbtype:"REAL" json:"btts_prob"`
	Over25Prob      float64 `column:"over25_prob" dbtype:"REAL" json:"over25_prob"`
	Bucket          string  `column:"confidence" dbtype:"TEXT" index:"true" json:"confidence"`
	MembersJSON     string  `column:"members" dbtype:"TEXT" json:"-"`

	Evaluated     bool      `column:"evaluated" dbtype:"INTEGER NOT NULL DEFAULT 0" index:"true" json:"evaluated"`
	ActualResult  string    `column:"actual_result" dbtype:"TEXT" json:"actual_result,omitempty"`
	HomeGoals     int       `column:"home_goals" dbtype:"INTEGER" json:"home_goals"`
	AwayGoals     int       `column:"away_goals" dbtype:"INTEGER" json:"away_goals"`
	Correct       bool      `column:"correct" dbtype:"INTEGER" json:"correct"`
	Brier         float64   `column:"brier" dbtype:"REAL" json:"brier"`
	BTTSCorrect   bool      `column:"btts_correct" dbtype:"INTEGER" json:"btts_correct"`
	Over25Correct bool      `column:"over25_correct" dbtype:"INTEGER" json:"over25_correct"`
	ExactScore    bool      `column:"exact_score" dbtype:"INTEGER" json:"exact_score"`
	ScoreDistance int       `column:"score_distance" dbtype:"INTEGER" json:"score_distance"`
	CreatedAt     time.Time `column:"created_at" dbtype:"DATETIME" json:"created_at"`
	EvaluatedAt   time.Time `column:"evaluated_at" dbtype:"DATETIME" json:"evaluated_at"`

	Members map[string]Outcome `json:"members"`
}

func (r *PredictionRecord) GetTableName() string { return "prediction_records" }
func (r *PredictionRecord) GetPrimaryKey() map[string]any {
	return map[string]any{"fixture_id": r.FixtureID}
}
func (r *PredictionRecord) BeforeSave() error {
	if r.FixtureID == "" {
		return errors.New("prediction record has no fixture id")
	}
	data, err := json.Marshal(r.Members)
	if err != nil {
		return fmt.Errorf("failed to encode member breakdown: %w", err)
	}
	r.MembersJSON = string(data)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return nil
}

// afterLoad restores the decoded member breakdown
func (r *PredictionRecord) afterLoad() {
	r.Members = nil
	if r.MembersJSON == "" {
		return
	}
	if err := json.Unmarshal([]byte(r.MembersJSON), &r.Members); err != nil {
		logger.Warn("Unreadable member breakdown", r.FixtureID, err)
	}
}

// Outcome returns the logged calibrated distribution
func (r *PredictionRecord) Outcome() Outcome {
	return Outcome{HomeWin: r.HomeWin, Draw: r.Draw, AwayWin: r.AwayWin}
}

// RawOutcome returns the logged blend before calibration
func (r *PredictionRecord) RawOutcome() Outcome {
	return Outcome{HomeWin: r.RawHomeWin, Draw: r.RawDraw, AwayWin: r.RawAwayWin}
}

// performanceRow stores the counters as a JSON document
type performanceRow struct {
	Name      string    `column:"name" dbtype:"TEXT NOT NULL" primary:"true"`
	Data      string    `column:"data" dbtype:"TEXT NOT NULL"`
	UpdatedAt time.Time `column:"updated_at" dbtype:"DATETIME"`
}

func (r *performanceRow) GetTableName() string { return "performance" }
func (r *performanceRow) GetPrimaryKey() map[string]any { return map[string]any{"name": r.Name} }
func (r *performanceRow) BeforeSave() error {
	r.UpdatedAt = time.Now().UTC()
	return nil
}

const currentPerformance = "current"

// Tally counts evaluated predictions
type Tally struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	BrierSum float64 `json:"brier_sum"`
}

func (t *Tally) add(correct bool, brier float64) {
	t.Total++
	if correct {
		t.Correct++
	}
	t.BrierSum += brier
}

// Accuracy is the share of correct predictions
func (t Tally) Accuracy() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Correct) / float64(t.Total)
}

// MeanBrier is the average brier score
func (t Tally) MeanBrier() float64 {
	if t.Total == 0 {
		return 0
	}
	return t.BrierSum / float64(t.Total)
}

// RecentResult is one entry of the rolling window
type RecentResult struct {
	FixtureID string  `json:"fixture_id"`
	Correct   bool    `json:"correct"`
	Brier     float64 `json:"brier"`
}

// CalibrationBin collects predicted probabilities falling in [Lower, Upper)
type CalibrationBin struct {
	Lower        float64 `json:"lower"`
	Upper        float64 `json:"upper"`
	Count        int     `json:"count"`
	PredictedSum float64 `json:"predicted_sum"`
	Hits         int     `json:"hits"`
}

// PerformanceStats are the cumulative counters updated with every result
type PerformanceStats struct {
	Overall          Tally             `json:"overall"`
	ByConfidence     map[string]*Tally `json:"by_confidence"`
	ByLeague         map[string]*Tally `json:"by_league"`
	ByModel          map[string]*Tally `json:"by_model"`
	BTTS             Tally             `json:"btts"`
	Over25           Tally             `json:"over25"`
	ExactScores      int               `json:"exact_scores"`
	ScoreDistanceSum int               `json:"score_distance_sum"`
	ScoredCount      int               `json:"scored_count"` // records with a parseable predicted score
	Recent           []RecentResult    `json:"recent"`
	Calibration      []CalibrationBin  `json:"calibration"`
}

func newPerformanceStats(buckets int) *PerformanceStats {
	s := &PerformanceStats{
		ByConfidence: make(map[string]*Tally),
		ByLeague:     make(map[string]*Tally),
		ByModel:      make(map[string]*Tally),
		Calibration:  make([]CalibrationBin, buckets),
	}
	for i := range s.Calibration {
		s.Calibration[i].Lower = float64(i) / float64(buckets)
		s.Calibration[i].Upper = float64(i+1) / float64(buckets)
	}
	return s
}

func (s *PerformanceStats) clone() (*PerformanceStats, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := &PerformanceStats{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func tallyFor(m map[string]*Tally, key string) *Tally {
	t, ok := m[key]
	if !ok {
		t = &Tally{}
		m[key] = t
	}
	return t
}

// add folds one evaluated record into the counters
func (s *PerformanceStats) add(r *PredictionRecord, window int) {
	if s.ByConfidence == nil {
		s.ByConfidence = make(map[string]*Tally)
	}
	if s.ByLeague == nil {
		s.ByLeague = make(map[string]*Tally)
	}
	if s.ByModel == nil {
		s.ByModel = make(map[string]*Tally)
	}
	s.Overall.add(r.Correct, r.Brier)
	tallyFor(s.ByConfidence, r.Bucket).add(r.Correct, r.Brier)
	league := r.League
	if league == "" {
		league = "unknown"
	}
	tallyFor(s.ByLeague, league).add(r.Correct, r.Brier)
	for name, o := range r.Members {
		tallyFor(s.ByModel, name).add(o.Predicted() == r.ActualResult, o.Brier(r.ActualResult))
	}
	s.BTTS.add(r.BTTSCorrect, 0)
	s.Over25.add(r.Over25Correct, 0)
	if r.ExactScore {
		s.ExactScores++
	}
	if r.ScoreDistance >= 0 {
		s.ScoreDistanceSum += r.ScoreDistance
		s.ScoredCount++
	}

	s.Recent = append(s.Recent, RecentResult{FixtureID: r.FixtureID, Correct: r.Correct, Brier: r.Brier})
	if len(s.Recent) > window {
		s.Recent = s.Recent[len(s.Recent)-window:]
	}

	n := len(s.Calibration)
	if n == 0 {
		return
	}
	outcome := r.Outcome()
	for i, label := range []string{ResultHome, ResultDraw, ResultAway} {
		p := outcome.Slice()[i]
		idx := int(p * float64(n))
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		s.Calibration[idx].Count++
		s.Calibration[idx].PredictedSum += p
		if label == r.ActualResult {
			s.Calibration[idx].Hits++
		}
	}
}

// FeedbackSystem logs predictions, evaluates them against results and keeps the
// running performance counters. Writes are serialised.
type FeedbackSystem struct {
	config *PoddsConfig
	store  *Store
	stats  *PerformanceStats
	mu     sync.Mutex
}

// NewFeedbackSystem creates the tables if needed and loads the stored counters
func NewFeedbackSystem(store *Store, config *PoddsConfig) (*FeedbackSystem, error) {
	if store == nil {
		return nil, errors.New("feedback system needs a store")
	}
	if err := store.CreateTables(&PredictionRecord{}, &performanceRow{}); err != nil {
		return nil, err
	}
	fs := &FeedbackSystem{config: config, store: store, stats: newPerformanceStats(config.CalibrationBuckets)}

	row := &performanceRow{}
	err := store.FindByPrimaryKey(row, map[string]any{"name": currentPerformance})
	switch {
	case err == nil:
		stats := newPerformanceStats(config.CalibrationBuckets)
		if err := json.Unmarshal([]byte(row.Data), stats); err != nil {
			return nil, fmt.Errorf("failed to decode performance snapshot: %w", err)
		}
		fs.stats = stats
	case errors.Is(err, ErrRecordNotFound):
	default:
		return nil, err
	}
	return fs, nil
}

// confidenceBucket classifies the largest calibrated probability
func (fs *FeedbackSystem) confidenceBucket(o Outcome) string {
	switch top := o.Max(); {
	case top >= fs.config.HighConfidenceCutoff:
		return BucketHigh
	case top >= fs.config.MediumConfidenceCutoff:
		return BucketMedium
	}
	return BucketLow
}

// LogPrediction stores a prediction against a fixture. Logging again before the
// result is in replaces the earlier entry; once evaluated the entry is frozen.
func (fs *FeedbackSystem) LogPrediction(fixtureID string, p *Prediction) error {
	if fixtureID == "" {
		return errors.New("fixture id is required")
	}
	if p == nil {
		return errors.New("prediction is nil")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := &PredictionRecord{
		FixtureID:       fixtureID,
		PredictionID:    p.PredictionID,
		League:          p.League,
		HomeTeam:        p.HomeTeam,
		AwayTeam:        p.AwayTeam,
		HomeWin:         p.Probabilities.HomeWin,
		Draw:            p.Probabilities.Draw,
		AwayWin:         p.Probabilities.AwayWin,
		RawHomeWin:      p.RawProbabilities.HomeWin,
		RawDraw:         p.RawProbabilities.Draw,
		RawAwayWin:      p.RawProbabilities.AwayWin,
		PredictedResult: p.PredictedResult,
		PredictedScore:  p.PredictedScore,
		BTTSProb:        p.BTTS,
		Over25Prob:      p.Over25,
		Bucket:          fs.confidenceBucket(p.Probabilities),
		Members:         p.Members,
	}

	return fs.store.WithTx(func(tx *Tx) error {
		existing := &PredictionRecord{}
		err := tx.FindByPrimaryKey(existing, rec.GetPrimaryKey())
		switch {
		case err == nil && existing.Evaluated:
			return fmt.Errorf("%w: %s", ErrAlreadyEvaluated, fixtureID)
		case err != nil && !errors.Is(err, ErrRecordNotFound):
			return err
		}
		return tx.Save(rec)
	})
}

// Prediction returns the logged record for a fixture
func (fs *FeedbackSystem) Prediction(fixtureID string) (*PredictionRecord, error) {
	rec := &PredictionRecord{}
	err := fs.store.FindByPrimaryKey(rec, map[string]any{"fixture_id": fixtureID})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPredictionNotFound, fixtureID)
	}
	if err != nil {
		return nil, err
	}
	rec.afterLoad()
	return rec, nil
}

// RecordResult evaluates the logged prediction for a fixture. The evaluated
// record and the updated counters are committed in one transaction.
func (fs *FeedbackSystem) RecordResult(fixtureID string, homeGoals, awayGoals int) (*PredictionRecord, error) {
	if homeGoals < 0 || awayGoals < 0 {
		return nil, fmt.Errorf("goals cannot be negative: %d-%d", homeGoals, awayGoals)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var evaluated *PredictionRecord
	var updated *PerformanceStats
	err := fs.store.WithTx(func(tx *Tx) error {
		rec := &PredictionRecord{}
		err := tx.FindByPrimaryKey(rec, map[string]any{"fixture_id": fixtureID})
		if errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrPredictionNotFound, fixtureID)
		}
		if err != nil {
			return err
		}
		if rec.Evaluated {
			return fmt.Errorf("%w: %s", ErrAlreadyEvaluated, fixtureID)
		}
		rec.afterLoad()
		evaluate(rec, homeGoals, awayGoals)

		stats, err := fs.stats.clone()
		if err != nil {
			return fmt.Errorf("failed to copy performance counters: %w", err)
		}
		stats.add(rec, fs.config.RecentWindow)
		data, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("failed to encode performance counters: %w", err)
		}
		if err := tx.Save(rec); err != nil {
			return err
		}
		if err := tx.Save(&performanceRow{Name: currentPerformance, Data: string(data)}); err != nil {
			return err
		}
		evaluated, updated = rec, stats
		return nil
	})
	if err != nil {
		return nil, err
	}
	fs.stats = updated
	logger.Info("Recorded result", fixtureID, evaluated.ActualResult, "correct:", evaluated.Correct)
	return evaluated, nil
}

// evaluate fills in the outcome fields of a record
func evaluate(r *PredictionRecord, homeGoals, awayGoals int) {
	actual := getMatchResult(homeGoals, awayGoals)
	r.Evaluated = true
	r.ActualResult = actual
	r.HomeGoals, r.AwayGoals = homeGoals, awayGoals
	r.Correct = r.Outcome().Predicted() == actual
	r.Brier = r.Outcome().Brier(actual)
	r.BTTSCorrect = (r.BTTSProb > 0.5) == (homeGoals > 0 && awayGoals > 0)
	r.Over25Correct = (r.Over25Prob > 0.5) == (homeGoals+awayGoals > 2)

	var ph, pa int
	if _, err := fmt.Sscanf(r.PredictedScore, "%d-%d", &ph, &pa); err == nil {
		r.ExactScore = ph == homeGoals && pa == awayGoals
		r.ScoreDistance = abs(ph-homeGoals) + abs(pa-awayGoals)
	} else {
		r.ScoreDistance = -1
	}
	r.EvaluatedAt = time.Now().UTC()
}

// Stats returns a copy of the current counters
func (fs *FeedbackSystem) Stats() *PerformanceStats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out, err := fs.stats.clone()
	if err != nil {
		logger.Error("Failed to copy performance counters", err)
		return newPerformanceStats(fs.config.CalibrationBuckets)
	}
	return out
}

// RecommendedWeights returns each member's empirical accuracy normalised to
// sum to one, for members with enough evaluated samples. ok is false when no
// member qualifies.
func (fs *FeedbackSystem) RecommendedWeights() (Weights, bool) {
	stats := fs.Stats()
	out := make(Weights)
	total := 0.0
	for name, t := range stats.ByModel {
		if t.Total < fs.config.MinModelSamples {
			continue
		}
		out[name] = t.Accuracy()
		total += t.Accuracy()
	}
	if len(out) == 0 || total <= 0 {
		return nil, false
	}
	for name := range out {
		out[name] /= total
	}
	return out, true
}

// WeightUpdate is the outcome of applying the weight policy
type WeightUpdate struct {
	Samples     int     `json:"samples"`
	Current     Weights `json:"current"`
	Recommended Weights `json:"recommended,omitempty"`
	Proposed    Weights `json:"proposed"`
	Changed     bool    `json:"changed"`
	Reason      string  `json:"reason"`
}

// ProposeWeights applies the update policy to the current weights. Nothing moves
// until enough results have been evaluated. Qualifying members share out their
// current combined weight by accuracy; the rest keep their own weight as the
// recommendation. The result is blended with momentum and renormalised.
func (fs *FeedbackSystem) ProposeWeights(current Weights) WeightUpdate {
	current = current.Normalize()
	update := WeightUpdate{Samples: fs.Stats().Overall.Total, Current: current, Proposed: current.Clone()}
	if update.Samples < fs.config.MinWeightSamples {
		update.Reason = fmt.Sprintf("need %d evaluated predictions, have %d", fs.config.MinWeightSamples, update.Samples)
		return update
	}
	rec, ok := fs.RecommendedWeights()
	if !ok {
		update.Reason = fmt.Sprintf("no member has %d evaluated predictions", fs.config.MinModelSamples)
		return update
	}
	update.Recommended = rec

	share := 0.0
	for name := range rec {
		share += current[name]
	}
	scaled := make(Weights, len(rec))
	for name, w := range rec {
		if _, ok := current[name]; ok {
			scaled[name] = w * share
		}
	}
	update.Proposed = BlendWeights(current, scaled, fs.config.WeightMomentum)
	update.Changed = true
	update.Reason = "blended toward member accuracy"
	return update
}

// CalibrationHistory returns the raw blends of every evaluated prediction with
// its result, oldest first
func (fs *FeedbackSystem) CalibrationHistory() ([]LabelledPrediction, error) {
	records, err := FindWhere[PredictionRecord](fs.store, "evaluated = 1 ORDER BY evaluated_at, fixture_id")
	if err != nil {
		return nil, err
	}
	out := make([]LabelledPrediction, 0, len(records))
	for _, r := range records {
		out = append(out, LabelledPrediction{Prediction: r.RawOutcome(), Actual: r.ActualResult})
	}
	return out, nil
}

// TallySummary is a Tally with its derived rates
type TallySummary struct {
	Total     int     `json:"total"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
	MeanBrier float64 `json:"mean_brier"`
}

func summarise(t Tally) TallySummary {
	return TallySummary{Total: t.Total, Correct: t.Correct, Accuracy: round(t.Accuracy(), 4), MeanBrier: round(t.MeanBrier(), 4)}
}

func summariseMap(m map[string]*Tally) map[string]TallySummary {
	out := make(map[string]TallySummary, len(m))
	for k, t := range m {
		out[k] = summarise(*t)
	}
	return out
}

// CalibrationPoint compares mean predicted probability with observed frequency
type CalibrationPoint struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Count         int     `json:"count"`
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
}

// PerformanceSummary is the reporting view of the counters
type PerformanceSummary struct {
	Overall           TallySummary            `json:"overall"`
	Pending           int                     `json:"pending"`
	Recent            TallySummary            `json:"recent"`
	BTTSAccuracy      float64                 `json:"btts_accuracy"`
	Over25Accuracy    float64                 `json:"over25_accuracy"`
	ExactScores       int                     `json:"exact_scores"`
	MeanScoreDistance float64                 `json:"mean_score_distance"`
	ByConfidence      map[string]TallySummary `json:"by_confidence"`
	ByLeague          map[string]TallySummary `json:"by_league"`
	ByModel           map[string]TallySummary `json:"by_model"`
	Calibration       []CalibrationPoint      `json:"calibration"`
	GeneratedAt       time.Time               `json:"generated_at"`
}

// Summary builds the performance summary
func (fs *FeedbackSystem) Summary() PerformanceSummary {
	stats := fs.Stats()
	var recent Tally
	for _, r := range stats.Recent {
		recent.add(r.Correct, r.Brier)
	}
	summary := PerformanceSummary{
		Overall:        summarise(stats.Overall),
		Recent:         summarise(recent),
		BTTSAccuracy:   round(stats.BTTS.Accuracy(), 4),
		Over25Accuracy: round(stats.Over25.Accuracy(), 4),
		ExactScores:    stats.ExactScores,
		ByConfidence:   summariseMap(stats.ByConfidence),
		ByLeague:       summariseMap(stats.ByLeague),
		ByModel:        summariseMap(stats.ByModel),
		GeneratedAt:    time.Now().UTC(),
	}
	if stats.ScoredCount > 0 {
		summary.MeanScoreDistance = round(float64(stats.ScoreDistanceSum)/float64(stats.ScoredCount), 4)
	}
	for _, b := range stats.Calibration {
		p := CalibrationPoint{Lower: b.Lower, Upper: b.Upper, Count: b.Count}
		if b.Count > 0 {
			p.MeanPredicted = round(b.PredictedSum/float64(b.Count), 4)
			p.ObservedRate = round(float64(b.Hits)/float64(b.Count), 4)
		}
		summary.Calibration = append(summary.Calibration, p)
	}
	pending, err := fs.store.Count(&PredictionRecord{}, "evaluated = 0")
	if err != nil {
		logger.Warn("Could not count pending predictions", err)
	}
	summary.Pending = pending
	return summary
}

// WriteSummary writes the performance summary as indented JSON
func (fs *FeedbackSystem) WriteSummary(path string) error {
	data, err := json.MarshalIndent(fs.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode performance summary: %w", err)
	}
	return transport.WriteFileAtomic(path, data, 0644)
}
