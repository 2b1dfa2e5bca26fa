package podds

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

const eloDateLayout = "2006-01-02"

// EloConfig holds the rating system parameters
type EloConfig struct {
	KFactor       float64 `json:"k_factor"`
	HomeAdvantage float64 `json:"home_advantage"`
	InitialRating float64 `json:"initial_rating"`
}

// EloPoint is one entry in a team's rating history
type EloPoint struct {
	Date   time.Time `json:"date"`
	Rating float64   `json:"rating"`
}

// EloUpdate reports the effect of one match on both ratings
type EloUpdate struct {
	HomeTeam   string  `json:"home_team"`
	AwayTeam   string  `json:"away_team"`
	HomeBefore float64 `json:"home_before"`
	AwayBefore float64 `json:"away_before"`
	HomeAfter  float64 `json:"home_after"`
	AwayAfter  float64 `json:"away_after"`
	Expected   float64 `json:"expected_home"`
	Delta      float64 `json:"delta"`
}

// MatchResult is a completed fixture
type MatchResult struct {
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	HomeGoals int       `json:"home_goals"`
	AwayGoals int       `json:"away_goals"`
	Date      time.Time `json:"date"`
}

// EloTracker owns per-team ratings and their history. When backed by a Store
// every update is written through in a single transaction.
type EloTracker struct {
	config     EloConfig
	ratings    map[string]float64
	history    map[string][]EloPoint
	matchCount int
	store      *Store
	mu         sync.RWMutex
}

// eloRatingRow is the persisted current rating for a team
type eloRatingRow struct {
	Team      string    `column:"team" dbtype:"TEXT NOT NULL" primary:"true"`
	Rating    float64   `column:"rating" dbtype:"REAL NOT NULL"`
	UpdatedAt time.Time `column:"updated_at" dbtype:"DATETIME"`
}

func (r *eloRatingRow) GetTableName() string { return "elo_ratings" }
func (r *eloRatingRow) GetPrimaryKey() map[string]any { return map[string]any{"team": r.Team} }
func (r *eloRatingRow) BeforeSave() error {
	if r.Team == "" {
		return fmt.Errorf("elo rating row has no team")
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// eloHistoryRow is one history point; Seq orders points within a team
type eloHistoryRow struct {
	Team   string  `column:"team" dbtype:"TEXT NOT NULL" primary:"true"`
	Seq    int     `column:"seq" dbtype:"INTEGER NOT NULL" primary:"true"`
	Date   string  `column:"match_date" dbtype:"TEXT NOT NULL" index:"true"`
	Rating float64 `column:"rating" dbtype:"REAL NOT NULL"`
}

func (r *eloHistoryRow) GetTableName() string { return "elo_history" }
func (r *eloHistoryRow) GetPrimaryKey() map[string]any {
	return map[string]any{"team": r.Team, "seq": r.Seq}
}
func (r *eloHistoryRow) BeforeSave() error { return nil }

// metaRow is a small key/value table for counters and parameters
type metaRow struct {
	Key   string `column:"meta_key" dbtype:"TEXT NOT NULL" primary:"true"`
	Value string `column:"meta_value" dbtype:"TEXT NOT NULL"`
}

func (r *metaRow) GetTableName() string { return "podds_meta" }
func (r *metaRow) GetPrimaryKey() map[string]any { return map[string]any{"meta_key": r.Key} }
func (r *metaRow) BeforeSave() error { return nil }

const (
	metaEloMatchCount    = "elo.match_count"
	metaEloKFactor       = "elo.k_factor"
	metaEloHomeAdvantage = "elo.home_advantage"
	metaEloInitial       = "elo.initial_rating"
)

// NewEloTracker creates a tracker, loading any state already in the store.
// A nil store keeps everything in memory.
func NewEloTracker(store *Store, config EloConfig) (*EloTracker, error) {
	t := &EloTracker{
		config:  config,
		ratings: make(map[string]float64),
		history: make(map[string][]EloPoint),
		store:   store,
	}
	if store == nil {
		return t, nil
	}
	if err := store.CreateTables(&eloRatingRow{}, &eloHistoryRow{}, &metaRow{}); err != nil {
		return nil, err
	}
	if err := t.Load(); err != nil {
		return nil, err
	}
	return t, nil
}

// EloConfigFrom extracts the rating parameters from the main configuration
func EloConfigFrom(c *PoddsConfig) EloConfig {
	return EloConfig{KFactor: c.EloKFactor, HomeAdvantage: c.EloHomeAdvantage, InitialRating: c.EloInitialRating}
}

// Config returns the tracker's parameters
func (t *EloTracker) Config() EloConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}

// expectedHome is the logistic expectation for the home side including home advantage
func expectedHome(home, away, homeAdvantage float64) float64 {
	return 1 / (1 + math.Pow(10, (away-(home+homeAdvantage))/400))
}

// goalDifferenceMultiplier scales rating movement by the winning margin
func goalDifferenceMultiplier(margin int) float64 {
	switch {
	case margin <= 1:
		return 1.0
	case margin == 2:
		return 1.5
	case margin == 3:
		return 1.75
	}
	return 1.75 + 0.125*float64(margin-3)
}

// eloDrawRate maps the rating gap onto a draw probability
func eloDrawRate(gap float64) float64 {
	gap = math.Abs(gap)
	switch {
	case gap < 50:
		return 0.30
	case gap < 100:
		return 0.28
	case gap < 150:
		return 0.25
	case gap < 200:
		return 0.22
	case gap < 300:
		return 0.18
	}
	return 0.12
}

// eloOutcome converts two ratings into a distribution. The draw bucket uses the
// raw gap; home advantage only enters the win expectation.
func eloOutcome(home, away, homeAdvantage float64) Outcome {
	eh := expectedHome(home, away, homeAdvantage)
	draw := eloDrawRate(home - away)
	h := math.Max(0.05, eh-0.5*draw)
	a := math.Max(0.05, (1-eh)-0.5*draw)
	return NewOutcome(h, draw, a)
}

// Rating returns the team's rating, the initial rating for teams never seen
func (t *EloTracker) Rating(team string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rating(team)
}

func (t *EloTracker) rating(team string) float64 {
	if r, ok := t.ratings[team]; ok {
		return r
	}
	return t.config.InitialRating
}

// PredictMatch returns the tracker's distribution for a fixture
func (t *EloTracker) PredictMatch(home, away string) Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return eloOutcome(t.rating(home), t.rating(away), t.config.HomeAdvantage)
}

// UpdateRatings applies one result. Both rating rows, both history rows and the
// match counter are persisted together; memory is only changed once they commit.
func (t *EloTracker) UpdateRatings(home, away string, homeGoals, awayGoals int, date time.Time) (EloUpdate, error) {
	if home == "" || away == "" {
		return EloUpdate{}, fmt.Errorf("both team ids are required")
	}
	if home == away {
		return EloUpdate{}, fmt.Errorf("team %s cannot play itself", home)
	}
	if homeGoals < 0 || awayGoals < 0 {
		return EloUpdate{}, fmt.Errorf("goals cannot be negative: %d-%d", homeGoals, awayGoals)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	hr, ar := t.rating(home), t.rating(away)
	expected := expectedHome(hr, ar, t.config.HomeAdvantage)
	actual := 0.5
	switch getMatchResult(homeGoals, awayGoals) {
	case ResultHome:
		actual = 1
	case ResultAway:
		actual = 0
	}
	delta := t.config.KFactor * goalDifferenceMultiplier(abs(homeGoals-awayGoals)) * (actual - expected)
	update := EloUpdate{
		HomeTeam: home, AwayTeam: away,
		HomeBefore: hr, AwayBefore: ar,
		HomeAfter: hr + delta, AwayAfter: ar - delta,
		Expected: expected, Delta: delta,
	}

	if t.store != nil {
		err := t.store.WithTx(func(tx *Tx) error {
			rows := []Persistable{
				&eloRatingRow{Team: home, Rating: update.HomeAfter},
				&eloRatingRow{Team: away, Rating: update.AwayAfter},
				&eloHistoryRow{Team: home, Seq: len(t.history[home]), Date: date.Format(eloDateLayout), Rating: update.HomeAfter},
				&eloHistoryRow{Team: away, Seq: len(t.history[away]), Date: date.Format(eloDateLayout), Rating: update.AwayAfter},
				&metaRow{Key: metaEloMatchCount, Value: strconv.Itoa(t.matchCount + 1)},
			}
			for _, row := range rows {
				if err := tx.Save(row); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return EloUpdate{}, fmt.Errorf("failed to persist elo update: %w", err)
		}
	}

	t.ratings[home] = update.HomeAfter
	t.ratings[away] = update.AwayAfter
	t.history[home] = append(t.history[home], EloPoint{Date: date, Rating: update.HomeAfter})
	t.history[away] = append(t.history[away], EloPoint{Date: date, Rating: update.AwayAfter})
	t.matchCount++

	logger.Debug("Elo update", update)
	return update, nil
}

// Replay applies historical results in date order (stable for equal dates)
func (t *EloTracker) Replay(matches []MatchResult) (int, error) {
	ordered := append([]MatchResult(nil), matches...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})
	for i, m := range ordered {
		if _, err := t.UpdateRatings(m.HomeTeam, m.AwayTeam, m.HomeGoals, m.AwayGoals, m.Date); err != nil {
			return i, fmt.Errorf("replay stopped at %s v %s: %w", m.HomeTeam, m.AwayTeam, err)
		}
	}
	logger.Info("Replayed matches into elo tracker", len(ordered))
	return len(ordered), nil
}

// History returns a copy of the team's rating history
func (t *EloTracker) History(team string) []EloPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]EloPoint(nil), t.history[team]...)
}

// MatchCount returns the number of results applied
func (t *EloTracker) MatchCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.matchCount
}

// HasState reports whether any result has been applied
func (t *EloTracker) HasState() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.matchCount > 0 || len(t.ratings) > 0
}

// Ratings returns a snapshot of every known rating
func (t *EloTracker) Ratings() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.ratings))
	for k, v := range t.ratings {
		out[k] = v
	}
	return out
}

// Save writes the complete in-memory state (ratings, history, counter, parameters) to the store
func (t *EloTracker) Save() error {
	if t.store == nil {
		return fmt.Errorf("elo tracker has no store")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.store.WithTx(func(tx *Tx) error {
		for _, team := range sortedKeys(t.ratings) {
			if err := tx.Save(&eloRatingRow{Team: team, Rating: t.ratings[team]}); err != nil {
				return err
			}
		}
		for _, team := range sortedKeys(t.history) {
			for seq, p := range t.history[team] {
				row := &eloHistoryRow{Team: team, Seq: seq, Date: p.Date.Format(eloDateLayout), Rating: p.Rating}
				if err := tx.Save(row); err != nil {
					return err
				}
			}
		}
		meta := map[string]string{
			metaEloMatchCount:    strconv.Itoa(t.matchCount),
			metaEloKFactor:       strconv.FormatFloat(t.config.KFactor, 'g', -1, 64),
			metaEloHomeAdvantage: strconv.FormatFloat(t.config.HomeAdvantage, 'g', -1, 64),
			metaEloInitial:       strconv.FormatFloat(t.config.InitialRating, 'g', -1, 64),
		}
		for _, key := range sortedKeys(meta) {
			if err := tx.Save(&metaRow{Key: key, Value: meta[key]}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load replaces the in-memory state with what the store holds. Stored parameters
// override the configured ones so a reloaded tracker behaves as it did when saved.
func (t *EloTracker) Load() error {
	if t.store == nil {
		return fmt.Errorf("elo tracker has no store")
	}
	ratingRows, err := FindAll[eloRatingRow](t.store)
	if err != nil {
		return err
	}
	historyRows, err := FindWhere[eloHistoryRow](t.store, "1 = 1 ORDER BY team, seq")
	if err != nil {
		return err
	}
	metaRows, err := FindWhere[metaRow](t.store, "meta_key LIKE 'elo.%'")
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ratings = make(map[string]float64, len(ratingRows))
	for _, r := range ratingRows {
		t.ratings[r.Team] = r.Rating
	}
	t.history = make(map[string][]EloPoint)
	for _, r := range historyRows {
		d, err := time.Parse(eloDateLayout, r.Date)
		if err != nil {
			return fmt.Errorf("bad history date %q for %s: %w", r.Date, r.Team, err)
		}
		t.history[r.Team] = append(t.history[r.Team], EloPoint{Date: d, Rating: r.Rating})
	}
	t.matchCount = 0
	for _, r := range metaRows {
		switch r.Key {
		case metaEloMatchCount:
			n, err := strconv.Atoi(r.Value)
			if err != nil {
				return fmt.Errorf("bad elo match count %q: %w", r.Value, err)
			}
			t.matchCount = n
		case metaEloKFactor:
			t.config.KFactor = parseMetaFloat(r.Value, t.config.KFactor)
		case metaEloHomeAdvantage:
			t.config.HomeAdvantage = parseMetaFloat(r.Value, t.config.HomeAdvantage)
		case metaEloInitial:
			t.config.InitialRating = parseMetaFloat(r.Value, t.config.InitialRating)
		}
	}
	if t.matchCount > 0 {
		logger.Info("Loaded elo state", len(t.ratings), "teams", t.matchCount, "matches")
	}
	return nil
}

func parseMetaFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warn("Ignoring unparseable stored parameter", value)
		return fallback
	}
	return f
}
