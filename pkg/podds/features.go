package podds

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Features is the per-fixture input built by the external feature builder.
// NewFeatures fills every field with its documented default; decoding JSON on top
// of a defaulted record leaves absent keys at their defaults. Pointer fields are
// optional statistics where nil means "not available".
type Features struct {
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
	League   string `json:"league"`

	LeagueSize     float64 `json:"league_size"`      // 20
	LeagueAvgGoals float64 `json:"league_avg_goals"` // 2.7 total goals per game

	HomePosition float64 `json:"home_position"` // 10
	AwayPosition float64 `json:"away_position"` // 10
	HomePoints   float64 `json:"home_points"`   // 0
	AwayPoints   float64 `json:"away_points"`   // 0
	HomePlayed   float64 `json:"home_played"`   // 0
	AwayPlayed   float64 `json:"away_played"`   // 0
	HomeGoalDiff float64 `json:"home_goal_diff"`
	AwayGoalDiff float64 `json:"away_goal_diff"`

	// points from the last ten (0-30) and last five (0-15) games
	HomeForm  float64 `json:"home_form"`  // 15
	AwayForm  float64 `json:"away_form"`  // 15
	HomeLast5 float64 `json:"home_last5"` // 7
	AwayLast5 float64 `json:"away_last5"` // 7

	// per game averages
	HomeGoalsFor     float64 `json:"home_goals_for"`     // 1.35
	HomeGoalsAgainst float64 `json:"home_goals_against"` // 1.35
	AwayGoalsFor     float64 `json:"away_goals_for"`     // 1.35
	AwayGoalsAgainst float64 `json:"away_goals_against"` // 1.35

	HomeVenueWinRate float64 `json:"home_venue_win_rate"` // 0.46, home side at home
	AwayVenueWinRate float64 `json:"away_venue_win_rate"` // 0.28, away side on the road

	HomeElo float64 `json:"home_elo"` // 1500
	AwayElo float64 `json:"away_elo"` // 1500

	HomeWinStreak  float64 `json:"home_win_streak"`
	AwayWinStreak  float64 `json:"away_win_streak"`
	HomeUnbeaten   float64 `json:"home_unbeaten"`
	AwayUnbeaten   float64 `json:"away_unbeaten"`
	HomeLossStreak float64 `json:"home_loss_streak"`
	AwayLossStreak float64 `json:"away_loss_streak"`

	H2HHomeWins float64 `json:"h2h_home_wins"`
	H2HDraws    float64 `json:"h2h_draws"`
	H2HAwayWins float64 `json:"h2h_away_wins"`

	H2HHomeGoals *float64 `json:"h2h_home_goals,omitempty"`
	H2HAwayGoals *float64 `json:"h2h_away_goals,omitempty"`
	HomeXG       *float64 `json:"home_xg,omitempty"`
	AwayXG       *float64 `json:"away_xg,omitempty"`
	HomeOdds     *float64 `json:"home_odds,omitempty"`
	DrawOdds     *float64 `json:"draw_odds,omitempty"`
	AwayOdds     *float64 `json:"away_odds,omitempty"`
}

// NewFeatures returns a record with every documented default applied
func NewFeatures(homeTeam, awayTeam string) Features {
	return Features{
		HomeTeam:         homeTeam,
		AwayTeam:         awayTeam,
		LeagueSize:       20,
		LeagueAvgGoals:   2.7,
		HomePosition:     10,
		AwayPosition:     10,
		HomeForm:         15,
		AwayForm:         15,
		HomeLast5:        7,
		AwayLast5:        7,
		HomeGoalsFor:     1.35,
		HomeGoalsAgainst: 1.35,
		AwayGoalsFor:     1.35,
		AwayGoalsAgainst: 1.35,
		HomeVenueWinRate: 0.46,
		AwayVenueWinRate: 0.28,
		HomeElo:          1500,
		AwayElo:          1500,
	}
}

// ParseFeatures decodes a JSON object onto a defaulted record.
// Unknown keys are rejected so feature drift shows up as an error rather than a silent default.
func ParseFeatures(data []byte) (Features, error) {
	f := NewFeatures("", "")
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return f, fmt.Errorf("failed to decode features: %w", err)
	}
	return f, nil
}

// Float returns a pointer to v, for populating optional feature fields
func Float(v float64) *float64 {
	return &v
}

// H2HGames returns the number of head to head meetings
func (f *Features) H2HGames() float64 {
	return f.H2HHomeWins + f.H2HDraws + f.H2HAwayWins
}

// PointsPerGame returns season points per game for each side, zero when nothing has been played
func (f *Features) PointsPerGame() (float64, float64) {
	var h, a float64
	if f.HomePlayed > 0 {
		h = f.HomePoints / f.HomePlayed
	}
	if f.AwayPlayed > 0 {
		a = f.AwayPoints / f.AwayPlayed
	}
	return h, a
}

// GoalDiffPerGame returns season goal difference per game for each side
func (f *Features) GoalDiffPerGame() (float64, float64) {
	var h, a float64
	if f.HomePlayed > 0 {
		h = f.HomeGoalDiff / f.HomePlayed
	}
	if f.AwayPlayed > 0 {
		a = f.AwayGoalDiff / f.AwayPlayed
	}
	return h, a
}

// featureTable is the shared vectorisation table: every numeric feature a trained
// member may select, by stable name. Trained artifacts store the names they were
// fitted on and are rejected when a name is no longer present here.
var featureTable = map[string]func(*Features) float64{
	"home_form":           func(f *Features) float64 { return f.HomeForm / 30 },
	"away_form":           func(f *Features) float64 { return f.AwayForm / 30 },
	"home_last5":          func(f *Features) float64 { return f.HomeLast5 / 15 },
	"away_last5":          func(f *Features) float64 { return f.AwayLast5 / 15 },
	"form_diff":           func(f *Features) float64 { return (f.HomeForm - f.AwayForm) / 30 },
	"position_diff":       func(f *Features) float64 { return (f.AwayPosition - f.HomePosition) / makeSensible(f.LeagueSize, 20) },
	"ppg_diff":            func(f *Features) float64 { h, a := f.PointsPerGame(); return (h - a) / 3 },
	"gd_per_game_diff":    func(f *Features) float64 { h, a := f.GoalDiffPerGame(); return h - a },
	"venue_diff":          func(f *Features) float64 { return f.HomeVenueWinRate - f.AwayVenueWinRate },
	"home_trend":          func(f *Features) float64 { return f.HomeLast5/5 - f.HomeForm/10 },
	"away_trend":          func(f *Features) float64 { return f.AwayLast5/5 - f.AwayForm/10 },
	"home_win_streak":     func(f *Features) float64 { return minFloat(f.HomeWinStreak, 10) / 10 },
	"away_win_streak":     func(f *Features) float64 { return minFloat(f.AwayWinStreak, 10) / 10 },
	"home_unbeaten":       func(f *Features) float64 { return minFloat(f.HomeUnbeaten, 20) / 20 },
	"away_unbeaten":       func(f *Features) float64 { return minFloat(f.AwayUnbeaten, 20) / 20 },
	"home_loss_streak":    func(f *Features) float64 { return minFloat(f.HomeLossStreak, 10) / 10 },
	"away_loss_streak":    func(f *Features) float64 { return minFloat(f.AwayLossStreak, 10) / 10 },
	"h2h_balance":         h2hBalance,
	"h2h_draw_rate":       h2hDrawRate,
	"elo_diff":            func(f *Features) float64 { return (f.HomeElo - f.AwayElo) / 400 },
	"home_goals_for":      func(f *Features) float64 { return f.HomeGoalsFor },
	"away_goals_for":      func(f *Features) float64 { return f.AwayGoalsFor },
	"home_goals_against":  func(f *Features) float64 { return f.HomeGoalsAgainst },
	"away_goals_against":  func(f *Features) float64 { return f.AwayGoalsAgainst },
	"league_goal_average": func(f *Features) float64 { return f.LeagueAvgGoals },
}

// FeatureNames returns the names in the shared vectorisation table, sorted
func FeatureNames() []string {
	return sortedKeys(featureTable)
}

// Vectorize extracts the named features in order. Unknown names are an error.
func Vectorize(f *Features, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		fn, ok := featureTable[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		out[i] = fn(f)
	}
	return out, nil
}

func h2hBalance(f *Features) float64 {
	games := f.H2HGames()
	if games <= 0 {
		return 0
	}
	return (f.H2HHomeWins - f.H2HAwayWins) / games
}

func h2hDrawRate(f *Features) float64 {
	games := f.H2HGames()
	if games <= 0 {
		return 0
	}
	return f.H2HDraws / games
}
