package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/util"
)

// HandlerFunc executes a tool call with its decoded arguments
type HandlerFunc func(params any) (any, error)

// Definition pairs a tool schema with its handler
type Definition struct {
	Tool    protocol.Tool
	Handler HandlerFunc
}

// EngineTools exposes engine operations as tools
type EngineTools struct {
	engine *podds.Engine
}

// NewEngineTools binds the tool handlers to an engine
func NewEngineTools(engine *podds.Engine) *EngineTools {
	return &EngineTools{engine: engine}
}

// Definitions returns every tool in registration order
func (t *EngineTools) Definitions() []Definition {
	return []Definition{
		{PredictMatchTool(), t.HandlePredictMatch},
		{RecordResultTool(), t.HandleRecordResult},
		{RecommendWeightsTool(), t.HandleRecommendWeights},
		{ValidateCalibrationTool(), t.HandleValidateCalibration},
		{PerformanceSummaryTool(), t.HandlePerformanceSummary},
		{EloRatingsTool(), t.HandleEloRatings},
	}
}

func paramsMap(params any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	m, ok := params.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("couldn't read the parameters as an object")
	}
	return m, nil
}

func optionalString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	return util.GetAsString(v)
}

func PredictMatchTool() protocol.Tool {
	return protocol.Tool{
		Name: "predict_match",
		Description: `
		Predicts a football match with the ensemble: calibrated home/draw/away probabilities,
		most likely scoreline, both-teams-to-score and over/under goal probabilities,
		confidence intervals and each member model's view.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"features": {
					Type:        "object",
					Description: "Fixture features keyed by name (home_team, away_team, home_form, home_elo, home_odds ...). Absent keys take their defaults.",
				},
				"fixture_id": {
					Type:        "string",
					Description: "When given the prediction is logged so a later record_result can evaluate it.",
				},
			},
			Required: []string{"features"},
		},
	}
}

func (t *EngineTools) HandlePredictMatch(params any) (any, error) {
	m, err := paramsMap(params)
	if err != nil {
		return nil, err
	}
	raw, ok := m["features"]
	if !ok {
		return nil, fmt.Errorf("no features parameter was sent")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read features: %w", err)
	}
	features, err := podds.ParseFeatures(data)
	if err != nil {
		return nil, err
	}
	if features.HomeTeam == "" || features.AwayTeam == "" {
		return nil, fmt.Errorf("features must name home_team and away_team")
	}
	fixtureID, err := optionalString(m, "fixture_id")
	if err != nil {
		return nil, err
	}
	logger.Info("Predicting", features.HomeTeam, "v", features.AwayTeam)
	return t.engine.Predict(features, fixtureID)
}

func RecordResultTool() protocol.Tool {
	return protocol.Tool{
		Name: "record_result",
		Description: `
		Records the final score of a fixture. Evaluates the logged prediction (if any)
		and updates the Elo ratings of both teams.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"fixture_id": {Type: "string", Description: "The id the prediction was logged under"},
				"home_goals": {Type: "integer", Description: "Home side's goals"},
				"away_goals": {Type: "integer", Description: "Away side's goals"},
				"home_team":  {Type: "string", Description: "Home team id, needed only when no prediction was logged"},
				"away_team":  {Type: "string", Description: "Away team id, needed only when no prediction was logged"},
				"date":       {Type: "string", Description: "Match date as YYYY-MM-DD, defaults to today"},
			},
			Required: []string{"fixture_id", "home_goals", "away_goals"},
		},
	}
}

func (t *EngineTools) HandleRecordResult(params any) (any, error) {
	m, err := paramsMap(params)
	if err != nil {
		return nil, err
	}
	in := podds.ResultInput{}
	if in.FixtureID, err = optionalString(m, "fixture_id"); err != nil {
		return nil, err
	}
	if in.FixtureID == "" {
		return nil, fmt.Errorf("no fixture_id parameter was sent")
	}
	if in.HomeGoals, err = util.GetAsInteger(m["home_goals"]); err != nil {
		return nil, fmt.Errorf("home_goals: %w", err)
	}
	if in.AwayGoals, err = util.GetAsInteger(m["away_goals"]); err != nil {
		return nil, fmt.Errorf("away_goals: %w", err)
	}
	if in.HomeTeam, err = optionalString(m, "home_team"); err != nil {
		return nil, err
	}
	if in.AwayTeam, err = optionalString(m, "away_team"); err != nil {
		return nil, err
	}
	date, err := optionalString(m, "date")
	if err != nil {
		return nil, err
	}
	if date != "" {
		if in.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
	}
	return t.engine.RecordResult(in)
}

func applyTool(name, description string) protocol.Tool {
	return protocol.Tool{
		Name:        name,
		Description: description,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"apply": {Type: "boolean", Description: "Make the recommendation live when it passes its gate"},
			},
			Required: []string{},
		},
	}
}

func RecommendWeightsTool() protocol.Tool {
	return applyTool("recommend_weights", `
		Recommends new ensemble weights from each member's accuracy on evaluated predictions,
		blended with the current weights. Nothing changes until enough results are in.
		`)
}

func (t *EngineTools) HandleRecommendWeights(params any) (any, error) {
	m, err := paramsMap(params)
	if err != nil {
		return nil, err
	}
	apply, err := util.GetAsBool(m["apply"])
	if err != nil {
		return nil, err
	}
	return t.engine.RecommendWeights(apply)
}

func ValidateCalibrationTool() protocol.Tool {
	return applyTool("validate_calibration", `
		Fits a calibration temperature on evaluated predictions and compares its Brier score
		with the live temperature.
		`)
}

func (t *EngineTools) HandleValidateCalibration(params any) (any, error) {
	m, err := paramsMap(params)
	if err != nil {
		return nil, err
	}
	apply, err := util.GetAsBool(m["apply"])
	if err != nil {
		return nil, err
	}
	return t.engine.ValidateCalibration(apply)
}

func PerformanceSummaryTool() protocol.Tool {
	return protocol.Tool{
		Name:        "performance_summary",
		Description: "Accuracy, Brier score and calibration of evaluated predictions, overall and by confidence, league and member.",
		InputSchema: protocol.InputSchema{Type: "object", Required: []string{}},
	}
}

func (t *EngineTools) HandlePerformanceSummary(params any) (any, error) {
	return t.engine.Feedback.Summary(), nil
}

func EloRatingsTool() protocol.Tool {
	return protocol.Tool{
		Name:        "elo_ratings",
		Description: "Current Elo ratings, best first. With a team, that team's rating history.",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"team": {Type: "string", Description: "Team id to show history for"},
			},
			Required: []string{},
		},
	}
}

type teamRating struct {
	Team   string  `json:"team"`
	Rating float64 `json:"rating"`
}

func (t *EngineTools) HandleEloRatings(params any) (any, error) {
	m, err := paramsMap(params)
	if err != nil {
		return nil, err
	}
	team, err := optionalString(m, "team")
	if err != nil {
		return nil, err
	}
	elo := t.engine.Elo
	if team != "" {
		return map[string]any{
			"team":    team,
			"rating":  elo.Rating(team),
			"history": elo.History(team),
		}, nil
	}
	ratings := elo.Ratings()
	table := make([]teamRating, 0, len(ratings))
	for name, r := range ratings {
		table = append(table, teamRating{Team: name, Rating: r})
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].Rating != table[j].Rating {
			return table[i].Rating > table[j].Rating
		}
		return table[i].Team < table[j].Team
	})
	return map[string]any{"matches": elo.MatchCount(), "ratings": table}, nil
}
