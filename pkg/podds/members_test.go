package podds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dominantHome() Features {
	f := NewFeatures("city", "rovers")
	f.HomePosition, f.AwayPosition = 1, 20
	f.HomePlayed, f.AwayPlayed = 20, 20
	f.HomePoints, f.AwayPoints = 52, 12
	f.HomeGoalDiff, f.AwayGoalDiff = 35, -30
	f.HomeForm, f.AwayForm = 27, 4
	f.HomeLast5, f.AwayLast5 = 15, 1
	f.HomeGoalsFor, f.HomeGoalsAgainst = 2.6, 0.6
	f.AwayGoalsFor, f.AwayGoalsAgainst = 0.7, 2.4
	f.HomeVenueWinRate, f.AwayVenueWinRate = 0.85, 0.1
	f.HomeElo, f.AwayElo = 1750, 1320
	f.HomeWinStreak, f.HomeUnbeaten = 6, 12
	f.AwayLossStreak = 5
	f.H2HHomeWins, f.H2HAwayWins = 4, 0
	return f
}

func TestMembersOrderAndNames(t *testing.T) {
	members := NewMembers(nil, testConfig(t))
	var names []string
	for _, m := range members {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{MemberForm, MemberElo, MemberLeagueContext, MemberTrend, MemberBayesian, MemberSequence, MemberGoals}, names)
	assert.ElementsMatch(t, MemberNames(), names, "Every member should have a weight")
}

func TestMembersOnIdenticalTeams(t *testing.T) {
	f := NewFeatures("a", "b")
	for _, m := range NewMembers(nil, testConfig(t)) {
		o := m.Predict(&f)
		t.Logf("%-15s %.3f %.3f %.3f", m.Name(), o.HomeWin, o.Draw, o.AwayWin)
		requireDistribution(t, o, m.Name())
		assert.Greater(t, o.HomeWin, o.AwayWin, "%s should give level sides a home edge", m.Name())
		assert.Greater(t, o.Draw, 0.15, "%s should leave room for a draw", m.Name())
	}
}

func TestMembersOnDominantHome(t *testing.T) {
	f := dominantHome()
	for _, m := range NewMembers(nil, testConfig(t)) {
		o := m.Predict(&f)
		requireDistribution(t, o, m.Name())
		assert.Equal(t, ResultHome, o.Predicted(), "%s should back the dominant home side", m.Name())
	}
}

func TestFromStrengthShape(t *testing.T) {
	level := fromStrength(0, 0, 0.3)
	assert.InDelta(t, 0.3, level.Draw, 1e-9)
	assert.InDelta(t, level.HomeWin, level.AwayWin, 1e-9)

	far := fromStrength(2, 0, 0.3)
	assert.InDelta(t, 0.15, far.Draw, 1e-9, "Draw share halves once the gap saturates")
	assert.Greater(t, far.HomeWin, 0.8)

	mirror := fromStrength(-2, 0, 0.3)
	assert.InDelta(t, far.HomeWin, mirror.AwayWin, 1e-9)
}

func TestPoissonGridSumsToOne(t *testing.T) {
	total := 0.0
	for k := 0; k < 30; k++ {
		total += poissonProb(k, 2.5)
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Equal(t, 1.0, poissonProb(0, 0))

	o := poissonOutcome(1.5, 1.5, 11)
	assert.InDelta(t, o.HomeWin, o.AwayWin, 1e-9)
	assert.Greater(t, poissonOutcome(2.5, 0.8, 11).HomeWin, 0.7)
}

func TestBayesianMemberFollowsTheMarket(t *testing.T) {
	m := &bayesianMember{}
	f := NewFeatures("a", "b")
	f.HomeOdds, f.DrawOdds, f.AwayOdds = Float(5.5), Float(4.0), Float(1.6)
	o := m.Predict(&f)
	assert.Equal(t, ResultAway, o.Predicted(), "Strong prices for the away side should outweigh the prior")

	f.H2HHomeWins = 40
	assert.Greater(t, m.Predict(&f).HomeWin, o.HomeWin, "Head to head wins add to the home count")
}

func TestTrainableMemberTakesOverFromHeuristic(t *testing.T) {
	var form *heuristicMember
	for _, m := range NewMembers(nil, testConfig(t)) {
		if hm, ok := m.(*heuristicMember); ok && hm.Name() == MemberForm {
			form = hm
		}
	}
	require.NotNil(t, form)
	require.False(t, form.Trained())

	require.NoError(t, form.Train(syntheticSamples(300, 3)))
	require.True(t, form.Trained())

	strong, weak := NewFeatures("a", "b"), NewFeatures("a", "b")
	strong.HomeForm, strong.AwayForm, strong.HomeLast5, strong.AwayLast5 = 27, 4, 14, 2
	weak.HomeForm, weak.AwayForm, weak.HomeLast5, weak.AwayLast5 = 4, 27, 2, 14
	assert.Greater(t, form.Predict(&strong).HomeWin, form.Predict(&weak).HomeWin)
	requireDistribution(t, form.Predict(&strong))
}
