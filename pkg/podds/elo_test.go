package podds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.August, d, 0, 0, 0, 0, time.UTC)
}

func defaultEloConfig() EloConfig {
	return EloConfig{KFactor: 32, HomeAdvantage: 100, InitialRating: 1500}
}

func TestEloExpectation(t *testing.T) {
	assert.InDelta(t, 0.5, expectedHome(1500, 1500, 0), 1e-12)
	assert.InDelta(t, 0.6401, expectedHome(1500, 1500, 100), 1e-4)
	assert.InDelta(t, 1.0, expectedHome(1600, 1500, 0)+expectedHome(1500, 1600, 0), 1e-12)
}

func TestGoalDifferenceMultiplier(t *testing.T) {
	cases := map[int]float64{0: 1, 1: 1, 2: 1.5, 3: 1.75, 4: 1.875, 7: 2.25}
	for margin, want := range cases {
		assert.Equal(t, want, goalDifferenceMultiplier(margin), "margin %d", margin)
	}
}

func TestEloOutcomeDrawSymmetry(t *testing.T) {
	for _, gap := range []float64{0, 40, 90, 140, 190, 250, 400} {
		assert.Equal(t, eloDrawRate(gap), eloDrawRate(-gap), "Draw bucket should only depend on the size of the gap (%v)", gap)
		requireDistribution(t, eloOutcome(1500+gap, 1500, 100))
		requireDistribution(t, eloOutcome(1500, 1500+gap, 100))
	}
	// neither side hits the 0.05 floor for these gaps, so nothing is renormalised
	for _, gap := range []float64{0, 40, 90, 140} {
		a := eloOutcome(1500+gap, 1500, 100)
		b := eloOutcome(1500, 1500+gap, 100)
		assert.InDelta(t, a.Draw, b.Draw, 1e-12, "gap %v", gap)
		assert.InDelta(t, eloDrawRate(gap), a.Draw, 1e-12, "gap %v", gap)
	}
	even := eloOutcome(1500, 1500, 100)
	assert.InDelta(t, 0.30, even.Draw, 1e-9)
	assert.Greater(t, even.HomeWin, even.AwayWin, "Home advantage should favour the home side")
}

func TestEloOutcomeFloor(t *testing.T) {
	// a 400 point favourite at home: the away win floors at 0.05 and the triple is rescaled
	strong := eloOutcome(1900, 1500, 100)
	eh := expectedHome(1900, 1500, 100)
	sum := (eh - 0.06) + 0.12 + 0.05
	assert.Greater(t, sum, 1.0)
	assert.InDelta(t, 0.05/sum, strong.AwayWin, 1e-12)
	assert.InDelta(t, 0.12/sum, strong.Draw, 1e-12)

	// the same gap the other way round leaves home advantage to absorb it, no floor
	weak := eloOutcome(1500, 1900, 100)
	assert.InDelta(t, 0.12, weak.Draw, 1e-12)
	assert.Less(t, strong.Draw, weak.Draw)
}

func TestEloUpdateIsZeroSum(t *testing.T) {
	tr, err := NewEloTracker(nil, defaultEloConfig())
	require.NoError(t, err)

	u, err := tr.UpdateRatings("ars", "che", 3, 0, day(10))
	require.NoError(t, err)
	assert.Greater(t, u.Delta, 0.0)
	assert.InDelta(t, 3000, u.HomeAfter+u.AwayAfter, 1e-9, "Ratings should be conserved")
	// k * 1.75 * (1 - expected)
	assert.InDelta(t, 32*1.75*(1-u.Expected), u.Delta, 1e-9)

	assert.Equal(t, u.HomeAfter, tr.Rating("ars"))
	assert.Equal(t, 1500.0, tr.Rating("unknown"))
	assert.Equal(t, 1, tr.MatchCount())
	assert.Len(t, tr.History("che"), 1)
	assert.True(t, tr.HasState())
}

func TestEloDrawBetweenUnequalSides(t *testing.T) {
	tr, err := NewEloTracker(nil, defaultEloConfig())
	require.NoError(t, err)
	_, err = tr.UpdateRatings("ars", "che", 4, 0, day(1))
	require.NoError(t, err)
	_, err = tr.UpdateRatings("ars", "che", 3, 1, day(8))
	require.NoError(t, err)

	u, err := tr.UpdateRatings("ars", "che", 1, 1, day(15))
	require.NoError(t, err)
	homeDelta := u.HomeAfter - u.HomeBefore
	awayDelta := u.AwayAfter - u.AwayBefore
	assert.Less(t, homeDelta, 0.0, "The stronger home side loses rating on a draw")
	assert.Greater(t, awayDelta, 0.0)
	assert.InDelta(t, -homeDelta, awayDelta, 1e-9, "Both sides move by the same amount")
	assert.InDelta(t, 32*(0.5-u.Expected), homeDelta, 1e-9)
}

func TestEloRejectsBadResults(t *testing.T) {
	tr, err := NewEloTracker(nil, defaultEloConfig())
	require.NoError(t, err)

	_, err = tr.UpdateRatings("ars", "ars", 1, 0, day(1))
	assert.Error(t, err)
	_, err = tr.UpdateRatings("", "che", 1, 0, day(1))
	assert.Error(t, err)
	_, err = tr.UpdateRatings("ars", "che", -1, 0, day(1))
	assert.Error(t, err)
	assert.Equal(t, 0, tr.MatchCount(), "Rejected results should change nothing")
}

func TestEloReplayOrdersByDate(t *testing.T) {
	matches := []MatchResult{
		{HomeTeam: "b", AwayTeam: "a", HomeGoals: 0, AwayGoals: 2, Date: day(20)},
		{HomeTeam: "a", AwayTeam: "b", HomeGoals: 1, AwayGoals: 1, Date: day(5)},
	}
	tr, err := NewEloTracker(nil, defaultEloConfig())
	require.NoError(t, err)
	n, err := tr.Replay(matches)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hist := tr.History("a")
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Date.Equal(day(5)), "Earliest match should be applied first")
	assert.True(t, hist[1].Date.Equal(day(20)))
}

func TestEloPersistenceRoundTrip(t *testing.T) {
	s := testStore(t)
	tr, err := NewEloTracker(s, defaultEloConfig())
	require.NoError(t, err)

	_, err = tr.UpdateRatings("ars", "che", 2, 1, day(3))
	require.NoError(t, err)
	_, err = tr.UpdateRatings("che", "liv", 0, 0, day(10))
	require.NoError(t, err)

	// a second tracker on the same store sees the written-through state
	reloaded, err := NewEloTracker(s, EloConfig{KFactor: 10, HomeAdvantage: 0, InitialRating: 1000})
	require.NoError(t, err)
	assert.Equal(t, tr.Ratings(), reloaded.Ratings())
	assert.Equal(t, 2, reloaded.MatchCount())
	require.Len(t, reloaded.History("che"), 2)
	assert.True(t, reloaded.History("che")[1].Date.Equal(day(10)))

	// parameters travel with the state once saved
	require.NoError(t, tr.Save())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, defaultEloConfig(), reloaded.Config())
	assert.Equal(t, tr.PredictMatch("ars", "liv"), reloaded.PredictMatch("ars", "liv"))
}
