package podds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceNeedsTwoMembers(t *testing.T) {
	o := NewOutcome(0.5, 0.3, 0.2)
	assert.Nil(t, computeConfidence(o, nil, 1.96, 0.3))
	assert.Nil(t, computeConfidence(o, []Outcome{o}, 1.96, 0.3))
}

func TestConfidenceWhenMembersAgree(t *testing.T) {
	o := NewOutcome(0.5, 0.3, 0.2)
	c := computeConfidence(o, []Outcome{o, o, o}, 1.96, 0.3)
	require.NotNil(t, c)
	assert.Equal(t, ConfidenceVeryHigh, c.Level)
	assert.InDelta(t, 0, c.MeanWidth, 1e-12)
	assert.InDelta(t, 1, c.Agreement, 1e-12)
	assert.InDelta(t, 0.5, c.HomeWin.Lower, 1e-12)
	assert.Equal(t, 3, c.Members)
}

func TestConfidenceWhenMembersDisagree(t *testing.T) {
	point := NewOutcome(0.4, 0.3, 0.3)
	members := []Outcome{NewOutcome(0.9, 0.05, 0.05), NewOutcome(0.05, 0.05, 0.9), NewOutcome(0.1, 0.8, 0.1)}
	c := computeConfidence(point, members, 1.96, 0.3)
	require.NotNil(t, c)
	assert.Equal(t, ConfidenceLow, c.Level)
	assert.Equal(t, 0.0, c.Agreement)
	for _, iv := range []Interval{c.HomeWin, c.Draw, c.AwayWin} {
		assert.GreaterOrEqual(t, iv.Lower, 0.0, "Intervals are clipped to [0, 1]")
		assert.LessOrEqual(t, iv.Upper, 1.0)
	}
}

func TestConfidenceLevels(t *testing.T) {
	assert.Equal(t, ConfidenceVeryHigh, confidenceLevel(0.05))
	assert.Equal(t, ConfidenceHigh, confidenceLevel(0.15))
	assert.Equal(t, ConfidenceMedium, confidenceLevel(0.25))
	assert.Equal(t, ConfidenceLow, confidenceLevel(0.35))
}
