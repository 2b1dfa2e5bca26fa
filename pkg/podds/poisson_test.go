package podds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func untrainedPoisson(t *testing.T) *PoissonModel {
	t.Helper()
	c := testConfig(t)
	return NewPoissonModel(c, NewArtifactStore(c.ArtifactsPath))
}

func TestPoissonHeuristicDefaults(t *testing.T) {
	p := untrainedPoisson(t)
	require.False(t, p.Trained())

	f := NewFeatures("a", "b")
	l := p.Lambdas(&f, 1500, 1500)
	t.Logf("Default lambdas %.3f / %.3f", l.Home, l.Away)
	// half the league average, scaled by home advantage for the home side
	assert.InDelta(t, 1.35*1.25, l.Home, 1e-9)
	assert.InDelta(t, 1.35, l.Away, 1e-9)
}

func TestPoissonRespondsToStrength(t *testing.T) {
	p := untrainedPoisson(t)
	base := NewFeatures("a", "b")
	baseL := p.Lambdas(&base, 1500, 1500)

	strong := NewFeatures("a", "b")
	strong.HomeGoalsFor = 2.2
	strong.HomeForm = 27
	strongL := p.Lambdas(&strong, 1500, 1500)
	assert.Greater(t, strongL.Home, baseL.Home)

	eloL := p.Lambdas(&base, 1700, 1400)
	assert.Greater(t, eloL.Home, baseL.Home, "A higher home rating should raise home goals")
	assert.Less(t, eloL.Away, baseL.Away, "and lower away goals")
}

func TestPoissonOptionalBlends(t *testing.T) {
	p := untrainedPoisson(t)
	f := NewFeatures("a", "b")
	f.HomeXG = Float(2.35)
	withXG := p.Lambdas(&f, 1500, 1500)
	// goals for becomes 0.6*1.35 + 0.4*2.35 = 1.75
	assert.InDelta(t, 1.75*1.25, withXG.Home, 1e-9)

	g := NewFeatures("a", "b")
	g.H2HAwayGoals = Float(0.35)
	withH2H := p.Lambdas(&g, 1500, 1500)
	assert.InDelta(t, 0.8*1.35+0.2*0.35, withH2H.Away, 1e-9)
}

func TestPoissonLambdasAreClipped(t *testing.T) {
	p := untrainedPoisson(t)
	f := NewFeatures("a", "b")
	f.HomeGoalsFor = 9
	f.AwayGoalsAgainst = 9
	f.AwayGoalsFor = 0.01
	l := p.Lambdas(&f, 2000, 1000)
	assert.Equal(t, 4.0, l.Home)
	assert.Equal(t, 0.5, l.Away)
}

func TestPoissonTrainAndReload(t *testing.T) {
	c := testConfig(t)
	artifacts := NewArtifactStore(c.ArtifactsPath)
	p := NewPoissonModel(c, artifacts)

	require.Error(t, p.Train(syntheticSamples(5, 1)), "Too few samples should be refused")
	require.False(t, p.Trained())

	require.NoError(t, p.Train(syntheticSamples(200, 1)))
	require.True(t, p.Trained())
	coeffs := p.Coefficients()
	assert.Len(t, coeffs.Home, 5)
	assert.Equal(t, 200, coeffs.Samples)
	t.Logf("Home R2 %.3f away R2 %.3f", coeffs.HomeR2, coeffs.AwayR2)

	strong := NewFeatures("a", "b")
	strong.HomeGoalsFor, strong.AwayGoalsAgainst, strong.HomeForm = 2, 1.8, 27
	weak := NewFeatures("a", "b")
	weak.HomeGoalsFor, weak.AwayGoalsAgainst, weak.HomeForm = 0.8, 0.9, 4
	assert.Greater(t, p.Lambdas(&strong, 1650, 1350).Home, p.Lambdas(&weak, 1350, 1650).Home)

	require.NoError(t, artifacts.Save(poissonArtifact, coeffs))
	reloaded := NewPoissonModel(c, artifacts)
	require.True(t, reloaded.Trained())
	assert.Equal(t, p.Lambdas(&strong, 1650, 1350), reloaded.Lambdas(&strong, 1650, 1350))
}
