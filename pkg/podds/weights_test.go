package podds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, DefaultWeights().Sum(), 1e-9)
	assert.Len(t, MemberNames(), 7)
}

func TestWeightsNormalize(t *testing.T) {
	w := Weights{MemberForm: 2, MemberElo: 2, MemberGoals: -1}.Normalize()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.Equal(t, 0.0, w[MemberGoals])
	assert.Equal(t, 0.5, w[MemberForm])

	assert.Equal(t, DefaultWeights(), Weights{MemberForm: 0}.Normalize())
}

func TestBlendWeights(t *testing.T) {
	current := DefaultWeights()
	rec := Weights{MemberForm: 0.5, MemberElo: 0.1}
	blended := BlendWeights(current, rec, 0.7)
	assert.InDelta(t, 1.0, blended.Sum(), 1e-9)
	assert.Greater(t, blended[MemberForm], current[MemberForm])
	assert.Less(t, blended[MemberElo], current[MemberElo])

	same := BlendWeights(current, Weights{}, 0.7)
	for name, v := range current {
		assert.InDelta(t, v, same[name], 1e-12, "Members without a recommendation keep their weight")
	}
}

func TestWeightsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	w, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), w, "A missing file gives the defaults")

	want := DefaultWeights()
	want[MemberForm], want[MemberGoals] = 0.3, 0.0
	require.NoError(t, SaveWeights(path, want, 42))
	got, err := LoadWeights(path)
	require.NoError(t, err)
	for name, v := range want.Normalize() {
		assert.InDelta(t, v, got[name], 1e-9, name)
	}

	require.NoError(t, os.WriteFile(path, []byte("weights:\n  form: 1\n  crystal_ball: 5\n"), 0644))
	got, err = LoadWeights(path)
	require.NoError(t, err)
	_, known := got["crystal_ball"]
	assert.False(t, known, "Unknown members are ignored")
	assert.InDelta(t, 1.0, got.Sum(), 1e-9)
}
