package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0600))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "No temp files are left behind")
}

type artifact struct {
	Name    string      `json:"name"`
	Weights [][]float64 `json:"weights"`
}

func TestCompressedJSON(t *testing.T) {
	in := artifact{Name: "form", Weights: [][]float64{{0.1, -0.2}, {0.3, 0.4}, {0, 0}}}
	data, err := EncodeCompressedJSON(in)
	require.NoError(t, err)

	var out artifact
	require.NoError(t, DecodeCompressedJSON(data, &out))
	assert.Equal(t, in, out)
	assert.Error(t, DecodeCompressedJSON([]byte("plainly not brotli"), &out))

	path := filepath.Join(t.TempDir(), "form.json.br")
	require.NoError(t, WriteCompressedJSON(path, in))
	var loaded artifact
	require.NoError(t, ReadCompressedJSON(path, &loaded))
	assert.Equal(t, in, loaded)

	err = ReadCompressedJSON(filepath.Join(t.TempDir(), "missing.br"), &loaded)
	assert.True(t, os.IsNotExist(err))
}
