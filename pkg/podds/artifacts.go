package podds

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/transport"
)

// artifact names shared across members and the offline trainer
const (
	featureTableArtifact = "feature_table"
	metaModelArtifact    = "meta_model"
	poissonArtifact      = "poisson"
	artifactExt          = ".json.br"
)

// ArtifactStore keeps trained model state as brotli compressed JSON files
// named <dir>/<name>.json.br
type ArtifactStore struct {
	dir string
}

// NewArtifactStore returns a store rooted at dir. The directory is created on first save.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// Path returns the file backing the named artifact
func (a *ArtifactStore) Path(name string) string {
	return filepath.Join(a.dir, name+artifactExt)
}

// Save atomically replaces the named artifact
func (a *ArtifactStore) Save(name string, v any) error {
	if err := transport.WriteCompressedJSON(a.Path(name), v); err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", name, err)
	}
	if info, err := os.Stat(a.Path(name)); err == nil {
		logger.Info("Saved artifact", a.Path(name), humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

// Load decodes the named artifact into v. A missing artifact returns an error
// satisfying errors.Is(err, fs.ErrNotExist).
func (a *ArtifactStore) Load(name string, v any) error {
	if err := transport.ReadCompressedJSON(a.Path(name), v); err != nil {
		return fmt.Errorf("failed to load artifact %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named artifact is present
func (a *ArtifactStore) Exists(name string) bool {
	_, err := os.Stat(a.Path(name))
	return err == nil
}

// loadOptional loads an artifact, logging anything other than absence as a warning.
// It returns false when v was not populated.
func (a *ArtifactStore) loadOptional(name string, v any) bool {
	if a == nil {
		return false
	}
	err := a.Load(name, v)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("No artifact, using untrained state", name)
	} else {
		logger.Warn("Artifact unreadable, using untrained state", err)
	}
	return false
}

// FeatureTable records the vectorisation table trained members were fitted against
type FeatureTable struct {
	Version  int      `json:"version"`
	Features []string `json:"features"`
}

// currentFeatureTable describes the table compiled into this binary
func currentFeatureTable() FeatureTable {
	return FeatureTable{Version: 1, Features: FeatureNames()}
}

// checkFeatureTable returns an error when a stored table names features this binary cannot produce
func checkFeatureTable(stored FeatureTable) error {
	for _, name := range stored.Features {
		if _, ok := featureTable[name]; !ok {
			return fmt.Errorf("feature table version %d names unknown feature %q", stored.Version, name)
		}
	}
	return nil
}
