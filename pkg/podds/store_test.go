package podds

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID    string  `column:"id" dbtype:"TEXT NOT NULL" primary:"true"`
	Name  string  `column:"name" dbtype:"TEXT" index:"true"`
	Score float64 `column:"score" dbtype:"REAL"`
	Note  string
}

func (w *widget) GetTableName() string          { return "widgets" }
func (w *widget) GetPrimaryKey() map[string]any { return map[string]any{"id": w.ID} }
func (w *widget) BeforeSave() error {
	if w.ID == "" {
		return errors.New("widget has no id")
	}
	return nil
}

func TestStoreSaveAndFind(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateTables(&widget{}))

	require.NoError(t, s.Save(&widget{ID: "a", Name: "first", Score: 1.5, Note: "dropped"}))
	require.NoError(t, s.Save(&widget{ID: "b", Name: "second", Score: 2}))

	got := &widget{}
	require.NoError(t, s.FindByPrimaryKey(got, map[string]any{"id": "a"}))
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, 1.5, got.Score)
	assert.Empty(t, got.Note, "Fields without a dbtype should not be persisted")

	// saving again updates in place
	require.NoError(t, s.Save(&widget{ID: "a", Name: "renamed", Score: 3}))
	require.NoError(t, s.FindByPrimaryKey(got, map[string]any{"id": "a"}))
	assert.Equal(t, "renamed", got.Name)

	all, err := FindAll[widget](s)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	high, err := FindWhere[widget](s, "score > ? ORDER BY id", 2.5)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "a", high[0].ID)

	n, err := s.Count(&widget{}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStoreFindMissing(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateTable(&widget{}))

	err := s.FindByPrimaryKey(&widget{}, map[string]any{"id": "nope"})
	assert.True(t, errors.Is(err, ErrRecordNotFound), "Expected ErrRecordNotFound, got %v", err)
}

func TestStoreTransactionRollsBack(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateTable(&widget{}))

	err := s.WithTx(func(tx *Tx) error {
		if err := tx.Save(&widget{ID: "kept?", Name: "x"}); err != nil {
			return err
		}
		return tx.Save(&widget{}) // fails BeforeSave
	})
	require.Error(t, err)

	n, err := s.Count(&widget{}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "A failed transaction should leave nothing behind")
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "podds.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(&widget{}))
	require.NoError(t, s.Save(&widget{ID: "a", Name: "disk"}))
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	got := &widget{}
	require.NoError(t, s.FindByPrimaryKey(got, map[string]any{"id": "a"}))
	assert.Equal(t, "disk", got.Name)
}
