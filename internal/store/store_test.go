package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func readRaw(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestNew(t *testing.T) {
	t.Run("should create a missing data directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		s, err := New(dir, zap.NewNop())
		require.NoError(t, err)
		assert.DirExists(t, dir)
		assert.Equal(t, dir, s.Dir())
	})

	t.Run("should reject an empty directory", func(t *testing.T) {
		_, err := New("  ", zap.NewNop())
		require.Error(t, err)
	})
}

func TestReadPreferences_CreatesDefaults(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Dir(), PreferencesFile)
	assert.NoFileExists(t, path)

	doc, err := s.ReadPreferences()
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), doc)
	assert.FileExists(t, path)
	assert.Equal(t, false, readRaw(t, path)["proceedWithoutConfirmation"])
}

func TestWritePreferences_ShallowMerge(t *testing.T) {
	s := newTestStore(t)

	doc, err := s.WritePreferences(map[string]interface{}{
		"defaultAppPreference": map[string]interface{}{"browser": "firefox"},
		"theme":                "dark",
	})
	require.NoError(t, err)

	// The nested object is replaced, not merged.
	assert.Equal(t, map[string]interface{}{"browser": "firefox"}, doc["defaultAppPreference"])
	assert.Equal(t, "dark", doc["theme"])
	assert.Equal(t, false, doc["proceedWithoutConfirmation"])
	assert.Contains(t, doc, "fileLocations")

	// Persisted as a whole file and readable back.
	reread, err := s.ReadPreferences()
	require.NoError(t, err)
	assert.Equal(t, "dark", reread["theme"])
	assert.Equal(t, map[string]interface{}{"browser": "firefox"}, reread["defaultAppPreference"])
	assert.NoFileExists(t, filepath.Join(s.Dir(), PreferencesFile+".tmp"))
}

func TestWritePreferences_RejectsInvalidDocument(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WritePreferences(map[string]interface{}{"proceedWithoutConfirmation": "yes"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	doc, err := s.ReadPreferences()
	require.NoError(t, err)
	assert.Equal(t, false, doc["proceedWithoutConfirmation"], "a rejected write must leave the file untouched")
}

func TestReadPreferences_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), PreferencesFile), []byte("{not json"), 0o644))
	_, err := s.ReadPreferences()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}

func TestLibraries(t *testing.T) {
	t.Run("should initialize an empty registry", func(t *testing.T) {
		s := newTestStore(t)
		libs, err := s.ReadLibraries()
		require.NoError(t, err)
		assert.Empty(t, libs.Python)
		assert.Empty(t, libs.Node)

		raw := readRaw(t, filepath.Join(s.Dir(), LibrariesFile))
		assert.Equal(t, []interface{}{}, raw["python"])
		assert.Equal(t, []interface{}{}, raw["node"])
	})

	t.Run("should upsert by name within a kind", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.WriteLibrary("python", "requests", "2.31.0")
		require.NoError(t, err)
		_, err = s.WriteLibrary("node", "requests", "0.1.0")
		require.NoError(t, err)
		libs, err := s.WriteLibrary("Python", "requests", "2.32.3")
		require.NoError(t, err)

		require.Len(t, libs.Python, 1)
		assert.Equal(t, Library{Name: "requests", Version: "2.32.3", InstalledAt: "2026-03-01T12:00:00Z"}, libs.Python[0])
		require.Len(t, libs.Node, 1)
		assert.Equal(t, "0.1.0", libs.Node[0].Version)

		reread, err := s.ReadLibraries()
		require.NoError(t, err)
		assert.Equal(t, libs, reread)
	})

	t.Run("should reject unknown kinds", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.WriteLibrary("ruby", "rails", "7")
		assert.ErrorIs(t, err, ErrUnknownLibraryKind)
	})

	t.Run("should reject an empty name", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.WriteLibrary("node", "  ", "1.0.0")
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})
}

func TestWriteLibrary_ConcurrentWritesKeepEveryRecord(t *testing.T) {
	s := newTestStore(t)
	names := []string{"numpy", "pandas", "scipy", "torch", "flask", "django"}

	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := s.WriteLibrary(KindPython, name, "1.0")
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	libs, err := s.ReadLibraries()
	require.NoError(t, err)
	assert.Len(t, libs.Python, len(names))
}

func TestWriteLibrary_Logs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := New(t.TempDir(), zap.New(core))
	require.NoError(t, err)

	_, err = s.WriteLibrary(KindNode, "express", "4.19.2")
	require.NoError(t, err)

	entries := logs.FilterMessage("Library recorded.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "store", entries[0].LoggerName)
	assert.Equal(t, "express", entries[0].ContextMap()["name"])
}
