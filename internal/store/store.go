package store

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	PreferencesFile = "preferences.json"
	LibrariesFile   = "libraries.json"
)

// Library ecosystems accepted by WriteLibrary.
const (
	KindPython = "python"
	KindNode   = "node"
)

//go:embed preferences.schema.json
var preferencesSchema string

//go:embed libraries.schema.json
var librariesSchema string

var (
	// ErrInvalidDocument is returned when a write would produce a document
	// that fails its schema.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrUnknownLibraryKind is returned for an ecosystem other than python or node.
	ErrUnknownLibraryKind = errors.New("unknown library kind")
)

// Library is one installed package record.
type Library struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	InstalledAt string `json:"installedAt"`
}

// Libraries is the installed-package registry.
type Libraries struct {
	Python []Library `json:"python"`
	Node   []Library `json:"node"`
}

func (l *Libraries) normalize() {
	if l.Python == nil {
		l.Python = []Library{}
	}
	if l.Node == nil {
		l.Node = []Library{}
	}
}

// DefaultPreferences returns the document written on first access.
func DefaultPreferences() map[string]interface{} {
	return map[string]interface{}{
		"defaultAppPreference": map[string]interface{}{
			"music":   "",
			"browser": "",
			"editor":  "",
		},
		"fileLocations": map[string]interface{}{
			"downloads": "",
			"documents": "",
		},
		"proceedWithoutConfirmation": false,
	}
}

// Store persists the preferences and libraries documents as two JSON files in
// a data directory. Every write replaces the whole file.
type Store struct {
	dir string
	log *zap.Logger
	now func() time.Time

	mu sync.Mutex
}

// New creates the data directory if needed and returns a store rooted there.
func New(dataDir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("store: data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &Store{
		dir: dataDir,
		log: logger.Named("store"),
		now: time.Now,
	}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// ReadPreferences returns the preferences document, writing the defaults
// first when the file does not exist.
func (s *Store) ReadPreferences() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPreferences()
}

// WritePreferences merges updates shallowly into the document: each
// top-level key given replaces the stored value wholesale. The merged
// document is returned.
func (s *Store) WritePreferences(updates map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadPreferences()
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		doc[k] = v
	}
	if err := validate(preferencesSchema, doc); err != nil {
		return nil, err
	}
	if err := s.writeFile(PreferencesFile, doc); err != nil {
		return nil, err
	}
	s.log.Info("Preferences updated.", zap.Int("keys", len(updates)))
	return doc, nil
}

// ReadLibraries returns the registry, writing an empty one first when the
// file does not exist.
func (s *Store) ReadLibraries() (*Libraries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLibraries()
}

// WriteLibrary upserts a record by name into the python or node list and
// stamps it with the current time.
func (s *Store) WriteLibrary(kind, name, version string) (*Libraries, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != KindPython && kind != KindNode {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLibraryKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	libs, err := s.loadLibraries()
	if err != nil {
		return nil, err
	}
	rec := Library{
		Name:        strings.TrimSpace(name),
		Version:     strings.TrimSpace(version),
		InstalledAt: s.now().UTC().Format(time.RFC3339),
	}

	list := &libs.Python
	if kind == KindNode {
		list = &libs.Node
	}
	replaced := false
	for i := range *list {
		if (*list)[i].Name == rec.Name {
			(*list)[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		*list = append(*list, rec)
	}

	if err := validate(librariesSchema, libs); err != nil {
		return nil, err
	}
	if err := s.writeFile(LibrariesFile, libs); err != nil {
		return nil, err
	}
	s.log.Info("Library recorded.",
		zap.String("kind", kind),
		zap.String("name", rec.Name),
		zap.String("version", rec.Version),
		zap.Bool("replaced", replaced))
	return libs, nil
}

func (s *Store) loadPreferences() (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	found, err := s.readFile(PreferencesFile, &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		doc = DefaultPreferences()
		if err := s.writeFile(PreferencesFile, doc); err != nil {
			return nil, err
		}
		s.log.Debug("Initialized default preferences.", zap.String("dir", s.dir))
	}
	return doc, nil
}

func (s *Store) loadLibraries() (*Libraries, error) {
	libs := &Libraries{}
	found, err := s.readFile(LibrariesFile, libs)
	if err != nil {
		return nil, err
	}
	libs.normalize()
	if !found {
		if err := s.writeFile(LibrariesFile, libs); err != nil {
			return nil, err
		}
		s.log.Debug("Initialized empty library registry.", zap.String("dir", s.dir))
	}
	return libs, nil
}

func (s *Store) readFile(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

// writeFile writes v to a temp file and renames it over the target.
func (s *Store) writeFile(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func validate(schema string, doc interface{}) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate document schema: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(errs, "; "))
}
