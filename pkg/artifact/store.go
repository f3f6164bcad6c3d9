// Package artifact persists the fitted transformer and the selected model
// as a pair. A manifest written after both blobs names the run they belong
// to, so readers never combine a transformer and a model from different runs.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mimir-aip/gemprice/pkg/features"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/mlmodel/training"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactMismatch = errors.New("artifact version mismatch")
)

// Envelope kinds
const (
	KindTransformer = "transformer"
	KindModel       = "model"
)

// envelope wraps every blob so it can be checked before decoding the payload
type envelope struct {
	Kind      string          `json:"kind"`
	Model     string          `json:"model,omitempty"`
	Version   string          `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Manifest names the run whose transformer and model are current
type Manifest struct {
	RunID           string    `json:"run_id"`
	BestModel       string    `json:"best_model"`
	R2              float64   `json:"r2"`
	TransformerFile string    `json:"transformer_file"`
	ModelFile       string    `json:"model_file"`
	CreatedAt       time.Time `json:"created_at"`
}

// Bundle is a loaded transformer and model pair
type Bundle struct {
	Manifest    Manifest
	Transformer *features.State
	Model       training.Regressor
}

// Store reads and writes artifacts under one directory.
//
// Blobs are named per run (preprocessor-<run>.json, model-<run>.json) and
// the manifest names the current pair, so writing a new pair never touches
// the one readers are using.
type Store struct {
	dir             string
	transformerFile string
	modelFile       string
	manifestFile    string

	mu sync.Mutex // serializes writers
}

// NewStore creates a store for the given directory and file names.
// transformerFile and modelFile are templates: the run ID is inserted
// before the extension.
func NewStore(dir, transformerFile, modelFile, manifestFile string) *Store {
	return &Store{
		dir:             dir,
		transformerFile: transformerFile,
		modelFile:       modelFile,
		manifestFile:    manifestFile,
	}
}

// Dir returns the artifact directory
func (s *Store) Dir() string { return s.dir }

// Path joins name onto the artifact directory
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// TransformerFile returns the transformer blob name for a run
func (s *Store) TransformerFile(runID string) string { return runFile(s.transformerFile, runID) }

// ModelFile returns the model blob name for a run
func (s *Store) ModelFile(runID string) string { return runFile(s.modelFile, runID) }

// ManifestPath returns the location of the manifest
func (s *Store) ManifestPath() string { return s.Path(s.manifestFile) }

func runFile(template, runID string) string {
	ext := filepath.Ext(template)
	return strings.TrimSuffix(template, ext) + "-" + runID + ext
}

// Save writes the transformer, then the model, then swaps the manifest to
// name them. Until the manifest is replaced the previous pair stays
// untouched and loadable; on failure the partial new pair is removed. After
// the swap, pairs older than the previous one are pruned.
func (s *Store) Save(runID string, state *features.State, model training.Regressor, r2 float64) (*Manifest, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}
	if state.Version != runID {
		return nil, fmt.Errorf("%w: transformer version %q, run %q", ErrArtifactMismatch, state.Version, runID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, _ := s.LoadManifest()

	m := Manifest{
		RunID:           runID,
		BestModel:       model.Name(),
		R2:              r2,
		TransformerFile: s.TransformerFile(runID),
		ModelFile:       s.ModelFile(runID),
		CreatedAt:       time.Now().UTC(),
	}
	err := s.SaveTransformer(state)
	if err == nil {
		err = s.SaveModel(runID, model)
	}
	if err == nil {
		err = s.SaveManifest(m)
	}
	if err != nil {
		if previous == nil || previous.RunID != runID {
			os.Remove(s.Path(m.TransformerFile))
			os.Remove(s.Path(m.ModelFile))
		}
		return nil, err
	}

	keep := map[string]bool{m.TransformerFile: true, m.ModelFile: true}
	if previous != nil {
		keep[previous.TransformerFile] = true
		keep[previous.ModelFile] = true
	}
	s.prune(keep)
	return &m, nil
}

// prune removes run blobs not in keep. Readers holding the previous
// manifest may still be loading its pair, so callers keep that one too.
func (s *Store) prune(keep map[string]bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logging.Warn().Err(err).Str("dir", s.dir).Msg("Failed to list artifacts for pruning")
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] || !(s.isRunFile(s.transformerFile, name) || s.isRunFile(s.modelFile, name)) {
			continue
		}
		if err := os.Remove(s.Path(name)); err != nil {
			logging.Warn().Err(err).Str("file", name).Msg("Failed to prune artifact")
		}
	}
}

func (s *Store) isRunFile(template, name string) bool {
	ext := filepath.Ext(template)
	prefix := strings.TrimSuffix(template, ext) + "-"
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) && len(name) > len(prefix)+len(ext)
}

// checkRunID rejects IDs that cannot be embedded in a file name
func checkRunID(runID string) error {
	if runID == "" || runID != filepath.Base(runID) || strings.ContainsAny(runID, `/\`) || strings.HasPrefix(runID, ".") {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// SaveTransformer writes a fitted transformer state under its version
func (s *Store) SaveTransformer(state *features.State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save transformer: %w", err)
	}
	if err := checkRunID(state.Version); err != nil {
		return err
	}
	return s.writeEnvelope(s.Path(s.TransformerFile(state.Version)), KindTransformer, "", state.Version, state)
}

// LoadTransformer reads the transformer blob with the given file name
func (s *Store) LoadTransformer(file string) (*features.State, error) {
	path, err := s.blobPath(file)
	if err != nil {
		return nil, err
	}
	env, err := s.readEnvelope(path, KindTransformer)
	if err != nil {
		return nil, err
	}
	var state features.State
	if err := json.Unmarshal(env.Payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode transformer: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transformer in %s: %w", path, err)
	}
	state.Prepare()
	return &state, nil
}

// SaveModel writes a fitted regressor tagged with the run that produced it
func (s *Store) SaveModel(version string, model training.Regressor) error {
	if err := checkRunID(version); err != nil {
		return err
	}
	return s.writeEnvelope(s.Path(s.ModelFile(version)), KindModel, model.Name(), version, model)
}

// LoadModel reads the model blob with the given file name and returns it
// with its version
func (s *Store) LoadModel(file string) (training.Regressor, string, error) {
	path, err := s.blobPath(file)
	if err != nil {
		return nil, "", err
	}
	env, err := s.readEnvelope(path, KindModel)
	if err != nil {
		return nil, "", err
	}
	model, err := training.NewTrainerFactory(training.DefaultParams()).GetTrainer(env.Model)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode model: %w", err)
	}
	if err := json.Unmarshal(env.Payload, model); err != nil {
		return nil, "", fmt.Errorf("failed to decode %s model: %w", env.Model, err)
	}
	return model, env.Version, nil
}

// blobPath resolves a manifest file name, which must stay inside the directory
func (s *Store) blobPath(file string) (string, error) {
	if file == "" || file != filepath.Base(file) || file == "." || file == ".." {
		return "", fmt.Errorf("invalid artifact file name %q", file)
	}
	return s.Path(file), nil
}

// SaveManifest writes the manifest
func (s *Store) SaveManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return writeAtomic(s.ManifestPath(), data)
}

// LoadManifest reads the manifest
func (s *Store) LoadManifest() (*Manifest, error) {
	data, err := readFile(s.ManifestPath())
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.RunID == "" {
		return nil, fmt.Errorf("manifest %s has no run id", s.ManifestPath())
	}
	return &m, nil
}

// LoadBundle loads the manifest and the pair it names, checking that both
// blobs carry the manifest's run ID.
func (s *Store) LoadBundle() (*Bundle, error) {
	m, err := s.LoadManifest()
	if err != nil {
		return nil, err
	}
	state, err := s.LoadTransformer(m.TransformerFile)
	if err != nil {
		return nil, err
	}
	model, version, err := s.LoadModel(m.ModelFile)
	if err != nil {
		return nil, err
	}
	if state.Version != m.RunID || version != m.RunID {
		return nil, fmt.Errorf("%w: manifest %q, transformer %q, model %q",
			ErrArtifactMismatch, m.RunID, state.Version, version)
	}
	return &Bundle{Manifest: *m, Transformer: state, Model: model}, nil
}

func (s *Store) writeEnvelope(path, kind, model, version string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	data, err := json.Marshal(envelope{
		Kind:      kind,
		Model:     model,
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", kind, err)
	}
	return writeAtomic(path, data)
}

func (s *Store) readEnvelope(path, kind string) (*envelope, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%s holds a %q artifact, expected %q", path, env.Kind, kind)
	}
	return &env, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// writeAtomic replaces path so readers see either the old or the new content
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
