package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// ManifestStore persists pipeline manifests keyed by id.
type ManifestStore interface {
	// Get retrieves one manifest. Returns storage.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.PipelineManifest, error)

	// GetAll lists every manifest, ordered by id.
	GetAll(ctx context.Context) ([]types.PipelineManifest, error)

	// Create stores a new manifest. Returns storage.ErrAlreadyExists when
	// the id is taken.
	Create(ctx context.Context, m *types.PipelineManifest) error

	// Update replaces an existing manifest wholesale. Returns
	// storage.ErrNotFound if absent.
	Update(ctx context.Context, m *types.PipelineManifest) error

	// Delete removes a manifest. Returns storage.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
}

// FileManifestStore keeps one JSON file per manifest under a directory.
// A mutex serialises writers; file renames make individual writes atomic.
type FileManifestStore struct {
	dir string
	mu  sync.Mutex
}

var _ ManifestStore = (*FileManifestStore)(nil)

// NewFileManifestStore creates the manifest directory if needed.
func NewFileManifestStore(dir string) (*FileManifestStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create manifest directory %s: %w", dir, err)
	}
	return &FileManifestStore{dir: dir}, nil
}

// path maps a manifest id to its file. Ids are sanitised into the file name
// so a hostile id cannot escape the manifest directory.
func (s *FileManifestStore) path(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileManifestStore) Get(_ context.Context, id string) (*types.PipelineManifest, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("manifest %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: read manifest %s: %w", id, err)
	}

	var m types.PipelineManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pipeline: parse manifest %s: %w", id, err)
	}
	return &m, nil
}

func (s *FileManifestStore) GetAll(ctx context.Context) ([]types.PipelineManifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list manifests: %w", err)
	}

	manifests := []types.PipelineManifest{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("pipeline: read manifest file %s: %w", entry.Name(), err)
		}
		var m types.PipelineManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("pipeline: parse manifest file %s: %w", entry.Name(), err)
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests, nil
}

func (s *FileManifestStore) Create(_ context.Context, m *types.PipelineManifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(m.ID)); err == nil {
		return fmt.Errorf("manifest %s: %w", m.ID, storage.ErrAlreadyExists)
	}
	return s.write(m)
}

func (s *FileManifestStore) Update(_ context.Context, m *types.PipelineManifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(m.ID)); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("manifest %s: %w", m.ID, storage.ErrNotFound)
	}
	return s.write(m)
}

func (s *FileManifestStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("manifest %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("pipeline: delete manifest %s: %w", id, err)
	}
	return nil
}

// write serialises the manifest to a temp file and renames it into place.
func (s *FileManifestStore) write(m *types.PipelineManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal manifest %s: %w", m.ID, err)
	}

	tmp := s.path(m.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: write manifest %s: %w", m.ID, err)
	}
	if err := os.Rename(tmp, s.path(m.ID)); err != nil {
		return fmt.Errorf("pipeline: commit manifest %s: %w", m.ID, err)
	}
	return nil
}
