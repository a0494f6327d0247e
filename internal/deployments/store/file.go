// Package store persists deployment manifests as JSON files, one file per
// network and artifact:
//
//	<root>/<network>/<source path>%3A<Contract>.json
//
// Path separators and colons in the artifact id are percent-escaped, and
// so is "%" itself, so distinct ids never share a file.
//
// Manifests replaced by a forced redeployment are moved to
// <root>/<network>/history/.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/validation"
)

const historyDir = "history"

var fileNameReplacer = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C", ":", "%3A")

// FileStore implements domain.Store on the local filesystem.
type FileStore struct {
	root string
	// mu serializes writers within a process; the rename keeps readers in
	// other processes from observing partial files.
	mu sync.Mutex
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating manifest directory: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the manifest directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the manifest file for network and id.
func (s *FileStore) Path(network string, id chains.ArtifactID) string {
	return filepath.Join(s.root, network, fileName(id))
}

func fileName(id chains.ArtifactID) string {
	return fileNameReplacer.Replace(id.String()) + ".json"
}

// Get reads the manifest for network and id.
func (s *FileStore) Get(ctx context.Context, network string, id chains.ArtifactID) (*domain.Manifest, error) {
	if err := validation.ValidateNetworkName(network); err != nil {
		return nil, err
	}
	var m domain.Manifest
	if err := readJSONFile(s.Path(network, id), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Save writes the manifest atomically. A manifest with a new ID replaces
// the previous one, which is archived under history/.
func (s *FileStore) Save(ctx context.Context, m *domain.Manifest) error {
	if err := validation.ValidateNetworkName(m.Network); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(m.Network, m.Artifact)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating network directory: %w", err)
	}

	var prev domain.Manifest
	err := readJSONFile(path, &prev)
	switch {
	case err == nil && prev.ID != "" && prev.ID != m.ID:
		if err := s.archive(path, &prev); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}

	return writeJSONFile(path, m)
}

func (s *FileStore) archive(path string, prev *domain.Manifest) error {
	dir := filepath.Join(filepath.Dir(path), historyDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".json") + "." + prev.ID + ".json"
	if err := os.Rename(path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("archiving manifest %s: %w", prev.ID, err)
	}
	return nil
}

// History returns the archived manifests for network and id, oldest first.
func (s *FileStore) History(ctx context.Context, network string, id chains.ArtifactID) ([]domain.Manifest, error) {
	prefix := strings.TrimSuffix(fileName(id), ".json") + "."
	entries, err := os.ReadDir(filepath.Join(s.root, network, historyDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var out []domain.Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		var m domain.Manifest
		if err := readJSONFile(filepath.Join(s.root, network, historyDir, e.Name()), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// List returns the current manifests matching filter, ordered by network
// and artifact.
func (s *FileStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.Manifest, error) {
	networks, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading manifest directory: %w", err)
	}

	var out []domain.Manifest
	for _, n := range networks {
		if !n.IsDir() || (filter.Network != "" && n.Name() != filter.Network) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, n.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading network directory: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			var m domain.Manifest
			if err := readJSONFile(filepath.Join(s.root, n.Name(), f.Name()), &m); err != nil {
				return nil, err
			}
			if filter.Status != "" && m.Status != filter.Status {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Artifact.String() < out[j].Artifact.String()
	})
	return out, nil
}

func readJSONFile(path string, data any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(data); err != nil {
		return fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return nil
}

// writeJSONFile writes through a temporary file and renames it over path.
func writeJSONFile(path string, data any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to open manifest for writing: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
