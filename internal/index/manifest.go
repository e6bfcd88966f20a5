package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename names the file that points at the published generation
	ManifestFilename = "CURRENT"
)

// Manifest records the published generation of an index directory.
type Manifest struct {
	Version       int       `json:"version"`
	Generation    uint64    `json:"generation"`
	Directory     string    `json:"directory"`
	DocumentCount uint64    `json:"document_count"`
	CommittedAt   time.Time `json:"committed_at"`
	Policy        string    `json:"policy,omitempty"`
}

// LoadManifest reads the manifest from an index directory.
// A missing or unreadable manifest means there is no committed index.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("%w: failed to read manifest: %w", ErrIndex, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: corrupt manifest: %w", ErrIndexNotFound, err)
	}
	if manifest.Directory == "" || filepath.Base(manifest.Directory) != manifest.Directory {
		return nil, fmt.Errorf("%w: manifest names invalid directory %q", ErrIndexNotFound, manifest.Directory)
	}

	return &manifest, nil
}

// Save writes the manifest into dir atomically.
// Uses write-to-temp + rename so readers never observe a partial manifest.
func (m *Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	path := filepath.Join(dir, ManifestFilename)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}

	return nil
}

// generationDir returns the directory name for a generation number
func generationDir(gen uint64) string {
	return fmt.Sprintf("gen-%06d%s", gen, IndexSuffix)
}

// parseGenerationDir extracts the generation number from a directory name
func parseGenerationDir(name string) (uint64, bool) {
	var gen uint64
	if _, err := fmt.Sscanf(name, "gen-%d"+IndexSuffix, &gen); err != nil {
		return 0, false
	}
	if generationDir(gen) != name {
		return 0, false
	}
	return gen, true
}

// listGenerations returns the generation numbers present in dir
func listGenerations(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var gens []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if gen, ok := parseGenerationDir(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	return gens, nil
}
