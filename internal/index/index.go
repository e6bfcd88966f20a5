package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
)

const (
	// IndexSuffix is the suffix for generation directories
	IndexSuffix = ".bleve"

	// LockFilename is the name of the single-writer lock file
	LockFilename = "writer.lock"
)

// Index is a handle on an index directory. The directory holds a sequence of
// immutable Bleve generations; the manifest names the published one.
// A handle stays pinned to the generation it last observed until Refresh.
type Index struct {
	dir      string
	fresh    bool
	mu       sync.RWMutex
	manifest *Manifest
}

// Open opens the committed index at dir.
// Returns ErrIndexNotFound if no generation has been published.
func Open(dir string) (*Index, error) {
	manifest, err := loadPublished(dir)
	if err != nil {
		return nil, err
	}
	return &Index{dir: dir, manifest: manifest}, nil
}

// Create prepares a new, empty index at dir. Writers on the returned handle
// start from zero documents; the prior generation, if any, remains published
// until the writer commits.
func Create(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create index directory: %w", ErrIndex, err)
	}

	manifest, err := loadPublished(dir)
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		return nil, err
	}
	return &Index{dir: dir, fresh: true, manifest: manifest}, nil
}

// Ensure opens the index at dir, creating and committing an empty one if
// none exists yet.
func Ensure(ctx context.Context, dir string, lockTimeout time.Duration) (*Index, error) {
	idx, err := Open(dir)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, ErrIndexNotFound) {
		return nil, err
	}

	idx, err = Create(dir)
	if err != nil {
		return nil, err
	}
	w, err := idx.Writer(ctx, WriterOptions{LockTimeout: lockTimeout, Policy: "init"})
	if err != nil {
		return nil, err
	}
	if w.base != nil {
		// Another writer published while we waited for the lock
		if err := w.Close(); err != nil {
			return nil, err
		}
		return Open(dir)
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Exists reports whether a committed index exists at dir.
func Exists(dir string) bool {
	_, err := loadPublished(dir)
	return err == nil
}

// loadPublished reads the manifest and checks its generation is on disk
func loadPublished(dir string) (*Manifest, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filepath.Join(dir, manifest.Directory))
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: generation %s missing", ErrIndexNotFound, manifest.Directory)
	}
	return manifest, nil
}

// Dir returns the index directory.
func (i *Index) Dir() string {
	return i.dir
}

// Manifest returns a copy of the manifest this handle observes.
// The second result is false when nothing has been published yet.
func (i *Index) Manifest() (Manifest, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.manifest == nil {
		return Manifest{}, false
	}
	return *i.manifest, true
}

// Generation returns the generation this handle observes, or 0 if none.
func (i *Index) Generation() uint64 {
	m, _ := i.Manifest()
	return m.Generation
}

// Refresh re-reads the manifest so the handle observes the latest commit.
func (i *Index) Refresh() error {
	manifest, err := loadPublished(i.dir)
	if err != nil {
		return err
	}
	i.setManifest(manifest)
	return nil
}

func (i *Index) setManifest(m *Manifest) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.manifest = m
}

// Searcher opens a point-in-time, read-only view of the observed generation.
// The caller must Close it.
func (i *Index) Searcher() (*Searcher, error) {
	m, ok := i.Manifest()
	if !ok {
		return nil, ErrIndexNotFound
	}

	bi, err := openReadOnly(filepath.Join(i.dir, m.Directory))
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrIndexNotFound, err)
		}
		return nil, fmt.Errorf("%w: failed to open generation %d: %w", ErrIndex, m.Generation, err)
	}
	return &Searcher{index: bi, manifest: m}, nil
}

// WithSearcher runs fn with a searcher that is closed afterwards.
func (i *Index) WithSearcher(fn func(*Searcher) error) (err error) {
	s, err := i.Searcher()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// openReadOnly opens a generation without taking the writer's exclusive store lock
func openReadOnly(path string) (bleve.Index, error) {
	return bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
}
