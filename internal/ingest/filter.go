package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// FileFilter decides which files under the source root are left out of ingestion.
// With no patterns, no .gitignore and no size limit it admits everything.
type FileFilter struct {
	patterns    []string
	gitIgnore   gitignore.GitIgnore
	maxFileSize int64
}

// NewFileFilter creates a filter from doublestar exclude patterns, matched
// against slash-separated paths relative to root. When respectGitignore is set,
// root/.gitignore is honored too. maxFileSize <= 0 means unlimited.
func NewFileFilter(root string, patterns []string, respectGitignore bool, maxFileSize int64) (*FileFilter, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	f := &FileFilter{
		patterns:    patterns,
		maxFileSize: maxFileSize,
	}
	if respectGitignore {
		gi, err := loadGitignore(root)
		if err != nil {
			return nil, err
		}
		f.gitIgnore = gi
	}
	return f, nil
}

// loadGitignore reads root/.gitignore; a missing file yields no matcher
func loadGitignore(root string) (gitignore.GitIgnore, error) {
	fh, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	defer func() { _ = fh.Close() }()

	return gitignore.New(fh, root, nil), nil
}

// ShouldExclude returns true if the path, relative to the source root, is excluded.
func (f *FileFilter) ShouldExclude(relPath string, isDir bool) bool {
	if f == nil {
		return false
	}
	relPath = filepath.ToSlash(relPath)

	for _, pattern := range f.patterns {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
	}

	if f.gitIgnore != nil {
		if match := f.gitIgnore.Relative(relPath, isDir); match != nil && match.Ignore() {
			return true
		}
	}
	return false
}

// TooLarge returns true if a file of the given size exceeds the configured limit.
func (f *FileFilter) TooLarge(size int64) bool {
	if f == nil || f.maxFileSize <= 0 {
		return false
	}
	return size > f.maxFileSize
}

// MaxFileSize returns the maximum file size for ingestion, 0 when unlimited.
func (f *FileFilter) MaxFileSize() int64 {
	if f == nil {
		return 0
	}
	return f.maxFileSize
}
