package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sha1n/codegrok/internal/config"
	"github.com/sha1n/codegrok/internal/domain"
	"github.com/sha1n/codegrok/internal/index"
	"golang.org/x/sync/errgroup"
)

// ErrIngestion is returned when a reindex aborts before its commit.
// The previously published generation is left untouched.
var ErrIngestion = errors.New("ingestion failed")

// Options configures a Pipeline.
type Options struct {
	SourceRoot  string
	IndexDir    string
	Policy      string // config.PolicyFull or config.PolicyUpsert
	Workers     int
	BatchSize   int
	LockTimeout time.Duration
	Filter      *FileFilter
	Logger      *slog.Logger
}

// OptionsFromSettings builds pipeline options from the application settings.
func OptionsFromSettings(s *config.Settings) (Options, error) {
	filter, err := NewFileFilter(s.SourceRoot, s.Ingest.Exclude, s.Ingest.RespectGitignore, s.Ingest.MaxFileSize)
	if err != nil {
		return Options{}, err
	}
	return Options{
		SourceRoot:  s.SourceRoot,
		IndexDir:    s.IndexDir,
		Policy:      s.Ingest.Policy,
		Workers:     s.Ingest.Workers,
		BatchSize:   s.Ingest.BatchSize,
		LockTimeout: s.Ingest.LockTimeout,
		Filter:      filter,
	}, nil
}

// Stats summarizes one ingestion run.
type Stats struct {
	Seen        int           `json:"seen"`
	Indexed     int           `json:"indexed"`
	Unsupported int           `json:"unsupported"`
	Excluded    int           `json:"excluded"`
	Unreadable  int           `json:"unreadable"`
	Bytes       int64         `json:"bytes"`
	Generation  uint64        `json:"generation"`
	Duration    time.Duration `json:"duration"`
}

// Pipeline walks the source root and publishes one index generation per run.
type Pipeline struct {
	opts   Options
	logger *slog.Logger
}

// candidate is a file selected for ingestion
type candidate struct {
	path     string
	language string
}

// readResult is the outcome of reading one candidate
type readResult struct {
	content string
	size    int64
	err     error
}

// New creates a new ingestion pipeline.
func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyFull
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:   opts,
		logger: logger.With("component", "ingest"),
	}
}

// SourceRoot returns the directory this pipeline ingests.
func (p *Pipeline) SourceRoot() string {
	return p.opts.SourceRoot
}

// Run indexes every recognized file under the source root and commits once.
// Individual unreadable files are skipped; any failure before the commit
// aborts the run with ErrIngestion and publishes nothing.
func (p *Pipeline) Run(ctx context.Context) (stats Stats, err error) {
	start := time.Now()

	root, err := filepath.Abs(p.opts.SourceRoot)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	if li, lerr := os.Lstat(root); lerr == nil && li.Mode()&fs.ModeSymlink != 0 {
		// WalkDir does not descend through a symlinked root
		if resolved, rerr := filepath.EvalSymlinks(root); rerr == nil {
			root = resolved
		}
	}
	info, err := os.Stat(root)
	if err != nil {
		return stats, fmt.Errorf("%w: source root: %w", ErrIngestion, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("%w: source root %s is not a directory", ErrIngestion, root)
	}

	candidates, err := p.collect(ctx, root, &stats)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	idx, err := p.openIndex()
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	w, err := idx.Writer(ctx, index.WriterOptions{
		LockTimeout: p.opts.LockTimeout,
		BatchSize:   p.opts.BatchSize,
		Policy:      p.opts.Policy,
		Retain:      p.retainUnder(root),
		Logger:      p.logger,
	})
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := p.stage(ctx, w, candidates, &stats); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	// Commit runs to completion once started
	if err := w.Commit(); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	stats.Generation = w.Generation()
	stats.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"root", root,
		"indexed", stats.Indexed,
		"unsupported", stats.Unsupported,
		"excluded", stats.Excluded,
		"unreadable", stats.Unreadable,
		"generation", stats.Generation,
		"duration", stats.Duration)
	return stats, nil
}

// openIndex picks the index handle for the configured policy
func (p *Pipeline) openIndex() (*index.Index, error) {
	if p.opts.Policy == config.PolicyUpsert {
		idx, err := index.Open(p.opts.IndexDir)
		if err == nil {
			return idx, nil
		}
		if !errors.Is(err, index.ErrIndexNotFound) {
			return nil, err
		}
	}
	return index.Create(p.opts.IndexDir)
}

// retainUnder keeps carried documents unless they sit under root and are gone from disk
func (p *Pipeline) retainUnder(root string) func(string) bool {
	if p.opts.Policy != config.PolicyUpsert {
		return nil
	}
	prefix := root + string(filepath.Separator)
	return func(path string) bool {
		if !strings.HasPrefix(path, prefix) {
			return true
		}
		_, err := os.Stat(path)
		return err == nil
	}
}

// collect walks root in lexical order and returns the files to ingest
func (p *Pipeline) collect(ctx context.Context, root string, stats *Stats) ([]candidate, error) {
	var candidates []candidate

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			p.logger.Warn("Skipping unreadable path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			stats.Unreadable++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if path != root && p.opts.Filter.ShouldExclude(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !isRegularFile(path, d) {
			return nil
		}
		stats.Seen++

		lang, ok := domain.LanguageForPath(path)
		if !ok {
			stats.Unsupported++
			return nil
		}
		if p.opts.Filter.ShouldExclude(rel, false) {
			stats.Excluded++
			return nil
		}
		if p.opts.Filter.MaxFileSize() > 0 {
			fi, err := os.Stat(path)
			if err == nil && p.opts.Filter.TooLarge(fi.Size()) {
				stats.Excluded++
				return nil
			}
		}

		candidates = append(candidates, candidate{path: path, language: lang})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// isRegularFile admits regular files and symlinks that resolve to regular files
func isRegularFile(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// stage reads candidates in parallel chunks and adds them in walk order
func (p *Pipeline) stage(ctx context.Context, w *index.Writer, candidates []candidate, stats *Stats) error {
	chunkSize := p.opts.Workers * 4
	results := make([]readResult, chunkSize)

	for start := 0; start < len(candidates); start += chunkSize {
		end := min(start+chunkSize, len(candidates))
		chunk := candidates[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Workers)
		for i, c := range chunk {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = readFile(c.path)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, c := range chunk {
			r := results[i]
			results[i] = readResult{}
			if r.err != nil {
				p.logger.Warn("Skipping unreadable file", "path", c.path, "error", r.err)
				stats.Unreadable++
				continue
			}
			doc := domain.Document{Path: c.path, Content: r.content, Language: c.language}
			if err := w.Add(doc); err != nil {
				return err
			}
			stats.Indexed++
			stats.Bytes += r.size
		}
	}
	return ctx.Err()
}

// readFile reads a file and decodes it permissively as UTF-8
func readFile(path string) readResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return readResult{err: err}
	}
	return readResult{content: Decode(data), size: int64(len(data))}
}

// Decode converts raw bytes to text, dropping byte sequences that are not valid UTF-8.
func Decode(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}
