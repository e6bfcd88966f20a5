package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/sha1n/codegrok/internal/domain"
)

const (
	// DefaultBatchSize is the default number of documents per staging batch
	DefaultBatchSize = 100

	// MaxBatchBytes is the maximum content bytes per staging batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024

	// carryPageSize is the page size used when copying documents forward
	carryPageSize = 500
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// LockTimeout bounds the wait for the writer lock; zero means a single attempt.
	LockTimeout time.Duration

	// BatchSize is the number of staged documents flushed per batch.
	BatchSize int

	// Policy is recorded in the published manifest.
	Policy string

	// Retain filters documents carried forward from the previous generation.
	// Only consulted for handles returned by Open. Nil keeps everything.
	Retain func(path string) bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Writer stages documents into a new generation and publishes it on Commit.
// At most one Writer exists per index directory at a time, across processes.
type Writer struct {
	idx    *Index
	lock   *FileLock
	base   *Manifest
	carry  bool
	retain func(string) bool
	policy string
	logger *slog.Logger

	gen        uint64
	stagingDir string
	staging    bleve.Index
	batch      *bleve.Batch
	batchDocs  int
	batchBytes int
	maxBatch   int
	staged     map[string]struct{}
	done       bool
}

// Writer acquires the single writer for the index directory and opens a
// staging generation. Returns ErrWriterBusy if the lock cannot be acquired.
func (i *Index) Writer(ctx context.Context, opts WriterOptions) (*Writer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if err := os.MkdirAll(i.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create index directory: %w", ErrIndex, err)
	}

	lock := NewFileLock(filepath.Join(i.dir, LockFilename))
	if err := acquire(ctx, lock, opts.LockTimeout); err != nil {
		return nil, err
	}

	w := &Writer{
		idx:      i,
		lock:     lock,
		retain:   opts.Retain,
		policy:   opts.Policy,
		logger:   logger.With("component", "index_writer"),
		maxBatch: opts.BatchSize,
		staged:   make(map[string]struct{}),
	}

	// The published manifest may have moved while we waited for the lock
	base, err := loadPublished(i.dir)
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		_ = lock.Unlock()
		return nil, err
	}
	w.base = base
	w.carry = !i.fresh && base != nil

	var baseGen uint64
	if base != nil {
		baseGen = base.Generation
	}
	w.removeAbandoned(baseGen)

	w.gen = baseGen + 1
	w.stagingDir = filepath.Join(i.dir, generationDir(w.gen))
	staging, err := bleve.New(w.stagingDir, NewMapping())
	if err != nil {
		_ = os.RemoveAll(w.stagingDir)
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: failed to create staging generation: %w", ErrIndex, err)
	}
	w.staging = staging
	w.batch = staging.NewBatch()

	w.logger.Debug("Writer acquired", "generation", w.gen, "carry_forward", w.carry)
	return w, nil
}

// acquire takes the writer lock, waiting up to timeout
func acquire(ctx context.Context, lock *FileLock, timeout time.Duration) error {
	if timeout <= 0 {
		acquired, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIndex, err)
		}
		if !acquired {
			return ErrWriterBusy
		}
		return nil
	}

	err := lock.LockWithContext(ctx, timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLockTimeout):
		return fmt.Errorf("%w: waited %s", ErrWriterBusy, timeout)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrWriterBusy, err)
	default:
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
}

// removeAbandoned deletes generations newer than the published one, left
// behind by a writer that never committed
func (w *Writer) removeAbandoned(published uint64) {
	gens, err := listGenerations(w.idx.dir)
	if err != nil {
		w.logger.Warn("Failed to list generations", "error", err)
		return
	}
	for _, gen := range gens {
		if gen <= published {
			continue
		}
		w.logger.Info("Removing abandoned generation", "generation", gen)
		if err := os.RemoveAll(filepath.Join(w.idx.dir, generationDir(gen))); err != nil {
			w.logger.Warn("Failed to remove abandoned generation", "generation", gen, "error", err)
		}
	}
}

// Generation returns the generation this writer will publish.
func (w *Writer) Generation() uint64 {
	return w.gen
}

// Add stages a document. Staged documents are invisible to readers until
// Commit. A later document with the same path replaces an earlier one.
func (w *Writer) Add(doc domain.Document) error {
	if w.done {
		return ErrWriterClosed
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document %q: %w", doc.Path, err)
	}
	return w.add(doc)
}

func (w *Writer) add(doc domain.Document) error {
	if err := w.batch.Index(doc.Path, doc); err != nil {
		return fmt.Errorf("%w: failed to stage %s: %w", ErrIndex, doc.Path, err)
	}
	w.staged[doc.Path] = struct{}{}
	w.batchDocs++
	w.batchBytes += len(doc.Content)

	if w.batchDocs >= w.maxBatch || w.batchBytes >= MaxBatchBytes {
		return w.flush()
	}
	return nil
}

// flush writes the pending batch into the staging generation
func (w *Writer) flush() error {
	if w.batchDocs == 0 {
		return nil
	}
	if err := w.staging.Batch(w.batch); err != nil {
		return fmt.Errorf("%w: batch index failed: %w", ErrIndex, err)
	}
	w.batch = w.staging.NewBatch()
	w.batchDocs = 0
	w.batchBytes = 0
	return nil
}

// Staged returns the number of distinct paths staged so far.
func (w *Writer) Staged() int {
	return len(w.staged)
}

// Commit publishes the staged generation and releases the writer.
// On failure the previously published generation stays in place.
func (w *Writer) Commit() error {
	if w.done {
		return ErrWriterClosed
	}

	manifest, err := w.publish()
	if err != nil {
		w.abort()
		return err
	}

	w.idx.setManifest(manifest)
	w.pruneOlderThanBase()
	w.done = true
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("Failed to release writer lock", "error", err)
	}

	w.logger.Info("Index generation committed",
		"generation", manifest.Generation,
		"documents", manifest.DocumentCount,
		"policy", manifest.Policy)
	return nil
}

func (w *Writer) publish() (*Manifest, error) {
	if err := w.flush(); err != nil {
		return nil, err
	}
	if w.carry {
		if err := w.carryForward(); err != nil {
			return nil, err
		}
	}

	count, err := w.staging.DocCount()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count documents: %w", ErrIndex, err)
	}
	if err := w.staging.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to close staging generation: %w", ErrIndex, err)
	}
	w.staging = nil

	manifest := &Manifest{
		Version:       ManifestVersion,
		Generation:    w.gen,
		Directory:     generationDir(w.gen),
		DocumentCount: count,
		CommittedAt:   time.Now().UTC(),
		Policy:        w.policy,
	}
	if err := manifest.Save(w.idx.dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	return manifest, nil
}

// carryForward copies documents of the base generation that this writer did
// not restage
func (w *Writer) carryForward() error {
	prev, err := openReadOnly(filepath.Join(w.idx.dir, w.base.Directory))
	if err != nil {
		return fmt.Errorf("%w: failed to open generation %d: %w", ErrIndex, w.base.Generation, err)
	}
	defer func() { _ = prev.Close() }()

	var after []string
	carried := 0
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), carryPageSize, 0, false)
		req.Fields = []string{domain.FieldContent, domain.FieldLanguage}
		req.SortBy([]string{"_id"})
		if after != nil {
			req.SearchAfter = after
		}

		res, err := prev.Search(req)
		if err != nil {
			return fmt.Errorf("%w: failed to read generation %d: %w", ErrIndex, w.base.Generation, err)
		}

		for _, hit := range res.Hits {
			if _, ok := w.staged[hit.ID]; ok {
				continue
			}
			if w.retain != nil && !w.retain(hit.ID) {
				continue
			}
			doc := documentFromFields(hit.ID, hit.Fields)
			if doc.Validate() != nil {
				continue
			}
			if err := w.add(doc); err != nil {
				return err
			}
			carried++
		}

		if len(res.Hits) < carryPageSize {
			break
		}
		after = res.Hits[len(res.Hits)-1].Sort
	}

	w.logger.Debug("Carried documents forward", "count", carried, "from_generation", w.base.Generation)
	return w.flush()
}

// pruneOlderThanBase removes generations older than the one just replaced.
// The replaced generation stays so readers that opened it can finish.
func (w *Writer) pruneOlderThanBase() {
	if w.base == nil {
		return
	}
	gens, err := listGenerations(w.idx.dir)
	if err != nil {
		w.logger.Warn("Failed to list generations", "error", err)
		return
	}
	for _, gen := range gens {
		if gen >= w.base.Generation {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.idx.dir, generationDir(gen))); err != nil {
			w.logger.Warn("Failed to prune generation", "generation", gen, "error", err)
		}
	}
}

// Close discards an uncommitted writer's staging generation and releases
// the lock. It is a no-op after Commit.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.abort()
	return nil
}

func (w *Writer) abort() {
	if w.staging != nil {
		if err := w.staging.Close(); err != nil {
			w.logger.Warn("Failed to close staging generation", "error", err)
		}
		w.staging = nil
	}
	if err := os.RemoveAll(w.stagingDir); err != nil {
		w.logger.Warn("Failed to remove staging generation", "generation", w.gen, "error", err)
	}
	w.done = true
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("Failed to release writer lock", "error", err)
	}
}

// documentFromFields rebuilds a document from stored hit fields
func documentFromFields(path string, fields map[string]interface{}) domain.Document {
	doc := domain.Document{Path: path}
	if v, ok := fields[domain.FieldContent].(string); ok {
		doc.Content = v
	}
	if v, ok := fields[domain.FieldLanguage].(string); ok {
		doc.Language = v
	}
	return doc
}
