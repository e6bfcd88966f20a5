// Package codegrok wires indexing, search, cross-referencing and scaffolding
// into the single service the transports call.
package codegrok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sha1n/codegrok/internal/config"
	"github.com/sha1n/codegrok/internal/crossref"
	"github.com/sha1n/codegrok/internal/index"
	"github.com/sha1n/codegrok/internal/ingest"
	"github.com/sha1n/codegrok/internal/metrics"
	"github.com/sha1n/codegrok/internal/query"
	"github.com/sha1n/codegrok/internal/scaffold"
	"github.com/sha1n/codegrok/internal/watcher"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidRequest is returned for requests missing a required value.
var ErrInvalidRequest = errors.New("invalid request")

// Status describes the published index.
type Status struct {
	Generation    uint64    `json:"generation"`
	DocumentCount uint64    `json:"document_count"`
	CommittedAt   time.Time `json:"committed_at"`
	Policy        string    `json:"policy"`
	SourceRoot    string    `json:"source_root"`
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithExecutor sets the command executor used to run the tagger.
func WithExecutor(e crossref.CommandExecutor) Option {
	return func(s *Service) {
		s.executor = e
	}
}

// Service coordinates ingestion, search, cross-referencing and scaffolding.
type Service struct {
	settings  *config.Settings
	engine    *query.Engine
	resolver  *crossref.Resolver
	generator *scaffold.Generator
	executor  crossref.CommandExecutor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	reindexes singleflight.Group

	// lifetime bounds shared reindex runs; set by Start
	lifetime context.Context
}

// NewService creates the service from validated settings.
func NewService(settings *config.Settings, opts ...Option) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	s := &Service{settings: settings}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	// Fail early on bad exclude patterns
	if _, err := ingest.OptionsFromSettings(settings); err != nil {
		return nil, err
	}

	engineOpts := query.OptionsFromSettings(settings)
	engineOpts.Logger = s.logger
	engineOpts.Metrics = s.metrics
	engine, err := query.NewEngine(engineOpts)
	if err != nil {
		return nil, err
	}

	generator, err := scaffold.NewGenerator(settings.SourceRoot, s.logger)
	if err != nil {
		return nil, err
	}

	s.engine = engine
	s.generator = generator
	s.resolver = crossref.NewResolver(crossref.Options{
		CtagsPath:  settings.CtagsPath,
		SourceRoot: settings.SourceRoot,
		Timeout:    settings.CrossRef.Timeout,
		Executor:   s.executor,
		Logger:     s.logger,
	})
	return s, nil
}

// Settings returns the settings the service was built from.
func (s *Service) Settings() *config.Settings {
	return s.settings
}

// Metrics returns the metrics collectors, which may be nil.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Start makes sure an index exists so searches succeed before the first reindex.
// ctx bounds the service lifetime: cancelling it stops any running reindex.
// Start must be called before the service is used concurrently.
func (s *Service) Start(ctx context.Context) error {
	s.lifetime = ctx
	idx, err := index.Ensure(ctx, s.settings.IndexDir, s.settings.Ingest.LockTimeout)
	if err != nil {
		return fmt.Errorf("failed to prepare index: %w", err)
	}
	if m, ok := idx.Manifest(); ok {
		s.metrics.SetIndexState(m.Generation, m.DocumentCount)
		s.logger.InfoContext(ctx, "Index ready",
			"dir", s.settings.IndexDir,
			"generation", m.Generation,
			"documents", m.DocumentCount)
	}
	return nil
}

// Search runs a query against the published index.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]query.Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	return s.engine.Search(ctx, q, limit)
}

// Reindex rebuilds the index from the source root. Calls made while a rebuild
// is running wait for it and share its result. The rebuild is not tied to any
// one caller: a caller whose ctx ends stops waiting, the rebuild carries on.
func (s *Service) Reindex(ctx context.Context) (ingest.Stats, error) {
	runCtx := s.lifetime
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}

	ch := s.reindexes.DoChan("reindex", func() (any, error) {
		return s.reindex(runCtx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.logger.DebugContext(ctx, "Joined running reindex")
		}
		stats, _ := res.Val.(ingest.Stats)
		return stats, res.Err
	case <-ctx.Done():
		return ingest.Stats{}, ctx.Err()
	}
}

func (s *Service) reindex(ctx context.Context) (ingest.Stats, error) {
	start := time.Now()

	// Built per run so that .gitignore edits take effect
	opts, err := ingest.OptionsFromSettings(s.settings)
	if err != nil {
		s.metrics.ObserveIngest(metrics.OutcomeError, 0, time.Since(start))
		return ingest.Stats{}, fmt.Errorf("%w: %w", ingest.ErrIngestion, err)
	}
	opts.Logger = s.logger

	stats, err := ingest.New(opts).Run(ctx)
	if err != nil {
		s.metrics.ObserveIngest(metrics.OutcomeError, 0, time.Since(start))
		return stats, err
	}

	s.metrics.ObserveIngest(metrics.OutcomeOK, stats.Indexed, stats.Duration)
	s.engine.PurgeCache()
	if idx, err := index.Open(s.settings.IndexDir); err == nil {
		if m, ok := idx.Manifest(); ok {
			s.metrics.SetIndexState(m.Generation, m.DocumentCount)
		}
	}
	return stats, nil
}

// CrossRef returns the tagger lines that mention symbol.
func (s *Service) CrossRef(ctx context.Context, symbol string) ([]string, error) {
	refs, err := s.resolver.Lookup(ctx, symbol)
	switch {
	case errors.Is(err, crossref.ErrEmptySymbol):
		s.metrics.ObserveCrossRef(metrics.OutcomeInvalid)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case err != nil:
		s.metrics.ObserveCrossRef(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.ObserveCrossRef(metrics.OutcomeOK)
	return refs, nil
}

// Generate scaffolds a project under the source root and returns its directory.
func (s *Service) Generate(ctx context.Context, projectType, name string) (string, error) {
	if strings.TrimSpace(projectType) == "" {
		s.metrics.ObserveGenerate("", metrics.OutcomeInvalid)
		return "", fmt.Errorf("%w: project_type must not be empty", ErrInvalidRequest)
	}

	dir, err := s.generator.Generate(ctx, projectType, name)
	switch {
	case errors.Is(err, scaffold.ErrUnsupportedTemplate):
		// Unknown names are not used as label values
		s.metrics.ObserveGenerate("unknown", metrics.OutcomeInvalid)
		return "", err
	case errors.Is(err, scaffold.ErrInvalidPath):
		s.metrics.ObserveGenerate(projectType, metrics.OutcomeInvalid)
		return "", err
	case err != nil:
		s.metrics.ObserveGenerate(projectType, metrics.OutcomeError)
		return "", err
	}
	s.metrics.ObserveGenerate(projectType, metrics.OutcomeOK)
	return dir, nil
}

// Templates returns the available project templates.
func (s *Service) Templates() []string {
	return s.generator.Templates()
}

// Status describes the published index.
func (s *Service) Status(ctx context.Context) (Status, error) {
	idx, err := index.Open(s.settings.IndexDir)
	if err != nil {
		return Status{}, err
	}
	m, ok := idx.Manifest()
	if !ok {
		return Status{}, index.ErrIndexNotFound
	}
	return Status{
		Generation:    m.Generation,
		DocumentCount: m.DocumentCount,
		CommittedAt:   m.CommittedAt,
		Policy:        m.Policy,
		SourceRoot:    s.settings.SourceRoot,
	}, nil
}

// Watch rebuilds the index whenever source files change, until ctx is done.
// It returns immediately when watching is disabled.
func (s *Service) Watch(ctx context.Context) error {
	if !s.settings.Ingest.Watch {
		return nil
	}

	opts, err := ingest.OptionsFromSettings(s.settings)
	if err != nil {
		return err
	}
	w, err := watcher.New(watcher.Options{
		Root:       s.settings.SourceRoot,
		Debounce:   s.settings.Ingest.WatchDebounce,
		Filter:     opts.Filter,
		IgnoreDirs: []string{s.settings.IndexDir},
		Logger:     s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	return w.Run(ctx, func(ctx context.Context, batch []watcher.Event) {
		s.metrics.WatchTriggered()
		s.logger.InfoContext(ctx, "Source changed, reindexing", "changes", len(batch))
		if _, err := s.Reindex(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Reindex after change failed", "error", err)
		}
	})
}
