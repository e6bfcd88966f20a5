package query

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	ansihl "github.com/blevesearch/bleve/v2/search/highlight/highlighter/ansi"
	htmlhl "github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sha1n/codegrok/internal/config"
	"github.com/sha1n/codegrok/internal/domain"
	"github.com/sha1n/codegrok/internal/index"
	"github.com/sha1n/codegrok/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// FragmentSeparator joins highlighted fragments within one snippet.
const FragmentSeparator = " … "

// Result is a single search hit.
type Result struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Snippet  string `json:"snippet"`
}

// Options configures an Engine.
type Options struct {
	IndexDir      string
	DefaultLimit  int
	MaxLimit      int
	CacheSize     int
	SnippetStyle  string
	FallbackChars int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// OptionsFromSettings builds engine options from the application settings.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		IndexDir:      s.IndexDir,
		DefaultLimit:  s.Search.DefaultLimit,
		MaxLimit:      s.Search.MaxLimit,
		CacheSize:     s.Search.CacheSize,
		SnippetStyle:  s.Search.SnippetStyle,
		FallbackChars: s.Search.SnippetFallbackChars,
	}
}

// cacheKey pins results to one commit. A rebuilt index directory restarts
// generations at 1, so the commit time is part of the key.
type cacheKey struct {
	generation  uint64
	committedAt int64
	query       string
	limit       int
}

// Engine executes queries against the published index generation.
// It is safe for concurrent use.
type Engine struct {
	opts    Options
	logger  *slog.Logger
	cache   *lru.Cache[cacheKey, []Result]
	flights singleflight.Group
}

// NewEngine creates a query engine. A CacheSize of zero disables result caching.
func NewEngine(opts Options) (*Engine, error) {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = config.DefaultSearchLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.SnippetStyle == "" {
		opts.SnippetStyle = config.SnippetStyleHTML
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{opts: opts, logger: logger.With("component", "query")}
	if opts.CacheSize > 0 {
		cache, err := lru.New[cacheKey, []Result](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// EffectiveLimit applies the default and the cap to a requested limit.
func (e *Engine) EffectiveLimit(limit int) int {
	if limit <= 0 {
		return e.opts.DefaultLimit
	}
	return min(limit, e.opts.MaxLimit)
}

// Search parses text, runs it against the current generation and returns up to
// limit results ordered by descending score, then by path.
func (e *Engine) Search(ctx context.Context, text string, limit int) ([]Result, error) {
	start := time.Now()

	node, err := Parse(text)
	if err != nil {
		e.opts.Metrics.ObserveSearch(metrics.OutcomeInvalid, "", 0, 0)
		return nil, err
	}
	limit = e.EffectiveLimit(limit)

	idx, err := index.Open(e.opts.IndexDir)
	if err != nil {
		e.opts.Metrics.ObserveSearch(metrics.OutcomeError, "", 0, 0)
		return nil, err
	}

	m, _ := idx.Manifest()
	key := cacheKey{
		generation:  m.Generation,
		committedAt: m.CommittedAt.UnixNano(),
		query:       node.String(),
		limit:       limit,
	}
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			e.opts.Metrics.CacheHit()
			e.opts.Metrics.ObserveSearch(metrics.OutcomeOK, "hit", len(cached), time.Since(start))
			return cloneResults(cached), nil
		}
		e.opts.Metrics.CacheMiss()
	}

	flightKey := fmt.Sprintf("%d|%d|%d|%s", key.generation, key.committedAt, key.limit, key.query)
	v, err, _ := e.flights.Do(flightKey, func() (any, error) {
		var results []Result
		err := idx.WithSearcher(func(s *index.Searcher) error {
			var serr error
			results, serr = e.execute(ctx, s, node, limit)
			return serr
		})
		return results, err
	})
	if err != nil {
		e.opts.Metrics.ObserveSearch(metrics.OutcomeError, "", 0, 0)
		return nil, err
	}

	results := v.([]Result)
	if e.cache != nil {
		e.cache.Add(key, results)
	}
	e.opts.Metrics.ObserveSearch(metrics.OutcomeOK, "miss", len(results), time.Since(start))
	e.logger.DebugContext(ctx, "Search executed",
		"query", key.query,
		"limit", limit,
		"results", len(results),
		"generation", key.generation,
		"duration", time.Since(start))
	return cloneResults(results), nil
}

// PurgeCache drops all cached results.
func (e *Engine) PurgeCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

func (e *Engine) execute(ctx context.Context, s *index.Searcher, node Node, limit int) ([]Result, error) {
	req := bleve.NewSearchRequestOptions(Compile(node), limit, 0, false)
	req.Fields = []string{domain.FieldLanguage, domain.FieldContent}
	req.SortBy([]string{"-_score", "_id"})
	req.Highlight = bleve.NewHighlightWithStyle(e.highlightStyle())
	req.Highlight.AddField(domain.FieldContent)

	res, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, Result{
			Path:     hit.ID,
			Language: stringField(hit.Fields, domain.FieldLanguage),
			Snippet:  e.snippet(hit),
		})
	}
	return results, nil
}

func (e *Engine) highlightStyle() string {
	if e.opts.SnippetStyle == config.SnippetStyleANSI {
		return ansihl.Name
	}
	return htmlhl.Name
}

// snippet joins highlighted fragments, or falls back to the head of the content
func (e *Engine) snippet(hit *search.DocumentMatch) string {
	if fragments := hit.Fragments[domain.FieldContent]; len(fragments) > 0 {
		return strings.Join(fragments, FragmentSeparator)
	}

	head := Truncate(stringField(hit.Fields, domain.FieldContent), e.opts.FallbackChars)
	if e.opts.SnippetStyle == config.SnippetStyleHTML {
		return html.EscapeString(head)
	}
	return head
}

// Truncate returns the first n characters of s without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func cloneResults(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	return out
}
