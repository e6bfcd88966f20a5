// Package crossref resolves symbol references with a ctags-compatible tagger.
package crossref

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrEmptySymbol is returned when no symbol is given.
	ErrEmptySymbol = errors.New("symbol must not be empty")

	// ErrCrossRef is returned when the tagger cannot be run or fails.
	ErrCrossRef = errors.New("cross-reference failed")
)

// Options configures a Resolver.
type Options struct {
	CtagsPath  string
	SourceRoot string
	Timeout    time.Duration
	Executor   CommandExecutor
	Logger     *slog.Logger
}

// Resolver runs the tagger over the source root.
type Resolver struct {
	opts     Options
	executor CommandExecutor
	logger   *slog.Logger
}

// NewResolver creates a resolver. A nil executor uses os/exec.
func NewResolver(opts Options) *Resolver {
	executor := opts.Executor
	if executor == nil {
		executor = &DefaultExecutor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		opts:     opts,
		executor: executor,
		logger:   logger.With("component", "crossref"),
	}
}

// Args returns the tagger arguments used for a lookup.
func (r *Resolver) Args() []string {
	return []string{"-R", "--fields=+n", "--output-format=json", r.opts.SourceRoot}
}

// Lookup returns every tagger output line that contains symbol, in output order.
func (r *Resolver) Lookup(ctx context.Context, symbol string) ([]string, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, ErrEmptySymbol
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.executor.Run(ctx, "", r.opts.CtagsPath, r.Args()...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCrossRef, r.opts.CtagsPath, ctxErr)
		}
		// ctags exits non-zero on a single unparsable file but still tags the rest
		if len(bytes.TrimSpace(out)) == 0 {
			return nil, fmt.Errorf("%w: %s: %w", ErrCrossRef, r.opts.CtagsPath, err)
		}
		r.logger.WarnContext(ctx, "Tagger exited with an error, using partial output",
			"symbol", symbol,
			"error", err)
	}

	refs := make([]string, 0)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, symbol) {
			refs = append(refs, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading tagger output: %w", ErrCrossRef, err)
	}

	r.logger.DebugContext(ctx, "Cross-reference lookup",
		"symbol", symbol,
		"references", len(refs),
		"duration", time.Since(start))
	return refs, nil
}

// Tag is one decoded tagger JSON record.
type Tag struct {
	Type    string `json:"_type"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Kind    string `json:"kind"`
	Pattern string `json:"pattern,omitempty"`
	Scope   string `json:"scope,omitempty"`
}

// ParseTag decodes a JSON tag line. The second return is false for lines that
// are not tag records, such as pseudo-tags.
func ParseTag(line string) (Tag, bool) {
	var tag Tag
	if err := json.Unmarshal([]byte(line), &tag); err != nil {
		return Tag{}, false
	}
	if tag.Type != "" && tag.Type != "tag" {
		return Tag{}, false
	}
	if tag.Name == "" {
		return Tag{}, false
	}
	return tag, true
}

// String renders a tag as path:line: name (kind).
func (t Tag) String() string {
	var b strings.Builder
	b.WriteString(t.Path)
	if t.Line > 0 {
		fmt.Fprintf(&b, ":%d", t.Line)
	}
	b.WriteString(": ")
	b.WriteString(t.Name)
	if t.Kind != "" {
		fmt.Fprintf(&b, " (%s)", t.Kind)
	}
	return b.String()
}
