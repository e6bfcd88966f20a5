package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/codegrok/internal/codegrok"
	"github.com/sha1n/codegrok/internal/config"
	mcputil "github.com/sha1n/codegrok/internal/mcp"
	"github.com/sha1n/codegrok/internal/metrics"
	"github.com/sha1n/codegrok/internal/query"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run functions
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartServer       func(context.Context, *http.Server, *slog.Logger) error
	ServiceOptions    []codegrok.Option
	LogOutput         io.Writer     // Optional: defaults to stderr
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
		StartServer:   StartHTTPServer,
	}
}

// components holds what every entry point builds before doing its own work
type components struct {
	settings *config.Settings
	logger   *slog.Logger
	service  *codegrok.Service
}

func setup(ctx context.Context, params RunParams, flags *pflag.FlagSet) (*components, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Always log to stderr so stdout stays clean for results and stdio MCP
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := config.NewLogger(settings.Log, out)
	slog.SetDefault(logger)

	opts := append([]codegrok.Option{
		codegrok.WithLogger(logger),
		codegrok.WithMetrics(metrics.New()),
	}, params.ServiceOptions...)

	svc, err := codegrok.NewService(settings, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &components{settings: settings, logger: logger, service: svc}, nil
}

// RunWithDeps serves the HTTP API and the MCP SSE endpoint until ctx is done
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	rt, err := setup(ctx, params, flags)
	if err != nil {
		return err
	}

	rt.logger.Info("Starting CodeGrok server", "version", version)
	config.LogWithLogger(rt.settings, rt.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := rt.service.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Error("Watcher stopped", "error", err)
		}
	}()

	mcpServer := newMCPServer(rt.service, version)
	srv := NewHTTPServer(rt.service, mcpServer, rt.settings, rt.logger)

	err = params.StartServer(ctx, srv, rt.logger)
	cancel()
	<-watchDone
	return err
}

// RunMCP serves the MCP tools over stdio until the client disconnects
func RunMCP(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	rt, err := setup(ctx, params, flags)
	if err != nil {
		return err
	}
	rt.logger.Info("Starting CodeGrok MCP server (stdio)", "version", version)

	// Use custom transport if provided (for testing), otherwise use stdio
	transport := params.CustomIOTransport
	if transport == nil {
		transport = &mcp.StdioTransport{}
	}
	return newMCPServer(rt.service, version).Run(ctx, transport)
}

// RunIndex rebuilds the index once and reports the run on out
func RunIndex(ctx context.Context, params RunParams, flags *pflag.FlagSet, out io.Writer) error {
	rt, err := setup(ctx, params, flags)
	if err != nil {
		return err
	}

	stats, err := rt.service.Reindex(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Indexed %s successfully: %d files (generation %d, %s)\n",
		rt.settings.SourceRoot, stats.Indexed, stats.Generation, stats.Duration.Round(time.Millisecond))
	return err
}

// RunSearch runs one query against the published index and prints the results on out
func RunSearch(ctx context.Context, params RunParams, flags *pflag.FlagSet, q string, limit int, out io.Writer) error {
	rt, err := setup(ctx, params, flags)
	if err != nil {
		return err
	}

	results, err := rt.service.Search(ctx, q, limit)
	if err != nil {
		return err
	}
	return printResults(out, results)
}

func printResults(out io.Writer, results []query.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No results")
		return err
	}
	for _, r := range results {
		if _, err := fmt.Fprintf(out, "%s [%s]\n  %s\n", r.Path, r.Language, r.Snippet); err != nil {
			return err
		}
	}
	return nil
}

func newMCPServer(svc *codegrok.Service, version string) *mcp.Server {
	return mcputil.CreateServer(mcputil.ServerConfig{
		Name:    "codegrok",
		Version: version,
		Backend: svc,
	})
}
