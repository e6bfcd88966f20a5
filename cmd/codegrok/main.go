package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sha1n/codegrok/internal/app"
	"github.com/sha1n/codegrok/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "codegrok"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "CodeGrok code search server",
		Long:         "CodeGrok indexes a source tree and serves full-text search, cross-references and project scaffolding over HTTP and MCP.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return app.RunWithDeps(ctx, app.DefaultRunParams(), cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)
	app.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "index",
			Short: "Rebuild the index once and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				return app.RunIndex(ctx, app.DefaultRunParams(), cmd.Flags(), cmd.OutOrStdout())
			},
		},
		newSearchCommand(),
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve the MCP tools over stdio",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				return app.RunMCP(ctx, app.DefaultRunParams(), cmd.Flags(), version)
			},
		},
	)

	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func newSearchCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the published index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSearch(cmd.Context(), app.DefaultRunParams(), cmd.Flags(), args[0], limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", config.DefaultSearchLimit, "Maximum number of results")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
