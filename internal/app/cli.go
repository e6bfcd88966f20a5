package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("host", "H", "", "Host to listen on")
	flags.IntP("port", "p", 0, "Port to listen on")
	flags.StringP("source-root", "s", "", "Directory to index")
	flags.StringP("index-dir", "i", "", "Directory holding the search index")
	flags.String("ctags-path", "", "Path to the ctags executable")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("ingest-policy", "", "Ingestion policy: full or upsert")
	flags.StringSliceP("exclude", "x", nil, "Glob patterns to exclude from indexing (comma-separated)")
	flags.Bool("respect-gitignore", false, "Skip files matched by .gitignore")
	flags.BoolP("watch", "w", false, "Reindex when source files change")
}
