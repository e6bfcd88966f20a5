package config

import (
	"context"
	"io"
	"log/slog"
)

// NewLogger builds the process logger from the log settings
func NewLogger(s LogSettings, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(s.Level)}

	var handler slog.Handler
	switch s.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: host", "value", s.Host)
	logger.InfoContext(ctx, "Config: port", "value", s.Port)
	logger.InfoContext(ctx, "Config: source_root", "value", s.SourceRoot)
	logger.InfoContext(ctx, "Config: index_dir", "value", s.IndexDir)
	logger.InfoContext(ctx, "Config: ctags_path", "value", s.CtagsPath)
	logger.InfoContext(ctx, "Config: log.level", "value", s.Log.Level)

	logger.InfoContext(ctx, "Config: search.default_limit", "value", s.Search.DefaultLimit)
	logger.InfoContext(ctx, "Config: search.max_limit", "value", s.Search.MaxLimit)
	logger.InfoContext(ctx, "Config: search.cache_size", "value", s.Search.CacheSize)

	logger.InfoContext(ctx, "Config: ingest.policy", "value", s.Ingest.Policy)
	logger.InfoContext(ctx, "Config: ingest.workers", "value", s.Ingest.Workers)
	if len(s.Ingest.Exclude) > 0 {
		logger.InfoContext(ctx, "Config: ingest.exclude", "value", s.Ingest.Exclude)
	}
	if s.Ingest.MaxFileSize > 0 {
		logger.InfoContext(ctx, "Config: ingest.max_file_size", "value", s.Ingest.MaxFileSize)
	}
	logger.InfoContext(ctx, "Config: ingest.respect_gitignore", "value", s.Ingest.RespectGitignore)
	logger.InfoContext(ctx, "Config: ingest.watch", "value", s.Ingest.Watch)
	if s.Ingest.Watch {
		logger.InfoContext(ctx, "Config: ingest.watch_debounce", "value", s.Ingest.WatchDebounce)
	}
}

// SettingsLogValue returns a slog.Value summarizing Settings
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("source_root", s.SourceRoot),
		slog.String("index_dir", s.IndexDir),
		slog.String("policy", s.Ingest.Policy),
	)
}
