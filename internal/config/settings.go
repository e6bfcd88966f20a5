package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Ingestion policy constants
const (
	PolicyFull   = "full"
	PolicyUpsert = "upsert"
)

// Snippet style constants
const (
	SnippetStyleHTML = "html"
	SnippetStyleANSI = "ansi"
)

// DefaultSearchLimit is the number of results returned when a request names no limit
const DefaultSearchLimit = 10

// LogSettings configuration for the process logger
type LogSettings struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// ServerSettings configuration for the HTTP transport
type ServerSettings struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SearchSettings configuration for the query engine
type SearchSettings struct {
	DefaultLimit         int    `mapstructure:"default_limit"`
	MaxLimit             int    `mapstructure:"max_limit"`
	CacheSize            int    `mapstructure:"cache_size"`
	SnippetStyle         string `mapstructure:"snippet_style"`
	SnippetFallbackChars int    `mapstructure:"snippet_fallback_chars"`
}

// IngestSettings configuration for the ingestion pipeline
type IngestSettings struct {
	Policy           string        `mapstructure:"policy"`
	Workers          int           `mapstructure:"workers"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxFileSize      int64         `mapstructure:"max_file_size"` // 0 means unlimited
	Exclude          []string      `mapstructure:"exclude"`
	RespectGitignore bool          `mapstructure:"respect_gitignore"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	Watch            bool          `mapstructure:"watch"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce"`
}

// CrossRefSettings configuration for the tagger
type CrossRefSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Settings application settings
type Settings struct {
	Host       string           `mapstructure:"host"`
	Port       int              `mapstructure:"port"`
	SourceRoot string           `mapstructure:"source_root"`
	IndexDir   string           `mapstructure:"index_dir"`
	CtagsPath  string           `mapstructure:"ctags_path"`
	Log        LogSettings      `mapstructure:"log"`
	Server     ServerSettings   `mapstructure:"server"`
	Search     SearchSettings   `mapstructure:"search"`
	Ingest     IngestSettings   `mapstructure:"ingest"`
	CrossRef   CrossRefSettings `mapstructure:"crossref"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("source_root", "/codegrok/src")
	v.SetDefault("index_dir", "/codegrok/index")
	v.SetDefault("ctags_path", defaultCtagsPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.request_timeout", 5*time.Minute)

	v.SetDefault("search.default_limit", DefaultSearchLimit)
	v.SetDefault("search.max_limit", 1000)
	v.SetDefault("search.cache_size", 256)
	v.SetDefault("search.snippet_style", SnippetStyleHTML)
	v.SetDefault("search.snippet_fallback_chars", 200)

	v.SetDefault("ingest.policy", PolicyFull)
	v.SetDefault("ingest.workers", 8)
	v.SetDefault("ingest.batch_size", 100)
	v.SetDefault("ingest.max_file_size", int64(0))
	v.SetDefault("ingest.exclude", []string{})
	v.SetDefault("ingest.respect_gitignore", false)
	v.SetDefault("ingest.lock_timeout", 30*time.Second)
	v.SetDefault("ingest.watch", false)
	v.SetDefault("ingest.watch_debounce", 2*time.Second)

	v.SetDefault("crossref.timeout", 60*time.Second)

	// Environment variables
	v.SetEnvPrefix("CODEGROK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names are kept for existing deployments
	_ = v.BindEnv("source_root", "CODEGROK_SOURCE_ROOT", "SRC_ROOT")
	_ = v.BindEnv("index_dir", "CODEGROK_INDEX_DIR", "INDEX_DIR")
	_ = v.BindEnv("ctags_path", "CODEGROK_CTAGS_PATH", "CTAGS_PATH")

	_ = v.BindEnv("log.level", "CODEGROK_LOG_LEVEL")
	_ = v.BindEnv("log.format", "CODEGROK_LOG_FORMAT")
	_ = v.BindEnv("server.request_timeout", "CODEGROK_SERVER_REQUEST_TIMEOUT")

	_ = v.BindEnv("search.default_limit", "CODEGROK_SEARCH_DEFAULT_LIMIT")
	_ = v.BindEnv("search.max_limit", "CODEGROK_SEARCH_MAX_LIMIT")
	_ = v.BindEnv("search.cache_size", "CODEGROK_SEARCH_CACHE_SIZE")
	_ = v.BindEnv("search.snippet_style", "CODEGROK_SEARCH_SNIPPET_STYLE")
	_ = v.BindEnv("search.snippet_fallback_chars", "CODEGROK_SEARCH_SNIPPET_FALLBACK_CHARS")

	_ = v.BindEnv("ingest.policy", "CODEGROK_INGEST_POLICY")
	_ = v.BindEnv("ingest.workers", "CODEGROK_INGEST_WORKERS")
	_ = v.BindEnv("ingest.batch_size", "CODEGROK_INGEST_BATCH_SIZE")
	_ = v.BindEnv("ingest.max_file_size", "CODEGROK_INGEST_MAX_FILE_SIZE")
	_ = v.BindEnv("ingest.exclude", "CODEGROK_INGEST_EXCLUDE")
	_ = v.BindEnv("ingest.respect_gitignore", "CODEGROK_INGEST_RESPECT_GITIGNORE")
	_ = v.BindEnv("ingest.lock_timeout", "CODEGROK_INGEST_LOCK_TIMEOUT")
	_ = v.BindEnv("ingest.watch", "CODEGROK_INGEST_WATCH")
	_ = v.BindEnv("ingest.watch_debounce", "CODEGROK_INGEST_WATCH_DEBOUNCE")

	_ = v.BindEnv("crossref.timeout", "CODEGROK_CROSSREF_TIMEOUT")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		_ = v.BindPFlag("host", flags.Lookup("host"))
		_ = v.BindPFlag("port", flags.Lookup("port"))
		_ = v.BindPFlag("source_root", flags.Lookup("source-root"))
		_ = v.BindPFlag("index_dir", flags.Lookup("index-dir"))
		_ = v.BindPFlag("ctags_path", flags.Lookup("ctags-path"))
		_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
		_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
		_ = v.BindPFlag("ingest.policy", flags.Lookup("ingest-policy"))
		_ = v.BindPFlag("ingest.exclude", flags.Lookup("exclude"))
		_ = v.BindPFlag("ingest.respect_gitignore", flags.Lookup("respect-gitignore"))
		_ = v.BindPFlag("ingest.watch", flags.Lookup("watch"))
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Comma-separated env value arrives as a single element
	if excludeEnv := os.Getenv("CODEGROK_INGEST_EXCLUDE"); excludeEnv != "" {
		if len(settings.Ingest.Exclude) <= 1 {
			settings.Ingest.Exclude = strings.Split(excludeEnv, ",")
		}
	}
	for i := range settings.Ingest.Exclude {
		settings.Ingest.Exclude[i] = strings.TrimSpace(settings.Ingest.Exclude[i])
	}
	settings.Ingest.Exclude = filterEmptyStrings(settings.Ingest.Exclude)

	settings.SourceRoot = expandHomeDir(settings.SourceRoot)
	settings.IndexDir = expandHomeDir(settings.IndexDir)
	settings.Log.Level = strings.ToLower(settings.Log.Level)
	settings.Log.Format = strings.ToLower(settings.Log.Format)
	settings.Ingest.Policy = strings.ToLower(settings.Ingest.Policy)

	return &settings, nil
}

// defaultCtagsPath resolves a tagger on PATH, falling back to the universal-ctags name
func defaultCtagsPath() string {
	if p, err := exec.LookPath("ctags"); err == nil {
		return p
	}
	return "universal-ctags"
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for invalid or conflicting configurations.
func ValidateSettings(s *Settings) error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", s.Port)
	}
	if s.SourceRoot == "" {
		return errors.New("source-root cannot be empty")
	}
	if s.IndexDir == "" {
		return errors.New("index-dir cannot be empty")
	}
	if s.CtagsPath == "" {
		return errors.New("ctags-path cannot be empty")
	}

	switch s.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return errors.New("log-level must be one of debug, info, warn, error, got: " + s.Log.Level)
	}
	switch s.Log.Format {
	case "text", "json", "":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.Log.Format)
	}

	if err := validateSearchSettings(&s.Search); err != nil {
		return err
	}
	return validateIngestSettings(&s.Ingest)
}

// validateSearchSettings validates the query engine configuration
func validateSearchSettings(s *SearchSettings) error {
	if s.DefaultLimit <= 0 {
		return errors.New("search default_limit must be positive")
	}
	if s.MaxLimit < s.DefaultLimit {
		return errors.New("search max_limit must be >= default_limit")
	}
	if s.CacheSize < 0 {
		return errors.New("search cache_size cannot be negative")
	}
	if s.SnippetFallbackChars < 0 {
		return errors.New("search snippet_fallback_chars cannot be negative")
	}
	switch s.SnippetStyle {
	case SnippetStyleHTML, SnippetStyleANSI:
	default:
		return errors.New("search snippet_style must be 'html' or 'ansi', got: " + s.SnippetStyle)
	}
	return nil
}

// validateIngestSettings validates the ingestion configuration
func validateIngestSettings(s *IngestSettings) error {
	switch s.Policy {
	case PolicyFull, PolicyUpsert:
	default:
		return errors.New("ingest-policy must be 'full' or 'upsert', got: " + s.Policy)
	}
	if s.Workers <= 0 {
		return errors.New("ingest workers must be positive")
	}
	if s.BatchSize <= 0 {
		return errors.New("ingest batch_size must be positive")
	}
	if s.MaxFileSize < 0 {
		return errors.New("ingest max_file_size cannot be negative")
	}
	if s.LockTimeout <= 0 {
		return errors.New("ingest lock_timeout must be positive")
	}
	if s.Watch && s.WatchDebounce <= 0 {
		return errors.New("ingest watch_debounce must be positive when watch is enabled")
	}
	return nil
}
