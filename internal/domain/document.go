package domain

import (
	"errors"
	"path/filepath"
	"strings"
)

// Document represents an indexed source file.
// It is the primary data structure stored in the Bleve search index.
type Document struct {
	// Path is the absolute file path and the document's unique identifier.
	Path string `json:"path"`

	// Content is the full decoded file text used for indexing and search snippets.
	Content string `json:"content"`

	// Language is the language label derived from the file extension.
	Language string `json:"language"`
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	FieldPath     = "path"
	FieldContent  = "content"
	FieldLanguage = "language"
)

// Language labels
const (
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
	LanguageJava       = "java"
	LanguageHTML       = "html"
	LanguageCSS        = "css"
	LanguageSQL        = "sql"
)

// extensionToLanguage maps lowercased file extensions (with dot) to language labels.
var extensionToLanguage = map[string]string{
	".py":   LanguagePython,
	".js":   LanguageJavaScript,
	".ts":   LanguageTypeScript,
	".java": LanguageJava,
	".html": LanguageHTML,
	".css":  LanguageCSS,
	".sql":  LanguageSQL,
}

var (
	// ErrEmptyPath is returned when a document has no path
	ErrEmptyPath = errors.New("document path is empty")

	// ErrUnknownLanguage is returned when a document's language is outside the supported set
	ErrUnknownLanguage = errors.New("unknown document language")
)

// LanguageForPath returns the language label for a file path, matching the
// extension case-insensitively. The second result is false for unsupported files.
func LanguageForPath(path string) (string, bool) {
	lang, ok := extensionToLanguage[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// IsKnownLanguage reports whether lang is one of the supported language labels.
func IsKnownLanguage(lang string) bool {
	for _, l := range extensionToLanguage {
		if l == lang {
			return true
		}
	}
	return false
}

// Languages returns the supported language labels.
func Languages() []string {
	return []string{
		LanguageCSS,
		LanguageHTML,
		LanguageJava,
		LanguageJavaScript,
		LanguagePython,
		LanguageSQL,
		LanguageTypeScript,
	}
}

// Validate checks the document invariants required before indexing.
func (d Document) Validate() error {
	if d.Path == "" {
		return ErrEmptyPath
	}
	if !IsKnownLanguage(d.Language) {
		return ErrUnknownLanguage
	}
	return nil
}
