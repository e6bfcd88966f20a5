package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileFilter_NilAdmitsEverything(t *testing.T) {
	var f *FileFilter
	if f.ShouldExclude("any/path.py", false) {
		t.Error("Expected nil filter to admit everything")
	}
	if f.TooLarge(1 << 40) {
		t.Error("Expected nil filter to have no size limit")
	}
	if f.MaxFileSize() != 0 {
		t.Error("Expected nil filter max size 0")
	}
}

func TestFileFilter_Patterns(t *testing.T) {
	f, err := NewFileFilter(t.TempDir(), []string{"**/vendor/**", "*.min.js", "build/**", "**/test_*.py"}, false, 0)
	if err != nil {
		t.Fatalf("NewFileFilter failed: %v", err)
	}

	tests := []struct {
		path    string
		exclude bool
	}{
		{"vendor/lib.js", true},
		{"a/b/vendor/lib.js", true},
		{"app.min.js", true},
		{"src/app.min.js", false}, // no ** prefix, only root-level
		{"build/out.js", true},
		{"src/build.js", false},
		{"tests/test_api.py", true},
		{"test_root.py", true},
		{"src/main.py", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := f.ShouldExclude(tt.path, false); got != tt.exclude {
				t.Errorf("ShouldExclude(%q) = %v, want %v", tt.path, got, tt.exclude)
			}
		})
	}
}

func TestFileFilter_WindowsStyleSeparators(t *testing.T) {
	f, err := NewFileFilter(t.TempDir(), []string{"gen/**"}, false, 0)
	if err != nil {
		t.Fatalf("NewFileFilter failed: %v", err)
	}
	if !f.ShouldExclude(filepath.Join("gen", "x.py"), false) {
		t.Error("Expected OS-specific separators to be normalized")
	}
}

func TestFileFilter_InvalidPattern(t *testing.T) {
	if _, err := NewFileFilter(t.TempDir(), []string{"[abc"}, false, 0); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestFileFilter_Gitignore(t *testing.T) {
	root := t.TempDir()
	content := "*.log\nsecrets/\n!keep.log\n"
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := NewFileFilter(root, nil, true, 0)
	if err != nil {
		t.Fatalf("NewFileFilter failed: %v", err)
	}

	if !f.ShouldExclude("secrets", true) {
		t.Error("Expected ignored directory to be excluded")
	}
	if !f.ShouldExclude("debug.log", false) {
		t.Error("Expected *.log to be excluded")
	}
	if f.ShouldExclude("src/app.py", false) {
		t.Error("Expected src/app.py to be included")
	}

	// Same root, gitignore not requested
	plain, err := NewFileFilter(root, nil, false, 0)
	if err != nil {
		t.Fatalf("NewFileFilter failed: %v", err)
	}
	if plain.ShouldExclude("debug.log", false) {
		t.Error("Expected .gitignore to be ignored when not requested")
	}
}

func TestFileFilter_GitignoreMissing(t *testing.T) {
	f, err := NewFileFilter(t.TempDir(), nil, true, 0)
	if err != nil {
		t.Fatalf("Expected missing .gitignore to be fine, got: %v", err)
	}
	if f.ShouldExclude("a.py", false) {
		t.Error("Expected nothing excluded")
	}
}

func TestFileFilter_TooLarge(t *testing.T) {
	f, err := NewFileFilter(t.TempDir(), nil, false, 100)
	if err != nil {
		t.Fatalf("NewFileFilter failed: %v", err)
	}
	if f.TooLarge(100) {
		t.Error("Expected size at the limit to be allowed")
	}
	if !f.TooLarge(101) {
		t.Error("Expected size above the limit to be rejected")
	}

	unlimited, _ := NewFileFilter(t.TempDir(), nil, false, 0)
	if unlimited.TooLarge(1 << 40) {
		t.Error("Expected no limit when max size is 0")
	}
}
