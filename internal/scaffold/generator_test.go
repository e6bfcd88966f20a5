package scaffold

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestGenerator(t *testing.T) (*Generator, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "src")
	if err := os.MkdirAll(base, 0755); err != nil {
		t.Fatalf("Failed to create base dir: %v", err)
	}
	g, err := NewGenerator(base, nil)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	return g, base
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

// countEntries counts everything under dir, excluding dir itself
func countEntries(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	return n
}

func TestGenerator_Templates(t *testing.T) {
	g, _ := newTestGenerator(t)

	got := strings.Join(g.Templates(), ",")
	if got != "react-flask,vue-express" {
		t.Errorf("Expected react-flask,vue-express, got %s", got)
	}
}

func TestGenerator_Generate_ReactFlask(t *testing.T) {
	g, base := newTestGenerator(t)

	dir, err := g.Generate(context.Background(), "react-flask", "myapp")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if dir != filepath.Join(base, "myapp") {
		t.Errorf("Expected project dir %s, got %s", filepath.Join(base, "myapp"), dir)
	}

	app := readFile(t, filepath.Join(dir, "frontend", "src", "App.js"))
	if !strings.Contains(app, "Welcome to myapp!") {
		t.Errorf("Expected project name in App.js, got:\n%s", app)
	}
	if !strings.Contains(app, "return <div>") {
		t.Errorf("Expected JSX to be preserved, got:\n%s", app)
	}

	backend := readFile(t, filepath.Join(dir, "backend", "app.py"))
	if !strings.Contains(backend, "Hello from myapp!") {
		t.Errorf("Expected project name in app.py, got:\n%s", backend)
	}
}

func TestGenerator_Generate_VueExpress(t *testing.T) {
	g, _ := newTestGenerator(t)

	dir, err := g.Generate(context.Background(), "vue-express", "shop")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	vue := readFile(t, filepath.Join(dir, "frontend", "src", "App.vue"))
	if !strings.Contains(vue, "{{ message }}") {
		t.Errorf("Expected Vue mustache to be preserved, got:\n%s", vue)
	}
	if !strings.Contains(vue, "Welcome to shop!") {
		t.Errorf("Expected project name in App.vue, got:\n%s", vue)
	}
	if _, err := os.Stat(filepath.Join(dir, "backend", "server.js")); err != nil {
		t.Errorf("Expected server.js: %v", err)
	}
}

func TestGenerator_Generate_NestedName(t *testing.T) {
	g, base := newTestGenerator(t)

	dir, err := g.Generate(context.Background(), "react-flask", "team/app")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if dir != filepath.Join(base, "team", "app") {
		t.Errorf("Unexpected project dir %s", dir)
	}
}

func TestGenerator_Generate_OverwritesExisting(t *testing.T) {
	g, _ := newTestGenerator(t)

	dir, err := g.Generate(context.Background(), "react-flask", "myapp")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	appPath := filepath.Join(dir, "backend", "app.py")
	if err := os.WriteFile(appPath, []byte("edited"), 0644); err != nil {
		t.Fatalf("Failed to edit file: %v", err)
	}

	if _, err := g.Generate(context.Background(), "react-flask", "myapp"); err != nil {
		t.Fatalf("Second Generate failed: %v", err)
	}
	if readFile(t, appPath) == "edited" {
		t.Error("Expected file to be regenerated")
	}
}

func TestGenerator_Generate_Unsupported(t *testing.T) {
	g, base := newTestGenerator(t)

	_, err := g.Generate(context.Background(), "angular-rails", "myapp")
	if !errors.Is(err, ErrUnsupportedTemplate) {
		t.Errorf("Expected ErrUnsupportedTemplate, got %v", err)
	}
	if n := countEntries(t, base); n != 0 {
		t.Errorf("Expected nothing written, found %d entries", n)
	}
}

func TestGenerator_Generate_InvalidNames(t *testing.T) {
	names := []string{
		"../evil",
		"..",
		"a/../../evil",
		"/etc/evil",
		"",
		".",
		"  ",
		"a/..",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			g, base := newTestGenerator(t)
			parent := filepath.Dir(base)

			_, err := g.Generate(context.Background(), "react-flask", name)
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("Expected ErrInvalidPath, got %v", err)
			}
			if n := countEntries(t, base); n != 0 {
				t.Errorf("Expected nothing written under base, found %d entries", n)
			}
			// Only the base directory itself exists next to it
			if n := countEntries(t, parent); n != 1 {
				t.Errorf("Expected nothing written outside base, found %d entries", n)
			}
		})
	}
}

func TestGenerator_Generate_EscapingTemplatePaths(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "component escapes project",
			yaml: `
templates:
  bad:
    components:
      - path: ../outside
        files:
          a.txt: hi
`,
		},
		{
			name: "file escapes component",
			yaml: `
templates:
  bad:
    components:
      - path: ok
        files:
          a.txt: hi
      - path: web
        files:
          ../../escape.txt: hi
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := LoadRegistry([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("LoadRegistry failed: %v", err)
			}
			base := filepath.Join(t.TempDir(), "src")
			g, err := NewGeneratorWithRegistry(base, registry, nil)
			if err != nil {
				t.Fatalf("NewGeneratorWithRegistry failed: %v", err)
			}

			_, err = g.Generate(context.Background(), "bad", "proj")
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("Expected ErrInvalidPath, got %v", err)
			}
			// Validation happens before any write, including valid earlier components
			if _, err := os.Stat(base); !os.IsNotExist(err) {
				t.Errorf("Expected base dir not to be created, stat err: %v", err)
			}
		})
	}
}

func TestGenerator_Generate_CanceledContext(t *testing.T) {
	g, base := newTestGenerator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Generate(ctx, "react-flask", "myapp"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if n := countEntries(t, base); n != 0 {
		t.Errorf("Expected nothing written, found %d entries", n)
	}
}

func TestLoadRegistry_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid yaml", "templates: [unterminated"},
		{"empty", "templates: {}"},
		{"no components", "templates:\n  x:\n    description: nothing\n"},
		{"bad body", "templates:\n  x:\n    components:\n      - path: a\n        files:\n          f.txt: '{% .Name'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRegistry([]byte(tt.yaml)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestResolveWithin(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "srv", "src")

	valid := map[string]string{
		"app":        filepath.Join(base, "app"),
		"a/b":        filepath.Join(base, "a", "b"),
		"a/../b":     filepath.Join(base, "b"),
		"..app":      filepath.Join(base, "..app"),
		"./app":      filepath.Join(base, "app"),
		"app/./src/": filepath.Join(base, "app", "src"),
	}
	for name, want := range valid {
		got, err := resolveWithin(base, name)
		if err != nil {
			t.Errorf("resolveWithin(%q) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("resolveWithin(%q) = %s, want %s", name, got, want)
		}
	}

	for _, name := range []string{"", ".", "..", "../x", "/abs", `\abs`, "x/../.."} {
		if _, err := resolveWithin(base, name); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("resolveWithin(%q): expected ErrInvalidPath, got %v", name, err)
		}
	}
}

func TestGenerator_Generate_SymlinkEscapes(t *testing.T) {
	tests := []struct {
		name   string
		link   string // relative to base
		toFile bool
	}{
		{"project is a link", "demo", false},
		{"component is a link", "demo/backend", false},
		{"file is a link", "demo/backend/app.py", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, base := newTestGenerator(t)
			outside := t.TempDir()
			target := outside
			if tt.toFile {
				target = filepath.Join(outside, "victim.py")
			}

			link := filepath.Join(base, tt.link)
			if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
				t.Fatalf("Failed to create dir: %v", err)
			}
			if err := os.Symlink(target, link); err != nil {
				t.Skipf("Symlinks unavailable: %v", err)
			}

			_, err := g.Generate(context.Background(), "react-flask", "demo")
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("Expected ErrInvalidPath, got %v", err)
			}
			if n := countEntries(t, outside); n != 0 {
				t.Errorf("Expected nothing written outside base, found %d entries", n)
			}
		})
	}
}

func TestGenerator_Generate_DanglingSymlink(t *testing.T) {
	g, base := newTestGenerator(t)
	missing := filepath.Join(t.TempDir(), "gone")
	if err := os.Symlink(missing, filepath.Join(base, "demo")); err != nil {
		t.Skipf("Symlinks unavailable: %v", err)
	}

	if _, err := g.Generate(context.Background(), "react-flask", "demo"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Expected ErrInvalidPath, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Errorf("Expected nothing created through the link, stat err: %v", err)
	}
}

func TestGenerator_Generate_SymlinkInsideBase(t *testing.T) {
	g, base := newTestGenerator(t)
	inside := filepath.Join(base, "projects", "real")
	if err := os.MkdirAll(inside, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.Symlink(inside, filepath.Join(base, "demo")); err != nil {
		t.Skipf("Symlinks unavailable: %v", err)
	}

	if _, err := g.Generate(context.Background(), "react-flask", "demo"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inside, "backend", "app.py")); err != nil {
		t.Errorf("Expected files written through the in-base link: %v", err)
	}
}

func TestResolveExisting(t *testing.T) {
	dir := t.TempDir()
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks failed: %v", err)
	}

	got, err := resolveExisting(filepath.Join(dir, "a", "b.txt"))
	if err != nil {
		t.Fatalf("resolveExisting failed: %v", err)
	}
	if want := filepath.Join(realDir, "a", "b.txt"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
