// Package scaffold generates boilerplate projects from static templates.
package scaffold

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedTemplate is returned for an unknown project type.
	ErrUnsupportedTemplate = errors.New("unsupported project type")

	// ErrInvalidPath is returned when a project, component or file path would
	// leave its parent directory.
	ErrInvalidPath = errors.New("invalid path")
)

// Project is the data available to template bodies.
type Project struct {
	Name string
}

// Generator writes projects under a base directory.
type Generator struct {
	baseDir  string
	registry *Registry
	logger   *slog.Logger
}

// plannedFile is a rendered file waiting to be written
type plannedFile struct {
	path    string
	content []byte
}

// NewGenerator creates a generator over the embedded templates.
func NewGenerator(baseDir string, logger *slog.Logger) (*Generator, error) {
	registry, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return NewGeneratorWithRegistry(baseDir, registry, logger)
}

// NewGeneratorWithRegistry creates a generator over a custom registry.
func NewGeneratorWithRegistry(baseDir string, registry *Registry, logger *slog.Logger) (*Generator, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		baseDir:  abs,
		registry: registry,
		logger:   logger.With("component", "scaffold"),
	}, nil
}

// Templates returns the available template names.
func (g *Generator) Templates() []string {
	return g.registry.Names()
}

// Generate creates project name from the projectType template and returns the
// project directory. Every path is validated before anything is written, so a
// rejected request leaves the file system untouched.
func (g *Generator) Generate(ctx context.Context, projectType, name string) (string, error) {
	tmpl, ok := g.registry.Lookup(projectType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedTemplate, projectType)
	}

	projectDir, err := resolveWithin(g.baseDir, name)
	if err != nil {
		return "", fmt.Errorf("%w: project name %q", ErrInvalidPath, name)
	}

	plan, err := g.plan(tmpl, projectDir, Project{Name: name})
	if err != nil {
		return "", err
	}

	for _, f := range plan {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(f.path, f.content, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}

	g.logger.InfoContext(ctx, "Project generated",
		"template", projectType,
		"name", name,
		"dir", projectDir,
		"files", len(plan))
	return projectDir, nil
}

// plan validates every path and renders every body without touching the disk
func (g *Generator) plan(tmpl Template, projectDir string, project Project) ([]plannedFile, error) {
	var plan []plannedFile
	for _, c := range tmpl.Components {
		compDir, err := resolveWithin(projectDir, c.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: component path %q", ErrInvalidPath, c.Path)
		}
		for _, file := range c.sortedFiles() {
			target, err := resolveWithin(compDir, file)
			if err != nil {
				return nil, fmt.Errorf("%w: file path %q", ErrInvalidPath, file)
			}
			if err := containedOnDisk(g.baseDir, target); err != nil {
				return nil, fmt.Errorf("%w: %s resolves outside %s", ErrInvalidPath, target, g.baseDir)
			}

			var buf bytes.Buffer
			t := c.compiled[file]
			if t == nil {
				buf.WriteString(c.Files[file])
			} else if err := t.Execute(&buf, project); err != nil {
				return nil, fmt.Errorf("failed to render %s: %w", file, err)
			}
			plan = append(plan, plannedFile{path: target, content: buf.Bytes()})
		}
	}
	return plan, nil
}

// resolveWithin joins name onto base and rejects results that are not strictly inside base
func resolveWithin(base, name string) (string, error) {
	if strings.TrimSpace(name) == "" || filepath.IsAbs(name) ||
		strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", ErrInvalidPath
	}

	target := filepath.Join(base, name)
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", ErrInvalidPath
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return target, nil
}

// containedOnDisk rejects targets whose existing components are symlinks leading
// outside base. Both sides are compared after symlink resolution.
func containedOnDisk(base, target string) error {
	realBase, err := resolveExisting(base)
	if err != nil {
		return err
	}
	realTarget, err := resolveExisting(target)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(realBase, realTarget)
	if err != nil {
		return ErrInvalidPath
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrInvalidPath
	}
	return nil
}

// resolveExisting evaluates symlinks in the longest existing prefix of path and
// appends the components that do not exist yet
func resolveExisting(path string) (string, error) {
	existing := path
	var missing []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		missing = append(missing, filepath.Base(existing))
		existing = parent
	}

	// A dangling link fails here, so it is never written through
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, missing[i])
	}
	return resolved, nil
}
