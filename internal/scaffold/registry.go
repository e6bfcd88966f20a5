package scaffold

import (
	_ "embed"
	"fmt"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Registry is the set of known project templates.
type Registry struct {
	Templates map[string]Template `yaml:"templates"`
}

// Template is a project layout made of components.
type Template struct {
	Description string      `yaml:"description"`
	Components  []Component `yaml:"components"`
}

// Component is a directory of files inside a generated project.
type Component struct {
	Path  string            `yaml:"path"`
	Files map[string]string `yaml:"files"`

	compiled map[string]*template.Template
}

// DefaultRegistry returns the embedded template registry.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(defaultTemplates)
}

// LoadRegistry parses a YAML registry and compiles every file body.
func LoadRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if len(r.Templates) == 0 {
		return nil, fmt.Errorf("no templates defined")
	}

	for name, tmpl := range r.Templates {
		if len(tmpl.Components) == 0 {
			return nil, fmt.Errorf("template %s has no components", name)
		}
		for i := range tmpl.Components {
			c := &tmpl.Components[i]
			c.compiled = make(map[string]*template.Template, len(c.Files))
			for file, body := range c.Files {
				t, err := template.New(file).Delims("{%", "%}").Option("missingkey=error").Parse(body)
				if err != nil {
					return nil, fmt.Errorf("template %s: %s: %w", name, file, err)
				}
				c.compiled[file] = t
			}
		}
		r.Templates[name] = tmpl
	}
	return &r, nil
}

// Names returns the template names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Templates))
	for name := range r.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named template.
func (r *Registry) Lookup(name string) (Template, bool) {
	t, ok := r.Templates[name]
	return t, ok
}

// sortedFiles returns the component's file names in sorted order
func (c Component) sortedFiles() []string {
	files := make([]string, 0, len(c.Files))
	for f := range c.Files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
