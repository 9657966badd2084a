// Package scaffold lays out a new workbench directory.
package scaffold

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/gurisko/workbench/internal/paths"
	"github.com/gurisko/workbench/internal/workbench"
)

//go:embed templates
var templates embed.FS

// ErrExists indicates the target already holds a workbench.yaml.
var ErrExists = errors.New("workbench already initialized")

type file struct {
	tmpl string
	dest string
	mode os.FileMode
}

var layout = []file{
	{"templates/workbench.yaml.tmpl", paths.ConfigFileName, 0o644},
	{"templates/gitignore.tmpl", ".gitignore", 0o644},
	{"templates/docs/index.md.tmpl", "docs/index.md", 0o644},
	{"templates/repos/gitkeep.tmpl", "repos/.gitkeep", 0o644},
}

// Data feeds the templates.
type Data struct {
	Name string
}

// Create writes the scaffold into dir and returns the files it created.
// Existing files other than workbench.yaml are left untouched.
func Create(dir, name string) ([]string, error) {
	if name == "" {
		name = filepath.Base(dir)
	}
	if _, err := os.Stat(paths.ConfigPath(dir)); err == nil {
		return nil, fmt.Errorf("%w in %s", ErrExists, dir)
	}

	var created []string
	for _, f := range layout {
		dest := filepath.Join(dir, filepath.FromSlash(f.dest))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		out, err := render(f.tmpl, Data{Name: name})
		if err != nil {
			return created, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return created, fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, out, f.mode); err != nil {
			return created, fmt.Errorf("write %s: %w", dest, err)
		}
		created = append(created, f.dest)
	}

	// Round-trip through the config store so the scaffold is always loadable.
	if _, err := workbench.Load(paths.ConfigPath(dir)); err != nil {
		return created, fmt.Errorf("scaffolded config invalid: %w", err)
	}
	return created, nil
}

func render(name string, data Data) ([]byte, error) {
	t, err := template.ParseFS(templates, name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
