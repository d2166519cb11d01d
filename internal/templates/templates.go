// Package templates renders Packer manifests from pongo2 templates. Templates
// are looked up in an optional directory first and then in the built-in set.
package templates

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/cochaviz/boxes/internal/build"
)

// Extension is appended to template names that do not already carry it.
const Extension = ".json.tpl"

//go:embed assets/*.json.tpl
var embedded embed.FS

// Ensure Renderer satisfies the build's template renderer interface.
var _ build.TemplateRenderer = (*Renderer)(nil)

var registerFiltersOnce sync.Once

// Renderer renders named manifest templates.
type Renderer struct {
	dir string
	set *pongo2.TemplateSet

	mu    sync.Mutex
	cache map[string]*pongo2.Template
}

// New returns a renderer that prefers templates in dir (when non-empty) over
// the built-in ones.
func New(dir string) (*Renderer, error) {
	builtin, err := fs.Sub(embedded, "assets")
	if err != nil {
		return nil, fmt.Errorf("templates: open built-in templates: %w", err)
	}

	var loaders []pongo2.TemplateLoader
	dir = strings.TrimSpace(dir)
	if dir != "" {
		loader, err := pongo2.NewLocalFileSystemLoader(dir)
		if err != nil {
			return nil, fmt.Errorf("templates: open %s: %w", dir, err)
		}
		loaders = append(loaders, loader)
	}
	loaders = append(loaders, pongo2.NewFSLoader(builtin))

	registerFiltersOnce.Do(registerFilters)

	return &Renderer{
		dir:   dir,
		set:   pongo2.NewSet("boxes", loaders...),
		cache: make(map[string]*pongo2.Template),
	}, nil
}

// Render renders the template called name with data.
func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	tmpl, err := r.template(name)
	if err != nil {
		return "", err
	}

	out, err := tmpl.Execute(pongo2.Context(data))
	if err != nil {
		return "", fmt.Errorf("templates: execute %s: %w", name, err)
	}
	return strings.TrimSpace(out) + "\n", nil
}

// List returns the names of all templates available to Render, sorted.
func (r *Renderer) List() ([]string, error) {
	names, err := templateNames(embedded, "assets")
	if err != nil {
		return nil, err
	}

	if r.dir != "" {
		local, err := templateNames(os.DirFS(r.dir), ".")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		names = append(names, local...)
	}

	slices.Sort(names)
	return slices.Compact(names), nil
}

func (r *Renderer) template(name string) (*pongo2.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("templates: template name is required")
	}
	file := name
	if !strings.HasSuffix(file, Extension) {
		file += Extension
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.cache[file]; ok {
		return tmpl, nil
	}
	tmpl, err := r.set.FromFile(file)
	if err != nil {
		return nil, fmt.Errorf("templates: load %s: %w", name, err)
	}
	r.cache[file] = tmpl
	return tmpl, nil
}

func templateNames(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), Extension))
	}
	return names, nil
}

func registerFilters() {
	// manifests are JSON, HTML escaping would corrupt them
	pongo2.SetAutoescape(false)

	if !pongo2.FilterExists("json") {
		_ = pongo2.RegisterFilter("json", filterJSON)
	}
	if !pongo2.FilterExists("lines") {
		_ = pongo2.RegisterFilter("lines", filterLines)
	}
}

// filterJSON encodes the value as a JSON literal. Nil becomes null.
func filterJSON(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	payload, err := json.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:json", OrigError: err}
	}
	return pongo2.AsSafeValue(string(payload)), nil
}

// filterLines turns a multi-line string into a list of non-empty lines. Lists
// pass through unchanged.
func filterLines(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	switch v := in.Interface().(type) {
	case nil:
		return pongo2.AsValue([]string{}), nil
	case string:
		var lines []string
		for _, line := range strings.Split(v, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if lines == nil {
			lines = []string{}
		}
		return pongo2.AsValue(lines), nil
	default:
		return in, nil
	}
}
