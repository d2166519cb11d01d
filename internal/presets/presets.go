// Package presets holds the built-in build options shipped with boxes.
package presets

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/boxes/internal/build"
)

const presetExtension = ".yaml"

//go:embed assets/*.yaml
var embedded embed.FS

// ErrNotFound is returned for unknown preset names.
var ErrNotFound = errors.New("preset not found")

// Preset is a named set of build options.
type Preset struct {
	Name    string
	Options build.Options
}

// EmbeddedRepository contains the built-in presets.
type EmbeddedRepository struct {
	presets map[string]Preset
	order   []string
}

// NewEmbeddedRepository loads every embedded preset.
func NewEmbeddedRepository() (*EmbeddedRepository, error) {
	repo := &EmbeddedRepository{presets: make(map[string]Preset)}

	entries, err := fs.ReadDir(embedded, "assets")
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), presetExtension) {
			continue
		}
		preset, err := load(path.Join("assets", entry.Name()))
		if err != nil {
			return nil, err
		}
		repo.append(preset)
	}
	return repo, nil
}

// Get returns the preset called name.
func (r *EmbeddedRepository) Get(name string) (Preset, error) {
	preset, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	preset.Options.Scripts = slices.Clone(preset.Options.Scripts)
	return preset, nil
}

// ListAll returns every preset, sorted by name.
func (r *EmbeddedRepository) ListAll() []Preset {
	presets := make([]Preset, 0, len(r.order))
	for _, name := range r.order {
		presets = append(presets, r.presets[name])
	}
	return presets
}

func (r *EmbeddedRepository) append(preset Preset) {
	if _, exists := r.presets[preset.Name]; !exists {
		r.order = append(r.order, preset.Name)
		slices.Sort(r.order)
	}
	r.presets[preset.Name] = preset
}

func load(file string) (Preset, error) {
	data, err := embedded.ReadFile(file)
	if err != nil {
		return Preset{}, fmt.Errorf("read preset %s: %w", file, err)
	}

	var opts build.Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return Preset{}, fmt.Errorf("parse preset %s: %w", file, err)
	}

	return Preset{
		Name:    strings.TrimSuffix(path.Base(file), presetExtension),
		Options: opts,
	}, nil
}
