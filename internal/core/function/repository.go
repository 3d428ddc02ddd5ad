package function

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileSystemFunctionRepository loads function descriptors from *.yaml files in a
// directory. Each file contains exactly one descriptor at the top level.
// Descriptors are loaded once at startup and cached in memory — no hot reload.
type FileSystemFunctionRepository struct {
	dir       string
	functions map[string]*FunctionDescriptor // keyed by upper-cased Name
}

// NewFileSystemFunctionRepository creates a repository and eagerly loads all
// descriptors from dir. Returns an error if any descriptor file is malformed.
func NewFileSystemFunctionRepository(dir string) (*FileSystemFunctionRepository, error) {
	repo := &FileSystemFunctionRepository{
		dir:       dir,
		functions: make(map[string]*FunctionDescriptor),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemFunctionRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no functions directory — valid (zero functions configured)
	}
	if err != nil {
		return fmt.Errorf("function config dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("function config path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading function config dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading function file %s: %w", path, err)
		}

		var desc FunctionDescriptor
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return fmt.Errorf("parsing function file %s: %w", path, err)
		}
		if desc.Name == "" {
			continue // skip empty / comment-only files
		}

		if err := desc.Validate(); err != nil {
			return fmt.Errorf("function file %s: %w", path, err)
		}
		desc.sortParameters()

		key := strings.ToUpper(desc.Name)
		if _, exists := r.functions[key]; exists {
			return fmt.Errorf("duplicate function name %q (names are case-insensitive)", desc.Name)
		}
		r.functions[key] = &desc
	}

	return nil
}

// Descriptors returns all loaded descriptors sorted by name.
func (r *FileSystemFunctionRepository) Descriptors() []*FunctionDescriptor {
	out := make([]*FunctionDescriptor, 0, len(r.functions))
	for _, d := range r.functions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry provides case-insensitive function lookup over an immutable
// descriptor set. It is constructed once at startup and passed by reference
// into every component that needs it; there is no ambient global registry.
type Registry struct {
	functions map[string]*FunctionDescriptor
}

// NewRegistry builds a registry from a descriptor slice.
func NewRegistry(descriptors []*FunctionDescriptor) (*Registry, error) {
	funcs := make(map[string]*FunctionDescriptor, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToUpper(d.Name)
		if _, exists := funcs[key]; exists {
			return nil, fmt.Errorf("duplicate function name %q (names are case-insensitive)", d.Name)
		}
		funcs[key] = d
	}
	return &Registry{functions: funcs}, nil
}

// Lookup resolves a function name case-insensitively.
func (r *Registry) Lookup(name string) (*FunctionDescriptor, bool) {
	d, ok := r.functions[strings.ToUpper(strings.TrimSpace(name))]
	return d, ok
}

// All returns every registered descriptor sorted by name.
func (r *Registry) All() []*FunctionDescriptor {
	out := make([]*FunctionDescriptor, 0, len(r.functions))
	for _, d := range r.functions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
