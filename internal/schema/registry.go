// Package schema loads named JSON Schemas from the workspace so requests can
// refer to them by name.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"phobos.org.uk/executor/internal/api"
)

// ErrNotFound is returned by Get for unknown names.
var ErrNotFound = errors.New("schema not found")

// Logger is the subset of the structured logger the registry writes to.
type Logger interface {
	Debug(msg string, fields ...map[string]any)
	Info(msg string, fields ...map[string]any)
	Warn(msg string, fields ...map[string]any)
}

type entry struct {
	info api.SchemaInfo
	raw  json.RawMessage
}

// snapshot is immutable once published.
type snapshot struct {
	byName map[string]entry
	names  []string // Sorted
}

// Registry serves schemas from an immutable snapshot. Reload builds a new
// snapshot off to the side and swaps it in, so readers never observe a
// partially loaded set.
type Registry struct {
	dir     string
	log     Logger
	current atomic.Pointer[snapshot]
	reloads singleflight.Group
}

// NewRegistry returns an empty registry over dir. Call Load to populate it.
func NewRegistry(dir string, log Logger) *Registry {
	r := &Registry{dir: dir, log: log}
	r.current.Store(&snapshot{byName: map[string]entry{}})
	return r
}

// Dir returns the directory schemas are read from.
func (r *Registry) Dir() string {
	return r.dir
}

// Load reads every *.json file in the directory. A missing directory yields
// an empty registry. Files that fail to parse are skipped.
func (r *Registry) Load() (int, error) {
	// Concurrent reloads share one directory scan.
	v, err, _ := r.reloads.Do("load", func() (any, error) {
		snap, err := r.scan()
		if err != nil {
			return 0, err
		}
		r.current.Store(snap)
		r.log.Info("schemas loaded", map[string]any{"count": len(snap.names), "dir": r.dir})
		return len(snap.names), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Registry) scan() (*snapshot, error) {
	snap := &snapshot{byName: map[string]entry{}}

	files, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("schemas directory not found", map[string]any{"dir": r.dir})
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading schemas directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, f.Name()))
		if err != nil {
			r.log.Warn("failed to read schema", map[string]any{"file": f.Name(), "error": err.Error()})
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			r.log.Warn("skipping invalid schema", map[string]any{"file": f.Name(), "error": err.Error()})
			continue
		}

		name := Name(f.Name())
		snap.byName[name] = entry{
			info: api.SchemaInfo{
				Name:        name,
				Path:        "schemas/" + f.Name(),
				Description: describe(doc),
			},
			raw: data,
		}
		r.log.Debug("loaded schema", map[string]any{"name": name})
	}

	for name := range snap.byName {
		snap.names = append(snap.names, name)
	}
	sort.Strings(snap.names)
	return snap, nil
}

// Name derives a schema name from its file name: "task-schema.json" and
// "task.json" are both "task".
func Name(file string) string {
	if name, ok := strings.CutSuffix(file, "-schema.json"); ok {
		return name
	}
	return strings.TrimSuffix(file, ".json")
}

func describe(doc map[string]any) string {
	for _, key := range []string{"description", "title"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// List returns schema metadata sorted by name.
func (r *Registry) List() []api.SchemaInfo {
	snap := r.current.Load()
	out := make([]api.SchemaInfo, 0, len(snap.names))
	for _, name := range snap.names {
		out = append(out, snap.byName[name].info)
	}
	return out
}

// Get returns a fresh copy of the named schema. Callers may modify it.
func (r *Registry) Get(name string) (map[string]any, error) {
	e, ok := r.current.Load().byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var doc map[string]any
	if err := json.Unmarshal(e.raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding schema %s: %w", name, err)
	}
	return doc, nil
}

// Raw returns the schema document exactly as it was read from disk.
func (r *Registry) Raw(name string) (json.RawMessage, error) {
	e, ok := r.current.Load().byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.raw, nil
}
