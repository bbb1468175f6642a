package layout

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/derekparker/trie"

	"github.com/go-delve/pywalk/pkg/logflags"
)

// ErrUnknownLayout is returned when a layout name is not registered.
var ErrUnknownLayout = errors.New("unknown layout")

// DefaultLayout is the layout used when none is configured.
const DefaultLayout = "cpython-2.7-amd64"

//go:embed layouts/*.yml
var builtin embed.FS

// Registry maps layout names to descriptors.
type Registry struct {
	mu    sync.RWMutex
	names *trie.Trie
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: trie.New()}
}

// Register validates d and adds it to the registry. Names are unique.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return errors.New("nil layout")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names.Find(d.name); ok {
		return fmt.Errorf("layout %q already registered", d.name)
	}
	r.names.Add(d.name, d)
	if logflags.Layout() {
		logflags.LayoutLogger().Debugf("registered layout %s (ptr-size=%d, %d type names)", d.name, d.ptrSize, len(d.kinds))
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.names.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownLayout, name)
	}
	return node.Meta().(*Descriptor), nil
}

// Complete returns the registered names starting with prefix, sorted.
func (r *Registry) Complete(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	if prefix == "" {
		names = r.names.Keys()
	} else {
		names = r.names.PrefixSearch(prefix)
	}
	sort.Strings(names)
	return names
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	return r.Complete("")
}

// Load parses a YAML layout, resolving its base in r, and registers it.
func (r *Registry) Load(data []byte) (*Descriptor, error) {
	d, err := Parse(data, r.Lookup)
	if err != nil {
		return nil, err
	}
	if err := r.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadFile is like Load but reads the layout from path.
func (r *Registry) LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := r.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// loadAll registers a set of layout files that may refer to each other as
// bases, in dependency order.
func (r *Registry) loadAll(files map[string][]byte) error {
	pending := make(map[string][]byte, len(files))
	for name, data := range files {
		pending[name] = data
	}
	for len(pending) > 0 {
		progress := false
		for name, data := range pending {
			f, err := parseFile(data)
			if err != nil {
				return fmt.Errorf("%s: %v", name, err)
			}
			if f.Base != "" {
				if _, err := r.Lookup(f.Base); err != nil {
					continue
				}
			}
			if _, err := r.Load(data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			delete(pending, name)
			progress = true
		}
		if !progress {
			var names []string
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			return fmt.Errorf("unresolvable layout bases in %v", names)
		}
	}
	return nil
}

var defaultRegistry = func() *Registry {
	r := NewRegistry()
	entries, err := builtin.ReadDir("layouts")
	if err != nil {
		panic(err)
	}
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := builtin.ReadFile(path.Join("layouts", e.Name()))
		if err != nil {
			panic(err)
		}
		files[e.Name()] = data
	}
	if err := r.loadAll(files); err != nil {
		panic(fmt.Sprintf("builtin layouts: %v", err))
	}
	return r
}()

// Default returns the registry holding the builtin layouts.
func Default() *Registry {
	return defaultRegistry
}

// Register adds d to the default registry.
func Register(d *Descriptor) error {
	return defaultRegistry.Register(d)
}

// Lookup returns the named descriptor from the default registry.
func Lookup(name string) (*Descriptor, error) {
	return defaultRegistry.Lookup(name)
}

// Complete returns the names in the default registry starting with prefix.
func Complete(prefix string) []string {
	return defaultRegistry.Complete(prefix)
}

// Names returns every name in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}

// LoadFile loads a layout file into the default registry.
func LoadFile(path string) (*Descriptor, error) {
	return defaultRegistry.LoadFile(path)
}
