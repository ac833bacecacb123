package protocol

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

var (
	ErrProtocolExists  = errors.New("protocol: already registered")
	ErrUnknownProtocol = errors.New("protocol: unknown protocol")
)

//go:embed variants/*.toml
var variantFS embed.FS

// Registry stores definitions by id.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Definition
}

// NewRegistry creates an empty protocol registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Definition)}
}

// Register validates def and adds it.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	id := strings.TrimSpace(def.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %q", ErrProtocolExists, id)
	}
	r.items[id] = def
	return nil
}

// Resolve returns a definition by id.
func (r *Registry) Resolve(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, id)
	}
	return def, nil
}

// List returns definitions ordered by id.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.items))
	for _, def := range r.items {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// LoadFile registers one definition from a TOML file on disk.
func (r *Registry) LoadFile(filePath string) (*Definition, error) {
	var def Definition
	meta, err := toml.DecodeFile(filePath, &def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, filePath, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnknownField, filePath, undecoded[0])
	}
	if err := r.Register(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Builtin returns a registry holding every embedded variant.
func Builtin() (*Registry, error) {
	reg := NewRegistry()
	entries, err := fs.ReadDir(variantFS, "variants")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".toml" {
			continue
		}
		data, err := variantFS.ReadFile(path.Join("variants", entry.Name()))
		if err != nil {
			return nil, err
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(id)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
