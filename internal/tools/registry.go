package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"strix/internal/errors"
	"strix/internal/llm"
	"strix/internal/logging"
)

const descriptorsFile = "tools.json"

// Registry holds tool descriptors. Custom tools are persisted as JSON under
// a directory; built-ins are injected on every load and never persisted.
type Registry struct {
	dir    string
	logger logging.Logger

	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry opens the registry rooted at dir. An empty dir keeps custom
// tools in memory only.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		logger: logging.NewComponentLogger("tool-registry"),
		tools:  make(map[string]*Descriptor),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "create tool registry directory")
		}
		data, err := os.ReadFile(filepath.Join(dir, descriptorsFile))
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindInternal, err, "read tool descriptors")
		}
		if len(data) > 0 {
			var list []*Descriptor
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, errors.Wrap(errors.KindInternal, err, "parse tool descriptors")
			}
			for _, d := range list {
				r.tools[d.ID] = d
			}
		}
	}

	for _, b := range builtinDescriptors() {
		r.tools[b.ID] = b
	}
	r.logger.Debug("Loaded %d tool descriptors", len(r.tools))
	return r, nil
}

// persist must be called with r.mu held.
func (r *Registry) persist() error {
	if r.dir == "" {
		return nil
	}
	var list []*Descriptor
	for _, d := range r.tools {
		if d.IsBuiltin {
			continue
		}
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	encoded, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode tool descriptors")
	}
	if err := os.WriteFile(filepath.Join(r.dir, descriptorsFile), append(encoded, '\n'), 0o600); err != nil {
		return errors.Wrap(errors.KindInternal, err, "write tool descriptors")
	}
	return nil
}

// Register stores a custom tool descriptor.
func (r *Registry) Register(d *Descriptor) (*Descriptor, error) {
	if d.Name == "" {
		return nil, errors.New(errors.KindValidation, "tool name is required")
	}
	if !d.Kind.Valid() {
		return nil, errors.New(errors.KindValidation, "unknown tool kind: "+string(d.Kind))
	}
	if len(d.Schema) == 0 {
		return nil, errors.New(errors.KindValidation, "tool schema is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tools {
		if existing.Name == d.Name {
			return nil, errors.New(errors.KindStoreConflict, "tool already registered: "+d.Name)
		}
	}

	now := time.Now()
	stored := *d
	stored.ID = uuid.NewString()
	stored.IsBuiltin = false
	stored.IsActive = true
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.tools[stored.ID] = &stored

	if err := r.persist(); err != nil {
		delete(r.tools, stored.ID)
		return nil, err
	}
	r.logger.Info("Registered tool %s kind=%s", stored.Name, stored.Kind)
	return &stored, nil
}

// SetActive toggles a custom tool. Built-ins cannot be deactivated.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.tools[id]
	if !ok {
		return errors.New(errors.KindNotFound, "tool not found: "+id)
	}
	if d.IsBuiltin {
		return errors.New(errors.KindValidation, "built-in tools cannot be deactivated")
	}
	d.IsActive = active
	d.UpdatedAt = time.Now()
	return r.persist()
}

// Delete removes a custom tool. Built-ins cannot be deleted.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.tools[id]
	if !ok {
		return nil
	}
	if d.IsBuiltin {
		return errors.New(errors.KindValidation, "built-in tools cannot be deleted")
	}
	delete(r.tools, id)
	return r.persist()
}

// GetByID returns one descriptor by id.
func (r *Registry) GetByID(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[id]
	if !ok {
		return nil, false
	}
	copied := *d
	return &copied, true
}

// GetByName returns one descriptor by tool name.
func (r *Registry) GetByName(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.tools {
		if d.Name == name {
			copied := *d
			return &copied, true
		}
	}
	return nil, false
}

// ListActive returns all active descriptors, built-ins first, then by name.
func (r *Registry) ListActive() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, d := range r.tools {
		if d.IsActive {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsBuiltin != out[j].IsBuiltin {
			return out[i].IsBuiltin
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ChatTools renders descriptors in the wire shape advertised to the model.
func ChatTools(descriptors []*Descriptor) []llm.Tool {
	out := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out
}
