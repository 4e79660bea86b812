package models

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the shared, concurrency-safe model list. The daemon reads
// it every poll while the API lists, selects and rescans.
type Registry struct {
	mu       sync.RWMutex
	root     string
	models   []Descriptor
	selected int
	logger   *slog.Logger
}

// NewRegistry builds a registry over descs with nothing selected.
func NewRegistry(root string, descs []Descriptor, logger *slog.Logger) *Registry {
	return &Registry{
		root:     root,
		models:   append([]Descriptor(nil), descs...),
		selected: -1,
		logger:   logger,
	}
}

// List returns a copy of the known models.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Descriptor(nil), r.models...)
}

// Select marks the model with id as selected.
func (r *Registry) Select(id int) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.ID == id {
			r.selected = id
			if r.logger != nil {
				r.logger.Info("model selected", "id", id, "name", m.Name)
			}
			return m, nil
		}
	}
	return Descriptor{}, fmt.Errorf("model %d not found", id)
}

// Selected returns the selected model, if any.
func (r *Registry) Selected() (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.ID == r.selected {
			return m, true
		}
	}
	return Descriptor{}, false
}

// SelectedID returns the selected id or -1.
func (r *Registry) SelectedID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Rescan rediscovers the registry root. The selection survives when a
// model with the same name is still present.
func (r *Registry) Rescan() ([]Descriptor, error) {
	descs, err := Discover(r.root, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var selectedName string
	for _, m := range r.models {
		if m.ID == r.selected {
			selectedName = m.Name
		}
	}
	r.models = descs
	r.selected = -1
	for _, m := range descs {
		if selectedName != "" && m.Name == selectedName {
			r.selected = m.ID
		}
	}
	return append([]Descriptor(nil), descs...), nil
}
