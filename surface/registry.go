// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Errors.
var (
	// ErrNotFound is returned when no drawable is registered under an id.
	ErrNotFound = errors.New("canvaskit: surface not found")

	// ErrDuplicate is returned when registering an id that is already taken.
	ErrDuplicate = errors.New("surface: drawable already registered")

	// ErrInvalidDrawable is returned for a drawable without device or queue.
	ErrInvalidDrawable = errors.New("surface: drawable needs a device and a queue")
)

// NotFoundError names the id that failed to resolve.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "canvaskit: surface not found: " + e.ID
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// globalRegistry is the default registry.
var globalRegistry = NewRegistry()

// Registry maps ids to drawables.
//
// Hosts register the drawables they create (a window, an offscreen
// target) and renderers look them up by id:
//
//	surface.Register("main", surface.Drawable{Device: dev, Queue: q, Width: 800, Height: 600})
//	ctx, err := surface.NewContext("main")
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Drawable
}

// NewRegistry creates a new empty registry.
// Most code should use the global registry via Register and Lookup.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Drawable)}
}

// Register adds a drawable to the global registry.
func Register(id string, d Drawable) error {
	return globalRegistry.Register(id, d)
}

// RegisterAnonymous adds a drawable to the global registry under a fresh id.
func RegisterAnonymous(d Drawable) (string, error) {
	return globalRegistry.RegisterAnonymous(d)
}

// Unregister removes a drawable from the global registry.
func Unregister(id string) {
	globalRegistry.Unregister(id)
}

// Lookup returns the drawable registered under id in the global registry.
func Lookup(id string) (Drawable, error) {
	return globalRegistry.Lookup(id)
}

// IDs returns the registered ids of the global registry, sorted.
func IDs() []string {
	return globalRegistry.IDs()
}

// Register adds d under id. An id can be registered once until it is
// unregistered.
func (r *Registry) Register(id string, d Drawable) error {
	if err := d.validate(); err != nil {
		return fmt.Errorf("register %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, id)
	}
	r.entries[id] = d
	return nil
}

// RegisterAnonymous adds d under a random UUID and returns it.
func (r *Registry) RegisterAnonymous(d Drawable) (string, error) {
	id := uuid.New().String()
	if err := r.Register(id, d); err != nil {
		return "", err
	}
	return id, nil
}

// Unregister removes id. Contexts already built from it keep working.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// Lookup returns the drawable for id, or a *NotFoundError.
func (r *Registry) Lookup(id string) (Drawable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[id]
	if !ok {
		return Drawable{}, &NotFoundError{ID: id}
	}
	return d, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
