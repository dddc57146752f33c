// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpures wraps GPU objects so that each one is destroyed exactly once.
//
// A Guard owns a single HAL object together with the device call that
// destroys it. Release is idempotent: the first call destroys the object,
// later calls do nothing. Failures inside the destroy call are logged and
// swallowed because release runs during teardown, where there is no caller
// left to act on an error.
package gpures

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// Releaser is anything that can be released exactly once.
type Releaser interface {
	Release()
}

// Guard owns one GPU object of type T.
type Guard[T any] struct {
	label    string
	value    T
	destroy  func(T)
	released bool
}

// New wraps an already allocated object. destroy is called at most once.
func New[T any](label string, value T, destroy func(T)) *Guard[T] {
	return &Guard[T]{label: label, value: value, destroy: destroy}
}

// Get returns the guarded object, or the zero value after Release.
func (g *Guard[T]) Get() T {
	if g == nil {
		var zero T
		return zero
	}
	return g.value
}

// Label returns the debug label the object was created with.
func (g *Guard[T]) Label() string {
	if g == nil {
		return ""
	}
	return g.label
}

// Released reports whether Release has run. A nil guard counts as released.
func (g *Guard[T]) Released() bool {
	return g == nil || g.released
}

// Release destroys the guarded object. Calling it again is a no-op.
func (g *Guard[T]) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	v := g.value
	var zero T
	g.value = zero
	if g.destroy == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slogger().Warn("gpures: release failed", "label", g.label, "err", r)
		}
	}()
	g.destroy(v)
}

// Stack releases a group of guards in reverse acquisition order.
//
// Constructors push every guard they allocate and defer Release; once the
// whole object is built they call Disarm so the deferred Release does
// nothing and ownership stays with the constructed object.
type Stack struct {
	items []Releaser
}

// Push records r for release.
func (s *Stack) Push(r Releaser) {
	s.items = append(s.items, r)
}

// Len returns the number of guards held.
func (s *Stack) Len() int { return len(s.items) }

// Disarm forgets every pushed guard without releasing it.
func (s *Stack) Disarm() {
	s.items = nil
}

// Release releases every pushed guard, last pushed first.
func (s *Stack) Release() {
	for i := len(s.items) - 1; i >= 0; i-- {
		s.items[i].Release()
	}
	s.items = nil
}

// NewBuffer creates a buffer and guards it.
func NewBuffer(d hal.Device, desc *hal.BufferDescriptor) (*Guard[hal.Buffer], error) {
	b, err := d.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	return New(desc.Label, b, d.DestroyBuffer), nil
}

// NewTexture creates a texture and guards it.
func NewTexture(d hal.Device, desc *hal.TextureDescriptor) (*Guard[hal.Texture], error) {
	t, err := d.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	return New(desc.Label, t, d.DestroyTexture), nil
}

// NewTextureView creates a view of tex and guards it.
func NewTextureView(d hal.Device, tex hal.Texture, desc *hal.TextureViewDescriptor) (*Guard[hal.TextureView], error) {
	v, err := d.CreateTextureView(tex, desc)
	if err != nil {
		return nil, fmt.Errorf("create texture view %q: %w", desc.Label, err)
	}
	return New(desc.Label, v, d.DestroyTextureView), nil
}

// NewShaderModule creates a shader module and guards it.
func NewShaderModule(d hal.Device, desc *hal.ShaderModuleDescriptor) (*Guard[hal.ShaderModule], error) {
	m, err := d.CreateShaderModule(desc)
	if err != nil {
		return nil, fmt.Errorf("create shader module %q: %w", desc.Label, err)
	}
	return New(desc.Label, m, d.DestroyShaderModule), nil
}

// NewBindGroupLayout creates a bind group layout and guards it.
func NewBindGroupLayout(d hal.Device, desc *hal.BindGroupLayoutDescriptor) (*Guard[hal.BindGroupLayout], error) {
	l, err := d.CreateBindGroupLayout(desc)
	if err != nil {
		return nil, fmt.Errorf("create bind group layout %q: %w", desc.Label, err)
	}
	return New(desc.Label, l, d.DestroyBindGroupLayout), nil
}

// NewBindGroup creates a bind group and guards it.
func NewBindGroup(d hal.Device, desc *hal.BindGroupDescriptor) (*Guard[hal.BindGroup], error) {
	g, err := d.CreateBindGroup(desc)
	if err != nil {
		return nil, fmt.Errorf("create bind group %q: %w", desc.Label, err)
	}
	return New(desc.Label, g, d.DestroyBindGroup), nil
}

// NewPipelineLayout creates a pipeline layout and guards it.
func NewPipelineLayout(d hal.Device, desc *hal.PipelineLayoutDescriptor) (*Guard[hal.PipelineLayout], error) {
	l, err := d.CreatePipelineLayout(desc)
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout %q: %w", desc.Label, err)
	}
	return New(desc.Label, l, d.DestroyPipelineLayout), nil
}

// NewRenderPipeline creates a render pipeline and guards it.
func NewRenderPipeline(d hal.Device, desc *hal.RenderPipelineDescriptor) (*Guard[hal.RenderPipeline], error) {
	p, err := d.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("create render pipeline %q: %w", desc.Label, err)
	}
	return New(desc.Label, p, d.DestroyRenderPipeline), nil
}

// Writer uploads bytes into a GPU buffer. hal.Queue satisfies it, and so
// does the surface context, which also counts the bytes.
type Writer interface {
	WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error
}
