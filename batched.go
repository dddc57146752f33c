// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package canvaskit

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/canvaskit/internal/gpures"
	"github.com/gogpu/canvaskit/internal/instances"
	"github.com/gogpu/canvaskit/internal/shaders"
	"github.com/gogpu/canvaskit/surface"
)

const (
	// MeshVertexFloats is the per-vertex layout of mesh geometry:
	// position xyz followed by color rgba.
	MeshVertexFloats = 7

	meshVertexStride = MeshVertexFloats * 4
	minMeshVertices  = 3

	// cameraUniformSize holds the view and projection matrices.
	cameraUniformSize = 2 * 64
)

// MeshHandle identifies a mesh registered with a BatchedRenderer.
type MeshHandle uint64

// InstanceHandle identifies one placed instance of a mesh.
type InstanceHandle uint64

type meshRecord struct {
	geometry    *gpures.Guard[hal.Buffer]
	vertexCount int
	instances   *instances.Buffer
}

func (m *meshRecord) release() {
	m.instances.Clear()
	m.instances.Release()
	m.geometry.Release()
}

// meshPipeline holds the GPU objects shared by every mesh of a renderer.
type meshPipeline struct {
	shader     *gpures.Guard[hal.ShaderModule]
	bindLayout *gpures.Guard[hal.BindGroupLayout]
	pipeLayout *gpures.Guard[hal.PipelineLayout]
	pipeline   *gpures.Guard[hal.RenderPipeline]
	camera     *gpures.Guard[hal.Buffer]
	bindGroup  *gpures.Guard[hal.BindGroup]
}

// BatchedRenderer draws many instances of registered meshes, one draw call
// per batch of instances.
//
// Geometry is uploaded once at registration. Instance transforms live in
// per-mesh instance buffers that upload only the ranges changed since the
// previous frame.
type BatchedRenderer struct {
	binding
	opts options
	log  *slog.Logger

	pipe   *meshPipeline
	meshes instances.Table[*meshRecord]
	store  instances.Store

	transient []InstanceHandle

	view, projection Mat4
	cameraDirty      bool

	maxInstances int
	ceiling      int
	registered   int
}

// NewBatchedRenderer creates a standalone renderer for the drawable
// registered under surfaceID. It owns its surface context and clears the
// target on every Render.
func NewBatchedRenderer(surfaceID string, opts ...Option) (*BatchedRenderer, error) {
	o := buildOptions(opts)
	ctx, err := surface.NewContext(surfaceID, append([]surface.ContextOption{surface.WithLabel(o.label)}, o.contextOpts...)...)
	if err != nil {
		return nil, err
	}
	r, err := newBatchedRenderer(ctx, true, o)
	if err != nil {
		ctx.Free()
		return nil, err
	}
	return r, nil
}

func newBatchedRenderer(ctx *surface.Context, owned bool, o options) (*BatchedRenderer, error) {
	r := &BatchedRenderer{
		binding:     newBinding(ctx, owned),
		opts:        o,
		log:         Logger(),
		view:        Identity(),
		projection:  Identity(),
		cameraDirty: true,
	}

	r.maxInstances = o.maxInstances
	if r.maxInstances == 0 {
		r.maxInstances = max(int(ctx.Limits().MaxUniformBufferBindingSize)/instances.Stride, 1)
	}
	r.ceiling = o.ceiling
	if o.legacyCap {
		r.ceiling = r.maxInstances
	}

	pipe, err := r.createPipeline()
	if err != nil {
		return nil, err
	}
	r.pipe = pipe
	r.log.Info("canvaskit: batched renderer created",
		"label", o.label, "max_instances", r.maxInstances, "ceiling", r.ceiling)
	return r, nil
}

// createPipeline builds the mesh pipeline: shader, camera uniform layout,
// pipeline layout, render pipeline, then the camera buffer and its bind
// group. Anything created before a failure is released.
func (r *BatchedRenderer) createPipeline() (*meshPipeline, error) {
	device := r.ctx.Device()
	label := r.opts.label
	var stack gpures.Stack
	defer stack.Release()

	shader, err := shaders.Module(device, label+"_mesh_shader", shaders.Mesh, r.opts.spirv)
	if err != nil {
		return nil, fmt.Errorf("create mesh pipeline: %w", err)
	}
	stack.Push(shader)

	bindLayout, err := gpures.NewBindGroupLayout(device, &hal.BindGroupLayoutDescriptor{
		Label: label + "_camera_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex,
				Buffer: &gputypes.BufferBindingLayout{
					Type:           gputypes.BufferBindingTypeUniform,
					MinBindingSize: cameraUniformSize,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create mesh pipeline: %w", err)
	}
	stack.Push(bindLayout)

	pipeLayout, err := gpures.NewPipelineLayout(device, &hal.PipelineLayoutDescriptor{
		Label:            label + "_mesh_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout.Get()},
	})
	if err != nil {
		return nil, fmt.Errorf("create mesh pipeline: %w", err)
	}
	stack.Push(pipeLayout)

	blend := gputypes.BlendStateAlpha()
	pipeline, err := gpures.NewRenderPipeline(device, &hal.RenderPipelineDescriptor{
		Label:  label + "_mesh_pipeline",
		Layout: pipeLayout.Get(),
		Vertex: hal.VertexState{
			Module:     shader.Get(),
			EntryPoint: "vs_main",
			Buffers:    meshVertexLayouts(),
		},
		Fragment: &hal.FragmentState{
			Module:     shader.Get(),
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    r.ctx.Format(),
					Blend:     &blend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		DepthStencil: &hal.DepthStencilState{
			Format:            r.ctx.DepthFormat(),
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLessEqual,
			StencilReadMask:   0xFF,
			StencilWriteMask:  0xFF,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  gputypes.PrimitiveTopologyTriangleList,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  gputypes.CullModeBack,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create mesh pipeline: %w", err)
	}
	stack.Push(pipeline)

	camera, err := gpures.NewBuffer(device, &hal.BufferDescriptor{
		Label: label + "_camera",
		Size:  cameraUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create mesh pipeline: %w", err)
	}
	stack.Push(camera)

	bindGroup, err := gpures.NewBindGroup(device, &hal.BindGroupDescriptor{
		Label:  label + "_camera_bind",
		Layout: bindLayout.Get(),
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: camera.Get().NativeHandle(),
				Offset: 0,
				Size:   cameraUniformSize,
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create mesh pipeline: %w", err)
	}
	stack.Push(bindGroup)
	stack.Disarm()

	return &meshPipeline{
		shader:     shader,
		bindLayout: bindLayout,
		pipeLayout: pipeLayout,
		pipeline:   pipeline,
		camera:     camera,
		bindGroup:  bindGroup,
	}, nil
}

// meshVertexLayouts describes slot 0 (per-vertex geometry) and slot 1
// (per-instance model matrix, one vec4 per column).
func meshVertexLayouts() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: meshVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
				{Format: gputypes.VertexFormatFloat32x4, Offset: 12, ShaderLocation: 1},
			},
		},
		{
			ArrayStride: instances.Stride,
			StepMode:    gputypes.VertexStepModeInstance,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 2},
				{Format: gputypes.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 3},
				{Format: gputypes.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 4},
				{Format: gputypes.VertexFormatFloat32x4, Offset: 48, ShaderLocation: 5},
			},
		},
	}
}

func (p *meshPipeline) release() {
	if p == nil {
		return
	}
	p.bindGroup.Release()
	p.camera.Release()
	p.pipeline.Release()
	p.pipeLayout.Release()
	p.bindLayout.Release()
	p.shader.Release()
}

// RegisterMesh uploads geometry given as 7 floats per vertex (x, y, z, r,
// g, b, a) and returns its handle. Geometry that is empty, not a multiple
// of 7 floats, or shorter than 3 vertices is rejected with
// ErrInvalidMeshData before any GPU memory is allocated.
func (r *BatchedRenderer) RegisterMesh(vertexData []float32) (MeshHandle, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	n := len(vertexData)
	switch {
	case n == 0:
		return 0, fmt.Errorf("%w: no vertex data", ErrInvalidMeshData)
	case n%MeshVertexFloats != 0:
		return 0, fmt.Errorf("%w: %d floats is not a multiple of %d", ErrInvalidMeshData, n, MeshVertexFloats)
	case n/MeshVertexFloats < minMeshVertices:
		return 0, fmt.Errorf("%w: %d vertices, need at least %d", ErrInvalidMeshData, n/MeshVertexFloats, minMeshVertices)
	}

	idx := r.registered
	geometry, err := gpures.NewBuffer(r.ctx.Device(), &hal.BufferDescriptor{
		Label: fmt.Sprintf("%s_mesh_%d", r.opts.label, idx),
		Size:  uint64(n) * 4,
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("register mesh: %w", err)
	}
	data := make([]byte, n*4)
	for i, f := range vertexData {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	if err := r.ctx.WriteBuffer(geometry.Get(), 0, data); err != nil {
		geometry.Release()
		return 0, fmt.Errorf("register mesh: %w", err)
	}

	r.registered++
	rec := &meshRecord{geometry: geometry, vertexCount: n / MeshVertexFloats}
	h := r.meshes.Insert(rec)
	rec.instances = instances.NewBuffer(r.ctx.Device(), &r.store, instances.Config{
		Owner:     uint64(h),
		Label:     fmt.Sprintf("%s_mesh_%d", r.opts.label, idx),
		BatchSize: r.maxInstances,
		Ceiling:   r.ceiling,
		Logger:    r.log,
	})
	return MeshHandle(h), nil
}

// RemoveMesh releases a mesh, its geometry and all of its instances.
// Their handles become stale.
func (r *BatchedRenderer) RemoveMesh(mesh MeshHandle) error {
	if r.freed {
		return ErrUseAfterFree
	}
	rec, ok := r.meshes.Remove(instances.Handle(mesh))
	if !ok {
		return fmt.Errorf("%w: mesh %#x", ErrUnknownHandle, uint64(mesh))
	}
	rec.release()
	return nil
}

// MeshCount returns the number of registered meshes.
func (r *BatchedRenderer) MeshCount() (int, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	return r.meshes.Len(), nil
}

func (r *BatchedRenderer) mesh(h MeshHandle) (*meshRecord, error) {
	rec, ok := r.meshes.Get(instances.Handle(h))
	if !ok {
		return nil, fmt.Errorf("%w: mesh %#x", ErrUnknownHandle, uint64(h))
	}
	return rec, nil
}

// owner finds the mesh that holds instance h.
func (r *BatchedRenderer) owner(h InstanceHandle) (*meshRecord, error) {
	loc, ok := r.store.Lookup(instances.Handle(h))
	if !ok {
		return nil, fmt.Errorf("%w: instance %#x", ErrUnknownHandle, uint64(h))
	}
	return r.mesh(MeshHandle(loc.Owner))
}

// CreateInstance places an instance of mesh with the given transform.
// Instances beyond MaxInstances spill into further batches; only a
// configured ceiling makes creation fail, with ErrCapacityExceeded.
func (r *BatchedRenderer) CreateInstance(mesh MeshHandle, transform Mat4) (InstanceHandle, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	rec, err := r.mesh(mesh)
	if err != nil {
		return 0, err
	}
	h, err := rec.instances.Insert(instances.Matrix(transform))
	if err != nil {
		return 0, err
	}
	return InstanceHandle(h), nil
}

// QueueInstance places an instance that is drawn by the next Render only.
func (r *BatchedRenderer) QueueInstance(mesh MeshHandle, transform Mat4) error {
	h, err := r.CreateInstance(mesh, transform)
	if err != nil {
		return err
	}
	r.transient = append(r.transient, h)
	return nil
}

// SetInstanceTransform replaces the transform of an instance.
func (r *BatchedRenderer) SetInstanceTransform(h InstanceHandle, transform Mat4) error {
	if r.freed {
		return ErrUseAfterFree
	}
	rec, err := r.owner(h)
	if err != nil {
		return err
	}
	return rec.instances.Update(instances.Handle(h), instances.Matrix(transform))
}

// InstanceTransform returns the current transform of an instance.
func (r *BatchedRenderer) InstanceTransform(h InstanceHandle) (Mat4, error) {
	if r.freed {
		return Mat4{}, ErrUseAfterFree
	}
	rec, err := r.owner(h)
	if err != nil {
		return Mat4{}, err
	}
	m, err := rec.instances.Transform(instances.Handle(h))
	return Mat4(m), err
}

// RemoveInstance deletes an instance.
func (r *BatchedRenderer) RemoveInstance(h InstanceHandle) error {
	if r.freed {
		return ErrUseAfterFree
	}
	rec, err := r.owner(h)
	if err != nil {
		return err
	}
	return rec.instances.Remove(instances.Handle(h))
}

// InstanceCount returns the number of live instances over all meshes.
func (r *BatchedRenderer) InstanceCount() (int, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	return r.store.Len(), nil
}

// MaxInstances returns how many instances one batch, and so one draw
// call, holds.
func (r *BatchedRenderer) MaxInstances() (int, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	return r.maxInstances, nil
}

// SetViewMatrix sets the camera view transform.
func (r *BatchedRenderer) SetViewMatrix(m Mat4) error {
	if r.freed {
		return ErrUseAfterFree
	}
	r.view = m
	r.cameraDirty = true
	return nil
}

// SetProjectionMatrix sets the camera projection.
func (r *BatchedRenderer) SetProjectionMatrix(m Mat4) error {
	if r.freed {
		return ErrUseAfterFree
	}
	r.projection = m
	r.cameraDirty = true
	return nil
}

// Resize updates the viewport. A standalone renderer also resizes its
// target. The projection matrix is left as the host set it.
func (r *BatchedRenderer) Resize(width, height int) error {
	if r.freed {
		return ErrUseAfterFree
	}
	return r.resizeOwned(width, height)
}

// Compact shrinks every instance buffer to its live instances.
func (r *BatchedRenderer) Compact() error {
	if r.freed {
		return ErrUseAfterFree
	}
	var firstErr error
	r.meshes.Each(func(_ instances.Handle, rec *meshRecord) {
		if _, err := rec.instances.Compact(r.ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("compact: %w", err)
		}
	})
	return firstErr
}

// Clear removes every mesh and instance.
func (r *BatchedRenderer) Clear() error {
	if r.freed {
		return ErrUseAfterFree
	}
	r.meshes.Each(func(_ instances.Handle, rec *meshRecord) { rec.release() })
	r.meshes.Clear()
	r.transient = r.transient[:0]
	return nil
}

// Render draws every instance. A standalone renderer renders a full frame
// and clears first; a renderer added to a Composer draws over the
// current target contents.
func (r *BatchedRenderer) Render() error {
	if r.freed {
		return ErrUseAfterFree
	}
	return r.frame(r.renderPass)
}

// Flush is Render.
func (r *BatchedRenderer) Flush() error { return r.Render() }

// renderPass uploads pending changes and records the draws of every mesh
// into f. It sets all the state it relies on, since the previous pass may
// have left anything bound.
func (r *BatchedRenderer) renderPass(f *surface.Frame) error {
	if r.store.Len() == 0 {
		return nil
	}
	defer r.dropTransient()

	if r.cameraDirty {
		var data [cameraUniformSize]byte
		for i, v := range r.view {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		for i, v := range r.projection {
			binary.LittleEndian.PutUint32(data[64+i*4:], math.Float32bits(v))
		}
		if err := r.ctx.WriteBuffer(r.pipe.camera.Get(), 0, data[:]); err != nil {
			return fmt.Errorf("upload camera: %w", err)
		}
		r.cameraDirty = false
	}

	rp := f.Pass()
	rp.SetPipeline(r.pipe.pipeline.Get())
	rp.SetBindGroup(0, r.pipe.bindGroup.Get(), nil)
	r.setViewport(f)

	var firstErr error
	r.meshes.Each(func(h instances.Handle, rec *meshRecord) {
		if firstErr != nil || rec.instances.Len() == 0 {
			return
		}
		if _, err := rec.instances.Flush(r.ctx); err != nil {
			firstErr = fmt.Errorf("flush mesh %#x: %w", uint64(h), err)
			return
		}
		rp.SetVertexBuffer(0, rec.geometry.Get(), 0)
		for _, b := range rec.instances.Batches() {
			rp.SetVertexBuffer(1, b.Buffer, 0)
			f.Draw(uint32(rec.vertexCount), uint32(b.Count), 0, 0)
		}
	})
	return firstErr
}

func (r *BatchedRenderer) dropTransient() {
	for _, h := range r.transient {
		if rec, err := r.owner(h); err == nil {
			_ = rec.instances.Remove(instances.Handle(h))
		}
	}
	r.transient = r.transient[:0]
}

// Free releases every GPU object of the renderer. Calling it again does
// nothing; any other method afterwards returns ErrUseAfterFree.
func (r *BatchedRenderer) Free() {
	if r.freed {
		return
	}
	r.meshes.Each(func(_ instances.Handle, rec *meshRecord) { rec.release() })
	r.meshes.Clear()
	r.pipe.release()
	r.release()
	r.log.Debug("canvaskit: batched renderer freed", "label", r.opts.label)
}
