//go:build !(js && wasm)

// Package gputest opens a noop HAL device for tests and records what the
// code under test does with it: resource creation and destruction, queue
// uploads, render passes and draw calls.
package gputest

import (
	"fmt"
	"image"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Write is one queue.WriteBuffer call.
type Write struct {
	Label  string
	Offset uint64
	Size   int
}

// Pass is one BeginRenderPass call.
type Pass struct {
	Label      string
	Load       gputypes.LoadOp
	Clear      gputypes.Color
	DepthLoad  gputypes.LoadOp
	DepthClear float32
	Ended      bool
}

// Draw is one Draw call together with the state bound when it was issued.
type Draw struct {
	Pass          int
	Pipeline      string
	Geometry      string
	Instances     string
	VertexCount   uint32
	InstanceCount uint32
	FirstInstance uint32
	Viewport      [4]float32
}

// Recorder accumulates everything observed on the wrapped device.
type Recorder struct {
	BuffersCreated   int
	BuffersDestroyed int
	TexturesCreated  int
	TexturesDestroy  int
	PipelinesCreated int
	Submits          int
	Presents         int
	Writes           []Write
	Passes           []Pass
	Draws            []Draw
	// Events is an ordered log: "pass:<label>", "pipeline:<label>",
	// "draw:<pipeline>", "submit", "present".
	Events []string

	// FailCreate, when set, is consulted before every buffer, texture and
	// pipeline creation; a non-nil error is returned to the caller.
	FailCreate func(label string) error

	// FailWrite, when set, is consulted before every queue write to the
	// labelled buffer; a non-nil error is returned and nothing is written.
	FailWrite func(label string) error

	labels   map[hal.Buffer]string
	contents map[hal.Buffer][]byte
}

// Pipeline stands in for a noop render pipeline so that pipelines can be
// told apart by label.
type Pipeline struct {
	Label string
}

// Destroy is a no-op.
func (*Pipeline) Destroy() {}

// Device wraps a noop device.
type Device struct {
	hal.Device
	rec *Recorder
}

// Queue wraps a noop queue.
type Queue struct {
	hal.Queue
	rec *Recorder
}

// Open creates a recording noop device and queue. Resources are torn down
// with t.Cleanup.
func Open(t testing.TB) (*Device, *Queue, *Recorder) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	rec := &Recorder{
		labels:   make(map[hal.Buffer]string),
		contents: make(map[hal.Buffer][]byte),
	}
	return &Device{Device: openDev.Device, rec: rec}, &Queue{Queue: openDev.Queue, rec: rec}, rec
}

// LiveBuffers returns created minus destroyed buffers.
func (r *Recorder) LiveBuffers() int { return r.BuffersCreated - r.BuffersDestroyed }

// Label returns the creation label of buf.
func (r *Recorder) Label(buf hal.Buffer) string { return r.labels[buf] }

// Contents returns the bytes written to buf so far.
func (r *Recorder) Contents(buf hal.Buffer) []byte { return r.contents[buf] }

// Clears returns the number of render passes that cleared the color target.
func (r *Recorder) Clears() int {
	n := 0
	for _, p := range r.Passes {
		if p.Load == gputypes.LoadOpClear {
			n++
		}
	}
	return n
}

// WritesTo returns the writes that targeted buffers with the given label.
func (r *Recorder) WritesTo(label string) []Write {
	var out []Write
	for _, w := range r.Writes {
		if w.Label == label {
			out = append(out, w)
		}
	}
	return out
}

// Reset forgets recorded writes, passes, draws and events but keeps the
// resource counters and buffer contents.
func (r *Recorder) Reset() {
	r.Writes = nil
	r.Passes = nil
	r.Draws = nil
	r.Events = nil
	r.Submits = 0
	r.Presents = 0
}

func (r *Recorder) fail(label string) error {
	if r.FailCreate == nil {
		return nil
	}
	return r.FailCreate(label)
}

// CreateBuffer records the buffer and its label.
func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if err := d.rec.fail(desc.Label); err != nil {
		return nil, err
	}
	b, err := d.Device.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	d.rec.BuffersCreated++
	d.rec.labels[b] = desc.Label
	d.rec.contents[b] = make([]byte, desc.Size)
	return b, nil
}

// DestroyBuffer counts the destruction.
func (d *Device) DestroyBuffer(b hal.Buffer) {
	d.rec.BuffersDestroyed++
	delete(d.rec.contents, b)
	d.Device.DestroyBuffer(b)
}

// CreateTexture counts the texture.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if err := d.rec.fail(desc.Label); err != nil {
		return nil, err
	}
	t, err := d.Device.CreateTexture(desc)
	if err != nil {
		return nil, err
	}
	d.rec.TexturesCreated++
	return t, nil
}

// DestroyTexture counts the destruction.
func (d *Device) DestroyTexture(t hal.Texture) {
	d.rec.TexturesDestroy++
	d.Device.DestroyTexture(t)
}

// CreateRenderPipeline returns a labelled pipeline.
func (d *Device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	if err := d.rec.fail(desc.Label); err != nil {
		return nil, err
	}
	d.rec.PipelinesCreated++
	return &Pipeline{Label: desc.Label}, nil
}

// DestroyRenderPipeline accepts pipelines created by CreateRenderPipeline.
func (d *Device) DestroyRenderPipeline(hal.RenderPipeline) {}

// CreateCommandEncoder returns a recording encoder.
func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &encoder{CommandEncoder: enc, rec: d.rec}, nil
}

// WriteBuffer records the upload and mirrors it into Contents.
func (q *Queue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	shadow, ok := q.rec.contents[buf]
	if !ok {
		return fmt.Errorf("gputest: write to unknown or destroyed buffer")
	}
	if offset+uint64(len(data)) > uint64(len(shadow)) {
		return fmt.Errorf("gputest: write [%d,%d) past buffer size %d", offset, offset+uint64(len(data)), len(shadow))
	}
	if q.rec.FailWrite != nil {
		if err := q.rec.FailWrite(q.rec.labels[buf]); err != nil {
			return err
		}
	}
	copy(shadow[offset:], data)
	q.rec.Writes = append(q.rec.Writes, Write{Label: q.rec.labels[buf], Offset: offset, Size: len(data)})
	return q.Queue.WriteBuffer(buf, offset, data)
}

// Submit counts submissions.
func (q *Queue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	q.rec.Submits++
	q.rec.Events = append(q.rec.Events, "submit")
	return q.Queue.Submit(cmds)
}

// Present counts presentations.
func (q *Queue) Present(s hal.Surface, tex hal.SurfaceTexture, damage []image.Rectangle) error {
	q.rec.Presents++
	q.rec.Events = append(q.rec.Events, "present")
	return q.Queue.Present(s, tex, damage)
}

type encoder struct {
	hal.CommandEncoder
	rec *Recorder
}

func (e *encoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	p := Pass{Label: desc.Label}
	if len(desc.ColorAttachments) > 0 {
		p.Load = desc.ColorAttachments[0].LoadOp
		p.Clear = desc.ColorAttachments[0].ClearValue
	}
	if ds := desc.DepthStencilAttachment; ds != nil {
		p.DepthLoad = ds.DepthLoadOp
		p.DepthClear = ds.DepthClearValue
	}
	e.rec.Passes = append(e.rec.Passes, p)
	e.rec.Events = append(e.rec.Events, "pass:"+desc.Label)
	return &renderPass{
		RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc),
		rec:               e.rec,
		index:             len(e.rec.Passes) - 1,
		slots:             make(map[uint32]string),
	}
}

type renderPass struct {
	hal.RenderPassEncoder
	rec      *Recorder
	index    int
	pipeline string
	slots    map[uint32]string
	viewport [4]float32
}

func (p *renderPass) SetPipeline(pl hal.RenderPipeline) {
	p.pipeline = ""
	if lp, ok := pl.(*Pipeline); ok {
		p.pipeline = lp.Label
	}
	p.rec.Events = append(p.rec.Events, "pipeline:"+p.pipeline)
	p.RenderPassEncoder.SetPipeline(pl)
}

func (p *renderPass) SetVertexBuffer(slot uint32, buf hal.Buffer, offset uint64) {
	p.slots[slot] = p.rec.labels[buf]
	p.RenderPassEncoder.SetVertexBuffer(slot, buf, offset)
}

func (p *renderPass) SetViewport(x, y, w, h, minDepth, maxDepth float32) {
	p.viewport = [4]float32{x, y, w, h}
	p.RenderPassEncoder.SetViewport(x, y, w, h, minDepth, maxDepth)
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.rec.Draws = append(p.rec.Draws, Draw{
		Pass:          p.index,
		Pipeline:      p.pipeline,
		Geometry:      p.slots[0],
		Instances:     p.slots[1],
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstInstance: firstInstance,
		Viewport:      p.viewport,
	})
	p.rec.Events = append(p.rec.Events, "draw:"+p.pipeline)
	p.RenderPassEncoder.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (p *renderPass) End() {
	p.rec.Passes[p.index].Ended = true
	p.RenderPassEncoder.End()
}
