package surface

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/canvaskit/internal/gpures"
)

// Frame is one open render pass over the context target.
type Frame struct {
	ctx        *Context
	encoder    hal.CommandEncoder
	pass       hal.RenderPassEncoder
	surfaceTex hal.SurfaceTexture
	view       *gpures.Guard[hal.TextureView]
	done       bool
}

// Pass returns the render pass encoder draws are recorded into.
func (f *Frame) Pass() hal.RenderPassEncoder { return f.pass }

// Context returns the context the frame belongs to.
func (f *Frame) Context() *Context { return f.ctx }

// ResetViewport sets the viewport to the full target.
func (f *Frame) ResetViewport() {
	vp := f.ctx.Viewport()
	f.pass.SetViewport(vp[0], vp[1], vp[2], vp[3], 0, 1)
}

// Draw records a draw call and counts it.
func (f *Frame) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	f.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	f.ctx.stats.DrawCalls++
}

// End closes the pass, submits the recorded commands and presents.
func (f *Frame) End() error {
	if f.done {
		return nil
	}
	defer f.release()

	f.pass.End()
	cmd, err := f.encoder.EndEncoding()
	if err != nil {
		f.discardTexture()
		return fmt.Errorf("surface %q: end encoding: %w", f.ctx.id, err)
	}
	defer f.ctx.d.Device.FreeCommandBuffer(cmd)

	if _, err := f.ctx.d.Queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		f.discardTexture()
		return fmt.Errorf("surface %q: submit: %w", f.ctx.id, err)
	}
	if s := f.ctx.d.Surface; s != nil && f.surfaceTex != nil {
		if err := f.ctx.d.Queue.Present(s, f.surfaceTex, nil); err != nil {
			return fmt.Errorf("surface %q: present: %w", f.ctx.id, err)
		}
	}
	return nil
}

// Discard drops everything recorded and gives the surface texture back.
func (f *Frame) Discard() {
	if f.done {
		return
	}
	f.pass.End()
	f.encoder.DiscardEncoding()
	f.discardTexture()
	f.release()
}

func (f *Frame) discardTexture() {
	if s := f.ctx.d.Surface; s != nil && f.surfaceTex != nil {
		s.DiscardTexture(f.surfaceTex)
	}
}

func (f *Frame) release() {
	f.view.Release()
	f.done = true
	if f.ctx.frame == f {
		f.ctx.frame = nil
	}
}
