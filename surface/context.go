// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/canvaskit/internal/gpures"
)

// Context errors.
var (
	// ErrFreed is returned by every operation after Free.
	ErrFreed = errors.New("surface: context freed")

	// ErrFrameInProgress is returned by BeginFrame while another frame is open.
	ErrFrameInProgress = errors.New("surface: frame already in progress")
)

// ClearValues are the color and depth a frame starts from.
type ClearValues struct {
	Color gputypes.Color
	Depth float32
}

// Stats counts the work a context has done.
type Stats struct {
	Frames        uint64
	Clears        uint64
	DrawCalls     uint64
	BytesUploaded uint64
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("Stats[frames=%d clears=%d draws=%d uploaded=%dB]",
		s.Frames, s.Clears, s.DrawCalls, s.BytesUploaded)
}

// Context is the shared render target of one drawable.
type Context struct {
	id   string
	d    Drawable
	opts contextOptions

	width, height int

	depth     *gpures.Guard[hal.Texture]
	depthView *gpures.Guard[hal.TextureView]

	// Offscreen target, used when the drawable has no window surface.
	color     *gpures.Guard[hal.Texture]
	colorView *gpures.Guard[hal.TextureView]

	frame *Frame
	stats Stats
	freed bool
}

// NewContext builds a context for the drawable registered under id.
func NewContext(id string, opts ...ContextOption) (*Context, error) {
	d, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	return Open(id, d, opts...)
}

// Open builds a context for d without going through the registry. id is
// only used for labels and logs.
func Open(id string, d Drawable, opts ...ContextOption) (*Context, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d = d.withDefaults()

	c := &Context{id: id, d: d, opts: o}
	if err := c.configure(d.Width, d.Height); err != nil {
		c.releaseTargets()
		return nil, fmt.Errorf("surface %q: %w", id, err)
	}
	slogger().Info("surface: context created",
		"id", id, "width", c.width, "height", c.height, "offscreen", d.Surface == nil)
	return c, nil
}

// ID returns the drawable id.
func (c *Context) ID() string { return c.id }

// Device returns the HAL device.
func (c *Context) Device() hal.Device { return c.d.Device }

// Queue returns the HAL queue.
func (c *Context) Queue() hal.Queue { return c.d.Queue }

// Limits returns the device limits.
func (c *Context) Limits() gputypes.Limits { return c.d.Limits }

// Format returns the color target format.
func (c *Context) Format() gputypes.TextureFormat { return c.d.Format }

// DepthFormat returns the depth buffer format.
func (c *Context) DepthFormat() gputypes.TextureFormat { return c.opts.depthFormat }

// Label returns the debug label prefix.
func (c *Context) Label() string { return c.opts.label }

// Size returns the target size in pixels.
func (c *Context) Size() (width, height int) { return c.width, c.height }

// Viewport returns x, y, width, height of the full-target viewport.
func (c *Context) Viewport() [4]float32 {
	return [4]float32{0, 0, float32(c.width), float32(c.height)}
}

// Stats returns the counters accumulated so far.
func (c *Context) Stats() Stats { return c.stats }

// Freed reports whether Free has been called.
func (c *Context) Freed() bool { return c.freed }

// Resize reconfigures the target. Sizes below 1 are raised to 1. Resizing
// to the current size does nothing.
func (c *Context) Resize(width, height int) error {
	if c.freed {
		return ErrFreed
	}
	if c.frame != nil {
		return ErrFrameInProgress
	}
	width, height = max(width, 1), max(height, 1)
	if width == c.width && height == c.height {
		return nil
	}
	if err := c.configure(width, height); err != nil {
		return fmt.Errorf("surface %q: resize: %w", c.id, err)
	}
	slogger().Debug("surface: resized", "id", c.id, "width", width, "height", height)
	return nil
}

// configure (re)creates every size-dependent object. On failure the
// previous targets stay in place.
func (c *Context) configure(width, height int) error {
	if s := c.d.Surface; s != nil {
		err := s.Configure(c.d.Device, &hal.SurfaceConfiguration{
			Width:       uint32(width),
			Height:      uint32(height),
			Format:      c.d.Format,
			Usage:       gputypes.TextureUsageRenderAttachment,
			PresentMode: c.opts.presentMode,
			AlphaMode:   gputypes.CompositeAlphaModeOpaque,
		})
		if err != nil {
			return fmt.Errorf("configure surface: %w", err)
		}
	}

	var stack gpures.Stack
	defer stack.Release()

	depth, depthView, err := c.attachment("depth", width, height, c.opts.depthFormat)
	if err != nil {
		return err
	}
	stack.Push(depth)
	stack.Push(depthView)

	var color *gpures.Guard[hal.Texture]
	var colorView *gpures.Guard[hal.TextureView]
	if c.d.Surface == nil {
		color, colorView, err = c.attachment("color", width, height, c.d.Format)
		if err != nil {
			return err
		}
		stack.Push(color)
		stack.Push(colorView)
	}
	stack.Disarm()

	c.releaseTargets()
	c.depth, c.depthView = depth, depthView
	c.color, c.colorView = color, colorView
	c.width, c.height = width, height
	return nil
}

func (c *Context) attachment(name string, width, height int, format gputypes.TextureFormat) (*gpures.Guard[hal.Texture], *gpures.Guard[hal.TextureView], error) {
	label := c.opts.label + "_" + name
	usage := gputypes.TextureUsageRenderAttachment
	if name == "color" {
		usage |= gputypes.TextureUsageCopySrc
	}
	tex, err := gpures.NewTexture(c.d.Device, &hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, nil, err
	}
	view, err := gpures.NewTextureView(c.d.Device, tex.Get(), &hal.TextureViewDescriptor{
		Label:           label + "_view",
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		tex.Release()
		return nil, nil, err
	}
	return tex, view, nil
}

func (c *Context) releaseTargets() {
	c.colorView.Release()
	c.color.Release()
	c.depthView.Release()
	c.depth.Release()
}

// WriteBuffer uploads data through the queue and counts the bytes.
func (c *Context) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	if c.freed {
		return ErrFreed
	}
	if err := c.d.Queue.WriteBuffer(buf, offset, data); err != nil {
		return err
	}
	c.stats.BytesUploaded += uint64(len(data))
	return nil
}

// Clear runs a frame that only clears the target.
func (c *Context) Clear(v ClearValues) error {
	f, err := c.BeginFrame(&v)
	if err != nil {
		return err
	}
	return f.End()
}

// BeginFrame acquires the target and opens one render pass over it. With
// clear non-nil the pass clears color and depth to those values, otherwise
// it loads the previous contents. Only one frame can be open at a time.
func (c *Context) BeginFrame(clear *ClearValues) (*Frame, error) {
	if c.freed {
		return nil, ErrFreed
	}
	if c.frame != nil {
		return nil, ErrFrameInProgress
	}

	f := &Frame{ctx: c}
	target := c.colorView.Get()
	if s := c.d.Surface; s != nil {
		acquired, err := s.AcquireTexture(nil)
		if err != nil {
			return nil, fmt.Errorf("surface %q: acquire: %w", c.id, err)
		}
		f.surfaceTex = acquired.Texture
		view, err := gpures.NewTextureView(c.d.Device, acquired.Texture, &hal.TextureViewDescriptor{
			Label:           c.opts.label + "_frame_view",
			Format:          c.d.Format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		})
		if err != nil {
			s.DiscardTexture(acquired.Texture)
			return nil, fmt.Errorf("surface %q: %w", c.id, err)
		}
		f.view = view
		target = view.Get()
	}

	enc, err := c.d.Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: c.opts.label + "_frame"})
	if err != nil {
		f.discardTexture()
		f.release()
		return nil, fmt.Errorf("surface %q: create command encoder: %w", c.id, err)
	}
	if err := enc.BeginEncoding(c.opts.label + "_frame"); err != nil {
		f.discardTexture()
		f.release()
		return nil, fmt.Errorf("surface %q: begin encoding: %w", c.id, err)
	}
	f.encoder = enc

	colorLoad, depthLoad := gputypes.LoadOpLoad, gputypes.LoadOpLoad
	var clearColor gputypes.Color
	var clearDepth float32 = 1
	if clear != nil {
		colorLoad, depthLoad = gputypes.LoadOpClear, gputypes.LoadOpClear
		clearColor, clearDepth = clear.Color, clear.Depth
	}
	f.pass = enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: c.opts.label + "_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       target,
			LoadOp:     colorLoad,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: clearColor,
		}},
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:            c.depthView.Get(),
			DepthLoadOp:     depthLoad,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: clearDepth,
		},
	})
	f.ResetViewport()

	c.frame = f
	c.stats.Frames++
	if clear != nil {
		c.stats.Clears++
	}
	return f, nil
}

// Free releases every GPU object of the context. An open frame is
// discarded. Calling Free again does nothing.
func (c *Context) Free() {
	if c.freed {
		return
	}
	if c.frame != nil {
		c.frame.Discard()
	}
	c.releaseTargets()
	if s := c.d.Surface; s != nil {
		s.Unconfigure(c.d.Device)
	}
	c.freed = true
	slogger().Debug("surface: context freed", "id", c.id, "stats", c.stats.String())
}
