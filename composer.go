// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package canvaskit

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/canvaskit/internal/instances"
	"github.com/gogpu/canvaskit/surface"
)

// defaultClear is the background every frame starts from unless the host
// sets another: a near-black blue at full depth.
func defaultClear() surface.ClearValues {
	return surface.ClearValues{
		Color: gputypes.Color{R: 0.02, G: 0.02, B: 0.05, A: 1},
		Depth: 1,
	}
}

type passEntry struct {
	pass  Pass
	token instances.Handle
}

// Composer draws several passes into one shared surface context per frame.
// The frame is cleared once, then every live pass renders in the order it
// was added. The host owns the passes it gets back; freeing one removes it
// from the composer on the next Render.
type Composer struct {
	ctx    *surface.Context
	opts   options
	passes []passEntry
	leases leases
	clear  surface.ClearValues
	added  int
	freed  bool
}

// NewComposer creates a composer drawing into the drawable registered
// under surfaceID. It fails with ErrSurfaceNotFound for unknown ids.
func NewComposer(surfaceID string, opts ...Option) (*Composer, error) {
	o := buildOptions(opts)
	ctx, err := surface.NewContext(surfaceID, append([]surface.ContextOption{surface.WithLabel(o.label)}, o.contextOpts...)...)
	if err != nil {
		return nil, err
	}
	Logger().Info("canvaskit: composer created", "surface", surfaceID, "label", o.label)
	return &Composer{ctx: ctx, opts: o, clear: defaultClear()}, nil
}

// passOptions returns the options of the next pass, with a label of its own.
func (c *Composer) passOptions() options {
	o := c.opts
	o.label = fmt.Sprintf("%s_pass%d", c.opts.label, c.added)
	c.added++
	return o
}

func (c *Composer) attach(p Pass, b *binding) {
	token := c.leases.Insert(struct{}{})
	b.leases = &c.leases
	b.token = token
	c.passes = append(c.passes, passEntry{pass: p, token: token})
}

// AddBatchedPass creates a batched renderer that draws into the composer's
// frames, after the passes added before it.
func (c *Composer) AddBatchedPass() (*BatchedRenderer, error) {
	if c.freed {
		return nil, ErrUseAfterFree
	}
	r, err := newBatchedRenderer(c.ctx, false, c.passOptions())
	if err != nil {
		return nil, err
	}
	c.attach(r, &r.binding)
	return r, nil
}

// AddTimeSeriesPass creates a time-series renderer that draws into the
// composer's frames, after the passes added before it.
func (c *Composer) AddTimeSeriesPass() (*TimeSeriesRenderer, error) {
	if c.freed {
		return nil, ErrUseAfterFree
	}
	r, err := newTimeSeriesRenderer(c.ctx, false, c.passOptions())
	if err != nil {
		return nil, err
	}
	c.attach(r, &r.binding)
	return r, nil
}

// SetClearColor sets the frame background. Channels are clamped to [0, 1];
// NaN becomes 0.
func (c *Composer) SetClearColor(r, g, b, a float64) error {
	if c.freed {
		return ErrUseAfterFree
	}
	c.clear.Color = gputypes.Color{R: unit(r), G: unit(g), B: unit(b), A: unit(a)}
	return nil
}

// ClearColor returns the frame background.
func (c *Composer) ClearColor() (gputypes.Color, error) {
	if c.freed {
		return gputypes.Color{}, ErrUseAfterFree
	}
	return c.clear.Color, nil
}

// SetClearDepth sets the depth every frame starts from, clamped to [0, 1].
// NaN and infinities are rejected with ErrInvalidClearDepth.
func (c *Composer) SetClearDepth(d float64) error {
	if c.freed {
		return ErrUseAfterFree
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidClearDepth, d)
	}
	c.clear.Depth = float32(unit(d))
	return nil
}

// ClearDepth returns the depth every frame starts from.
func (c *Composer) ClearDepth() (float32, error) {
	if c.freed {
		return 0, ErrUseAfterFree
	}
	return c.clear.Depth, nil
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// prune drops passes whose owner has freed them.
func (c *Composer) prune() {
	live := c.passes[:0]
	for _, e := range c.passes {
		if c.leases.Contains(e.token) && e.pass.Alive() {
			live = append(live, e)
		}
	}
	clear(c.passes[len(live):])
	c.passes = live
}

// Render draws one frame: a single clear followed by every live pass in
// the order the passes were added. A pass error discards the frame.
func (c *Composer) Render() error {
	if c.freed {
		return ErrUseAfterFree
	}
	c.prune()
	v := c.clear
	f, err := c.ctx.BeginFrame(&v)
	if err != nil {
		return err
	}
	for i, e := range c.passes {
		if err := e.pass.renderPass(f); err != nil {
			f.Discard()
			return fmt.Errorf("render pass %d: %w", i, err)
		}
	}
	if err := f.End(); err != nil {
		return err
	}
	c.prune()
	return nil
}

// Resize resizes the shared target and every live pass.
func (c *Composer) Resize(width, height int) error {
	if c.freed {
		return ErrUseAfterFree
	}
	if err := c.ctx.Resize(width, height); err != nil {
		return err
	}
	w, h := c.ctx.Size()
	c.prune()
	for _, e := range c.passes {
		e.pass.resize(w, h)
	}
	return nil
}

// PassCount returns the number of live passes.
func (c *Composer) PassCount() (int, error) {
	if c.freed {
		return 0, ErrUseAfterFree
	}
	c.prune()
	return len(c.passes), nil
}

// Stats returns the counters of the shared surface context.
func (c *Composer) Stats() (surface.Stats, error) {
	if c.freed {
		return surface.Stats{}, ErrUseAfterFree
	}
	return c.ctx.Stats(), nil
}

// Free frees the passes still alive, then the surface context. Calling it
// again does nothing.
func (c *Composer) Free() {
	if c.freed {
		return
	}
	for _, e := range c.passes {
		e.pass.Free()
	}
	c.passes = nil
	c.leases.Clear()
	c.ctx.Free()
	c.freed = true
	Logger().Debug("canvaskit: composer freed", "label", c.opts.label)
}
