package canvaskit

import (
	"github.com/gogpu/canvaskit/internal/instances"
	"github.com/gogpu/canvaskit/surface"
)

// Pass is one renderer a Composer draws each frame. BatchedRenderer and
// TimeSeriesRenderer are the only implementations.
type Pass interface {
	// Free releases the pass. A composer stops drawing it from the next
	// Render on.
	Free()

	// Alive reports whether the pass has not been freed.
	Alive() bool

	renderPass(f *surface.Frame) error
	resize(width, height int)
}

// leases is the composer's registry of owner-held pass tokens.
type leases = instances.Table[struct{}]

// binding ties a renderer to the surface context it draws into.
//
// A standalone renderer owns its context and frees it with itself. A
// renderer added to a composer borrows the composer's context and holds a
// token in the composer's lease table; releasing the token is how the
// composer learns the pass is gone.
type binding struct {
	ctx    *surface.Context
	owned  bool
	leases *leases
	token  instances.Handle

	width, height int
	freed         bool
}

func newBinding(ctx *surface.Context, owned bool) binding {
	w, h := ctx.Size()
	return binding{ctx: ctx, owned: owned, width: w, height: h}
}

// Alive reports whether the renderer has not been freed.
func (b *binding) Alive() bool { return !b.freed }

func (b *binding) resize(width, height int) {
	b.width, b.height = max(width, 1), max(height, 1)
}

// resizeOwned resizes the context when the renderer owns it, then the
// viewport cache.
func (b *binding) resizeOwned(width, height int) error {
	if b.owned {
		if err := b.ctx.Resize(width, height); err != nil {
			return err
		}
	}
	b.resize(width, height)
	return nil
}

// setViewport applies the cached size, limited to the target.
func (b *binding) setViewport(f *surface.Frame) {
	tw, th := f.Context().Size()
	f.Pass().SetViewport(0, 0, float32(min(b.width, tw)), float32(min(b.height, th)), 0, 1)
}

// release drops the lease and, when owned, the context.
func (b *binding) release() {
	if b.leases != nil {
		b.leases.Remove(b.token)
		b.leases = nil
	}
	if b.owned {
		b.ctx.Free()
	}
	b.freed = true
}

// frame runs render inside a frame of its own. A standalone renderer
// clears to the default clear values first; a renderer bound to a
// composer draws over what is there, since only the composer clears.
func (b *binding) frame(render func(*surface.Frame) error) error {
	var clear *surface.ClearValues
	if b.owned {
		v := defaultClear()
		clear = &v
	}
	f, err := b.ctx.BeginFrame(clear)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Discard()
		return err
	}
	return f.End()
}
