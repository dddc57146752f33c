package surface

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Drawable is what a host hands over to be rendered into.
type Drawable struct {
	Device hal.Device
	Queue  hal.Queue

	// Surface is the window surface to present to. When nil the context
	// renders into an offscreen color texture of the same size.
	Surface hal.Surface

	// Width and Height are the initial target size in pixels. Values
	// below 1 are raised to 1.
	Width, Height int

	// Format is the color target format; zero selects BGRA8Unorm.
	Format gputypes.TextureFormat

	// Limits are the device limits; the zero value selects
	// gputypes.DefaultLimits.
	Limits gputypes.Limits
}

func (d Drawable) validate() error {
	if d.Device == nil || d.Queue == nil {
		return ErrInvalidDrawable
	}
	return nil
}

func (d Drawable) withDefaults() Drawable {
	if d.Format == gputypes.TextureFormatUndefined {
		d.Format = gputypes.TextureFormatBGRA8Unorm
	}
	if d.Limits.MaxUniformBufferBindingSize == 0 {
		d.Limits = gputypes.DefaultLimits()
	}
	d.Width = max(d.Width, 1)
	d.Height = max(d.Height, 1)
	return d
}

// FromProvider builds a Drawable from a host device provider. The
// provider must expose HAL objects, either through HalDevice/HalQueue or
// by returning them from Device and Queue.
func FromProvider(p gpucontext.DeviceProvider, s hal.Surface, width, height int) (Drawable, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}

	var dev, queue any
	if hp, ok := p.(halProvider); ok {
		dev, queue = hp.HalDevice(), hp.HalQueue()
	} else {
		dev, queue = p.Device(), p.Queue()
	}
	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return Drawable{}, fmt.Errorf("surface: provider device is %T, not hal.Device", dev)
	}
	q, ok := queue.(hal.Queue)
	if !ok || q == nil {
		return Drawable{}, fmt.Errorf("surface: provider queue is %T, not hal.Queue", queue)
	}
	return Drawable{
		Device:  device,
		Queue:   q,
		Surface: s,
		Width:   width,
		Height:  height,
		Format:  p.SurfaceFormat(),
	}, nil
}
