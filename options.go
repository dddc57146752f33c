package canvaskit

import "github.com/gogpu/canvaskit/surface"

// Option configures a Composer or a standalone renderer.
//
// Example:
//
//	c, err := canvaskit.NewComposer("main",
//	    canvaskit.WithMaxInstancesPerBatch(512),
//	    canvaskit.WithLineWidthRange(1, 4))
type Option func(*options)

type options struct {
	maxInstances int // 0 derives the batch size from device limits
	ceiling      int // 0 means unbounded
	legacyCap    bool
	lineWidthMin float32
	lineWidthMax float32
	spirv        bool
	label        string
	contextOpts  []surface.ContextOption
}

func defaultOptions() options {
	return options{
		lineWidthMin: 1,
		lineWidthMax: 1,
		label:        "canvaskit",
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxInstancesPerBatch overrides how many instances one GPU buffer and
// one draw call hold. By default the batch size is the device's uniform
// binding limit divided by the 64-byte transform size.
func WithMaxInstancesPerBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxInstances = n
		}
	}
}

// WithInstanceCeiling caps the live instances of each mesh. Creating an
// instance past the cap fails with ErrCapacityExceeded. Unbounded by default.
func WithInstanceCeiling(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.ceiling = n
		}
	}
}

// WithLegacyBatchCap restores the old single-batch behavior: each mesh holds
// at most MaxInstances instances and further creation fails with
// ErrCapacityExceeded instead of spanning more batches.
func WithLegacyBatchCap() Option {
	return func(o *options) {
		o.legacyCap = true
	}
}

// WithLineWidthRange sets the line widths the platform supports. Series
// widths are clamped into [lo, hi]. The default is [1, 1].
func WithLineWidthRange(lo, hi float32) Option {
	return func(o *options) {
		if lo > 0 && hi >= lo {
			o.lineWidthMin, o.lineWidthMax = lo, hi
		}
	}
}

// WithSPIRV compiles shaders to SPIR-V with naga before handing them to
// the device, for backends that do not accept WGSL.
func WithSPIRV() Option {
	return func(o *options) {
		o.spirv = true
	}
}

// WithLabel sets the prefix of GPU debug labels.
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}

// WithContextOptions passes options through to the surface context.
func WithContextOptions(opts ...surface.ContextOption) Option {
	return func(o *options) {
		o.contextOpts = append(o.contextOpts, opts...)
	}
}
