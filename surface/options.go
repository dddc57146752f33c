package surface

import "github.com/gogpu/gputypes"

// ContextOption configures a Context.
type ContextOption func(*contextOptions)

type contextOptions struct {
	presentMode gputypes.PresentMode
	depthFormat gputypes.TextureFormat
	label       string
}

func defaultContextOptions() contextOptions {
	return contextOptions{
		presentMode: gputypes.PresentModeFifo,
		depthFormat: gputypes.TextureFormatDepth24Plus,
		label:       "canvaskit",
	}
}

// WithPresentMode selects the swap chain present mode. Default is FIFO.
func WithPresentMode(m gputypes.PresentMode) ContextOption {
	return func(o *contextOptions) {
		o.presentMode = m
	}
}

// WithDepthFormat selects the depth buffer format. Default is Depth24Plus.
func WithDepthFormat(f gputypes.TextureFormat) ContextOption {
	return func(o *contextOptions) {
		if f != gputypes.TextureFormatUndefined {
			o.depthFormat = f
		}
	}
}

// WithLabel sets the prefix of GPU debug labels.
func WithLabel(label string) ContextOption {
	return func(o *contextOptions) {
		if label != "" {
			o.label = label
		}
	}
}
