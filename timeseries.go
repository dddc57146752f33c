package canvaskit

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/canvaskit/internal/gpures"
	"github.com/gogpu/canvaskit/internal/series"
	"github.com/gogpu/canvaskit/internal/shaders"
	"github.com/gogpu/canvaskit/surface"
)

// Series is one line of a time-series chart. Values holds one sample per
// shared timestamp.
type Series struct {
	Values []float32
	Color  f32.Vec4

	// LineWidth is clamped to the renderer's line width range. Zero, a
	// negative width or NaN means 1.
	LineWidth float32
}

// SeriesStyle is the style a series is drawn with after clamping.
type SeriesStyle struct {
	Color     f32.Vec4
	LineWidth float32
}

type linePipeline struct {
	shader     *gpures.Guard[hal.ShaderModule]
	bindLayout *gpures.Guard[hal.BindGroupLayout]
	pipeLayout *gpures.Guard[hal.PipelineLayout]
	pipeline   *gpures.Guard[hal.RenderPipeline]
}

func (p *linePipeline) release() {
	if p == nil {
		return
	}
	p.pipeline.Release()
	p.pipeLayout.Release()
	p.bindLayout.Release()
	p.shader.Release()
}

// TimeSeriesRenderer draws several series over shared timestamps as line
// strips, each normalized into the viewport by the time and value domains
// of the whole data set.
type TimeSeriesRenderer struct {
	binding
	opts options

	pipe       *linePipeline
	timestamps *series.Samples
	lines      []*series.Line
	created    int

	// times and values are the committed data, kept to re-upload after a
	// failed SetSeries.
	times       []float32
	values      [][]float32
	stale       bool
	timeDomain  [2]float32
	valueDomain [2]float32
}

// NewTimeSeriesRenderer creates a standalone renderer for the drawable
// registered under surfaceID. It owns its surface context and clears the
// target on every Draw.
func NewTimeSeriesRenderer(surfaceID string, opts ...Option) (*TimeSeriesRenderer, error) {
	o := buildOptions(opts)
	ctx, err := surface.NewContext(surfaceID, append([]surface.ContextOption{surface.WithLabel(o.label)}, o.contextOpts...)...)
	if err != nil {
		return nil, err
	}
	r, err := newTimeSeriesRenderer(ctx, true, o)
	if err != nil {
		ctx.Free()
		return nil, err
	}
	return r, nil
}

func newTimeSeriesRenderer(ctx *surface.Context, owned bool, o options) (*TimeSeriesRenderer, error) {
	r := &TimeSeriesRenderer{
		binding:     newBinding(ctx, owned),
		opts:        o,
		timestamps:  series.NewSamples(ctx.Device(), o.label+"_timestamps"),
		timeDomain:  [2]float32{0, 1},
		valueDomain: [2]float32{0, 1},
	}
	pipe, err := r.createPipeline()
	if err != nil {
		return nil, err
	}
	r.pipe = pipe
	Logger().Info("canvaskit: time-series renderer created",
		"label", o.label, "line_width_min", o.lineWidthMin, "line_width_max", o.lineWidthMax)
	return r, nil
}

func (r *TimeSeriesRenderer) createPipeline() (*linePipeline, error) {
	device := r.ctx.Device()
	label := r.opts.label
	var stack gpures.Stack
	defer stack.Release()

	shader, err := shaders.Module(device, label+"_line_shader", shaders.Line, r.opts.spirv)
	if err != nil {
		return nil, fmt.Errorf("create line pipeline: %w", err)
	}
	stack.Push(shader)

	bindLayout, err := gpures.NewBindGroupLayout(device, &hal.BindGroupLayoutDescriptor{
		Label: label + "_line_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{
					Type:           gputypes.BufferBindingTypeUniform,
					MinBindingSize: series.UniformSize,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create line pipeline: %w", err)
	}
	stack.Push(bindLayout)

	pipeLayout, err := gpures.NewPipelineLayout(device, &hal.PipelineLayoutDescriptor{
		Label:            label + "_line_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout.Get()},
	})
	if err != nil {
		return nil, fmt.Errorf("create line pipeline: %w", err)
	}
	stack.Push(pipeLayout)

	blend := gputypes.BlendStateAlpha()
	pipeline, err := gpures.NewRenderPipeline(device, &hal.RenderPipelineDescriptor{
		Label:  label + "_line_pipeline",
		Layout: pipeLayout.Get(),
		Vertex: hal.VertexState{
			Module:     shader.Get(),
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{
				{
					ArrayStride: 4,
					StepMode:    gputypes.VertexStepModeVertex,
					Attributes: []gputypes.VertexAttribute{
						{Format: gputypes.VertexFormatFloat32, Offset: 0, ShaderLocation: 0},
					},
				},
				{
					ArrayStride: 4,
					StepMode:    gputypes.VertexStepModeVertex,
					Attributes: []gputypes.VertexAttribute{
						{Format: gputypes.VertexFormatFloat32, Offset: 0, ShaderLocation: 1},
					},
				},
			},
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
		// Lines are drawn over the meshes regardless of depth.
		DepthStencil: &hal.DepthStencilState{
			Format:            r.ctx.DepthFormat(),
			DepthWriteEnabled: false,
			DepthCompare:      gputypes.CompareFunctionAlways,
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyLineStrip,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create line pipeline: %w", err)
	}
	stack.Push(pipeline)
	stack.Disarm()

	return &linePipeline{
		shader:     shader,
		bindLayout: bindLayout,
		pipeLayout: pipeLayout,
		pipeline:   pipeline,
	}, nil
}

// SetSeries replaces the chart data. Every series must hold exactly one
// sample per timestamp and every number must be finite; otherwise the
// previous data stays in place. Empty timestamps clear the chart and
// accept no series. Timestamps with no series keep the time axis and draw
// nothing.
//
// GPU buffers are reused whenever the new data fits them, so updating a
// chart of constant shape allocates nothing. Every allocation happens
// before any state changes: a failed allocation leaves the chart as it
// was.
func (r *TimeSeriesRenderer) SetSeries(timestamps []float32, data []Series) error {
	if r.freed {
		return ErrUseAfterFree
	}
	if len(timestamps) == 0 && len(data) > 0 {
		return fmt.Errorf("%w: %d series without timestamps", ErrMismatchedSeriesLength, len(data))
	}
	for i, s := range data {
		if len(s.Values) != len(timestamps) {
			return fmt.Errorf("%w: series %d has %d samples for %d timestamps",
				ErrMismatchedSeriesLength, i, len(s.Values), len(timestamps))
		}
	}
	if !series.Finite(timestamps) {
		return fmt.Errorf("%w: timestamps", ErrInvalidSeriesData)
	}
	for i, s := range data {
		if !series.Finite(s.Values) {
			return fmt.Errorf("%w: series %d", ErrInvalidSeriesData, i)
		}
	}

	if len(timestamps) == 0 {
		r.clear()
		return nil
	}

	st, err := r.stage(len(timestamps), len(data))
	if err != nil {
		return fmt.Errorf("set series: %w", err)
	}
	r.install(st)
	if err := r.upload(st, timestamps, data); err != nil {
		for _, l := range st.lines {
			l.Release()
		}
		// Kept buffers now hold a mix of old and new data; the next draw
		// re-uploads the committed copy.
		r.stale = true
		return fmt.Errorf("set series: %w", err)
	}
	r.commit(st)

	r.times = append(r.times[:0], timestamps...)
	r.keepValues(data)
	for i, s := range data {
		line := r.lines[i]
		line.Color = series.ClampColor(s.Color)
		line.Width = series.ClampWidth(s.LineWidth, r.opts.lineWidthMin, r.opts.lineWidthMax)
	}
	r.timeDomain = series.Domain(timestamps)
	r.valueDomain = series.Domain(r.values...)
	r.stale = false
	return nil
}

// staged holds the allocations one SetSeries needs before it commits.
type staged struct {
	lines      []*series.Line // fresh lines appended after the kept ones
	timestamps *series.Reservation
	values     []*series.Reservation // one per kept line, nil when it fits
}

// line returns series i of the new data: a kept line or a fresh one.
func (st *staged) line(current []*series.Line, i int) *series.Line {
	if i < len(st.values) {
		return current[i]
	}
	return st.lines[i-len(st.values)]
}

// stage allocates every buffer the new data needs without touching the
// renderer. On error nothing is left allocated.
func (r *TimeSeriesRenderer) stage(samples, count int) (*staged, error) {
	var stack gpures.Stack
	defer stack.Release()

	st := &staged{}
	res, err := r.timestamps.Reserve(samples)
	if err != nil {
		return nil, err
	}
	if res != nil {
		stack.Push(res)
	}
	st.timestamps = res

	kept := min(count, len(r.lines))
	st.values = make([]*series.Reservation, kept)
	for i := range kept {
		res, err := r.lines[i].Values.Reserve(samples)
		if err != nil {
			return nil, err
		}
		if res != nil {
			stack.Push(res)
		}
		st.values[i] = res
	}

	for i := kept; i < count; i++ {
		line, err := series.NewLine(r.ctx.Device(), r.pipe.bindLayout.Get(),
			fmt.Sprintf("%s_series_%d", r.opts.label, r.created+i-kept))
		if err != nil {
			return nil, err
		}
		stack.Push(line)
		res, err := line.Values.Reserve(samples)
		if err != nil {
			return nil, err
		}
		line.Values.Install(res)
		st.lines = append(st.lines, line)
	}

	stack.Disarm()
	return st, nil
}

// install swaps the reserved buffers into the timestamps and kept lines.
// Reservations only ever grow a buffer, so the committed data still fits.
func (r *TimeSeriesRenderer) install(st *staged) {
	if st.timestamps != nil {
		r.timestamps.Install(st.timestamps)
		Logger().Debug("canvaskit: timestamp buffer reallocated", "label", r.opts.label)
	}
	for i, res := range st.values {
		r.lines[i].Values.Install(res)
	}
}

func (r *TimeSeriesRenderer) upload(st *staged, timestamps []float32, data []Series) error {
	if err := r.timestamps.Upload(r.ctx, timestamps); err != nil {
		return err
	}
	for i, s := range data {
		line := st.line(r.lines, i)
		if err := line.Values.Upload(r.ctx, s.Values); err != nil {
			return fmt.Errorf("series %d: %w", i, err)
		}
	}
	return nil
}

// commit makes the staged lines current and releases surplus ones.
func (r *TimeSeriesRenderer) commit(st *staged) {
	kept := len(st.values)
	for _, l := range r.lines[kept:] {
		l.Release()
	}
	r.lines = append(r.lines[:kept], st.lines...)
	r.created += len(st.lines)
}

// keepValues copies data into the committed CPU copy, reusing its slices.
func (r *TimeSeriesRenderer) keepValues(data []Series) {
	if cap(r.values) < len(data) {
		r.values = append(r.values[:cap(r.values)], make([][]float32, len(data)-cap(r.values))...)
	}
	r.values = r.values[:len(data)]
	for i, s := range data {
		r.values[i] = append(r.values[i][:0], s.Values...)
	}
}

// restore re-uploads the committed data after a failed SetSeries.
func (r *TimeSeriesRenderer) restore() error {
	if err := r.timestamps.Upload(r.ctx, r.times); err != nil {
		return err
	}
	for i, line := range r.lines {
		var values []float32
		if i < len(r.values) {
			values = r.values[i]
		}
		if err := line.Values.Upload(r.ctx, values); err != nil {
			return fmt.Errorf("series %d: %w", i, err)
		}
	}
	r.stale = false
	return nil
}

func (r *TimeSeriesRenderer) clear() {
	for _, l := range r.lines {
		l.Release()
	}
	r.lines = nil
	r.timestamps.Release()
	r.times = r.times[:0]
	r.values = r.values[:0]
	r.timeDomain = [2]float32{0, 1}
	r.valueDomain = [2]float32{0, 1}
	r.stale = false
}

// SeriesCount returns the number of series.
func (r *TimeSeriesRenderer) SeriesCount() (int, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	return len(r.lines), nil
}

// SampleCount returns the number of timestamps shared by all series.
func (r *TimeSeriesRenderer) SampleCount() (int, error) {
	if r.freed {
		return 0, ErrUseAfterFree
	}
	return len(r.times), nil
}

// TimeDomain returns the [min, max] of the timestamps.
func (r *TimeSeriesRenderer) TimeDomain() ([2]float32, error) {
	if r.freed {
		return [2]float32{}, ErrUseAfterFree
	}
	return r.timeDomain, nil
}

// ValueDomain returns the [min, max] over every sample of every series.
func (r *TimeSeriesRenderer) ValueDomain() ([2]float32, error) {
	if r.freed {
		return [2]float32{}, ErrUseAfterFree
	}
	return r.valueDomain, nil
}

// SeriesStyle returns the clamped style series i is drawn with.
func (r *TimeSeriesRenderer) SeriesStyle(i int) (SeriesStyle, error) {
	if r.freed {
		return SeriesStyle{}, ErrUseAfterFree
	}
	if i < 0 || i >= len(r.lines) {
		return SeriesStyle{}, fmt.Errorf("series index %d out of range [0, %d)", i, len(r.lines))
	}
	l := r.lines[i]
	return SeriesStyle{Color: l.Color, LineWidth: l.Width}, nil
}

// Resize updates the viewport. A standalone renderer also resizes its
// target.
func (r *TimeSeriesRenderer) Resize(width, height int) error {
	if r.freed {
		return ErrUseAfterFree
	}
	return r.resizeOwned(width, height)
}

// Draw renders every series. A standalone renderer renders a full frame
// and clears first; a renderer added to a Composer draws over the current
// target contents.
func (r *TimeSeriesRenderer) Draw() error {
	if r.freed {
		return ErrUseAfterFree
	}
	return r.frame(r.renderPass)
}

// Render is Draw.
func (r *TimeSeriesRenderer) Render() error { return r.Draw() }

func (r *TimeSeriesRenderer) renderPass(f *surface.Frame) error {
	if r.stale {
		if err := r.restore(); err != nil {
			return fmt.Errorf("restore series: %w", err)
		}
	}
	n := len(r.times)
	if n == 0 || len(r.lines) == 0 {
		return nil
	}
	rp := f.Pass()
	rp.SetPipeline(r.pipe.pipeline.Get())
	r.setViewport(f)
	rp.SetVertexBuffer(0, r.timestamps.Buffer(), 0)
	for i, line := range r.lines {
		if err := line.WriteUniform(r.ctx, r.timeDomain, r.valueDomain); err != nil {
			return fmt.Errorf("draw series %d: %w", i, err)
		}
		rp.SetBindGroup(0, line.BindGroup(), nil)
		rp.SetVertexBuffer(1, line.Values.Buffer(), 0)
		f.Draw(uint32(n), 1, 0, 0)
	}
	return nil
}

// Free releases every GPU object of the renderer. Calling it again does
// nothing; any other method afterwards returns ErrUseAfterFree.
func (r *TimeSeriesRenderer) Free() {
	if r.freed {
		return
	}
	r.clear()
	r.pipe.release()
	r.release()
	Logger().Debug("canvaskit: time-series renderer freed", "label", r.opts.label)
}
