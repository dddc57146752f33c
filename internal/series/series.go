// Package series holds the GPU side of the time-series renderer: float
// sample buffers that are reused while their capacity fits, per-line style
// uniforms, and axis domain computation.
package series

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/canvaskit/internal/gpures"
)

// UniformSize is the byte size of one line's uniform block:
// color vec4, domain vec4 (tmin, tmax, vmin, vmax), params vec4 (width).
const UniformSize = 48

// Samples is a vertex buffer of float32 values.
type Samples struct {
	device   hal.Device
	label    string
	buf      *gpures.Guard[hal.Buffer]
	capacity int
	n        int
	scratch  []byte
}

// NewSamples returns an empty sample buffer; memory is allocated on the
// first Write.
func NewSamples(device hal.Device, label string) *Samples {
	return &Samples{device: device, label: label}
}

// Len returns the number of samples last written.
func (s *Samples) Len() int { return s.n }

// Capacity returns the allocated size in samples.
func (s *Samples) Capacity() int { return s.capacity }

// Buffer returns the GPU buffer, nil before the first Write.
func (s *Samples) Buffer() hal.Buffer { return s.buf.Get() }

// Write uploads values. The buffer is reallocated only when values do not
// fit the current capacity; otherwise the prefix is overwritten in place.
// It reports whether a reallocation happened.
func (s *Samples) Write(q gpures.Writer, values []float32) (bool, error) {
	res, err := s.Reserve(len(values))
	if err != nil {
		return false, err
	}
	s.Install(res)
	return res != nil, s.Upload(q, values)
}

// Reservation is a buffer allocated ahead of Install. One that is never
// installed must be released.
type Reservation struct {
	buf      *gpures.Guard[hal.Buffer]
	capacity int
}

// Release destroys an uninstalled reservation.
func (r *Reservation) Release() {
	if r != nil {
		r.buf.Release()
	}
}

// Reserve allocates a buffer for n samples when the current one is too
// small and returns nil when it fits. The current buffer stays in use
// until Install.
func (s *Samples) Reserve(n int) (*Reservation, error) {
	if n <= s.capacity && s.buf != nil {
		return nil, nil
	}
	capacity := max(n, 1)
	g, err := gpures.NewBuffer(s.device, &hal.BufferDescriptor{
		Label: s.label,
		Size:  uint64(capacity) * 4,
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	return &Reservation{buf: g, capacity: capacity}, nil
}

// Install swaps in a reserved buffer and destroys the old one. A nil
// reservation keeps the current buffer.
func (s *Samples) Install(r *Reservation) {
	if r == nil {
		return
	}
	s.buf.Release()
	s.buf = r.buf
	s.capacity = r.capacity
}

// Upload writes values at the start of the buffer, which must already
// hold them.
func (s *Samples) Upload(q gpures.Writer, values []float32) error {
	if len(values) > s.capacity {
		return fmt.Errorf("upload %s: %d samples exceed capacity %d", s.label, len(values), s.capacity)
	}
	s.n = len(values)
	if len(values) == 0 {
		return nil
	}
	if err := q.WriteBuffer(s.buf.Get(), 0, packFloats(&s.scratch, values)); err != nil {
		return fmt.Errorf("upload %s: %w", s.label, err)
	}
	return nil
}

// Release destroys the GPU buffer.
func (s *Samples) Release() {
	s.buf.Release()
	s.buf = nil
	s.capacity = 0
	s.n = 0
}

// Line is one drawn series: its samples, its style and the uniform block
// the line shader reads.
type Line struct {
	Values *Samples
	Color  f32.Vec4
	Width  float32

	uniform *gpures.Guard[hal.Buffer]
	group   *gpures.Guard[hal.BindGroup]
	scratch []byte
}

// NewLine allocates the uniform buffer and bind group for one line.
func NewLine(device hal.Device, layout hal.BindGroupLayout, label string) (*Line, error) {
	var stack gpures.Stack
	defer stack.Release()

	uniform, err := gpures.NewBuffer(device, &hal.BufferDescriptor{
		Label: label + "_uniform",
		Size:  UniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	stack.Push(uniform)

	group, err := gpures.NewBindGroup(device, &hal.BindGroupDescriptor{
		Label:  label + "_bind",
		Layout: layout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: uniform.Get().NativeHandle(),
				Offset: 0,
				Size:   UniformSize,
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	stack.Push(group)
	stack.Disarm()

	return &Line{
		Values:  NewSamples(device, label+"_values"),
		Width:   1,
		uniform: uniform,
		group:   group,
	}, nil
}

// BindGroup returns the group binding this line's uniform block.
func (l *Line) BindGroup() hal.BindGroup { return l.group.Get() }

// WriteUniform uploads style and domains for the next draw.
func (l *Line) WriteUniform(q gpures.Writer, timeDomain, valueDomain [2]float32) error {
	block := [UniformSize / 4]float32{
		l.Color[0], l.Color[1], l.Color[2], l.Color[3],
		timeDomain[0], timeDomain[1], valueDomain[0], valueDomain[1],
		l.Width, 0, 0, 0,
	}
	if err := q.WriteBuffer(l.uniform.Get(), 0, packFloats(&l.scratch, block[:])); err != nil {
		return fmt.Errorf("upload line uniform: %w", err)
	}
	return nil
}

// Release destroys every GPU object of the line.
func (l *Line) Release() {
	l.group.Release()
	l.uniform.Release()
	l.Values.Release()
}

// epsilon is the float32 machine epsilon.
const epsilon = 0x1p-23

// Domain returns [min, max] over every value of every slice. A range
// narrower than epsilon is widened on each side by 0.5, or by one part in
// 2^23 of its magnitude when that is larger, so the result is always
// strictly ascending. No values yields [0, 1].
func Domain(sets ...[]float32) [2]float32 {
	lo, hi := math32.Inf(1), math32.Inf(-1)
	for _, vs := range sets {
		for _, v := range vs {
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
	}
	switch {
	case lo > hi:
		return [2]float32{0, 1}
	case hi-lo < epsilon:
		pad := math32.Max(0.5, math32.Max(math32.Abs(lo), math32.Abs(hi))*epsilon)
		return [2]float32{lo - pad, hi + pad}
	}
	return [2]float32{lo, hi}
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(values []float32) bool {
	for _, v := range values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ClampColor clamps each channel to [0, 1]; NaN becomes 0.
func ClampColor(c f32.Vec4) f32.Vec4 {
	for i, v := range c {
		if math32.IsNaN(v) {
			v = 0
		}
		c[i] = math32.Min(math32.Max(v, 0), 1)
	}
	return c
}

// ClampWidth maps missing or invalid widths to 1 and clamps the result
// into [lo, hi].
func ClampWidth(w, lo, hi float32) float32 {
	if math32.IsNaN(w) || math32.IsInf(w, 0) || w <= 0 {
		w = 1
	}
	return math32.Min(math32.Max(w, lo), hi)
}

func packFloats(scratch *[]byte, values []float32) []byte {
	n := len(values) * 4
	if cap(*scratch) < n {
		*scratch = make([]byte, n)
	}
	data := (*scratch)[:n]
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}
