package canvaskit

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gogpu/wgpu/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/canvaskit/internal/gputest"
)

func newTestTimeSeries(t *testing.T, opts ...Option) (*TimeSeriesRenderer, *gputest.Recorder) {
	t.Helper()
	id, rec := testSurface(t)
	r, err := NewTimeSeriesRenderer(id, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Free)
	return r, rec
}

func TestNewTimeSeriesRendererUnknownSurface(t *testing.T) {
	_, err := NewTimeSeriesRenderer("missing-surface")
	assert.ErrorIs(t, err, ErrSurfaceNotFound)
}

func TestSetSeriesDomains(t *testing.T) {
	r, _ := newTestTimeSeries(t)

	td, err := r.TimeDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{0, 1}, td, "no data")

	require.NoError(t, r.SetSeries([]float32{0, 1, 2}, []Series{
		{Values: []float32{1, 5, 3}},
		{Values: []float32{-2, 0, 0}},
	}))

	td, err = r.TimeDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{0, 2}, td)
	vd, err := r.ValueDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{-2, 5}, vd)

	n, err := r.SeriesCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = r.SampleCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSetSeriesDegenerateDomain(t *testing.T) {
	r, _ := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{4}, []Series{{Values: []float32{7}}}))

	td, err := r.TimeDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{3.5, 4.5}, td)
	vd, err := r.ValueDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{6.5, 7.5}, vd)
}

func TestSetSeriesRejectsBadInput(t *testing.T) {
	r, _ := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{{Values: []float32{2, 3}}}))

	tests := []struct {
		name  string
		times []float32
		data  []Series
		want  error
	}{
		{"short series", []float32{0, 1, 2}, []Series{{Values: []float32{1, 2}}}, ErrMismatchedSeriesLength},
		{"no timestamps", nil, []Series{{Values: []float32{1}}}, ErrMismatchedSeriesLength},
		{"empty series without timestamps", nil, []Series{{}}, ErrMismatchedSeriesLength},
		{"second series long", []float32{0}, []Series{{Values: []float32{1}}, {Values: []float32{1, 2}}}, ErrMismatchedSeriesLength},
		{"NaN sample", []float32{0, 1}, []Series{{Values: []float32{1, math32.NaN()}}}, ErrInvalidSeriesData},
		{"infinite timestamp", []float32{0, math32.Inf(1)}, []Series{{Values: []float32{1, 2}}}, ErrInvalidSeriesData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.SetSeries(tt.times, tt.data), tt.want)

			n, err := r.SeriesCount()
			require.NoError(t, err)
			assert.Equal(t, 1, n, "previous data kept")
			vd, err := r.ValueDomain()
			require.NoError(t, err)
			assert.Equal(t, [2]float32{2, 3}, vd)
		})
	}
}

func TestSetSeriesTimestampsWithoutSeries(t *testing.T) {
	r, rec := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1, 2}, []Series{{Values: []float32{4, 5, 6}}}))

	require.NoError(t, r.SetSeries([]float32{1, 2, 3}, nil))
	n, err := r.SampleCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = r.SeriesCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	td, err := r.TimeDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{1, 3}, td)
	vd, err := r.ValueDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{0, 1}, vd, "no samples")

	rec.Reset()
	require.NoError(t, r.Draw())
	assert.Empty(t, rec.Draws)
}

func TestSetSeriesAllocationFailureKeepsState(t *testing.T) {
	r, rec := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{{Values: []float32{2, 3}}}))
	live := rec.LiveBuffers()

	boom := errors.New("out of memory")
	tests := []struct {
		name  string
		fail  string
		times []float32
		data  []Series
	}{
		{
			"new line", "canvaskit_series_2_uniform",
			[]float32{0, 1},
			[]Series{{Values: []float32{0, 1}}, {Values: []float32{1, 0}}, {Values: []float32{9, 9}}},
		},
		{
			"growing timestamps", "canvaskit_timestamps",
			[]float32{0, 1, 2},
			[]Series{{Values: []float32{7, 8, 9}}},
		},
		{
			"growing values", "canvaskit_series_0_values",
			[]float32{0, 1, 2},
			[]Series{{Values: []float32{7, 8, 9}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.FailCreate = func(label string) error {
				if label == tt.fail {
					return boom
				}
				return nil
			}
			defer func() { rec.FailCreate = nil }()

			require.ErrorIs(t, r.SetSeries(tt.times, tt.data), boom)
			n, err := r.SeriesCount()
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			n, err = r.SampleCount()
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			vd, err := r.ValueDomain()
			require.NoError(t, err)
			assert.Equal(t, [2]float32{2, 3}, vd)
			assert.Equal(t, live, rec.LiveBuffers(), "nothing leaked or released")
		})
	}

	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{
		{Values: []float32{0, 1}}, {Values: []float32{1, 0}}, {Values: []float32{9, 9}},
	}))
	rec.Reset()
	require.NoError(t, r.Draw())
	draws := drawsWith(rec, "canvaskit_line_pipeline")
	require.Len(t, draws, 3)
	assert.Equal(t, "canvaskit_series_2_values", draws[2].Instances, "labels continue where the last success left off")
}

// samplesOf decodes the float32 samples uploaded to buf.
func samplesOf(rec *gputest.Recorder, buf hal.Buffer, n int) []float32 {
	data := rec.Contents(buf)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func TestSetSeriesUploadFailureRestoresOnDraw(t *testing.T) {
	r, rec := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{
		{Values: []float32{1, 2}},
		{Values: []float32{3, 4}},
	}))

	boom := errors.New("device lost")
	rec.FailWrite = func(label string) error {
		if label == "canvaskit_series_1_values" {
			return boom
		}
		return nil
	}
	require.ErrorIs(t, r.SetSeries([]float32{5, 6}, []Series{
		{Values: []float32{7, 8}},
		{Values: []float32{9, 10}},
	}), boom)
	rec.FailWrite = nil

	td, err := r.TimeDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{0, 1}, td)
	vd, err := r.ValueDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{1, 4}, vd)
	assert.Equal(t, []float32{7, 8}, samplesOf(rec, r.lines[0].Values.Buffer(), 2), "partially uploaded")

	require.NoError(t, r.Draw())
	assert.Equal(t, []float32{0, 1}, samplesOf(rec, r.timestamps.Buffer(), 2))
	assert.Equal(t, []float32{1, 2}, samplesOf(rec, r.lines[0].Values.Buffer(), 2))
	assert.Equal(t, []float32{3, 4}, samplesOf(rec, r.lines[1].Values.Buffer(), 2))
}

func TestSetSeriesStyle(t *testing.T) {
	r, _ := newTestTimeSeries(t, WithLineWidthRange(1, 4))
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{
		{Values: []float32{0, 1}, Color: f32.Vec4{2, -1, 0.5, math32.NaN()}, LineWidth: 10},
		{Values: []float32{0, 1}, Color: f32.Vec4{0, 1, 0, 1}},
		{Values: []float32{0, 1}, LineWidth: 2.5},
	}))

	tests := []struct {
		index int
		want  SeriesStyle
	}{
		{0, SeriesStyle{Color: f32.Vec4{1, 0, 0.5, 0}, LineWidth: 4}},
		{1, SeriesStyle{Color: f32.Vec4{0, 1, 0, 1}, LineWidth: 1}},
		{2, SeriesStyle{Color: f32.Vec4{0, 0, 0, 0}, LineWidth: 2.5}},
	}
	for _, tt := range tests {
		got, err := r.SeriesStyle(tt.index)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "series %d", tt.index)
	}
	_, err := r.SeriesStyle(3)
	assert.Error(t, err)
}

func TestDefaultLineWidthRange(t *testing.T) {
	r, _ := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{{Values: []float32{0, 1}, LineWidth: 3}}))
	got, err := r.SeriesStyle(0)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.LineWidth)
}

func TestSetSeriesReusesBuffers(t *testing.T) {
	r, rec := newTestTimeSeries(t)
	times := []float32{0, 1, 2, 3}
	require.NoError(t, r.SetSeries(times, []Series{
		{Values: []float32{1, 2, 3, 4}},
		{Values: []float32{4, 3, 2, 1}},
	}))
	created := rec.BuffersCreated

	require.NoError(t, r.SetSeries(times, []Series{
		{Values: []float32{5, 6, 7, 8}},
		{Values: []float32{8, 7, 6, 5}},
	}))
	assert.Equal(t, created, rec.BuffersCreated, "same shape reuses every buffer")

	require.NoError(t, r.SetSeries(times[:2], []Series{{Values: []float32{1, 2}}}))
	assert.Equal(t, created, rec.BuffersCreated, "smaller data fits the old buffers")

	require.NoError(t, r.SetSeries([]float32{0, 1, 2, 3, 4, 5}, []Series{{Values: []float32{1, 2, 3, 4, 5, 6}}}))
	assert.Equal(t, created+2, rec.BuffersCreated, "timestamps and values grow")
}

func TestSetSeriesReleasesSurplusLines(t *testing.T) {
	r, rec := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{
		{Values: []float32{0, 1}},
		{Values: []float32{1, 0}},
		{Values: []float32{1, 1}},
	}))
	live := rec.LiveBuffers()

	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{{Values: []float32{0, 1}}}))
	assert.Equal(t, live-4, rec.LiveBuffers(), "two uniforms and two value buffers")

	require.NoError(t, r.SetSeries(nil, nil))
	n, err := r.SeriesCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = r.SampleCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	vd, err := r.ValueDomain()
	require.NoError(t, err)
	assert.Equal(t, [2]float32{0, 1}, vd)
}

func TestTimeSeriesDraw(t *testing.T) {
	r, rec := newTestTimeSeries(t)
	require.NoError(t, r.SetSeries([]float32{0, 1, 2}, []Series{
		{Values: []float32{1, 2, 3}},
		{Values: []float32{3, 2, 1}},
	}))
	rec.Reset()

	require.NoError(t, r.Draw())
	draws := drawsWith(rec, "canvaskit_line_pipeline")
	require.Len(t, draws, 2)
	for i, d := range draws {
		assert.Equal(t, uint32(3), d.VertexCount)
		assert.Equal(t, uint32(1), d.InstanceCount)
		assert.Equal(t, "canvaskit_timestamps", d.Geometry)
		assert.Equal(t, []string{"canvaskit_series_0_values", "canvaskit_series_1_values"}[i], d.Instances)
	}
	assert.Len(t, rec.WritesTo("canvaskit_series_0_uniform"), 1)
	assert.Equal(t, 1, rec.Clears())

	rec.Reset()
	require.NoError(t, r.SetSeries(nil, nil))
	require.NoError(t, r.Render())
	assert.Empty(t, rec.Draws)
}

func TestTimeSeriesUseAfterFree(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewTimeSeriesRenderer(id)
	require.NoError(t, err)
	require.NoError(t, r.SetSeries([]float32{0, 1}, []Series{{Values: []float32{0, 1}}}))

	r.Free()
	r.Free()
	assert.Zero(t, rec.LiveBuffers())

	assert.ErrorIs(t, r.SetSeries(nil, nil), ErrUseAfterFree)
	assert.ErrorIs(t, r.Draw(), ErrUseAfterFree)
	assert.ErrorIs(t, r.Resize(1, 1), ErrUseAfterFree)
	_, err = r.SeriesCount()
	assert.ErrorIs(t, err, ErrUseAfterFree)
	_, err = r.SampleCount()
	assert.ErrorIs(t, err, ErrUseAfterFree)
	_, err = r.TimeDomain()
	assert.ErrorIs(t, err, ErrUseAfterFree)
	_, err = r.ValueDomain()
	assert.ErrorIs(t, err, ErrUseAfterFree)
}
