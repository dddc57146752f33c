package canvaskit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/canvaskit/internal/gputest"
	"github.com/gogpu/canvaskit/surface"
)

// testSurface registers an offscreen 320x200 drawable on a recording noop
// device and returns its id.
func testSurface(t *testing.T) (string, *gputest.Recorder) {
	t.Helper()
	dev, q, rec := gputest.Open(t)
	id, err := surface.RegisterAnonymous(surface.Drawable{
		Device: dev,
		Queue:  q,
		Width:  320,
		Height: 200,
	})
	require.NoError(t, err)
	t.Cleanup(func() { surface.Unregister(id) })
	return id, rec
}

// triangle is one colored triangle: x, y, z, r, g, b, a per vertex.
var triangle = []float32{
	0, 1, 0, 1, 0, 0, 1,
	-1, -1, 0, 0, 1, 0, 1,
	1, -1, 0, 0, 0, 1, 1,
}

// drawsWith returns the draws issued with the named pipeline.
func drawsWith(rec *gputest.Recorder, pipeline string) []gputest.Draw {
	var out []gputest.Draw
	for _, d := range rec.Draws {
		if d.Pipeline == pipeline {
			out = append(out, d)
		}
	}
	return out
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}
