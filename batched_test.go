package canvaskit

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatched(t *testing.T, opts ...Option) (*BatchedRenderer, string) {
	t.Helper()
	id, _ := testSurface(t)
	r, err := NewBatchedRenderer(id, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Free)
	return r, id
}

func TestNewBatchedRendererUnknownSurface(t *testing.T) {
	_, err := NewBatchedRenderer("missing-surface")
	assert.ErrorIs(t, err, ErrSurfaceNotFound)
}

func TestRegisterMeshValidation(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	tests := []struct {
		name string
		data []float32
	}{
		{"empty", nil},
		{"not a multiple of 7", make([]float32, 20)},
		{"two vertices", make([]float32, 14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := rec.BuffersCreated
			_, err := r.RegisterMesh(tt.data)
			assert.ErrorIs(t, err, ErrInvalidMeshData)
			assert.Equal(t, before, rec.BuffersCreated, "no GPU memory on failure")
		})
	}

	n, err := r.MeshCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegisterMeshUploadsGeometry(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	a, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	b, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)

	writes := rec.WritesTo("canvaskit_mesh_0")
	require.Len(t, writes, 1)
	assert.Equal(t, len(triangle)*4, writes[0].Size)

	n, err := r.MeshCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMaxInstancesFromLimits(t *testing.T) {
	r, _ := newTestBatched(t)
	n, err := r.MaxInstances()
	require.NoError(t, err)
	assert.Equal(t, 1024, n, "64 KiB uniform binding / 64-byte transform")

	r2, _ := newTestBatched(t, WithMaxInstancesPerBatch(16))
	n, err = r2.MaxInstances()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestRenderSpansBatches(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	limit, err := r.MaxInstances()
	require.NoError(t, err)
	for i := 0; i < limit+3; i++ {
		_, err := r.CreateInstance(mesh, Translation(float32(i), 0, 0))
		require.NoError(t, err)
	}
	count, err := r.InstanceCount()
	require.NoError(t, err)
	assert.Equal(t, limit+3, count)

	require.NoError(t, r.Render())

	draws := drawsWith(rec, "canvaskit_mesh_pipeline")
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(limit), draws[0].InstanceCount)
	assert.Equal(t, uint32(3), draws[1].InstanceCount)
	assert.Equal(t, "canvaskit_mesh_0_instances_0", draws[0].Instances)
	assert.Equal(t, "canvaskit_mesh_0_instances_1", draws[1].Instances)
	for _, d := range draws {
		assert.Equal(t, uint32(3), d.VertexCount)
		assert.Equal(t, "canvaskit_mesh_0", d.Geometry)
		assert.Equal(t, [4]float32{0, 0, 320, 200}, d.Viewport)
	}
}

func TestStandaloneRenderClearsOnce(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	require.NoError(t, r.Render())
	assert.Equal(t, 1, rec.Clears())
	assert.Empty(t, rec.Draws, "no instances, no draw")
	assert.Equal(t, 1, rec.Submits)

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	_, err = r.CreateInstance(mesh, Identity())
	require.NoError(t, err)

	rec.Reset()
	require.NoError(t, r.Flush())
	require.Len(t, rec.Passes, 1)
	p := rec.Passes[0]
	assert.Equal(t, gputypes.LoadOpClear, p.Load)
	assert.Equal(t, gputypes.Color{R: 0.02, G: 0.02, B: 0.05, A: 1}, p.Clear)
	assert.Equal(t, float32(1), p.DepthClear)
	assert.True(t, p.Ended)

	clearAt := indexOf(rec.Events, "pass:canvaskit_pass")
	drawAt := indexOf(rec.Events, "draw:canvaskit_mesh_pipeline")
	require.NotEqual(t, -1, drawAt)
	assert.Less(t, clearAt, drawAt)
}

func TestFlushUploadsOnlyChangedInstances(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	handles := make([]InstanceHandle, 3)
	for i := range handles {
		handles[i], err = r.CreateInstance(mesh, Identity())
		require.NoError(t, err)
	}
	require.NoError(t, r.Render())
	first := rec.WritesTo("canvaskit_mesh_0_instances_0")
	require.Len(t, first, 1)
	assert.Equal(t, 3*64, first[0].Size)

	rec.Reset()
	require.NoError(t, r.SetInstanceTransform(handles[1], Translation(1, 2, 3)))
	require.NoError(t, r.Render())
	writes := rec.WritesTo("canvaskit_mesh_0_instances_0")
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(64), writes[0].Offset)
	assert.Equal(t, 64, writes[0].Size)

	rec.Reset()
	require.NoError(t, r.Render())
	assert.Empty(t, rec.WritesTo("canvaskit_mesh_0_instances_0"), "nothing changed")
}

func TestCameraUploadedWhenChanged(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	_, err = r.CreateInstance(mesh, Identity())
	require.NoError(t, err)

	proj, err := Perspective(1, 1.6, 0.1, 100)
	require.NoError(t, err)
	require.NoError(t, r.SetProjectionMatrix(proj))
	require.NoError(t, r.SetViewMatrix(Translation(0, 0, -5)))
	require.NoError(t, r.Render())
	writes := rec.WritesTo("canvaskit_camera")
	require.Len(t, writes, 1)
	assert.Equal(t, 128, writes[0].Size)

	rec.Reset()
	require.NoError(t, r.Render())
	assert.Empty(t, rec.WritesTo("canvaskit_camera"))
}

func TestRemoveInstanceKeepsOthers(t *testing.T) {
	r, _ := newTestBatched(t)
	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)

	a, err := r.CreateInstance(mesh, Translation(1, 0, 0))
	require.NoError(t, err)
	b, err := r.CreateInstance(mesh, Translation(2, 0, 0))
	require.NoError(t, err)
	c, err := r.CreateInstance(mesh, Translation(3, 0, 0))
	require.NoError(t, err)

	require.NoError(t, r.RemoveInstance(a))
	n, err := r.InstanceCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := r.InstanceTransform(c)
	require.NoError(t, err)
	assert.Equal(t, Translation(3, 0, 0), got)
	got, err = r.InstanceTransform(b)
	require.NoError(t, err)
	assert.Equal(t, Translation(2, 0, 0), got)

	assert.ErrorIs(t, r.RemoveInstance(a), ErrUnknownHandle)
	assert.ErrorIs(t, r.SetInstanceTransform(a, Identity()), ErrUnknownHandle)
}

func TestStaleHandleAfterReuse(t *testing.T) {
	r, _ := newTestBatched(t)
	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)

	old, err := r.CreateInstance(mesh, Identity())
	require.NoError(t, err)
	require.NoError(t, r.RemoveInstance(old))
	fresh, err := r.CreateInstance(mesh, Translation(5, 0, 0))
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	assert.ErrorIs(t, r.SetInstanceTransform(old, Identity()), ErrUnknownHandle)
	got, err := r.InstanceTransform(fresh)
	require.NoError(t, err)
	assert.Equal(t, Translation(5, 0, 0), got)
}

func TestUnknownMesh(t *testing.T) {
	r, _ := newTestBatched(t)
	_, err := r.CreateInstance(MeshHandle(12345), Identity())
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, r.RemoveMesh(MeshHandle(12345)), ErrUnknownHandle)
	_, err = r.CreateInstance(0, Identity())
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestRemoveMeshReleasesInstances(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	inst, err := r.CreateInstance(mesh, Identity())
	require.NoError(t, err)
	require.NoError(t, r.Render())
	live := rec.LiveBuffers()

	require.NoError(t, r.RemoveMesh(mesh))
	assert.Equal(t, live-2, rec.LiveBuffers(), "geometry and instance batch")
	assert.ErrorIs(t, r.SetInstanceTransform(inst, Identity()), ErrUnknownHandle)
	_, err = r.CreateInstance(mesh, Identity())
	assert.ErrorIs(t, err, ErrUnknownHandle)

	n, err := r.InstanceCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueueInstanceDrawnOnce(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	_, err = r.CreateInstance(mesh, Identity())
	require.NoError(t, err)
	require.NoError(t, r.QueueInstance(mesh, Translation(1, 0, 0)))

	require.NoError(t, r.Render())
	draws := drawsWith(rec, "canvaskit_mesh_pipeline")
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(2), draws[0].InstanceCount)

	n, err := r.InstanceCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec.Reset()
	require.NoError(t, r.Render())
	draws = drawsWith(rec, "canvaskit_mesh_pipeline")
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(1), draws[0].InstanceCount)
}

func TestInstanceCeiling(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		max  int
	}{
		{"legacy batch cap", []Option{WithMaxInstancesPerBatch(2), WithLegacyBatchCap()}, 2},
		{"explicit ceiling", []Option{WithMaxInstancesPerBatch(2), WithInstanceCeiling(5)}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestBatched(t, tt.opts...)
			mesh, err := r.RegisterMesh(triangle)
			require.NoError(t, err)
			for i := 0; i < tt.max; i++ {
				_, err := r.CreateInstance(mesh, Identity())
				require.NoError(t, err)
			}
			_, err = r.CreateInstance(mesh, Identity())
			assert.ErrorIs(t, err, ErrCapacityExceeded)
		})
	}
}

func TestBatchedResize(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	defer r.Free()

	proj, err := Perspective(1, 1.6, 0.1, 100)
	require.NoError(t, err)
	require.NoError(t, r.SetProjectionMatrix(proj))

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	_, err = r.CreateInstance(mesh, Identity())
	require.NoError(t, err)

	require.NoError(t, r.Resize(100, 0))
	assert.Equal(t, proj, r.projection, "resize keeps the projection")
	require.NoError(t, r.Render())
	draws := drawsWith(rec, "canvaskit_mesh_pipeline")
	require.Len(t, draws, 1)
	assert.Equal(t, [4]float32{0, 0, 100, 1}, draws[0].Viewport)
}

func TestBatchedCompactAndClear(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id, WithMaxInstancesPerBatch(4))
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	var hs []InstanceHandle
	for i := 0; i < 6; i++ {
		h, err := r.CreateInstance(mesh, Identity())
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, r.Render())
	for _, h := range hs[:4] {
		require.NoError(t, r.RemoveInstance(h))
	}
	before := rec.LiveBuffers()
	require.NoError(t, r.Compact())
	assert.Equal(t, before-1, rec.LiveBuffers(), "second batch released")

	require.NoError(t, r.Clear())
	n, err := r.MeshCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = r.InstanceCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBatchedCompactKeepsPendingTransforms(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id, WithMaxInstancesPerBatch(4))
	require.NoError(t, err)
	defer r.Free()

	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	var hs []InstanceHandle
	for i := 0; i < 4; i++ {
		h, err := r.CreateInstance(mesh, Identity())
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, r.Render())

	require.NoError(t, r.SetInstanceTransform(hs[1], Translation(9, 0, 0)))
	rec.Reset()
	require.NoError(t, r.Compact())
	writes := rec.WritesTo("canvaskit_mesh_0_instances_0")
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(64), writes[0].Offset)
	assert.Equal(t, 64, writes[0].Size)

	rec.Reset()
	require.NoError(t, r.Render())
	assert.Empty(t, rec.WritesTo("canvaskit_mesh_0_instances_0"), "nothing left to upload")
}

func TestBatchedPipelineFailureReleasesEverything(t *testing.T) {
	id, rec := testSurface(t)
	boom := errors.New("boom")
	rec.FailCreate = func(label string) error {
		if label == "canvaskit_mesh_pipeline" {
			return boom
		}
		return nil
	}
	_, err := NewBatchedRenderer(id)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, rec.LiveBuffers())
	assert.Equal(t, rec.TexturesCreated, rec.TexturesDestroy)
}

func TestBatchedUseAfterFree(t *testing.T) {
	id, rec := testSurface(t)
	r, err := NewBatchedRenderer(id)
	require.NoError(t, err)
	mesh, err := r.RegisterMesh(triangle)
	require.NoError(t, err)
	inst, err := r.CreateInstance(mesh, Identity())
	require.NoError(t, err)
	require.NoError(t, r.Render())

	r.Free()
	r.Free()
	assert.False(t, r.Alive())
	assert.Zero(t, rec.LiveBuffers())
	assert.Equal(t, rec.TexturesCreated, rec.TexturesDestroy)

	_, err = r.RegisterMesh(triangle)
	assert.ErrorIs(t, err, ErrUseAfterFree)
	_, err = r.CreateInstance(mesh, Identity())
	assert.ErrorIs(t, err, ErrUseAfterFree)
	assert.ErrorIs(t, r.SetInstanceTransform(inst, Identity()), ErrUseAfterFree)
	assert.ErrorIs(t, r.RemoveInstance(inst), ErrUseAfterFree)
	_, err = r.InstanceCount()
	assert.ErrorIs(t, err, ErrUseAfterFree)
	_, err = r.MaxInstances()
	assert.ErrorIs(t, err, ErrUseAfterFree)
	assert.ErrorIs(t, r.SetViewMatrix(Identity()), ErrUseAfterFree)
	assert.ErrorIs(t, r.SetProjectionMatrix(Identity()), ErrUseAfterFree)
	assert.ErrorIs(t, r.Resize(10, 10), ErrUseAfterFree)
	assert.ErrorIs(t, r.Render(), ErrUseAfterFree)
}
