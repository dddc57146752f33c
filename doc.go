// Package canvaskit is a batched real-time rendering core on top of the
// gogpu/wgpu HAL.
//
// # Overview
//
// A host registers a drawable (device, queue, optional window surface) with
// package surface, then draws into it through renderers:
//
//   - BatchedRenderer draws many transformed instances of registered meshes,
//     one draw call per batch of instances.
//   - TimeSeriesRenderer draws numeric series over shared timestamps as line
//     strips.
//   - Composer runs several renderers as passes over one shared target,
//     clearing once per frame.
//
// # Quick Start
//
//	if err := surface.Register("main", surface.Drawable{
//	    Device: device, Queue: queue, Surface: halSurface,
//	    Width: 800, Height: 600,
//	}); err != nil {
//	    return err
//	}
//
//	c, err := canvaskit.NewComposer("main")
//	if err != nil {
//	    return err
//	}
//	defer c.Free()
//
//	meshes, _ := c.AddBatchedPass()
//	cube, _ := meshes.RegisterMesh(cubeVertices) // x, y, z, r, g, b, a per vertex
//	meshes.CreateInstance(cube, canvaskit.Translation(0, 0, -5))
//
//	chart, _ := c.AddTimeSeriesPass()
//	chart.SetSeries(times, []canvaskit.Series{{Values: cpu, Color: f32.Vec4{0, 1, 0, 1}}})
//
//	for running {
//	    if err := c.Render(); err != nil {
//	        return err
//	    }
//	}
//
// # Instances
//
// Instance transforms are kept packed in CPU memory, without gaps. Only the
// ranges touched since the previous frame are uploaded. Removing an instance
// moves the last one into its slot, so instance order is not stable. Handles
// carry a generation: a handle to a removed instance never resolves to a
// newer one.
//
// # Resources
//
// Every GPU object is owned by exactly one guard and released by Free, never
// by a finalizer. Free is idempotent; any other call on a freed renderer or
// composer returns ErrUseAfterFree.
//
// # Coordinate System
//
// Mat4 is column-major. Perspective produces clip-space depth in [0, 1] as
// WebGPU expects.
//
// # Logging
//
// The package is silent by default. SetLogger installs a *slog.Logger for
// canvaskit and its subpackages.
package canvaskit
