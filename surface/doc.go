// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package surface owns the drawable that every render pass targets.
//
// A host registers a Drawable (a HAL device and queue, optionally a window
// surface, and the target size) under an id. NewContext looks the id up and
// builds a Context: the shared target that allocates the depth buffer,
// reconfigures on resize, and records frames.
//
// # Frames
//
// BeginFrame opens one render pass over the whole target. Passing clear
// values makes the pass clear color and depth on load, which is the only
// way the target is ever cleared. Frame.End closes the pass, submits the
// command buffer and presents.
//
//	ctx, err := surface.NewContext("main")
//	f, err := ctx.BeginFrame(&surface.ClearValues{Color: gputypes.Color{A: 1}, Depth: 1})
//	// record draws into f.Pass()
//	err = f.End()
//
// A Context is not safe for concurrent use.
package surface
