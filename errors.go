// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package canvaskit

import (
	"errors"

	"github.com/gogpu/canvaskit/internal/instances"
	"github.com/gogpu/canvaskit/surface"
)

// Errors returned by canvaskit operations. Details are wrapped around
// these values, so test with errors.Is.
var (
	// ErrInvalidMeshData is returned by RegisterMesh for geometry whose length
	// is not a positive multiple of 7 floats or that has fewer than 3 vertices.
	ErrInvalidMeshData = errors.New("canvaskit: invalid mesh data")

	// ErrUnknownHandle is returned for stale, foreign or never issued
	// mesh and instance handles.
	ErrUnknownHandle = instances.ErrUnknownHandle

	// ErrMismatchedSeriesLength is returned by SetSeries when a series does
	// not have one sample per timestamp.
	ErrMismatchedSeriesLength = errors.New("canvaskit: series length does not match timestamps")

	// ErrInvalidSeriesData is returned by SetSeries for NaN or infinite
	// timestamps or samples.
	ErrInvalidSeriesData = errors.New("canvaskit: series data must be finite")

	// ErrSurfaceNotFound is returned when no drawable is registered under
	// the requested id.
	ErrSurfaceNotFound = surface.ErrNotFound

	// ErrUseAfterFree is returned by every operation on a freed renderer
	// or composer.
	ErrUseAfterFree = errors.New("canvaskit: use after free")

	// ErrCapacityExceeded is returned by CreateInstance when an instance
	// ceiling is configured and reached.
	ErrCapacityExceeded = instances.ErrCapacityExceeded

	// ErrInvalidClearDepth is returned by SetClearDepth for NaN or infinity.
	ErrInvalidClearDepth = errors.New("canvaskit: clear depth must be finite")

	// ErrInvalidProjection is returned by Perspective for unusable parameters.
	ErrInvalidProjection = errors.New("canvaskit: invalid projection parameters")

	// ErrInvalidTransform is returned by Mat4FromSlice for slices that do
	// not hold exactly 16 floats.
	ErrInvalidTransform = errors.New("canvaskit: transform needs 16 floats")
)
