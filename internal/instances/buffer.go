// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package instances keeps per-instance transforms packed in CPU memory and
// mirrors them into GPU vertex buffers, uploading only what changed.
//
// A Store hands out instance handles for every Buffer of one renderer. Each
// Buffer holds the instances of one mesh in a gap-free array: removal swaps
// the last instance into the hole, so the array length always equals the
// live instance count. The array is split into batches of at most
// BatchSize instances, each backed by its own GPU buffer.
package instances

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/canvaskit/internal/dirty"
	"github.com/gogpu/canvaskit/internal/gpures"
)

// Errors returned by Buffer operations.
var (
	// ErrUnknownHandle is returned for stale, foreign or never issued handles.
	ErrUnknownHandle = errors.New("canvaskit: unknown handle")

	// ErrCapacityExceeded is returned by Insert when a hard ceiling is set
	// and the buffer already holds that many instances.
	ErrCapacityExceeded = errors.New("canvaskit: instance capacity exceeded")
)

const (
	// MatrixFloats is the number of floats in one transform.
	MatrixFloats = 16

	// Stride is the byte size of one instance in the GPU buffer.
	Stride = MatrixFloats * 4

	// InitialCapacity is the first allocation of a batch buffer, in
	// instances, unless the batch size is smaller.
	InitialCapacity = 256
)

// Matrix is a column-major 4x4 transform.
type Matrix = [MatrixFloats]float32

// Record locates an instance: the buffer that owns it and its slot there.
type Record struct {
	Owner uint64
	Slot  int
}

// Store issues instance handles shared by all buffers of one renderer.
type Store struct {
	table Table[Record]
}

// Lookup resolves h.
func (s *Store) Lookup(h Handle) (Record, bool) { return s.table.Get(h) }

// Len returns the number of live instances across all buffers.
func (s *Store) Len() int { return s.table.Len() }

// Config describes a Buffer.
type Config struct {
	// Owner tags records so that a handle from another buffer is rejected.
	Owner uint64

	// Label prefixes the debug labels of the GPU buffers.
	Label string

	// BatchSize is the most instances one GPU buffer (and one draw) holds.
	BatchSize int

	// Ceiling, when positive, caps the live instance count.
	Ceiling int

	Logger *slog.Logger
}

type batch struct {
	buf      *gpures.Guard[hal.Buffer]
	capacity int
}

// Batch is a read-only view of one GPU batch for drawing.
type Batch struct {
	Buffer hal.Buffer
	Count  int
}

// Buffer is the GPU mirror of one mesh's instances.
type Buffer struct {
	cfg    Config
	store  *Store
	device hal.Device
	log    *slog.Logger

	transforms []Matrix
	owners     []Handle
	// free holds vacated trailing slots, most recent last. Its top always
	// equals len(transforms).
	free    []int
	dirty   *dirty.Set
	batches []*batch
	// whole flags the batches a Flush or Compact already uploaded in full.
	whole   []bool
	scratch []byte
}

// NewBuffer creates an empty buffer. No GPU memory is allocated until the
// first Flush.
func NewBuffer(device hal.Device, store *Store, cfg Config) *Buffer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = InitialCapacity
	}
	l := cfg.Logger
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return &Buffer{
		cfg:    cfg,
		store:  store,
		device: device,
		log:    l,
		dirty:  dirty.New(),
	}
}

// Len returns the number of live instances.
func (b *Buffer) Len() int { return len(b.transforms) }

// BatchSize returns the per-batch instance limit.
func (b *Buffer) BatchSize() int { return b.cfg.BatchSize }

// Capacity returns the committed GPU capacity in instances across batches.
func (b *Buffer) Capacity() int {
	n := 0
	for _, bt := range b.batches {
		n += bt.capacity
	}
	return n
}

// FreeSlots returns the number of reclaimed slots awaiting reuse.
func (b *Buffer) FreeSlots() int { return len(b.free) }

// DirtyRanges returns the pending ranges, clipped to the live length.
func (b *Buffer) DirtyRanges() []dirty.Range { return b.dirty.Clipped(len(b.transforms)) }

// Transform returns the transform stored for h.
func (b *Buffer) Transform(h Handle) (Matrix, error) {
	rec, err := b.resolve(h)
	if err != nil {
		return Matrix{}, err
	}
	return b.transforms[rec.Slot], nil
}

// Insert adds an instance and marks its slot dirty.
func (b *Buffer) Insert(m Matrix) (Handle, error) {
	if b.cfg.Ceiling > 0 && len(b.transforms) >= b.cfg.Ceiling {
		return 0, fmt.Errorf("%w: limit is %d", ErrCapacityExceeded, b.cfg.Ceiling)
	}
	slot := len(b.transforms)
	if n := len(b.free); n > 0 {
		// The top of the free list is always the first slot past the
		// packed array, which is slot.
		b.free = b.free[:n-1]
	}
	h := b.store.table.Insert(Record{Owner: b.cfg.Owner, Slot: slot})
	b.transforms = append(b.transforms, m)
	b.owners = append(b.owners, h)
	b.dirty.Mark(slot)
	return h, nil
}

// Update overwrites the transform of h and marks its slot dirty.
func (b *Buffer) Update(h Handle, m Matrix) error {
	rec, err := b.resolve(h)
	if err != nil {
		return err
	}
	b.transforms[rec.Slot] = m
	b.dirty.Mark(rec.Slot)
	return nil
}

// Remove deletes h. The last instance moves into the vacated slot, which
// becomes dirty; the old trailing slot goes onto the free list.
func (b *Buffer) Remove(h Handle) error {
	rec, err := b.resolve(h)
	if err != nil {
		return err
	}
	last := len(b.transforms) - 1
	if rec.Slot != last {
		moved := b.owners[last]
		b.transforms[rec.Slot] = b.transforms[last]
		b.owners[rec.Slot] = moved
		b.store.table.Set(moved, Record{Owner: b.cfg.Owner, Slot: rec.Slot})
		b.dirty.Mark(rec.Slot)
	}
	b.transforms = b.transforms[:last]
	b.owners = b.owners[:last]
	b.free = append(b.free, last)
	b.store.table.Remove(h)
	return nil
}

// Clear removes every instance. GPU buffers are kept for reuse.
func (b *Buffer) Clear() {
	for _, h := range b.owners {
		b.store.table.Remove(h)
	}
	b.transforms = b.transforms[:0]
	b.owners = b.owners[:0]
	b.free = b.free[:0]
	b.dirty.Clear()
}

func (b *Buffer) resolve(h Handle) (Record, error) {
	rec, ok := b.store.table.Get(h)
	if !ok || rec.Owner != b.cfg.Owner {
		return Record{}, fmt.Errorf("%w: instance %#x", ErrUnknownHandle, uint64(h))
	}
	return rec, nil
}

// Batches returns the non-empty batches in slot order. Valid until the
// next mutation.
func (b *Buffer) Batches() []Batch {
	n := len(b.transforms)
	var out []Batch
	for i := 0; i*b.cfg.BatchSize < n && i < len(b.batches); i++ {
		count := min(n-i*b.cfg.BatchSize, b.cfg.BatchSize)
		out = append(out, Batch{Buffer: b.batches[i].buf.Get(), Count: count})
	}
	return out
}

// Flush reconciles the GPU buffers with the packed array. A batch whose
// live count outgrew its capacity is reallocated and uploaded whole;
// otherwise only dirty ranges are written. It returns the number of bytes
// uploaded.
func (b *Buffer) Flush(q gpures.Writer) (int, error) {
	n := len(b.transforms)
	size := b.cfg.BatchSize
	need := (n + size - 1) / size
	b.resetWhole(need)
	var uploaded int

	for i := 0; i < need; i++ {
		if i == len(b.batches) {
			b.batches = append(b.batches, &batch{})
		}
		bt := b.batches[i]
		lo := i * size
		count := min(n-lo, size)
		if count <= bt.capacity {
			continue
		}
		capacity := min(max(bt.capacity*2, count, min(InitialCapacity, size)), size)
		if err := b.realloc(i, capacity); err != nil {
			return uploaded, err
		}
		w, err := b.write(q, i, lo, lo+count)
		uploaded += w
		if err != nil {
			return uploaded, err
		}
		b.whole[i] = true
	}

	w, err := b.writeDirty(q)
	return uploaded + w, err
}

// Compact shrinks every batch to its live count, releases batches that no
// longer hold instances and drops the free list. Pending changes in
// batches that keep their buffer are uploaded as Flush would.
func (b *Buffer) Compact(q gpures.Writer) (int, error) {
	n := len(b.transforms)
	size := b.cfg.BatchSize
	need := (n + size - 1) / size
	for i := need; i < len(b.batches); i++ {
		b.batches[i].buf.Release()
	}
	if need < len(b.batches) {
		b.batches = b.batches[:need]
	}
	b.free = nil
	b.resetWhole(len(b.batches))

	var uploaded int
	for i, bt := range b.batches {
		lo := i * size
		count := min(n-lo, size)
		if count == bt.capacity {
			continue
		}
		if err := b.realloc(i, count); err != nil {
			return uploaded, err
		}
		w, err := b.write(q, i, lo, lo+count)
		uploaded += w
		if err != nil {
			return uploaded, err
		}
		b.whole[i] = true
	}

	w, err := b.writeDirty(q)
	return uploaded + w, err
}

// writeDirty uploads the dirty ranges of every allocated batch not already
// written whole, then empties the dirty set. Slots past the allocated
// batches are uploaded whole by the Flush that allocates them.
func (b *Buffer) writeDirty(q gpures.Writer) (int, error) {
	size := b.cfg.BatchSize
	var uploaded int
	for _, r := range b.dirty.Clipped(len(b.transforms)) {
		for start := r.Start; start < r.End; {
			i := start / size
			end := min(r.End, (i+1)*size)
			if i < len(b.batches) && !b.whole[i] {
				w, err := b.write(q, i, start, end)
				uploaded += w
				if err != nil {
					return uploaded, err
				}
			}
			start = end
		}
	}
	b.dirty.Clear()
	return uploaded, nil
}

func (b *Buffer) resetWhole(n int) {
	b.whole = slices.Grow(b.whole[:0], n)[:n]
	clear(b.whole)
}

// Release destroys every GPU buffer. The CPU side stays intact so a later
// Flush reallocates and re-uploads.
func (b *Buffer) Release() {
	for i := len(b.batches) - 1; i >= 0; i-- {
		b.batches[i].buf.Release()
	}
	b.batches = nil
	if n := len(b.transforms); n > 0 {
		b.dirty.Add(0, n)
	}
}

func (b *Buffer) realloc(i, capacity int) error {
	g, err := gpures.NewBuffer(b.device, &hal.BufferDescriptor{
		Label: fmt.Sprintf("%s_instances_%d", b.cfg.Label, i),
		Size:  uint64(capacity) * Stride,
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("grow instance batch %d: %w", i, err)
	}
	bt := b.batches[i]
	b.log.Debug("instances: batch reallocated",
		"label", b.cfg.Label, "batch", i, "old", bt.capacity, "new", capacity)
	bt.buf.Release()
	bt.buf = g
	bt.capacity = capacity
	return nil
}

// write uploads transforms[start:end) into batch i.
func (b *Buffer) write(q gpures.Writer, i, start, end int) (int, error) {
	n := (end - start) * Stride
	if cap(b.scratch) < n {
		b.scratch = make([]byte, n)
	}
	data := b.scratch[:n]
	off := 0
	for _, m := range b.transforms[start:end] {
		for _, f := range m {
			binary.LittleEndian.PutUint32(data[off:], math.Float32bits(f))
			off += 4
		}
	}
	local := start - i*b.cfg.BatchSize
	if err := q.WriteBuffer(b.batches[i].buf.Get(), uint64(local)*Stride, data); err != nil {
		return 0, fmt.Errorf("upload instances [%d,%d): %w", start, end, err)
	}
	return n, nil
}
