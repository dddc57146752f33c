package instances

// Handle identifies a record in a Table. The low 32 bits are the entry
// index, the high 32 bits its generation. Zero is never issued.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

type entry[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Table maps generational handles to values. Removed entries are recycled
// most recently freed first; recycling bumps the generation so handles to
// the previous occupant stop resolving.
type Table[T any] struct {
	entries []entry[T]
	free    []uint32
	live    int
}

// Insert stores v and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.entries))
		t.entries = append(t.entries, entry[T]{})
	}
	e := &t.entries[idx]
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	e.live = true
	e.value = v
	t.live++
	return makeHandle(idx, e.gen)
}

func (t *Table[T]) lookup(h Handle) *entry[T] {
	idx := h.index()
	if h == 0 || int(idx) >= len(t.entries) {
		return nil
	}
	e := &t.entries[idx]
	if !e.live || e.gen != h.gen() {
		return nil
	}
	return e
}

// Get returns the value for h.
func (t *Table[T]) Get(h Handle) (T, bool) {
	if e := t.lookup(h); e != nil {
		return e.value, true
	}
	var zero T
	return zero, false
}

// Set overwrites the value for a live handle.
func (t *Table[T]) Set(h Handle, v T) bool {
	e := t.lookup(h)
	if e == nil {
		return false
	}
	e.value = v
	return true
}

// Contains reports whether h is live.
func (t *Table[T]) Contains(h Handle) bool { return t.lookup(h) != nil }

// Remove deletes h and returns its value.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T
	e := t.lookup(h)
	if e == nil {
		return zero, false
	}
	v := e.value
	e.live = false
	e.value = zero
	t.free = append(t.free, h.index())
	t.live--
	return v, true
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int { return t.live }

// Each calls fn for every live handle in index order.
func (t *Table[T]) Each(fn func(Handle, T)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.live {
			fn(makeHandle(uint32(i), e.gen), e.value)
		}
	}
}

// Clear removes every live handle.
func (t *Table[T]) Clear() {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := &t.entries[i]
		if e.live {
			t.Remove(makeHandle(uint32(i), e.gen))
		}
	}
}
