package ifbuffer

import "sync/atomic"

// Cursor is a reader position registered with a Buffer. It holds the next
// cycle the reader will process and feeds Occupancy.
//
// Set is called by the owning reader goroutine only; Pos is safe from any
// goroutine.
type Cursor struct {
	name string
	pos  atomic.Int64
	buf  *Buffer
}

// Register adds a reader cursor starting at cycle 0.
func (b *Buffer) Register(name string) *Cursor {
	c := &Cursor{name: name, buf: b}

	b.mu.Lock()
	b.cursors = append(b.cursors, c)
	b.mu.Unlock()

	return c
}

// Release removes the cursor from occupancy accounting. Idempotent.
func (c *Cursor) Release() {
	b := c.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, other := range b.cursors {
		if other == c {
			b.cursors = append(b.cursors[:i], b.cursors[i+1:]...)
			return
		}
	}
}

// Name returns the label the cursor was registered with.
func (c *Cursor) Name() string { return c.name }

// Set records cycle as the reader's next cycle.
func (c *Cursor) Set(cycle int64) { c.pos.Store(cycle) }

// Pos returns the reader's next cycle.
func (c *Cursor) Pos() int64 { return c.pos.Load() }

// Occupancy returns max(W + 1 - R) / cycles over all registered cursors, the
// fraction of the buffer in flight between the writer and the slowest reader.
// Returns 0 when no reader is registered.
func (b *Buffer) Occupancy() float64 {
	w := b.w.Load()

	b.mu.RLock()
	defer b.mu.RUnlock()

	var maxLag int64
	for _, c := range b.cursors {
		if lag := w + 1 - c.Pos(); lag > maxLag {
			maxLag = lag
		}
	}
	return float64(maxLag) / float64(b.cycles)
}

// MinCursor returns the position of the slowest registered reader. ok is
// false when no reader is registered.
func (b *Buffer) MinCursor() (pos int64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, c := range b.cursors {
		if p := c.Pos(); i == 0 || p < pos {
			pos = p
		}
	}
	return pos, len(b.cursors) > 0
}
