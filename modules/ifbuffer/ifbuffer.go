package ifbuffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Errors returned by Buffer operations.
var (
	ErrInvalidSize = errors.New("ifbuffer: samples per cycle and cycle count must be > 0")
	ErrOutOfOrder  = errors.New("ifbuffer: cycle committed out of order")
	ErrSliceSize   = errors.New("ifbuffer: slice length does not match cycle length")
	ErrRange       = errors.New("ifbuffer: read range exceeds buffer capacity")
	ErrNotWritten  = errors.New("ifbuffer: cycle not written yet")
	ErrOverrun     = errors.New("ifbuffer: cycle already overwritten")
)

// Buffer is a fixed-capacity circular array of complex baseband samples
// organised in cycles.
//
// Thread-safety:
//   - Slot/Commit/Write: single writer goroutine only
//   - Read/Overwritten/WriteCursor/Occupancy/Dropped: any goroutine
//
// Slot memory is never locked. A reader that respects Ready never observes a
// slot while the writer is filling it.
type Buffer struct {
	n      int // samples per cycle
	cycles int // slot count
	data   []complex64

	w       atomic.Int64  // last committed cycle (-1 before first commit)
	dropped atomic.Uint64 // cycles a reader lost to overwrite

	mu      sync.RWMutex
	cursors []*Cursor
}

// New allocates a buffer of cycles slots of samplesPerCycle samples each.
// The buffer is never resized.
func New(samplesPerCycle, cycles int) (*Buffer, error) {
	if samplesPerCycle <= 0 || cycles <= 0 {
		return nil, fmt.Errorf("%w (got %d × %d)", ErrInvalidSize, samplesPerCycle, cycles)
	}
	b := &Buffer{
		n:      samplesPerCycle,
		cycles: cycles,
		data:   make([]complex64, samplesPerCycle*cycles),
	}
	b.w.Store(-1)
	return b, nil
}

// CycleLen returns the number of samples in one cycle.
func (b *Buffer) CycleLen() int { return b.n }

// Cycles returns the number of cycle slots.
func (b *Buffer) Cycles() int { return b.cycles }

// WriteCursor returns the last committed cycle index, or -1 if nothing has
// been committed yet.
func (b *Buffer) WriteCursor() int64 { return b.w.Load() }

// Slot returns the writable slot for cycle. The slice aliases buffer memory
// and must only be filled by the writer before Commit(cycle).
func (b *Buffer) Slot(cycle int64) []complex64 {
	i := int(cycle%int64(b.cycles)) * b.n
	return b.data[i : i+b.n : i+b.n]
}

// Commit publishes cycle to readers. Cycles must be committed in strictly
// increasing order without gaps, starting at 0.
func (b *Buffer) Commit(cycle int64) error {
	if w := b.w.Load(); cycle != w+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, cycle, w+1)
	}
	b.w.Store(cycle)
	return nil
}

// Write copies one cycle of samples into its slot and commits it.
func (b *Buffer) Write(cycle int64, src []complex64) error {
	if len(src) != b.n {
		return fmt.Errorf("%w: got %d, want %d", ErrSliceSize, len(src), b.n)
	}
	if w := b.w.Load(); cycle != w+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, cycle, w+1)
	}
	copy(b.Slot(cycle), src)
	b.w.Store(cycle)
	return nil
}

// Read returns count consecutive cycles starting at cycle.
//
// Contiguous ranges are returned as a view of buffer memory (no copy); ranges
// that cross the end of the array are copied into scratch, which is grown if
// its capacity is too small. Either way the result is read-only.
//
// The range must already be committed (ErrNotWritten) and its first cycle
// must not have been reclaimed by the writer (ErrOverrun). Because the writer
// does not wait, a successful Read can still race an overwrite started after
// the check; callers recheck with Overwritten once done with the data.
func (b *Buffer) Read(cycle int64, count int, scratch []complex64) ([]complex64, error) {
	if count <= 0 || count >= b.cycles {
		return nil, fmt.Errorf("%w: count %d, capacity %d", ErrRange, count, b.cycles)
	}
	w := b.w.Load()
	if cycle < 0 || cycle+int64(count)-1 > w {
		return nil, fmt.Errorf("%w: cycles %d..%d, write cursor %d",
			ErrNotWritten, cycle, cycle+int64(count)-1, w)
	}
	if w+1-cycle >= int64(b.cycles) {
		return nil, fmt.Errorf("%w: cycle %d, write cursor %d", ErrOverrun, cycle, w)
	}

	total := count * b.n
	start := int(cycle%int64(b.cycles)) * b.n
	if start+total <= len(b.data) {
		return b.data[start : start+total : start+total], nil
	}

	if cap(scratch) < total {
		scratch = make([]complex64, total)
	}
	scratch = scratch[:total]
	k := copy(scratch, b.data[start:])
	copy(scratch[k:], b.data[:total-k])
	return scratch, nil
}

// Overwritten reports whether the slot of cycle has been (or is being)
// reclaimed by the writer.
func (b *Buffer) Overwritten(cycle int64) bool {
	return b.w.Load()+1-cycle >= int64(b.cycles)
}

// AddDropped records k cycles a reader lost to overwrite.
func (b *Buffer) AddDropped(k uint64) { b.dropped.Add(k) }

// Dropped returns the total number of cycles lost to overwrite.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Ready reports whether a reader with native multiple n may process cycle r
// while the writer's last committed cycle is w. The reader consumes 2n cycles
// starting at r, so it has to stay one full native cycle behind the writer.
func Ready(r, n, w int64) bool {
	return r+2*n <= w+1
}
