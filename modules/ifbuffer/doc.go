// Package ifbuffer implements the shared IF sample ring buffer of the
// receiver: one writer, many concurrent readers, no locks.
//
// # Philosophy
//
// "The writer never waits. Readers keep their distance."
//
// The cycle loop writes one base cycle (typically 1 ms) of complex baseband
// samples per iteration. Every tracking channel reads those cycles at its own
// cadence from its own goroutine. Synchronising every cycle would cost more
// than the work it protects, so safety is a scheduling contract instead:
//
//	a reader may process cycle R with native multiple n only when
//	R + 2n <= W + 1   (W = last committed cycle)
//
// The contract is checked explicitly (Ready, Read, Overwritten) and violations
// are counted as dropped cycles rather than silently returning stale data.
//
// # Architecture
//
//	SampleSource → cycle loop ──Commit(W)──▶ Buffer (cycles × N samples)
//	                                            │  Read(R, 2n)
//	                                            ├──▶ worker 1 (Cursor)
//	                                            ├──▶ worker 2 (Cursor)
//	                                            └──▶ worker N (Cursor)
//
// W is published with an atomic store after the slot is filled and loaded
// atomically by readers before touching slot memory, which gives the
// happens-before edge the Go memory model requires.
//
// # Basic Usage
//
//	buf, err := ifbuffer.New(12000, 1000) // 12 MHz × 1 ms, 1000 slots
//	if err != nil {
//	    return err
//	}
//
//	// writer (single goroutine)
//	for ix := int64(0); ; ix++ {
//	    convertInto(buf.Slot(ix))
//	    if err := buf.Commit(ix); err != nil {
//	        return err
//	    }
//	}
//
//	// reader (one goroutine per channel)
//	cur := buf.Register("L1CA/01")
//	for r := int64(0); ifbuffer.Ready(r, n, buf.WriteCursor()); r += n {
//	    samples, err := buf.Read(r, 2*n, scratch)
//	    ...
//	    cur.Set(r)
//	}
//
// # Occupancy
//
// Occupancy reports how much of the buffer is in flight between the writer
// and the slowest reader. It is advisory telemetry for an operator and is not
// used as backpressure by this package.
package ifbuffer
