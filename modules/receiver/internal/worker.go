package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/pocket-trk/modules/channel"
	"github.com/e7canasta/pocket-trk/modules/ifbuffer"
)

// worker runs one Channel on its own OS-thread-locked goroutine, reading
// the ring buffer behind the writer.
//
// Lifecycle: spawn starts the goroutine, stop ends it. The goroutine lives
// exactly as long as the worker.
type worker struct {
	no  int // 1-based display order
	ch  channel.Channel
	n   int64 // native cycle in base cycles
	cpu int   // CPU to pin to, -1 for none

	buf     *ifbuffer.Buffer
	cursor  *ifbuffer.Cursor
	scratch []complex64
	records RecordLog
	logger  *slog.Logger

	stopFlag atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	invocations atomic.Uint64
	dropped     atomic.Uint64
	warned      bool // overrun already reported, worker goroutine only
}

type workerParams struct {
	no      int
	spec    ChannelSpec
	fs      float64
	nBase   int
	acq     Acquisition
	factory channel.Factory
	cpu     int
	buf     *ifbuffer.Buffer
	records RecordLog
	output  io.Writer
	logger  *slog.Logger
}

// spawn builds the channel and starts its worker goroutine. Errors are
// *channel.InitError.
func spawn(p workerParams) (*worker, error) {
	ch, err := p.factory(channel.Params{
		Sig:    p.spec.Sig,
		PRN:    p.spec.PRN,
		Fs:     p.fs,
		Fi:     p.spec.Fi,
		SpCorr: p.acq.SpCorr,
		RefDop: p.acq.RefDop,
		MaxDop: p.acq.MaxDop,
		Events: p.records,
		Output: p.output,
		Logger: p.logger,
	})
	if err != nil {
		var ie *channel.InitError
		if !errors.As(err, &ie) {
			err = &channel.InitError{Sig: p.spec.Sig, PRN: p.spec.PRN, Err: err}
		}
		return nil, err
	}

	n, err := nativeMultiple(ch.Period(), p.fs, p.nBase)
	if err == nil && 2*n >= int64(p.buf.Cycles()) {
		err = fmt.Errorf("%w: %d cycles per update exceed a %d-cycle buffer",
			channel.ErrInvalidParams, 2*n, p.buf.Cycles())
	}
	if err != nil {
		ch.Close()
		return nil, &channel.InitError{Sig: ch.Signal(), PRN: ch.PRN(), Err: err}
	}

	w := &worker{
		no:      p.no,
		ch:      ch,
		n:       n,
		cpu:     p.cpu,
		buf:     p.buf,
		cursor:  p.buf.Register(fmt.Sprintf("%s/%d", ch.Signal(), ch.PRN())),
		scratch: make([]complex64, 2*int(n)*p.buf.CycleLen()),
		records: p.records,
		logger:  p.logger.With("channel", ch.Signal(), "prn", ch.PRN(), "no", p.no),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// nativeMultiple returns the channel's code period in base cycles.
func nativeMultiple(period, fs float64, nBase int) (int64, error) {
	nCh := int(math.Round(period * fs))
	if nCh < nBase || nCh%nBase != 0 {
		return 0, fmt.Errorf("%w: %d samples per code, %d per cycle",
			channel.ErrCycleMultiple, nCh, nBase)
	}
	return int64(nCh / nBase), nil
}

func (w *worker) run() {
	defer close(w.done)
	defer w.cursor.Release()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.cpu >= 0 {
		if err := pinThread(w.cpu); err != nil {
			w.logger.Warn("cpu pinning failed", "cpu", w.cpu, "error", err)
		}
	}

	var r int64
	for !w.stopFlag.Load() {
		for !w.stopFlag.Load() && ifbuffer.Ready(r, w.n, w.buf.WriteCursor()) {
			next := w.process(r)
			if next == r {
				break
			}
			r = next
		}
		time.Sleep(PollInterval)
	}
}

// process runs one native cycle starting at r and returns the next cycle,
// or r itself when the read failed.
func (w *worker) process(r int64) int64 {
	samples, err := w.buf.Read(r, int(2*w.n), w.scratch)
	if errors.Is(err, ifbuffer.ErrOverrun) {
		next := w.resync(r)
		w.lose(next-r, r)
		w.cursor.Set(next)
		return next
	}
	if err != nil {
		// Ready was checked, so only a broken invariant gets here
		w.logger.Error("ring buffer read failed", "cycle", r, "error", err)
		return r
	}

	w.ch.Update(float64(r)*TCyc, samples)
	w.invocations.Add(1)

	if w.buf.Overwritten(r) {
		w.lose(w.n, r)
	}
	if w.ch.Tag().Load() == channel.Lock && r%LogCycles == 0 {
		logChannel(w.records, float64(r)*TCyc, w.ch.Measurement())
	}

	r += w.n
	w.cursor.Set(r)
	return r
}

// resync returns the first cycle at or after r, in steps of the native
// cycle, whose data is still in the buffer.
func (w *worker) resync(r int64) int64 {
	oldest := w.buf.WriteCursor() + 2 - int64(w.buf.Cycles())
	if oldest <= r {
		return r
	}
	return r + (oldest-r+w.n-1)/w.n*w.n
}

func (w *worker) lose(k, cycle int64) {
	w.dropped.Add(uint64(k))
	w.buf.AddDropped(uint64(k))
	if !w.warned {
		w.warned = true
		w.logger.Warn("channel overrun by writer, cycles dropped",
			"cycle", cycle, "dropped", k)
	}
}

// requestStop sets the stop token and moves the channel to STOPPED without
// waiting. Idempotent.
func (w *worker) requestStop() {
	w.stopOnce.Do(func() {
		w.stopFlag.Store(true)
		w.ch.Tag().Stop()
	})
}

// stop requests a stop and waits for the goroutine to exit. An Update in
// progress completes first. Worst-case latency is one poll interval.
func (w *worker) stop() {
	w.requestStop()
	<-w.done
}

// caughtUp reports whether the worker processed every cycle ready at
// write cursor wc.
func (w *worker) caughtUp(wc int64) bool {
	return !ifbuffer.Ready(w.cursor.Pos(), w.n, wc)
}
