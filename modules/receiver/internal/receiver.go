// Package internal implements the receiver core: the cycle loop, channel
// workers and search scheduling.
//
// This package is INTERNAL - clients MUST use the public API in the parent
// package.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/pocket-trk/modules/channel"
	"github.com/e7canasta/pocket-trk/modules/config"
	"github.com/e7canasta/pocket-trk/modules/ifbuffer"
	"github.com/e7canasta/pocket-trk/modules/sampling"
)

const (
	TCyc         = 1e-3                  // base cycle (s)
	LogCycles    = 1000                  // $TIME / $CH record period (cycles)
	PollInterval = 10 * time.Millisecond // worker poll quantum
	MaxChannels  = 999

	DefaultBufferCycles   = 1000
	DefaultStatusInterval = 100 * time.Millisecond
	DefaultDrainTimeout   = 10 * time.Second

	syncWait = time.Millisecond
)

var (
	ErrNoSource   = errors.New("receiver: no sample source")
	ErrInvalidFs  = errors.New("receiver: sampling frequency too low for a 1 ms cycle")
	ErrAlreadyRun = errors.New("receiver: Run called twice")
)

// ChannelSpec is one channel to start.
type ChannelSpec = config.ChannelSpec

// Acquisition settings passed to every channel.
type Acquisition struct {
	RefDop float64 // Hz
	MaxDop float64 // Hz
	SpCorr float64 // chip
}

// Config configures a Receiver.
type Config struct {
	Source   sampling.Source
	Fs       float64 // Hz
	Format   sampling.Format
	Channels []ChannelSpec
	Acq      Acquisition

	// Factory builds channels (default channel.Reference).
	Factory channel.Factory

	BufferCycles   int           // ring buffer slots (default 1000)
	StatusInterval time.Duration // observer period (default 100 ms)

	// Sync makes the writer wait for the slowest channel instead of
	// overwriting its data, and drain all channels at end of stream.
	// Meant for file replay; live inputs must not block.
	Sync         bool
	DrainTimeout time.Duration // default 10 s

	PinCPUs bool // pin worker threads round-robin over the CPUs

	Records RecordLog // $TIME/$CH/$LOG records, discarded when nil
	Output  io.Writer // decoded message stream, optional
	RunID   string    // default: random UUID
	Now     func() time.Time
	Logger  *slog.Logger
}

// Receiver owns the ring buffer and the channel workers, and runs the
// writer loop.
//
// Lifecycle: New() starts the workers → Run() until end of stream →
// Close().
type Receiver struct {
	cfg     Config
	buf     *ifbuffer.Buffer
	raw     []byte
	nBase   int
	runID   string
	records RecordLog
	logger  *slog.Logger
	now     func() time.Time

	workers      []*worker
	tags         []*channel.Tag
	configErrors []error
	sched        scheduler

	obsMu     sync.RWMutex
	observers []Observer

	ran       atomic.Bool
	running   atomic.Bool
	started   atomic.Pointer[time.Time]
	closeOnce sync.Once
	closeErr  error
}

// NewReceiver validates cfg, allocates the ring buffer and starts one worker
// per valid channel. A channel that fails to initialise is logged and
// skipped; its error is kept in ConfigErrors.
func NewReceiver(cfg Config) (*Receiver, error) {
	if cfg.Source == nil {
		return nil, ErrNoSource
	}
	nBase := int(math.Round(cfg.Fs * TCyc))
	if nBase < 1 {
		return nil, fmt.Errorf("%w: fs %.0f Hz", ErrInvalidFs, cfg.Fs)
	}
	bps, err := sampling.BytesPerSample(cfg.Format)
	if err != nil {
		return nil, err
	}

	if cfg.Factory == nil {
		cfg.Factory = channel.Reference
	}
	if cfg.BufferCycles <= 0 {
		cfg.BufferCycles = DefaultBufferCycles
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Records == nil {
		cfg.Records = discardRecords{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	buf, err := ifbuffer.New(nBase, cfg.BufferCycles)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		cfg:     cfg,
		buf:     buf,
		raw:     make([]byte, nBase*bps),
		nBase:   nBase,
		runID:   cfg.RunID,
		records: cfg.Records,
		logger:  cfg.Logger.With("run_id", cfg.RunID),
		now:     cfg.Now,
		sched:   newScheduler(),
	}

	ncpu := runtime.NumCPU()
	for _, spec := range cfg.Channels {
		if len(r.workers) >= MaxChannels {
			r.reject(&channel.InitError{Sig: spec.Sig, PRN: spec.PRN, Err: channel.ErrChannelTable})
			continue
		}
		cpu := -1
		if cfg.PinCPUs {
			cpu = len(r.workers) % ncpu
		}
		w, err := spawn(workerParams{
			no:      len(r.workers) + 1,
			spec:    spec,
			fs:      cfg.Fs,
			nBase:   nBase,
			acq:     cfg.Acq,
			factory: cfg.Factory,
			cpu:     cpu,
			buf:     buf,
			records: cfg.Records,
			output:  cfg.Output,
			logger:  r.logger,
		})
		if err != nil {
			r.reject(err)
			continue
		}
		r.workers = append(r.workers, w)
		r.tags = append(r.tags, w.ch.Tag())
	}

	r.logger.Info("receiver created",
		"channels", len(r.workers),
		"config_errors", len(r.configErrors),
		"fs_mhz", cfg.Fs*1e-6,
		"format", cfg.Format.String(),
		"buffer_cycles", cfg.BufferCycles,
		"sync", cfg.Sync)

	return r, nil
}

func (r *Receiver) reject(err error) {
	r.configErrors = append(r.configErrors, err)
	r.logger.Error("signal / prn error, channel skipped", "error", err)
}

// Channels returns the number of running channel workers.
func (r *Receiver) Channels() int { return len(r.workers) }

// ConfigErrors returns the channel initialisation errors from NewReceiver.
func (r *Receiver) ConfigErrors() []error { return r.configErrors }

// RunID returns the run identifier written to the START record.
func (r *Receiver) RunID() string { return r.runID }

// Buffer exposes the ring buffer for inspection.
func (r *Receiver) Buffer() *ifbuffer.Buffer { return r.buf }

// AddObserver registers o for status snapshots.
func (r *Receiver) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Stats returns a snapshot. Safe from any goroutine.
func (r *Receiver) Stats() Stats { return r.snapshot() }

// Run reads cycles from the source until end of stream or ctx
// cancellation, then stops every worker. It returns nil on end of stream
// and cancellation, and the read error otherwise.
//
// Per cycle ix:
//  1. $TIME record every LogCycles cycles
//  2. read one cycle of raw samples (sync mode: wait for a free slot first)
//  3. convert into the ring buffer slot and commit it (W = ix)
//  4. search scheduling step
//  5. status snapshot to observers when the interval elapsed
func (r *Receiver) Run(ctx context.Context) error {
	if !r.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	start := r.now()
	r.started.Store(&start)
	r.running.Store(true)

	name := r.cfg.Source.Name()
	logEvent(r.records, 0, "", 0, fmt.Sprintf("START FILE=%s FS=%.3f FMT=%d RUN=%s",
		name, r.cfg.Fs*1e-6, int(r.cfg.Format), r.runID))
	r.logger.Info("receiver running", "source", name, "channels", len(r.workers))

	var runErr error
	nextStatus := start
	for ix := int64(0); ctx.Err() == nil; ix++ {
		if ix%LogCycles == 0 {
			logTime(r.records, float64(ix)*TCyc, r.now())
		}
		if r.cfg.Sync && !r.waitSlot(ctx, ix) {
			break
		}
		if err := r.readCycle(ix); err != nil {
			if !sampling.IsEndOfStream(err) {
				runErr = fmt.Errorf("read cycle %d: %w", ix, err)
			}
			break
		}
		r.sched.step(r.tags)

		if now := r.now(); !now.Before(nextStatus) {
			r.notify(r.snapshot())
			nextStatus = now.Add(r.cfg.StatusInterval)
		}
	}

	if r.cfg.Sync && ctx.Err() == nil {
		r.drain()
	}
	r.stopWorkers()
	r.running.Store(false)

	elapsed := r.now().Sub(start).Seconds()
	logEvent(r.records, elapsed, "", 0, "END FILE="+name)

	final := r.snapshot()
	final.Final = true
	r.notify(final)

	r.logger.Info("receiver stopped",
		"elapsed_s", elapsed,
		"cycles", final.Cycles,
		"dropped_cycles", final.Dropped,
		"locked", final.Locked,
		"error", runErr)
	return runErr
}

func (r *Receiver) readCycle(ix int64) error {
	if _, err := io.ReadFull(r.cfg.Source, r.raw); err != nil {
		return err
	}
	if err := sampling.Convert(r.buf.Slot(ix), r.raw, r.cfg.Format); err != nil {
		return err
	}
	return r.buf.Commit(ix)
}

// waitSlot blocks until writing cycle ix cannot overrun any channel.
// Returns false if ctx was cancelled first.
func (r *Receiver) waitSlot(ctx context.Context, ix int64) bool {
	need := ix + 2 - int64(r.buf.Cycles())
	if need <= 0 {
		return true
	}
	for {
		pos, ok := r.buf.MinCursor()
		if !ok || pos >= need {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		time.Sleep(syncWait)
	}
}

// drain waits until every worker processed all ready cycles, bounded by
// DrainTimeout.
func (r *Receiver) drain() {
	wc := r.buf.WriteCursor()
	deadline := time.Now().Add(r.cfg.DrainTimeout)
	for _, w := range r.workers {
		for !w.caughtUp(wc) {
			if time.Now().After(deadline) {
				r.logger.Warn("drain timed out", "channel", w.ch.Signal(), "prn", w.ch.PRN(),
					"cycle", w.cursor.Pos(), "write_cursor", wc)
				return
			}
			time.Sleep(syncWait)
		}
	}
}

func (r *Receiver) notify(st Stats) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.Observe(st)
	}
}

// stopWorkers signals every worker before joining any of them.
func (r *Receiver) stopWorkers() {
	for _, w := range r.workers {
		w.requestStop()
	}
	for _, w := range r.workers {
		w.stop()
	}
}

// Close stops all workers and releases the channels. The sample source is
// owned by the caller. Idempotent.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.stopWorkers()
		var errs []error
		for _, w := range r.workers {
			if err := w.ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s/%d: %w", w.ch.Signal(), w.ch.PRN(), err))
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
