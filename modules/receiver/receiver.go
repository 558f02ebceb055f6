// Package receiver runs the real-time core of the GNSS tracker: one writer
// goroutine reads IF samples cycle by cycle into a ring buffer while one
// worker goroutine per tracking channel reads behind it.
//
// Design:
//   - The writer never blocks on channels (live input); sync mode opts in
//     to backpressure for file replay
//   - Readers obey the lag invariant R + 2n ≤ W + 1 and poll every 10 ms
//   - One channel at a time is admitted to signal search, round robin
//   - Overruns are detected, counted and reported, never silent
package receiver

import (
	"context"

	"github.com/e7canasta/pocket-trk/modules/receiver/internal"
)

const (
	TCyc         = internal.TCyc
	LogCycles    = internal.LogCycles
	PollInterval = internal.PollInterval
	MaxChannels  = internal.MaxChannels
)

var (
	ErrNoSource   = internal.ErrNoSource
	ErrInvalidFs  = internal.ErrInvalidFs
	ErrAlreadyRun = internal.ErrAlreadyRun
)

// Config is re-exported from the internal package.
// See internal/receiver.go for field documentation.
type Config = internal.Config

// ChannelSpec is one channel to start: signal, PRN and IF frequency (Hz).
type ChannelSpec = internal.ChannelSpec

// Acquisition holds the search settings shared by all channels.
type Acquisition = internal.Acquisition

// Stats is a status snapshot. See internal/stats.go.
type Stats = internal.Stats

// ChannelStats is one channel row of a Stats snapshot.
type ChannelStats = internal.ChannelStats

// Observer receives status snapshots from the writer goroutine and must
// not block.
type Observer = internal.Observer

// ObserverFunc adapts a function to Observer.
type ObserverFunc = internal.ObserverFunc

// RecordLog is the sink of $TIME/$CH/$LOG records, typically a
// *logstream.Stream.
type RecordLog = internal.RecordLog

// Receiver is the public interface of the receiver core.
//
// Lifecycle: New() (workers start) → AddObserver() → Run() → Close().
type Receiver interface {
	// Run reads the sample source until end of stream or ctx cancellation
	// and stops all channel workers before returning. Returns nil on end of
	// stream. Can be called once.
	Run(ctx context.Context) error

	// AddObserver registers a status observer. Call before Run.
	AddObserver(o Observer)

	// Stats returns a snapshot (safe from any goroutine).
	Stats() Stats

	// Channels returns the number of channel workers started.
	Channels() int

	// ConfigErrors returns one *channel.InitError per skipped channel.
	ConfigErrors() []error

	// RunID identifies this run in records, status and MQTT topics.
	RunID() string

	// Close joins every worker and releases the channels. Idempotent.
	Close() error
}

// New validates cfg, allocates the ring buffer and starts one worker per
// valid channel. Invalid channels are skipped and reported through
// ConfigErrors; only source, sampling rate and format problems fail New.
func New(cfg Config) (Receiver, error) {
	r, err := internal.NewReceiver(cfg)
	if err != nil {
		return nil, err
	}
	return r, nil
}
