// Package channel defines the tracking-channel collaborator of the receiver
// core: the Channel contract, its atomic state tag, the measurement snapshot,
// the GNSS signal table and a reference carrier-power Channel.
//
// The core never looks inside a Channel. It calls Update from the channel's
// own worker goroutine, moves the state tag IDLE→SRCH (search admission) and
// →STOPPED (shutdown), and reads Measurement for telemetry.
package channel

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// State of a tracking channel.
type State int32

const (
	Idle State = iota
	Srch
	Lock
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Srch:
		return "SRCH"
	case Lock:
		return "LOCK"
	case Stopped:
		return "STOP"
	default:
		return "?"
	}
}

// MarshalText encodes the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Idle, Srch, Lock, Stopped} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("channel: unknown state %q", b)
}

// Tag is an atomically updated channel state shared between the channel's
// worker goroutine, the search scheduler and the shutdown path.
//
// Every transition except Stop is a compare-and-swap, so once a channel is
// Stopped no other transition can resurrect it.
type Tag struct {
	v atomic.Int32
}

// Load returns the current state.
func (t *Tag) Load() State { return State(t.v.Load()) }

// Transition moves the tag from old to new. Returns false if the tag was not
// in state old.
func (t *Tag) Transition(old, new State) bool {
	return t.v.CompareAndSwap(int32(old), int32(new))
}

// Stop forces the tag to Stopped. Idempotent.
func (t *Tag) Stop() { t.v.Store(int32(Stopped)) }

// Sync flags of a tracked signal.
type Sync struct {
	Secondary bool // secondary code synchronised (S)
	Symbol    bool // navigation symbol synchronised (B)
	Frame     bool // navigation frame synchronised (F)
	Reversed  bool // code polarity reversed (R)
}

// String renders the flags as the 4-character status column, "-" per unset
// flag.
func (s Sync) String() string {
	b := []byte("----")
	if s.Secondary {
		b[0] = 'S'
	}
	if s.Symbol {
		b[1] = 'B'
	}
	if s.Frame {
		b[2] = 'F'
	}
	if s.Reversed {
		b[3] = 'R'
	}
	return string(b)
}

// Measurement is a read-only snapshot of a channel's observables.
type Measurement struct {
	Sig     string  `json:"sig"`
	PRN     int     `json:"prn"`
	State   State   `json:"state"`
	Lock    int     `json:"lock"`     // consecutive tracked code periods
	T       float64 `json:"period_s"` // code period (s)
	CN0     float64 `json:"cn0_dbhz"`
	Coff    float64 `json:"coff_s"` // code offset (s)
	Fd      float64 `json:"doppler_hz"`
	ADR     float64 `json:"adr_cyc"`
	Sync    Sync    `json:"sync"`
	NavOK   int     `json:"nav_ok"`
	NavErr  int     `json:"nav_err"`
	Lost    int     `json:"lost"`    // loss-of-lock count
	NErrCor int     `json:"ner_cor"` // corrected symbol errors
}

// LockTime returns the time the channel has been tracking (s).
func (m Measurement) LockTime() float64 { return float64(m.Lock) * m.T }

// Channel is a signal acquisition/tracking state machine for one signal and
// PRN. Implementations own their DSP state; the receiver only drives Update
// and reads snapshots.
type Channel interface {
	// Update processes samples starting at receiver time t (s). samples holds
	// two native cycles of baseband IF data and must not be retained or
	// modified. Called from a single goroutine.
	Update(t float64, samples []complex64)

	// Tag returns the channel's shared state tag.
	Tag() *Tag

	// Measurement returns a consistent snapshot. Safe from any goroutine.
	Measurement() Measurement

	// Signal, PRN and Period are fixed at construction.
	Signal() string
	PRN() int
	Period() float64

	// Close releases channel resources.
	Close() error
}

// EventLog receives channel event records ($LOG lines). Implemented by the
// receiver's log stream.
type EventLog interface {
	Logf(level int, format string, args ...any)
}

type discardLog struct{}

func (discardLog) Logf(int, string, ...any) {}

// Params configures a channel.
type Params struct {
	Sig    string  // signal ID (L1CA, E1B, G1CA, ...)
	PRN    int     // PRN, or frequency channel number for GLONASS FDMA
	Fs     float64 // sampling frequency (Hz)
	Fi     float64 // IF frequency (Hz), before any FDMA shift
	SpCorr float64 // correlator spacing (chip)
	RefDop float64 // reference Doppler for acquisition (Hz)
	MaxDop float64 // max Doppler for acquisition (Hz)

	Events EventLog     // optional, discarded when nil
	Output io.Writer    // decoded message stream, optional
	Logger *slog.Logger // optional, slog.Default() when nil
}

// Factory builds a Channel. Errors must be *InitError.
type Factory func(p Params) (Channel, error)
