package internal

import "github.com/e7canasta/pocket-trk/modules/channel"

// Stats is a snapshot of the receiver's operational state.
type Stats struct {
	RunID string `json:"run_id"`

	// Time is the receiver time of the last committed cycle (s).
	Time float64 `json:"time_s"`

	// Elapsed is the wall time since Run started (s).
	Elapsed float64 `json:"elapsed_s"`

	// Cycles counts base cycles committed to the ring buffer.
	Cycles int64 `json:"cycles"`

	// Occupancy is the fraction of the ring buffer between the writer and
	// the slowest channel. Close to 1 means a channel is about to be
	// overrun.
	Occupancy float64 `json:"buffer_occupancy"`

	// Dropped counts cycles channels lost to overwrite. Should be 0 in a
	// healthy run.
	Dropped uint64 `json:"dropped_cycles"`

	Locked       int `json:"locked"`
	Total        int `json:"channels"`
	ConfigErrors int `json:"config_errors"`

	// Running is true between the start and the end of Run.
	Running bool `json:"running"`

	// Final marks the snapshot taken after all channels stopped.
	Final bool `json:"final"`

	Channels []ChannelStats `json:"channel_list"`
}

// ChannelStats is one channel's measurement plus its worker counters.
type ChannelStats struct {
	No          int                 `json:"no"`
	Measurement channel.Measurement `json:"measurement"`
	Invocations uint64              `json:"invocations"`
	Dropped     uint64              `json:"dropped_cycles"`
	Cycle       int64               `json:"next_cycle"`
}

// Observer receives status snapshots from the cycle loop.
//
// Observe is called from the writer goroutine and must not block: the
// writer does not wait for channels, so a slow observer turns directly into
// buffer overruns.
type Observer interface {
	Observe(st Stats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(st Stats)

func (f ObserverFunc) Observe(st Stats) { f(st) }

// snapshot builds a Stats value. Safe from any goroutine.
func (r *Receiver) snapshot() Stats {
	w := r.buf.WriteCursor()
	st := Stats{
		RunID:        r.runID,
		Cycles:       w + 1,
		Occupancy:    r.buf.Occupancy(),
		Dropped:      r.buf.Dropped(),
		Total:        len(r.workers),
		ConfigErrors: len(r.configErrors),
		Running:      r.running.Load(),
		Channels:     make([]ChannelStats, 0, len(r.workers)),
	}
	if w > 0 {
		st.Time = float64(w) * TCyc
	}
	if start := r.started.Load(); start != nil {
		st.Elapsed = r.now().Sub(*start).Seconds()
	}

	for _, wk := range r.workers {
		m := wk.ch.Measurement()
		if m.State == channel.Lock {
			st.Locked++
		}
		st.Channels = append(st.Channels, ChannelStats{
			No:          wk.no,
			Measurement: m,
			Invocations: wk.invocations.Load(),
			Dropped:     wk.dropped.Load(),
			Cycle:       wk.cursor.Pos(),
		})
	}
	return st
}
