package receiver

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/e7canasta/pocket-trk/modules/channel"
)

const (
	escClear = "\033[H\033[2J"
	escBlue  = "\033[34m"
	escReset = "\033[0m"

	// MinLock is the lock time before a channel shows up in the status (s).
	MinLock = 2.0
)

// StatusPrinter renders status snapshots as a live terminal table and the
// final snapshot as a one-line summary. It implements Observer.
type StatusPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

// NewStatusPrinter returns a printer writing to w (normally os.Stdout).
func NewStatusPrinter(w io.Writer) *StatusPrinter {
	return &StatusPrinter{w: w}
}

// Observe prints st. Each screen is assembled first and written at once.
func (p *StatusPrinter) Observe(st Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Reset()
	if st.Final {
		printFinal(&p.buf, st)
	} else {
		printLive(&p.buf, st)
	}
	p.w.Write(p.buf.Bytes())
}

// printLive prints the header and one row per channel locked for at least
// MinLock seconds.
func printLive(w io.Writer, st Stats) {
	fmt.Fprintf(w, "%s TIME(s):%10.2f%60sBUFF:%4.0f%%  LOCK:%3d/%3d\n",
		escClear, st.Time, "", st.Occupancy*100, st.Locked, st.Total)
	fmt.Fprintf(w, "%3s %5s %3s %5s %8s %4s %-12s %11s %7s %11s %4s %5s %4s %4s %3s\n",
		"CH", "SIG", "PRN", "STATE", "LOCK(s)", "C/N0", "(dB-Hz)",
		"COFF(ms)", "DOP(Hz)", "ADR(cyc)", "SYNC", "#NAV", "#ERR", "#LOL", "NER")

	for _, cs := range st.Channels {
		m := cs.Measurement
		if m.State != channel.Lock || m.LockTime() < MinLock {
			continue
		}
		fmt.Fprintf(w, "%s%3d %5s %3d %5s %8.2f %4.1f %-13s%11.7f %7.1f %11.1f %s %5d %4d %4d %3d%s\n",
			escBlue, cs.No, m.Sig, m.PRN, m.State, m.LockTime(), m.CN0,
			cn0Bar(m.CN0), m.Coff*1e3, m.Fd, m.ADR, m.Sync,
			m.NavOK, m.NavErr, m.Lost, m.NErrCor, escReset)
	}
}

func printFinal(w io.Writer, st Stats) {
	fmt.Fprintf(w, "  TIME(s) = %.3f\n", st.Elapsed)
	if st.Dropped > 0 {
		fmt.Fprintf(w, "  DROPPED CYCLES = %d\n", st.Dropped)
	}
}

// cn0Bar is one '|' per 1.5 dB above 30 dB-Hz, at most 13.
func cn0Bar(cn0 float64) string {
	n := int((cn0 - 30.0) / 1.5)
	if n <= 0 {
		return ""
	}
	return strings.Repeat("|", min(n, 13))
}
