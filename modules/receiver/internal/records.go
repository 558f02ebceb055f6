package internal

import (
	"time"

	"github.com/e7canasta/pocket-trk/modules/channel"
)

// Record level of $TIME, $CH and run boundary $LOG lines.
const recordLevel = 3

// RecordLog is the sink of comma-delimited log records.
type RecordLog interface {
	Logf(level int, format string, args ...any)
}

type discardRecords struct{}

func (discardRecords) Logf(int, string, ...any) {}

// logTime writes $TIME,<t>,<Y>,<M>,<D>,<h>,<m>,<s>,UTC.
func logTime(l RecordLog, t float64, now time.Time) {
	u := now.UTC()
	sec := float64(u.Second()) + float64(u.Nanosecond())*1e-9
	l.Logf(recordLevel, "$TIME,%.3f,%d,%d,%d,%d,%d,%.6f,UTC",
		t, u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute(), sec)
}

// logChannel writes $CH,<t>,<sig>,<prn>,<lock>,<cn0>,<coff ms>,<fd>,<adr>,<nav ok>,<nav err>.
func logChannel(l RecordLog, t float64, m channel.Measurement) {
	l.Logf(recordLevel, "$CH,%.3f,%s,%d,%d,%.1f,%.9f,%.3f,%.3f,%d,%d",
		t, m.Sig, m.PRN, m.Lock, m.CN0, m.Coff*1e3, m.Fd, m.ADR, m.NavOK, m.NavErr)
}

// logEvent writes $LOG,<t>,<sig>,<prn>,<message>.
func logEvent(l RecordLog, t float64, sig string, prn int, msg string) {
	l.Logf(recordLevel, "$LOG,%.3f,%s,%d,%s", t, sig, prn, msg)
}
