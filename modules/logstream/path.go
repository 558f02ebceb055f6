package logstream

import (
	"fmt"
	"strings"
	"time"
)

// Kind of output stream, selected by path syntax.
type Kind int

const (
	// KindNone discards records (empty path).
	KindNone Kind = iota
	// KindFile writes to a file: path[::opt]
	KindFile
	// KindTCPServer broadcasts to connected clients: :port
	KindTCPServer
	// KindTCPClient connects out to a collector: addr:port
	KindTCPClient
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFile:
		return "file"
	case KindTCPServer:
		return "tcpsvr"
	case KindTCPClient:
		return "tcpcli"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParsePath classifies path and returns the address or file name with any
// "::opt" suffix removed.
//
//	""             KindNone
//	"file[::opt]"  KindFile
//	":port"        KindTCPServer
//	"addr:port"    KindTCPClient
func ParsePath(path string) (Kind, string) {
	if path == "" {
		return KindNone, ""
	}
	i := strings.IndexByte(path, ':')
	switch {
	case i < 0:
		return KindFile, path
	case strings.HasPrefix(path[i:], "::"):
		return KindFile, path[:i]
	case i == 0:
		return KindTCPServer, path
	default:
		return KindTCPClient, path
	}
}

// ExpandPath replaces time keywords in a file path:
//
//	%Y year (4 digits)   %y year (2 digits)   %m month   %d day
//	%n day of year       %h hour              %M minute  %S second
func ExpandPath(path string, t time.Time) string {
	if !strings.Contains(path, "%") {
		return path
	}
	t = t.UTC()
	r := strings.NewReplacer(
		"%Y", fmt.Sprintf("%04d", t.Year()),
		"%y", fmt.Sprintf("%02d", t.Year()%100),
		"%m", fmt.Sprintf("%02d", int(t.Month())),
		"%d", fmt.Sprintf("%02d", t.Day()),
		"%n", fmt.Sprintf("%03d", t.YearDay()),
		"%h", fmt.Sprintf("%02d", t.Hour()),
		"%M", fmt.Sprintf("%02d", t.Minute()),
		"%S", fmt.Sprintf("%02d", t.Second()),
	)
	return r.Replace(path)
}
