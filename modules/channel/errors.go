package channel

import (
	"errors"
	"fmt"
)

// Configuration errors. A channel that fails with one of these is skipped;
// the receiver keeps running with the rest.
var (
	ErrInvalidSignal = errors.New("channel: invalid signal")
	ErrInvalidPRN    = errors.New("channel: invalid PRN")
	ErrInvalidParams = errors.New("channel: invalid parameters")
	ErrChannelTable  = errors.New("channel: channel table full")
	ErrCycleMultiple = errors.New("channel: code period is not a multiple of the receiver cycle")
)

// InitError reports a channel that could not be constructed.
type InitError struct {
	Sig string
	PRN int
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("channel init %s/%d: %v", e.Sig, e.PRN, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
