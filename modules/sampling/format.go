package sampling

import (
	"errors"
	"fmt"
)

var (
	// ErrFormatUnsupported is returned for sample formats the receiver cannot
	// convert. The 2-bit packed format falls in this category.
	ErrFormatUnsupported = errors.New("sampling: sample format not supported")

	// ErrShortRaw is returned when the raw buffer holds fewer bytes than the
	// destination needs.
	ErrShortRaw = errors.New("sampling: raw buffer too short")
)

// Format is the on-wire layout of raw IF samples. The numeric values are
// those printed in the START record (FMT=).
type Format int

const (
	// FormatPacked2 is 2-bit packed samples. Not supported.
	FormatPacked2 Format = 0
	// FormatInt8 is one signed byte per real sample.
	FormatInt8 Format = 1
	// FormatInt8IQ is interleaved signed bytes I, Q per complex sample.
	FormatInt8IQ Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatPacked2:
		return "packed2"
	case FormatInt8:
		return "int8"
	case FormatInt8IQ:
		return "int8iq"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// SelectFormat applies the receiver's format rule: real samples only when
// I/Q sampling is not requested and the IF is above zero, otherwise
// interleaved I/Q.
func SelectFormat(iq bool, fi float64) Format {
	if !iq && fi > 0 {
		return FormatInt8
	}
	return FormatInt8IQ
}

// BytesPerSample returns the raw bytes per complex sample.
func BytesPerSample(f Format) (int, error) {
	switch f {
	case FormatInt8:
		return 1, nil
	case FormatInt8IQ:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrFormatUnsupported, f)
	}
}

// Convert decodes raw bytes into complex baseband samples, filling all of dst.
//
//	FormatInt8:   re = int8(raw[i]),    im = 0
//	FormatInt8IQ: re = int8(raw[2i]),   im = -int8(raw[2i+1])
//
// The sign flip of Q matches the front-end's spectrum orientation.
func Convert(dst []complex64, raw []byte, f Format) error {
	switch f {
	case FormatInt8:
		if len(raw) < len(dst) {
			return fmt.Errorf("%w: %d bytes for %d samples", ErrShortRaw, len(raw), len(dst))
		}
		for i := range dst {
			dst[i] = complex(float32(int8(raw[i])), 0)
		}
		return nil

	case FormatInt8IQ:
		if len(raw) < 2*len(dst) {
			return fmt.Errorf("%w: %d bytes for %d I/Q samples", ErrShortRaw, len(raw), len(dst))
		}
		for i := range dst {
			dst[i] = complex(float32(int8(raw[2*i])), -float32(int8(raw[2*i+1])))
		}
		return nil

	default:
		return fmt.Errorf("%w: %v", ErrFormatUnsupported, f)
	}
}
