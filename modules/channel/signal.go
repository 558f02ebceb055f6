package channel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Signal describes one GNSS signal type.
type Signal struct {
	ID     string
	Fc     float64 // carrier frequency (Hz)
	T      float64 // primary code period (s)
	PRNMin int
	PRNMax int
	FDMA   float64 // IF shift per frequency channel number (Hz), GLONASS only
}

// MaxPRNs bounds the PRN list of a single -prn argument.
const MaxPRNs = 256

var signals = map[string]Signal{
	// GPS / QZSS / SBAS
	"L1CA": {ID: "L1CA", Fc: 1575.42e6, T: 1e-3, PRNMin: 1, PRNMax: 210},
	"L1S":  {ID: "L1S", Fc: 1575.42e6, T: 1e-3, PRNMin: 184, PRNMax: 191},
	"L1CB": {ID: "L1CB", Fc: 1575.42e6, T: 1e-3, PRNMin: 203, PRNMax: 206},
	"L1CP": {ID: "L1CP", Fc: 1575.42e6, T: 10e-3, PRNMin: 1, PRNMax: 210},
	"L1CD": {ID: "L1CD", Fc: 1575.42e6, T: 10e-3, PRNMin: 1, PRNMax: 210},
	"L2CM": {ID: "L2CM", Fc: 1227.60e6, T: 20e-3, PRNMin: 1, PRNMax: 210},
	"L5I":  {ID: "L5I", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 210},
	"L5Q":  {ID: "L5Q", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 210},
	"L5SI": {ID: "L5SI", Fc: 1176.45e6, T: 1e-3, PRNMin: 184, PRNMax: 189},
	"L5SQ": {ID: "L5SQ", Fc: 1176.45e6, T: 1e-3, PRNMin: 184, PRNMax: 189},
	"L6D":  {ID: "L6D", Fc: 1278.75e6, T: 4e-3, PRNMin: 193, PRNMax: 201},
	"L6E":  {ID: "L6E", Fc: 1278.75e6, T: 4e-3, PRNMin: 203, PRNMax: 211},

	// GLONASS: PRN is the frequency channel number
	"G1CA":  {ID: "G1CA", Fc: 1602.0e6, T: 1e-3, PRNMin: -7, PRNMax: 6, FDMA: 0.5625e6},
	"G2CA":  {ID: "G2CA", Fc: 1246.0e6, T: 1e-3, PRNMin: -7, PRNMax: 6, FDMA: 0.4375e6},
	"G3OCD": {ID: "G3OCD", Fc: 1202.025e6, T: 1e-3, PRNMin: 0, PRNMax: 63},
	"G3OCP": {ID: "G3OCP", Fc: 1202.025e6, T: 1e-3, PRNMin: 0, PRNMax: 63},

	// Galileo
	"E1B":  {ID: "E1B", Fc: 1575.42e6, T: 4e-3, PRNMin: 1, PRNMax: 50},
	"E1C":  {ID: "E1C", Fc: 1575.42e6, T: 4e-3, PRNMin: 1, PRNMax: 50},
	"E5AI": {ID: "E5AI", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 50},
	"E5AQ": {ID: "E5AQ", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 50},
	"E5BI": {ID: "E5BI", Fc: 1207.14e6, T: 1e-3, PRNMin: 1, PRNMax: 50},
	"E5BQ": {ID: "E5BQ", Fc: 1207.14e6, T: 1e-3, PRNMin: 1, PRNMax: 50},
	"E6B":  {ID: "E6B", Fc: 1278.75e6, T: 1e-3, PRNMin: 1, PRNMax: 50},
	"E6C":  {ID: "E6C", Fc: 1278.75e6, T: 1e-3, PRNMin: 1, PRNMax: 50},

	// BeiDou
	"B1I":  {ID: "B1I", Fc: 1561.098e6, T: 1e-3, PRNMin: 1, PRNMax: 63},
	"B1CD": {ID: "B1CD", Fc: 1575.42e6, T: 10e-3, PRNMin: 1, PRNMax: 63},
	"B1CP": {ID: "B1CP", Fc: 1575.42e6, T: 10e-3, PRNMin: 1, PRNMax: 63},
	"B2I":  {ID: "B2I", Fc: 1207.14e6, T: 1e-3, PRNMin: 1, PRNMax: 63},
	"B2AD": {ID: "B2AD", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 63},
	"B2AP": {ID: "B2AP", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 63},
	"B2BI": {ID: "B2BI", Fc: 1207.14e6, T: 1e-3, PRNMin: 1, PRNMax: 63},
	"B3I":  {ID: "B3I", Fc: 1268.52e6, T: 1e-3, PRNMin: 1, PRNMax: 63},

	// NavIC
	"I5S": {ID: "I5S", Fc: 1176.45e6, T: 1e-3, PRNMin: 1, PRNMax: 14},
	"ISS": {ID: "ISS", Fc: 2492.028e6, T: 1e-3, PRNMin: 1, PRNMax: 14},
}

// LookupSignal returns the signal with the given ID (case-insensitive).
func LookupSignal(id string) (Signal, error) {
	s, ok := signals[strings.ToUpper(id)]
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrInvalidSignal, id)
	}
	return s, nil
}

// ValidPRN reports whether prn is within the signal's PRN range.
func (s Signal) ValidPRN(prn int) bool {
	return prn >= s.PRNMin && prn <= s.PRNMax
}

// ShiftIF returns the IF frequency of frequency channel fcn. Signals without
// FDMA return fi unchanged.
func (s Signal) ShiftIF(fi float64, fcn int) float64 {
	return fi + s.FDMA*float64(fcn)
}

// DopplerBins returns the acquisition Doppler bins ref-maxDop .. ref+maxDop
// with a step of half the inverse code period.
func DopplerBins(T, ref, maxDop float64) []float64 {
	step := 0.5 / T
	n := int(math.Floor(2*maxDop/step+1e-9)) + 1
	fds := make([]float64, n)
	for i := range fds {
		fds[i] = ref - maxDop + float64(i)*step
	}
	return fds
}

// ParseNums parses a number list such as "1-32,40,45-47". Ranges are
// inclusive and expanded in order. At most MaxPRNs numbers are returned.
func ParseNums(s string) ([]int, error) {
	var nums []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		lo, hi, err := parseRange(tok)
		if err != nil {
			return nil, fmt.Errorf("channel: number list %q: %w", s, err)
		}
		for n := lo; n <= hi && len(nums) < MaxPRNs; n++ {
			nums = append(nums, n)
		}
	}
	return nums, nil
}

func parseRange(tok string) (lo, hi int, err error) {
	// a leading '-' is a sign (GLONASS FCN), not a range
	if i := strings.Index(tok[1:], "-"); i >= 0 {
		i++
		if lo, err = strconv.Atoi(tok[:i]); err != nil {
			return 0, 0, err
		}
		if hi, err = strconv.Atoi(tok[i+1:]); err != nil {
			return 0, 0, err
		}
		return lo, hi, nil
	}
	lo, err = strconv.Atoi(tok)
	return lo, lo, err
}
