package channel

import (
	"log/slog"
	"math"
	"math/cmplx"
	"sync"
)

const (
	tAcq      = 0.010 // non-coherent integration time for acquisition (s)
	thresLock = 35.0  // C/N0 to start tracking (dB-Hz)
	thresLost = 32.0  // C/N0 below which lock is lost (dB-Hz)
	fllGain   = 0.25  // carrier frequency loop gain per code period
	cn0Alpha  = 0.1   // C/N0 smoothing factor while tracking

	defaultMaxDop = 5000.0

	renormEvery = 1024 // rotator renormalisation interval (samples)
)

// Power is the reference Channel. It acquires a signal by non-coherent
// carrier power over Doppler bins and tracks its carrier frequency with a
// first-order frequency loop. It has no code replica, so code offset and
// navigation counters stay zero.
type Power struct {
	sig    Signal
	prn    int
	fs     float64
	fi     float64
	n      int // samples per code period
	fds    []float64
	events EventLog
	logger *slog.Logger

	tag Tag

	// acquisition accumulators, worker goroutine only
	pSum   []float64
	energy float64
	nSum   int

	mu sync.Mutex
	m  Measurement
}

// New validates p and builds a reference channel.
func New(p Params) (*Power, error) {
	sig, err := LookupSignal(p.Sig)
	if err != nil {
		return nil, &InitError{Sig: p.Sig, PRN: p.PRN, Err: err}
	}
	if !sig.ValidPRN(p.PRN) {
		return nil, &InitError{Sig: sig.ID, PRN: p.PRN, Err: ErrInvalidPRN}
	}
	n := int(p.Fs * sig.T)
	if p.Fs <= 0 || n < 2 {
		return nil, &InitError{Sig: sig.ID, PRN: p.PRN, Err: ErrInvalidParams}
	}
	maxDop := p.MaxDop
	if maxDop <= 0 {
		maxDop = defaultMaxDop
	}
	events := p.Events
	if events == nil {
		events = discardLog{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fds := DopplerBins(sig.T, p.RefDop, maxDop)
	c := &Power{
		sig:    sig,
		prn:    p.PRN,
		fs:     p.Fs,
		fi:     sig.ShiftIF(p.Fi, p.PRN),
		n:      n,
		fds:    fds,
		events: events,
		logger: logger.With("channel", sig.ID, "prn", p.PRN),
		pSum:   make([]float64, len(fds)),
		m:      Measurement{Sig: sig.ID, PRN: p.PRN, T: sig.T},
	}
	return c, nil
}

// Reference is the Factory of the reference channel.
func Reference(p Params) (Channel, error) {
	c, err := New(p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Power) Tag() *Tag { return &c.tag }

func (c *Power) Signal() string { return c.sig.ID }

func (c *Power) PRN() int { return c.prn }

func (c *Power) Period() float64 { return c.sig.T }

// SamplesPerCode returns the samples in one code period.
func (c *Power) SamplesPerCode() int { return c.n }

// Measurement returns the latest snapshot.
func (c *Power) Measurement() Measurement {
	c.mu.Lock()
	m := c.m
	c.mu.Unlock()
	m.State = c.tag.Load()
	return m
}

// Update runs one code period of search or tracking depending on the state.
func (c *Power) Update(t float64, samples []complex64) {
	if len(samples) < c.n {
		return
	}
	x := samples[:c.n]
	switch c.tag.Load() {
	case Srch:
		c.search(t, x)
	case Lock:
		c.track(t, x)
	}
}

// Close releases the acquisition buffers.
func (c *Power) Close() error {
	c.pSum = nil
	return nil
}

func (c *Power) search(t float64, x []complex64) {
	e := energy(x)
	c.nSum++
	if e > 0 {
		c.energy += e
		for i, fd := range c.fds {
			s := mix(x, c.fs, c.fi+fd, 0, len(x))
			c.pSum[i] += real(s)*real(s) + imag(s)*imag(s)
		}
	}
	if float64(c.nSum)*c.sig.T < tAcq-1e-9 {
		return
	}

	ix := 0
	for i := range c.pSum {
		if c.pSum[i] > c.pSum[ix] {
			ix = i
		}
	}
	cn0 := c.estimateCN0(c.pSum[ix], c.energy)
	fd := c.fineDoppler(ix)

	if cn0 >= thresLock {
		if c.tag.Transition(Srch, Lock) {
			c.mu.Lock()
			c.m.Lock = 0
			c.m.CN0 = cn0
			c.m.Fd = fd
			c.m.Coff = 0
			c.m.ADR = 0
			c.mu.Unlock()
			c.events.Logf(4, "$LOG,%.3f,%s,%d,SIGNAL FOUND (%.1f,%.1f,%.7f)",
				t, c.sig.ID, c.prn, cn0, fd, 0.0)
			c.logger.Debug("signal found", "cn0", cn0, "doppler", fd)
		}
	} else if c.tag.Transition(Srch, Idle) {
		c.mu.Lock()
		c.m.CN0 = cn0
		c.mu.Unlock()
		c.events.Logf(4, "$LOG,%.3f,%s,%d,SIGNAL NOT FOUND (%.1f)", t, c.sig.ID, c.prn, cn0)
	}

	for i := range c.pSum {
		c.pSum[i] = 0
	}
	c.energy = 0
	c.nSum = 0
}

func (c *Power) track(t float64, x []complex64) {
	c.mu.Lock()
	fd := c.m.Fd
	c.mu.Unlock()

	half := len(x) / 2
	p1 := mix(x, c.fs, c.fi+fd, 0, half)
	p2 := mix(x, c.fs, c.fi+fd, half, len(x))
	p := p1 + p2

	inst := c.estimateCN0(real(p)*real(p)+imag(p)*imag(p), energy(x))
	errFd := 0.0
	if p1 != 0 && p2 != 0 {
		errFd = cmplx.Phase(cmplx.Conj(p1)*p2) / (2 * math.Pi * c.sig.T / 2)
	}

	c.mu.Lock()
	c.m.CN0 = (1-cn0Alpha)*c.m.CN0 + cn0Alpha*inst
	c.m.Fd += fllGain * errFd
	c.m.ADR += c.m.Fd * c.sig.T
	c.m.Lock++
	cn0 := c.m.CN0
	c.mu.Unlock()

	if cn0 < thresLost && c.tag.Transition(Lock, Idle) {
		c.mu.Lock()
		c.m.Lost++
		c.mu.Unlock()
		c.events.Logf(4, "$LOG,%.3f,%s,%d,SIGNAL LOST (%s, %.1f)", t, c.sig.ID, c.prn, c.sig.ID, cn0)
		c.logger.Debug("signal lost", "cn0", cn0)
	}
}

// estimateCN0 converts the ratio of coherent power to total energy over one
// code period into C/N0 (dB-Hz). Noise alone gives a ratio near 1.
func (c *Power) estimateCN0(power, energy float64) float64 {
	if energy <= 0 {
		return 0
	}
	r := power/energy - 1
	if r <= 0 {
		return 0
	}
	return 10 * math.Log10(r/c.sig.T)
}

// fineDoppler refines bin ix by a parabola through its neighbours.
func (c *Power) fineDoppler(ix int) float64 {
	if ix == 0 || ix == len(c.fds)-1 {
		return c.fds[ix]
	}
	p0, p1, p2 := c.pSum[ix-1], c.pSum[ix], c.pSum[ix+1]
	den := p0 - 2*p1 + p2
	if den == 0 {
		return c.fds[ix]
	}
	step := c.fds[1] - c.fds[0]
	return c.fds[ix] + 0.5*step*(p0-p2)/den
}

func energy(x []complex64) float64 {
	var e float64
	for _, v := range x {
		re, im := float64(real(v)), float64(imag(v))
		e += re*re + im*im
	}
	return e
}

// mix returns sum(x[k] * exp(-j 2π f k / fs)) over k in [from, to), with the
// carrier phase referenced to k = 0.
func mix(x []complex64, fs, f float64, from, to int) complex128 {
	w := -2 * math.Pi * f / fs
	rot := cmplx.Rect(1, w)
	ph := cmplx.Rect(1, w*float64(from))
	var acc complex128
	for k := from; k < to; k++ {
		acc += complex128(x[k]) * ph
		ph *= rot
		if (k-from)%renormEvery == renormEvery-1 {
			ph = cmplx.Rect(1, w*float64(k+1))
		}
	}
	return acc
}
