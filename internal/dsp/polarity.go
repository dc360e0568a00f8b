package dsp

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode mirrors the receiver's direct sampling selection as understood by
// the driver: 0 tuned RF, 1 both HF inputs as I/Q, 2 HF input A only,
// 3 HF input B only.
type Mode int

const (
	ModeRF Mode = iota
	ModeHFCombined
	ModeHFChannelA
	ModeHFChannelB
)

var modeNames = []string{"rf", "hf", "hf-a", "hf-b"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is one of the four driver modes.
func (m Mode) Valid() bool { return m >= ModeRF && m <= ModeHFChannelB }

// ParseMode accepts the names returned by String or the numeric driver
// value.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Mode(n).Valid() {
		return Mode(n), nil
	}
	return ModeRF, fmt.Errorf("unknown sampling mode %q", s)
}

// groupLen is the number of complex samples the single-channel correction
// operates on at once.
const groupLen = 4

// Correct applies the single-channel HF correction to samples in place. In
// channel A mode the imaginary part is zeroed; in channel B mode the
// imaginary part is moved to the real part and then zeroed. In both, the
// real part of every second sample of each group of four is negated. Only
// whole groups are touched. RF and combined HF buffers are left as is.
func Correct(mode Mode, samples []complex64) {
	switch mode {
	case ModeHFChannelA:
		correctChannelA(samples)
	case ModeHFChannelB:
		correctChannelB(samples)
	}
}

func correctChannelA(samples []complex64) {
	n := len(samples) / groupLen * groupLen
	for i := 0; i < n; i += groupLen {
		g := samples[i : i+groupLen : i+groupLen]
		g[0] = complex(real(g[0]), 0)
		g[1] = complex(-real(g[1]), 0)
		g[2] = complex(real(g[2]), 0)
		g[3] = complex(-real(g[3]), 0)
	}
}

func correctChannelB(samples []complex64) {
	n := len(samples) / groupLen * groupLen
	for i := 0; i < n; i += groupLen {
		g := samples[i : i+groupLen : i+groupLen]
		g[0] = complex(imag(g[0]), 0)
		g[1] = complex(-imag(g[1]), 0)
		g[2] = complex(imag(g[2]), 0)
		g[3] = complex(-imag(g[3]), 0)
	}
}
