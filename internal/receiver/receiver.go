// Package receiver drives a Fobos SDR: device selection and identity,
// per-device persisted settings, parameter control and the background
// acquisition goroutine feeding a stream.Stream.
//
// Control methods are serialized by an internal mutex. The acquisition
// goroutine never takes it; it only reads the sampling mode atomically and
// writes into the output stream.
package receiver

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rjboer/fobosrx/internal/dsp"
	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/sdr"
	"github.com/rjboer/fobosrx/internal/settings"
	"github.com/rjboer/fobosrx/internal/stream"
)

// Mode selects tuned RF or one of the direct sampling HF inputs.
type Mode = dsp.Mode

const (
	ModeRF         = dsp.ModeRF
	ModeHFCombined = dsp.ModeHFCombined
	ModeHFChannelA = dsp.ModeHFChannelA
	ModeHFChannelB = dsp.ModeHFChannelB
)

// ParseMode accepts "rf", "hf", "hf-a", "hf-b" or the driver values 0..3.
func ParseMode(s string) (Mode, error) { return dsp.ParseMode(s) }

// ClockSource selects the reference oscillator.
type ClockSource int

const (
	ClockInternal ClockSource = iota
	ClockExternal
)

func (c ClockSource) String() string {
	switch c {
	case ClockInternal:
		return "internal"
	case ClockExternal:
		return "external"
	default:
		return fmt.Sprintf("clock(%d)", int(c))
	}
}

// Valid reports whether c is a known clock source.
func (c ClockSource) Valid() bool { return c == ClockInternal || c == ClockExternal }

// ParseClockSource accepts "internal", "external" (or "ext10", "10mhz") and
// the numeric driver values.
func ParseClockSource(s string) (ClockSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal", "int", "0":
		return ClockInternal, nil
	case "external", "ext", "ext10", "10mhz", "1":
		return ClockExternal, nil
	default:
		return ClockInternal, fmt.Errorf("unknown clock source %q", s)
	}
}

// Buffer geometry handed to the driver's asynchronous read.
const (
	DefaultBufferCount  = 32
	DefaultBufferLength = 128 * 1024
)

// Tuning limits.
const (
	FrequencyStep = 100e3
	MinFrequency  = 50e6
	MaxLNAGain    = 3
	MaxVGAGain    = 15
)

// State is the radio configuration owned by a Receiver.
type State struct {
	CenterFrequency float64     `json:"center_frequency"`
	SampleRate      float64     `json:"sample_rate"`
	Mode            Mode        `json:"sampling_mode"`
	LNAGain         int         `json:"lna_gain"`
	VGAGain         int         `json:"vga_gain"`
	Clock           ClockSource `json:"clock_source"`
	GPO             uint8       `json:"user_gpo"`
}

// DefaultState is the configuration before any settings are loaded.
func DefaultState() State {
	return State{
		CenterFrequency: 100e6,
		SampleRate:      25e6,
		Mode:            ModeRF,
	}
}

// Identity holds the static strings read from the library and an opened
// board.
type Identity struct {
	Serial        string `json:"serial"`
	HWRevision    string `json:"hw_revision"`
	FWVersion     string `json:"fw_version"`
	Manufacturer  string `json:"manufacturer"`
	Product       string `json:"product"`
	LibVersion    string `json:"lib_version"`
	DriverVersion string `json:"driver_version"`
}

// Options configures New. Driver is required; everything else defaults.
type Options struct {
	Driver  sdr.Driver
	Store   *settings.Store
	Display Display
	Output  *stream.Stream
	Logger  logging.Logger

	BufferCount  int
	BufferLength int
	Initial      *State
}

// Receiver is a single Fobos session.
type Receiver struct {
	mu sync.Mutex

	drv     sdr.Driver
	store   *settings.Store
	display Display
	out     *stream.Stream
	log     logging.Logger

	bufCount  int
	bufLength int

	serials   []string
	devIndex  int
	serial    string
	identity  Identity
	rates     []float64
	rateIndex int

	state State
	// mode mirrors state.Mode for the acquisition goroutine.
	mode atomic.Int32

	dev         sdr.Device
	running     bool
	phase       Phase
	done        chan struct{}
	lastBringUp []Result

	alive           atomic.Bool
	lastExit        atomic.Int64
	buffers         atomic.Uint64
	samples         atomic.Uint64
	publishFailures atomic.Uint64
}

// New wires a Receiver and reads the library version strings. It does not
// touch any device; call Init to enumerate and select one.
func New(opts Options) (*Receiver, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("receiver: driver is required")
	}
	if opts.BufferCount <= 0 {
		opts.BufferCount = DefaultBufferCount
	}
	if opts.BufferLength <= 0 {
		opts.BufferLength = DefaultBufferLength
	}
	if opts.Store == nil {
		opts.Store = settings.NewMemory()
	}
	if opts.Display == nil {
		opts.Display = NopDisplay{}
	}
	if opts.Output == nil {
		opts.Output = stream.New(opts.BufferLength)
	} else if opts.Output.Capacity() < opts.BufferLength {
		return nil, fmt.Errorf("receiver: output stream holds %d samples, driver buffers carry %d",
			opts.Output.Capacity(), opts.BufferLength)
	}

	r := &Receiver{
		drv:       opts.Driver,
		store:     opts.Store,
		display:   opts.Display,
		out:       opts.Output,
		log:       logging.OrDefault(opts.Logger).With(logging.F("subsystem", "receiver")),
		bufCount:  opts.BufferCount,
		bufLength: opts.BufferLength,
		state:     DefaultState(),
	}
	if opts.Initial != nil {
		r.state = *opts.Initial
	}
	r.mode.Store(int32(r.state.Mode))

	lib, drv, err := r.drv.APIInfo()
	if err != nil {
		r.log.Warn("unable to read api info", logging.Err(err))
	} else {
		r.identity.LibVersion = lib
		r.identity.DriverVersion = drv
		r.log.Info("fobos api info", logging.F("lib", lib), logging.F("drv", drv))
	}
	return r, nil
}

// Init enumerates devices and selects the last used serial from the
// settings store, falling back to the first device. ErrNoDevices is
// returned when nothing is attached.
func (r *Receiver) Init() error {
	r.Refresh()
	return r.SelectBySerial(r.store.LastDevice())
}

// Output returns the stream the acquisition goroutine publishes into.
func (r *Receiver) Output() *stream.Stream { return r.out }

// State returns a copy of the current radio configuration.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Serial returns the selected serial, or "" when none is selected.
func (r *Receiver) Serial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serial
}

// Identity returns the last identity read from a device.
func (r *Receiver) Identity() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// SampleRates returns the capability list of the selected device.
func (r *Receiver) SampleRates() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.rates...)
}

// SampleRateIndex returns the position of the current rate in SampleRates.
func (r *Receiver) SampleRateIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateIndex
}

// Stats counts acquisition traffic since the Receiver was created.
type Stats struct {
	Buffers         uint64 `json:"buffers"`
	Samples         uint64 `json:"samples"`
	PublishFailures uint64 `json:"publish_failures"`
	LastExitCode    int    `json:"last_exit_code"`
}

// Stats returns the acquisition counters.
func (r *Receiver) Stats() Stats {
	return Stats{
		Buffers:         r.buffers.Load(),
		Samples:         r.samples.Load(),
		PublishFailures: r.publishFailures.Load(),
		LastExitCode:    int(r.lastExit.Load()),
	}
}

// Status is a point-in-time view of the whole session.
type Status struct {
	Serial    string    `json:"serial"`
	Serials   []string  `json:"serials"`
	Identity  Identity  `json:"identity"`
	Rates     []float64 `json:"sample_rates"`
	RateIndex int       `json:"sample_rate_index"`
	State     State     `json:"state"`
	Phase     string    `json:"phase"`
	Running   bool      `json:"running"`
	Alive     bool      `json:"alive"`
	Stats     Stats     `json:"stats"`
}

// Status returns a snapshot of the session.
func (r *Receiver) Status() Status {
	r.mu.Lock()
	st := Status{
		Serial:    r.serial,
		Serials:   append([]string(nil), r.serials...),
		Identity:  r.identity,
		Rates:     append([]float64(nil), r.rates...),
		RateIndex: r.rateIndex,
		State:     r.state,
		Phase:     r.phase.String(),
		Running:   r.running,
	}
	r.mu.Unlock()
	st.Alive = r.alive.Load()
	st.Stats = r.Stats()
	return st
}

// Close stops acquisition and stops the writer side of the output stream
// so consumers return.
func (r *Receiver) Close() error {
	r.Stop()
	r.out.StopWriter()
	r.log.Info("receiver closed")
	return nil
}
