package receiver

import (
	"fmt"

	"github.com/rjboer/fobosrx/internal/dsp"
	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/sdr"
)

// Phase is the acquisition state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Phase returns the acquisition state.
func (r *Receiver) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Running reports whether Start succeeded and Stop has not been called.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Alive reports whether the driver's blocking read is still in progress.
// It drops to false when the read returns on its own, while Running stays
// true until Stop.
func (r *Receiver) Alive() bool { return r.alive.Load() }

// LastBringUp returns the per-setting results of the last Start.
func (r *Receiver) LastBringUp() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.lastBringUp...)
}

// Start opens the selected device, applies the whole state and launches
// the acquisition goroutine. It is a no-op while running. Individual
// setting failures are logged and reported by LastBringUp; only an open
// failure is returned.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.phase = PhaseStarting
	r.log.Info("start", logging.F("serial", r.serial))

	dev, err := r.openLocked()
	if err != nil {
		r.phase = PhaseIdle
		return err
	}
	r.dev = dev
	r.lastBringUp = r.bringUp(dev)

	if r.done == nil {
		done := make(chan struct{})
		r.done = done
		r.alive.Store(true)
		go r.acquire(dev, done)
	}
	r.running = true
	r.phase = PhaseRunning
	return nil
}

// bringUp applies the state in the order the hardware expects.
func (r *Receiver) bringUp(dev sdr.Device) []Result {
	st := r.state
	steps := []struct {
		setting string
		value   any
		call    func(sdr.Device) error
	}{
		{"frequency", st.CenterFrequency, func(d sdr.Device) error {
			actual, err := d.SetFrequency(st.CenterFrequency)
			if err == nil {
				r.log.Info("actual frequency", logging.F("hz", actual))
			}
			return err
		}},
		{"sampling_mode", st.Mode, func(d sdr.Device) error { return d.SetDirectSampling(int(st.Mode)) }},
		{"lna_gain", st.LNAGain, func(d sdr.Device) error { return d.SetLNAGain(st.LNAGain) }},
		{"vga_gain", st.VGAGain, func(d sdr.Device) error { return d.SetVGAGain(st.VGAGain) }},
		{"sample_rate", st.SampleRate, func(d sdr.Device) error {
			actual, err := d.SetSampleRate(st.SampleRate)
			if err == nil {
				r.log.Info("actual sample rate", logging.F("hz", actual))
			}
			return err
		}},
		{"clock_source", st.Clock, func(d sdr.Device) error { return d.SetClockSource(int(st.Clock)) }},
		{"user_gpo", st.GPO, func(d sdr.Device) error { return d.SetUserGPO(st.GPO) }},
	}

	results := make([]Result, 0, len(steps))
	for _, s := range steps {
		res := Result{Setting: s.setting, Requested: s.value, Applied: s.value}
		results = append(results, r.applyTo(dev, res, s.call))
	}
	return results
}

// Stop cancels the driver read, waits for the acquisition goroutine and
// closes the device. It is a no-op when not running and has no timeout.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.phase = PhaseStopping
	r.log.Info("stop", logging.F("serial", r.serial))

	if r.done != nil {
		if err := r.dev.CancelAsync(); err != nil {
			r.log.Error("cancel async failed", logging.F("code", sdr.CodeName(sdr.Code(err))))
		}
		// A callback parked in Swap waits for a consumer that may never
		// come back; stopping the reader side releases it.
		r.out.StopReader()
		<-r.done
		r.out.ClearReadStop()
		r.done = nil
	}

	r.closeDevice(r.dev)
	r.dev = nil
	r.running = false
	r.phase = PhaseIdle
}

// acquire runs the driver's blocking read. It never closes the device or
// touches the session state; Stop does both after joining.
func (r *Receiver) acquire(dev sdr.Device, done chan struct{}) {
	defer close(done)
	defer r.alive.Store(false)

	r.log.Debug("acquisition started", logging.F("buffers", r.bufCount), logging.F("length", r.bufLength))
	err := dev.ReadAsync(r.handleSamples, r.bufCount, r.bufLength)
	code := sdr.Code(err)
	r.lastExit.Store(int64(code))
	r.log.Info("acquisition thread exit", logging.F("code", code), logging.F("name", sdr.CodeName(code)))
}

// handleSamples is the driver callback. It corrects the buffer in place,
// copies it into the stream and publishes it, possibly blocking on the
// consumer.
func (r *Receiver) handleSamples(samples []complex64) {
	dsp.Correct(Mode(r.mode.Load()), samples)

	n := copy(r.out.WriteBuf(), samples)
	r.buffers.Add(1)
	r.samples.Add(uint64(n))
	if !r.out.Swap(n) {
		failures := r.publishFailures.Add(1)
		r.log.Error("stream swap failed", logging.Err(ErrPublish), logging.F("failures", failures))
	}
}
