package receiver

import (
	"math"
	"slices"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/sdr"
)

// Result reports the outcome of one setter. State is updated even when the
// hardware rejects the value, so Err describes only what the device did.
type Result struct {
	Setting   string `json:"setting"`
	Requested any    `json:"requested"`
	Applied   any    `json:"applied"`
	// Hardware is set when a device handle was open and the call was issued.
	Hardware bool  `json:"hardware"`
	Code     int   `json:"code"`
	Err      error `json:"-"`
}

// OK reports whether the setting was accepted.
func (r Result) OK() bool { return r.Err == nil }

// QuantizeFrequency rounds hz to the nearest 100 kHz step, with a 50 MHz
// floor.
func QuantizeFrequency(hz float64) float64 {
	return math.Max(MinFrequency, math.Round(hz/FrequencyStep)*FrequencyStep)
}

// applyTo issues call against dev and folds any driver error into res.
func (r *Receiver) applyTo(dev sdr.Device, res Result, call func(sdr.Device) error) Result {
	if dev == nil {
		return res
	}
	res.Hardware = true
	if err := call(dev); err != nil {
		res.Code = sdr.Code(err)
		res.Err = err
		r.log.Error("parameter apply failed",
			logging.F("setting", res.Setting),
			logging.F("value", res.Applied),
			logging.F("code", sdr.CodeName(res.Code)),
		)
	}
	return res
}

func (r *Receiver) changed(res Result) Result {
	if err := r.saveLocked(); err != nil && res.Err == nil {
		r.log.Warn("setting applied but not persisted", logging.F("setting", res.Setting))
	}
	return res
}

// SetFrequency tunes the receiver. In RF mode the value is quantized to
// 100 kHz with a 50 MHz floor. In the direct sampling modes the request is
// rejected and the display is put back on the pinned center.
func (r *Receiver) SetFrequency(hz float64) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{Setting: "frequency", Requested: hz}
	if math.IsNaN(hz) || math.IsInf(hz, 0) {
		r.log.Error("tune rejected", logging.F("frequency", hz))
		res.Applied = r.state.CenterFrequency
		res.Err = ErrInvalidFrequency
		return res
	}
	if r.state.Mode != ModeRF {
		pinned := 0.5 * r.state.SampleRate
		r.log.Error("tune rejected in direct sampling mode",
			logging.F("frequency", hz), logging.F("mode", r.state.Mode.String()))
		r.display.SetCenterFrequency(pinned)
		res.Applied = r.state.CenterFrequency
		res.Err = ErrFrequencyPinned
		return res
	}

	f := QuantizeFrequency(hz)
	r.log.Info("tune", logging.F("requested", hz), logging.F("frequency", f))
	r.state.CenterFrequency = f
	res.Applied = f
	res = r.applyTo(r.dev, res, func(d sdr.Device) error {
		actual, err := d.SetFrequency(f)
		if err == nil {
			r.log.Debug("actual frequency", logging.F("hz", actual))
		}
		return err
	})
	r.display.SetCenterFrequency(f)
	return r.changed(res)
}

// Tune is the host tuning hook; it is SetFrequency.
func (r *Receiver) Tune(hz float64) Result { return r.SetFrequency(hz) }

// SetSampleRate selects hz from the device's rate list.
func (r *Receiver) SetSampleRate(hz float64) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.Index(r.rates, hz)
	if idx < 0 {
		r.log.Warn("sample rate not supported", logging.F("sample_rate", hz))
		return Result{Setting: "sample_rate", Requested: hz, Applied: r.state.SampleRate, Err: ErrUnsupportedRate}
	}
	return r.setRateLocked(idx, hz)
}

// SetSampleRateIndex selects the i-th entry of SampleRates.
func (r *Receiver) SetSampleRateIndex(i int) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= len(r.rates) {
		return Result{Setting: "sample_rate", Requested: i, Applied: r.state.SampleRate, Err: ErrUnsupportedRate}
	}
	return r.setRateLocked(i, i)
}

func (r *Receiver) setRateLocked(idx int, requested any) Result {
	rate := r.rates[idx]
	r.state.SampleRate = rate
	r.rateIndex = idx

	res := Result{Setting: "sample_rate", Requested: requested, Applied: rate}
	res = r.applyTo(r.dev, res, func(d sdr.Device) error {
		actual, err := d.SetSampleRate(rate)
		if err == nil {
			r.log.Debug("actual sample rate", logging.F("hz", actual))
		}
		return err
	})

	if r.state.Mode != ModeRF {
		r.display.SetCenterFrequency(0.5 * rate)
	} else {
		r.display.SetCenterFrequency(r.state.CenterFrequency)
	}
	r.display.SetInputSampleRate(rate)
	return r.changed(res)
}

// SetMode switches between tuned RF and the direct sampling inputs. Moving
// into or out of RF shifts the display so the tuned cursor stays on the
// same signal.
func (r *Receiver) SetMode(m Mode) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{Setting: "sampling_mode", Requested: m, Applied: r.state.Mode}
	if !m.Valid() {
		res.Err = ErrInvalidMode
		return res
	}

	prev := r.state.Mode
	half := 0.5 * r.state.SampleRate
	shift := r.state.CenterFrequency - half
	switch {
	case prev == ModeRF && m != ModeRF:
		r.display.SetCenterFrequency(half)
		r.display.SetFrequency(r.display.Frequency() - shift)
		r.display.SetInputSampleRate(r.state.SampleRate)
	case prev != ModeRF && m == ModeRF:
		r.display.SetCenterFrequency(r.state.CenterFrequency)
		r.display.SetFrequency(r.display.Frequency() + shift)
		r.display.SetInputSampleRate(r.state.SampleRate)
	}

	r.state.Mode = m
	r.mode.Store(int32(m))
	res.Applied = m
	res = r.applyTo(r.dev, res, func(d sdr.Device) error { return d.SetDirectSampling(int(m)) })
	r.log.Info("sampling mode", logging.F("mode", m.String()))
	return r.changed(res)
}

// SetLNAGain sets the LNA step, clamped to 0..3.
func (r *Receiver) SetLNAGain(gain int) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := min(max(gain, 0), MaxLNAGain)
	r.state.LNAGain = g
	res := Result{Setting: "lna_gain", Requested: gain, Applied: g}
	res = r.applyTo(r.dev, res, func(d sdr.Device) error { return d.SetLNAGain(g) })
	return r.changed(res)
}

// SetVGAGain sets the VGA step, clamped to 0..15.
func (r *Receiver) SetVGAGain(gain int) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := min(max(gain, 0), MaxVGAGain)
	r.state.VGAGain = g
	res := Result{Setting: "vga_gain", Requested: gain, Applied: g}
	res = r.applyTo(r.dev, res, func(d sdr.Device) error { return d.SetVGAGain(g) })
	return r.changed(res)
}

// SetClockSource selects the internal oscillator or the external 10 MHz
// reference.
func (r *Receiver) SetClockSource(c ClockSource) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{Setting: "clock_source", Requested: c, Applied: r.state.Clock}
	if !c.Valid() {
		res.Err = ErrInvalidClock
		return res
	}
	r.state.Clock = c
	res.Applied = c
	res = r.applyTo(r.dev, res, func(d sdr.Device) error { return d.SetClockSource(int(c)) })
	return r.changed(res)
}

// SetGPO writes the user GPO bits. When the session is idle the selected
// device is opened just long enough to apply the mask.
func (r *Receiver) SetGPO(mask uint8) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.GPO = mask
	res := Result{Setting: "user_gpo", Requested: mask, Applied: mask}
	call := func(d sdr.Device) error { return d.SetUserGPO(mask) }
	r.log.Info("gpo", logging.F("mask", mask))

	if r.dev != nil {
		return r.changed(r.applyTo(r.dev, res, call))
	}
	if r.serial == "" {
		return r.changed(res)
	}

	dev, err := r.drv.Open(r.devIndex)
	if err != nil {
		code := sdr.Code(err)
		r.log.Error("transient open for gpo failed", logging.F("index", r.devIndex), logging.F("code", sdr.CodeName(code)))
		res.Code = code
		res.Err = &OpenError{Index: r.devIndex, Code: code, Err: err}
		return r.changed(res)
	}
	res = r.applyTo(dev, res, call)
	r.closeDevice(dev)
	return r.changed(res)
}

// PostInit aligns the display with the loaded state once the host display
// exists: in a direct sampling mode the center is pinned and the tuned
// cursor shifted by the same amount, if that leaves it positive.
func (r *Receiver) PostInit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Mode != ModeRF {
		half := 0.5 * r.state.SampleRate
		r.display.SetCenterFrequency(half)
		if f := r.display.Frequency() - (r.state.CenterFrequency - half); f > 0 {
			r.display.SetFrequency(f)
		}
	}
	r.display.SetInputSampleRate(r.state.SampleRate)
}
