package receiver

import (
	"slices"
	"strings"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/sdr"
	"github.com/rjboer/fobosrx/internal/settings"
)

// Refresh re-enumerates attached devices and returns their serials. A
// driver failure is logged and yields an empty list.
func (r *Receiver) Refresh() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()
	return append([]string(nil), r.serials...)
}

func (r *Receiver) refreshLocked() {
	serials, err := r.drv.ListDevices()
	if err != nil {
		r.log.Warn("device enumeration failed", logging.Err(err))
		r.serials = nil
		return
	}
	r.serials = serials
	if len(serials) == 0 {
		r.log.Warn("no fobos devices found")
		return
	}
	r.log.Info("devices enumerated", logging.F("count", len(serials)), logging.F("serials", strings.Join(serials, ",")))
}

// Serials returns the serials found by the last Refresh.
func (r *Receiver) Serials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.serials...)
}

// SelectBySerial makes serial the active device. An empty or unknown serial
// selects the first enumerated device. The choice is persisted as the last
// used device, its stored settings are loaded and the device is opened
// briefly to read identity and sample rates.
func (r *Receiver) SelectBySerial(serial string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRunning
	}
	if len(r.serials) == 0 {
		r.log.Warn("select skipped, no devices", logging.F("serial", serial))
		return ErrNoDevices
	}

	idx := slices.Index(r.serials, serial)
	if idx < 0 {
		if serial != "" {
			r.log.Info("serial not attached, using first device", logging.F("requested", serial))
		}
		idx = 0
	}
	r.devIndex = idx
	r.serial = r.serials[idx]
	r.log.Info("device selected", logging.F("serial", r.serial), logging.F("index", idx))

	if err := r.store.SetLastDevice(r.serial); err != nil {
		r.log.Error("persist last device failed", logging.Err(err))
	}
	r.loadLocked(r.serial)

	dev, err := r.openLocked()
	if err != nil {
		return err
	}
	r.readIdentity(dev)
	r.readCapability(dev)
	r.closeDevice(dev)
	return nil
}

// openLocked opens the selected device. On failure the serial is cleared so
// nothing is saved against a device that could not be reached.
func (r *Receiver) openLocked() (sdr.Device, error) {
	dev, err := r.drv.Open(r.devIndex)
	if err != nil {
		oe := &OpenError{Index: r.devIndex, Code: sdr.Code(err), Err: err}
		r.log.Error("unable to open fobos device", logging.F("index", r.devIndex), logging.F("code", oe.Code), logging.Err(err))
		r.serial = ""
		return nil, oe
	}
	return dev, nil
}

func (r *Receiver) closeDevice(dev sdr.Device) {
	if dev == nil {
		return
	}
	if err := dev.Close(); err != nil {
		r.log.Error("device close failed", logging.Err(err))
	}
}

func (r *Receiver) readIdentity(dev sdr.Device) {
	info, err := dev.BoardInfo()
	if err != nil {
		r.log.Error("unable to read board info", logging.F("code", sdr.Code(err)), logging.Err(err))
		return
	}
	r.identity.Serial = info.Serial
	r.identity.HWRevision = info.HWRevision
	r.identity.FWVersion = info.FWVersion
	r.identity.Manufacturer = info.Manufacturer
	r.identity.Product = info.Product
	r.log.Info("board info",
		logging.F("hw_revision", info.HWRevision),
		logging.F("fw_version", info.FWVersion),
		logging.F("manufacturer", info.Manufacturer),
		logging.F("product", info.Product),
		logging.F("serial", info.Serial),
	)
}

// readCapability replaces the rate list with the device's, ascending and
// without duplicates. A failed query leaves the list empty.
func (r *Receiver) readCapability(dev sdr.Device) {
	r.rates = nil
	r.rateIndex = 0

	rates, err := dev.SampleRates()
	if err != nil {
		r.log.Error("unable to read sample rates", logging.F("code", sdr.Code(err)), logging.Err(err))
		return
	}
	if len(rates) == 0 {
		return
	}
	// The driver reports rates highest first.
	slices.Sort(rates)
	r.rates = slices.Compact(rates)

	if i := slices.Index(r.rates, r.state.SampleRate); i >= 0 {
		r.rateIndex = i
		return
	}
	r.log.Warn("stored sample rate not supported, using lowest",
		logging.F("sample_rate", r.state.SampleRate), logging.F("fallback", r.rates[0]))
	r.state.SampleRate = r.rates[0]
}

// LoadSettings overlays the stored settings of serial onto the current
// state. Fields absent from storage keep their value. Gains are clamped like
// the setters do; out-of-range mode, clock and GPO values are ignored.
func (r *Receiver) LoadSettings(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(serial)
}

func (r *Receiver) loadLocked(serial string) {
	if serial == "" {
		return
	}
	d, ok := r.store.Device(serial)
	if !ok {
		r.log.Debug("no stored settings", logging.F("serial", serial))
		return
	}
	if d.SampleRate != nil {
		r.state.SampleRate = *d.SampleRate
	}
	if d.LNAGain != nil {
		r.state.LNAGain = min(max(*d.LNAGain, 0), MaxLNAGain)
	}
	if d.VGAGain != nil {
		r.state.VGAGain = min(max(*d.VGAGain, 0), MaxVGAGain)
	}
	if d.SamplingMode != nil {
		if m := Mode(*d.SamplingMode); m.Valid() {
			r.state.Mode = m
			r.mode.Store(int32(m))
		} else {
			r.log.Warn("ignoring stored sampling mode", logging.F("serial", serial), logging.F("value", *d.SamplingMode))
		}
	}
	if d.ClockSource != nil {
		if c := ClockSource(*d.ClockSource); c.Valid() {
			r.state.Clock = c
		} else {
			r.log.Warn("ignoring stored clock source", logging.F("serial", serial), logging.F("value", *d.ClockSource))
		}
	}
	if d.UserGPO != nil {
		if g := *d.UserGPO; g >= 0 && g <= 0xff {
			r.state.GPO = uint8(g)
		} else {
			r.log.Warn("ignoring stored gpo mask", logging.F("serial", serial), logging.F("value", g))
		}
	}
	r.log.Debug("settings loaded", logging.F("serial", serial))
}

// SaveSettings writes the six persisted fields for the selected serial.
// It does nothing when no device has been selected.
func (r *Receiver) SaveSettings() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Receiver) saveLocked() error {
	if r.serial == "" {
		return nil
	}
	if err := r.store.PutDevice(r.serial, settingsFromState(r.state)); err != nil {
		r.log.Error("save settings failed", logging.F("serial", r.serial), logging.Err(err))
		return err
	}
	return nil
}

func settingsFromState(st State) settings.Device {
	rate, lna, vga := st.SampleRate, st.LNAGain, st.VGAGain
	mode, clock, gpo := int(st.Mode), int(st.Clock), int(st.GPO)
	return settings.Device{
		SampleRate:   &rate,
		LNAGain:      &lna,
		VGAGain:      &vga,
		SamplingMode: &mode,
		ClockSource:  &clock,
		UserGPO:      &gpo,
	}
}
