package sdr

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Call records one driver operation issued against a Mock.
type Call struct {
	Op    string
	Value any
}

func (c Call) String() string {
	if c.Value == nil {
		return c.Op
	}
	return fmt.Sprintf("%s(%v)", c.Op, c.Value)
}

// Mock is an in-memory Driver that synthesizes ramp samples and records every
// call. Configure the exported fields before handing it to a caller.
type Mock struct {
	Serials []string
	Board   BoardInfo
	Rates   []float64

	LibVersion string
	DrvVersion string

	// ListErr fails ListDevices.
	ListErr error
	// OpenCode, BoardCode and RatesCode fail the matching calls with the
	// given driver code when non-zero.
	OpenCode  int
	BoardCode int
	RatesCode int
	// Fail maps a setter name (e.g. "SetLNAGain") to the code it returns.
	Fail map[string]int

	// MaxBuffers makes ReadAsync return on its own after that many buffers;
	// zero streams until CancelAsync. ExitCode is returned in that case.
	MaxBuffers int
	ExitCode   int
	// Interval paces buffer delivery.
	Interval time.Duration

	mu      sync.Mutex
	calls   []Call
	opened  int
	closed  int
	devices []*MockDevice
}

// NewMock builds a mock with two receivers and the Fobos rate table.
func NewMock() *Mock {
	return &Mock{
		Serials: []string{"2ba0dc5b21cf1a35", "3b4fe9120a889e01"},
		Board: BoardInfo{
			HWRevision:   "3.0.0",
			FWVersion:    "2.1.1",
			Manufacturer: "RigExpert",
			Product:      "Fobos SDR",
		},
		Rates:      []float64{50e6, 40e6, 32e6, 25e6, 20e6, 16e6, 12.5e6, 10e6, 8e6},
		LibVersion: "2.3.2",
		DrvVersion: "libusb",
	}
}

func (m *Mock) record(op string, value any) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Value: value})
	m.mu.Unlock()
}

// Calls returns every recorded call in order.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Ops returns the names of every recorded call in order.
func (m *Mock) Ops() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

// ResetCalls discards the recorded history.
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// OpenCount returns how many successful opens and closes were issued.
func (m *Mock) OpenCount() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

// LastDevice returns the most recently opened device, or nil.
func (m *Mock) LastDevice() *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.devices) == 0 {
		return nil
	}
	return m.devices[len(m.devices)-1]
}

func (m *Mock) failure(op string) error {
	m.mu.Lock()
	code := m.Fail[op]
	m.mu.Unlock()
	return check(op, code)
}

// APIInfo implements Driver.
func (m *Mock) APIInfo() (string, string, error) {
	m.record("APIInfo", nil)
	return m.LibVersion, m.DrvVersion, nil
}

// ListDevices implements Driver.
func (m *Mock) ListDevices() ([]string, error) {
	m.record("ListDevices", nil)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]string(nil), m.Serials...), nil
}

// Open implements Driver.
func (m *Mock) Open(index int) (Device, error) {
	m.record("Open", index)
	if m.OpenCode != 0 {
		return nil, &Error{Op: "Open", Code: m.OpenCode}
	}
	if index < 0 || index >= len(m.Serials) {
		return nil, &Error{Op: "Open", Code: CodeNoDevice}
	}
	dev := &MockDevice{mock: m, index: index, cancel: make(chan struct{})}
	m.mu.Lock()
	m.opened++
	m.devices = append(m.devices, dev)
	m.mu.Unlock()
	return dev, nil
}

// MockDevice is the Device handed out by Mock.Open.
type MockDevice struct {
	mock  *Mock
	index int

	mu       sync.Mutex
	closed   bool
	reading  bool
	buffers  int
	cancel   chan struct{}
	cancelMu sync.Once
}

// Closed reports whether Close was called.
func (d *MockDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Reading reports whether ReadAsync is currently blocked.
func (d *MockDevice) Reading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reading
}

// Buffers returns how many buffers were delivered.
func (d *MockDevice) Buffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers
}

func (d *MockDevice) Close() error {
	d.mock.record("Close", nil)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if d.reading {
		return errors.New("mock: close while reading")
	}
	d.closed = true
	d.mock.mu.Lock()
	d.mock.closed++
	d.mock.mu.Unlock()
	return nil
}

func (d *MockDevice) BoardInfo() (BoardInfo, error) {
	d.mock.record("BoardInfo", nil)
	if d.mock.BoardCode != 0 {
		return BoardInfo{}, &Error{Op: "BoardInfo", Code: d.mock.BoardCode}
	}
	info := d.mock.Board
	info.Serial = d.mock.Serials[d.index]
	return info, nil
}

func (d *MockDevice) SampleRates() ([]float64, error) {
	d.mock.record("SampleRates", nil)
	if d.mock.RatesCode != 0 {
		return nil, &Error{Op: "SampleRates", Code: d.mock.RatesCode}
	}
	return append([]float64(nil), d.mock.Rates...), nil
}

func (d *MockDevice) SetFrequency(hz float64) (float64, error) {
	d.mock.record("SetFrequency", hz)
	if err := d.mock.failure("SetFrequency"); err != nil {
		return 0, err
	}
	return hz, nil
}

func (d *MockDevice) SetSampleRate(hz float64) (float64, error) {
	d.mock.record("SetSampleRate", hz)
	if err := d.mock.failure("SetSampleRate"); err != nil {
		return 0, err
	}
	return hz, nil
}

func (d *MockDevice) SetDirectSampling(mode int) error {
	d.mock.record("SetDirectSampling", mode)
	return d.mock.failure("SetDirectSampling")
}

func (d *MockDevice) SetLNAGain(gain int) error {
	d.mock.record("SetLNAGain", gain)
	return d.mock.failure("SetLNAGain")
}

func (d *MockDevice) SetVGAGain(gain int) error {
	d.mock.record("SetVGAGain", gain)
	return d.mock.failure("SetVGAGain")
}

func (d *MockDevice) SetClockSource(source int) error {
	d.mock.record("SetClockSource", source)
	return d.mock.failure("SetClockSource")
}

func (d *MockDevice) SetUserGPO(mask uint8) error {
	d.mock.record("SetUserGPO", mask)
	return d.mock.failure("SetUserGPO")
}

// ReadAsync delivers ramp buffers until cancelled or MaxBuffers is reached.
// Sample k of every buffer is (k+1, -(k+1)).
func (d *MockDevice) ReadAsync(handler SampleHandler, bufCount, bufLength int) error {
	d.mock.record("ReadAsync", bufLength)
	if bufCount <= 0 || bufLength <= 0 {
		return &Error{Op: "ReadAsync", Code: CodeUnsupported}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return &Error{Op: "ReadAsync", Code: CodeNotOpen}
	}
	d.reading = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.reading = false
		d.mu.Unlock()
	}()

	buf := make([]complex64, bufLength)
	for n := 0; ; n++ {
		if d.mock.MaxBuffers > 0 && n >= d.mock.MaxBuffers {
			return check("ReadAsync", d.mock.ExitCode)
		}
		if d.mock.Interval > 0 {
			select {
			case <-d.cancel:
				return nil
			case <-time.After(d.mock.Interval):
			}
		} else {
			select {
			case <-d.cancel:
				return nil
			default:
			}
		}

		for k := range buf {
			v := float32(k%4096 + 1)
			buf[k] = complex(v, -v)
		}
		handler(buf)

		d.mu.Lock()
		d.buffers++
		d.mu.Unlock()
	}
}

func (d *MockDevice) CancelAsync() error {
	d.mock.record("CancelAsync", nil)
	d.cancelMu.Do(func() { close(d.cancel) })
	return nil
}
