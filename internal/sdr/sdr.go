package sdr

// BoardInfo carries the static identity strings reported by an open device.
type BoardInfo struct {
	HWRevision   string
	FWVersion    string
	Manufacturer string
	Product      string
	Serial       string
}

// SampleHandler receives one driver buffer of complex samples. The slice
// aliases driver memory and is only valid for the duration of the call; the
// handler may modify it in place.
type SampleHandler func(samples []complex64)

// Driver captures the process-level entry points of the vendor library.
type Driver interface {
	// APIInfo returns the library and kernel-driver version strings.
	APIInfo() (lib, drv string, err error)
	// ListDevices returns the serial numbers of connected receivers in
	// index order.
	ListDevices() ([]string, error)
	// Open acquires exclusive access to the receiver at index.
	Open(index int) (Device, error)
}

// Device captures the per-handle operations of an opened receiver. Setters
// return an *Error carrying the driver's result code on failure.
type Device interface {
	Close() error
	BoardInfo() (BoardInfo, error)
	// SampleRates returns the discrete rates supported by the hardware in
	// the order the driver reports them.
	SampleRates() ([]float64, error)
	SetFrequency(hz float64) (actual float64, err error)
	SetSampleRate(hz float64) (actual float64, err error)
	SetDirectSampling(mode int) error
	SetLNAGain(gain int) error
	SetVGAGain(gain int) error
	SetClockSource(source int) error
	SetUserGPO(mask uint8) error
	// ReadAsync blocks, invoking handler for every filled buffer, until
	// CancelAsync is called or the hardware fails.
	ReadAsync(handler SampleHandler, bufCount, bufLength int) error
	CancelAsync() error
}
