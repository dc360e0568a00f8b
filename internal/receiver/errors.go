package receiver

import (
	"errors"
	"fmt"

	"github.com/rjboer/fobosrx/internal/sdr"
)

var (
	// ErrNoDevices reports an empty enumeration. It is not fatal: the
	// receiver stays usable and a later Refresh may find hardware.
	ErrNoDevices = errors.New("receiver: no devices found")
	// ErrRunning is returned by operations that need the session idle.
	ErrRunning = errors.New("receiver: acquisition running")
	// ErrFrequencyPinned rejects a frequency change outside RF mode, where
	// the center is fixed at half the sample rate.
	ErrFrequencyPinned = errors.New("receiver: frequency is pinned in direct sampling mode")
	// ErrInvalidFrequency rejects a NaN or infinite frequency.
	ErrInvalidFrequency = errors.New("receiver: invalid frequency")
	// ErrUnsupportedRate rejects a sample rate the hardware does not list.
	ErrUnsupportedRate = errors.New("receiver: unsupported sample rate")
	// ErrInvalidMode rejects an unknown sampling mode.
	ErrInvalidMode = errors.New("receiver: invalid sampling mode")
	// ErrInvalidClock rejects an unknown clock source.
	ErrInvalidClock = errors.New("receiver: invalid clock source")
	// ErrPublish is logged when the output stream refuses a buffer.
	ErrPublish = errors.New("receiver: stream publish failed")
)

// OpenError reports that the driver refused to open a device.
type OpenError struct {
	Index int
	Code  int
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open device %d: %s", e.Index, sdr.CodeName(e.Code))
}

func (e *OpenError) Unwrap() error { return e.Err }
