package sdr

import (
	"errors"
	"fmt"
)

// Result codes reported by libfobos.
const (
	CodeOK             = 0
	CodeNoDevice       = -1
	CodeNotOpen        = -2
	CodeNoMem          = -3
	CodeControl        = -4
	CodeAsyncInSync    = -5
	CodeSyncInAsync    = -6
	CodeSyncNotStarted = -7
	CodeUnsupported    = -8
	CodeLibUSB         = -9

	// CodeUnknown is used for failures that did not come from the driver.
	CodeUnknown = -100
)

var codeNames = map[int]string{
	CodeOK:             "FOBOS_ERR_OK",
	CodeNoDevice:       "FOBOS_ERR_NO_DEV",
	CodeNotOpen:        "FOBOS_ERR_NOT_OPEN",
	CodeNoMem:          "FOBOS_ERR_NO_MEM",
	CodeControl:        "FOBOS_ERR_CONTROL",
	CodeAsyncInSync:    "FOBOS_ERR_ASYNC_IN_SYNC",
	CodeSyncInAsync:    "FOBOS_ERR_SYNC_IN_ASYNC",
	CodeSyncNotStarted: "FOBOS_ERR_SYNC_NOT_STARTED",
	CodeUnsupported:    "FOBOS_ERR_UNSUPPORTED",
	CodeLibUSB:         "FOBOS_ERR_LIBUSB",
}

// CodeName returns the symbolic name of a driver result code.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("FOBOS_ERR_UNKNOWN(%d)", code)
}

// ErrNotCompiled is returned by the native driver when the binary was built
// without the fobos tag.
var ErrNotCompiled = errors.New("sdr: libfobos support not compiled in (build with -tags fobos)")

// Error reports a non-zero result code from a driver call.
type Error struct {
	Op   string
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, CodeName(e.Code))
}

// check converts a driver result code into an error.
func check(op string, code int) error {
	if code == CodeOK {
		return nil
	}
	return &Error{Op: op, Code: code}
}

// Code extracts the driver result code from err. A nil error is CodeOK and
// errors that did not come from the driver are CodeUnknown.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}
