//go:build !fobos || !cgo

package sdr

// Fobos stands in for the libfobos driver in builds without the fobos tag.
// Every entry point fails with ErrNotCompiled.
type Fobos struct{}

// NewFobos returns the native driver.
func NewFobos() Driver { return Fobos{} }

func (Fobos) APIInfo() (string, string, error) { return "", "", ErrNotCompiled }

func (Fobos) ListDevices() ([]string, error) { return nil, ErrNotCompiled }

func (Fobos) Open(int) (Device, error) { return nil, ErrNotCompiled }
