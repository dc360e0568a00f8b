//go:build fobos && cgo

package sdr

// #cgo LDFLAGS: -lfobos
// #cgo darwin CFLAGS: -I/usr/local/include
// #cgo darwin LDFLAGS: -L/usr/local/lib
// #include <stdint.h>
// #include <fobos.h>
//
// extern void goFobosCallback(float *buf, uint32_t buf_length, void *ctx);
//
// static int go_fobos_open(fobos_dev_t **dev, int index) {
//     return fobos_rx_open(dev, (uint32_t)index);
// }
// static int go_fobos_set_direct_sampling(fobos_dev_t *dev, int mode) {
//     return fobos_rx_set_direct_sampling(dev, (unsigned int)mode);
// }
// static int go_fobos_set_lna_gain(fobos_dev_t *dev, int gain) {
//     return fobos_rx_set_lna_gain(dev, (unsigned int)gain);
// }
// static int go_fobos_set_vga_gain(fobos_dev_t *dev, int gain) {
//     return fobos_rx_set_vga_gain(dev, (unsigned int)gain);
// }
// static int go_fobos_set_clk_source(fobos_dev_t *dev, int source) {
//     return fobos_rx_set_clk_source(dev, source);
// }
// static int go_fobos_set_user_gpo(fobos_dev_t *dev, int mask) {
//     return fobos_rx_set_user_gpo(dev, (uint8_t)mask);
// }
// static int go_fobos_get_samplerate_count(fobos_dev_t *dev, unsigned int *count) {
//     return fobos_rx_get_samplerates(dev, 0, count);
// }
// static int go_fobos_read_async(fobos_dev_t *dev, void *ctx, int buf_count, int buf_length) {
//     return fobos_rx_read_async(dev, (fobos_rx_cb_t)goFobosCallback, ctx, (uint32_t)buf_count, (uint32_t)buf_length);
// }
import "C"

import (
	"fmt"
	"strings"
	"unsafe"

	pointer "github.com/mattn/go-pointer"
)

const infoLen = 64

// Fobos is the libfobos-backed Driver.
type Fobos struct{}

// NewFobos returns the native driver.
func NewFobos() Driver { return Fobos{} }

// APIInfo implements Driver.
func (Fobos) APIInfo() (string, string, error) {
	var lib, drv [infoLen]C.char
	if err := check("fobos_rx_get_api_info", int(C.fobos_rx_get_api_info(&lib[0], &drv[0]))); err != nil {
		return "", "", err
	}
	return C.GoString(&lib[0]), C.GoString(&drv[0]), nil
}

// ListDevices implements Driver. The library reports serials as a single
// space separated string.
func (Fobos) ListDevices() ([]string, error) {
	var buf [1024]C.char
	count := int(C.fobos_rx_list_devices(&buf[0]))
	if count < 0 {
		return nil, check("fobos_rx_list_devices", count)
	}
	serials := strings.Fields(C.GoString(&buf[0]))
	if len(serials) > count {
		serials = serials[:count]
	}
	return serials, nil
}

// Open implements Driver.
func (Fobos) Open(index int) (Device, error) {
	var dev *C.fobos_dev_t
	if err := check("fobos_rx_open", int(C.go_fobos_open(&dev, C.int(index)))); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, &Error{Op: "fobos_rx_open", Code: CodeNoDevice}
	}
	return &fobosDevice{dev: dev}, nil
}

type fobosDevice struct {
	dev *C.fobos_dev_t
}

func (d *fobosDevice) Close() error {
	if d.dev == nil {
		return nil
	}
	code := int(C.fobos_rx_close(d.dev))
	d.dev = nil
	return check("fobos_rx_close", code)
}

func (d *fobosDevice) BoardInfo() (BoardInfo, error) {
	var hw, fw, manufacturer, product, serial [infoLen]C.char
	code := int(C.fobos_rx_get_board_info(d.dev, &hw[0], &fw[0], &manufacturer[0], &product[0], &serial[0]))
	if err := check("fobos_rx_get_board_info", code); err != nil {
		return BoardInfo{}, err
	}
	return BoardInfo{
		HWRevision:   C.GoString(&hw[0]),
		FWVersion:    C.GoString(&fw[0]),
		Manufacturer: C.GoString(&manufacturer[0]),
		Product:      C.GoString(&product[0]),
		Serial:       C.GoString(&serial[0]),
	}, nil
}

func (d *fobosDevice) SampleRates() ([]float64, error) {
	var count C.uint
	if err := check("fobos_rx_get_samplerates", int(C.go_fobos_get_samplerate_count(d.dev, &count))); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	values := make([]C.double, int(count))
	if err := check("fobos_rx_get_samplerates", int(C.fobos_rx_get_samplerates(d.dev, &values[0], &count))); err != nil {
		return nil, err
	}
	out := make([]float64, int(count))
	for i := range out {
		out[i] = float64(values[i])
	}
	return out, nil
}

func (d *fobosDevice) SetFrequency(hz float64) (float64, error) {
	var actual C.double
	err := check("fobos_rx_set_frequency", int(C.fobos_rx_set_frequency(d.dev, C.double(hz), &actual)))
	return float64(actual), err
}

func (d *fobosDevice) SetSampleRate(hz float64) (float64, error) {
	var actual C.double
	err := check("fobos_rx_set_samplerate", int(C.fobos_rx_set_samplerate(d.dev, C.double(hz), &actual)))
	return float64(actual), err
}

func (d *fobosDevice) SetDirectSampling(mode int) error {
	return check("fobos_rx_set_direct_sampling", int(C.go_fobos_set_direct_sampling(d.dev, C.int(mode))))
}

func (d *fobosDevice) SetLNAGain(gain int) error {
	return check("fobos_rx_set_lna_gain", int(C.go_fobos_set_lna_gain(d.dev, C.int(gain))))
}

func (d *fobosDevice) SetVGAGain(gain int) error {
	return check("fobos_rx_set_vga_gain", int(C.go_fobos_set_vga_gain(d.dev, C.int(gain))))
}

func (d *fobosDevice) SetClockSource(source int) error {
	return check("fobos_rx_set_clk_source", int(C.go_fobos_set_clk_source(d.dev, C.int(source))))
}

func (d *fobosDevice) SetUserGPO(mask uint8) error {
	return check("fobos_rx_set_user_gpo", int(C.go_fobos_set_user_gpo(d.dev, C.int(mask))))
}

// ReadAsync implements Device. The handler is registered in the go-pointer
// table for the duration of the call and recovered in goFobosCallback.
func (d *fobosDevice) ReadAsync(handler SampleHandler, bufCount, bufLength int) error {
	if handler == nil {
		return fmt.Errorf("read async: nil handler")
	}
	ctx := pointer.Save(handler)
	defer pointer.Unref(ctx)
	return check("fobos_rx_read_async", int(C.go_fobos_read_async(d.dev, ctx, C.int(bufCount), C.int(bufLength))))
}

func (d *fobosDevice) CancelAsync() error {
	return check("fobos_rx_cancel_async", int(C.fobos_rx_cancel_async(d.dev)))
}

// samplesFromC views a driver buffer of interleaved re/im floats as complex
// samples without copying.
func samplesFromC(buf *C.float, length C.uint32_t) []complex64 {
	if buf == nil || length == 0 {
		return nil
	}
	return unsafe.Slice((*complex64)(unsafe.Pointer(buf)), int(length))
}
