//go:build fobos && cgo

package sdr

// #include <stdint.h>
import "C"

import (
	"unsafe"

	pointer "github.com/mattn/go-pointer"
)

//export goFobosCallback
func goFobosCallback(buf *C.float, length C.uint32_t, ctx unsafe.Pointer) {
	handler, ok := pointer.Restore(ctx).(SampleHandler)
	if !ok || handler == nil {
		return
	}
	handler(samplesFromC(buf, length))
}
