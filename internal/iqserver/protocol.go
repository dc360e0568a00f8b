// Package iqserver serves the receiver's sample stream over TCP.
//
// A client receives a Header and then a continuous run of little-endian
// float32 I/Q pairs. It may send rtl_tcp style commands (one op byte and a
// big-endian uint32 parameter) to retune the receiver.
package iqserver

import (
	"encoding/binary"
	"io"
	"math"
)

var headerMagic = [4]byte{'F', 'O', 'B', '0'}

// FormatCF32 is the only sample format served: interleaved float32 I/Q.
const FormatCF32 = 1

// Header is written once, big-endian, when a client connects.
type Header struct {
	Magic      [4]byte
	Format     uint32
	SampleRate uint32
}

// Valid checks the magic bytes.
func (h Header) Valid() bool { return h.Magic == headerMagic }

// ReadHeader reads the connection header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	err := binary.Read(r, binary.BigEndian, &h)
	return h, err
}

// Command is a five byte control message.
type Command struct {
	Op    uint8
	Param uint32
}

// Command ops. The first values follow rtl_tcp; the last two are Fobos
// specific.
const (
	CmdFrequency      = 0x01
	CmdSampleRate     = 0x02
	CmdLNAGain        = 0x04
	CmdVGAGain        = 0x06
	CmdDirectSampling = 0x09
	CmdClockSource    = 0x80
	CmdGPO            = 0x81
)

// WriteCommand sends cmd to w.
func WriteCommand(w io.Writer, cmd Command) error {
	return binary.Write(w, binary.BigEndian, cmd)
}

// encodeCF32 packs samples as little-endian float32 pairs.
func encodeCF32(samples []complex64) []byte {
	out := make([]byte, len(samples)*8)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*8:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(out[i*8+4:], math.Float32bits(imag(s)))
	}
	return out
}

// DecodeCF32 is the inverse of the wire encoding; a trailing partial sample
// is ignored.
func DecodeCF32(b []byte) []complex64 {
	out := make([]complex64, len(b)/8)
	for i := range out {
		re := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8+4:]))
		out[i] = complex(re, im)
	}
	return out
}
