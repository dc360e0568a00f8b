package stream

import (
	"io"

	"hz.tools/sdr"
)

// Reader adapts a Stream to hz.tools/sdr so the acquisition output can feed
// any sdr.Reader pipeline. Published buffers are consumed across as many
// Read calls as needed and flushed once drained.
type Reader struct {
	s       *Stream
	rate    uint
	pending []complex64
	holding bool
}

var _ sdr.Reader = (*Reader)(nil)

// NewReader wraps s. sampleRate is reported as-is by SampleRate.
func NewReader(s *Stream, sampleRate uint) *Reader {
	return &Reader{s: s, rate: sampleRate}
}

// SampleFormat implements sdr.Reader.
func (r *Reader) SampleFormat() sdr.SampleFormat { return sdr.SampleFormatC64 }

// SampleRate implements sdr.Reader.
func (r *Reader) SampleRate() uint { return r.rate }

// Read implements sdr.Reader. It returns io.EOF once the writer side of the
// stream is stopped.
func (r *Reader) Read(samples sdr.Samples) (int, error) {
	buf, ok := samples.(sdr.SamplesC64)
	if !ok {
		return 0, sdr.ErrSampleFormatMismatch
	}

	if !r.holding {
		n := r.s.Read()
		if n < 0 {
			return 0, io.EOF
		}
		r.pending = r.s.ReadBuf()[:n]
		r.holding = true
	}

	n := copy(buf, r.pending)
	r.pending = r.pending[n:]
	if len(r.pending) == 0 {
		r.release()
	}
	return n, nil
}

// Close hands back a partially consumed buffer.
func (r *Reader) Close() error {
	if r.holding {
		r.release()
	}
	return nil
}

func (r *Reader) release() {
	r.pending = nil
	r.holding = false
	r.s.Flush()
}
