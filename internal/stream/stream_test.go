package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"hz.tools/sdr"
)

func publish(t *testing.T, s *Stream, values ...complex64) {
	t.Helper()
	n := copy(s.WriteBuf(), values)
	if !s.Swap(n) {
		t.Fatalf("swap failed")
	}
}

func TestSwapReadFlush(t *testing.T) {
	s := New(8)
	publish(t, s, 1, 2, 3)

	n := s.Read()
	if n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
	got := s.ReadBuf()[:n]
	if got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected data %v", got)
	}
	s.Flush()
}

func TestSwapBlocksUntilFlush(t *testing.T) {
	s := New(4)
	publish(t, s, 1)

	swapped := make(chan bool, 1)
	go func() {
		copy(s.WriteBuf(), []complex64{2})
		swapped <- s.Swap(1)
	}()

	select {
	case <-swapped:
		t.Fatalf("second swap must wait for the consumer")
	case <-time.After(20 * time.Millisecond):
	}

	if s.Read() != 1 {
		t.Fatalf("expected first buffer")
	}
	s.Flush()

	select {
	case ok := <-swapped:
		if !ok {
			t.Fatalf("swap reported failure")
		}
	case <-time.After(time.Second):
		t.Fatalf("swap never unblocked")
	}
	if s.Read() != 1 || s.ReadBuf()[0] != 2 {
		t.Fatalf("expected second buffer")
	}
}

func TestStopReaderFailsSwap(t *testing.T) {
	s := New(4)
	publish(t, s, 1)

	result := make(chan bool, 1)
	go func() { result <- s.Swap(1) }()
	time.Sleep(10 * time.Millisecond)
	s.StopReader()

	select {
	case ok := <-result:
		if ok {
			t.Fatalf("swap should fail after the reader stopped")
		}
	case <-time.After(time.Second):
		t.Fatalf("swap did not return")
	}

	s.ClearReadStop()
	s.Read()
	s.Flush()
	if !s.Swap(0) {
		t.Fatalf("swap should succeed after ClearReadStop")
	}
}

func TestStopWriterEndsRead(t *testing.T) {
	s := New(4)
	s.StopWriter()
	if n := s.Read(); n != -1 {
		t.Fatalf("expected -1 after StopWriter, got %d", n)
	}
	s.ClearWriteStop()
	publish(t, s, 5)
	if n := s.Read(); n != 1 {
		t.Fatalf("expected data after ClearWriteStop, got %d", n)
	}
}

func TestSwapClampsToCapacity(t *testing.T) {
	s := New(2)
	if !s.Swap(10) {
		t.Fatalf("swap failed")
	}
	if n := s.Read(); n != 2 {
		t.Fatalf("expected clamp to 2, got %d", n)
	}
}

func TestPumpStopsOnContextCancel(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan int, 8)
	done := make(chan error, 1)
	go func() {
		done <- Pump(ctx, s, func(buf []complex64) error {
			got <- len(buf)
			return nil
		})
	}()

	publish(t, s, 1, 2)
	select {
	case n := <-got:
		if n != 2 {
			t.Fatalf("expected 2 samples, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("pump never delivered")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pump did not stop")
	}

	// A later consumer can attach again.
	publish(t, s, 3)
	if n := s.Read(); n != 1 {
		t.Fatalf("stream not reusable after pump, read %d", n)
	}
}

func TestPumpPropagatesHandlerError(t *testing.T) {
	s := New(4)
	boom := errors.New("boom")
	publish(t, s, 1)
	err := Pump(context.Background(), s, func([]complex64) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if !s.Swap(0) {
		t.Fatalf("buffer should have been flushed")
	}
}

func TestReaderSplitsBuffers(t *testing.T) {
	s := New(8)
	r := NewReader(s, 25_000_000)
	if r.SampleFormat() != sdr.SampleFormatC64 || r.SampleRate() != 25_000_000 {
		t.Fatalf("unexpected reader metadata")
	}

	publish(t, s, 1, 2, 3, 4, 5)
	buf := make(sdr.SamplesC64, 3)
	n, err := r.Read(buf)
	if err != nil || n != 3 || buf[2] != 3 {
		t.Fatalf("first read: n=%d err=%v buf=%v", n, err, buf)
	}
	n, err = r.Read(buf)
	if err != nil || n != 2 || buf[1] != 5 {
		t.Fatalf("second read: n=%d err=%v buf=%v", n, err, buf)
	}

	// Drained buffer was flushed so the producer can publish again.
	publish(t, s, 6)
	n, err = r.Read(buf)
	if err != nil || n != 1 || buf[0] != 6 {
		t.Fatalf("third read: n=%d err=%v", n, err)
	}

	s.StopWriter()
	if _, err := r.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderRejectsOtherFormats(t *testing.T) {
	r := NewReader(New(4), 1)
	if _, err := r.Read(make(sdr.SamplesU8, 4)); err != sdr.ErrSampleFormatMismatch {
		t.Fatalf("expected format mismatch, got %v", err)
	}
}
