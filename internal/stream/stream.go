// Package stream implements the two-buffer handoff between the acquisition
// goroutine and a single sample consumer.
//
// The producer fills WriteBuf and calls Swap. Swap blocks until the consumer
// has called Flush on the previously published buffer, so a slow consumer
// stalls the producer. The consumer calls Read, processes ReadBuf()[:n] and
// then Flush.
package stream

import "sync"

// Stream is a double-buffered complex sample handoff.
type Stream struct {
	mu       sync.Mutex
	swapCond *sync.Cond
	readCond *sync.Cond

	write []complex64
	read  []complex64

	dataSize   int
	canSwap    bool
	dataReady  bool
	readerStop bool
	writerStop bool
}

// New allocates a stream whose buffers hold capacity samples each.
func New(capacity int) *Stream {
	s := &Stream{
		write:   make([]complex64, capacity),
		read:    make([]complex64, capacity),
		canSwap: true,
	}
	s.swapCond = sync.NewCond(&s.mu)
	s.readCond = sync.NewCond(&s.mu)
	return s
}

// Capacity returns the size of each buffer in samples.
func (s *Stream) Capacity() int { return len(s.write) }

// WriteBuf returns the producer's buffer. It is only safe to use from the
// producer between Swap calls.
func (s *Stream) WriteBuf() []complex64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write
}

// Swap publishes the first n samples of the write buffer. It blocks until
// the consumer has flushed the previous buffer and returns false when the
// reader side has been stopped.
func (s *Stream) Swap(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.canSwap && !s.readerStop {
		s.swapCond.Wait()
	}
	if s.readerStop {
		return false
	}
	if n > len(s.write) {
		n = len(s.write)
	}

	s.dataSize = n
	s.write, s.read = s.read, s.write
	s.canSwap = false
	s.dataReady = true
	s.readCond.Broadcast()
	return true
}

// Read blocks until a buffer is published and returns its length, or -1
// once the writer side has been stopped.
func (s *Stream) Read() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.dataReady && !s.writerStop {
		s.readCond.Wait()
	}
	if s.writerStop {
		return -1
	}
	return s.dataSize
}

// ReadBuf returns the consumer's buffer. It is only valid between Read and
// Flush.
func (s *Stream) ReadBuf() []complex64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read
}

// Flush releases the consumer's buffer so the producer may swap again.
func (s *Stream) Flush() {
	s.mu.Lock()
	s.dataReady = false
	s.canSwap = true
	s.swapCond.Broadcast()
	s.mu.Unlock()
}

// StopReader marks the consumer as gone; pending and future Swap calls
// return false.
func (s *Stream) StopReader() {
	s.mu.Lock()
	s.readerStop = true
	s.swapCond.Broadcast()
	s.mu.Unlock()
}

// ClearReadStop re-arms the reader side.
func (s *Stream) ClearReadStop() {
	s.mu.Lock()
	s.readerStop = false
	s.mu.Unlock()
}

// StopWriter marks the producer as gone; pending and future Read calls
// return -1.
func (s *Stream) StopWriter() {
	s.mu.Lock()
	s.writerStop = true
	s.readCond.Broadcast()
	s.mu.Unlock()
}

// ClearWriteStop re-arms the writer side.
func (s *Stream) ClearWriteStop() {
	s.mu.Lock()
	s.writerStop = false
	s.mu.Unlock()
}
