package iqserver

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/receiver"
	"github.com/rjboer/fobosrx/internal/stream"
)

// Controller is what remote commands act on.
type Controller interface {
	State() receiver.State
	SetFrequency(hz float64) receiver.Result
	SetSampleRate(hz float64) receiver.Result
	SetMode(m receiver.Mode) receiver.Result
	SetLNAGain(gain int) receiver.Result
	SetVGAGain(gain int) receiver.Result
	SetClockSource(c receiver.ClockSource) receiver.Result
	SetGPO(mask uint8) receiver.Result
}

// Options configures a Server.
type Options struct {
	Stream *stream.Stream
	// Controller handles client commands; nil ignores them.
	Controller Controller
	Logger     logging.Logger
	// ClientBuffer is how many encoded buffers may queue per client before
	// new ones are dropped for it.
	ClientBuffer int
}

// Server fans the stream out to every connected client.
type Server struct {
	stream *stream.Stream
	ctrl   Controller
	log    logging.Logger
	queue  int

	mu      sync.Mutex
	clients map[*client]struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Stats counts delivered and dropped buffers across all clients.
type Stats struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// New builds a server; call Serve to run it.
func New(opts Options) *Server {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 16
	}
	return &Server{
		stream:  opts.Stream,
		ctrl:    opts.Controller,
		log:     logging.OrDefault(opts.Logger).With(logging.F("subsystem", "iqserver")),
		queue:   opts.ClientBuffer,
		clients: make(map[*client]struct{}),
	}
}

// Stats returns the delivery counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	return Stats{Clients: n, Sent: s.sent.Load(), Dropped: s.dropped.Load()}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return s.Stats().Clients }

// Serve consumes the stream and accepts clients on ln until ctx is done.
// Temporary accept errors are retried with exponential backoff.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := stream.Pump(ctx, s.stream, s.broadcast)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("stream consumer stopped", logging.Err(err))
		}
	}()
	defer func() {
		cancel()
		s.closeClients()
		wg.Wait()
	}()

	s.log.Info("iq server listening", logging.F("addr", ln.Addr().String()))
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				wait := bo.NextBackOff()
				s.log.Warn("accept failed, retrying", logging.Err(err), logging.F("wait", wait.String()))
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return err
		}
		bo.Reset()
		s.addClient(ctx, conn)
	}
}

func (s *Server) sampleRate() uint32 {
	if s.ctrl == nil {
		return 0
	}
	return uint32(s.ctrl.State().SampleRate)
}

// broadcast encodes buf once and queues it for every client. A client whose
// queue is full misses the buffer.
func (s *Server) broadcast(buf []complex64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}
	payload := encodeCF32(buf)
	for c := range s.clients {
		select {
		case c.out <- payload:
			s.sent.Add(1)
		default:
			if s.dropped.Add(1)%100 == 1 {
				s.log.Warn("slow client, dropping buffers", logging.F("remote", c.remote), logging.F("dropped", s.dropped.Load()))
			}
		}
	}
	return nil
}

type client struct {
	conn   net.Conn
	remote string
	out    chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { c.conn.Close() })
}

func (s *Server) addClient(ctx context.Context, conn net.Conn) {
	c := &client{conn: conn, remote: conn.RemoteAddr().String(), out: make(chan []byte, s.queue)}
	hdr := Header{Magic: headerMagic, Format: FormatCF32, SampleRate: s.sampleRate()}
	s.log.Info("client connected", logging.F("remote", c.remote))

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(ctx, c, hdr)
	go s.readLoop(c)
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	if ok {
		s.log.Info("client disconnected", logging.F("remote", c.remote))
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client, hdr Header) {
	defer s.removeClient(c)
	if err := binary.Write(c.conn, binary.BigEndian, hdr); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.out:
			if _, err := c.conn.Write(payload); err != nil {
				s.log.Debug("client write failed", logging.F("remote", c.remote), logging.Err(err))
				return
			}
		}
	}
}

func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)
	for {
		var cmd Command
		if err := binary.Read(c.conn, binary.BigEndian, &cmd); err != nil {
			return
		}
		s.handleCommand(c, cmd)
	}
}

func (s *Server) handleCommand(c *client, cmd Command) {
	if s.ctrl == nil {
		s.log.Debug("command ignored, no controller", logging.F("op", cmd.Op))
		return
	}
	var res receiver.Result
	switch cmd.Op {
	case CmdFrequency:
		res = s.ctrl.SetFrequency(float64(cmd.Param))
	case CmdSampleRate:
		res = s.ctrl.SetSampleRate(float64(cmd.Param))
	case CmdLNAGain:
		res = s.ctrl.SetLNAGain(int(cmd.Param))
	case CmdVGAGain:
		res = s.ctrl.SetVGAGain(int(cmd.Param))
	case CmdDirectSampling:
		res = s.ctrl.SetMode(receiver.Mode(cmd.Param))
	case CmdClockSource:
		res = s.ctrl.SetClockSource(receiver.ClockSource(cmd.Param))
	case CmdGPO:
		res = s.ctrl.SetGPO(uint8(cmd.Param))
	default:
		s.log.Debug("unknown command", logging.F("remote", c.remote), logging.F("op", cmd.Op))
		return
	}
	if !res.OK() {
		s.log.Warn("remote command not applied",
			logging.F("remote", c.remote), logging.F("setting", res.Setting), logging.Err(res.Err))
		return
	}
	s.log.Info("remote command", logging.F("remote", c.remote), logging.F("setting", res.Setting), logging.F("value", res.Applied))
}
