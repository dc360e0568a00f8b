package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/rjboer/fobosrx/internal/logging"
)

// WebServer exposes receiver status, control and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server for the hub's endpoints.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	return &WebServer{
		hub:    hub,
		logger: logging.OrDefault(logger).With(logging.F("subsystem", "web")),
		srv: &http.Server{
			Addr:              addr,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the routing table.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/start", h.handleStart)
	mux.HandleFunc("/api/stop", h.handleStop)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/live", h.handleLive)
	mux.Handle("/api/ws", websocket.Handler(h.serveWS))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"endpoints": {
			"GET /api/status", "POST /api/settings", "POST /api/start", "POST /api/stop",
			"GET|POST /api/devices", "GET /api/live", "GET /api/ws",
		}})
	})
	return mux
}

// serveWS streams hub events as JSON messages until the peer goes away.
func (h *Hub) serveWS(ws *websocket.Conn) {
	defer ws.Close()
	ch, cancel := h.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard string
		for {
			if err := websocket.Message.Receive(ws, &discard); err != nil {
				return
			}
		}
	}()

	if c := h.controller(); c != nil {
		st := c.Status()
		if err := websocket.JSON.Send(ws, Event{Timestamp: time.Now(), Kind: "status", Status: &st}); err != nil {
			return
		}
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, ev); err != nil {
				h.logger.Debug("websocket send failed", logging.Err(err))
				return
			}
		case <-gone:
			return
		}
	}
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is canceled.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web shutdown", logging.Err(err))
		}
	}()

	w.logger.Info("web server listening", logging.F("addr", ln.Addr().String()))
	if err := w.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		w.logger.Error("web server error", logging.Err(err))
		return err
	}
	return nil
}
