package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/receiver"
)

// Controller is the part of a receiver the HTTP surface drives.
type Controller interface {
	Status() receiver.Status
	Refresh() []string
	SelectBySerial(serial string) error
	Start() error
	Stop()
	SetFrequency(hz float64) receiver.Result
	SetSampleRate(hz float64) receiver.Result
	SetMode(m receiver.Mode) receiver.Result
	SetLNAGain(gain int) receiver.Result
	SetVGAGain(gain int) receiver.Result
	SetClockSource(c receiver.ClockSource) receiver.Result
	SetGPO(mask uint8) receiver.Result
}

// DisplayState is the tuning view the hub keeps on behalf of the receiver.
type DisplayState struct {
	CenterFrequency float64   `json:"centerFrequency"`
	Frequency       float64   `json:"frequency"`
	InputSampleRate float64   `json:"inputSampleRate"`
	Updated         time.Time `json:"updated"`
}

// Event is one live update pushed to subscribers.
type Event struct {
	Timestamp time.Time        `json:"timestamp"`
	Kind      string           `json:"kind"`
	Display   *DisplayState    `json:"display,omitempty"`
	Status    *receiver.Status `json:"status,omitempty"`
	Results   []ResultView     `json:"results,omitempty"`
}

// ResultView is the wire form of receiver.Result.
type ResultView struct {
	Setting   string `json:"setting"`
	Requested any    `json:"requested"`
	Applied   any    `json:"applied"`
	Hardware  bool   `json:"hardware"`
	Code      int    `json:"code"`
	Error     string `json:"error,omitempty"`
}

func viewOf(r receiver.Result) ResultView {
	v := ResultView{
		Setting:   r.Setting,
		Requested: r.Requested,
		Applied:   r.Applied,
		Hardware:  r.Hardware,
		Code:      r.Code,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// Hub implements receiver.Display, fans out live events and serves the
// control API.
type Hub struct {
	mu          sync.RWMutex
	display     DisplayState
	subscribers map[chan Event]struct{}
	ctrl        Controller
	logger      logging.Logger
}

var _ receiver.Display = (*Hub)(nil)

// NewHub builds a hub with no controller attached.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		logger:      logging.OrDefault(logger).With(logging.F("subsystem", "telemetry")),
	}
}

// Attach sets the receiver the control endpoints act on.
func (h *Hub) Attach(c Controller) {
	h.mu.Lock()
	h.ctrl = c
	h.mu.Unlock()
}

func (h *Hub) controller() Controller {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctrl
}

// SetCenterFrequency implements receiver.Display.
func (h *Hub) SetCenterFrequency(hz float64) {
	h.updateDisplay(func(d *DisplayState) { d.CenterFrequency = hz })
}

// Frequency implements receiver.Display.
func (h *Hub) Frequency() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.display.Frequency
}

// SetFrequency implements receiver.Display.
func (h *Hub) SetFrequency(hz float64) {
	h.updateDisplay(func(d *DisplayState) { d.Frequency = hz })
}

// SetInputSampleRate implements receiver.Display.
func (h *Hub) SetInputSampleRate(hz float64) {
	h.updateDisplay(func(d *DisplayState) { d.InputSampleRate = hz })
}

func (h *Hub) updateDisplay(fn func(*DisplayState)) {
	h.mu.Lock()
	fn(&h.display)
	h.display.Updated = time.Now()
	snap := h.display
	h.mu.Unlock()
	h.Publish(Event{Kind: "display", Display: &snap})
}

// DisplaySnapshot returns the current tuning view.
func (h *Hub) DisplaySnapshot() DisplayState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.display
}

// Publish delivers ev to every subscriber without blocking; slow
// subscribers miss events.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.RUnlock()
}

// PublishStatus pushes a status event for the attached controller.
func (h *Hub) PublishStatus() {
	c := h.controller()
	if c == nil {
		return
	}
	st := c.Status()
	h.Publish(Event{Kind: "status", Status: &st})
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SettingsRequest is a partial update; nil fields are left alone.
type SettingsRequest struct {
	Frequency  *float64 `json:"frequency,omitempty"`
	SampleRate *float64 `json:"sampleRate,omitempty"`
	Mode       *string  `json:"mode,omitempty"`
	LNAGain    *int     `json:"lnaGain,omitempty"`
	VGAGain    *int     `json:"vgaGain,omitempty"`
	Clock      *string  `json:"clock,omitempty"`
	GPO        *uint8   `json:"gpo,omitempty"`
}

var errEmptyRequest = errors.New("no settings in request")

// apply runs the request against c. Mode is applied first so a frequency in
// the same request is judged against the new mode.
func (req SettingsRequest) apply(c Controller) ([]ResultView, error) {
	var (
		mode  receiver.Mode
		clock receiver.ClockSource
		err   error
	)
	if req.Mode != nil {
		if mode, err = receiver.ParseMode(*req.Mode); err != nil {
			return nil, err
		}
	}
	if req.Clock != nil {
		if clock, err = receiver.ParseClockSource(*req.Clock); err != nil {
			return nil, err
		}
	}

	var out []ResultView
	if req.Mode != nil {
		out = append(out, viewOf(c.SetMode(mode)))
	}
	if req.SampleRate != nil {
		out = append(out, viewOf(c.SetSampleRate(*req.SampleRate)))
	}
	if req.Frequency != nil {
		out = append(out, viewOf(c.SetFrequency(*req.Frequency)))
	}
	if req.LNAGain != nil {
		out = append(out, viewOf(c.SetLNAGain(*req.LNAGain)))
	}
	if req.VGAGain != nil {
		out = append(out, viewOf(c.SetVGAGain(*req.VGAGain)))
	}
	if req.Clock != nil {
		out = append(out, viewOf(c.SetClockSource(clock)))
	}
	if req.GPO != nil {
		out = append(out, viewOf(c.SetGPO(*req.GPO)))
	}
	if len(out) == 0 {
		return nil, errEmptyRequest
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) requireController(w http.ResponseWriter) (Controller, bool) {
	c := h.controller()
	if c == nil {
		http.Error(w, "receiver not attached", http.StatusServiceUnavailable)
		return nil, false
	}
	return c, true
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.requireController(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		receiver.Status
		Display DisplayState `json:"display"`
	}{c.Status(), h.DisplaySnapshot()})
}

func (h *Hub) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.requireController(w)
	if !ok {
		return
	}

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid settings payload: %v", err), http.StatusBadRequest)
		return
	}
	results, err := req.apply(c)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, res := range results {
		if res.Error != "" {
			h.logger.Warn("setting not fully applied", logging.F("setting", res.Setting), logging.F("error", res.Error))
		}
	}

	h.Publish(Event{Kind: "settings", Results: results})
	writeJSON(w, http.StatusOK, results)
}

func (h *Hub) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.requireController(w)
	if !ok {
		return
	}
	if err := c.Start(); err != nil {
		h.logger.Error("start failed", logging.Err(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.PublishStatus()
	writeJSON(w, http.StatusOK, c.Status())
}

func (h *Hub) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.requireController(w)
	if !ok {
		return
	}
	c.Stop()
	h.PublishStatus()
	writeJSON(w, http.StatusOK, c.Status())
}

// handleDevices lists serials on GET (re-enumerating) and selects one on
// POST {"serial": "..."}.
func (h *Hub) handleDevices(w http.ResponseWriter, r *http.Request) {
	c, ok := h.requireController(w)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		serials := c.Refresh()
		if serials == nil {
			serials = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"serials": serials, "selected": c.Status().Serial})
	case http.MethodPost:
		var body struct {
			Serial string `json:"serial"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("invalid select payload: %v", err), http.StatusBadRequest)
			return
		}
		if err := c.SelectBySerial(body.Serial); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, receiver.ErrRunning) {
				status = http.StatusConflict
			} else if errors.Is(err, receiver.ErrNoDevices) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		h.PublishStatus()
		writeJSON(w, http.StatusOK, c.Status())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	payload, _ := json.Marshal(ev)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// current display for immediate rendering
	snap := h.DisplaySnapshot()
	writeSSE(w, Event{Timestamp: time.Now(), Kind: "display", Display: &snap})
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
