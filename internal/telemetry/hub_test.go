package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/receiver"
	"github.com/rjboer/fobosrx/internal/sdr"
)

type statusBody struct {
	Serial  string       `json:"serial"`
	Running bool         `json:"running"`
	Phase   string       `json:"phase"`
	Display DisplayState `json:"display"`
}

func newTestHub(t *testing.T) (*Hub, *receiver.Receiver, *sdr.Mock) {
	t.Helper()
	hub := NewHub(logging.NewRecorder())
	mock := sdr.NewMock()
	rx, err := receiver.New(receiver.Options{
		Driver:       mock,
		Display:      hub,
		Logger:       logging.NewRecorder(),
		BufferLength: 64,
	})
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	if err := rx.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	hub.Attach(rx)
	t.Cleanup(func() { rx.Close() })
	return hub, rx, mock
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestHandleStatus(t *testing.T) {
	hub, _, mock := newTestHub(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()

	hub.handleStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp statusBody
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Serial != mock.Serials[0] || resp.Running || resp.Phase != "idle" {
		t.Fatalf("unexpected status %+v", resp)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	hub, _, _ := newTestHub(t)
	rr := postJSON(t, hub.handleStatus, "/api/status", "{}")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleStatusWithoutReceiver(t *testing.T) {
	hub := NewHub(logging.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	hub.handleStatus(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleSettingsAppliesAndReportsResults(t *testing.T) {
	hub, rx, _ := newTestHub(t)
	rr := postJSON(t, hub.handleSettings, "/api/settings", `{"frequency": 433920000, "lnaGain": 5, "gpo": 3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var results []ResultView
	if err := json.NewDecoder(rr.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %+v", results)
	}
	if results[0].Setting != "frequency" || results[0].Applied != 433.9e6 || results[0].Error != "" {
		t.Fatalf("frequency result %+v", results[0])
	}
	if results[1].Setting != "lna_gain" || results[1].Applied != float64(receiver.MaxLNAGain) {
		t.Fatalf("lna result %+v", results[1])
	}
	if !results[2].Hardware {
		t.Fatalf("gpo should be applied through a transient open")
	}

	st := rx.State()
	if st.CenterFrequency != 433.9e6 || st.LNAGain != receiver.MaxLNAGain || st.GPO != 3 {
		t.Fatalf("unexpected state %+v", st)
	}
	if hub.DisplaySnapshot().CenterFrequency != 433.9e6 {
		t.Fatalf("display not updated")
	}
}

func TestHandleSettingsPinnedFrequency(t *testing.T) {
	hub, rx, _ := newTestHub(t)
	rr := postJSON(t, hub.handleSettings, "/api/settings", `{"mode": "hf-a", "frequency": 145000000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var results []ResultView
	if err := json.NewDecoder(rr.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 || results[0].Setting != "sampling_mode" || results[1].Error == "" {
		t.Fatalf("unexpected results %+v", results)
	}
	if rx.State().CenterFrequency != 100e6 {
		t.Fatalf("pinned frequency changed")
	}
	if hub.DisplaySnapshot().CenterFrequency != 0.5*rx.State().SampleRate {
		t.Fatalf("display not pinned")
	}
}

func TestHandleSettingsRejectsBadPayloads(t *testing.T) {
	hub, _, _ := newTestHub(t)
	for _, body := range []string{`{`, `{}`, `{"mode": "vhf"}`, `{"clock": "gps"}`} {
		rr := postJSON(t, hub.handleSettings, "/api/settings", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestHandleStartStop(t *testing.T) {
	hub, rx, mock := newTestHub(t)
	rr := postJSON(t, hub.handleStart, "/api/start", "")
	if rr.Code != http.StatusOK || !rx.Running() {
		t.Fatalf("start: %d running=%v", rr.Code, rx.Running())
	}
	rr = postJSON(t, hub.handleStop, "/api/stop", "")
	if rr.Code != http.StatusOK || rx.Running() {
		t.Fatalf("stop: %d running=%v", rr.Code, rx.Running())
	}
	if !mock.LastDevice().Closed() {
		t.Fatalf("device left open")
	}

	mock.OpenCode = sdr.CodeLibUSB
	rr = postJSON(t, hub.handleStart, "/api/start", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on open failure, got %d", rr.Code)
	}
}

func TestHandleDevices(t *testing.T) {
	hub, rx, mock := newTestHub(t)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rr := httptest.NewRecorder()
	hub.handleDevices(rr, req)
	var list struct {
		Serials  []string `json:"serials"`
		Selected string   `json:"selected"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Serials) != 2 || list.Selected != mock.Serials[0] {
		t.Fatalf("unexpected list %+v", list)
	}

	rr = postJSON(t, hub.handleDevices, "/api/devices", `{"serial": "`+mock.Serials[1]+`"}`)
	if rr.Code != http.StatusOK || rx.Serial() != mock.Serials[1] {
		t.Fatalf("select: %d serial %q", rr.Code, rx.Serial())
	}

	rx.Start()
	rr = postJSON(t, hub.handleDevices, "/api/devices", `{"serial": ""}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rr.Code)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	}
}

func TestLiveStreamsDisplayUpdates(t *testing.T) {
	hub, rx, _ := newTestHub(t)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/live", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	br := bufio.NewReader(resp.Body)
	if ev := readEvent(t, br); ev.Kind != "display" {
		t.Fatalf("expected initial display event, got %q", ev.Kind)
	}

	rx.SetFrequency(145e6)
	ev := readEvent(t, br)
	if ev.Kind != "display" || ev.Display == nil || ev.Display.CenterFrequency != 145e6 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestWebsocketSendsStatus(t *testing.T) {
	hub, _, mock := newTestHub(t)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	ws, err := websocket.Dial(url, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetDeadline(time.Now().Add(5 * time.Second))

	var ev Event
	if err := websocket.JSON.Receive(ws, &ev); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if ev.Kind != "status" || ev.Status == nil || ev.Status.Serial != mock.Serials[0] {
		t.Fatalf("unexpected event %+v", ev)
	}

	hub.SetInputSampleRate(10e6)
	if err := websocket.JSON.Receive(ws, &ev); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if ev.Kind != "display" || ev.Display.InputSampleRate != 10e6 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestIndexListsEndpoints(t *testing.T) {
	hub := NewHub(logging.NewRecorder())
	h := hub.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/api/status") {
		t.Fatalf("index: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStdoutReporterLogsEvents(t *testing.T) {
	rec := logging.NewRecorder()
	r := NewStdoutReporter(rec)
	r.Report(Event{Status: &receiver.Status{Serial: "abc", Phase: "running"}})
	r.Report(Event{Results: []ResultView{{Setting: "lna_gain", Applied: 3}, {Setting: "frequency", Error: "pinned"}}})

	if rec.Count(logging.Info) != 2 || rec.Count(logging.Warn) != 1 {
		t.Fatalf("unexpected entries %+v", rec.Entries())
	}
	if v, _ := rec.Entries()[0].Value("serial"); v != "abc" {
		t.Fatalf("expected serial field, got %v", v)
	}
}

func TestStdoutReporterRunPublishesStatus(t *testing.T) {
	hub, _, _ := newTestHub(t)
	rec := logging.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewStdoutReporter(rec).Run(ctx, hub, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rec.Count(logging.Info) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no status logged")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
