package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/fobosrx/internal/iqserver"
	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/receiver"
	"github.com/rjboer/fobosrx/internal/sdr"
	"github.com/rjboer/fobosrx/internal/settings"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// runMock runs the CLI against the mock driver with a settings file in a
// temp dir and returns stdout.
func runMock(t *testing.T, cfgPath string, lookup lookupFunc, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--driver", "mock", "--config", cfgPath, "--log-level", "error"}, args...)
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), full, &stdout, &stderr, lookup)
	return stdout.String(), err
}

func TestEnvOverridesFlagDefaults(t *testing.T) {
	root := newRootCmd(mapEnv(map[string]string{
		"FOBOS_DRIVER":    "mock",
		"FOBOS_SERIAL":    "abc",
		"FOBOS_LOG_LEVEL": "debug",
	}))
	fs := root.PersistentFlags()
	for name, want := range map[string]string{"driver": "mock", "serial": "abc", "log-level": "debug", "config": defaultConfigPath} {
		if got := fs.Lookup(name).DefValue; got != want {
			t.Fatalf("%s default: got %q want %q", name, got, want)
		}
	}
}

func TestUnknownDriver(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fobos_config.json")
	var out bytes.Buffer
	err := run(context.Background(), []string{"--driver", "hackrf", "--config", cfgPath, "list"}, &out, &out, noEnv)
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestListMock(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fobos_config.json")
	out, err := runMock(t, cfgPath, noEnv, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, serial := range sdr.NewMock().Serials {
		if !strings.Contains(out, serial) {
			t.Fatalf("serial %s missing from %q", serial, out)
		}
	}
}

func TestListWithoutDevices(t *testing.T) {
	orig := newDriver
	t.Cleanup(func() { newDriver = orig })
	newDriver = func(string) (sdr.Driver, error) {
		m := sdr.NewMock()
		m.Serials = nil
		return m, nil
	}
	out, err := runMock(t, filepath.Join(t.TempDir(), "c.json"), noEnv, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No devices found") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestInfoJSONSelectsFromEnvironment(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fobos_config.json")
	second := sdr.NewMock().Serials[1]
	out, err := runMock(t, cfgPath, mapEnv(map[string]string{"FOBOS_SERIAL": second}), "info", "--json")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	var st receiver.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if st.Serial != second || st.Identity.Product != "Fobos SDR" {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(st.Rates) == 0 || st.Rates[0] != 8e6 {
		t.Fatalf("rates should be ascending: %v", st.Rates)
	}

	store, err := settings.Open(cfgPath, nil)
	if err != nil {
		t.Fatalf("reopen settings: %v", err)
	}
	if store.LastDevice() != second {
		t.Fatalf("selected serial not persisted: %q", store.LastDevice())
	}
}

func TestInfoText(t *testing.T) {
	out, err := runMock(t, filepath.Join(t.TempDir(), "c.json"), noEnv, "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"serial", "RigExpert", "mode           rf", "clock          internal", "gpo            0x00"} {
		if !strings.Contains(out, want) {
			t.Fatalf("%q missing from\n%s", want, out)
		}
	}
}

func TestGPOPersists(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fobos_config.json")
	out, err := runMock(t, cfgPath, noEnv, "gpo", "0x81")
	if err != nil {
		t.Fatalf("gpo: %v", err)
	}
	if !strings.Contains(out, "user_gpo") {
		t.Fatalf("unexpected output %q", out)
	}

	store, err := settings.Open(cfgPath, nil)
	if err != nil {
		t.Fatalf("reopen settings: %v", err)
	}
	d, ok := store.Device(store.LastDevice())
	if !ok || d.UserGPO == nil || *d.UserGPO != 0x81 {
		t.Fatalf("gpo not persisted: %+v", d)
	}
}

func TestGPORejectsBadMask(t *testing.T) {
	if _, err := runMock(t, filepath.Join(t.TempDir(), "c.json"), noEnv, "gpo", "0x100"); err == nil {
		t.Fatalf("expected error for out of range mask")
	}
}

func TestCaptureWritesSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cf32")
	if _, err := runMock(t, filepath.Join(dir, "c.json"), noEnv, "capture", "-n", "1000", "-o", path, "--frequency", "433.92MHz", "--lna", "2"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if len(data) != 8000 {
		t.Fatalf("expected 8000 bytes, got %d", len(data))
	}
	samples := iqserver.DecodeCF32(data)
	if samples[0] != complex(1, -1) || samples[999] != complex(1000, -1000) {
		t.Fatalf("unexpected samples %v %v", samples[0], samples[999])
	}

	store, err := settings.Open(filepath.Join(dir, "c.json"), nil)
	if err != nil {
		t.Fatalf("reopen settings: %v", err)
	}
	d, _ := store.Device(store.LastDevice())
	if d.LNAGain == nil || *d.LNAGain != 2 {
		t.Fatalf("gain not persisted: %+v", d)
	}
}

func TestCaptureRejectsPinnedFrequency(t *testing.T) {
	dir := t.TempDir()
	_, err := runMock(t, filepath.Join(dir, "c.json"), noEnv, "capture", "-o", filepath.Join(dir, "x"), "--mode", "hf", "--frequency", "100MHz")
	if !errors.Is(err, receiver.ErrFrequencyPinned) {
		t.Fatalf("expected pinned frequency error, got %v", err)
	}
}

func TestCaptureRejectsBadFrequency(t *testing.T) {
	dir := t.TempDir()
	if _, err := runMock(t, filepath.Join(dir, "c.json"), noEnv, "capture", "-o", filepath.Join(dir, "x"), "--frequency", "fast"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	args := []string{
		"--driver", "mock", "--config", filepath.Join(dir, "c.json"), "--log-level", "error",
		"serve", "--web-addr", "", "--iq-addr", "127.0.0.1:0", "--mdns=false", "--start", "--status-interval", "0",
	}
	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- run(ctx, args, &stdout, &stderr, noEnv) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
	if !strings.Contains(stdout.String(), "IQ stream: tcp://127.0.0.1:") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestParseMask(t *testing.T) {
	cases := map[string]uint8{"0": 0, "0x81": 0x81, "255": 255, " 0b101 ": 5}
	for in, want := range cases {
		got, err := parseMask(in)
		if err != nil || got != want {
			t.Fatalf("parseMask(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := parseMask("-1"); err == nil {
		t.Fatalf("expected error for negative mask")
	}
}

func TestLoggerBecomesProcessDefault(t *testing.T) {
	prev := logging.Default()
	t.Cleanup(func() { logging.SetDefault(prev) })

	var buf bytes.Buffer
	cfg := cliConfig{logLevel: "warn", logFormat: "text"}
	if _, err := cfg.logger(&buf); err != nil {
		t.Fatalf("logger: %v", err)
	}
	logging.Default().Info("hidden")
	logging.Default().Warn("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "[WARN] shown") {
		t.Fatalf("unexpected log output %q", out)
	}

	cfg.logLevel = "loud"
	if _, err := cfg.logger(&buf); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
