package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, "": Info, "INFO": Info, "warning": Warn, " error ": Error}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestTextLoggerFiltersAndRendersFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Warn, Text, &buf).With(F("subsystem", "receiver"))

	log.Info("dropped")
	log.Warn("kept", F("code", -4), Err(nil))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] kept subsystem=receiver code=-4") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestTextLoggerQuotesAmbiguousValues(t *testing.T) {
	var buf bytes.Buffer
	New(Debug, Text, &buf).Info("opened", F("product", "Fobos SDR"), F("serial", "2ba0"), F("note", ""))

	out := buf.String()
	if !strings.Contains(out, `product="Fobos SDR" serial=2ba0 note=""`) {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestJSONLoggerIncludesError(t *testing.T) {
	var buf bytes.Buffer
	New(Debug, JSON, &buf).Error("open failed", Err(errors.New("no device")))

	line := buf.String()
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no json payload in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["level"] != "ERROR" || payload["error"] != "no device" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRecorderSharesEntriesAcrossWith(t *testing.T) {
	rec := NewRecorder()
	child := rec.With(F("serial", "abc"))
	child.Error("boom", F("code", 3))
	rec.Info("hello")

	if rec.Count(Error) != 1 || rec.Count(Info) != 1 {
		t.Fatalf("unexpected counts: %v", rec.Entries())
	}
	entry := rec.Entries()[0]
	if v, ok := entry.Value("serial"); !ok || v != "abc" {
		t.Fatalf("expected inherited field, got %v", entry.Fields)
	}
}

func TestSetDefaultReplacesProcessLogger(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	rec := NewRecorder()
	SetDefault(rec)
	SetDefault(nil)
	OrDefault(nil).Warn("via default")

	if rec.Count(Warn) != 1 {
		t.Fatalf("default logger not replaced: %v", rec.Entries())
	}
}
