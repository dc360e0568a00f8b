package dsp

import (
	"math"
	"testing"
)

func group() []complex64 {
	return []complex64{complex(1, 2), complex(3, 4), complex(5, 6), complex(7, 8)}
}

func assertSamples(t *testing.T, got, want []complex64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if math.Float32bits(real(got[i])) != math.Float32bits(real(want[i])) ||
			math.Float32bits(imag(got[i])) != math.Float32bits(imag(want[i])) {
			t.Fatalf("sample %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestCorrectChannelA(t *testing.T) {
	buf := group()
	Correct(ModeHFChannelA, buf)
	assertSamples(t, buf, []complex64{complex(1, 0), complex(-3, 0), complex(5, 0), complex(-7, 0)})
}

func TestCorrectChannelB(t *testing.T) {
	buf := group()
	Correct(ModeHFChannelB, buf)
	assertSamples(t, buf, []complex64{complex(2, 0), complex(-4, 0), complex(6, 0), complex(-8, 0)})
}

func TestCorrectLeavesRFAndCombinedUntouched(t *testing.T) {
	nan := float32(math.NaN())
	for _, mode := range []Mode{ModeRF, ModeHFCombined} {
		buf := []complex64{complex(1, -1), complex(nan, 0), complex(-0.0, 3.5), complex(2, 2), complex(9, 9)}
		want := append([]complex64(nil), buf...)
		Correct(mode, buf)
		for i := range want {
			if math.Float32bits(real(buf[i])) != math.Float32bits(real(want[i])) ||
				math.Float32bits(imag(buf[i])) != math.Float32bits(imag(want[i])) {
				t.Fatalf("mode %d sample %d changed: %v -> %v", mode, i, want[i], buf[i])
			}
		}
	}
}

func TestCorrectSkipsTrailingPartialGroup(t *testing.T) {
	buf := append(group(), complex(9, 10), complex(11, 12))
	Correct(ModeHFChannelA, buf)
	assertSamples(t, buf, []complex64{
		complex(1, 0), complex(-3, 0), complex(5, 0), complex(-7, 0),
		complex(9, 10), complex(11, 12),
	})
}

func TestCorrectMultipleGroupsRestartPositions(t *testing.T) {
	buf := append(group(), group()...)
	Correct(ModeHFChannelB, buf)
	want := []complex64{complex(2, 0), complex(-4, 0), complex(6, 0), complex(-8, 0)}
	assertSamples(t, buf, append(want, want...))
}

func TestCorrectDoesNotAllocate(t *testing.T) {
	buf := make([]complex64, 4096)
	allocs := testing.AllocsPerRun(100, func() {
		Correct(ModeHFChannelA, buf)
		Correct(ModeHFChannelB, buf)
	})
	if allocs != 0 {
		t.Fatalf("expected zero allocations, got %v", allocs)
	}
}

func BenchmarkCorrectChannelB(b *testing.B) {
	buf := make([]complex64, 128*1024)
	b.SetBytes(int64(len(buf) * 8))
	for i := 0; i < b.N; i++ {
		Correct(ModeHFChannelB, buf)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeRF, ModeHFCombined, ModeHFChannelA, ModeHFChannelB} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Fatalf("round trip of %v failed: %v %v", m, got, err)
		}
	}
	if got, err := ParseMode("3"); err != nil || got != ModeHFChannelB {
		t.Fatalf("numeric mode failed: %v %v", got, err)
	}
	if _, err := ParseMode("7"); err == nil {
		t.Fatalf("expected error for out of range mode")
	}
	if Mode(9).Valid() || Mode(9).String() != "mode(9)" {
		t.Fatalf("unexpected handling of invalid mode")
	}
}
