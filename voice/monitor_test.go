package voice

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmOf(sample int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	m := NewLevelMonitor()
	l := m.Sample(pcmOf(0, 1024))
	if l.Raw != 0 || l.Smoothed != 0 {
		t.Fatalf("silence produced level %+v", l)
	}
}

func TestRMSOfConstantSignal(t *testing.T) {
	m := NewLevelMonitor()
	l := m.Sample(pcmOf(16384, 1024))
	want := 16384.0 / 32768.0
	if math.Abs(l.Raw-want) > 1e-9 {
		t.Fatalf("raw RMS = %f, want %f", l.Raw, want)
	}
	// first sample primes the envelopes
	if l.Smoothed != l.Raw || l.Orb != l.Raw {
		t.Fatalf("first sample should prime envelopes: %+v", l)
	}
}

func TestSmoothingLagsBehindRaw(t *testing.T) {
	m := NewLevelMonitor()
	m.Sample(pcmOf(0, 1024))
	l := m.Sample(pcmOf(16384, 1024))
	if l.Smoothed >= l.Raw {
		t.Fatalf("smoothed %f should lag raw %f on a rising edge", l.Smoothed, l.Raw)
	}
	if l.Orb <= l.Smoothed {
		t.Fatalf("orb envelope %f should react faster than detector envelope %f", l.Orb, l.Smoothed)
	}
}

func TestSmoothedConvergesToRaw(t *testing.T) {
	m := NewLevelMonitor()
	m.Sample(pcmOf(0, 1024))
	var l Level
	for i := 0; i < 200; i++ {
		l = m.Sample(pcmOf(16384, 1024))
	}
	if math.Abs(l.Smoothed-l.Raw) > 0.001 {
		t.Fatalf("smoothed %f did not converge to raw %f", l.Smoothed, l.Raw)
	}
}

func TestEmptyChunk(t *testing.T) {
	m := NewLevelMonitor()
	l := m.Sample(nil)
	if l.Raw != 0 {
		t.Fatalf("empty chunk produced raw %f", l.Raw)
	}
}

func TestResetClearsEnvelopes(t *testing.T) {
	m := NewLevelMonitor()
	m.Sample(pcmOf(16384, 1024))
	m.Reset()
	l := m.Sample(pcmOf(0, 1024))
	if l.Smoothed != 0 {
		t.Fatalf("reset did not clear envelope: %+v", l)
	}
}
