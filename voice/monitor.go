package voice

import (
	"encoding/binary"
	"math"
)

const (
	// smoothingAlpha drives the envelope the detector consumes.
	smoothingAlpha = 0.08
	// orbAlpha is faster so the on-screen indicator tracks the voice visibly.
	orbAlpha = 0.25
)

// Level is one observation of microphone energy.
type Level struct {
	Raw      float64 // instantaneous RMS of the chunk, 0..1
	Smoothed float64 // slow envelope fed to the detector
	Orb      float64 // fast envelope for the visual indicator
}

// LevelMonitor turns raw PCM chunks into normalized RMS levels.
// Not safe for concurrent use; feed it from the capture callback only.
type LevelMonitor struct {
	smoothed float64
	orb      float64
	primed   bool
}

func NewLevelMonitor() *LevelMonitor {
	return &LevelMonitor{}
}

// Sample consumes one chunk of 16-bit little-endian mono PCM.
func (m *LevelMonitor) Sample(pcm []byte) Level {
	raw := rmsLE(pcm)
	if !m.primed {
		m.smoothed = raw
		m.orb = raw
		m.primed = true
	} else {
		m.smoothed += smoothingAlpha * (raw - m.smoothed)
		m.orb += orbAlpha * (raw - m.orb)
	}
	return Level{Raw: raw, Smoothed: m.smoothed, Orb: m.orb}
}

// Reset clears the envelopes, e.g. when the capture device is swapped.
func (m *LevelMonitor) Reset() {
	m.smoothed = 0
	m.orb = 0
	m.primed = false
}

func rmsLE(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
