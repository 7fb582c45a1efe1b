package voice

import (
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"insight/encoder"
)

const (
	classifierMode    = 3
	frameMs           = 20
	frameBytes        = encoder.SampleRate * frameMs / 1000 * 2 // 640 bytes
	classifierBounce  = 3    // consecutive speech frames to confirm voice
	speechTickRatio   = 0.10 // share of speech frames for a tick to count as voiced
)

// FrameClassifier wraps the WebRTC voice classifier. It complements the
// energy detector: the energy detector decides utterance boundaries, the
// classifier decides whether captured audio contained a human voice at all.
type FrameClassifier struct {
	vad *webrtcvad.VAD

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	lastVoiceTime time.Time
	speechRun     int
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

func NewFrameClassifier() (*FrameClassifier, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(classifierMode); err != nil {
		return nil, err
	}
	return &FrameClassifier{vad: v}, nil
}

// Process consumes raw PCM, classifying complete 20ms frames.
func (c *FrameClassifier) Process(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, data...)
	for len(c.buf) >= frameBytes {
		frame := c.buf[:frameBytes]
		c.buf = c.buf[frameBytes:]

		active, err := c.vad.Process(encoder.SampleRate, frame)
		if err != nil {
			continue
		}
		c.totalFrames++
		if active {
			c.speechFrames++
			c.speechRun++
			if c.voiceDetected {
				c.lastVoiceTime = time.Now()
			} else if c.speechRun >= classifierBounce {
				c.voiceDetected = true
				c.lastVoiceTime = time.Now()
			}
		} else {
			c.speechRun = 0
		}
	}
}

func (c *FrameClassifier) VoiceDetected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceDetected
}

func (c *FrameClassifier) LastVoiceTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastVoiceTime
}

// HasSpeechTick reports whether enough frames since the previous call were
// classified as speech.
func (c *FrameClassifier) HasSpeechTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.totalFrames - c.tickTotal
	s := c.speechFrames - c.tickSpeech
	c.tickTotal, c.tickSpeech = c.totalFrames, c.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechTickRatio
}

func (c *FrameClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
	c.voiceDetected = false
	c.lastVoiceTime = time.Time{}
	c.speechRun = 0
}
