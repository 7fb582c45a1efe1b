// Package speech turns answer text into audible output.
package speech

import (
	"context"
	"sync"
	"sync/atomic"

	"insight/audio"
)

// Synthesizer produces playable audio for a piece of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (sampleRate uint32, samples []int16, err error)
}

// Player speaks one reply at a time. Speak interrupts whatever is playing,
// so at most one playback device is ever alive. Stop is idempotent and
// releases the device immediately rather than waiting for it to drain.
type Player struct {
	audioCtx audio.Context
	synth    Synthesizer
	onDone   func(err error) // called after each non-interrupted playback

	mu       sync.Mutex
	gen      uint64
	current  audio.PlaybackDevice
	speaking atomic.Bool
}

func NewPlayer(audioCtx audio.Context, synth Synthesizer, onDone func(err error)) *Player {
	return &Player{audioCtx: audioCtx, synth: synth, onDone: onDone}
}

// IsSpeaking reports whether a reply is being fetched or played right now.
func (p *Player) IsSpeaking() bool {
	return p.speaking.Load()
}

// Speak starts speaking text asynchronously. The speaking flag is raised
// before Speak returns so callers can switch detector tuning immediately.
func (p *Player) Speak(text string) {
	p.mu.Lock()
	p.stopLocked()
	p.gen++
	gen := p.gen
	p.speaking.Store(true)
	p.mu.Unlock()

	go p.run(gen, text)
}

// Stop silences the player. Safe to call at any time, from any goroutine,
// including when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
}

func (p *Player) stopLocked() {
	p.gen++ // invalidates any in-flight synthesis
	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}
	p.speaking.Store(false)
}

func (p *Player) run(gen uint64, text string) {
	sampleRate, samples, err := p.synth.Synthesize(context.Background(), text)
	if err != nil {
		p.finish(gen, err)
		return
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	dev, err := p.audioCtx.NewPlayback()
	if err != nil {
		p.mu.Unlock()
		p.finish(gen, err)
		return
	}
	p.current = dev
	p.mu.Unlock()

	if err := dev.Play(samples, sampleRate); err != nil {
		dev.Stop()
		p.finish(gen, err)
		return
	}

	<-dev.Done()
	dev.Stop() // release; no-op if Stop already ran
	p.finish(gen, nil)
}

// finish clears the speaking state unless a newer Speak or Stop already
// superseded this playback.
func (p *Player) finish(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.speaking.Store(false)
	p.mu.Unlock()

	if p.onDone != nil {
		p.onDone(err)
	}
}
