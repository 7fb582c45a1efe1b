package transcriber

import (
	"context"
	"sync"
)

// FakeTranscriber returns scripted results and records what it was fed.
type FakeTranscriber struct {
	mu      sync.Mutex
	scripts []fakeScript
	calls   int
	audio   [][]byte
}

type fakeScript struct {
	text string
	err  error
}

func NewFake(text string, err error) *FakeTranscriber {
	f := &FakeTranscriber{}
	f.Script(text, err)
	return f
}

// Script queues a further response; the last one repeats once exhausted.
func (f *FakeTranscriber) Script(text string, err error) *FakeTranscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, fakeScript{text: text, err: err})
	return f
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scripts[min(f.calls, len(f.scripts)-1)]
	f.calls++
	f.audio = append(f.audio, audio)
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Text: s.text, NoSpeech: s.text == "", Metrics: &NetworkMetrics{}}, nil
}

// Calls reports how many transcriptions were requested.
func (f *FakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
