package speech

import (
	"context"
	"sync"
)

// FakeSynthesizer returns a fixed tone and records the texts it was asked
// to speak.
type FakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func NewFakeSynthesizer() *FakeSynthesizer {
	return &FakeSynthesizer{}
}

// Fail makes every subsequent Synthesize call return err.
func (f *FakeSynthesizer) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeSynthesizer) Synthesize(_ context.Context, text string) (uint32, []int16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, nil, f.err
	}
	f.texts = append(f.texts, text)
	return 16000, make([]int16, 1600), nil
}

// Texts returns every successfully synthesized text in order.
func (f *FakeSynthesizer) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}
