package main

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"insight/audio"
	"insight/client"
	"insight/encoder"
	"insight/speech"
	"insight/transcriber"
	"insight/voice"
)

type voiceHarness struct {
	vm    *VoiceMode
	sess  *voiceSession
	sink  *sinkRecorder
	actx  *audio.FakeContext
	synth *speech.FakeSynthesizer
}

// newVoiceHarness wires a session over fake devices without starting
// capture, so tests can drive the VAD transitions directly.
func newVoiceHarness(t *testing.T, answer string, tr transcriber.Transcriber) *voiceHarness {
	t.Helper()

	srv := answerServer(t, answer)
	t.Cleanup(srv.Close)

	sink := &sinkRecorder{}
	actx := audio.NewFakeContextFromPCM(nil, false)
	synth := speech.NewFakeSynthesizer()

	var vm *VoiceMode
	player := speech.NewPlayer(actx, synth, func(err error) {
		vm.PlaybackDone(err)
	})
	controller := NewController(client.NewAnswerClient(srv.URL, testCreds()), player, sink, false)

	vm = NewVoiceMode(VoiceConfig{
		AudioCtx:      actx,
		CaptureConfig: audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		Transcriber:   tr,
		Controller:    controller,
		Player:        player,
		Arbiter:       voice.NewArbiter(voice.DefaultArbiterConfig()),
		Sink:          sink,
	})

	vm.mu.Lock()
	vm.epoch = 1
	vm.mu.Unlock()
	sess, err := vm.newSession(1)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	vm.mu.Lock()
	vm.sess = sess
	vm.mu.Unlock()

	return &voiceHarness{vm: vm, sess: sess, sink: sink, actx: actx, synth: synth}
}

func (h *voiceHarness) speakAndWait(t *testing.T, text string) *audio.FakePlayback {
	t.Helper()
	h.vm.cfg.Player.Speak(text)
	waitFor(t, func() bool { return len(h.actx.Playbacks()) > 0 && h.actx.Playbacks()[0].Played() })
	return h.actx.Playbacks()[0]
}

func TestInterruptStopsPlaybackBeforeUtteranceOpens(t *testing.T) {
	h := newVoiceHarness(t, "unused", transcriber.NewFake("", nil))

	pb := h.speakAndWait(t, "a long winded answer")
	if !h.vm.cfg.Player.IsSpeaking() {
		t.Fatal("player should be speaking")
	}

	h.sess.mu.Lock()
	h.sess.beginUtterance()
	open := h.sess.recorder.Open()
	h.sess.mu.Unlock()

	if !pb.Stopped() {
		t.Error("playback must be stopped before the recording opens")
	}
	if h.vm.cfg.Player.IsSpeaking() {
		t.Error("speaking flag must be cleared by the interrupt")
	}
	if !open {
		t.Error("recorder should be open after speech onset")
	}

	h.sess.mu.Lock()
	h.sess.recorder.Abort()
	h.sess.mu.Unlock()
}

func TestStopPhraseInterruptIsDiscarded(t *testing.T) {
	h := newVoiceHarness(t, "should never be spoken", transcriber.NewFake("", nil))

	utt := &voice.Utterance{IsInterrupt: true}
	h.sess.handleTranscript(utt, &transcriber.Result{Text: "ok stop"}, nil)

	if got := len(h.synth.Texts()); got != 0 {
		t.Errorf("stop phrase must not trigger an answer, spoke %d texts", got)
	}
	if got := h.vm.cfg.Controller.ExchangeCount(); got != 0 {
		t.Errorf("ExchangeCount = %d, want 0", got)
	}
}

func TestInterruptQuestionIsForwardedAndSpoken(t *testing.T) {
	h := newVoiceHarness(t, "30 days, no questions asked.", transcriber.NewFake("", nil))

	utt := &voice.Utterance{IsInterrupt: true}
	h.sess.handleTranscript(utt, &transcriber.Result{Text: "what's your refund policy"}, nil)

	waitFor(t, func() bool { return len(h.synth.Texts()) == 1 })
	if got := h.synth.Texts()[0]; got != "30 days, no questions asked." {
		t.Errorf("spoke %q", got)
	}
	if got := h.vm.cfg.Controller.ExchangeCount(); got != 1 {
		t.Errorf("ExchangeCount = %d, want 1", got)
	}
}

func TestStaleEpochResultIsDropped(t *testing.T) {
	fake := transcriber.NewFake("what time do you open", nil)
	h := newVoiceHarness(t, "should never be spoken", fake)

	h.vm.Exit()

	utt := &voice.Utterance{Format: "flac"}
	h.sess.transcribe(utt)

	if fake.Calls() != 1 {
		t.Fatalf("transcription should still complete, calls = %d", fake.Calls())
	}
	if got := h.vm.cfg.Controller.ExchangeCount(); got != 0 {
		t.Errorf("stale result reached the controller, ExchangeCount = %d", got)
	}
	if len(h.synth.Texts()) != 0 {
		t.Error("stale result must not be spoken")
	}
}

func TestNoSpeechKeepsListening(t *testing.T) {
	h := newVoiceHarness(t, "unused", transcriber.NewFake("", nil))

	h.sess.handleTranscript(&voice.Utterance{}, &transcriber.Result{NoSpeech: true}, nil)

	if h.sink.lastNotice() != "Didn't catch that." {
		t.Errorf("notice = %q", h.sink.lastNotice())
	}
	h.sink.mu.Lock()
	last := h.sink.states[len(h.sink.states)-1]
	h.sink.mu.Unlock()
	if last != "listening" {
		t.Errorf("state after no-speech = %q, want listening", last)
	}
	if got := h.vm.cfg.Controller.ExchangeCount(); got != 0 {
		t.Errorf("no-speech must not reach the controller, ExchangeCount = %d", got)
	}
}

func TestTranscriptionErrorWarnsAndKeepsListening(t *testing.T) {
	h := newVoiceHarness(t, "unused", transcriber.NewFake("", nil))

	h.sess.handleTranscript(&voice.Utterance{}, nil, errors.New("connection refused"))

	h.sink.mu.Lock()
	notice := h.sink.notices[len(h.sink.notices)-1]
	warn := h.sink.warns[len(h.sink.warns)-1]
	state := h.sink.states[len(h.sink.states)-1]
	h.sink.mu.Unlock()

	if notice != "Transcription failed. Still listening." || !warn {
		t.Errorf("notice = %q warn = %v", notice, warn)
	}
	if state != "listening" {
		t.Errorf("state = %q, want listening", state)
	}
}

func TestDictationTranscriptFillsInput(t *testing.T) {
	h := newVoiceHarness(t, "should never be asked", transcriber.NewFake("", nil))

	utt := &voice.Utterance{IsDictation: true}
	h.sess.handleTranscript(utt, &transcriber.Result{Text: "note to self"}, nil)

	h.sink.mu.Lock()
	dictations := append([]string(nil), h.sink.dictations...)
	h.sink.mu.Unlock()
	if len(dictations) != 1 || dictations[0] != "note to self" {
		t.Errorf("dictations = %v", dictations)
	}
	if got := h.vm.cfg.Controller.ExchangeCount(); got != 0 {
		t.Error("dictation must not be auto-submitted")
	}
}

func TestShortUtteranceIsDroppedWithoutUpload(t *testing.T) {
	fake := transcriber.NewFake("hello", nil)
	h := newVoiceHarness(t, "unused", fake)

	h.sess.mu.Lock()
	h.sess.beginUtterance()
	// Well under a tenth of a second of audio.
	h.sess.recorder.Feed(make([]byte, 640))
	h.sess.endUtterance()
	h.sess.mu.Unlock()

	if fake.Calls() != 0 {
		t.Errorf("short utterance was uploaded, calls = %d", fake.Calls())
	}
}

func TestAtMostOneUtteranceOpen(t *testing.T) {
	h := newVoiceHarness(t, "unused", transcriber.NewFake("", nil))

	h.sess.mu.Lock()
	defer h.sess.mu.Unlock()

	h.sess.beginUtterance()
	if !h.sess.recorder.Open() {
		t.Fatal("first utterance should open")
	}
	// A second onset without an end must not open a second recording.
	h.sess.beginUtterance()
	if err := h.sess.recorder.Begin(false, false); !errors.Is(err, voice.ErrRecordingOpen) {
		t.Errorf("expected ErrRecordingOpen, got %v", err)
	}
	h.sess.recorder.Abort()
}

// trackedCapture records whether Close was ever called.
type trackedCapture struct {
	audio.CaptureDevice
	closed atomic.Bool
}

func (c *trackedCapture) Close() {
	c.closed.Store(true)
	c.CaptureDevice.Close()
}

// slowAudioContext adds device-init latency, widening the window
// between the acquisition check and the session install.
type slowAudioContext struct {
	inner   audio.Context
	delay   time.Duration
	started chan struct{}

	mu       sync.Mutex
	captures []*trackedCapture
}

func newSlowAudioContext(delay time.Duration) *slowAudioContext {
	return &slowAudioContext{
		inner:   audio.NewFakeContextFromPCM(nil, false),
		delay:   delay,
		started: make(chan struct{}, 4),
	}
}

func (s *slowAudioContext) Devices() ([]audio.DeviceInfo, error) { return s.inner.Devices() }
func (s *slowAudioContext) Close()                               { s.inner.Close() }

func (s *slowAudioContext) NewPlayback() (audio.PlaybackDevice, error) {
	return s.inner.NewPlayback()
}

func (s *slowAudioContext) NewCapture(dev *audio.DeviceInfo, cfg audio.CaptureConfig) (audio.CaptureDevice, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	time.Sleep(s.delay)
	inner, err := s.inner.NewCapture(dev, cfg)
	if err != nil {
		return nil, err
	}
	tc := &trackedCapture{CaptureDevice: inner}
	s.mu.Lock()
	s.captures = append(s.captures, tc)
	s.mu.Unlock()
	return tc, nil
}

func (s *slowAudioContext) openedCaptures() []*trackedCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*trackedCapture(nil), s.captures...)
}

// newBareVoiceMode wires a VoiceMode without a preinstalled session so
// Enter/Exit run their real acquisition paths.
func newBareVoiceMode(t *testing.T, actx audio.Context) *VoiceMode {
	t.Helper()

	srv := answerServer(t, "unused")
	t.Cleanup(srv.Close)

	sink := &sinkRecorder{}
	synth := speech.NewFakeSynthesizer()
	var vm *VoiceMode
	player := speech.NewPlayer(actx, synth, func(err error) {
		vm.PlaybackDone(err)
	})
	controller := NewController(client.NewAnswerClient(srv.URL, testCreds()), player, sink, false)

	vm = NewVoiceMode(VoiceConfig{
		AudioCtx:      actx,
		CaptureConfig: audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		Transcriber:   transcriber.NewFake("", nil),
		Controller:    controller,
		Player:        player,
		Arbiter:       voice.NewArbiter(voice.DefaultArbiterConfig()),
		Sink:          sink,
	})
	return vm
}

func TestConcurrentEnterOpensExactlyOneMicrophone(t *testing.T) {
	for iter := 0; iter < 20; iter++ {
		sctx := newSlowAudioContext(time.Millisecond)
		vm := newBareVoiceMode(t, sctx)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				vm.Enter()
			}()
		}
		wg.Wait()

		if !vm.Active() {
			t.Fatalf("iter %d: voice mode should be active after Enter", iter)
		}
		vm.Exit()

		for i, c := range sctx.openedCaptures() {
			if !c.closed.Load() {
				t.Fatalf("iter %d: capture %d leaked past Exit", iter, i)
			}
		}
	}
}

func TestExitDuringSlowEnterReleasesCapture(t *testing.T) {
	sctx := newSlowAudioContext(50 * time.Millisecond)
	vm := newBareVoiceMode(t, sctx)

	enterDone := make(chan struct{})
	go func() {
		vm.Enter()
		close(enterDone)
	}()

	// Exit lands while the device is still initializing.
	<-sctx.started
	vm.Exit()
	<-enterDone

	if vm.Active() {
		t.Error("session installed under a stale epoch")
	}
	for i, c := range sctx.openedCaptures() {
		if !c.closed.Load() {
			t.Errorf("capture %d not released after losing to Exit", i)
		}
	}
}

func TestSilenceAutoCloseOnlyInDictation(t *testing.T) {
	h := newVoiceHarness(t, "unused", transcriber.NewFake("", nil))

	// Conversation mode: prolonged silence warns but never auto-closes.
	for i := 0; i < 400; i++ {
		if ev := h.sess.silence.Tick(false); ev == voice.SilenceAutoClose {
			t.Fatalf("auto-close fired in conversation mode at tick %d", i)
		}
	}

	h.vm.SetDictation(true)
	fired := false
	for i := 0; i < 400 && !fired; i++ {
		fired = h.sess.silence.Tick(false) == voice.SilenceAutoClose
	}
	if !fired {
		t.Fatal("auto-close never fired in dictation mode")
	}
}

func TestExitReleasesPlaybackAndMicrophone(t *testing.T) {
	h := newVoiceHarness(t, "unused", transcriber.NewFake("", nil))

	pb := h.speakAndWait(t, "still talking")

	h.vm.Exit()

	if !pb.Stopped() {
		t.Error("leaving voice mode must force-stop playback")
	}
	if h.vm.Active() {
		t.Error("voice mode should be inactive after Exit")
	}
	h.sink.mu.Lock()
	modes := append([]bool(nil), h.sink.voiceModes...)
	states := append([]string(nil), h.sink.states...)
	h.sink.mu.Unlock()
	if len(modes) == 0 || modes[len(modes)-1] {
		t.Errorf("voiceModes = %v, want trailing false", modes)
	}
	if len(states) == 0 || states[len(states)-1] != "idle" {
		t.Errorf("states = %v, want trailing idle", states)
	}

	// Exit is idempotent.
	h.vm.Exit()
}
