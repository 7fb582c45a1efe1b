package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"insight/audio"
	"insight/beep"
	"insight/encoder"
	"insight/log"
	"insight/speech"
	"insight/transcriber"
	"insight/voice"
)

// Utterances shorter than this are discarded without a transcription
// round trip.
const minUtteranceSamples = encoder.SampleRate / 10

// deviceStallTimeout finalizes an open utterance when the capture
// device stops delivering data mid-recording.
const deviceStallTimeout = 2 * time.Second

const transcribeTimeout = 30 * time.Second

type VoiceConfig struct {
	AudioCtx      audio.Context
	Device        *audio.DeviceInfo
	CaptureConfig audio.CaptureConfig
	Transcriber   transcriber.Transcriber
	Controller    *Controller
	Player        *speech.Player
	Arbiter       *voice.Arbiter
	Sink          EventSink
}

// VoiceMode owns the continuous microphone session. At most one
// session is active; entering and leaving bumps an epoch that gates
// every in-flight transcription result.
type VoiceMode struct {
	cfg VoiceConfig

	mu        sync.Mutex
	epoch     uint64
	sess      *voiceSession
	dictation atomic.Bool
}

func NewVoiceMode(cfg VoiceConfig) *VoiceMode {
	return &VoiceMode{cfg: cfg}
}

func (vm *VoiceMode) Active() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.sess != nil
}

// SetDictation switches between conversation mode (transcripts are
// questions) and dictation mode (transcripts fill the input field).
func (vm *VoiceMode) SetDictation(on bool) {
	vm.dictation.Store(on)
}

func (vm *VoiceMode) Dictation() bool {
	return vm.dictation.Load()
}

func (vm *VoiceMode) epochIs(e uint64) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.epoch == e
}

// Enter acquires the microphone and starts the monitor loop. A second
// Enter while a session is active is a no-op.
func (vm *VoiceMode) Enter() error {
	if vm.cfg.AudioCtx == nil {
		return errors.New("no audio device available")
	}
	vm.mu.Lock()
	if vm.sess != nil {
		vm.mu.Unlock()
		return nil
	}
	vm.epoch++
	epoch := vm.epoch
	vm.mu.Unlock()

	sess, err := vm.newSession(epoch)
	if err != nil {
		return err
	}

	sess.capture.SetCallback(sess.onData)
	if err := sess.capture.Start(); err != nil {
		sess.capture.ClearCallback()
		sess.capture.Close()
		return fmt.Errorf("capture start: %w", err)
	}

	// Device init ran unlocked; a concurrent Enter or Exit may have won
	// the race. Install only if nothing else did, otherwise release the
	// capture we just acquired.
	vm.mu.Lock()
	if vm.sess != nil || vm.epoch != epoch {
		vm.mu.Unlock()
		sess.capture.Stop()
		sess.capture.ClearCallback()
		sess.capture.Close()
		sess.recorder.Abort()
		return nil
	}
	vm.sess = sess
	vm.mu.Unlock()

	go sess.tickLoop()

	log.VoiceEvent("voice_mode_on")
	log.Info("recording_device: " + sess.capture.DeviceName())
	vm.cfg.Sink.VoiceMode(true)
	vm.cfg.Sink.VoiceState("listening")
	go beep.PlayStart()
	return nil
}

func (vm *VoiceMode) newSession(epoch uint64) (*voiceSession, error) {
	capture, err := vm.cfg.AudioCtx.NewCapture(vm.cfg.Device, vm.cfg.CaptureConfig)
	if err != nil {
		return nil, fmt.Errorf("capture init: %w", err)
	}
	frames, err := voice.NewFrameClassifier()
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("frame classifier init: %w", err)
	}
	s := &voiceSession{
		vm:       vm,
		epoch:    epoch,
		capture:  capture,
		monitor:  voice.NewLevelMonitor(),
		detector: voice.NewDetector(),
		recorder: voice.NewRecorder(),
		frames:   frames,
		done:     make(chan struct{}),
	}
	// Conversation mode listens until the user leaves; only dictation
	// captures auto-close after prolonged silence.
	s.silence = voice.NewSilenceMonitor(vm.Dictation)
	s.lastData.Store(time.Now().UnixNano())
	return s, nil
}

// Exit stops the monitor, releases the microphone and force-stops any
// active playback. Idempotent.
func (vm *VoiceMode) Exit() {
	vm.mu.Lock()
	sess := vm.sess
	vm.sess = nil
	vm.epoch++
	vm.mu.Unlock()
	if sess == nil {
		return
	}
	sess.close()

	log.VoiceEvent("voice_mode_off")
	vm.cfg.Sink.AudioLevel(0)
	vm.cfg.Sink.VoiceState("idle")
	vm.cfg.Sink.VoiceMode(false)
	go beep.PlayEnd()
}

// PlaybackDone is wired to the speech player's completion callback.
func (vm *VoiceMode) PlaybackDone(err error) {
	if err != nil {
		log.Errorf("playback error: %v", err)
		vm.cfg.Sink.Notice("Could not play the spoken reply.", true)
	}
	if vm.Active() {
		vm.cfg.Sink.VoiceState("listening")
	} else {
		vm.cfg.Sink.VoiceState("idle")
	}
}

type voiceSession struct {
	vm    *VoiceMode
	epoch uint64

	capture  audio.CaptureDevice
	monitor  *voice.LevelMonitor
	detector *voice.Detector
	recorder *voice.Recorder
	frames   *voice.FrameClassifier
	silence  *voice.SilenceMonitor

	// mu orders detector transitions and recorder lifecycle against
	// the ticker goroutine.
	mu       sync.Mutex
	lastData atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func (s *voiceSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.capture.Stop()
		s.capture.ClearCallback()
		s.capture.Close()

		s.mu.Lock()
		s.recorder.Abort()
		s.detector.Reset()
		s.mu.Unlock()

		s.vm.cfg.Player.Stop()
	})
}

// onData runs on the capture callback for every PCM chunk.
func (s *voiceSession) onData(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	s.lastData.Store(time.Now().UnixNano())

	level := s.monitor.Sample(data)
	s.vm.cfg.Sink.AudioLevel(level.Orb)
	s.frames.Process(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	params := s.vm.cfg.Arbiter.Params(s.vm.cfg.Player.IsSpeaking())
	switch s.detector.Tick(level.Smoothed, params, time.Now()) {
	case voice.SpeechStarted:
		s.beginUtterance()
	case voice.SpeechEnded:
		s.endUtterance()
	}

	if s.recorder.Open() {
		s.recorder.Feed(data)
	}
}

// beginUtterance opens the recorder. During playback the output is
// stopped first so the user is not talking over the assistant while
// the recording spins up. Caller holds mu.
func (s *voiceSession) beginUtterance() {
	interrupt := s.vm.cfg.Player.IsSpeaking()
	if interrupt {
		s.vm.cfg.Player.Stop()
		log.VoiceEvent("playback_interrupted")
	}
	if err := s.recorder.Begin(interrupt, s.vm.Dictation()); err != nil {
		log.Warnf("recorder begin: %v", err)
		return
	}
	log.VoiceEvent("speech_start")
	s.vm.cfg.Sink.VoiceState("recording")
}

// endUtterance seals the recording and hands it to transcription.
// Caller holds mu.
func (s *voiceSession) endUtterance() {
	utt, err := s.recorder.Seal()
	if err != nil {
		log.Warnf("recorder seal: %v", err)
		return
	}
	log.VoiceEvent("speech_end")
	if utt.Samples < minUtteranceSamples {
		s.vm.cfg.Sink.VoiceState("listening")
		return
	}
	s.vm.cfg.Sink.VoiceState("thinking")
	go s.transcribe(utt)
}

func (s *voiceSession) transcribe(utt *voice.Utterance) {
	ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
	defer cancel()
	res, err := s.vm.cfg.Transcriber.Transcribe(ctx, utt.Data, utt.Format)

	// The mode may have been left while the upload was in flight.
	if !s.vm.epochIs(s.epoch) {
		return
	}
	s.handleTranscript(utt, res, err)
}

func (s *voiceSession) handleTranscript(utt *voice.Utterance, res *transcriber.Result, err error) {
	cfg := &s.vm.cfg

	if err != nil {
		var serr *transcriber.ServerError
		if errors.As(err, &serr) {
			log.Errorf("transcription server error: %v", serr)
		} else {
			log.Errorf("transcription error: %v", err)
		}
		cfg.Sink.Notice("Transcription failed. Still listening.", true)
		s.settleState()
		return
	}

	if res.NoSpeech {
		log.VoiceEvent("no_speech")
		cfg.Sink.Notice("Didn't catch that.", false)
		s.settleState()
		return
	}

	text := res.Text
	if utt.Truncated {
		log.Warn("utterance truncated at recording cap")
	}

	if utt.IsInterrupt && cfg.Arbiter.ClassifyInterrupt(text) == voice.DiscardStop {
		log.VoiceEvent("interrupt_discarded")
		s.settleState()
		return
	}

	if utt.IsDictation {
		cfg.Controller.SubmitDictation(text)
		s.settleState()
		return
	}

	cfg.Controller.SubmitVoice(text)
	s.settleState()
}

// settleState reports listening or speaking after an async result,
// unless the session is already gone.
func (s *voiceSession) settleState() {
	if !s.vm.epochIs(s.epoch) {
		return
	}
	if s.vm.cfg.Player.IsSpeaking() {
		s.vm.cfg.Sink.VoiceState("speaking")
	} else {
		s.vm.cfg.Sink.VoiceState("listening")
	}
}

// tickLoop drives the silence monitor and watches for a stalled
// capture device.
func (s *voiceSession) tickLoop() {
	ticker := time.NewTicker(voice.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			switch s.silence.Tick(s.frames.HasSpeechTick()) {
			case voice.SilenceWarn, voice.SilenceRepeat:
				log.Info("no_voice_warning")
				s.vm.cfg.Sink.Notice("No voice detected. Is your microphone working?", true)
				beep.PlayError()
			case voice.SilenceWarnClear:
				s.vm.cfg.Sink.Notice("", false)
			case voice.SilenceAutoClose:
				log.Info("silence_auto_close")
				s.vm.cfg.Sink.Notice("Left voice mode after 30s of silence.", false)
				s.vm.Exit()
				return
			}
			s.checkDeviceStall()
		}
	}
}

// checkDeviceStall finalizes an open utterance with whatever was
// captured when the device goes quiet, instead of losing the speech.
func (s *voiceSession) checkDeviceStall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recorder.Open() {
		return
	}
	last := time.Unix(0, s.lastData.Load())
	if time.Since(last) < deviceStallTimeout {
		return
	}
	log.Warn("capture device stalled mid-utterance")
	s.vm.cfg.Sink.Notice("Microphone went quiet. Transcription may be incomplete.", true)
	s.detector.Reset()
	s.endUtterance()
}
