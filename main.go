package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"insight/audio"
	"insight/beep"
	"insight/client"
	"insight/doctor"
	"insight/encoder"
	"insight/log"
	"insight/speech"
	"insight/transcriber"
	"insight/voice"
)

var version = "dev"

var shutdownOnce sync.Once

type app struct {
	controller   *Controller
	voiceMode    *VoiceMode
	botName      string
	startInVoice bool
}

func (a *app) toggleVoice() {
	if a.voiceMode.Active() {
		a.voiceMode.Exit()
		return
	}
	if err := a.voiceMode.Enter(); err != nil {
		log.Errorf("voice mode error: %v", err)
		tuiSend(NoticeMsg{Text: "Microphone unavailable: " + err.Error(), Warn: true})
	}
}

func gracefulShutdown(a *app) {
	shutdownOnce.Do(func() {
		if a != nil {
			a.voiceMode.Exit()
			a.controller.StopLive()
			if n := a.controller.ExchangeCount(); n > 0 {
				log.SessionEnd(n)
			}
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

func main() {
	serverFlag := flag.String("server", "http://localhost:8000", "InsightBot server URL")
	botNameFlag := flag.String("bot-name", "Insight", "Display name for the assistant")
	micFlag := flag.String("mic", "", "Microphone device name (substring match)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	voiceFlag := flag.Bool("voice", false, "Start in voice mode")
	voiceTranscriptFlag := flag.Bool("voice-transcript", false, "Show voice exchanges in the transcript")
	vadThresholdFlag := flag.Float64("vad-threshold", voice.DefaultActivationThreshold, "Loudness level that counts as speech")
	vadHoldFlag := flag.Duration("vad-hold", voice.DefaultSpeechHold, "Continuous speech needed to open an utterance")
	vadSilenceFlag := flag.Duration("vad-silence", voice.DefaultSilenceHold, "Continuous silence that ends an utterance")
	muteFlag := flag.Bool("mute", false, "Disable beep cues")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("insight %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *muteFlag {
		beep.Disable()
	}

	creds := client.Credentials{
		APIKey:    os.Getenv("INSIGHT_API_KEY"),
		Domain:    os.Getenv("INSIGHT_CLIENT_DOMAIN"),
		SessionID: uuid.NewString(),
	}

	if *doctorFlag {
		os.Exit(doctor.Run(*serverFlag, creds))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		log.SessionStart(creds.SessionID, creds.Domain)
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		// Text-only degradation: the chat surface works without audio.
		log.Errorf("audio context init error: %v", err)
		audioCtx = nil
	} else {
		defer audioCtx.Close()
	}

	var selectedDevice *audio.DeviceInfo
	if audioCtx != nil && (*setupFlag || *micFlag != "") {
		selectedDevice, err = audio.SelectDevice(audioCtx, *micFlag)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	answers := client.NewAnswerClient(*serverFlag, creds)
	stt := transcriber.NewInsight(*serverFlag)
	stt.Warm()
	synth := speech.NewHTTPSynthesizer(*serverFlag)

	arbCfg := voice.DefaultArbiterConfig()
	arbCfg.Normal = voice.Params{
		ActivationThreshold: *vadThresholdFlag,
		SpeechHold:          *vadHoldFlag,
		SilenceHold:         *vadSilenceFlag,
	}
	arbCfg.Playback.SilenceHold = *vadSilenceFlag

	sink := tuiSink{}
	var vm *VoiceMode
	var player *speech.Player
	if audioCtx != nil {
		player = speech.NewPlayer(audioCtx, synth, func(err error) {
			vm.PlaybackDone(err)
		})
	}
	controller := NewController(answers, player, sink, *voiceTranscriptFlag)
	vm = NewVoiceMode(VoiceConfig{
		AudioCtx: audioCtx,
		Device:   selectedDevice,
		CaptureConfig: audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		},
		Transcriber: stt,
		Controller:  controller,
		Player:      player,
		Arbiter:     voice.NewArbiter(arbCfg),
		Sink:        sink,
	})

	if err := creds.Validate(); err != nil {
		log.Warnf("credentials: %v", err)
		controller.append(Message{
			Sender:  SenderAssistant,
			Text:    fmt.Sprintf("Credentials missing (%v). Set INSIGHT_API_KEY and INSIGHT_CLIENT_DOMAIN.", err),
			IsError: true,
		})
	}

	a := &app{
		controller:   controller,
		voiceMode:    vm,
		botName:      *botNameFlag,
		startInVoice: *voiceFlag && audioCtx != nil,
	}

	go beep.Init()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		gracefulShutdown(a)
	}()

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(a)
	tuiMu.Unlock()

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	gracefulShutdown(a)
}
