// Package doctor runs interactive system diagnostics: microphone capture,
// the transcription endpoint, the answer endpoint, and speech synthesis.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"insight/audio"
	"insight/client"
	"insight/encoder"
	"insight/speech"
	"insight/transcriber"
)

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(serverURL string, creds client.Credentials) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("insight doctor - interactive system diagnostics")
	fmt.Println("===============================================")

	allPass := true

	if !checkMicAndTranscription(serverURL) {
		allPass = false
	}
	if allPass && !checkAnswerEndpoint(serverURL, creds) {
		allPass = false
	}
	if allPass && !checkSpeech(serverURL) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func checkMicAndTranscription(serverURL string) bool {
	fmt.Println()
	fmt.Println("[1/3] Microphone and transcription")

	reader := bufio.NewReader(os.Stdin)

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	var device *audio.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println()
		fmt.Println("Select input device:")
		for i, d := range devices {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}
		fmt.Printf("Choice [1-%d]: ", len(devices))

		devChoice, _ := reader.ReadString('\n')
		devChoice = strings.TrimSpace(devChoice)
		idx := 0
		if devChoice != "" {
			fmt.Sscanf(devChoice, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(devices) {
			fmt.Printf("  FAIL: invalid choice\n")
			return false
		}
		device = &devices[idx]
		fmt.Printf("Selected: %s\n", device.Name)
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	stop := make(chan struct{})
	go func() {
		time.Sleep(3 * time.Second)
		close(stop)
	}()

	pcm, err := recordAudio(ctx, device, stop)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(pcm) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	fmt.Printf("  Recorded %.1f KB, encoding and transcribing...\n", float64(len(pcm))/1024)

	flacData, err := encodeFlac(pcm)
	if err != nil {
		fmt.Printf("  FAIL: encoding error: %v\n", err)
		return false
	}

	trans := transcriber.NewInsight(serverURL)
	result, err := trans.Transcribe(context.Background(), flacData, "flac")
	if err != nil {
		fmt.Printf("  FAIL: transcription error: %v\n", err)
		return false
	}

	text := result.Text
	if result.NoSpeech {
		text = "(no speech detected)"
	}
	fmt.Printf("\n  Transcribed text: %s\n\n", text)

	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Print("Is this correct? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}

	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

func checkAnswerEndpoint(serverURL string, creds client.Credentials) bool {
	fmt.Println()
	fmt.Println("[2/3] Answer endpoint")

	if err := creds.Validate(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}

	c := client.NewAnswerClient(serverURL, creds)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	answer, err := c.Ask(ctx, "ping")
	if err != nil {
		fmt.Printf("  FAIL: query error: %v\n", err)
		return false
	}
	fmt.Printf("  PASS: backend answered (%d chars)\n", len(answer))
	return true
}

func checkSpeech(serverURL string) bool {
	fmt.Println()
	fmt.Println("[3/3] Speech synthesis and playback")

	synth := speech.NewHTTPSynthesizer(serverURL)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sampleRate, samples, err := synth.Synthesize(ctx, "This is a test of the voice output.")
	if err != nil {
		fmt.Printf("  FAIL: synthesis error: %v\n", err)
		return false
	}
	fmt.Printf("  Fetched %.1fs of audio, playing...\n",
		float64(len(samples))/float64(sampleRate))

	audioCtx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot open audio output: %v\n", err)
		return false
	}
	defer audioCtx.Close()

	dev, err := audioCtx.NewPlayback()
	if err != nil {
		fmt.Printf("  FAIL: playback device: %v\n", err)
		return false
	}
	if err := dev.Play(samples, sampleRate); err != nil {
		fmt.Printf("  FAIL: playback error: %v\n", err)
		return false
	}
	select {
	case <-dev.Done():
	case <-time.After(30 * time.Second):
		dev.Stop()
		fmt.Println("  FAIL: playback did not finish")
		return false
	}

	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Print("Did you hear the test sentence? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: speech output verified by user")
		return true
	}
	fmt.Println("  FAIL: speech output not confirmed")
	return false
}

func recordAudio(ctx audio.Context, device *audio.DeviceInfo, stop <-chan struct{}) ([]byte, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex
	var stopped bool
	done := make(chan struct{})

	config := audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	}

	captureDevice, err := ctx.NewCapture(device, config)
	if err != nil {
		return nil, err
	}

	captureDevice.SetCallback(func(data []byte, frameCount uint32) {
		bufMu.Lock()
		if stopped {
			bufMu.Unlock()
			return
		}
		pcmBuf = append(pcmBuf, data...)
		bufMu.Unlock()
	})

	if err := captureDevice.Start(); err != nil {
		captureDevice.Close()
		return nil, err
	}

	fmt.Print("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	<-stop
	close(done)

	captureDevice.Stop()
	fmt.Println(" done")
	captureDevice.Close()

	bufMu.Lock()
	stopped = true
	raw := pcmBuf
	bufMu.Unlock()

	return raw, nil
}

func encodeFlac(pcm []byte) ([]byte, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}
	samples := make([]int16, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int16(uint16(pcm[i])|uint16(pcm[i+1])<<8))
	}
	for i := 0; i < len(samples); i += encoder.BlockSize {
		end := min(i+encoder.BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
