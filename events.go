package main

// EventSink abstracts the display layer so the conversation controller
// and the voice session can be driven headless in tests.
type EventSink interface {
	// TranscriptChanged delivers a fresh copy of the message list.
	TranscriptChanged(messages []Message)
	// VoiceMode reports entering or leaving voice mode.
	VoiceMode(on bool)
	// VoiceState reports the pipeline phase: "idle", "listening",
	// "thinking" or "speaking".
	VoiceState(state string)
	// AudioLevel reports the fast-smoothed microphone level for the orb.
	AudioLevel(level float64)
	// Dictation delivers transcribed text destined for the input field.
	Dictation(text string)
	// Notice shows a transient inline message; warn selects the
	// warning style.
	Notice(text string, warn bool)
	// LiveMode reports entering or leaving the human-handoff relay.
	LiveMode(on bool)
}

// tuiSink forwards events to the Bubble Tea program. Safe to use
// before the program starts; messages are dropped until then.
type tuiSink struct{}

func (tuiSink) TranscriptChanged(messages []Message) {
	tuiSend(TranscriptMsg{Messages: messages})
}

func (tuiSink) VoiceMode(on bool) {
	tuiSend(VoiceModeMsg{On: on})
}

func (tuiSink) VoiceState(state string) {
	tuiSend(VoiceStateMsg{State: state})
}

func (tuiSink) AudioLevel(level float64) {
	tuiSend(AudioLevelMsg{Level: level})
}

func (tuiSink) Dictation(text string) {
	tuiSend(DictationMsg{Text: text})
}

func (tuiSink) Notice(text string, warn bool) {
	tuiSend(NoticeMsg{Text: text, Warn: warn})
}

func (tuiSink) LiveMode(on bool) {
	tuiSend(LiveModeMsg{On: on})
}
