package voice

import "testing"

func TestStopPhrasesDiscarded(t *testing.T) {
	a := NewArbiter(DefaultArbiterConfig())
	for _, tc := range []string{
		"stop", "Stop.", "STOP!", "ok", "Okay,", "ok stop",
		"thanks", "Thank you!", "no", "wait", "never mind",
	} {
		if got := a.ClassifyInterrupt(tc); got != DiscardStop {
			t.Errorf("ClassifyInterrupt(%q) = %v, want DiscardStop", tc, got)
		}
	}
}

func TestQuestionsForwarded(t *testing.T) {
	a := NewArbiter(DefaultArbiterConfig())
	for _, tc := range []string{
		"what's your refund policy",
		"stop that and tell me about shipping",
		"how much",
		"where is my order",
		"stopwatch pricing", // not in the closed set despite the prefix
	} {
		if got := a.ClassifyInterrupt(tc); got != ForwardQuestion {
			t.Errorf("ClassifyInterrupt(%q) = %v, want ForwardQuestion", tc, got)
		}
	}
}

func TestLongStopPhraseStillForwarded(t *testing.T) {
	a := NewArbiter(ArbiterConfig{StopPhrases: []string{"please do stop talking right now"}})
	// In the set but over both length limits, so it is treated as a question.
	if got := a.ClassifyInterrupt("please do stop talking right now"); got != ForwardQuestion {
		t.Fatalf("over-limit phrase should forward, got %v", got)
	}
}

func TestEmptyTranscriptDiscarded(t *testing.T) {
	a := NewArbiter(DefaultArbiterConfig())
	if got := a.ClassifyInterrupt("   "); got != DiscardStop {
		t.Fatalf("blank transcript should discard, got %v", got)
	}
}

func TestPlaybackParamsRaised(t *testing.T) {
	a := NewArbiter(DefaultArbiterConfig())
	normal := a.Params(false)
	playback := a.Params(true)
	if playback.ActivationThreshold <= normal.ActivationThreshold {
		t.Fatalf("playback threshold %f not raised over %f",
			playback.ActivationThreshold, normal.ActivationThreshold)
	}
	if playback.SpeechHold >= normal.SpeechHold {
		t.Fatalf("playback hold %v not shorter than %v", playback.SpeechHold, normal.SpeechHold)
	}
}

func TestNormalize(t *testing.T) {
	for in, want := range map[string]string{
		"  Stop!  ":       "stop",
		"OK, stop.":       "ok stop",
		"What's up?":      "what's up",
		"never\tmind":     "never mind",
		"...":             "",
	} {
		if got := normalizeTranscript(in); got != want {
			t.Errorf("normalizeTranscript(%q) = %q, want %q", in, got, want)
		}
	}
}
