package voice

import (
	"testing"
	"time"
)

var testParams = Params{
	ActivationThreshold: 0.02,
	SpeechHold:          120 * time.Millisecond,
	SilenceHold:         800 * time.Millisecond,
}

// run feeds a level once per frame (~16ms) for the given duration and
// collects emitted events.
func run(d *Detector, p Params, level float64, dur time.Duration, start time.Time) ([]Event, time.Time) {
	const frame = 16 * time.Millisecond
	var events []Event
	now := start
	for elapsed := time.Duration(0); elapsed <= dur; elapsed += frame {
		if ev := d.Tick(level, p, now); ev != None {
			events = append(events, ev)
		}
		now = now.Add(frame)
	}
	return events, now
}

func TestSpeechStartsAfterHold(t *testing.T) {
	d := NewDetector()
	start := time.Now()

	events, _ := run(d, testParams, 0.05, 150*time.Millisecond, start)
	if len(events) != 1 || events[0] != SpeechStarted {
		t.Fatalf("expected exactly one SpeechStarted, got %v", events)
	}
	if d.State() != Speaking {
		t.Fatalf("expected Speaking, got %v", d.State())
	}
}

func TestShortBlipDoesNotStartSpeech(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	// 50ms above threshold, below the 120ms hold
	events, now := run(d, testParams, 0.05, 50*time.Millisecond, now)
	if len(events) != 0 {
		t.Fatalf("unexpected events from short blip: %v", events)
	}

	events, _ = run(d, testParams, 0.001, 200*time.Millisecond, now)
	if len(events) != 0 {
		t.Fatalf("unexpected events after blip: %v", events)
	}
	if d.State() != Idle {
		t.Fatalf("expected Idle after blip, got %v", d.State())
	}
}

func TestSpeechEndsAfterSilenceHold(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	_, now = run(d, testParams, 0.05, 200*time.Millisecond, now)
	if d.State() != Speaking {
		t.Fatalf("setup: expected Speaking, got %v", d.State())
	}

	// 500ms of silence is not enough
	events, now := run(d, testParams, 0.001, 500*time.Millisecond, now)
	if len(events) != 0 {
		t.Fatalf("speech ended too early: %v", events)
	}

	// past 800ms total it must end
	events, _ = run(d, testParams, 0.001, 400*time.Millisecond, now)
	if len(events) != 1 || events[0] != SpeechEnded {
		t.Fatalf("expected SpeechEnded, got %v", events)
	}
	if d.State() != Idle {
		t.Fatalf("expected Idle after utterance, got %v", d.State())
	}
}

func TestPauseWithinUtteranceDoesNotEnd(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	_, now = run(d, testParams, 0.05, 200*time.Millisecond, now)

	// brief pause, then speech resumes: the below-streak must reset
	_, now = run(d, testParams, 0.001, 400*time.Millisecond, now)
	_, now = run(d, testParams, 0.05, 100*time.Millisecond, now)
	events, _ := run(d, testParams, 0.001, 500*time.Millisecond, now)
	if len(events) != 0 {
		t.Fatalf("pause plus fresh silence under hold ended speech: %v", events)
	}
	if d.State() != BelowThresholdPending {
		t.Fatalf("expected BelowThresholdPending, got %v", d.State())
	}
}

func TestLevelAtThresholdCountsAsAbove(t *testing.T) {
	d := NewDetector()
	events, _ := run(d, testParams, testParams.ActivationThreshold, 200*time.Millisecond, time.Now())
	if len(events) != 1 || events[0] != SpeechStarted {
		t.Fatalf("level exactly at threshold should start speech, got %v", events)
	}
}

func TestNoConsecutiveStartsWithoutEnd(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	var all []Event
	// alternate loud and quiet stretches, quiet always shorter than the
	// silence hold, so speech never ends
	for i := 0; i < 10; i++ {
		evs, next := run(d, testParams, 0.05, 300*time.Millisecond, now)
		all = append(all, evs...)
		evs, next = run(d, testParams, 0.001, 300*time.Millisecond, next)
		all = append(all, evs...)
		now = next
	}

	starts := 0
	for _, ev := range all {
		switch ev {
		case SpeechStarted:
			starts++
			if starts > 1 {
				t.Fatal("two SpeechStarted without an intervening SpeechEnded")
			}
		case SpeechEnded:
			starts--
		}
	}
}

func TestAlternatingEventsOverRandomishInput(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	var all []Event
	levels := []float64{0.05, 0.001, 0.03, 0.0, 0.08, 0.001}
	durs := []time.Duration{200, 900, 150, 1000, 300, 850}
	for i := range levels {
		evs, next := run(d, testParams, levels[i], durs[i]*time.Millisecond, now)
		all = append(all, evs...)
		now = next
	}

	expectStart := true
	for i, ev := range all {
		if expectStart && ev != SpeechStarted {
			t.Fatalf("event %d: expected SpeechStarted, got %v", i, ev)
		}
		if !expectStart && ev != SpeechEnded {
			t.Fatalf("event %d: expected SpeechEnded, got %v", i, ev)
		}
		expectStart = !expectStart
	}
}

func TestPlaybackParamsShorterHold(t *testing.T) {
	playback := Params{
		ActivationThreshold: 0.035,
		SpeechHold:          60 * time.Millisecond,
		SilenceHold:         800 * time.Millisecond,
	}
	d := NewDetector()

	// 80ms at 0.05 satisfies the playback hold
	events, _ := run(d, playback, 0.05, 80*time.Millisecond, time.Now())
	if len(events) != 1 || events[0] != SpeechStarted {
		t.Fatalf("expected SpeechStarted under playback tuning, got %v", events)
	}

	// the same spike below the raised threshold must not trigger
	d2 := NewDetector()
	events, _ = run(d2, playback, 0.025, 200*time.Millisecond, time.Now())
	if len(events) != 0 {
		t.Fatalf("level under playback threshold started speech: %v", events)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	d := NewDetector()
	run(d, testParams, 0.05, 200*time.Millisecond, time.Now())
	if d.State() != Speaking {
		t.Fatalf("setup: expected Speaking, got %v", d.State())
	}
	d.Reset()
	if d.State() != Idle {
		t.Fatalf("expected Idle after reset, got %v", d.State())
	}
}
