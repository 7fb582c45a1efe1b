package voice

import "time"

// Default detector tuning, overridable from the command line.
const (
	DefaultActivationThreshold = 0.02
	DefaultSpeechHold          = 100 * time.Millisecond
	DefaultSilenceHold         = 800 * time.Millisecond

	// While the assistant is speaking the mic picks up its own output, so
	// the bar is raised and the confirmation window shortened to catch
	// interruptions quickly.
	DefaultPlaybackThreshold  = 0.035
	DefaultPlaybackSpeechHold = 60 * time.Millisecond

	// MinHold is the floor for configurable hold durations. Anything shorter
	// than one capture frame makes the hysteresis meaningless.
	MinHold = 20 * time.Millisecond
)

// Params tune one tick of the detector. They are passed on every call so the
// caller can switch between normal and playback tuning without touching
// detector state.
type Params struct {
	ActivationThreshold float64
	SpeechHold          time.Duration
	SilenceHold         time.Duration
}

type State int

const (
	Idle State = iota
	AboveThresholdPending
	Speaking
	BelowThresholdPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AboveThresholdPending:
		return "above-pending"
	case Speaking:
		return "speaking"
	case BelowThresholdPending:
		return "below-pending"
	}
	return "unknown"
}

type Event int

const (
	None Event = iota
	SpeechStarted
	SpeechEnded
)

// Detector is an energy detector with hysteresis. A level at or above the
// threshold must persist for SpeechHold before speech starts, and a level
// below it must persist for SilenceHold before speech ends. The two pending
// timers never run at once: any contrary sample resets the streak.
type Detector struct {
	state      State
	streakFrom time.Time
}

func NewDetector() *Detector {
	return &Detector{state: Idle}
}

func (d *Detector) State() State { return d.state }

// Tick advances the detector with one smoothed level observation.
func (d *Detector) Tick(level float64, p Params, now time.Time) Event {
	above := level >= p.ActivationThreshold

	switch d.state {
	case Idle:
		if above {
			d.state = AboveThresholdPending
			d.streakFrom = now
			if now.Sub(d.streakFrom) >= p.SpeechHold {
				d.state = Speaking
				return SpeechStarted
			}
		}
	case AboveThresholdPending:
		if !above {
			d.state = Idle
			return None
		}
		if now.Sub(d.streakFrom) >= p.SpeechHold {
			d.state = Speaking
			return SpeechStarted
		}
	case Speaking:
		if !above {
			d.state = BelowThresholdPending
			d.streakFrom = now
		}
	case BelowThresholdPending:
		if above {
			d.state = Speaking
			return None
		}
		if now.Sub(d.streakFrom) >= p.SilenceHold {
			d.state = Idle
			return SpeechEnded
		}
	}
	return None
}

// Reset returns the detector to Idle without emitting an event.
func (d *Detector) Reset() {
	d.state = Idle
	d.streakFrom = time.Time{}
}
