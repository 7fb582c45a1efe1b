package voice

import "strings"

const (
	maxStopTokens = 2
	maxStopChars  = 16
)

// defaultStopPhrases are acknowledgments that silence the assistant without
// asking anything new. Matched only against short interrupt transcripts.
var defaultStopPhrases = []string{
	"stop", "no", "thanks", "thank you", "wait",
	"ok", "okay", "ok stop", "okay stop",
	"enough", "quiet", "shush", "cancel", "nevermind", "never mind",
}

// Arbiter owns the interruption policy: which detector tuning applies while
// the assistant is speaking, and whether an interrupt transcript is a stop
// command or a real question.
type Arbiter struct {
	normal      Params
	playback    Params
	stopPhrases map[string]struct{}
}

type ArbiterConfig struct {
	Normal      Params
	Playback    Params
	StopPhrases []string // empty means the default set
}

func NewArbiter(cfg ArbiterConfig) *Arbiter {
	phrases := cfg.StopPhrases
	if len(phrases) == 0 {
		phrases = defaultStopPhrases
	}
	set := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		set[normalizeTranscript(p)] = struct{}{}
	}
	return &Arbiter{normal: cfg.Normal, playback: cfg.Playback, stopPhrases: set}
}

func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		Normal: Params{
			ActivationThreshold: DefaultActivationThreshold,
			SpeechHold:          DefaultSpeechHold,
			SilenceHold:         DefaultSilenceHold,
		},
		Playback: Params{
			ActivationThreshold: DefaultPlaybackThreshold,
			SpeechHold:          DefaultPlaybackSpeechHold,
			SilenceHold:         DefaultSilenceHold,
		},
	}
}

// Params returns the detector tuning for the current playback state.
func (a *Arbiter) Params(speaking bool) Params {
	if speaking {
		return a.playback
	}
	return a.normal
}

// InterruptAction is the disposition of a transcript captured mid-playback.
type InterruptAction int

const (
	// ForwardQuestion routes the transcript through the answer pipeline.
	ForwardQuestion InterruptAction = iota
	// DiscardStop drops the transcript; the user only wanted silence.
	DiscardStop
)

// ClassifyInterrupt decides what to do with an interrupt transcript.
// Only short utterances from the closed stop set are discarded; everything
// else is a real question that deserves an answer.
func (a *Arbiter) ClassifyInterrupt(transcript string) InterruptAction {
	norm := normalizeTranscript(transcript)
	if norm == "" {
		return DiscardStop
	}
	if len(norm) >= maxStopChars || len(strings.Fields(norm)) > maxStopTokens {
		return ForwardQuestion
	}
	if _, ok := a.stopPhrases[norm]; ok {
		return DiscardStop
	}
	return ForwardQuestion
}

func normalizeTranscript(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
