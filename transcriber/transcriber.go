package transcriber

import (
	"context"
	"fmt"
	"time"
)

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	ReqHeaders time.Duration
	ReqBody    time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// Result is a completed transcription. NoSpeech means the service answered
// but recognized no words; it is not an error.
type Result struct {
	Text     string
	NoSpeech bool
	Metrics  *NetworkMetrics
}

// ServerError is a non-2xx answer from the transcription endpoint. Transport
// failures surface as ordinary wrapped errors instead.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transcription server error %d: %s", e.StatusCode, e.Body)
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, format string) (*Result, error)
}
