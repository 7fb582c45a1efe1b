package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSynthesizer fetches WAV audio from the backend's /tts endpoint.
type HTTPSynthesizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSynthesizer(serverURL string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL: strings.TrimRight(serverURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (uint32, []int16, error) {
	reqURL := s.baseURL + "/tts?text=" + url.QueryEscape(text)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("tts fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, nil, fmt.Errorf("tts server error %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("tts download: %w", err)
	}

	sampleRate, samples, err := ParseWAV(data)
	if err != nil {
		return 0, nil, fmt.Errorf("tts audio: %w", err)
	}
	return sampleRate, samples, nil
}
