package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

// Insight uploads utterances to the assistant backend's /stt endpoint.
type Insight struct {
	client *TracedClient
	apiURL string
}

func NewInsight(serverURL string) *Insight {
	apiURL := strings.TrimRight(serverURL, "/") + "/stt"
	return &Insight{
		client: NewTracedClient(apiURL),
		apiURL: apiURL,
	}
}

func (t *Insight) Name() string { return "insight" }

// Warm pre-establishes the connection so the first utterance is not taxed
// with a TLS handshake.
func (t *Insight) Warm() {
	go t.client.Warm()
}

type sttResponse struct {
	Text string `json:"text"`
}

func (t *Insight) Transcribe(ctx context.Context, audio []byte, format string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", t.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt upload: %w", err)
	}

	if resp.StatusCode != 200 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var sResp sttResponse
	if err := json.Unmarshal(resp.Body, &sResp); err != nil {
		return nil, fmt.Errorf("stt response parse error: %w", err)
	}

	text := strings.TrimSpace(sResp.Text)
	return &Result{
		Text:     text,
		NoSpeech: text == "",
		Metrics:  resp.Metrics,
	}, nil
}
