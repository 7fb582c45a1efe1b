// Package client talks to the assistant backend: question answering,
// feedback, and live-agent handoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FallbackAnswer is spoken or shown when the backend has no answer text.
const FallbackAnswer = "Sorry, I could not find an answer."

var (
	ErrMissingAPIKey = errors.New("api key is not set")
	ErrMissingDomain = errors.New("client domain is not set")
)

// ServerError is a non-2xx reply from the backend.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("answer server error %d: %s", e.StatusCode, e.Body)
}

// Credentials identify the caller on every backend request.
type Credentials struct {
	APIKey    string
	Domain    string
	SessionID string
}

// Validate fails when a request would go out without identification.
func (c Credentials) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Domain == "" {
		return ErrMissingDomain
	}
	return nil
}

type AnswerClient struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

func NewAnswerClient(serverURL string, creds Credentials) *AnswerClient {
	return &AnswerClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// Ask sends a question and returns the answer text. The credentials are
// validated before anything goes over the wire.
func (c *AnswerClient) Ask(ctx context.Context, question string) (string, error) {
	if err := c.creds.Validate(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(queryRequest{Question: question})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/query/", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()

	body, status, err := readBody(resp)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", &ServerError{StatusCode: status, Body: string(body)}
	}

	var qResp queryResponse
	if err := json.Unmarshal(body, &qResp); err != nil {
		return "", fmt.Errorf("query response parse error: %w", err)
	}

	answer := strings.TrimSpace(qResp.Answer)
	if answer == "" {
		return FallbackAnswer, nil
	}
	return answer, nil
}

func (c *AnswerClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.creds.APIKey)
	req.Header.Set("X-Client-Domain", c.creds.Domain)
	req.Header.Set("X-Session-Id", c.creds.SessionID)
}
