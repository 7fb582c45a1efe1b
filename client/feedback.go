package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type feedbackRequest struct {
	Message string `json:"message"`
	Rating  int    `json:"rating,omitempty"`
}

// SendFeedback submits free-form feedback about the conversation. Rating is
// optional; zero means unrated.
func (c *AnswerClient) SendFeedback(ctx context.Context, message string, rating int) error {
	if err := c.creds.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(feedbackRequest{Message: message, Rating: rating})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/feedback/", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	defer resp.Body.Close()

	body, status, err := readBody(resp)
	if err != nil {
		return err
	}
	if status != 200 && status != 201 && status != 204 {
		return &ServerError{StatusCode: status, Body: string(body)}
	}
	return nil
}

func readBody(resp *http.Response) ([]byte, int, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}
