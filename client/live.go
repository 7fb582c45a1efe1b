package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// LiveSession is the backend's grant for a human handoff: a conversation to
// join and a short-lived credential scoped to it.
type LiveSession struct {
	ConversationID string `json:"conversation_id"`
	Token          string `json:"token"`
}

// RequestLive asks the backend to page a human agent.
func (c *AnswerClient) RequestLive(ctx context.Context) (*LiveSession, error) {
	if err := c.creds.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/live/request", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live request: %w", err)
	}
	defer resp.Body.Close()

	body, status, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &ServerError{StatusCode: status, Body: string(body)}
	}

	var session LiveSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("live response parse error: %w", err)
	}
	if session.ConversationID == "" || session.Token == "" {
		return nil, fmt.Errorf("live response missing conversation or token")
	}
	return &session, nil
}

// LiveMessage is one frame on the live channel.
type LiveMessage struct {
	SenderType string `json:"sender_type"` // "visitor" or "agent"
	Message    string `json:"message"`
}

// LiveChannel is an open websocket to a human agent.
type LiveChannel struct {
	conn     *websocket.Conn
	incoming chan LiveMessage

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// OpenLive connects the websocket for a granted live session.
func (c *AnswerClient) OpenLive(ctx context.Context, session *LiveSession) (*LiveChannel, error) {
	wsURL := httpToWS(c.baseURL) + "/live/" + session.ConversationID

	header := http.Header{}
	header.Set("Authorization", "Bearer "+session.Token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("live dial: %w", err)
	}

	ch := &LiveChannel{
		conn:     conn,
		incoming: make(chan LiveMessage, 16),
		closed:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (ch *LiveChannel) readLoop() {
	defer close(ch.incoming)
	for {
		var msg LiveMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			ch.Close()
			return
		}
		select {
		case ch.incoming <- msg:
		case <-ch.closed:
			return
		}
	}
}

// Send delivers visitor text to the agent.
func (ch *LiveChannel) Send(text string) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	select {
	case <-ch.closed:
		return fmt.Errorf("live channel closed")
	default:
	}
	return ch.conn.WriteJSON(LiveMessage{SenderType: "visitor", Message: text})
}

// Messages yields agent frames until the channel closes.
func (ch *LiveChannel) Messages() <-chan LiveMessage {
	return ch.incoming
}

// Close tears the websocket down. Safe to call more than once.
func (ch *LiveChannel) Close() {
	ch.closeOnce.Do(func() {
		close(ch.closed)
		ch.conn.Close()
	})
}
