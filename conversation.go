package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"insight/beep"
	"insight/client"
	"insight/log"
	"insight/speech"
)

type Sender int

const (
	SenderUser Sender = iota
	SenderAssistant
)

// Message is one entry in the rendered transcript. The list is
// append-only; entries are never mutated in place.
type Message struct {
	Sender  Sender
	Text    string
	IsError bool
}

const askTimeout = 30 * time.Second

// Controller routes typed and voice input to the answer service and
// answers back to the transcript or the speech player.
type Controller struct {
	answers *client.AnswerClient
	player  *speech.Player
	sink    EventSink

	// voiceTranscript records voice exchanges as transcript bubbles
	// instead of keeping them speech-only.
	voiceTranscript bool

	mu          sync.Mutex
	messages    []Message
	lastAnswer  string
	exchanges   int
	live        *client.LiveChannel
	livePending bool
}

func NewController(answers *client.AnswerClient, player *speech.Player, sink EventSink, voiceTranscript bool) *Controller {
	return &Controller{
		answers:         answers,
		player:          player,
		sink:            sink,
		voiceTranscript: voiceTranscript,
	}
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) ExchangeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges
}

func (c *Controller) append(msgs ...Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	c.mu.Unlock()
	c.sink.TranscriptChanged(out)
}

// SubmitTyped handles a submission from the input line. In live mode
// the text goes to the human agent; otherwise it is a question for the
// bot. The answer is always rendered, never spoken.
func (c *Controller) SubmitTyped(text string) {
	if text == "" {
		return
	}

	c.mu.Lock()
	live := c.live
	c.mu.Unlock()

	c.append(Message{Sender: SenderUser, Text: text})

	if live != nil {
		if err := live.Send(text); err != nil {
			log.Errorf("live send error: %v", err)
			c.append(Message{Sender: SenderAssistant, Text: "Message could not be delivered.", IsError: true})
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		answer, err := c.answers.Ask(ctx, text)
		if err != nil {
			log.Errorf("answer error: %v", err)
			c.append(Message{Sender: SenderAssistant, Text: askErrorText(err), IsError: true})
			return
		}
		c.recordExchange("typed", text, answer)
		c.append(Message{Sender: SenderAssistant, Text: answer})
	}()
}

// SubmitVoice handles a transcribed utterance in conversation mode.
// The answer is spoken; it only appears in the transcript when the
// voice-transcript policy is on. Called from the transcription
// goroutine, so the QA round trip runs inline.
func (c *Controller) SubmitVoice(question string) {
	if question == "" {
		return
	}
	if c.voiceTranscript {
		c.append(Message{Sender: SenderUser, Text: question})
	}

	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()
	answer, err := c.answers.Ask(ctx, question)
	if err != nil {
		log.Errorf("voice answer error: %v", err)
		c.sink.Notice("Could not reach the answer service.", true)
		beep.PlayError()
		return
	}
	c.recordExchange("voice", question, answer)
	if c.voiceTranscript {
		c.append(Message{Sender: SenderAssistant, Text: answer})
	}
	if c.player != nil {
		c.player.Speak(answer)
		c.sink.VoiceState("speaking")
	}
}

// SubmitDictation routes transcribed text into the editable input
// field. The user submits it explicitly; nothing is auto-sent.
func (c *Controller) SubmitDictation(text string) {
	if text == "" {
		return
	}
	c.sink.Dictation(text)
}

func (c *Controller) recordExchange(source, question, answer string) {
	c.mu.Lock()
	c.lastAnswer = answer
	c.exchanges++
	c.mu.Unlock()
	log.Exchange(source, question, answer)
}

// SendFeedback posts user feedback about the last answer.
func (c *Controller) SendFeedback(text string) {
	c.mu.Lock()
	last := c.lastAnswer
	c.mu.Unlock()

	message := text
	if last != "" {
		message = fmt.Sprintf("%s (re: %q)", text, last)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		if err := c.answers.SendFeedback(ctx, message, 0); err != nil {
			log.Errorf("feedback error: %v", err)
			c.sink.Notice("Feedback could not be sent.", true)
			return
		}
		c.sink.Notice("Feedback sent. Thank you!", false)
	}()
}

// StartLive hands the conversation over to a human agent. Incoming
// relay messages are appended to the transcript until StopLive.
func (c *Controller) StartLive() {
	c.mu.Lock()
	if c.live != nil || c.livePending {
		c.mu.Unlock()
		return
	}
	// Holds off a second :human while the handoff request is in flight.
	c.livePending = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.livePending = false
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		sess, err := c.answers.RequestLive(ctx)
		if err != nil {
			log.Errorf("live request error: %v", err)
			c.sink.Notice("No agent is available right now.", true)
			return
		}
		ch, err := c.answers.OpenLive(ctx, sess)
		if err != nil {
			log.Errorf("live connect error: %v", err)
			c.sink.Notice("Could not connect to an agent.", true)
			return
		}

		c.mu.Lock()
		c.live = ch
		c.mu.Unlock()
		log.Info("live_start: " + sess.ConversationID)
		c.sink.LiveMode(true)
		c.append(Message{Sender: SenderAssistant, Text: "You are now talking to a human agent."})

		for msg := range ch.Messages() {
			if msg.SenderType == "visitor" {
				continue
			}
			c.append(Message{Sender: SenderAssistant, Text: msg.Message})
		}

		c.mu.Lock()
		if c.live == ch {
			c.live = nil
		}
		c.mu.Unlock()
		log.Info("live_end")
		c.sink.LiveMode(false)
	}()
}

// StopLive leaves live mode and returns the conversation to the bot.
func (c *Controller) StopLive() {
	c.mu.Lock()
	ch := c.live
	c.live = nil
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (c *Controller) InLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}

func askErrorText(err error) string {
	var serr *client.ServerError
	if errors.As(err, &serr) {
		return fmt.Sprintf("The answer service returned an error (HTTP %d). Please try again.", serr.StatusCode)
	}
	return "Could not reach the answer service. Please check your connection and try again."
}
