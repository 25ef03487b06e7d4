// Package events publishes session results and live partial transcripts to
// NATS so other processes (text injectors, dashboards) can consume them.
//
// Results go to the configured subject, partials to "<subject>.partial" and
// phase changes to "<subject>.phase". Publishing is fire-and-forget: NATS
// buffers while reconnecting and failures are logged by the caller.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/voxpipe/pkg/voice"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "voxpipe.results"

// ResultEvent is the wire form of a [voice.Result]. Durations are in
// milliseconds.
type ResultEvent struct {
	SessionID      string `json:"session_id"`
	Text           string `json:"text"`
	RawText        string `json:"raw_text,omitempty"`
	Language       string `json:"language,omitempty"`
	Provider       string `json:"provider"`
	SpeechDetected bool   `json:"speech_detected"`
	STTMs          int64  `json:"stt_ms"`
	LLMMs          *int64 `json:"llm_ms,omitempty"`
	TotalMs        int64  `json:"total_ms"`
}

// NewResultEvent converts res to its wire form.
func NewResultEvent(res voice.Result) ResultEvent {
	ev := ResultEvent{
		SessionID:      res.SessionID,
		Text:           res.Text,
		RawText:        res.RawText,
		Language:       res.Language,
		Provider:       res.Provider,
		SpeechDetected: res.SpeechDetected,
		STTMs:          res.Metrics.STT.Milliseconds(),
		TotalMs:        res.Metrics.Total.Milliseconds(),
	}
	if res.Metrics.LLM != nil {
		ms := res.Metrics.LLM.Milliseconds()
		ev.LLMMs = &ms
	}
	return ev
}

// PartialEvent is a live partial transcript.
type PartialEvent struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// PhaseEvent reports a session state change.
type PhaseEvent struct {
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	At        time.Time `json:"at"`
}

// Publisher publishes pipeline events on a NATS connection.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	ownsConn bool
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, subject string, opts ...nats.Option) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("events: nats url must not be empty")
	}
	opts = append([]nats.Option{
		nats.Name("voxpipe"),
		nats.Timeout(5 * time.Second),
	}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	p := New(conn, subject)
	p.ownsConn = true
	return p, nil
}

// New returns a Publisher on an existing connection. An empty subject uses
// [DefaultSubject].
func New(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Subject returns the result subject.
func (p *Publisher) Subject() string { return p.subject }

// Deliver publishes res. It satisfies the session result consumer contract.
func (p *Publisher) Deliver(_ context.Context, res voice.Result) error {
	return p.publish(p.subject, NewResultEvent(res))
}

// Partial publishes a live partial transcript.
func (p *Publisher) Partial(sessionID, text string) error {
	return p.publish(p.subject+".partial", PartialEvent{SessionID: sessionID, Text: text})
}

// Phase publishes a session state change.
func (p *Publisher) Phase(sessionID string, phase voice.Phase) error {
	return p.publish(p.subject+".phase", PhaseEvent{SessionID: sessionID, Phase: phase.String(), At: time.Now().UTC()})
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and, when the Publisher owns the
// connection, closes it.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	if !p.ownsConn {
		return p.conn.Flush()
	}
	return p.conn.Drain()
}
