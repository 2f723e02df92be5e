package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tolkapp/tolk/internal/protocol"
)

// ErrNotConnected is returned by send methods once the connection handle is
// closed. Transport failures themselves never surface through sends; they
// arrive as a KindConnectionClosed event instead.
var ErrNotConnected = errors.New("realtime: not connected")

// Kind identifies the typed events a connection surfaces.
type Kind string

const (
	KindSessionAck       Kind = "session_ack"
	KindSpeechStarted    Kind = "speech_started"
	KindSpeechStopped    Kind = "speech_stopped"
	KindAudioDelta       Kind = "audio_delta"
	KindResponseDone     Kind = "response_done"
	KindProtocolError    Kind = "protocol_error"
	KindConnectionClosed Kind = "connection_closed"
)

// Event is one inbound occurrence on a connection, delivered in strict
// arrival order on the Events channel.
type Event struct {
	Kind       Kind
	ResponseID string
	Audio      []byte // decoded PCM16 fragment for KindAudioDelta
	Err        *protocol.ErrorDetail
	CloseErr   error // transport error for KindConnectionClosed
}

// CredentialProvider supplies the opaque bearer credential attached once at
// connection-open time. The connection never retains or logs the token.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialProvider holding a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", errors.New("realtime: empty credential")
	}
	return string(t), nil
}

// Config holds connection parameters for the hosted translation endpoint.
type Config struct {
	URL   string
	Model string
}

// Dialer opens connection handles. One Dialer is shared across reconnect
// attempts; each attempt gets a fresh Conn.
type Dialer struct {
	cfg   Config
	creds CredentialProvider
}

func NewDialer(cfg Config, creds CredentialProvider) *Dialer {
	return &Dialer{cfg: cfg, creds: creds}
}

// Dial opens a websocket to the endpoint and returns a live connection
// handle with its read loop running.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	token, err := d.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("realtime: credential: %w", err)
	}

	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: endpoint url: %w", err)
	}
	if d.cfg.Model != "" {
		q := u.Query()
		q.Set("model", d.cfg.Model)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}
	return newConn(ws), nil
}

// wireConn is the slice of *websocket.Conn the handle needs; tests swap in
// an in-process pipe.
type wireConn interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Conn is one connection handle. Its lifetime is bounded by one attempt:
// once closed it stays closed, and a reconnect gets a new handle.
type Conn struct {
	ws        wireConn
	events    chan Event
	done      chan struct{}
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(ws wireConn) *Conn {
	c := &Conn{
		ws:     ws,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events delivers inbound events in strict arrival order. The channel is
// closed after a KindConnectionClosed event once the handle is dead.
func (c *Conn) Events() <-chan Event { return c.events }

// UpdateSession sends the session-configuration message.
func (c *Conn) UpdateSession(cfg protocol.SessionConfig) error {
	return c.send(protocol.SessionUpdate{
		EventID: eventID(),
		Type:    protocol.TypeSessionUpdate,
		Session: cfg,
	})
}

// AppendAudio sends one PCM16 frame, transport-encoded as base64.
func (c *Conn) AppendAudio(pcm []byte) error {
	return c.send(protocol.InputAudioAppend{
		EventID: eventID(),
		Type:    protocol.TypeInputAudioAppend,
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio marks the end of an utterance under manual turn detection.
func (c *Conn) CommitAudio() error {
	return c.send(protocol.InputAudioCommit{
		EventID: eventID(),
		Type:    protocol.TypeInputAudioCommit,
	})
}

// CancelResponse requests barge-in cancellation of an in-flight response.
func (c *Conn) CancelResponse(responseID string) error {
	return c.send(protocol.ResponseCancel{
		EventID:    eventID(),
		Type:       protocol.TypeResponseCancel,
		ResponseID: responseID,
	})
}

// Close tears down the handle. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) send(msg any) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		// A broken transport is reported by the read loop as a
		// connection-closed event, never as a send failure.
		c.closed.Store(true)
		_ = c.ws.Close()
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.closed.Store(true)
			c.emit(Event{Kind: KindConnectionClosed, CloseErr: err})
			return
		}

		evt, perr := protocol.ParseServerEvent(raw)
		if perr != nil {
			// Malformed or unknown events are surfaced and skipped;
			// the stream itself stays up.
			c.emit(Event{Kind: KindProtocolError, Err: &protocol.ErrorDetail{
				Code:    "malformed_event",
				Message: perr.Error(),
			}})
			continue
		}

		switch evt.Type {
		case protocol.TypeSessionCreated, protocol.TypeSessionUpdated:
			c.emit(Event{Kind: KindSessionAck})
		case protocol.TypeSpeechStarted:
			c.emit(Event{Kind: KindSpeechStarted})
		case protocol.TypeSpeechStopped:
			c.emit(Event{Kind: KindSpeechStopped})
		case protocol.TypeAudioDelta:
			audio, err := base64.StdEncoding.DecodeString(evt.Delta)
			if err != nil {
				c.emit(Event{Kind: KindProtocolError, Err: &protocol.ErrorDetail{
					Code:    "invalid_audio_payload",
					Message: err.Error(),
				}})
				continue
			}
			c.emit(Event{Kind: KindAudioDelta, ResponseID: evt.ResponseID, Audio: audio})
		case protocol.TypeResponseDone:
			c.emit(Event{Kind: KindResponseDone, ResponseID: evt.ResponseID})
		case protocol.TypeError:
			c.emit(Event{Kind: KindProtocolError, Err: evt.Error})
		}
	}
}

func (c *Conn) emit(evt Event) {
	select {
	case c.events <- evt:
	case <-c.done:
	}
}

func eventID() string {
	return "evt_" + uuid.NewString()[:12]
}
