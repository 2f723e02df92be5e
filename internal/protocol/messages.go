package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Fixed audio contract for both directions of the wire: 16-bit linear PCM,
// mono, little-endian, 24kHz. This is not configurable per session.
const (
	AudioFormatPCM16 = "pcm16"
	SampleRate       = 24000
	Channels         = 1
	BytesPerSample   = 2
)

// Client event types (sent to the endpoint).
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeResponseCancel   = "response.cancel"
)

// Server event types (received from the endpoint).
const (
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeSpeechStarted  = "input_audio_buffer.speech_started"
	TypeSpeechStopped  = "input_audio_buffer.speech_stopped"
	TypeAudioDelta     = "response.audio.delta"
	TypeResponseDone   = "response.done"
	TypeError          = "error"
)

var ErrUnsupportedType = errors.New("unsupported event type")

// TurnDetection configures server-side voice activity segmentation.
// The client streams continuously; the server decides turn boundaries.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the payload of a session.update event.
type SessionConfig struct {
	Instructions      string         `json:"instructions"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *TurnDetection `json:"turn_detection"`
}

// DefaultTurnDetection is the server-automatic turn detection declared in
// every session configuration.
func DefaultTurnDetection() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// SessionUpdate is the outbound configuration-update message.
type SessionUpdate struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// InputAudioAppend carries one base64-encoded PCM16 frame.
type InputAudioAppend struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

// InputAudioCommit marks the end of an utterance when server-side turn
// detection is disabled. Unused under server_vad but part of the contract.
type InputAudioCommit struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// ResponseCancel requests cancellation of an in-flight response (barge-in).
type ResponseCancel struct {
	EventID    string `json:"event_id,omitempty"`
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
}

// ServerEvent is the decoded form of one inbound wire message.
type ServerEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`

	// Session echoes the accepted configuration on session.created/updated.
	Session *SessionConfig `json:"session,omitempty"`

	// Delta is the base64-encoded PCM16 fragment on response.audio.delta.
	Delta string `json:"delta,omitempty"`

	// Error details on error events.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a rejected or malformed exchange.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseServerEvent decodes one inbound wire message into a ServerEvent.
// Unknown types are rejected with ErrUnsupportedType so callers can count
// and skip them without stalling the stream.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid server event: %w", err)
	}
	switch evt.Type {
	case TypeSessionCreated, TypeSessionUpdated, TypeSpeechStarted, TypeSpeechStopped:
		return evt, nil
	case TypeAudioDelta:
		if evt.ResponseID == "" || evt.Delta == "" {
			return ServerEvent{}, errors.New("invalid response.audio.delta")
		}
		return evt, nil
	case TypeResponseDone:
		if evt.ResponseID == "" {
			return ServerEvent{}, errors.New("invalid response.done")
		}
		return evt, nil
	case TypeError:
		if evt.Error == nil {
			evt.Error = &ErrorDetail{Code: "unknown"}
		}
		return evt, nil
	default:
		return ServerEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedType, evt.Type)
	}
}
