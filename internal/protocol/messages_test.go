package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseServerEventAudioDelta(t *testing.T) {
	raw := []byte(`{"type":"response.audio.delta","response_id":"resp_1","delta":"AAAA"}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Type != TypeAudioDelta {
		t.Fatalf("Type = %q, want %q", evt.Type, TypeAudioDelta)
	}
	if evt.ResponseID != "resp_1" {
		t.Fatalf("ResponseID = %q, want %q", evt.ResponseID, "resp_1")
	}
	if evt.Delta != "AAAA" {
		t.Fatalf("Delta = %q, want %q", evt.Delta, "AAAA")
	}
}

func TestParseServerEventRejectsDeltaWithoutResponseID(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{"type":"response.audio.delta","delta":"AAAA"}`)); err == nil {
		t.Fatalf("ParseServerEvent() error = nil, want error")
	}
}

func TestParseServerEventUnsupportedType(t *testing.T) {
	_, err := ParseServerEvent([]byte(`{"type":"rate_limits.updated"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerEventErrorWithoutDetail(t *testing.T) {
	evt, err := ParseServerEvent([]byte(`{"type":"error"}`))
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Error == nil || evt.Error.Code != "unknown" {
		t.Fatalf("Error = %+v, want code %q", evt.Error, "unknown")
	}
}

func TestParseServerEventInvalidJSON(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{`)); err == nil {
		t.Fatalf("ParseServerEvent() error = nil, want error")
	}
}

func TestSessionUpdateMarshalsTurnDetection(t *testing.T) {
	msg := SessionUpdate{
		Type: TypeSessionUpdate,
		Session: SessionConfig{
			Instructions:      TranslatorInstructions("English", "Spanish"),
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
			TurnDetection:     DefaultTurnDetection(),
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"session.update"`, `"server_vad"`, `"pcm16"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("marshaled session.update missing %s: %s", want, s)
		}
	}
}

func TestTranslatorInstructionsSubstitutesLanguages(t *testing.T) {
	pairs := [][2]string{
		{"English", "Spanish"},
		{"German", "Japanese"},
		{"French", "Portuguese"},
		{"Italian", "Korean"},
	}
	for _, pair := range pairs {
		got := TranslatorInstructions(pair[0], pair[1])
		if !strings.Contains(got, pair[0]) {
			t.Fatalf("instructions for %v missing %q", pair, pair[0])
		}
		if !strings.Contains(got, pair[1]) {
			t.Fatalf("instructions for %v missing %q", pair, pair[1])
		}
		if strings.Contains(got, "{{LANG_A}}") || strings.Contains(got, "{{LANG_B}}") {
			t.Fatalf("instructions for %v contain unrendered placeholder:\n%s", pair, got)
		}
	}
}

func TestTranslatorInstructionsForbidsNonTranslation(t *testing.T) {
	got := strings.ToLower(TranslatorInstructions("English", "Spanish"))
	for _, want := range []string{"never answer", "never correct", "translate"} {
		if !strings.Contains(got, want) {
			t.Fatalf("instructions missing %q clause", want)
		}
	}
}
