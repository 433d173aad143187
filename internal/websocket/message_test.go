package websocket

import (
	"encoding/json"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(TypeApplyStyle, ApplyStylePayload{
		ElementID: "domstyle-r1",
		CSS:       ".ribbon { display: none; }",
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeApplyStyle {
		t.Errorf("expected type %s, got %s", TypeApplyStyle, decoded.Type)
	}

	var payload ApplyStylePayload
	if err := decoded.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if payload.ElementID != "domstyle-r1" {
		t.Errorf("expected element id to survive, got %s", payload.ElementID)
	}
}

func TestUnmarshalPayload_Empty(t *testing.T) {
	msg, err := NewMessage(TypePing, nil)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	var payload MutationPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		t.Errorf("empty payload must unmarshal as no-op, got %v", err)
	}
}

func TestIsResult(t *testing.T) {
	results := []MessageType{TypeReadyResult, TypeMatchResult, TypeURLResult, TypeScriptResult}
	for _, mt := range results {
		if !isResult(mt) {
			t.Errorf("expected %s to be a result type", mt)
		}
	}

	others := []MessageType{TypeRegister, TypeMutation, TypeApplyStyle, TypeRulesUpdated, TypePing}
	for _, mt := range others {
		if isResult(mt) {
			t.Errorf("expected %s not to be a result type", mt)
		}
	}
}
