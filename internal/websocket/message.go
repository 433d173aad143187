package websocket

import (
	"encoding/json"
	"time"

	"domstyle-sync-server/internal/domain"
)

type MessageType string

const (
	// Client -> server.
	TypeRegister     MessageType = "register"
	TypeMutation     MessageType = "mutation"
	TypeNavigation   MessageType = "navigation"
	TypeReadyResult  MessageType = "content_ready_result"
	TypeMatchResult  MessageType = "match_result"
	TypeURLResult    MessageType = "url_result"
	TypeScriptResult MessageType = "script_result"

	// Server -> client.
	TypeQueryReady   MessageType = "query_content_ready"
	TypeMatchRequest MessageType = "match_request"
	TypeURLRequest   MessageType = "url_request"
	TypeApplyStyle   MessageType = "apply_style"
	TypeRemoveStyle  MessageType = "remove_style"
	TypeRunScript    MessageType = "run_script"
	TypeRulesUpdated MessageType = "rules_updated"

	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the wire envelope. RequestID correlates a server query with the
// client's result message; command and event messages leave it empty.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type RegisterPayload struct {
	Page domain.PageContext `json:"page"`
}

type MutationPayload struct {
	AddedNodes int `json:"added_nodes"`
	TextLength int `json:"text_length"`
}

type NavigationPayload struct {
	URL string `json:"url"`
}

type ReadyResultPayload struct {
	Ready bool `json:"ready"`
}

type MatchRequestPayload struct {
	Selector string `json:"selector"`
}

type MatchResultPayload struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type URLResultPayload struct {
	URL string `json:"url"`
}

type ScriptResultPayload struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error,omitempty"`
}

type ApplyStylePayload struct {
	ElementID string `json:"element_id"`
	CSS       string `json:"css"`
}

type RemoveStylePayload struct {
	ElementID string `json:"element_id"`
}

type RunScriptPayload struct {
	RuleID string `json:"rule_id"`
	Source string `json:"source"`
}

type RulesUpdatedPayload struct {
	Backend   string `json:"backend,omitempty"`
	Direction string `json:"direction,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

func isResult(t MessageType) bool {
	switch t {
	case TypeReadyResult, TypeMatchResult, TypeURLResult, TypeScriptResult:
		return true
	}
	return false
}
