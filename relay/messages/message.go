package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageSize is the largest frame either side accepts. Audio replies are the biggest messages on the wire.
const MaxMessageSize = 4 << 20

type Type string

const (
	TypeAuth       Type = "auth"
	TypeAuthResult Type = "auth_result"
	TypeQuery      Type = "query"
	TypeResponse   Type = "response"
	TypeAIRequest  Type = "ai_request"
	TypeAIResponse Type = "ai_response"
	TypeSpeak      Type = "speak"
	TypeAudio      Type = "audio"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
	TypeError      Type = "error"
)

var (
	ErrMissingType  = errors.New("message type is missing")
	ErrEmptyPayload = errors.New("message payload is empty")
)

// Message is the envelope exchanged in both directions. The type determines the payload shape.
type Message struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type AuthResultPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type QueryPayload struct {
	Text string `json:"text"`
}

type ResponsePayload struct {
	Text string `json:"text"`
}

type AIRequestPayload struct {
	Question string `json:"question"`
	Type     string `json:"type"`
}

type AIResponsePayload struct {
	Content string `json:"content"`
}

type SpeakPayload struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// AudioPayload carries synthesized speech. Data is base64 encoded on the wire.
type AudioPayload struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds an envelope. A nil payload produces a message without the payload field, as used by ping and pong.
func NewMessage(msgType Type, payload any, requestID string) (Message, error) {
	if msgType == "" {
		return Message{}, ErrMissingType
	}

	msg := Message{
		Type:      msgType,
		RequestID: requestID,
	}
	if payload == nil {
		return msg, nil
	}

	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
	}
	msg.Payload = raw
	return msg, nil
}

// Marshal encodes a message into a single text frame
func Marshal(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(msg)
}

// MarshalNew is a shortcut for NewMessage followed by Marshal
func MarshalNew(msgType Type, payload any, requestID string) ([]byte, error) {
	msg, err := NewMessage(msgType, payload, requestID)
	if err != nil {
		return nil, err
	}
	return Marshal(msg)
}

// Unmarshal decodes a frame. The payload is kept raw, use DecodePayload to read it.
func Unmarshal(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// DecodePayload unmarshals the payload into v
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return fmt.Errorf("%s: %w", m.Type, ErrEmptyPayload)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

func (m Message) String() string {
	if m.RequestID == "" {
		return string(m.Type)
	}
	return fmt.Sprintf("%s (%s)", m.Type, m.RequestID)
}
