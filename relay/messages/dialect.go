package messages

import "fmt"

const educationalQuestionType = "educational"

// Dialect describes how a question travels to the relay and how the answer comes back. QueryDialect is the canonical
// contract, AIRequestDialect is spoken by older relay deployments.
type Dialect interface {
	// Name identifies the dialect in logs and configuration
	Name() string
	// EncodeQuestion builds the request message for a question
	EncodeQuestion(text, requestID string) (Message, error)
	// IsAnswer reports whether the message type carries an answer in this dialect
	IsAnswer(msgType Type) bool
	// DecodeAnswer extracts the answer text
	DecodeAnswer(msg Message) (string, error)
	// DecodeQuestion is the server side counterpart of EncodeQuestion
	DecodeQuestion(msg Message) (string, error)
	// EncodeAnswer is the server side counterpart of DecodeAnswer
	EncodeAnswer(text, requestID string) (Message, error)
}

var (
	QueryDialect     Dialect = queryDialect{}
	AIRequestDialect Dialect = aiRequestDialect{}
)

// DialectByName resolves a dialect from configuration
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "", QueryDialect.Name():
		return QueryDialect, nil
	case AIRequestDialect.Name():
		return AIRequestDialect, nil
	default:
		return nil, fmt.Errorf("unknown relay dialect %q", name)
	}
}

// DialectForQuestion returns the dialect that owns the given request type
func DialectForQuestion(msgType Type) (Dialect, bool) {
	switch msgType {
	case TypeQuery:
		return QueryDialect, true
	case TypeAIRequest:
		return AIRequestDialect, true
	default:
		return nil, false
	}
}

type queryDialect struct{}

func (queryDialect) Name() string {
	return "query"
}

func (queryDialect) EncodeQuestion(text, requestID string) (Message, error) {
	return NewMessage(TypeQuery, QueryPayload{Text: text}, requestID)
}

func (queryDialect) IsAnswer(msgType Type) bool {
	return msgType == TypeResponse
}

func (queryDialect) DecodeAnswer(msg Message) (string, error) {
	var p ResponsePayload
	if err := msg.DecodePayload(&p); err != nil {
		return "", err
	}
	return p.Text, nil
}

func (queryDialect) DecodeQuestion(msg Message) (string, error) {
	var p QueryPayload
	if err := msg.DecodePayload(&p); err != nil {
		return "", err
	}
	return p.Text, nil
}

func (queryDialect) EncodeAnswer(text, requestID string) (Message, error) {
	return NewMessage(TypeResponse, ResponsePayload{Text: text}, requestID)
}

type aiRequestDialect struct{}

func (aiRequestDialect) Name() string {
	return "ai_request"
}

func (aiRequestDialect) EncodeQuestion(text, requestID string) (Message, error) {
	return NewMessage(TypeAIRequest, AIRequestPayload{Question: text, Type: educationalQuestionType}, requestID)
}

func (aiRequestDialect) IsAnswer(msgType Type) bool {
	return msgType == TypeAIResponse
}

func (aiRequestDialect) DecodeAnswer(msg Message) (string, error) {
	var p AIResponsePayload
	if err := msg.DecodePayload(&p); err != nil {
		return "", err
	}
	return p.Content, nil
}

func (aiRequestDialect) DecodeQuestion(msg Message) (string, error) {
	var p AIRequestPayload
	if err := msg.DecodePayload(&p); err != nil {
		return "", err
	}
	return p.Question, nil
}

func (aiRequestDialect) EncodeAnswer(text, requestID string) (Message, error) {
	return NewMessage(TypeAIResponse, AIResponsePayload{Content: text}, requestID)
}
