package client

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("relay connection is not established")
	ErrNotAuthenticated  = errors.New("relay session is not authenticated")
	ErrRequestInProgress = errors.New("request in progress, cannot send new request")
	ErrRequestTimeout    = errors.New("relay request timed out")
	ErrDisconnected      = errors.New("relay client disconnected")
	ErrHeartbeatTimeout  = errors.New("relay did not answer heartbeat")
	ErrEmptyToken        = errors.New("authentication token is empty")
)

// ServerError is a fault reported by the relay with an error message
type ServerError struct {
	RequestID string
	Message   string
}

func (e *ServerError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("relay error: %s", e.Message)
	}
	return fmt.Sprintf("relay error for request %s: %s", e.RequestID, e.Message)
}

// UnexpectedReplyError is returned when a correlated request is answered with a message of the wrong type
type UnexpectedReplyError struct {
	RequestID string
	Type      string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply %s to request %s", e.Type, e.RequestID)
}
